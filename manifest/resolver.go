package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Input is one record file and where its output goes.
type Input struct {
	Path   string // Record file
	Rel    string // Path relative to its source directory
	Output string // Output file
}

// Resolver finds the record files of a project.
type Resolver struct {
	manifest *Manifest
}

// NewResolver creates a resolver for m.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve walks the source directories and returns every record file in
// sorted order. Two records that would write the same output are rejected.
func (r *Resolver) Resolve() ([]Input, error) {
	var inputs []Input
	outputs := make(map[string]string)
	for _, dir := range r.manifest.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != r.manifest.Source.Extension {
				return nil
			}
			in, err := r.input(dir, path)
			if err != nil {
				return err
			}
			if prev, ok := outputs[in.Output]; ok {
				return fmt.Errorf("%s and %s both write %s", prev, path, in.Output)
			}
			outputs[in.Output] = path
			inputs = append(inputs, in)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	slices.SortFunc(inputs, func(a, b Input) int { return strings.Compare(a.Path, b.Path) })
	return inputs, nil
}

// ResolveFiles turns explicit paths into inputs. Directories are scanned
// like source directories.
func (r *Resolver) ResolveFiles(paths []string) ([]Input, error) {
	var inputs []Input
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve path %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			sub := &Resolver{manifest: r.withSources(abs)}
			found, err := sub.Resolve()
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, found...)
			continue
		}
		in, err := r.input(filepath.Dir(abs), abs)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (r *Resolver) withSources(dir string) *Manifest {
	m := *r.manifest
	m.Source.Dirs = []string{dir}
	return &m
}

func (r *Resolver) input(dir, path string) (Input, error) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return Input{}, err
	}
	base := strings.TrimSuffix(rel, filepath.Ext(rel))
	return Input{
		Path:   path,
		Rel:    rel,
		Output: filepath.Join(r.manifest.OutputDir(), base+r.manifest.Extension()),
	}, nil
}
