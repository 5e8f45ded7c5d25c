// Package manifest handles pyaot.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/target"
)

// FileName is the name of the configuration file.
const FileName = "pyaot.toml"

// Output formats.
const (
	FormatDisasm = "disasm"
	FormatGo     = "go"
	FormatCBOR   = "cbor"
)

var formats = []string{FormatDisasm, FormatGo, FormatCBOR}

// Manifest represents a pyaot.toml project configuration.
type Manifest struct {
	Project Project           `toml:"project"`
	Source  Source            `toml:"source"`
	Compile Compile           `toml:"compile"`
	Output  Output            `toml:"output"`
	Cache   CacheConfig       `toml:"cache"`
	Log     Log               `toml:"log"`
	Globals map[string]string `toml:"globals"` // Pinned global types, name -> type

	// Dir is the directory containing the pyaot.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Source configures where function records are read from.
type Source struct {
	Dirs      []string `toml:"dirs"`
	Extension string   `toml:"extension"`
}

// Compile configures the translator.
type Compile struct {
	Version    string   `toml:"version"`    // Language version of records without one
	Interface  string   `toml:"interface"`  // Interface name of function units; "" for the default
	Signatures []string `toml:"signatures"` // Signature tables (YAML)
	Workers    int      `toml:"workers"`
}

// Output configures what is written for each compiled record.
type Output struct {
	Format  string `toml:"format"`
	Dir     string `toml:"dir"`
	Package string `toml:"package"` // Go package of generated source
}

// CacheConfig configures the compiled-unit cache.
type CacheConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no pyaot.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a pyaot.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	if m.Source.Extension == "" {
		m.Source.Extension = ".rec"
	}
	if !strings.HasPrefix(m.Source.Extension, ".") {
		m.Source.Extension = "." + m.Source.Extension
	}
	if m.Compile.Version == "" {
		m.Compile.Version = bytecode.MaxVersion.String()
	}
	if m.Compile.Workers <= 0 {
		m.Compile.Workers = 4
	}
	if m.Output.Format == "" {
		m.Output.Format = FormatDisasm
	}
	if m.Output.Dir == "" {
		m.Output.Dir = "build"
	}
	if m.Output.Package == "" {
		m.Output.Package = GoPackageName(m.Project.Name)
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".pyaot", "cache.db")
	}
}

// Validate checks values that defaults cannot repair.
func (m *Manifest) Validate() error {
	if _, err := bytecode.ParseVersion(m.Compile.Version); err != nil {
		return fmt.Errorf("compile.version: %w", err)
	}
	if !slices.Contains(formats, m.Output.Format) {
		return fmt.Errorf("output.format %q: want one of %s", m.Output.Format, strings.Join(formats, ", "))
	}
	if !IsGoPackageName(m.Output.Package) {
		return fmt.Errorf("output.package %q is not a Go package name", m.Output.Package)
	}
	for name, t := range m.Globals {
		if t == "" {
			return fmt.Errorf("globals.%s has no type", name)
		}
	}
	return nil
}

// FindAndLoad walks up from startDir to find a pyaot.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Path resolves p against the manifest directory.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.Path(d))
	}
	return paths
}

// SignaturePaths returns absolute paths of the signature tables.
func (m *Manifest) SignaturePaths() []string {
	var paths []string
	for _, s := range m.Compile.Signatures {
		paths = append(paths, m.Path(s))
	}
	return paths
}

// CachePath returns the cache database path, or "" when caching is off.
func (m *Manifest) CachePath() string {
	if m.Cache.Disabled {
		return ""
	}
	return m.Path(m.Cache.Path)
}

// OutputDir returns the absolute output directory.
func (m *Manifest) OutputDir() string {
	return m.Path(m.Output.Dir)
}

// Interface returns the contract a function unit of the given arity
// implements.
func (m *Manifest) Interface(arity int) target.Interface {
	iface := target.FunctionInterface(arity)
	if m.Compile.Interface != "" {
		iface.Name = m.Compile.Interface
	}
	return iface
}

// Extension returns the file extension written for the output format.
func (m *Manifest) Extension() string {
	switch m.Output.Format {
	case FormatGo:
		return ".go"
	case FormatCBOR:
		return ".unit"
	default:
		return ".txt"
	}
}
