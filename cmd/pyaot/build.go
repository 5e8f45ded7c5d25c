package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/pyaot/compiler"
	"github.com/chazu/pyaot/compiler/hash"
	"github.com/chazu/pyaot/manifest"
	"github.com/chazu/pyaot/pkg/cache"
	"github.com/chazu/pyaot/pkg/target"
)

// builder compiles a batch of records and writes one output per record.
type builder struct {
	manifest *manifest.Manifest
	compiler *compiler.Compiler
	cache    *cache.Cache // nil when caching is off
	progress bool
}

type buildStats struct {
	compiled int64
	cached   int64
}

// run compiles inputs with at most compile.workers records in flight. The
// first failure cancels the records not yet started.
func (b *builder) run(ctx context.Context, inputs []manifest.Input) (buildStats, error) {
	var stats buildStats
	var bar *progressbar.ProgressBar
	if b.progress {
		bar = progressbar.Default(int64(len(inputs)), "compiling")
		defer bar.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.manifest.Compile.Workers)
	for _, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hit, err := b.build(in)
			if err != nil {
				return fmt.Errorf("%s: %w", in.Rel, err)
			}
			if hit {
				atomic.AddInt64(&stats.cached, 1)
			} else {
				atomic.AddInt64(&stats.compiled, 1)
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return stats, err
}

// build compiles one record and writes its output. It reports whether the
// unit came from the cache.
func (b *builder) build(in manifest.Input) (bool, error) {
	rec, err := readRecord(in.Path, b.manifest.Compile.Version)
	if err != nil {
		return false, err
	}
	iface := b.manifest.Interface(rec.ParamCount())
	compile := func() (*target.Unit, error) {
		return b.compiler.Compile(rec, iface)
	}

	var (
		u   *target.Unit
		hit bool
	)
	if b.cache != nil {
		key, err := hash.Record(b.compiler, rec, iface)
		if err != nil {
			return false, err
		}
		u, hit, err = b.cache.GetOrCompile(key, compile)
		if err != nil {
			return false, err
		}
		if hit && !b.compiler.ClaimUnit(u) {
			log.Warningf("%s: cached unit name %s is taken, recompiling", in.Rel, u.Name)
			if u, err = compile(); err != nil {
				return false, err
			}
			hit = false
			if err := b.cache.Put(key, u); err != nil {
				return false, err
			}
		}
		log.Debugf("%s: key %s, cached %t", in.Rel, key, hit)
	} else if u, err = compile(); err != nil {
		return false, err
	}

	data, err := render(b.manifest, u)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(in.Output), 0o755); err != nil {
		return false, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(in.Output, data, 0o644); err != nil {
		return false, fmt.Errorf("writing output: %w", err)
	}
	log.Infof("%s -> %s", in.Rel, in.Output)
	return hit, nil
}

// render encodes u in the configured output format.
func render(m *manifest.Manifest, u *target.Unit) ([]byte, error) {
	switch m.Output.Format {
	case manifest.FormatGo:
		return []byte(target.GoSource(m.Output.Package, u)), nil
	case manifest.FormatCBOR:
		return target.MarshalUnit(u)
	default:
		return []byte(target.Disassemble(u)), nil
	}
}
