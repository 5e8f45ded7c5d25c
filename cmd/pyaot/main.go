// pyaot translates function records into target units.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/pyaot/compiler"
	"github.com/chazu/pyaot/manifest"
	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/cache"
	"github.com/chazu/pyaot/pkg/types"
)

var log = commonlog.GetLogger("pyaot.cli")

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(s string) error { *l = append(*l, s); return nil }

func main() {
	var signatures listFlag
	configDir := flag.String("C", ".", "Directory to search upwards for "+manifest.FileName)
	outputDir := flag.String("o", "", "Output directory (overrides output.dir)")
	format := flag.String("format", "", "Output format: disasm, go or cbor (overrides output.format)")
	workers := flag.Int("j", 0, "Records compiled concurrently (overrides compile.workers)")
	noCache := flag.Bool("no-cache", false, "Do not read or write the unit cache")
	prune := flag.Bool("prune", false, "Drop cache entries not produced by this run")
	dump := flag.Bool("dump", false, "Print decoded instructions instead of compiling")
	quiet := flag.Bool("q", false, "Hide the progress bar")
	verbosity := flag.Int("v", -1, "Log verbosity: 0 notice, 1 info, 2 debug (overrides log.verbosity)")
	logFile := flag.String("log", "", "Log file (overrides log.file)")
	flag.Var(&signatures, "sig", "Signature table to load (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pyaot [options] [records or directories...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles function records into target units. Without arguments the\n")
		fmt.Fprintf(os.Stderr, "source directories of %s are compiled.\n\n", manifest.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pyaot                          # Compile the project's records\n")
		fmt.Fprintf(os.Stderr, "  pyaot -format go -o gen        # Emit Go source into gen/\n")
		fmt.Fprintf(os.Stderr, "  pyaot -dump f.rec              # Show the decoded instructions\n")
		fmt.Fprintf(os.Stderr, "  pyaot -sig host.yaml app/      # Bind calls against extra signatures\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		dir, _ := os.Getwd()
		m = manifest.Default(dir)
	}
	if *outputDir != "" {
		m.Output.Dir = *outputDir
	}
	if *format != "" {
		m.Output.Format = *format
	}
	if *workers > 0 {
		m.Compile.Workers = *workers
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		m.Log.File = *logFile
	}
	if *noCache {
		m.Cache.Disabled = true
	}
	m.Compile.Signatures = append(m.Compile.Signatures, signatures...)
	if err := m.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	commonlog.Initialize(m.Log.Verbosity, m.Path(m.Log.File))

	resolver := manifest.NewResolver(m)
	var inputs []manifest.Input
	if args := flag.Args(); len(args) > 0 {
		inputs, err = resolver.ResolveFiles(args)
	} else {
		inputs, err = resolver.Resolve()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "No %s files found\n", m.Source.Extension)
		os.Exit(1)
	}

	if *dump {
		if err := dumpRecords(inputs, m.Compile.Version); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	c, err := newCompiler(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	b := &builder{manifest: m, compiler: c, progress: !*quiet}
	if path := m.CachePath(); path != "" {
		b.cache, err = cache.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer b.cache.Close()
	}

	stats, err := b.run(context.Background(), inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *prune && b.cache != nil {
		n, err := b.cache.Prune()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		log.Infof("pruned %d cache entries", n)
	}
	log.Noticef("compiled %d records (%d from cache) into %s", stats.compiled+stats.cached, stats.cached, m.OutputDir())
}

// newCompiler creates a compiler with the builtin signatures, the
// configured signature tables and the pinned global types. Each batch
// names its units through its own registry.
func newCompiler(m *manifest.Manifest) (*compiler.Compiler, error) {
	c, err := compiler.NewWithBuiltins()
	if err != nil {
		return nil, err
	}
	c.SetNames(compiler.NewNameRegistry())
	for _, path := range m.SignaturePaths() {
		if err := c.Registry().LoadTableFile(path); err != nil {
			return nil, err
		}
		log.Debugf("loaded signatures from %s", path)
	}
	if len(m.Globals) > 0 {
		c.Globals = make(map[string]*types.Type, len(m.Globals))
		for name, typeName := range m.Globals {
			t, ok := types.Lookup(typeName)
			if !ok {
				return nil, fmt.Errorf("global %s: unknown type %q", name, typeName)
			}
			c.Globals[name] = t
		}
	}
	return c, nil
}

func dumpRecords(inputs []manifest.Input, version string) error {
	for _, in := range inputs {
		rec, err := readRecord(in.Path, version)
		if err != nil {
			return err
		}
		instrs, err := bytecode.Decode(rec)
		if err != nil {
			return fmt.Errorf("%s: %w", in.Path, err)
		}
		fmt.Print(bytecode.Dump(rec, instrs))
	}
	return nil
}

// readRecord loads a record, giving it the configured language version
// when it has none.
func readRecord(path, version string) (*bytecode.FunctionRecord, error) {
	rec, err := bytecode.ReadRecordFile(path)
	if err != nil {
		return nil, err
	}
	if rec.Version == "" {
		rec.Version = version
	}
	return rec, nil
}
