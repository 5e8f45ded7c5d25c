package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/pyaot/manifest"
	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/cache"
	"github.com/chazu/pyaot/pkg/target"
)

func writeRecords(t *testing.T, dir string, recs ...*bytecode.FunctionRecord) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, rec := range recs {
		if err := bytecode.WriteRecordFile(filepath.Join(dir, rec.Name+".rec"), rec); err != nil {
			t.Fatal(err)
		}
	}
}

func sampleRecords() []*bytecode.FunctionRecord {
	identity := bytecode.NewBuilder("identity", "3.9").
		Params("x").
		LoadFast("x").
		Op("RETURN_VALUE").
		MustBuild()
	// def count(): yield 1; yield 2
	count := bytecode.NewBuilder("count", "3.9").
		LoadConst(bytecode.Int(1)).
		Op("YIELD_VALUE").
		Op("POP_TOP").
		LoadConst(bytecode.Int(2)).
		Op("YIELD_VALUE").
		Op("POP_TOP").
		LoadConst(bytecode.None()).
		Op("RETURN_VALUE").
		MustBuild()
	return []*bytecode.FunctionRecord{identity, count}
}

func newTestBuilder(t *testing.T, m *manifest.Manifest) *builder {
	t.Helper()
	c, err := newCompiler(m)
	if err != nil {
		t.Fatalf("newCompiler: %v", err)
	}
	b := &builder{manifest: m, compiler: c}
	if path := m.CachePath(); path != "" {
		b.cache, err = cache.Open(path)
		if err != nil {
			t.Fatalf("cache.Open: %v", err)
		}
		t.Cleanup(func() { b.cache.Close() })
	}
	return b
}

func resolve(t *testing.T, m *manifest.Manifest) []manifest.Input {
	t.Helper()
	inputs, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return inputs
}

func TestBuildWritesListings(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "records"), sampleRecords()...)
	m := manifest.Default(dir)
	m.Source.Dirs = []string{"records"}
	m.Cache.Disabled = true

	stats, err := newTestBuilder(t, m).run(context.Background(), resolve(t, m))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.compiled != 2 || stats.cached != 0 {
		t.Errorf("stats = %+v, want 2 compiled", stats)
	}

	data, err := os.ReadFile(filepath.Join(dir, "build", "count.txt"))
	if err != nil {
		t.Fatal(err)
	}
	listing := string(data)
	for _, want := range []string{"; === count", "NEW_GENERATOR", "generator implements pyaot.Generator"} {
		if !strings.Contains(listing, want) {
			t.Errorf("count listing missing %q:\n%s", want, listing)
		}
	}
}

func TestBuildUsesCache(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "records"), sampleRecords()...)
	m := manifest.Default(dir)
	m.Source.Dirs = []string{"records"}
	m.Output.Format = manifest.FormatCBOR
	inputs := resolve(t, m)

	if _, err := newTestBuilder(t, m).run(context.Background(), inputs); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := newTestBuilder(t, m).run(context.Background(), inputs)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.cached != 2 || stats.compiled != 0 {
		t.Errorf("second run stats = %+v, want 2 cached", stats)
	}

	data, err := os.ReadFile(filepath.Join(dir, "build", "identity.unit"))
	if err != nil {
		t.Fatal(err)
	}
	u, err := target.UnmarshalUnit(data)
	if err != nil {
		t.Fatalf("output is not a unit: %v", err)
	}
	if u.Kind != target.UnitFunction || u.Interface.Arity != 1 {
		t.Errorf("unit kind %s, arity %d", u.Kind, u.Interface.Arity)
	}
}

func TestBuildGoSource(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, sampleRecords()[0])
	m := manifest.Default(dir)
	m.Output.Format = manifest.FormatGo
	m.Output.Package = "gen"
	m.Cache.Disabled = true

	if _, err := newTestBuilder(t, m).run(context.Background(), resolve(t, m)); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "build", "identity.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "package gen\n") {
		t.Errorf("generated source has the wrong package clause:\n%s", data)
	}
}

func TestBuildReportsFailingRecord(t *testing.T) {
	dir := t.TempDir()
	bad := &bytecode.FunctionRecord{
		Name:    "broken",
		Version: "3.9",
		Instructions: []bytecode.RawInstruction{
			{Op: "NOT_AN_OPCODE", Offset: 0},
		},
	}
	writeRecords(t, dir, bad)
	m := manifest.Default(dir)
	m.Cache.Disabled = true

	_, err := newTestBuilder(t, m).run(context.Background(), resolve(t, m))
	if !errors.Is(err, bytecode.ErrUnknownOpcode) {
		t.Fatalf("run error = %v, want ErrUnknownOpcode", err)
	}
	if !strings.Contains(err.Error(), "broken.rec") {
		t.Errorf("error %q does not name the record", err)
	}
}

func TestReadRecordDefaultsVersion(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecords()[0]
	rec.Version = ""
	writeRecords(t, dir, rec)

	got, err := readRecord(filepath.Join(dir, "identity.rec"), "3.10")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "3.10" {
		t.Errorf("version = %q, want 3.10", got.Version)
	}
}

func TestNewCompilerGlobals(t *testing.T) {
	m := manifest.Default(t.TempDir())
	m.Globals = map[string]string{"LIMIT": "int"}
	c, err := newCompiler(m)
	if err != nil {
		t.Fatal(err)
	}
	if c.Globals["LIMIT"] == nil || c.Globals["LIMIT"].String() != "int" {
		t.Errorf("LIMIT pinned to %v, want int", c.Globals["LIMIT"])
	}

	m.Globals = map[string]string{"x": "no-such-type"}
	if _, err := newCompiler(m); err == nil {
		t.Error("unknown global type should fail")
	}
}

func TestBuildKeepsCachedNamesUnique(t *testing.T) {
	dir := t.TempDir()
	identity := sampleRecords()[0]
	if err := bytecode.WriteRecordFile(filepath.Join(dir, "a.rec"), identity); err != nil {
		t.Fatal(err)
	}
	m := manifest.Default(dir)
	m.Output.Format = manifest.FormatCBOR
	m.Compile.Workers = 1
	if _, err := newTestBuilder(t, m).run(context.Background(), resolve(t, m)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// b.rec compiles a function with the same name as the cached a.rec.
	other := bytecode.NewBuilder("identity", "3.9").
		Params("x", "y").
		LoadFast("y").
		Op("RETURN_VALUE").
		MustBuild()
	if err := bytecode.WriteRecordFile(filepath.Join(dir, "b.rec"), other); err != nil {
		t.Fatal(err)
	}
	stats, err := newTestBuilder(t, m).run(context.Background(), resolve(t, m))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.cached != 1 || stats.compiled != 1 {
		t.Errorf("second run stats = %+v, want 1 cached and 1 compiled", stats)
	}

	names := make(map[string]bool)
	for _, file := range []string{"a.unit", "b.unit"} {
		data, err := os.ReadFile(filepath.Join(dir, "build", file))
		if err != nil {
			t.Fatal(err)
		}
		u, err := target.UnmarshalUnit(data)
		if err != nil {
			t.Fatalf("%s: %v", file, err)
		}
		if names[u.Name] {
			t.Errorf("%s reuses unit name %s", file, u.Name)
		}
		names[u.Name] = true
	}
}
