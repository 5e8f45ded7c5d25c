package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/pyaot/compiler"
	"github.com/chazu/pyaot/compiler/hash"
	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/target"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache", "units.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func compileIdentity(t *testing.T) (hash.Key, *target.Unit) {
	t.Helper()
	rec := bytecode.NewBuilder("identity", "3.9").
		Params("x").
		LoadFast("x").
		Op("RETURN_VALUE").
		MustBuild()
	c := compiler.New(nil)
	c.SetNames(compiler.NewNameRegistry())
	iface := target.FunctionInterface(1)
	u, err := c.Compile(rec, iface)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	key, err := hash.Record(c, rec, iface)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return key, u
}

func TestPutGet(t *testing.T) {
	c := openTemp(t)
	key, u := compileIdentity(t)

	if _, err := c.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty cache: error = %v, want ErrNotFound", err)
	}
	if err := c.Put(key, u); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := c.Lookup(key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Name != u.Name || e.Build != c.Build() {
		t.Errorf("entry = %s from %s, want %s from %s", e.Name, e.Build, u.Name, c.Build())
	}
	if got, want := target.Disassemble(e.Unit), target.Disassemble(u); got != want {
		t.Errorf("cached unit differs:\n%s\nwant:\n%s", got, want)
	}
	if n, _ := c.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestPutReplaces(t *testing.T) {
	c := openTemp(t)
	key, u := compileIdentity(t)
	for range 3 {
		if err := c.Put(key, u); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := c.Len(); n != 1 {
		t.Errorf("Len = %d after repeated Put, want 1", n)
	}
}

func TestGetOrCompile(t *testing.T) {
	c := openTemp(t)
	key, u := compileIdentity(t)
	calls := 0
	compile := func() (*target.Unit, error) {
		calls++
		return u, nil
	}

	if _, hit, err := c.GetOrCompile(key, compile); err != nil || hit {
		t.Fatalf("first GetOrCompile: hit=%v err=%v", hit, err)
	}
	got, hit, err := c.GetOrCompile(key, compile)
	if err != nil || !hit {
		t.Fatalf("second GetOrCompile: hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Errorf("compile ran %d times, want 1", calls)
	}
	if got.Name != u.Name {
		t.Errorf("cached name = %s, want %s", got.Name, u.Name)
	}

	boom := errors.New("boom")
	var other hash.Key
	other[0] = 1
	if _, _, err := c.GetOrCompile(other, func() (*target.Unit, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("compile failure: error = %v, want %v", err, boom)
	}
	if _, err := c.Get(other); !errors.Is(err, ErrNotFound) {
		t.Error("a failed compile must not be cached")
	}
}

func TestPruneKeepsCurrentBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.db")
	key, u := compileIdentity(t)

	old, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := old.Put(key, u); err != nil {
		t.Fatal(err)
	}
	old.Close()

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Build() == old.Build() {
		t.Fatal("sessions share a build id")
	}
	var fresh hash.Key
	fresh[31] = 7
	if err := c.Put(fresh, u); err != nil {
		t.Fatal(err)
	}

	n, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d units, want 1", n)
	}
	if _, err := c.Get(key); !errors.Is(err, ErrNotFound) {
		t.Error("unit from the earlier session survived Prune")
	}
	if _, err := c.Get(fresh); err != nil {
		t.Errorf("unit from this session: %v", err)
	}
}

func TestDelete(t *testing.T) {
	c := openTemp(t)
	key, u := compileIdentity(t)
	if err := c.Put(key, u); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: error = %v, want ErrNotFound", err)
	}
}
