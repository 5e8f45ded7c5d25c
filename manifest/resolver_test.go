package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{
		"records/b.rec",
		"records/a.rec",
		"records/pkg/c.rec",
		"records/notes.txt",
		"records/.hidden/d.rec",
	} {
		touch(t, filepath.Join(dir, f))
	}
	m := Default(dir)
	m.Source.Dirs = []string{"records"}

	inputs, err := NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var rels []string
	for _, in := range inputs {
		rels = append(rels, in.Rel)
	}
	want := []string{"a.rec", "b.rec", filepath.Join("pkg", "c.rec")}
	if strings.Join(rels, ",") != strings.Join(want, ",") {
		t.Fatalf("inputs = %v, want %v", rels, want)
	}
	if got, want := inputs[2].Output, filepath.Join(dir, "build", "pkg", "c.txt"); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestResolveRejectsOutputClash(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "one", "f.rec"))
	touch(t, filepath.Join(dir, "two", "f.rec"))
	m := Default(dir)
	m.Source.Dirs = []string{"one", "two"}

	if _, err := NewResolver(m).Resolve(); err == nil || !strings.Contains(err.Error(), "both write") {
		t.Errorf("Resolve error = %v, want an output clash", err)
	}
}

func TestResolveFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "single.rec"))
	touch(t, filepath.Join(dir, "more", "x.rec"))
	touch(t, filepath.Join(dir, "more", "y.rec"))
	m := Default(dir)
	m.Output.Format = FormatCBOR

	inputs, err := NewResolver(m).ResolveFiles([]string{
		filepath.Join(dir, "single.rec"),
		filepath.Join(dir, "more"),
	})
	if err != nil {
		t.Fatalf("ResolveFiles: %v", err)
	}
	if len(inputs) != 3 {
		t.Fatalf("got %d inputs, want 3", len(inputs))
	}
	if got, want := inputs[0].Output, filepath.Join(dir, "build", "single.unit"); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	if _, err := NewResolver(m).ResolveFiles([]string{filepath.Join(dir, "missing.rec")}); err == nil {
		t.Error("ResolveFiles of a missing file should fail")
	}
}
