package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"

[source]
dirs = ["records", "vendor/records"]
extension = "cbor"

[compile]
version = "3.9"
interface = "app.Callable"
signatures = ["sigs/host.yaml"]
workers = 8

[output]
format = "go"
dir = "gen"
package = "gen"

[cache]
path = "/tmp/units.db"

[log]
verbosity = 2
file = "pyaot.log"

[globals]
LIMIT = "int"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Extension != ".cbor" {
		t.Errorf("source extension = %q, want .cbor", m.Source.Extension)
	}
	if m.Compile.Version != "3.9" || m.Compile.Workers != 8 {
		t.Errorf("compile = %+v", m.Compile)
	}
	if got := m.SignaturePaths(); len(got) != 1 || got[0] != filepath.Join(m.Dir, "sigs", "host.yaml") {
		t.Errorf("signature paths = %v", got)
	}
	if iface := m.Interface(2); iface.Name != "app.Callable" || iface.Arity != 2 {
		t.Errorf("interface = %+v, want app.Callable of arity 2", iface)
	}
	if m.Output.Format != FormatGo || m.Extension() != ".go" {
		t.Errorf("output format = %q, extension %q", m.Output.Format, m.Extension())
	}
	if m.OutputDir() != filepath.Join(m.Dir, "gen") {
		t.Errorf("output dir = %q", m.OutputDir())
	}
	if m.CachePath() != "/tmp/units.db" {
		t.Errorf("cache path = %q, want /tmp/units.db", m.CachePath())
	}
	if m.Log.Verbosity != 2 || m.Log.File != "pyaot.log" {
		t.Errorf("log = %+v", m.Log)
	}
	if m.Globals["LIMIT"] != "int" {
		t.Errorf("globals = %v", m.Globals)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		field string
		got   any
		want  any
	}{
		{"source dirs", strings.Join(m.Source.Dirs, ","), "."},
		{"source extension", m.Source.Extension, ".rec"},
		{"compile version", m.Compile.Version, "3.10"},
		{"compile workers", m.Compile.Workers, 4},
		{"output format", m.Output.Format, FormatDisasm},
		{"output dir", m.OutputDir(), filepath.Join(m.Dir, "build")},
		{"output package", m.Output.Package, "minimal"},
		{"cache path", m.CachePath(), filepath.Join(m.Dir, ".pyaot", "cache.db")},
		{"interface", m.Interface(1).Name, "pyaot.Function1"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("default %s = %v, want %v", tc.field, tc.got, tc.want)
		}
	}
}

func TestDefaultMatchesEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	d := Default(loaded.Dir)
	if d.Output != loaded.Output || d.Cache != loaded.Cache || d.Compile.Version != loaded.Compile.Version {
		t.Errorf("Default = %+v, empty manifest = %+v", d, loaded)
	}
}

func TestCacheDisabled(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[cache]
disabled = true
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.CachePath() != "" {
		t.Errorf("cache path = %q, want none", m.CachePath())
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[project\n", "parse error"},
		{"version", "[compile]\nversion = \"2.7\"\n", "compile.version"},
		{"format", "[output]\nformat = \"jar\"\n", "output.format"},
		{"package", "[output]\npackage = \"type\"\n", "output.package"},
		{"global", "[globals]\nx = \"\"\n", "globals.x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tc.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
	if m.Output.Package != "foundproject" {
		t.Errorf("output package = %q, want foundproject", m.Output.Package)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no pyaot.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "/abs/records"},
		},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/abs/records" {
		t.Errorf("paths[1] = %q, want /abs/records", paths[1])
	}
}
