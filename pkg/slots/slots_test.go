package slots

import (
	"errors"
	"testing"

	"github.com/chazu/pyaot/pkg/bytecode"
)

func TestLayoutRegions(t *testing.T) {
	// def f(a, b): x = ...; inner closes over b and x; f itself closes over z
	rec := &bytecode.FunctionRecord{
		Name:     "f",
		ArgCount: 2,
		VarNames: []string{"a", "b", "x"},
		CellVars: []string{"b", "x", "y"},
		FreeVars: []string{"z"},
	}
	a := New(ConfigFor(rec, 2))

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"param 1", a.Param(1), 1},
		{"local 0", a.Local(0), 2},
		{"local 2", a.Local(2), 4},
		{"cell 0", a.Cell(0), 5},
		{"cell 2", a.Cell(2), 7},
		{"free 0", a.FreeCell(0), 8},
		{"exception", a.Exception(), 9},
		{"save 1", a.HandlerSave(1), 11},
		{"max", a.MaxSlots(), 12},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
	if a.BoundCells() != 3 || a.FreeCells() != 1 || a.Cells() != 4 || a.Locals() != 3 {
		t.Errorf("region sizes: bound %d free %d locals %d", a.BoundCells(), a.FreeCells(), a.Locals())
	}
}

func TestCellInitialValues(t *testing.T) {
	rec := &bytecode.FunctionRecord{
		ArgCount: 2,
		VarNames: []string{"a", "b", "x"},
		CellVars: []string{"b", "x", "y"},
	}
	a := New(ConfigFor(rec, 0))

	if p, ok := a.CellParam(0); !ok || p != 1 {
		t.Errorf("cell b: param %d, %v; want 1, true", p, ok)
	}
	if _, ok := a.CellParam(1); ok {
		t.Errorf("cell x shadows a non-parameter local and must start empty")
	}
}

func TestScratchDiscipline(t *testing.T) {
	a := New(Config{})
	base := a.MaxSlots()

	s1 := a.AllocScratch()
	s2 := a.AllocScratch()
	if s2 != s1+1 {
		t.Fatalf("scratch slots %d, %d are not consecutive", s1, s2)
	}
	if err := a.ReleaseScratch(s1); !errors.Is(err, ErrScratchOrder) {
		t.Errorf("releasing %d before %d: got %v", s1, s2, err)
	}
	if err := a.ReleaseAll([]int{s1, s2}); err != nil {
		t.Fatalf("ReleaseAll: %v", err)
	}
	if a.LiveScratch() != 0 {
		t.Errorf("live scratch = %d after release", a.LiveScratch())
	}

	// A released slot is handed out again and the high-water mark stays.
	if s := a.AllocScratch(); s != s1 {
		t.Errorf("reallocated slot = %d, want %d", s, s1)
	}
	if got := a.MaxSlots(); got != base+2 {
		t.Errorf("MaxSlots = %d, want %d", got, base+2)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	a := New(Config{Params: 1, ArgCount: 1, VarNames: []string{"a"}})
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a local outside the table")
		}
	}()
	a.Local(1)
}
