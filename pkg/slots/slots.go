// Package slots computes the storage layout of a compiled method.
//
// Slots are numbered from zero and laid out in fixed regions:
//
//	params | locals | bound cells | free cells | exception | handler saves | scratch
//
// Parameters arrive in the parameter region and the prologue copies them
// into their locals. Cell regions hold cell objects, never their contents.
// The exception slot holds the exception currently being handled, and the
// handler-save region holds operand stacks preserved across protected
// ranges. Everything after that is scratch, handed out and returned in
// stack order while code is generated.
package slots

import (
	"errors"
	"fmt"

	"github.com/chazu/pyaot/pkg/bytecode"
)

// ErrScratchOrder is returned when scratch slots are released out of order.
var ErrScratchOrder = errors.New("scratch slot released out of order")

// Config describes the variable tables of one method.
type Config struct {
	Params       int      // Values received by the method
	ArgCount     int      // Leading VarNames that are parameters
	VarNames     []string // Locals, parameters first
	CellVars     []string // Cells owned by the method
	FreeVars     []string // Cells received from the enclosing scope
	HandlerSaves int      // Slots reserved for preserved handler stacks
}

// ConfigFor returns the layout configuration of a function compiled from
// rec with every parameter passed in.
func ConfigFor(rec *bytecode.FunctionRecord, handlerSaves int) Config {
	return Config{
		Params:       rec.ParamCount(),
		ArgCount:     rec.ParamCount(),
		VarNames:     rec.VarNames,
		CellVars:     rec.CellVars,
		FreeVars:     rec.FreeVars,
		HandlerSaves: handlerSaves,
	}
}

// Allocator hands out slots for one method. It is not safe for concurrent
// use; each method being generated owns its allocator.
type Allocator struct {
	params       int
	argCount     int
	localsStart  int
	cellsStart   int
	freeStart    int
	excSlot      int
	savesStart   int
	scratchStart int

	boundCellVar []int // cell index -> local index, or -1

	scratch []int
	max     int
}

// New lays out the fixed regions described by cfg.
func New(cfg Config) *Allocator {
	a := &Allocator{
		params:   cfg.Params,
		argCount: cfg.ArgCount,
	}
	a.localsStart = cfg.Params
	a.cellsStart = a.localsStart + len(cfg.VarNames)
	a.freeStart = a.cellsStart + len(cfg.CellVars)
	a.excSlot = a.freeStart + len(cfg.FreeVars)
	a.savesStart = a.excSlot + 1
	a.scratchStart = a.savesStart + cfg.HandlerSaves
	a.max = a.scratchStart

	a.boundCellVar = make([]int, len(cfg.CellVars))
	for i, name := range cfg.CellVars {
		a.boundCellVar[i] = -1
		for j, v := range cfg.VarNames {
			if v == name {
				a.boundCellVar[i] = j
				break
			}
		}
	}
	return a
}

// Param returns the slot parameter i arrives in.
func (a *Allocator) Param(i int) int {
	if i < 0 || i >= a.params {
		panic(fmt.Sprintf("slots: parameter %d out of range (%d parameters)", i, a.params))
	}
	return i
}

// Local returns the slot of varnames[i].
func (a *Allocator) Local(i int) int {
	if i < 0 || a.localsStart+i >= a.cellsStart {
		panic(fmt.Sprintf("slots: local %d out of range", i))
	}
	return a.localsStart + i
}

// Cell returns the slot of cell i, numbered the way LOAD_DEREF numbers
// them: bound cells first, then free cells.
func (a *Allocator) Cell(i int) int {
	if i < 0 || a.cellsStart+i >= a.excSlot {
		panic(fmt.Sprintf("slots: cell %d out of range", i))
	}
	return a.cellsStart + i
}

// FreeCell returns the slot of free variable i.
func (a *Allocator) FreeCell(i int) int {
	return a.Cell(a.BoundCells() + i)
}

// Exception returns the slot holding the exception being handled.
func (a *Allocator) Exception() int { return a.excSlot }

// HandlerSave returns slot i of the handler-save region.
func (a *Allocator) HandlerSave(i int) int {
	if i < 0 || a.savesStart+i >= a.scratchStart {
		panic(fmt.Sprintf("slots: handler save %d out of range", i))
	}
	return a.savesStart + i
}

func (a *Allocator) Locals() int { return a.cellsStart - a.localsStart }
func (a *Allocator) BoundCells() int { return a.freeStart - a.cellsStart }
func (a *Allocator) FreeCells() int { return a.excSlot - a.freeStart }
func (a *Allocator) Cells() int { return a.excSlot - a.cellsStart }

// CellParam reports which parameter a bound cell is initialised from.
// Cells that do not shadow a parameter start as the empty cell.
func (a *Allocator) CellParam(cell int) (param int, ok bool) {
	if cell < 0 || cell >= len(a.boundCellVar) {
		return 0, false
	}
	v := a.boundCellVar[cell]
	if v < 0 || v >= a.argCount {
		return 0, false
	}
	return v, true
}

// AllocScratch returns a fresh scratch slot. Its previous contents are
// undefined.
func (a *Allocator) AllocScratch() int {
	slot := a.scratchStart + len(a.scratch)
	a.scratch = append(a.scratch, slot)
	if slot+1 > a.max {
		a.max = slot + 1
	}
	return slot
}

// ReleaseScratch returns the most recently allocated scratch slot.
func (a *Allocator) ReleaseScratch(slot int) error {
	n := len(a.scratch)
	if n == 0 || a.scratch[n-1] != slot {
		return fmt.Errorf("%w: slot %d (live %v)", ErrScratchOrder, slot, a.scratch)
	}
	a.scratch = a.scratch[:n-1]
	return nil
}

// ReleaseAll releases the given slots, newest first.
func (a *Allocator) ReleaseAll(slots []int) error {
	for i := len(slots) - 1; i >= 0; i-- {
		if err := a.ReleaseScratch(slots[i]); err != nil {
			return err
		}
	}
	return nil
}

// LiveScratch is the number of scratch slots currently allocated.
func (a *Allocator) LiveScratch() int { return len(a.scratch) }

// MaxSlots is the number of slots the method needs.
func (a *Allocator) MaxSlots() int { return a.max }
