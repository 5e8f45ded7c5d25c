package compiler

import (
	"fmt"
	"slices"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/slots"
	"github.com/chazu/pyaot/pkg/target"
)

// emitter generates one target method from an analysed record. Every
// source instruction gets a label; the code for an instruction runs from
// its label to its end label, and the target operand stack at each label
// holds exactly the values the source stack holds there.
type emitter struct {
	u     *unitState
	a     *analysis
	chunk *target.Chunk
	slots *slots.Allocator

	// gen is set while generating a fragment of a generator body.
	gen *genLayout

	labels   []target.Label
	ends     []target.Label
	emitted  []bool
	landings map[int]target.Label // SETUP_FINALLY offset -> landing pad
}

func newEmitter(u *unitState, a *analysis, cfg slots.Config, gen *genLayout) *emitter {
	n := len(a.instrs)
	e := &emitter{
		u:        u,
		a:        a,
		chunk:    target.NewChunk(),
		slots:    slots.New(cfg),
		gen:      gen,
		labels:   make([]target.Label, n),
		ends:     make([]target.Label, n),
		emitted:  make([]bool, n),
		landings: make(map[int]target.Label),
	}
	for i := range n {
		e.labels[i] = e.chunk.NewLabel()
		e.ends[i] = e.chunk.NewLabel()
	}
	return e
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (e *emitter) op(op target.Opcode) { e.chunk.Emit(op) }
func (e *emitter) opInt(op target.Opcode, a int) { e.chunk.EmitInt(op, a) }
func (e *emitter) opName(op target.Opcode, s string) { e.chunk.EmitName(op, s) }
func (e *emitter) jump(op target.Opcode, l target.Label) { e.chunk.EmitJump(op, l) }
func (e *emitter) load(slot int) { e.chunk.EmitInt(target.OpLoad, slot) }
func (e *emitter) store(slot int) { e.chunk.EmitInt(target.OpStore, slot) }
func (e *emitter) getField(i int) { e.chunk.EmitInt(target.OpGetField, i) }
func (e *emitter) putField(i int) { e.chunk.EmitInt(target.OpPutField, i) }

func (e *emitter) constant(c bytecode.Constant) {
	e.chunk.EmitInt(target.OpConst, e.u.unit.AddConstant(c))
}

// raiseNew raises a fresh exception of the named builtin class.
func (e *emitter) raiseNew(class, msg string) {
	e.opName(target.OpGlobalGet, class)
	e.constant(bytecode.Str(msg))
	e.opInt(target.OpBuildTuple, 1)
	e.opInt(target.OpBuildMap, 0)
	e.opInt(target.OpCall, 0)
	e.opInt(target.OpThrow, 0)
}

// scratch allocates n scratch slots.
func (e *emitter) scratch(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = e.slots.AllocScratch()
	}
	return out
}

func (e *emitter) release(slots []int) error {
	return e.slots.ReleaseAll(slots)
}

// ---------------------------------------------------------------------------
// Method structure
// ---------------------------------------------------------------------------

// prologue copies the parameters into their locals, checking declared
// types, marks the other locals unbound and creates the cells.
func (e *emitter) prologue() {
	rec := e.a.rec
	isParam := make([]bool, len(rec.VarNames))
	for i, local := range e.a.paramLocals {
		isParam[local] = true
		e.load(e.slots.Param(i))
		if name := rec.ParamType(local); declared(name) && paramType(rec, local).Name == name {
			e.opName(target.OpCheckCast, name)
		}
		e.store(e.slots.Local(local))
	}
	for local := range rec.VarNames {
		if !isParam[local] {
			e.op(target.OpNull)
			e.store(e.slots.Local(local))
		}
	}
	e.createCells()
	if e.a.reraises || len(e.a.saveBase) > 0 {
		e.op(target.OpNull)
		e.store(e.slots.Exception())
	}
}

// createCells creates the bound cells, filling those that shadow a
// parameter, and fetches the free cells from the closure.
func (e *emitter) createCells() {
	for i := 0; i < e.slots.BoundCells(); i++ {
		e.op(target.OpCellNew)
		if local, ok := e.slots.CellParam(i); ok {
			e.op(target.OpDup)
			e.load(e.slots.Local(local))
			e.op(target.OpCellSet)
		}
		e.store(e.slots.Cell(i))
	}
	for j := 0; j < e.slots.FreeCells(); j++ {
		e.opInt(target.OpLoadFree, j)
		e.store(e.slots.FreeCell(j))
	}
}

// body generates the instructions in offset order. include limits
// generation to a subset; nil means every live instruction.
func (e *emitter) body(include []bool) error {
	for off, in := range e.a.instrs {
		e.chunk.Mark(e.labels[off])
		pre := e.a.flow.States[off]
		if pre.IsDead() || (include != nil && !include[off]) {
			continue
		}
		if err := e.instruction(in, pre); err != nil {
			return e.a.fail(off, err)
		}
		e.chunk.Mark(e.ends[off])
		e.emitted[off] = true
	}
	e.protect()
	e.landingPads()
	return nil
}

// finish patches labels, verifies the stack discipline and returns the
// method.
func (e *emitter) finish(name string, arity int) (*target.Method, error) {
	if n := e.slots.LiveScratch(); n != 0 {
		return nil, e.a.fail(-1, fmt.Errorf("%w: %d scratch slots live at the end of %s", slots.ErrScratchOrder, n, name))
	}
	m, err := e.chunk.Finish(name, arity, e.slots.MaxSlots())
	if err != nil {
		return nil, e.a.fail(-1, err)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Exception handling
// ---------------------------------------------------------------------------

// landing returns the landing pad of the handler installed at setup.
func (e *emitter) landing(setup int) target.Label {
	l, ok := e.landings[setup]
	if !ok {
		l = e.chunk.NewLabel()
		e.landings[setup] = l
	}
	return l
}

// protect adds one handler range per run of generated instructions with
// the same innermost handler. Runs never overlap.
func (e *emitter) protect() {
	var (
		open       bool
		setup      int
		start, end target.Label
	)
	flush := func() {
		if open {
			e.chunk.AddHandler(start, end, e.landing(setup))
		}
		open = false
	}
	for off := range e.a.instrs {
		if !e.emitted[off] {
			continue
		}
		s, ok := e.a.flow.Protection.Handler(off)
		switch {
		case !ok:
			flush()
		case open && s == setup:
			end = e.ends[off]
		default:
			flush()
			open, setup, start, end = true, s, e.labels[off], e.ends[off]
		}
	}
	flush()
}

// protectSite covers code generated outside the instruction stream on
// behalf of the instruction at offset, such as a resumed yield raising the
// thrown exception.
func (e *emitter) protectSite(offset int, start, end target.Label) {
	if setup, ok := e.a.flow.Protection.Handler(offset); ok {
		e.chunk.AddHandler(start, end, e.landing(setup))
	}
}

// landingPads emits the pads requested so far. A pad stores the
// exception, restores the stack its SETUP_FINALLY saved, pushes the six
// handler values and jumps to the handler. The previous exception pushed
// is the one being handled when the SETUP_FINALLY ran, which is what
// unwinding any handlers inside the protected range would leave.
func (e *emitter) landingPads() {
	setups := make([]int, 0, len(e.landings))
	for s := range e.landings {
		setups = append(setups, s)
	}
	slices.Sort(setups)

	exc := e.slots.Exception()
	for _, s := range setups {
		e.chunk.Mark(e.landings[s])
		e.store(exc)
		base := e.a.saveBase[s]
		depth := e.a.flow.States[s].Depth()
		for i := range depth {
			e.load(e.slots.HandlerSave(base + i))
		}
		e.constant(bytecode.None())
		e.load(e.slots.HandlerSave(base + depth))
		e.constant(bytecode.None())
		e.load(exc)
		e.opName(target.OpAttrGet, "__traceback__")
		e.load(exc)
		e.load(exc)
		e.op(target.OpTypeOf)
		e.jump(target.OpGoto, e.labels[e.a.instrs[s].Target])
	}
}

// setupFinally preserves the operand stack and the handled exception for
// the handler's landing pad.
func (e *emitter) setupFinally(at int, pre *flow.TypeState) {
	base := e.a.saveBase[at]
	depth := pre.Depth()
	for i := depth - 1; i >= 0; i-- {
		e.store(e.slots.HandlerSave(base + i))
	}
	for i := range depth {
		e.load(e.slots.HandlerSave(base + i))
	}
	e.load(e.slots.Exception())
	e.store(e.slots.HandlerSave(base + depth))
}

// popExcept drops the previous exception triple, making the previous
// exception the handled one again.
func (e *emitter) popExcept() {
	e.op(target.OpPop)
	e.store(e.slots.Exception())
	e.op(target.OpPop)
}

// raise is RAISE_VARARGS: re-raise the handled exception, raise a value,
// or raise a value with a cause.
func (e *emitter) raise(argc int) error {
	switch argc {
	case 0:
		active := e.chunk.NewLabel()
		e.load(e.slots.Exception())
		e.op(target.OpDup)
		e.jump(target.OpIfNonNull, active)
		e.op(target.OpPop)
		e.raiseNew("RuntimeError", "No active exception to reraise")
		e.chunk.Mark(active)
		e.opInt(target.OpThrow, 0)
	case 1:
		e.opInt(target.OpThrow, 0)
	case 2:
		e.opInt(target.OpThrow, 1)
	default:
		return fmt.Errorf("%w: RAISE_VARARGS %d", ErrUnsupported, argc)
	}
	return nil
}
