package compiler

import (
	"strconv"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/runtime"
	"github.com/chazu/pyaot/pkg/slots"
	"github.com/chazu/pyaot/pkg/target"
)

// ---------------------------------------------------------------------------
// Generator transformer
// ---------------------------------------------------------------------------

const (
	initMethod     = "$init"
	fieldException = "$exc"
)

// fragmentMethod names the method resuming at key.
func fragmentMethod(key int) string {
	return "advance" + strconv.Itoa(key)
}

type fragmentKind uint8

const (
	fragmentStart    fragmentKind = iota // First resume, from offset 0
	fragmentYield                        // After a YIELD_VALUE
	fragmentDelegate                     // Inside a YIELD_FROM
)

// fragment is one resumable piece of a generator body: the code reachable
// from a resume point without passing another YIELD_VALUE.
type fragment struct {
	key     int // $state value that resumes here
	kind    fragmentKind
	site    int // Suspending instruction, -1 for the start
	resume  int // Instruction control continues at
	state   *flow.TypeState
	saved   int // Operand stack entries kept in fields across the suspension
	include []bool
}

// fragments splits the body at its live suspension points.
func fragments(a *analysis) []*fragment {
	states := a.flow.States
	out := []*fragment{{kind: fragmentStart, site: -1}}
	for off, in := range a.instrs {
		if states[off].IsDead() {
			continue
		}
		switch in.Op {
		case bytecode.OpYieldValue:
			out = append(out, &fragment{kind: fragmentYield, site: off, saved: states[off].Depth() - 1})
		case bytecode.OpYieldFrom:
			out = append(out, &fragment{kind: fragmentDelegate, site: off, saved: states[off].Depth() - 2})
		}
	}
	for _, f := range out {
		f.resume = f.site + 1
		if f.kind != fragmentStart {
			f.key = f.resume
		}
		f.state = states[f.resume]
		f.include = reachable(a, f.resume, f.site)
	}
	return out
}

// reachable follows successors and handler entries from offset, stopping
// after each YIELD_VALUE. The handler protecting site is included so a
// resumed suspension can raise into it.
func reachable(a *analysis, from, site int) []bool {
	n := len(a.instrs)
	seen := make([]bool, n)
	work := []int{from}
	if s, ok := a.flow.Protection.Handler(site); ok {
		work = append(work, a.instrs[s].Target)
	}
	for len(work) > 0 {
		off := work[len(work)-1]
		work = work[:len(work)-1]
		if off < 0 || off >= n || seen[off] {
			continue
		}
		seen[off] = true
		if s, ok := a.flow.Protection.Handler(off); ok {
			work = append(work, a.instrs[s].Target)
		}
		in := a.instrs[off]
		if in.Op == bytecode.OpYieldValue {
			continue
		}
		work = append(work, in.Successors()...)
	}
	return seen
}

// genLayout is the field layout of a generator body unit.
type genLayout struct {
	state, yielded, sent, thrown, yieldFrom, exc int

	locals []int // One per local
	cells  []int // One per cell, bound then free
	stack  []int // One per operand stack entry kept across a suspension
	saves  []int // One per handler-save slot
}

func newGenLayout(u *target.Unit, a *analysis, frags []*fragment) *genLayout {
	g := &genLayout{
		state:     u.AddField(runtime.FieldState),
		yielded:   u.AddField(runtime.FieldYielded),
		sent:      u.AddField(runtime.FieldSent),
		thrown:    u.AddField(runtime.FieldThrown),
		yieldFrom: u.AddField(runtime.FieldYieldFrom),
		exc:       u.AddField(fieldException),
	}
	for _, name := range a.rec.VarNames {
		g.locals = append(g.locals, u.AddField("local$"+name))
	}
	for _, name := range a.rec.CellVars {
		g.cells = append(g.cells, u.AddField("cell$"+name))
	}
	for _, name := range a.rec.FreeVars {
		g.cells = append(g.cells, u.AddField("free$"+name))
	}
	saved := 0
	for _, f := range frags {
		saved = max(saved, f.saved)
	}
	for i := range saved {
		g.stack = append(g.stack, u.AddField("stack$"+strconv.Itoa(i)))
	}
	for i := range a.saves {
		g.saves = append(g.saves, u.AddField("save$"+strconv.Itoa(i)))
	}
	return g
}

// CompileToGenerator translates a generator function into its body unit.
// The unit keeps the frame in fields: $init stores the parameters and
// cells, $progress dispatches on $state to the fragment resuming there,
// and each fragment runs to the next suspension or to the end.
func (c *Compiler) CompileToGenerator(rec *bytecode.FunctionRecord) (*target.Unit, error) {
	a, err := c.analyze(rec)
	if err != nil {
		return nil, err
	}
	name := c.names.Reserve(rec.DisplayName() + "$body")
	u := newUnitState(c, target.NewUnit(name, target.UnitGenerator, target.GeneratorInterface))
	frags := fragments(a)
	g := newGenLayout(u.unit, a, frags)

	init, err := c.generatorInit(u, a, g)
	if err != nil {
		return nil, err
	}
	progress, err := generatorProgress(a, g, frags)
	if err != nil {
		return nil, err
	}
	u.unit.Methods = append(u.unit.Methods, init, progress)

	cfg := slots.Config{
		VarNames:     rec.VarNames,
		CellVars:     rec.CellVars,
		FreeVars:     rec.FreeVars,
		HandlerSaves: a.saves,
	}
	for _, f := range frags {
		e := newEmitter(u, a, cfg, g)
		e.resumeFragment(f)
		if err := e.body(f.include); err != nil {
			return nil, err
		}
		m, err := e.finish(fragmentMethod(f.key), 0)
		if err != nil {
			return nil, err
		}
		u.unit.Methods = append(u.unit.Methods, m)
	}
	log.Debugf("compiled generator %s as %s: %d fragments, %d fields", a.name(), name, len(frags), len(u.unit.Fields))
	return u.unit, nil
}

// generatorInit stores the arguments, the other locals and the cells into
// fields.
func (c *Compiler) generatorInit(u *unitState, a *analysis, g *genLayout) (*target.Method, error) {
	e := newEmitter(u, a, slots.ConfigFor(a.rec, a.saves), g)
	e.prologue()
	e.op(target.OpNull)
	e.store(e.slots.Exception())
	for i := range e.gen.saves {
		e.op(target.OpNull)
		e.store(e.slots.HandlerSave(i))
	}
	e.saveFrame()
	for i, f := range g.cells {
		e.load(e.slots.Cell(i))
		e.putField(f)
	}
	e.constant(bytecode.None())
	e.op(target.OpReturn)
	return e.finish(initMethod, a.rec.ParamCount())
}

// generatorProgress dispatches on $state. Finished generators never reach
// it, so unknown states return NULL.
func generatorProgress(a *analysis, g *genLayout, frags []*fragment) (*target.Method, error) {
	c := target.NewChunk()
	keys := make([]int, len(frags))
	targets := make([]target.Label, len(frags))
	for i, f := range frags {
		keys[i] = f.key
		targets[i] = c.NewLabel()
	}
	def := c.NewLabel()

	c.EmitInt(target.OpGetField, g.state)
	c.EmitSwitch(keys, targets, def)
	for i, f := range frags {
		c.Mark(targets[i])
		c.EmitName(target.OpInvokeSelf, fragmentMethod(f.key))
		c.Emit(target.OpReturn)
	}
	c.Mark(def)
	c.Emit(target.OpNull)
	c.Emit(target.OpReturn)
	m, err := c.Finish(runtime.ProgressMethod, 0, 0)
	if err != nil {
		return nil, a.fail(-1, err)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Frame persistence
// ---------------------------------------------------------------------------

// restoreFrame loads locals, cells, the handled exception and the
// handler-save slots from fields.
func (e *emitter) restoreFrame() {
	for i, f := range e.gen.locals {
		e.getField(f)
		e.store(e.slots.Local(i))
	}
	for i, f := range e.gen.cells {
		e.getField(f)
		e.store(e.slots.Cell(i))
	}
	e.getField(e.gen.exc)
	e.store(e.slots.Exception())
	for i, f := range e.gen.saves {
		e.getField(f)
		e.store(e.slots.HandlerSave(i))
	}
}

// saveFrame is the inverse of restoreFrame. Cells are written once by
// $init: the cell objects never change, only their contents.
func (e *emitter) saveFrame() {
	for i, f := range e.gen.locals {
		e.load(e.slots.Local(i))
		e.putField(f)
	}
	e.load(e.slots.Exception())
	e.putField(e.gen.exc)
	for i, f := range e.gen.saves {
		e.load(e.slots.HandlerSave(i))
		e.putField(f)
	}
}

// suspend yields the value on top of the stack. The saved entries under
// it and the frame go to fields, and $state names the fragment to resume.
func (e *emitter) suspend(key, saved int) {
	e.putField(e.gen.yielded)
	for i := saved - 1; i >= 0; i-- {
		e.putField(e.gen.stack[i])
	}
	e.saveFrame()
	e.constant(bytecode.Int(int64(key)))
	e.putField(e.gen.state)
	e.op(target.OpNull)
	e.op(target.OpReturn)
}

// ---------------------------------------------------------------------------
// Suspension points
// ---------------------------------------------------------------------------

// yieldValue is YIELD_VALUE: suspend, resuming at the next instruction.
func (e *emitter) yieldValue(at int, pre *flow.TypeState) {
	e.suspend(at+1, pre.Depth()-1)
}

// yieldFrom is YIELD_FROM: subiter value. The sub-iterator is kept in
// $yieldFrom and advanced once; if it yields, the generator suspends into
// the delegating fragment.
func (e *emitter) yieldFrom(at int, pre *flow.TypeState) error {
	e.op(target.OpSwap)
	if err := e.dupDown(1); err != nil {
		return err
	}
	e.putField(e.gen.yieldFrom)
	e.opInt(target.OpSubAdvance, target.AdvanceSend)
	e.delegated(at, pre.Depth()-2)
	return nil
}

// delegated consumes the result and done flag of SUB_ADVANCE: a finished
// sub-iterator leaves its return value, anything else is yielded.
func (e *emitter) delegated(at, saved int) {
	finished := e.chunk.NewLabel()
	e.jump(target.OpIfTrue, finished)
	e.suspend(at+1, saved)
	e.chunk.Mark(finished)
}

// generatorReturn is RETURN_VALUE in a generator body.
func (e *emitter) generatorReturn() {
	e.putField(e.gen.yielded)
	e.constant(bytecode.Int(-1))
	e.putField(e.gen.state)
	e.op(target.OpNull)
	e.op(target.OpReturn)
}

// resumeFragment emits the entry of a fragment method: restore the frame
// and the saved stack, then complete the suspended instruction.
func (e *emitter) resumeFragment(f *fragment) {
	e.restoreFrame()
	for i := range f.saved {
		e.getField(e.gen.stack[i])
	}

	switch f.kind {
	case fragmentStart:
		// GEN_START finds the first sent value on the stack.
		for range f.state.Depth() {
			e.getField(e.gen.sent)
		}

	case fragmentYield:
		start, end, send := e.chunk.NewLabel(), e.chunk.NewLabel(), e.chunk.NewLabel()
		e.chunk.Mark(start)
		e.getField(e.gen.thrown)
		e.jump(target.OpIfNull, send)
		e.getField(e.gen.thrown)
		e.opInt(target.OpThrow, 0)
		e.chunk.Mark(end)
		e.protectSite(f.site, start, end)
		e.chunk.Mark(send)
		e.getField(e.gen.sent)

	case fragmentDelegate:
		start, end := e.chunk.NewLabel(), e.chunk.NewLabel()
		thrown, next, join := e.chunk.NewLabel(), e.chunk.NewLabel(), e.chunk.NewLabel()
		e.chunk.Mark(start)
		e.getField(e.gen.yieldFrom)
		e.getField(e.gen.thrown)
		e.jump(target.OpIfNonNull, thrown)
		e.getField(e.gen.sent)
		e.constant(bytecode.None())
		e.opInt(target.OpIs, 0)
		e.jump(target.OpIfTrue, next)

		e.getField(e.gen.sent)
		e.opInt(target.OpSubAdvance, target.AdvanceSend)
		e.jump(target.OpGoto, join)

		e.chunk.Mark(next)
		e.constant(bytecode.None())
		e.opInt(target.OpSubAdvance, target.AdvanceNext)
		e.jump(target.OpGoto, join)

		e.chunk.Mark(thrown)
		e.getField(e.gen.thrown)
		e.opInt(target.OpSubAdvance, target.AdvanceThrow)

		e.chunk.Mark(join)
		e.chunk.Mark(end)
		e.protectSite(f.site, start, end)
		e.delegated(f.site, f.saved)
	}
	e.jump(target.OpGoto, e.labels[f.resume])
}
