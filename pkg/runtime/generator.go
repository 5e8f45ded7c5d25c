package runtime

import (
	"errors"

	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// Generator field names. $state is 0 before the first resume, -1 once the
// body has returned, and otherwise names the fragment to resume.
const (
	FieldState     = "$state"
	FieldYielded   = "$yielded"
	FieldSent      = "$sent"
	FieldThrown    = "$thrown"
	FieldYieldFrom = "$yieldFrom"

	// ProgressMethod runs the body up to its next suspension point.
	ProgressMethod = "$progress"
)

// ErrNotGenerator is returned when a unit lacks the generator fields.
var ErrNotGenerator = errors.New("unit is not a generator body")

// Generator drives a generator body unit. Each resume stores the sent value
// or thrown exception into the instance, runs $progress, and reads back
// $state and $yielded.
type Generator struct {
	m    *Machine
	inst *Instance

	state, yielded, sent, thrown int

	running  bool
	finished bool

	// Value fetched by HasNext and not yet returned by Next.
	pending    Value
	prefetched bool
}

func (*Generator) Type() *types.Type { return types.Generator }

func newGenerator(m *Machine, inst *Instance) (*Generator, error) {
	c := inst.Class
	g := &Generator{
		m:       m,
		inst:    inst,
		state:   c.field(FieldState),
		yielded: c.field(FieldYielded),
		sent:    c.field(FieldSent),
		thrown:  c.field(FieldThrown),
	}
	if g.state < 0 || g.yielded < 0 || g.sent < 0 || g.thrown < 0 || c.Method(ProgressMethod) == nil {
		return nil, ErrNotGenerator
	}
	inst.Fields[g.state] = Int(0)
	inst.Fields[g.thrown] = Null
	return g, nil
}

func (g *Generator) started() bool {
	return AsInt(g.inst.Fields[g.state]) != 0
}

// resume runs the body once. done reports that the body returned, in which
// case v is its return value.
func (g *Generator) resume(sent Value, thrown *Exception) (v Value, done bool, err error) {
	if g.running {
		return nil, false, Errorf(types.ValueError, "generator already executing")
	}
	if g.finished {
		if thrown != nil {
			return nil, false, thrown
		}
		return None, true, nil
	}
	if !g.started() {
		if thrown != nil {
			g.finish()
			return nil, false, thrown
		}
		if sent != None && sent != Null {
			return nil, false, Errorf(types.TypeError, "can't send non-None value to a just-started generator")
		}
	}

	fields := g.inst.Fields
	fields[g.sent] = sent
	fields[g.thrown] = Null
	if thrown != nil {
		fields[g.thrown] = thrown
	}

	g.running = true
	_, err = g.m.Execute(g.inst, ProgressMethod, nil)
	g.running = false
	fields[g.thrown] = Null

	if err != nil {
		g.finish()
		if IsInstance(err, types.StopIteration) {
			wrapped := Errorf(types.RuntimeError, "generator raised StopIteration")
			wrapped.Cause, _ = err.(*Exception)
			return nil, false, wrapped
		}
		return nil, false, err
	}
	if AsInt(fields[g.state]) == -1 {
		g.finish()
		return fields[g.yielded], true, nil
	}
	return fields[g.yielded], false, nil
}

func (g *Generator) finish() {
	g.finished = true
	g.inst.Fields[g.state] = Int(-1)
}

// stop turns a return value into the StopIteration that reports it.
func stop(v Value) error {
	if v == None {
		return NewException(types.StopIteration)
	}
	return NewException(types.StopIteration, v)
}

// HasNext reports whether Next would produce a value, running the body
// ahead if needed. The value is kept for the following Next.
func (g *Generator) HasNext() (bool, error) {
	if g.prefetched {
		return true, nil
	}
	if g.finished {
		return false, nil
	}
	v, done, err := g.resume(None, nil)
	if err != nil || done {
		return false, err
	}
	g.pending, g.prefetched = v, true
	return true, nil
}

// Next resumes the generator and returns the next yielded value. Once the
// body has returned it raises StopIteration carrying the return value.
func (g *Generator) Next() (Value, error) {
	if g.prefetched {
		v := g.pending
		g.pending, g.prefetched = nil, false
		return v, nil
	}
	v, done, err := g.resume(None, nil)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, stop(v)
	}
	return v, nil
}

// Send resumes the generator with v as the value of the suspended yield.
func (g *Generator) Send(v Value) (Value, error) {
	if g.prefetched {
		return nil, Errorf(types.RuntimeError, "send on a generator with a prefetched value")
	}
	r, done, err := g.resume(v, nil)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, stop(r)
	}
	return r, nil
}

// Throw raises exc at the suspended yield. An unstarted generator finishes
// without running and the exception propagates to the caller.
func (g *Generator) Throw(exc Value) (Value, error) {
	if g.prefetched {
		return nil, Errorf(types.RuntimeError, "throw on a generator with a prefetched value")
	}
	e, err := instantiate(exc)
	if err != nil {
		return nil, err
	}
	r, done, err := g.resume(None, e)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, stop(r)
	}
	return r, nil
}

// next implements Iterator: exhaustion is not an error.
func (g *Generator) next() (Value, bool, error) {
	if g.prefetched {
		v := g.pending
		g.pending, g.prefetched = nil, false
		return v, true, nil
	}
	v, done, err := g.resume(None, nil)
	if err != nil || done {
		return nil, false, err
	}
	return v, true, nil
}

// advance is one delegated step of a yield-from over g.
func (g *Generator) advance(mode int, v Value) (Value, bool, error) {
	switch mode {
	case target.AdvanceSend:
		if g.prefetched && (v == None || v == Null) {
			break
		}
		if g.prefetched {
			return nil, false, Errorf(types.RuntimeError, "send on a generator with a prefetched value")
		}
		return g.resume(v, nil)
	case target.AdvanceThrow:
		e, err := instantiate(v)
		if err != nil {
			return nil, false, err
		}
		return g.resume(None, e)
	}
	if g.prefetched {
		r := g.pending
		g.pending, g.prefetched = nil, false
		return r, false, nil
	}
	return g.resume(None, nil)
}
