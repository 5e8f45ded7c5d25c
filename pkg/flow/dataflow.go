package flow

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/pyaot/pkg/bytecode"
)

var log = commonlog.GetLogger("pyaot.flow")

// Error is a failed analysis. Dump holds the instruction listing so the
// failure can be diagnosed without the input file.
type Error struct {
	Offset int
	Err    error
	Dump   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("offset %d: %v", e.Offset, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of Analyze.
type Result struct {
	CFG        *CFG
	Protection Protection
	States     []*TypeState // One per instruction offset, the state before it
	Passes     int          // Passes taken to reach the fixed point
}

// Analyze propagates initial from the entry instruction to a fixed point
// and returns the state before every instruction. Instructions that no path
// reaches are Dead.
//
// A handler installed by SETUP_FINALLY is entered from every instruction it
// protects, so its locals and cells are the join over the whole protected
// range, on top of the stack saved when the handler was installed.
func Analyze(g *CFG, initial *TypeState, env *Env) (*Result, error) {
	n := len(g.Instructions)
	res := &Result{CFG: g, Protection: Protect(g), States: make([]*TypeState, n)}
	if n == 0 {
		return res, nil
	}
	states := res.States
	for i := range states {
		states[i] = Dead
	}
	states[0] = initial

	fail := func(off int, err error) (*Result, error) {
		var rec *bytecode.FunctionRecord
		if env != nil {
			rec = env.Record
		}
		return nil, &Error{Offset: off, Err: err, Dump: bytecode.Dump(rec, g.Instructions)}
	}
	merge := func(from, to int, s *TypeState) (bool, error) {
		if to < 0 || to >= n {
			return false, fmt.Errorf("%w: successor %d of %d out of range", ErrImpossibleState, to, from)
		}
		merged, err := Unify(states[to], s)
		if err != nil {
			return false, fmt.Errorf("merging into %d: %w", to, err)
		}
		if merged.Equal(states[to]) {
			return false, nil
		}
		states[to] = merged
		return true, nil
	}

	for changed := true; changed; {
		changed = false
		res.Passes++
		for _, b := range g.Blocks {
			for off := b.Start; off < b.End; off++ {
				in := g.Instructions[off]
				pre := states[off]
				posts, err := Transition(env, in, pre)
				if err != nil {
					return fail(off, err)
				}
				succs := in.Successors()
				if len(posts) != len(succs) {
					return fail(off, fmt.Errorf("%w: %s produced %d states for %d successors",
						ErrImpossibleState, in, len(posts), len(succs)))
				}
				for i, succ := range succs {
					c, err := merge(off, succ, posts[i])
					if err != nil {
						return fail(off, err)
					}
					changed = changed || c
				}

				if pre.IsDead() {
					continue
				}
				setup, ok := res.Protection.Handler(off)
				if !ok || states[setup].IsDead() {
					continue
				}
				entry := pre.Clone()
				entry.Stack = HandlerEntry(states[setup].Stack, setup)
				c, err := merge(off, g.Instructions[setup].Target, entry)
				if err != nil {
					return fail(off, err)
				}
				changed = changed || c
			}
		}
	}
	log.Debugf("%s: fixed point after %d passes", displayName(env), res.Passes)
	return res, nil
}

func displayName(env *Env) string {
	if env == nil || env.Record == nil {
		return "<anonymous>"
	}
	return env.Record.DisplayName()
}
