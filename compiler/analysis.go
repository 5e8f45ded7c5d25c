package compiler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/types"
)

// analysis is everything known about a record before code is generated.
type analysis struct {
	rec    *bytecode.FunctionRecord
	instrs []bytecode.Instruction
	env    *flow.Env
	flow   *flow.Result

	// paramLocals maps a parameter, in signature order, to its local.
	paramLocals []int

	// saveBase maps each live SETUP_FINALLY to the first handler-save slot
	// of the operand stack it preserves. The slot after that stack holds
	// the exception being handled when the SETUP_FINALLY ran. saves is the
	// total.
	saveBase map[int]int
	saves    int

	// reraises is set when RAISE_VARARGS 0 reads the exception slot.
	reraises bool

	// assigned[off][local] is set when local is bound on every path
	// reaching off.
	assigned [][]bool
}

func (c *Compiler) analyze(rec *bytecode.FunctionRecord) (*analysis, error) {
	fail := func(instrs []bytecode.Instruction, off int, err error) (*analysis, error) {
		return nil, failure(rec, instrs, off, err)
	}
	if rec.ParamCount() > len(rec.VarNames) {
		return fail(nil, -1, fmt.Errorf("%w: %d parameters but %d local names",
			bytecode.ErrMalformed, rec.ParamCount(), len(rec.VarNames)))
	}

	instrs, err := bytecode.Decode(rec)
	if err != nil {
		return fail(nil, -1, err)
	}
	g, err := flow.BuildCFG(instrs)
	if err != nil {
		return fail(instrs, -1, err)
	}
	env := &flow.Env{Record: rec, Instructions: instrs, Registry: c.registry, Globals: c.Globals}
	res, err := flow.Analyze(g, initialState(rec, instrs), env)
	if err != nil {
		var fe *flow.Error
		if errors.As(err, &fe) {
			return nil, &Error{Function: rec.DisplayName(), Offset: fe.Offset, Err: fe.Err, Dump: fe.Dump}
		}
		return fail(instrs, -1, err)
	}

	a := &analysis{
		rec:         rec,
		instrs:      instrs,
		env:         env,
		flow:        res,
		paramLocals: paramLocals(rec),
		saveBase:    make(map[int]int),
	}
	a.assigned = definitelyAssigned(rec, instrs, res, a.paramLocals)
	for off, in := range instrs {
		if res.States[off].IsDead() {
			continue
		}
		switch {
		case in.Op == bytecode.OpSetupFinally:
			a.saveBase[off] = a.saves
			a.saves += res.States[off].Depth() + 1
		case in.Op == bytecode.OpRaiseVarargs && in.Arg == 0:
			a.reraises = true
		}
	}
	return a, nil
}

// definitelyAssigned is a forward must-analysis over the locals: STORE_FAST
// binds, DELETE_FAST unbinds, and joins keep only what both paths bind.
// Handlers are entered with the state before each protected instruction.
func definitelyAssigned(rec *bytecode.FunctionRecord, instrs []bytecode.Instruction, res *flow.Result, params []int) [][]bool {
	n := len(instrs)
	in := make([][]bool, n)
	var work []int
	merge := func(at int, s []bool) {
		if at < 0 || at >= n {
			return
		}
		if in[at] == nil {
			in[at] = slices.Clone(s)
			work = append(work, at)
			return
		}
		changed := false
		for i, bound := range s {
			if in[at][i] && !bound {
				in[at][i] = false
				changed = true
			}
		}
		if changed {
			work = append(work, at)
		}
	}

	entry := make([]bool, len(rec.VarNames))
	for _, local := range params {
		entry[local] = true
	}
	merge(0, entry)
	for len(work) > 0 {
		at := work[len(work)-1]
		work = work[:len(work)-1]
		s := in[at]
		if setup, ok := res.Protection.Handler(at); ok {
			merge(instrs[setup].Target, s)
		}
		out := s
		switch ins := instrs[at]; ins.Op {
		case bytecode.OpStoreFast, bytecode.OpDeleteFast:
			if ins.Arg >= 0 && ins.Arg < len(out) {
				out = slices.Clone(s)
				out[ins.Arg] = ins.Op == bytecode.OpStoreFast
			}
		}
		for _, succ := range instrs[at].Successors() {
			merge(succ, out)
		}
	}
	return in
}

func (a *analysis) fail(off int, err error) error {
	return failure(a.rec, a.instrs, off, err)
}

func (a *analysis) name() string { return a.rec.DisplayName() }

// paramLocals lists the local of each parameter in the order callers pass
// them: positionals, *args, keyword-only, **kwargs. The record stores *args
// after the keyword-only names.
func paramLocals(rec *bytecode.FunctionRecord) []int {
	kwEnd := rec.ArgCount + rec.KwOnlyCount
	out := make([]int, 0, rec.ParamCount())
	for i := 0; i < rec.ArgCount; i++ {
		out = append(out, i)
	}
	next := kwEnd
	if rec.VarArgs {
		out = append(out, next)
		next++
	}
	for i := rec.ArgCount; i < kwEnd; i++ {
		out = append(out, i)
	}
	if rec.VarKwargs {
		out = append(out, next)
	}
	return out
}

// paramType is the declared type of the local bound to a parameter.
func paramType(rec *bytecode.FunctionRecord, local int) *types.Type {
	kwEnd := rec.ArgCount + rec.KwOnlyCount
	switch {
	case rec.VarArgs && local == kwEnd:
		return types.Tuple
	case rec.VarKwargs && local == rec.ParamCount()-1:
		return types.Dict
	}
	if t, ok := types.Lookup(rec.ParamType(local)); ok {
		return t
	}
	return types.Object
}

// declared reports whether a type name asks for a runtime check.
func declared(name string) bool {
	return name != "" && name != types.Object.Name
}

// initialState is the state on entry: parameters typed by their
// declarations, cells that shadow parameters sharing the parameter's
// origin, free cells of unknown type. A generator starting with GEN_START
// finds the first sent value on the stack.
func initialState(rec *bytecode.FunctionRecord, instrs []bytecode.Instruction) *flow.TypeState {
	s := flow.NewState(len(rec.VarNames), len(rec.CellVars)+len(rec.FreeVars))
	for _, local := range paramLocals(rec) {
		s.Locals[local] = flow.Origin(paramType(rec, local), -1)
	}
	for i, name := range rec.CellVars {
		for local := 0; local < rec.ParamCount(); local++ {
			if rec.VarNames[local] == name {
				s.Cells[i] = s.Locals[local]
				break
			}
		}
	}
	for j := range rec.FreeVars {
		s.Cells[len(rec.CellVars)+j] = flow.Origin(types.Object, -1)
	}
	if len(instrs) > 0 && instrs[0].Op == bytecode.OpGenStart {
		s.Stack = append(s.Stack, flow.Origin(types.None, -1))
	}
	return s
}
