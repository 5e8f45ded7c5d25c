package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// callSite describes the operands of a call on the stack: callable slots,
// an optional receiver, then npos positional and len(kwnames) keyword
// arguments.
type callSite struct {
	at       int
	callee   *types.Type
	callable int // Entries below the receiver and arguments to discard
	receiver *flow.ValueOrigin
	args     []*flow.ValueOrigin
	npos     int
	kwnames  []string
}

// resolve binds the call site statically. A nil match means the call uses
// the dynamic protocol.
func (e *emitter) resolve(site callSite) (*callsig.Match, error) {
	argTypes := make([]*types.Type, len(site.args))
	for i, v := range site.args {
		argTypes[i] = v.Type
	}
	m, err := e.a.env.ResolveCall(site.callee, argTypes, site.kwnames)
	switch {
	case errors.Is(err, callsig.ErrAmbiguousOverload):
		return nil, err
	case err != nil:
		log.Debugf("%s@%d: dynamic call to %s: %v", e.a.name(), site.at, site.callee, err)
		return nil, nil
	}
	return m, nil
}

// CALL_FUNCTION: callee args...
func (e *emitter) callFunction(in bytecode.Instruction, pre *flow.TypeState) error {
	site := callSite{
		at:       in.Offset,
		callee:   pre.Peek(in.Arg).Type,
		callable: 1,
		args:     pre.Top(in.Arg),
		npos:     in.Arg,
	}
	m, err := e.resolve(site)
	if err != nil {
		return err
	}
	if m != nil {
		return e.boundCall(m, site)
	}
	e.opInt(target.OpBuildTuple, in.Arg)
	e.opInt(target.OpBuildMap, 0)
	e.opInt(target.OpCall, 0)
	return nil
}

// CALL_FUNCTION_KW: callee args... names. The names tuple is bound
// statically only when it is a constant.
func (e *emitter) callFunctionKw(in bytecode.Instruction, pre *flow.TypeState) error {
	n := in.Arg
	if names, ok := e.a.env.KeywordNames(pre.Peek(0)); ok && len(names) <= n {
		site := callSite{
			at:       in.Offset,
			callee:   pre.Peek(n + 1).Type,
			callable: 1,
			args:     pre.Top(n + 1)[:n],
			npos:     n - len(names),
			kwnames:  names,
		}
		m, err := e.resolve(site)
		if err != nil {
			return err
		}
		if m != nil {
			e.op(target.OpPop)
			return e.boundCall(m, site)
		}
	}

	names := e.slots.AllocScratch()
	e.store(names)
	e.opInt(target.OpBuildTuple, n)
	e.load(names)
	e.op(target.OpSplitKw)
	e.opInt(target.OpCall, 0)
	return e.slots.ReleaseScratch(names)
}

// CALL_FUNCTION_EX: callee iterable [mapping]. Always dynamic.
func (e *emitter) callFunctionEx(in bytecode.Instruction) {
	if in.Arg&1 != 0 {
		e.op(target.OpSwap)
		e.op(target.OpToTuple)
		e.op(target.OpSwap)
	} else {
		e.op(target.OpToTuple)
		e.opInt(target.OpBuildMap, 0)
	}
	e.opInt(target.OpCall, 0)
}

// CALL_METHOD: method receiver-or-NULL args...
func (e *emitter) callMethod(in bytecode.Instruction, pre *flow.TypeState) error {
	n := in.Arg
	site := callSite{
		at:       in.Offset,
		callee:   pre.Peek(n + 1).Type,
		callable: 1,
		receiver: pre.Peek(n),
		args:     pre.Top(n),
		npos:     n,
	}
	m, err := e.resolve(site)
	if err != nil {
		return err
	}
	if m != nil {
		if m.Sig.Binding == callsig.Static {
			site.callable, site.receiver = 2, nil
		}
		return e.boundCall(m, site)
	}
	e.opInt(target.OpBuildTuple, n)
	e.opInt(target.OpBuildMap, 0)
	e.opInt(target.OpCall, target.CallWithReceiver)
	return nil
}

// boundCall invokes the host symbol of m directly. The arguments are
// spilled, the callable discarded, and the values reloaded in declared
// parameter order: the receiver first for class and virtual bindings,
// then one value per parameter, checked against its declared type.
func (e *emitter) boundCall(m *callsig.Match, site callSite) error {
	args := e.scratch(len(site.args))
	for i := len(args) - 1; i >= 0; i-- {
		e.store(args[i])
	}
	var recv []int
	if site.receiver != nil {
		recv = e.scratch(1)
		e.store(recv[0])
	}
	for range site.callable {
		e.op(target.OpPop)
	}

	if site.receiver != nil {
		e.load(recv[0])
		if m.Sig.Binding == callsig.Class && !types.IsSubtype(site.receiver.Type, types.TypeType) {
			e.op(target.OpTypeOf)
		}
	}
	for i, src := range m.Plan.Args {
		p := m.Sig.Params[i]
		switch src.Kind {
		case callsig.FromPositional, callsig.FromKeyword:
			at, _ := src.ArgIndex(site.npos)
			e.load(args[at])
			if declared(p.Type) {
				e.opName(target.OpCheckCast, p.Type)
			}
		case callsig.FromDefault:
			e.constant(*p.Default)
		case callsig.FromNoValue:
			e.op(target.OpNull)
		case callsig.FromVarPositional:
			for _, at := range src.Indices {
				e.load(args[at])
			}
			e.opInt(target.OpBuildTuple, len(src.Indices))
		case callsig.FromVarKeyword:
			for _, k := range src.Indices {
				e.constant(bytecode.Str(site.kwnames[k]))
				e.load(args[site.npos+k])
			}
			e.opInt(target.OpBuildMap, len(src.Indices))
		default:
			return fmt.Errorf("%w: argument source %d", flow.ErrImpossibleState, src.Kind)
		}
	}
	e.chunk.EmitNameInt(target.OpInvokeHost, m.Sig.Symbol, m.Sig.Arity())

	if err := e.release(recv); err != nil {
		return err
	}
	return e.release(args)
}
