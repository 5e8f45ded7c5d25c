package flow

import (
	"strconv"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/types"
)

// Env is the read-only context transitions consult: the function's tables,
// its decoded instructions and the signature registry.
type Env struct {
	Record       *bytecode.FunctionRecord
	Instructions []bytecode.Instruction
	Registry     *callsig.Registry

	// Globals optionally pins the static type of module globals.
	Globals map[string]*types.Type
}

// ConstType returns the static type of consts[i].
func (e *Env) ConstType(i int) *types.Type {
	if e.Record == nil || i < 0 || i >= len(e.Record.Consts) {
		return types.Object
	}
	return ConstantType(e.Record.Consts[i], i)
}

// ConstantType maps a constant to its type. Code constants get a synthetic
// type naming their pool index.
func ConstantType(c bytecode.Constant, index int) *types.Type {
	switch c.Kind {
	case bytecode.ConstNone:
		return types.None
	case bytecode.ConstBool:
		return types.Bool
	case bytecode.ConstInt:
		return types.Int
	case bytecode.ConstFloat:
		return types.Float
	case bytecode.ConstStr:
		return types.Str
	case bytecode.ConstTuple:
		return types.Tuple
	case bytecode.ConstCode:
		return types.CodeConstant(strconv.Itoa(index))
	}
	return types.Object
}

// Name returns names[i], or "" when out of range.
func (e *Env) Name(i int) string {
	if e.Record == nil || i < 0 || i >= len(e.Record.Names) {
		return ""
	}
	return e.Record.Names[i]
}

// GlobalType is the static type of a global read.
func (e *Env) GlobalType(name string) *types.Type {
	if t, ok := e.Globals[name]; ok {
		return t
	}
	if e.Registry != nil && len(e.Registry.Function(name)) > 0 {
		return types.KnownFunction(name)
	}
	return types.Object
}

// KeywordNames recovers the keyword names of a CALL_FUNCTION_KW from the
// origin of its names tuple. ok is false unless the tuple comes from a
// single LOAD_CONST of a tuple of strings.
func (e *Env) KeywordNames(v *ValueOrigin) ([]string, bool) {
	if v == nil || len(v.Producers) != 1 || e.Record == nil {
		return nil, false
	}
	p := v.Producers[0]
	if p < 0 || p >= len(e.Instructions) || e.Instructions[p].Op != bytecode.OpLoadConst {
		return nil, false
	}
	arg := e.Instructions[p].Arg
	if arg < 0 || arg >= len(e.Record.Consts) {
		return nil, false
	}
	return e.Record.Consts[arg].StringItems()
}

// MethodCandidates returns the registered overloads of name on t and the
// binding they share. ok is false when there are none or they disagree.
func (e *Env) MethodCandidates(t *types.Type, name string) (owner *types.Type, sigs []*callsig.Signature, b callsig.Binding, ok bool) {
	if e.Registry == nil || t == nil {
		return nil, nil, 0, false
	}
	owner, sigs = e.Registry.Method(t, name)
	b, ok = callsig.Monomorphic(sigs)
	return owner, sigs, b, ok
}

// Callable returns the overloads a callee type stands for.
func (e *Env) Callable(t *types.Type) []*callsig.Signature {
	if e.Registry == nil {
		return nil
	}
	return e.Registry.Callable(t)
}
