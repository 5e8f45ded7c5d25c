package flow

import (
	"fmt"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/types"
)

// HandlerValues is the number of values a SETUP_FINALLY handler finds on
// top of the saved stack: the previous exception triple, then the
// traceback, exception and exception type being handled. Only the previous
// exception itself is kept; its traceback and type positions hold None.
const HandlerValues = 6

// HandlerEntry returns the stack a handler installed at setup starts with.
func HandlerEntry(saved []*ValueOrigin, setup int) []*ValueOrigin {
	out := make([]*ValueOrigin, 0, len(saved)+HandlerValues)
	out = append(out, saved...)
	return append(out,
		Origin(types.None, setup),
		Origin(types.BaseException, setup),
		Origin(types.None, setup),
		Origin(types.Traceback, setup),
		Origin(types.BaseException, setup),
		Origin(types.TypeType, setup),
	)
}

// ResolveCall binds a call to a statically known callee. A nil match with
// a nil error means the callee is not statically known. ErrNoMatch (and
// bind errors it wraps) mean the call must use the dynamic protocol.
func (e *Env) ResolveCall(callee *types.Type, argTypes []*types.Type, kwnames []string) (*callsig.Match, error) {
	sigs := e.Callable(callee)
	if len(sigs) == 0 {
		return nil, nil
	}
	return callsig.Resolve(sigs, argTypes, kwnames)
}

func (e *Env) callResult(callee *types.Type, args []*ValueOrigin, kwnames []string) *types.Type {
	m, err := e.ResolveCall(callee, originTypes(args), kwnames)
	if err != nil || m == nil {
		return types.Object
	}
	return m.Sig.ReturnType()
}

// Transition computes the states after in, one per successor in the order
// in.Successors() lists them.
func Transition(env *Env, in bytecode.Instruction, pre *TypeState) ([]*TypeState, error) {
	if pre.IsDead() {
		out := make([]*TypeState, len(in.Successors()))
		for i := range out {
			out[i] = Dead
		}
		return out, nil
	}
	if need := stackNeed(in); pre.Depth() < need {
		return nil, fmt.Errorf("%w: %s needs %d stack entries, found %d", ErrImpossibleState, in, need, pre.Depth())
	}
	at := in.Offset
	one := func(s *TypeState) ([]*TypeState, error) { return []*TypeState{s}, nil }
	val := func(t *types.Type) *ValueOrigin { return Origin(t, at) }

	switch in.Op {
	// ============ Stack Operations ============
	case bytecode.OpNop:
		return one(pre)
	case bytecode.OpPopTop:
		return one(pre.pop(1))
	case bytecode.OpRotTwo:
		return one(rotate(pre, 2))
	case bytecode.OpRotThree:
		return one(rotate(pre, 3))
	case bytecode.OpRotFour:
		return one(rotate(pre, 4))
	case bytecode.OpRotN:
		return one(rotate(pre, in.Arg))
	case bytecode.OpDupTop:
		return one(pre.push(pre.Peek(0)))
	case bytecode.OpDupTopTwo:
		return one(pre.push(pre.Peek(1), pre.Peek(0)))

	// ============ Variables ============
	case bytecode.OpLoadConst:
		return one(pre.push(val(env.ConstType(in.Arg))))
	case bytecode.OpLoadFast:
		if err := checkIndex(in, len(pre.Locals)); err != nil {
			return nil, err
		}
		v := pre.Locals[in.Arg]
		if v == nil {
			v = val(types.Object)
		}
		return one(pre.push(v))
	case bytecode.OpStoreFast:
		if err := checkIndex(in, len(pre.Locals)); err != nil {
			return nil, err
		}
		return one(pre.withLocal(in.Arg, pre.Peek(0)).pop(1))
	case bytecode.OpDeleteFast:
		if err := checkIndex(in, len(pre.Locals)); err != nil {
			return nil, err
		}
		return one(pre.withLocal(in.Arg, nil))
	case bytecode.OpLoadGlobal:
		return one(pre.push(val(env.GlobalType(env.Name(in.Arg)))))
	case bytecode.OpStoreGlobal:
		return one(pre.pop(1))
	case bytecode.OpLoadDeref:
		if err := checkIndex(in, len(pre.Cells)); err != nil {
			return nil, err
		}
		v := pre.Cells[in.Arg]
		if v == nil {
			v = val(types.Object)
		}
		return one(pre.push(v))
	case bytecode.OpStoreDeref:
		if err := checkIndex(in, len(pre.Cells)); err != nil {
			return nil, err
		}
		return one(pre.withCell(in.Arg, pre.Peek(0)).pop(1))
	case bytecode.OpLoadClosure:
		if err := checkIndex(in, len(pre.Cells)); err != nil {
			return nil, err
		}
		return one(pre.push(val(types.Cell)))

	// ============ Attributes ============
	case bytecode.OpLoadAttr:
		return one(pre.pop(1).push(val(types.Object)))
	case bytecode.OpStoreAttr:
		return one(pre.pop(2))
	case bytecode.OpLoadMethod:
		recv := pre.Peek(0)
		name := env.Name(in.Arg)
		if owner, _, b, ok := env.MethodCandidates(recv.Type, name); ok {
			m := val(types.KnownMethod(owner, name))
			if b == callsig.Static {
				return one(pre.pop(1).push(m, val(types.Null)))
			}
			return one(pre.pop(1).push(m, recv))
		}
		return one(pre.pop(1).push(val(types.Object), val(types.Object)))

	// ============ Operators ============
	case bytecode.OpBinaryAdd, bytecode.OpBinarySubtract, bytecode.OpBinaryMultiply,
		bytecode.OpBinaryTrueDivide, bytecode.OpBinaryFloorDivide, bytecode.OpBinaryModulo,
		bytecode.OpBinarySubscr, bytecode.OpInplaceAdd, bytecode.OpInplaceSubtract,
		bytecode.OpInplaceMultiply:
		t := BinaryResult(in.Op, pre.Peek(1).Type, pre.Peek(0).Type)
		return one(pre.pop(2).push(val(t)))
	case bytecode.OpCompareOp, bytecode.OpIsOp, bytecode.OpContainsOp:
		return one(pre.pop(2).push(val(types.Bool)))
	case bytecode.OpUnaryNot:
		return one(pre.pop(1).push(val(types.Bool)))
	case bytecode.OpUnaryNegative:
		return one(pre.pop(1).push(val(NegateResult(pre.Peek(0).Type))))

	// ============ Collections ============
	case bytecode.OpBuildTuple:
		return one(pre.pop(in.Arg).push(val(types.Tuple)))
	case bytecode.OpBuildList:
		return one(pre.pop(in.Arg).push(val(types.List)))
	case bytecode.OpBuildMap:
		return one(pre.pop(2 * in.Arg).push(val(types.Dict)))
	case bytecode.OpUnpackSequence:
		out := pre.pop(1)
		for i := 0; i < in.Arg; i++ {
			out.Stack = append(out.Stack, val(types.Object))
		}
		return one(out)

	// ============ Control Flow ============
	case bytecode.OpJumpForward, bytecode.OpJumpAbsolute:
		return one(pre)
	case bytecode.OpPopJumpIfTrue, bytecode.OpPopJumpIfFalse:
		s := pre.pop(1)
		return []*TypeState{s, s}, nil
	case bytecode.OpJumpIfTrueOrPop, bytecode.OpJumpIfFalseOrPop:
		return []*TypeState{pre.pop(1), pre}, nil
	case bytecode.OpGetIter:
		return one(pre.pop(1).push(val(types.Iterator)))
	case bytecode.OpGetYieldFromIter:
		if types.IsSubtype(pre.Peek(0).Type, types.Generator) {
			return one(pre)
		}
		return one(pre.pop(1).push(val(types.Iterator)))
	case bytecode.OpForIter:
		return []*TypeState{pre.push(val(types.Object)), pre.pop(1)}, nil
	case bytecode.OpReturnValue, bytecode.OpRaiseVarargs, bytecode.OpReraise:
		return nil, nil

	// ============ Exceptions ============
	case bytecode.OpSetupFinally:
		handler := pre.Clone()
		handler.Stack = HandlerEntry(pre.Stack, at)
		return []*TypeState{pre, handler}, nil
	case bytecode.OpPopBlock:
		return one(pre)
	case bytecode.OpPopExcept:
		return one(pre.pop(3))
	case bytecode.OpJumpIfNotExcMatch:
		s := pre.pop(2)
		return []*TypeState{s, s}, nil

	// ============ Calls ============
	case bytecode.OpCallFunction:
		callee := pre.Peek(in.Arg)
		t := env.callResult(callee.Type, pre.Top(in.Arg), nil)
		return one(pre.pop(in.Arg + 1).push(val(t)))
	case bytecode.OpCallFunctionKw:
		callee := pre.Peek(in.Arg + 1)
		t := types.Object
		if names, ok := env.KeywordNames(pre.Peek(0)); ok && len(names) <= in.Arg {
			args := pre.pop(1).Top(in.Arg)
			t = env.callResult(callee.Type, args, names)
		}
		return one(pre.pop(in.Arg + 2).push(val(t)))
	case bytecode.OpCallFunctionEx:
		n := 2
		if in.Arg&1 != 0 {
			n = 3
		}
		return one(pre.pop(n).push(val(types.Object)))
	case bytecode.OpCallMethod:
		method := pre.Peek(in.Arg + 1)
		t := env.callResult(method.Type, pre.Top(in.Arg), nil)
		return one(pre.pop(in.Arg + 2).push(val(t)))
	case bytecode.OpMakeFunction:
		return one(pre.pop(makeFunctionOperands(in.Arg)).push(val(types.Function)))

	// ============ Generators ============
	case bytecode.OpGenStart:
		return one(pre.pop(1))
	case bytecode.OpYieldValue:
		return one(pre.pop(1).push(val(types.Object)))
	case bytecode.OpYieldFrom:
		return one(pre.pop(2).push(val(types.Object)))
	}
	return nil, fmt.Errorf("%w: no transition for %s", ErrImpossibleState, in.Op)
}

// stackNeed is the minimum stack depth in requires.
func stackNeed(in bytecode.Instruction) int {
	switch in.Op {
	case bytecode.OpPopTop, bytecode.OpDupTop, bytecode.OpStoreFast, bytecode.OpStoreGlobal,
		bytecode.OpStoreDeref, bytecode.OpLoadAttr, bytecode.OpLoadMethod, bytecode.OpUnaryNot,
		bytecode.OpUnaryNegative, bytecode.OpUnpackSequence, bytecode.OpPopJumpIfTrue,
		bytecode.OpPopJumpIfFalse, bytecode.OpJumpIfTrueOrPop, bytecode.OpJumpIfFalseOrPop,
		bytecode.OpGetIter, bytecode.OpGetYieldFromIter, bytecode.OpForIter, bytecode.OpReturnValue,
		bytecode.OpGenStart, bytecode.OpYieldValue:
		return 1
	case bytecode.OpRotTwo, bytecode.OpDupTopTwo, bytecode.OpStoreAttr, bytecode.OpCompareOp,
		bytecode.OpIsOp, bytecode.OpContainsOp, bytecode.OpJumpIfNotExcMatch, bytecode.OpYieldFrom,
		bytecode.OpBinaryAdd, bytecode.OpBinarySubtract, bytecode.OpBinaryMultiply,
		bytecode.OpBinaryTrueDivide, bytecode.OpBinaryFloorDivide, bytecode.OpBinaryModulo,
		bytecode.OpBinarySubscr, bytecode.OpInplaceAdd, bytecode.OpInplaceSubtract,
		bytecode.OpInplaceMultiply:
		return 2
	case bytecode.OpRotThree, bytecode.OpPopExcept, bytecode.OpReraise:
		return 3
	case bytecode.OpRotFour:
		return 4
	case bytecode.OpRotN, bytecode.OpBuildTuple, bytecode.OpBuildList, bytecode.OpRaiseVarargs:
		return in.Arg
	case bytecode.OpBuildMap:
		return 2 * in.Arg
	case bytecode.OpCallFunction:
		return in.Arg + 1
	case bytecode.OpCallFunctionKw, bytecode.OpCallMethod:
		return in.Arg + 2
	case bytecode.OpCallFunctionEx:
		if in.Arg&1 != 0 {
			return 3
		}
		return 2
	case bytecode.OpMakeFunction:
		return makeFunctionOperands(in.Arg)
	}
	return 0
}

// makeFunctionOperands counts the entries MAKE_FUNCTION pops: code and
// qualified name plus one per flag bit.
func makeFunctionOperands(flags int) int {
	n := 2
	for _, bit := range []int{bytecode.MakeFunctionDefaults, bytecode.MakeFunctionKwDefaults,
		bytecode.MakeFunctionAnnotations, bytecode.MakeFunctionClosure} {
		if flags&bit != 0 {
			n++
		}
	}
	return n
}

func checkIndex(in bytecode.Instruction, n int) error {
	if in.Arg < 0 || in.Arg >= n {
		return fmt.Errorf("%w: %s argument out of range (%d slots)", ErrImpossibleState, in, n)
	}
	return nil
}

// rotate lifts the top entry n-1 positions down.
func rotate(s *TypeState, n int) *TypeState {
	out := s.Clone()
	if n < 2 {
		return out
	}
	st := out.Stack
	top := st[len(st)-1]
	copy(st[len(st)-n+1:], st[len(st)-n:len(st)-1])
	st[len(st)-n] = top
	return out
}

// ---------------------------------------------------------------------------
// Operator typing
// ---------------------------------------------------------------------------

func isIntLike(t *types.Type) bool { return types.IsSubtype(t, types.Int) }

func isNumeric(t *types.Type) bool { return isIntLike(t) || types.Same(t, types.Float) }

// BinaryResult is the static result type of a binary operator.
func BinaryResult(op bytecode.Op, l, r *types.Type) *types.Type {
	switch op {
	case bytecode.OpBinaryAdd, bytecode.OpInplaceAdd:
		for _, t := range []*types.Type{types.Str, types.List, types.Tuple} {
			if types.Same(l, t) && types.Same(r, t) {
				return t
			}
		}
		return arithmetic(l, r)
	case bytecode.OpBinarySubtract, bytecode.OpInplaceSubtract, bytecode.OpBinaryFloorDivide:
		return arithmetic(l, r)
	case bytecode.OpBinaryMultiply, bytecode.OpInplaceMultiply:
		switch {
		case types.Same(l, types.Str) && isIntLike(r), isIntLike(l) && types.Same(r, types.Str):
			return types.Str
		case types.Same(l, types.List) && isIntLike(r):
			return types.List
		}
		return arithmetic(l, r)
	case bytecode.OpBinaryModulo:
		if types.Same(l, types.Str) {
			return types.Str
		}
		return arithmetic(l, r)
	case bytecode.OpBinaryTrueDivide:
		if isNumeric(l) && isNumeric(r) {
			return types.Float
		}
	case bytecode.OpBinarySubscr:
		if types.Same(l, types.Str) && isIntLike(r) {
			return types.Str
		}
	}
	return types.Object
}

func arithmetic(l, r *types.Type) *types.Type {
	switch {
	case isIntLike(l) && isIntLike(r):
		return types.Int
	case isNumeric(l) && isNumeric(r):
		return types.Float
	}
	return types.Object
}

// NegateResult is the static result type of unary minus.
func NegateResult(t *types.Type) *types.Type {
	switch {
	case isIntLike(t):
		return types.Int
	case types.Same(t, types.Float):
		return types.Float
	}
	return types.Object
}
