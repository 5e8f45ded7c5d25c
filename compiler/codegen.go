package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// ---------------------------------------------------------------------------
// Codegen: one source instruction to target code
// ---------------------------------------------------------------------------

var binaryOperators = map[bytecode.Op]target.Operator{
	bytecode.OpBinaryAdd:         target.BinAdd,
	bytecode.OpBinarySubtract:    target.BinSub,
	bytecode.OpBinaryMultiply:    target.BinMul,
	bytecode.OpBinaryTrueDivide:  target.BinTrueDiv,
	bytecode.OpBinaryFloorDivide: target.BinFloorDiv,
	bytecode.OpBinaryModulo:      target.BinMod,
	bytecode.OpBinarySubscr:      target.BinSubscr,
	bytecode.OpInplaceAdd:        target.BinInplaceAdd,
	bytecode.OpInplaceSubtract:   target.BinSub,
	bytecode.OpInplaceMultiply:   target.BinMul,
}

// instruction generates the code of in, given the state before it.
func (e *emitter) instruction(in bytecode.Instruction, pre *flow.TypeState) error {
	switch in.Op {
	// ============ Stack Operations ============
	case bytecode.OpNop:
	case bytecode.OpPopTop:
		e.op(target.OpPop)
	case bytecode.OpRotTwo:
		return e.shiftDown(1)
	case bytecode.OpRotThree:
		return e.shiftDown(2)
	case bytecode.OpRotFour:
		return e.shiftDown(3)
	case bytecode.OpRotN:
		return e.shiftDown(in.Arg - 1)
	case bytecode.OpDupTop:
		e.op(target.OpDup)
	case bytecode.OpDupTopTwo:
		e.op(target.OpDup2)

	// ============ Variables ============
	case bytecode.OpLoadConst:
		return e.loadConst(in.Arg)
	case bytecode.OpLoadFast:
		e.loadFast(in.Offset, in.Arg)
	case bytecode.OpStoreFast:
		e.store(e.slots.Local(in.Arg))
	case bytecode.OpDeleteFast:
		e.op(target.OpNull)
		e.store(e.slots.Local(in.Arg))
	case bytecode.OpLoadGlobal:
		e.opName(target.OpGlobalGet, e.a.env.Name(in.Arg))
	case bytecode.OpStoreGlobal:
		e.opName(target.OpGlobalSet, e.a.env.Name(in.Arg))
	case bytecode.OpLoadDeref:
		e.load(e.slots.Cell(in.Arg))
		e.op(target.OpCellGet)
	case bytecode.OpStoreDeref:
		e.load(e.slots.Cell(in.Arg))
		e.op(target.OpSwap)
		e.op(target.OpCellSet)
	case bytecode.OpLoadClosure:
		e.load(e.slots.Cell(in.Arg))

	// ============ Attributes ============
	case bytecode.OpLoadAttr:
		e.opName(target.OpAttrGet, e.a.env.Name(in.Arg))
	case bytecode.OpStoreAttr:
		e.opName(target.OpAttrSet, e.a.env.Name(in.Arg))
	case bytecode.OpLoadMethod:
		e.loadMethod(in, pre)

	// ============ Operators ============
	case bytecode.OpBinaryAdd, bytecode.OpBinarySubtract, bytecode.OpBinaryMultiply,
		bytecode.OpBinaryTrueDivide, bytecode.OpBinaryFloorDivide, bytecode.OpBinaryModulo,
		bytecode.OpBinarySubscr, bytecode.OpInplaceAdd, bytecode.OpInplaceSubtract,
		bytecode.OpInplaceMultiply:
		e.opInt(target.OpBinop, int(binaryOperators[in.Op]))
	case bytecode.OpCompareOp:
		if in.Arg < 0 || in.Arg >= len(target.Comparisons) {
			return fmt.Errorf("%w: comparison %d", ErrUnsupported, in.Arg)
		}
		e.opInt(target.OpCmp, in.Arg)
	case bytecode.OpIsOp:
		e.opInt(target.OpIs, in.Arg)
	case bytecode.OpContainsOp:
		e.opInt(target.OpContains, in.Arg)
	case bytecode.OpUnaryNot:
		e.opInt(target.OpUnop, int(target.UnaryNot))
	case bytecode.OpUnaryNegative:
		e.opInt(target.OpUnop, int(target.UnaryNeg))

	// ============ Collections ============
	case bytecode.OpBuildTuple:
		e.opInt(target.OpBuildTuple, in.Arg)
	case bytecode.OpBuildList:
		e.opInt(target.OpBuildList, in.Arg)
	case bytecode.OpBuildMap:
		e.opInt(target.OpBuildMap, in.Arg)
	case bytecode.OpUnpackSequence:
		e.opInt(target.OpUnpack, in.Arg)

	// ============ Control Flow ============
	case bytecode.OpJumpForward, bytecode.OpJumpAbsolute:
		e.jump(target.OpGoto, e.labels[in.Target])
	case bytecode.OpPopJumpIfTrue:
		e.jump(target.OpIfTrue, e.labels[in.Target])
	case bytecode.OpPopJumpIfFalse:
		e.jump(target.OpIfFalse, e.labels[in.Target])
	case bytecode.OpJumpIfTrueOrPop:
		e.op(target.OpDup)
		e.jump(target.OpIfTrue, e.labels[in.Target])
		e.op(target.OpPop)
	case bytecode.OpJumpIfFalseOrPop:
		e.op(target.OpDup)
		e.jump(target.OpIfFalse, e.labels[in.Target])
		e.op(target.OpPop)
	case bytecode.OpGetIter:
		e.op(target.OpGetIter)
	case bytecode.OpForIter:
		e.jump(target.OpIterNext, e.labels[in.Target])
	case bytecode.OpReturnValue:
		if e.gen != nil {
			e.generatorReturn()
			break
		}
		e.op(target.OpReturn)

	// ============ Exceptions ============
	case bytecode.OpSetupFinally:
		e.setupFinally(in.Offset, pre)
	case bytecode.OpPopBlock:
	case bytecode.OpPopExcept:
		e.popExcept()
	case bytecode.OpJumpIfNotExcMatch:
		e.op(target.OpExcMatch)
		e.jump(target.OpIfFalse, e.labels[in.Target])
	case bytecode.OpRaiseVarargs:
		return e.raise(in.Arg)
	case bytecode.OpReraise:
		// traceback, exception, type: the exception object keeps its
		// traceback, so raising it again is enough.
		e.op(target.OpPop)
		e.opInt(target.OpThrow, 0)

	// ============ Calls ============
	case bytecode.OpCallFunction:
		return e.callFunction(in, pre)
	case bytecode.OpCallFunctionKw:
		return e.callFunctionKw(in, pre)
	case bytecode.OpCallFunctionEx:
		e.callFunctionEx(in)
	case bytecode.OpCallMethod:
		return e.callMethod(in, pre)
	case bytecode.OpMakeFunction:
		return e.makeFunction(in, pre)

	// ============ Generators ============
	case bytecode.OpGenStart:
		e.op(target.OpPop)
	case bytecode.OpGetYieldFromIter:
		e.op(target.OpYieldFromIter)
	case bytecode.OpYieldValue:
		if e.gen == nil {
			return fmt.Errorf("%w: %s outside a generator body", ErrUnsupported, in.Op)
		}
		e.yieldValue(in.Offset, pre)
	case bytecode.OpYieldFrom:
		if e.gen == nil {
			return fmt.Errorf("%w: %s outside a generator body", ErrUnsupported, in.Op)
		}
		return e.yieldFrom(in.Offset, pre)

	default:
		return fmt.Errorf("%w: no code generator for %s", ErrUnsupported, in.Op)
	}
	return nil
}

// loadConst pushes consts[i]. Code objects are only consumed by
// MAKE_FUNCTION, which finds them through their static type, so they are
// represented by NULL.
func (e *emitter) loadConst(i int) error {
	consts := e.a.rec.Consts
	if i < 0 || i >= len(consts) {
		return fmt.Errorf("%w: constant %d of %d", flow.ErrImpossibleState, i, len(consts))
	}
	if consts[i].Kind == bytecode.ConstCode {
		e.op(target.OpNull)
		return nil
	}
	e.constant(consts[i])
	return nil
}

// loadFast pushes a local. A local not bound on every path to at is
// checked at runtime.
func (e *emitter) loadFast(at, local int) {
	e.load(e.slots.Local(local))
	if s := e.a.assigned[at]; s != nil && s[local] {
		return
	}
	bound := e.chunk.NewLabel()
	e.op(target.OpDup)
	e.jump(target.OpIfNonNull, bound)
	e.op(target.OpPop)
	e.raiseNew("UnboundLocalError",
		fmt.Sprintf("local variable '%s' referenced before assignment", e.a.rec.VarNames[local]))
	e.chunk.Mark(bound)
}

// loadMethod emits LOAD_METHOD. A receiver whose static type has a
// registered method with one binding gets a direct reference in the shape
// the binding needs; anything else goes through METHOD_LOOKUP.
func (e *emitter) loadMethod(in bytecode.Instruction, pre *flow.TypeState) {
	name := e.a.env.Name(in.Arg)
	owner, _, binding, ok := e.a.env.MethodCandidates(pre.Peek(0).Type, name)
	if !ok {
		e.opName(target.OpMethodLookup, name)
		return
	}
	ref := owner.Name + "." + name
	if binding == callsig.Static {
		e.op(target.OpPop)
		e.opName(target.OpHostRef, ref)
		e.op(target.OpNull)
		return
	}
	e.opName(target.OpHostRef, ref)
	e.op(target.OpSwap)
}

// makeFunction compiles the code constant into a nested unit and builds
// the function object. The qualified name and annotations are dropped.
func (e *emitter) makeFunction(in bytecode.Instruction, pre *flow.TypeState) error {
	code := pre.Peek(1)
	if code == nil || code.Type.Kind != types.KindCode {
		return fmt.Errorf("%w: MAKE_FUNCTION of a code object that is not a constant", ErrUnsupported)
	}
	index, err := strconv.Atoi(code.Type.Ref)
	if err != nil {
		return fmt.Errorf("%w: code reference %q", flow.ErrImpossibleState, code.Type.Ref)
	}
	nested, err := e.u.nestedUnit(e.a.rec, index)
	if err != nil {
		return err
	}

	e.op(target.OpPop) // qualified name
	e.op(target.OpPop) // code
	if in.Arg&bytecode.MakeFunctionAnnotations != 0 {
		if in.Arg&bytecode.MakeFunctionClosure != 0 {
			e.op(target.OpSwap)
		}
		e.op(target.OpPop)
	}
	e.chunk.EmitPair(target.OpMakeFunction, nested, in.Arg&^bytecode.MakeFunctionAnnotations)
	return nil
}
