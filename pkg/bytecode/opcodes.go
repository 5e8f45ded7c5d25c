package bytecode

import "fmt"

// Op is a decoded source opcode kind. The set is closed: every code
// generator and transfer function switches over it exhaustively.
type Op uint8

const (
	OpInvalid Op = iota

	// ========================================================================
	// Stack manipulation
	// ========================================================================

	OpNop       // No operation
	OpPopTop    // Discard TOS
	OpRotTwo    // Swap TOS and TOS1
	OpRotThree  // Lift TOS two positions down
	OpRotFour   // Lift TOS three positions down
	OpRotN      // Lift TOS arg-1 positions down (3.10)
	OpDupTop    // Duplicate TOS
	OpDupTopTwo // Duplicate TOS1, TOS

	// ========================================================================
	// Variables
	// ========================================================================

	OpLoadConst   // Push consts[arg]
	OpLoadFast    // Push varnames[arg]
	OpStoreFast   // Pop into varnames[arg]
	OpDeleteFast  // Unbind varnames[arg]
	OpLoadGlobal  // Push global names[arg]
	OpStoreGlobal // Pop into global names[arg]
	OpLoadDeref   // Push contents of cell arg
	OpStoreDeref  // Pop into cell arg
	OpLoadClosure // Push cell arg itself

	// ========================================================================
	// Attributes
	// ========================================================================

	OpLoadAttr   // Replace TOS with TOS.names[arg]
	OpStoreAttr  // TOS.names[arg] = TOS1
	OpLoadMethod // Replace TOS with (method, receiver-or-NULL)

	// ========================================================================
	// Operators
	// ========================================================================

	OpBinaryAdd
	OpBinarySubtract
	OpBinaryMultiply
	OpBinaryTrueDivide
	OpBinaryFloorDivide
	OpBinaryModulo
	OpBinarySubscr
	OpInplaceAdd
	OpInplaceSubtract
	OpInplaceMultiply
	OpCompareOp  // arg indexes CompareOps
	OpIsOp       // arg 1 inverts
	OpContainsOp // arg 1 inverts
	OpUnaryNot
	OpUnaryNegative

	// ========================================================================
	// Collections
	// ========================================================================

	OpBuildTuple     // Pop arg items, push tuple
	OpBuildList      // Pop arg items, push list
	OpBuildMap       // Pop arg key/value pairs, push dict
	OpUnpackSequence // Pop sequence, push arg items (first item on top)

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJumpForward      // Relative, forced
	OpJumpAbsolute     // Absolute, forced
	OpPopJumpIfTrue    // Absolute; pops condition
	OpPopJumpIfFalse   // Absolute; pops condition
	OpJumpIfTrueOrPop  // Absolute; keeps condition when jumping
	OpJumpIfFalseOrPop // Absolute; keeps condition when jumping
	OpGetIter          // Replace TOS with iter(TOS)
	OpForIter          // Relative; push next item or pop iterator and jump
	OpReturnValue      // Return TOS

	// ========================================================================
	// Exceptions
	// ========================================================================

	OpSetupFinally      // Relative; push handler block
	OpPopBlock          // Pop handler block
	OpPopExcept         // Pop the saved exception triple
	OpJumpIfNotExcMatch // Absolute; pops pattern and exception type
	OpRaiseVarargs      // Raise with arg operands (0 re-raises)
	OpReraise           // Re-raise the exception under the handler triple

	// ========================================================================
	// Calls
	// ========================================================================

	OpCallFunction   // arg positional arguments
	OpCallFunctionKw // arg arguments, TOS is a tuple of keyword names
	OpCallFunctionEx // arg&1: kwargs mapping present
	OpCallMethod     // arg positional arguments after (method, receiver)
	OpMakeFunction   // arg flag bits select defaults/kwdefaults/annotations/closure

	// ========================================================================
	// Generators
	// ========================================================================

	OpGenStart         // Pop the initial sent value (3.10)
	OpYieldValue       // Suspend with TOS
	OpYieldFrom        // Delegate to sub-iterator at TOS1
	OpGetYieldFromIter // Replace TOS with iter(TOS) unless it is a generator

	opCount
)

// JumpKind describes how an opcode's argument encodes its branch target.
type JumpKind uint8

const (
	JumpNone JumpKind = iota
	JumpRelative
	JumpAbsolute
)

// OpInfo provides metadata about each opcode.
type OpInfo struct {
	Name     string   // Source-level opcode name
	Jump     JumpKind // How the argument encodes a target
	Forced   bool     // No fallthrough successor
	Suspends bool     // Generator suspension point
	Since    Version  // First version carrying the opcode; zero for all
}

var opInfoTable = [opCount]OpInfo{
	OpInvalid: {Name: "<invalid>"},

	OpNop:       {Name: "NOP"},
	OpPopTop:    {Name: "POP_TOP"},
	OpRotTwo:    {Name: "ROT_TWO"},
	OpRotThree:  {Name: "ROT_THREE"},
	OpRotFour:   {Name: "ROT_FOUR"},
	OpRotN:      {Name: "ROT_N", Since: Py310},
	OpDupTop:    {Name: "DUP_TOP"},
	OpDupTopTwo: {Name: "DUP_TOP_TWO"},

	OpLoadConst:   {Name: "LOAD_CONST"},
	OpLoadFast:    {Name: "LOAD_FAST"},
	OpStoreFast:   {Name: "STORE_FAST"},
	OpDeleteFast:  {Name: "DELETE_FAST"},
	OpLoadGlobal:  {Name: "LOAD_GLOBAL"},
	OpStoreGlobal: {Name: "STORE_GLOBAL"},
	OpLoadDeref:   {Name: "LOAD_DEREF"},
	OpStoreDeref:  {Name: "STORE_DEREF"},
	OpLoadClosure: {Name: "LOAD_CLOSURE"},

	OpLoadAttr:   {Name: "LOAD_ATTR"},
	OpStoreAttr:  {Name: "STORE_ATTR"},
	OpLoadMethod: {Name: "LOAD_METHOD"},

	OpBinaryAdd:         {Name: "BINARY_ADD"},
	OpBinarySubtract:    {Name: "BINARY_SUBTRACT"},
	OpBinaryMultiply:    {Name: "BINARY_MULTIPLY"},
	OpBinaryTrueDivide:  {Name: "BINARY_TRUE_DIVIDE"},
	OpBinaryFloorDivide: {Name: "BINARY_FLOOR_DIVIDE"},
	OpBinaryModulo:      {Name: "BINARY_MODULO"},
	OpBinarySubscr:      {Name: "BINARY_SUBSCR"},
	OpInplaceAdd:        {Name: "INPLACE_ADD"},
	OpInplaceSubtract:   {Name: "INPLACE_SUBTRACT"},
	OpInplaceMultiply:   {Name: "INPLACE_MULTIPLY"},
	OpCompareOp:         {Name: "COMPARE_OP"},
	OpIsOp:              {Name: "IS_OP"},
	OpContainsOp:        {Name: "CONTAINS_OP"},
	OpUnaryNot:          {Name: "UNARY_NOT"},
	OpUnaryNegative:     {Name: "UNARY_NEGATIVE"},

	OpBuildTuple:     {Name: "BUILD_TUPLE"},
	OpBuildList:      {Name: "BUILD_LIST"},
	OpBuildMap:       {Name: "BUILD_MAP"},
	OpUnpackSequence: {Name: "UNPACK_SEQUENCE"},

	OpJumpForward:      {Name: "JUMP_FORWARD", Jump: JumpRelative, Forced: true},
	OpJumpAbsolute:     {Name: "JUMP_ABSOLUTE", Jump: JumpAbsolute, Forced: true},
	OpPopJumpIfTrue:    {Name: "POP_JUMP_IF_TRUE", Jump: JumpAbsolute},
	OpPopJumpIfFalse:   {Name: "POP_JUMP_IF_FALSE", Jump: JumpAbsolute},
	OpJumpIfTrueOrPop:  {Name: "JUMP_IF_TRUE_OR_POP", Jump: JumpAbsolute},
	OpJumpIfFalseOrPop: {Name: "JUMP_IF_FALSE_OR_POP", Jump: JumpAbsolute},
	OpGetIter:          {Name: "GET_ITER"},
	OpForIter:          {Name: "FOR_ITER", Jump: JumpRelative},
	OpReturnValue:      {Name: "RETURN_VALUE", Forced: true},

	OpSetupFinally:      {Name: "SETUP_FINALLY", Jump: JumpRelative},
	OpPopBlock:          {Name: "POP_BLOCK"},
	OpPopExcept:         {Name: "POP_EXCEPT"},
	OpJumpIfNotExcMatch: {Name: "JUMP_IF_NOT_EXC_MATCH", Jump: JumpAbsolute},
	OpRaiseVarargs:      {Name: "RAISE_VARARGS", Forced: true},
	OpReraise:           {Name: "RERAISE", Forced: true},

	OpCallFunction:   {Name: "CALL_FUNCTION"},
	OpCallFunctionKw: {Name: "CALL_FUNCTION_KW"},
	OpCallFunctionEx: {Name: "CALL_FUNCTION_EX"},
	OpCallMethod:     {Name: "CALL_METHOD"},
	OpMakeFunction:   {Name: "MAKE_FUNCTION"},

	OpGenStart:         {Name: "GEN_START", Since: Py310},
	OpYieldValue:       {Name: "YIELD_VALUE", Suspends: true},
	OpYieldFrom:        {Name: "YIELD_FROM", Suspends: true},
	OpGetYieldFromIter: {Name: "GET_YIELD_FROM_ITER"},
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op := OpInvalid + 1; op < opCount; op++ {
		m[opInfoTable[op].Name] = op
	}
	return m
}()

// Info returns the metadata for op.
func (op Op) Info() OpInfo {
	if op < opCount {
		return opInfoTable[op]
	}
	return OpInfo{Name: fmt.Sprintf("Op(%d)", uint8(op))}
}

func (op Op) String() string {
	return op.Info().Name
}

// IsJump reports whether the argument of op encodes a branch target.
func (op Op) IsJump() bool {
	return op.Info().Jump != JumpNone
}

// IsForced reports whether op never falls through.
func (op Op) IsForced() bool {
	return op.Info().Forced
}

// Suspends reports whether op is a generator suspension point.
func (op Op) Suspends() bool {
	return op.Info().Suspends
}

// LookupOp resolves a source opcode name for the given language version.
func LookupOp(name string, v Version) (Op, bool) {
	op, ok := opByName[name]
	if !ok {
		return OpInvalid, false
	}
	if since := opInfoTable[op].Since; since != (Version{}) && v.Less(since) {
		return OpInvalid, false
	}
	return op, true
}

// AllOps returns every defined opcode, in declaration order.
func AllOps() []Op {
	ops := make([]Op, 0, opCount-1)
	for op := OpInvalid + 1; op < opCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// CompareOps are the COMPARE_OP argument meanings, by index.
var CompareOps = [...]string{"<", "<=", "==", "!=", ">", ">="}

// MAKE_FUNCTION flag bits.
const (
	MakeFunctionDefaults    = 0x01
	MakeFunctionKwDefaults  = 0x02
	MakeFunctionAnnotations = 0x04
	MakeFunctionClosure     = 0x08
)
