package target

import "fmt"

// Opcode is one target instruction kind.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpPop   Opcode = 0x01 // Pop top of stack
	OpDup   Opcode = 0x02 // a -> a a
	OpDupX1 Opcode = 0x03 // a b -> b a b
	OpDupX2 Opcode = 0x04 // a b c -> c a b c
	OpDup2  Opcode = 0x05 // a b -> a b a b
	OpSwap  Opcode = 0x06 // a b -> b a

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst Opcode = 0x10 // Push constant: CONST <index>
	OpNull  Opcode = 0x11 // Push the NULL sentinel

	// ========================================================================
	// Slots (0x20-0x27)
	// ========================================================================

	OpLoad     Opcode = 0x20 // Push slot: LOAD <slot>
	OpStore    Opcode = 0x21 // Pop into slot: STORE <slot>
	OpLoadFree Opcode = 0x22 // Push the running function's closure cell: LOAD_FREE <index>

	// ========================================================================
	// Fields of the running unit instance (0x28-0x2F)
	// ========================================================================

	OpGetField Opcode = 0x28 // Push field: GETFIELD <index>
	OpPutField Opcode = 0x29 // Pop into field: PUTFIELD <index>

	// ========================================================================
	// Cells (0x30-0x37)
	// ========================================================================

	OpCellNew Opcode = 0x30 // Push a new empty cell
	OpCellGet Opcode = 0x31 // cell -> contents; raises when empty
	OpCellSet Opcode = 0x32 // cell value ->

	// ========================================================================
	// Names and attributes (0x38-0x3F)
	// ========================================================================

	OpGlobalGet    Opcode = 0x38 // Push global: GLOBAL_GET <name>
	OpGlobalSet    Opcode = 0x39 // Pop into global: GLOBAL_SET <name>
	OpAttrGet      Opcode = 0x3A // obj -> obj.name
	OpAttrSet      Opcode = 0x3B // value obj -> ; obj.name = value
	OpMethodLookup Opcode = 0x3C // obj -> method obj | value NULL
	OpHostRef      Opcode = 0x3D // Push host callable by qualified name: HOST_REF <name>
	OpTypeOf       Opcode = 0x3E // obj -> type(obj)

	// ========================================================================
	// Calls (0x40-0x4F)
	// ========================================================================

	OpInvokeHost   Opcode = 0x40 // args... -> result: INVOKE_HOST <symbol> <argc>
	OpCall         Opcode = 0x41 // callable [receiver] args kwargs -> result: CALL <flags>
	OpInvokeSelf   Opcode = 0x42 // Invoke a method of the running unit: INVOKE_SELF <method>
	OpMakeFunction Opcode = 0x43 // [defaults] [kwdefaults] [closure] -> function: MAKE_FUNCTION <unit> <flags>
	OpNewGenerator Opcode = 0x44 // args... -> generator: NEW_GENERATOR <unit> <argc>
	OpSplitKw      Opcode = 0x45 // args names -> positional kwargs
	OpToTuple      Opcode = 0x46 // iterable -> tuple

	// ========================================================================
	// Operators (0x50-0x57)
	// ========================================================================

	OpBinop     Opcode = 0x50 // a b -> a op b: BINOP <operator>
	OpCmp       Opcode = 0x51 // a b -> a cmp b: CMP <comparison>
	OpUnop      Opcode = 0x52 // a -> op a: UNOP <operator>
	OpIs        Opcode = 0x53 // a b -> a is b: IS <invert>
	OpContains  Opcode = 0x54 // a b -> a in b: CONTAINS <invert>
	OpCheckCast Opcode = 0x55 // Assert TOS type: CHECKCAST <type>

	// ========================================================================
	// Builders (0x58-0x5F)
	// ========================================================================

	OpBuildTuple Opcode = 0x58 // n values -> tuple: BUILD_TUPLE <n>
	OpBuildList  Opcode = 0x59 // n values -> list: BUILD_LIST <n>
	OpBuildMap   Opcode = 0x5A // n key/value pairs -> dict: BUILD_MAP <n>
	OpUnpack     Opcode = 0x5B // seq -> item[n-1] ... item[0]: UNPACK <n>

	// ========================================================================
	// Iteration (0x60-0x6F)
	// ========================================================================

	OpGetIter       Opcode = 0x60 // iterable -> iterator
	OpIterNext      Opcode = 0x61 // iter -> iter item, or pop and jump when exhausted
	OpYieldFromIter Opcode = 0x62 // iterable -> iterator, generators pass through
	OpSubAdvance    Opcode = 0x63 // subiter value -> result done: SUB_ADVANCE <mode>

	// ========================================================================
	// Control flow (0x70-0x77)
	// ========================================================================

	OpGoto      Opcode = 0x70 // Unconditional jump
	OpIfTrue    Opcode = 0x71 // Pop, jump if truthy
	OpIfFalse   Opcode = 0x72 // Pop, jump if falsy
	OpIfNull    Opcode = 0x73 // Pop, jump if NULL
	OpIfNonNull Opcode = 0x74 // Pop, jump unless NULL
	OpSwitch    Opcode = 0x75 // Pop int, jump through key table

	// ========================================================================
	// Exceptions (0x78-0x7F)
	// ========================================================================

	OpExcMatch Opcode = 0x78 // exc pattern -> bool
	OpThrow    Opcode = 0x79 // exc [cause] -> raises: THROW <has-cause>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Pop and return
)

// OperandKind describes which operand fields of an Instr an opcode uses.
type OperandKind uint8

const (
	OperandNone    OperandKind = iota
	OperandInt                 // A
	OperandPair                // A, B
	OperandLabel               // A is a code index
	OperandName                // S
	OperandNameInt             // S, A
	OperandSwitch              // Keys, Targets, default in A
)

// Variable is the StackPop/StackPush marker for an effect that depends on
// the operands; see StackEffect.
const Variable = -1

// OpcodeInfo provides metadata about each opcode for disassembly and
// verification.
type OpcodeInfo struct {
	Name      string      // Human-readable name
	StackPop  int         // Values popped, or Variable
	StackPush int         // Values pushed, or Variable
	Operands  OperandKind // Operand fields used
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:   {"NOP", 0, 0, OperandNone},
	OpPop:   {"POP", 1, 0, OperandNone},
	OpDup:   {"DUP", 1, 2, OperandNone},
	OpDupX1: {"DUP_X1", 2, 3, OperandNone},
	OpDupX2: {"DUP_X2", 3, 4, OperandNone},
	OpDup2:  {"DUP2", 2, 4, OperandNone},
	OpSwap:  {"SWAP", 2, 2, OperandNone},

	// Constants
	OpConst: {"CONST", 0, 1, OperandInt},
	OpNull:  {"NULL", 0, 1, OperandNone},

	// Slots
	OpLoad:     {"LOAD", 0, 1, OperandInt},
	OpStore:    {"STORE", 1, 0, OperandInt},
	OpLoadFree: {"LOAD_FREE", 0, 1, OperandInt},

	// Fields
	OpGetField: {"GETFIELD", 0, 1, OperandInt},
	OpPutField: {"PUTFIELD", 1, 0, OperandInt},

	// Cells
	OpCellNew: {"CELL_NEW", 0, 1, OperandNone},
	OpCellGet: {"CELL_GET", 1, 1, OperandNone},
	OpCellSet: {"CELL_SET", 2, 0, OperandNone},

	// Names and attributes
	OpGlobalGet:    {"GLOBAL_GET", 0, 1, OperandName},
	OpGlobalSet:    {"GLOBAL_SET", 1, 0, OperandName},
	OpAttrGet:      {"ATTR_GET", 1, 1, OperandName},
	OpAttrSet:      {"ATTR_SET", 2, 0, OperandName},
	OpMethodLookup: {"METHOD_LOOKUP", 1, 2, OperandName},
	OpHostRef:      {"HOST_REF", 0, 1, OperandName},
	OpTypeOf:       {"TYPE_OF", 1, 1, OperandNone},

	// Calls
	OpInvokeHost:   {"INVOKE_HOST", Variable, 1, OperandNameInt},
	OpCall:         {"CALL", Variable, 1, OperandInt},
	OpInvokeSelf:   {"INVOKE_SELF", 0, 1, OperandName},
	OpMakeFunction: {"MAKE_FUNCTION", Variable, 1, OperandPair},
	OpNewGenerator: {"NEW_GENERATOR", Variable, 1, OperandPair},
	OpSplitKw:      {"SPLIT_KW", 2, 2, OperandNone},
	OpToTuple:      {"TO_TUPLE", 1, 1, OperandNone},

	// Operators
	OpBinop:     {"BINOP", 2, 1, OperandInt},
	OpCmp:       {"CMP", 2, 1, OperandInt},
	OpUnop:      {"UNOP", 1, 1, OperandInt},
	OpIs:        {"IS", 2, 1, OperandInt},
	OpContains:  {"CONTAINS", 2, 1, OperandInt},
	OpCheckCast: {"CHECKCAST", 1, 1, OperandName},

	// Builders
	OpBuildTuple: {"BUILD_TUPLE", Variable, 1, OperandInt},
	OpBuildList:  {"BUILD_LIST", Variable, 1, OperandInt},
	OpBuildMap:   {"BUILD_MAP", Variable, 1, OperandInt},
	OpUnpack:     {"UNPACK", 1, Variable, OperandInt},

	// Iteration
	OpGetIter:       {"GET_ITER", 1, 1, OperandNone},
	OpIterNext:      {"ITER_NEXT", 1, 2, OperandLabel}, // fallthrough effect
	OpYieldFromIter: {"YIELD_FROM_ITER", 1, 1, OperandNone},
	OpSubAdvance:    {"SUB_ADVANCE", 2, 2, OperandInt},

	// Control flow
	OpGoto:      {"GOTO", 0, 0, OperandLabel},
	OpIfTrue:    {"IF_TRUE", 1, 0, OperandLabel},
	OpIfFalse:   {"IF_FALSE", 1, 0, OperandLabel},
	OpIfNull:    {"IF_NULL", 1, 0, OperandLabel},
	OpIfNonNull: {"IF_NONNULL", 1, 0, OperandLabel},
	OpSwitch:    {"SWITCH", 1, 0, OperandSwitch},

	// Exceptions
	OpExcMatch: {"EXC_MATCH", 2, 1, OperandNone},
	OpThrow:    {"THROW", Variable, 0, OperandInt},

	// Return
	OpReturn: {"RETURN", 1, 0, OperandNone},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsBranch reports whether the opcode may transfer control to its label
// operand or switch table.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpGoto, OpIfTrue, OpIfFalse, OpIfNull, OpIfNonNull, OpSwitch, OpIterNext:
		return true
	}
	return false
}

// IsTerminal reports whether control never falls through to the next
// instruction.
func (op Opcode) IsTerminal() bool {
	switch op {
	case OpGoto, OpSwitch, OpThrow, OpReturn:
		return true
	}
	return false
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

// ============================================================================
// Operator operands
// ============================================================================

// Operator is the operand of BINOP and UNOP.
type Operator int

const (
	BinAdd Operator = iota
	BinSub
	BinMul
	BinTrueDiv
	BinFloorDiv
	BinMod
	BinSubscr
	BinInplaceAdd // Extends lists in place, otherwise BinAdd

	UnaryNot
	UnaryNeg
)

var operatorNames = map[Operator]string{
	BinAdd:        "+",
	BinSub:        "-",
	BinMul:        "*",
	BinTrueDiv:    "/",
	BinFloorDiv:   "//",
	BinMod:        "%",
	BinSubscr:     "[]",
	BinInplaceAdd: "+=",
	UnaryNot:      "not",
	UnaryNeg:      "neg",
}

func (o Operator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Comparisons are the CMP operand meanings, by index.
var Comparisons = [...]string{"<", "<=", "==", "!=", ">", ">="}

// CALL flags.
const (
	CallWithReceiver = 0x01 // a receiver slot (possibly NULL) sits under args
)

// SUB_ADVANCE modes, matching the generator protocol's switch.
const (
	AdvanceNext  = 0
	AdvanceSend  = 1
	AdvanceThrow = 2
)

// MAKE_FUNCTION flag bits consumed from the stack. Annotations are
// discarded before the instruction and never reach it.
const (
	FunctionDefaults   = 0x01
	FunctionKwDefaults = 0x02
	FunctionClosure    = 0x08
)
