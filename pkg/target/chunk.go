package target

import (
	"errors"
	"fmt"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
)

// FormatVersion is the current unit format version.
// Increment when making incompatible changes to the format.
const FormatVersion = 1

// ErrUnboundLabel is returned by Finish when a jump names a label that was
// never placed.
var ErrUnboundLabel = errors.New("unbound label")

// UnitKind distinguishes plain functions from generator bodies.
type UnitKind uint8

const (
	UnitFunction UnitKind = iota
	UnitGenerator
)

// String returns a human-readable name for UnitKind.
func (k UnitKind) String() string {
	switch k {
	case UnitFunction:
		return "function"
	case UnitGenerator:
		return "generator"
	default:
		return "unknown"
	}
}

// Interface is the single-method contract a unit implements.
type Interface struct {
	Name   string `cbor:"name"`
	Method string `cbor:"method"`
	Arity  int    `cbor:"arity"`
}

// FunctionInterface is the default contract for a function of arity n.
func FunctionInterface(n int) Interface {
	return Interface{Name: fmt.Sprintf("pyaot.Function%d", n), Method: "call", Arity: n}
}

// GeneratorInterface is the contract of every generator body unit.
var GeneratorInterface = Interface{Name: "pyaot.Generator", Method: "$progress", Arity: 0}

// Instr is one target instruction. Which operand fields are meaningful
// depends on the opcode's OperandKind. After Finish, label operands are
// code indices.
type Instr struct {
	Op      Opcode `cbor:"op"`
	A       int    `cbor:"a,omitempty"`
	B       int    `cbor:"b,omitempty"`
	S       string `cbor:"s,omitempty"`
	Keys    []int  `cbor:"keys,omitempty"`
	Targets []int  `cbor:"targets,omitempty"`
}

// Handler protects the code range [Start, End). An exception raised there
// clears the operand stack, pushes the exception and continues at Target.
// The first matching entry wins, so inner ranges come first.
type Handler struct {
	Start  int `cbor:"start"`
	End    int `cbor:"end"`
	Target int `cbor:"target"`
}

// Method is finished target code.
type Method struct {
	Name     string    `cbor:"name"`
	Arity    int       `cbor:"arity"`
	MaxSlots int       `cbor:"maxslots"`
	MaxStack int       `cbor:"maxstack"`
	Code     []Instr   `cbor:"code"`
	Handlers []Handler `cbor:"handlers,omitempty"`
}

// Unit is a loadable, class-like compilation result.
type Unit struct {
	Version   int                 `cbor:"version"`
	Name      string              `cbor:"name"`
	Kind      UnitKind            `cbor:"kind"`
	Interface Interface           `cbor:"interface"`
	Signature *callsig.Signature  `cbor:"signature,omitempty"`
	Consts    []bytecode.Constant `cbor:"consts,omitempty"`
	Fields    []string            `cbor:"fields,omitempty"`
	Methods   []*Method           `cbor:"methods"`
	Nested    []*Unit             `cbor:"nested,omitempty"`
}

// NewUnit creates an empty unit with the current version.
func NewUnit(name string, kind UnitKind, iface Interface) *Unit {
	return &Unit{Version: FormatVersion, Name: name, Kind: kind, Interface: iface}
}

// AddConstant adds a constant to the pool and returns its index.
// If an equal constant already exists, returns the existing index.
func (u *Unit) AddConstant(c bytecode.Constant) int {
	for i, existing := range u.Consts {
		if existing.Equal(c) {
			return i
		}
	}
	u.Consts = append(u.Consts, c)
	return len(u.Consts) - 1
}

// AddField declares a field and returns its index. Declaring a name twice
// returns the first index.
func (u *Unit) AddField(name string) int {
	if i := u.Field(name); i >= 0 {
		return i
	}
	u.Fields = append(u.Fields, name)
	return len(u.Fields) - 1
}

// Field returns the index of a field, or -1.
func (u *Unit) Field(name string) int {
	for i, f := range u.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// AddNested appends a nested unit and returns its index.
func (u *Unit) AddNested(n *Unit) int {
	u.Nested = append(u.Nested, n)
	return len(u.Nested) - 1
}

// Method returns the method with the given name, or nil.
func (u *Unit) Method(name string) *Method {
	for _, m := range u.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Entry returns the method implementing the unit's interface.
func (u *Unit) Entry() *Method {
	return u.Method(u.Interface.Method)
}

// Walk calls fn for u and every unit nested inside it, depth first.
func (u *Unit) Walk(fn func(*Unit)) {
	fn(u)
	for _, n := range u.Nested {
		n.Walk(fn)
	}
}

// ============================================================================
// Chunk: method code under construction
// ============================================================================

// Label names a code position that may not be known yet.
type Label int

// Chunk accumulates the code of one method. Jumps refer to labels, which
// Finish patches into code indices.
type Chunk struct {
	Code     []Instr
	Handlers []Handler

	labels []int // label -> code index, -1 while unplaced
}

// NewChunk creates an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{Code: make([]Instr, 0, 64)}
}

// Emit appends an instruction without operands.
func (c *Chunk) Emit(op Opcode) int {
	return c.EmitInstr(Instr{Op: op})
}

// EmitInt appends an instruction with an integer operand.
func (c *Chunk) EmitInt(op Opcode, a int) int {
	return c.EmitInstr(Instr{Op: op, A: a})
}

// EmitPair appends an instruction with two integer operands.
func (c *Chunk) EmitPair(op Opcode, a, b int) int {
	return c.EmitInstr(Instr{Op: op, A: a, B: b})
}

// EmitName appends an instruction with a name operand.
func (c *Chunk) EmitName(op Opcode, s string) int {
	return c.EmitInstr(Instr{Op: op, S: s})
}

// EmitNameInt appends an instruction with a name and an integer operand.
func (c *Chunk) EmitNameInt(op Opcode, s string, a int) int {
	return c.EmitInstr(Instr{Op: op, S: s, A: a})
}

// EmitInstr appends in and returns its code index.
func (c *Chunk) EmitInstr(in Instr) int {
	c.Code = append(c.Code, in)
	return len(c.Code) - 1
}

// NewLabel allocates an unplaced label.
func (c *Chunk) NewLabel() Label {
	c.labels = append(c.labels, -1)
	return Label(len(c.labels) - 1)
}

// Mark places l at the current position.
func (c *Chunk) Mark(l Label) {
	c.labels[l] = len(c.Code)
}

// MarkedAt returns the code index of a placed label.
func (c *Chunk) MarkedAt(l Label) (int, bool) {
	if int(l) < 0 || int(l) >= len(c.labels) || c.labels[l] < 0 {
		return 0, false
	}
	return c.labels[l], true
}

// EmitJump appends a branch to l.
func (c *Chunk) EmitJump(op Opcode, l Label) int {
	return c.EmitInstr(Instr{Op: op, A: int(l)})
}

// EmitSwitch appends a SWITCH jumping to targets[i] when the popped value
// is keys[i] and to def otherwise.
func (c *Chunk) EmitSwitch(keys []int, targets []Label, def Label) int {
	ts := make([]int, len(targets))
	for i, t := range targets {
		ts[i] = int(t)
	}
	return c.EmitInstr(Instr{Op: OpSwitch, Keys: append([]int(nil), keys...), Targets: ts, A: int(def)})
}

// AddHandler protects [start, end) with a handler at target. Handlers added
// first take precedence.
func (c *Chunk) AddHandler(start, end, target Label) {
	c.Handlers = append(c.Handlers, Handler{Start: int(start), End: int(end), Target: int(target)})
}

// CurrentOffset returns the index the next instruction will get.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// Finish patches every label operand, verifies the stack discipline and
// returns the method.
func (c *Chunk) Finish(name string, arity, maxSlots int) (*Method, error) {
	resolve := func(l int) (int, error) {
		at, ok := c.MarkedAt(Label(l))
		if !ok {
			return 0, fmt.Errorf("%s: %w %d", name, ErrUnboundLabel, l)
		}
		return at, nil
	}

	code := make([]Instr, len(c.Code))
	copy(code, c.Code)
	for i := range code {
		in := &code[i]
		info := GetOpcodeInfo(in.Op)
		var err error
		switch info.Operands {
		case OperandLabel:
			in.A, err = resolve(in.A)
		case OperandSwitch:
			if in.A, err = resolve(in.A); err != nil {
				break
			}
			targets := make([]int, len(in.Targets))
			for j, l := range in.Targets {
				if targets[j], err = resolve(l); err != nil {
					break
				}
			}
			in.Targets = targets
		}
		if err != nil {
			return nil, err
		}
	}

	handlers := make([]Handler, 0, len(c.Handlers))
	for _, h := range c.Handlers {
		start, err := resolve(h.Start)
		if err != nil {
			return nil, err
		}
		end, err := resolve(h.End)
		if err != nil {
			return nil, err
		}
		target, err := resolve(h.Target)
		if err != nil {
			return nil, err
		}
		if start < end {
			handlers = append(handlers, Handler{Start: start, End: end, Target: target})
		}
	}

	m := &Method{Name: name, Arity: arity, MaxSlots: maxSlots, Code: code, Handlers: handlers}
	maxStack, err := Verify(m)
	if err != nil {
		return nil, err
	}
	m.MaxStack = maxStack
	return m, nil
}
