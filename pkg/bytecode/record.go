package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// RawInstruction is one undecoded instruction as the loader emits it.
type RawInstruction struct {
	Op         string `cbor:"op"`
	Arg        int    `cbor:"arg"`
	Offset     int    `cbor:"offset"`
	JumpTarget bool   `cbor:"target,omitempty"`
}

// FunctionRecord is the compiler's input: everything it needs to know about
// one source function.
type FunctionRecord struct {
	Name     string `cbor:"name"`
	QualName string `cbor:"qualname,omitempty"`
	Module   string `cbor:"module,omitempty"`
	Version  string `cbor:"version"`

	Instructions []RawInstruction `cbor:"instructions"`

	// Parameter shape, laid out like a code object: the first ArgCount
	// varnames are positional (the first PosOnlyCount of those are
	// positional-only), followed by KwOnlyCount keyword-only names, then
	// the *args name and the **kwargs name when present.
	ArgCount     int      `cbor:"argcount"`
	PosOnlyCount int      `cbor:"posonlycount,omitempty"`
	KwOnlyCount  int      `cbor:"kwonlycount,omitempty"`
	VarArgs      bool     `cbor:"varargs,omitempty"`
	VarKwargs    bool     `cbor:"varkwargs,omitempty"`
	ParamTypes   []string `cbor:"paramtypes,omitempty"` // "" means object
	ReturnType   string   `cbor:"returntype,omitempty"`

	VarNames []string `cbor:"varnames"`
	CellVars []string `cbor:"cellvars,omitempty"`
	FreeVars []string `cbor:"freevars,omitempty"`
	Names    []string `cbor:"names,omitempty"`

	Consts     []Constant          `cbor:"consts"`
	Defaults   []Constant          `cbor:"defaults,omitempty"`   // trailing positional defaults
	KwDefaults map[string]Constant `cbor:"kwdefaults,omitempty"` // keyword-only defaults

	Generator bool `cbor:"generator,omitempty"`
}

// ParamCount returns the number of parameter slots, including *args and
// **kwargs.
func (r *FunctionRecord) ParamCount() int {
	n := r.ArgCount + r.KwOnlyCount
	if r.VarArgs {
		n++
	}
	if r.VarKwargs {
		n++
	}
	return n
}

// ParamNames returns the parameter names in slot order.
func (r *FunctionRecord) ParamNames() []string {
	n := r.ParamCount()
	if n > len(r.VarNames) {
		n = len(r.VarNames)
	}
	return r.VarNames[:n]
}

// ParamType returns the declared type name of parameter i, or "" when the
// parameter is untyped.
func (r *FunctionRecord) ParamType(i int) string {
	if i < len(r.ParamTypes) {
		return r.ParamTypes[i]
	}
	return ""
}

// DisplayName is the qualified name when present, otherwise the plain name.
func (r *FunctionRecord) DisplayName() string {
	if r.QualName != "" {
		return r.QualName
	}
	return r.Name
}

// IsGenerator reports whether the function suspends. The flag is trusted
// when set; otherwise the instruction list is scanned for yields.
func (r *FunctionRecord) IsGenerator() bool {
	if r.Generator {
		return true
	}
	for _, in := range r.Instructions {
		if in.Op == "YIELD_VALUE" || in.Op == "YIELD_FROM" || in.Op == "GEN_START" {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstKind tags the payload of a Constant.
type ConstKind uint8

const (
	ConstNone ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstStr
	ConstTuple
	ConstCode
)

var constKindNames = [...]string{"none", "bool", "int", "float", "str", "tuple", "code"}

func (k ConstKind) String() string {
	if int(k) < len(constKindNames) {
		return constKindNames[k]
	}
	return fmt.Sprintf("ConstKind(%d)", k)
}

// Constant is a constant-pool entry.
type Constant struct {
	Kind  ConstKind       `cbor:"k"`
	Bool  bool            `cbor:"b,omitempty"`
	Int   int64           `cbor:"i,omitempty"`
	Float float64         `cbor:"f,omitempty"`
	Str   string          `cbor:"s,omitempty"`
	Items []Constant      `cbor:"t,omitempty"`
	Code  *FunctionRecord `cbor:"c,omitempty"`
}

func None() Constant { return Constant{Kind: ConstNone} }
func Bool(v bool) Constant { return Constant{Kind: ConstBool, Bool: v} }
func Int(v int64) Constant { return Constant{Kind: ConstInt, Int: v} }
func Float(v float64) Constant { return Constant{Kind: ConstFloat, Float: v} }
func Str(v string) Constant { return Constant{Kind: ConstStr, Str: v} }
func Tuple(items ...Constant) Constant {
	return Constant{Kind: ConstTuple, Items: items}
}
func Code(rec *FunctionRecord) Constant { return Constant{Kind: ConstCode, Code: rec} }

// StringItems returns the items of a tuple of strings, as used for keyword
// name tuples. ok is false for any other constant.
func (c Constant) StringItems() (names []string, ok bool) {
	if c.Kind != ConstTuple {
		return nil, false
	}
	names = make([]string, len(c.Items))
	for i, it := range c.Items {
		if it.Kind != ConstStr {
			return nil, false
		}
		names[i] = it.Str
	}
	return names, true
}

// Equal reports structural equality. Code constants are equal only when
// they share the record.
func (c Constant) Equal(o Constant) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ConstNone:
		return true
	case ConstBool:
		return c.Bool == o.Bool
	case ConstInt:
		return c.Int == o.Int
	case ConstFloat:
		return c.Float == o.Float
	case ConstStr:
		return c.Str == o.Str
	case ConstTuple:
		if len(c.Items) != len(o.Items) {
			return false
		}
		for i := range c.Items {
			if !c.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	case ConstCode:
		return c.Code == o.Code
	}
	return false
}

// String renders the constant the way the source language would print it.
func (c Constant) String() string {
	switch c.Kind {
	case ConstNone:
		return "None"
	case ConstBool:
		if c.Bool {
			return "True"
		}
		return "False"
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case ConstStr:
		return strconv.Quote(c.Str)
	case ConstTuple:
		parts := make([]string, len(c.Items))
		for i, it := range c.Items {
			parts[i] = it.String()
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ConstCode:
		if c.Code == nil {
			return "<code>"
		}
		return "<code " + c.Code.DisplayName() + ">"
	}
	return c.Kind.String()
}
