package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/types"
)

// Value is anything compiled code can hold in a slot, a field or on the
// operand stack.
type Value interface {
	Type() *types.Type
}

type noneValue struct{}

func (*noneValue) Type() *types.Type { return types.None }

type nullValue struct{}

func (*nullValue) Type() *types.Type { return types.Null }

var (
	// None is the source language's None.
	None Value = &noneValue{}
	// Null marks an absent receiver or an omitted nullable argument. It never
	// escapes to source-level code.
	Null Value = &nullValue{}
)

type (
	Bool  bool
	Int   int64
	Float float64
	Str   string
)

func (Bool) Type() *types.Type  { return types.Bool }
func (Int) Type() *types.Type   { return types.Int }
func (Float) Type() *types.Type { return types.Float }
func (Str) Type() *types.Type   { return types.Str }

// Tuple is an immutable sequence.
type Tuple struct {
	Items []Value
}

func (*Tuple) Type() *types.Type { return types.Tuple }

// NewTuple creates a tuple owning items.
func NewTuple(items ...Value) Value {
	return &Tuple{Items: items}
}

// List is a mutable sequence.
type List struct {
	Items []Value
}

func (*List) Type() *types.Type { return types.List }

// NewList creates a list owning items.
func NewList(items ...Value) Value {
	return &List{Items: items}
}

// Object is a plain attribute bag.
type Object struct {
	Attrs map[string]Value
}

func (*Object) Type() *types.Type { return types.Object }

// TypeObject is a type used as a value: isinstance targets, exception
// classes, constructors.
type TypeObject struct {
	T *types.Type
}

func (*TypeObject) Type() *types.Type { return types.TypeType }

// TypeOf returns the type object of v.
func TypeOf(v Value) Value {
	return &TypeObject{T: v.Type()}
}

// Copy returns a fresh slice holding vs, for callers that keep arguments
// beyond the lifetime of the operand stack.
func Copy(vs []Value) []Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return out
}

// FromConstant converts a constant-pool entry. Code constants become Null:
// the nested unit, not the value, is what MAKE_FUNCTION consumes.
func FromConstant(c bytecode.Constant) Value {
	switch c.Kind {
	case bytecode.ConstNone:
		return None
	case bytecode.ConstBool:
		return Bool(c.Bool)
	case bytecode.ConstInt:
		return Int(c.Int)
	case bytecode.ConstFloat:
		return Float(c.Float)
	case bytecode.ConstStr:
		return Str(c.Str)
	case bytecode.ConstTuple:
		items := make([]Value, len(c.Items))
		for i, it := range c.Items {
			items[i] = FromConstant(it)
		}
		return &Tuple{Items: items}
	}
	return Null
}

// Truthy is the source language's truth test.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case Bool:
		return bool(v)
	case Int:
		return v != 0
	case Float:
		return v != 0
	case Str:
		return v != ""
	case *Tuple:
		return len(v.Items) > 0
	case *List:
		return len(v.Items) > 0
	case *Dict:
		return v.Len() > 0
	}
	return v != None && v != Null
}

// AsInt returns the integer value of v, or -1 when v is not an int.
func AsInt(v Value) int {
	switch v := v.(type) {
	case Int:
		return int(v)
	case Bool:
		if v {
			return 1
		}
		return 0
	}
	return -1
}

// Repr renders v the way the source language's repr() would.
func Repr(v Value) string {
	switch v := v.(type) {
	case Str:
		return quote(string(v))
	case *Tuple:
		if len(v.Items) == 1 {
			return "(" + Repr(v.Items[0]) + ",)"
		}
		return "(" + joinRepr(v.Items) + ")"
	case *List:
		return "[" + joinRepr(v.Items) + "]"
	}
	return ToStr(v)
}

// ToStr renders v the way the source language's str() would.
func ToStr(v Value) string {
	switch v := v.(type) {
	case Str:
		return string(v)
	case Bool:
		if v {
			return "True"
		}
		return "False"
	case Int:
		return strconv.FormatInt(int64(v), 10)
	case Float:
		return formatFloat(float64(v))
	case *Tuple, *List:
		return Repr(v)
	case *Dict:
		parts := make([]string, 0, v.Len())
		for i, k := range v.keys {
			parts = append(parts, Repr(k)+": "+Repr(v.values[i]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *TypeObject:
		return fmt.Sprintf("<class '%s'>", v.T.Name)
	case *Exception:
		return v.Message()
	case *Function:
		return fmt.Sprintf("<function %s>", v.Name)
	case *HostFunction:
		return fmt.Sprintf("<built-in function %s>", v.Name)
	}
	if v == None {
		return "None"
	}
	if v == Null {
		return "NULL"
	}
	return fmt.Sprintf("<%s object>", v.Type().Name)
}

func joinRepr(items []Value) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = Repr(it)
	}
	return strings.Join(parts, ", ")
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			sb.WriteString(`\'`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if a := math.Abs(f); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
