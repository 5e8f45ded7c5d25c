package runtime

import (
	"math"
	"strings"

	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// ============================================================================
// Numbers
// ============================================================================

// number unpacks ints, bools and floats. isFloat says which field holds it.
func number(v Value) (i int64, f float64, isFloat, ok bool) {
	switch v := v.(type) {
	case Bool:
		if v {
			return 1, 1, false, true
		}
		return 0, 0, false, true
	case Int:
		return int64(v), float64(v), false, true
	case Float:
		return 0, float64(v), true, true
	}
	return 0, 0, false, false
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

func unsupported(op string, a, b Value) error {
	return Errorf(types.TypeError, "unsupported operand type(s) for %s: '%s' and '%s'",
		op, a.Type().Name, b.Type().Name)
}

// Binop applies a binary operator.
func Binop(op target.Operator, a, b Value) (Value, error) {
	if op == target.BinSubscr {
		return subscript(a, b)
	}
	if op == target.BinInplaceAdd {
		if l, ok := a.(*List); ok {
			items, err := iterate(b)
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, items...)
			return l, nil
		}
		op = target.BinAdd
	}

	ai, af, aFloat, aNum := number(a)
	bi, bf, bFloat, bNum := number(b)
	if aNum && bNum {
		if aFloat || bFloat || op == target.BinTrueDiv {
			return floatOp(op, af, bf, a, b)
		}
		switch op {
		case target.BinAdd:
			return Int(ai + bi), nil
		case target.BinSub:
			return Int(ai - bi), nil
		case target.BinMul:
			return Int(ai * bi), nil
		case target.BinFloorDiv:
			if bi == 0 {
				return nil, Errorf(types.ZeroDivisionError, "integer division or modulo by zero")
			}
			return Int(floorDiv(ai, bi)), nil
		case target.BinMod:
			if bi == 0 {
				return nil, Errorf(types.ZeroDivisionError, "integer division or modulo by zero")
			}
			return Int(floorMod(ai, bi)), nil
		}
		return nil, unsupported(op.String(), a, b)
	}

	switch op {
	case target.BinAdd:
		switch a := a.(type) {
		case Str:
			if b, ok := b.(Str); ok {
				return a + b, nil
			}
		case *Tuple:
			if b, ok := b.(*Tuple); ok {
				return &Tuple{Items: append(Copy(a.Items), b.Items...)}, nil
			}
		case *List:
			if b, ok := b.(*List); ok {
				return &List{Items: append(Copy(a.Items), b.Items...)}, nil
			}
		}
	case target.BinMul:
		if n, _, isFloat, ok := number(b); ok && !isFloat {
			return repeat(a, n, b)
		}
		if n, _, isFloat, ok := number(a); ok && !isFloat {
			return repeat(b, n, a)
		}
	case target.BinMod:
		if s, ok := a.(Str); ok {
			return formatPercent(string(s), b)
		}
	}
	return nil, unsupported(op.String(), a, b)
}

func floatOp(op target.Operator, x, y float64, a, b Value) (Value, error) {
	switch op {
	case target.BinAdd:
		return Float(x + y), nil
	case target.BinSub:
		return Float(x - y), nil
	case target.BinMul:
		return Float(x * y), nil
	case target.BinTrueDiv:
		if y == 0 {
			return nil, Errorf(types.ZeroDivisionError, "division by zero")
		}
		return Float(x / y), nil
	case target.BinFloorDiv:
		if y == 0 {
			return nil, Errorf(types.ZeroDivisionError, "float floor division by zero")
		}
		return Float(math.Floor(x / y)), nil
	case target.BinMod:
		if y == 0 {
			return nil, Errorf(types.ZeroDivisionError, "float modulo")
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return Float(m), nil
	}
	return nil, unsupported(op.String(), a, b)
}

// formatPercent implements str % args for the %s, %r and %d directives.
func formatPercent(format string, args Value) (Value, error) {
	items := []Value{args}
	if t, ok := args.(*Tuple); ok {
		items = t.Items
	}
	var sb strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 == len(format) {
			sb.WriteByte(format[i])
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		if next >= len(items) {
			return nil, Errorf(types.TypeError, "not enough arguments for format string")
		}
		arg := items[next]
		next++
		switch verb {
		case 's':
			sb.WriteString(ToStr(arg))
		case 'r':
			sb.WriteString(Repr(arg))
		case 'd':
			n, f, isFloat, ok := number(arg)
			if !ok {
				return nil, Errorf(types.TypeError, "%%d format: a number is required, not %s", arg.Type().Name)
			}
			if isFloat {
				n = int64(f)
			}
			sb.WriteString(ToStr(Int(n)))
		default:
			return nil, Errorf(types.ValueError, "unsupported format character '%c'", verb)
		}
	}
	if next < len(items) {
		return nil, Errorf(types.TypeError, "not all arguments converted during string formatting")
	}
	return Str(sb.String()), nil
}

func repeat(seq Value, n int64, count Value) (Value, error) {
	if n < 0 {
		n = 0
	}
	switch s := seq.(type) {
	case Str:
		return Str(strings.Repeat(string(s), int(n))), nil
	case *Tuple:
		return &Tuple{Items: repeatItems(s.Items, n)}, nil
	case *List:
		return &List{Items: repeatItems(s.Items, n)}, nil
	}
	return nil, unsupported("*", seq, count)
}

func repeatItems(items []Value, n int64) []Value {
	out := make([]Value, 0, len(items)*int(n))
	for i := int64(0); i < n; i++ {
		out = append(out, items...)
	}
	return out
}

func subscript(container, key Value) (Value, error) {
	switch c := container.(type) {
	case *Tuple:
		return index(c.Items, key, "tuple")
	case *List:
		return index(c.Items, key, "list")
	case Str:
		runes := []rune(string(c))
		items := make([]Value, len(runes))
		for i, r := range runes {
			items[i] = Str(r)
		}
		return index(items, key, "string")
	case *Dict:
		v, ok, err := c.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewException(types.KeyError, key)
		}
		return v, nil
	}
	return nil, Errorf(types.TypeError, "'%s' object is not subscriptable", container.Type().Name)
}

func index(items []Value, key Value, what string) (Value, error) {
	i, _, isFloat, ok := number(key)
	if !ok || isFloat {
		return nil, Errorf(types.TypeError, "%s indices must be integers", what)
	}
	if i < 0 {
		i += int64(len(items))
	}
	if i < 0 || i >= int64(len(items)) {
		return nil, Errorf(types.IndexError, "%s index out of range", what)
	}
	return items[i], nil
}

// Unop applies a unary operator.
func Unop(op target.Operator, a Value) (Value, error) {
	switch op {
	case target.UnaryNot:
		return Bool(!Truthy(a)), nil
	case target.UnaryNeg:
		i, f, isFloat, ok := number(a)
		switch {
		case ok && isFloat:
			return Float(-f), nil
		case ok:
			return Int(-i), nil
		}
		return nil, Errorf(types.TypeError, "bad operand type for unary -: '%s'", a.Type().Name)
	}
	return nil, Errorf(types.TypeError, "unknown unary operator %s", op)
}

// ============================================================================
// Comparison
// ============================================================================

// Equal is the source language's ==.
func Equal(a, b Value) bool {
	if a == b {
		return true
	}
	if ai, af, aFloat, ok := number(a); ok {
		bi, bf, bFloat, ok := number(b)
		if !ok {
			return false
		}
		if aFloat || bFloat {
			return af == bf
		}
		return ai == bi
	}
	switch a := a.(type) {
	case Str:
		b, ok := b.(Str)
		return ok && a == b
	case *Tuple:
		b, ok := b.(*Tuple)
		return ok && equalItems(a.Items, b.Items)
	case *List:
		b, ok := b.(*List)
		return ok && equalItems(a.Items, b.Items)
	case *Dict:
		b, ok := b.(*Dict)
		if !ok || a.Len() != b.Len() {
			return false
		}
		for i, k := range a.keys {
			v, found, err := b.Get(k)
			if err != nil || !found || !Equal(a.values[i], v) {
				return false
			}
		}
		return true
	case *TypeObject:
		b, ok := b.(*TypeObject)
		return ok && types.Same(a.T, b.T)
	}
	return false
}

func equalItems(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// order returns -1, 0 or 1, or ok=false when a and b are not ordered.
func order(a, b Value) (int, bool) {
	if ai, af, aFloat, ok := number(a); ok {
		bi, bf, bFloat, ok := number(b)
		if !ok {
			return 0, false
		}
		if aFloat || bFloat {
			return cmpFloat(af, bf), true
		}
		return cmpInt(ai, bi), true
	}
	switch a := a.(type) {
	case Str:
		if b, ok := b.(Str); ok {
			return strings.Compare(string(a), string(b)), true
		}
	case *Tuple:
		if b, ok := b.(*Tuple); ok {
			return orderItems(a.Items, b.Items)
		}
	case *List:
		if b, ok := b.(*List); ok {
			return orderItems(a.Items, b.Items)
		}
	}
	return 0, false
}

func orderItems(a, b []Value) (int, bool) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Equal(a[i], b[i]) {
			continue
		}
		return order(a[i], b[i])
	}
	return cmpInt(int64(len(a)), int64(len(b))), true
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare applies the comparison target.Comparisons[i].
func Compare(i int, a, b Value) (Value, error) {
	switch i {
	case 2:
		return Bool(Equal(a, b)), nil
	case 3:
		return Bool(!Equal(a, b)), nil
	}
	if i < 0 || i >= len(target.Comparisons) {
		return nil, Errorf(types.TypeError, "unknown comparison %d", i)
	}
	c, ok := order(a, b)
	if !ok {
		return nil, Errorf(types.TypeError, "'%s' not supported between instances of '%s' and '%s'",
			target.Comparisons[i], a.Type().Name, b.Type().Name)
	}
	switch i {
	case 0:
		return Bool(c < 0), nil
	case 1:
		return Bool(c <= 0), nil
	case 4:
		return Bool(c > 0), nil
	default:
		return Bool(c >= 0), nil
	}
}

// Is is identity. Small scalars compare by value.
func Is(a, b Value, invert bool) Value {
	same := a == b
	if !same {
		switch a.(type) {
		case Bool, Int, Str:
			same = a.Type() == b.Type() && Equal(a, b)
		}
	}
	return Bool(same != invert)
}

// Contains is "item in container".
func Contains(item, container Value, invert bool) (Value, error) {
	found := false
	switch c := container.(type) {
	case Str:
		s, ok := item.(Str)
		if !ok {
			return nil, Errorf(types.TypeError, "'in <string>' requires string as left operand, not %s", item.Type().Name)
		}
		found = strings.Contains(string(c), string(s))
	case *Dict:
		_, ok, err := c.Get(item)
		if err != nil {
			return nil, err
		}
		found = ok
	default:
		items, err := iterate(container)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if Equal(it, item) {
				found = true
				break
			}
		}
	}
	return Bool(found != invert), nil
}

// CheckCast fails unless v is an instance of the named type. Null passes:
// it stands for an omitted nullable argument.
func CheckCast(v Value, typeName string) error {
	t, ok := types.Lookup(typeName)
	if !ok {
		return Errorf(types.TypeError, "unknown type %q", typeName)
	}
	if v == Null || types.IsSubtype(v.Type(), t) {
		return nil
	}
	return Errorf(types.TypeError, "expected %s, got %s", t.Name, v.Type().Name)
}

// ============================================================================
// Sequences and cells
// ============================================================================

// Unpack returns the n items of an iterable.
func Unpack(v Value, n int) ([]Value, error) {
	items, err := iterate(v)
	if err != nil {
		return nil, err
	}
	switch {
	case len(items) > n:
		return nil, Errorf(types.ValueError, "too many values to unpack (expected %d)", n)
	case len(items) < n:
		return nil, Errorf(types.ValueError, "not enough values to unpack (expected %d, got %d)", n, len(items))
	}
	return items, nil
}

// ToTuple converts an iterable to a tuple.
func ToTuple(v Value) (Value, error) {
	if t, ok := v.(*Tuple); ok {
		return t, nil
	}
	items, err := iterate(v)
	if err != nil {
		return nil, err
	}
	return &Tuple{Items: items}, nil
}

// SplitKw splits a tuple of all call arguments into the positional tuple and
// a dict of the trailing keyword arguments named by names.
func SplitKw(args, names Value) (Value, Value, error) {
	all, ok := args.(*Tuple)
	if !ok {
		return nil, nil, Errorf(types.TypeError, "argument tuple expected")
	}
	kw, ok := names.(*Tuple)
	if !ok || len(kw.Items) > len(all.Items) {
		return nil, nil, Errorf(types.TypeError, "keyword names must be a tuple no longer than the arguments")
	}
	npos := len(all.Items) - len(kw.Items)
	d := NewDict()
	for i, name := range kw.Items {
		if _, ok := name.(Str); !ok {
			return nil, nil, Errorf(types.TypeError, "keywords must be strings")
		}
		if err := d.Set(name, all.Items[npos+i]); err != nil {
			return nil, nil, err
		}
	}
	return &Tuple{Items: Copy(all.Items[:npos])}, d, nil
}

// Cell is a shared variable captured by nested functions.
type Cell struct {
	Value Value // nil while empty
}

func (*Cell) Type() *types.Type { return types.Cell }

// NewCell creates an empty cell.
func NewCell() Value {
	return &Cell{}
}

// CellGet reads a cell, failing when it is empty.
func CellGet(v Value) (Value, error) {
	c, ok := v.(*Cell)
	if !ok {
		return nil, Errorf(types.TypeError, "cell expected, got %s", v.Type().Name)
	}
	if c.Value == nil {
		return nil, Errorf(types.NameError, "free variable referenced before assignment in enclosing scope")
	}
	return c.Value, nil
}

// CellSet writes a cell.
func CellSet(cell, v Value) error {
	c, ok := cell.(*Cell)
	if !ok {
		return Errorf(types.TypeError, "cell expected, got %s", cell.Type().Name)
	}
	c.Value = v
	return nil
}
