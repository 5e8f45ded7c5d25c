package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// builtinImpls maps the symbols of builtins.yaml to their implementations.
var builtinImpls = map[string]HostImpl{
	"builtins.len":        builtinLen,
	"builtins.repr":       func(_ *Machine, a []Value) (Value, error) { return Str(Repr(a[0])), nil },
	"builtins.str":        func(_ *Machine, a []Value) (Value, error) { return Str(ToStr(a[0])), nil },
	"builtins.int":        builtinInt,
	"builtins.float":      builtinFloat,
	"builtins.bool":       func(_ *Machine, a []Value) (Value, error) { return Bool(Truthy(a[0])), nil },
	"builtins.abs":        builtinAbs,
	"builtins.print":      builtinPrint,
	"builtins.range":      builtinRange,
	"builtins.isinstance": builtinIsInstance,
	"builtins.sum":        builtinSum,
	"builtins.list":       builtinList,
	"builtins.tuple":      builtinTuple,
	"builtins.namespace":  builtinNamespace,
	"builtins.iter":       func(_ *Machine, a []Value) (Value, error) { return GetIter(a[0]) },
	"builtins.next":       builtinNext,
	"builtins.max_int":    builtinMax,
	"builtins.max_float":  builtinMax,
	"builtins.max":        builtinMax,

	"dict.get":       dictGet,
	"dict.fromkeys":  dictFromKeys,
	"list.append":    listAppend,
	"str.upper":      func(_ *Machine, a []Value) (Value, error) { return Str(strings.ToUpper(string(a[0].(Str)))), nil },
	"str.join":       strJoin,
	"str.startswith": strStartsWith,
	"str.maketrans":  strMakeTrans,

	"generator.send":  generatorSend,
	"generator.throw": generatorThrow,
}

// ============================================================================
// Functions
// ============================================================================

func builtinLen(_ *Machine, a []Value) (Value, error) {
	switch v := a[0].(type) {
	case Str:
		return Int(len([]rune(string(v)))), nil
	case *Tuple:
		return Int(len(v.Items)), nil
	case *List:
		return Int(len(v.Items)), nil
	case *Dict:
		return Int(v.Len()), nil
	}
	return nil, Errorf(types.TypeError, "object of type '%s' has no len()", a[0].Type().Name)
}

func builtinInt(_ *Machine, a []Value) (Value, error) {
	switch v := a[0].(type) {
	case Int:
		return v, nil
	case Bool:
		if v {
			return Int(1), nil
		}
		return Int(0), nil
	case Float:
		return Int(int64(v)), nil
	case Str:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		if err != nil {
			return nil, Errorf(types.ValueError, "invalid literal for int() with base 10: %s", Repr(v))
		}
		return Int(n), nil
	}
	return nil, Errorf(types.TypeError, "int() argument must be a string or a number, not '%s'", a[0].Type().Name)
}

func builtinFloat(_ *Machine, a []Value) (Value, error) {
	if _, f, _, ok := number(a[0]); ok {
		return Float(f), nil
	}
	if s, ok := a[0].(Str); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
		if err != nil {
			return nil, Errorf(types.ValueError, "could not convert string to float: %s", Repr(s))
		}
		return Float(f), nil
	}
	return nil, Errorf(types.TypeError, "float() argument must be a string or a number, not '%s'", a[0].Type().Name)
}

func builtinAbs(_ *Machine, a []Value) (Value, error) {
	i, f, isFloat, ok := number(a[0])
	switch {
	case !ok:
		return nil, Errorf(types.TypeError, "bad operand type for abs(): '%s'", a[0].Type().Name)
	case isFloat:
		if f < 0 {
			f = -f
		}
		return Float(f), nil
	case i < 0:
		return Int(-i), nil
	}
	return Int(i), nil
}

func builtinPrint(m *Machine, a []Value) (Value, error) {
	sep, end := " ", "\n"
	if s, ok := a[1].(Str); ok {
		sep = string(s)
	}
	if s, ok := a[2].(Str); ok {
		end = string(s)
	}
	items := a[0].(*Tuple).Items
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = ToStr(it)
	}
	if _, err := fmt.Fprint(m.Stdout, strings.Join(parts, sep)+end); err != nil {
		return nil, Errorf(types.RuntimeError, "print: %v", err)
	}
	return None, nil
}

func builtinRange(_ *Machine, a []Value) (Value, error) {
	start, stop, step := int64(AsInt(a[0])), int64(0), int64(AsInt(a[2]))
	if a[1] == Null || a[1] == None {
		start, stop = 0, start
	} else {
		stop = int64(AsInt(a[1]))
	}
	if step == 0 {
		return nil, Errorf(types.ValueError, "range() arg 3 must not be zero")
	}
	return &rangeIter{cur: start, stop: stop, step: step}, nil
}

func builtinIsInstance(_ *Machine, a []Value) (Value, error) {
	ok, err := isInstanceOf(a[0], a[1])
	return Bool(ok), err
}

func isInstanceOf(v, cls Value) (bool, error) {
	switch c := cls.(type) {
	case *TypeObject:
		return types.IsSubtype(v.Type(), c.T), nil
	case *Tuple:
		for _, it := range c.Items {
			ok, err := isInstanceOf(v, it)
			if ok || err != nil {
				return ok, err
			}
		}
		return false, nil
	}
	return false, Errorf(types.TypeError, "isinstance() arg 2 must be a type or tuple of types")
}

func builtinSum(_ *Machine, a []Value) (Value, error) {
	items, err := iterate(a[0])
	if err != nil {
		return nil, err
	}
	total := a[1]
	for _, it := range items {
		if total, err = Binop(target.BinAdd, total, it); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func builtinList(_ *Machine, a []Value) (Value, error) {
	items, err := iterate(a[0])
	if err != nil {
		return nil, err
	}
	return &List{Items: items}, nil
}

func builtinTuple(_ *Machine, a []Value) (Value, error) {
	return ToTuple(a[0])
}

func builtinNamespace(_ *Machine, a []Value) (Value, error) {
	names, values, err := a[0].(*Dict).StrItems()
	if err != nil {
		return nil, err
	}
	obj := &Object{Attrs: make(map[string]Value, len(names))}
	for i, n := range names {
		obj.Attrs[n] = values[i]
	}
	return obj, nil
}

func builtinNext(_ *Machine, a []Value) (Value, error) {
	if g, ok := a[0].(*Generator); ok {
		v, err := g.Next()
		if err != nil && a[1] != Null && IsInstance(err, types.StopIteration) {
			return a[1], nil
		}
		return v, err
	}
	v, ok, err := IterNext(a[0])
	switch {
	case err != nil:
		return nil, err
	case ok:
		return v, nil
	case a[1] != Null:
		return a[1], nil
	}
	return nil, NewException(types.StopIteration)
}

func builtinMax(_ *Machine, a []Value) (Value, error) {
	c, ok := order(a[0], a[1])
	if !ok {
		return nil, Errorf(types.TypeError, "'>' not supported between instances of '%s' and '%s'",
			a[0].Type().Name, a[1].Type().Name)
	}
	if c < 0 {
		return a[1], nil
	}
	return a[0], nil
}

// ============================================================================
// Methods
// ============================================================================

func dictGet(_ *Machine, a []Value) (Value, error) {
	d := a[0].(*Dict)
	v, ok, err := d.Get(a[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return a[2], nil
	}
	return v, nil
}

func dictFromKeys(_ *Machine, a []Value) (Value, error) {
	keys, err := iterate(a[1])
	if err != nil {
		return nil, err
	}
	d := NewDict()
	for _, k := range keys {
		if err := d.Set(k, a[2]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func listAppend(_ *Machine, a []Value) (Value, error) {
	l := a[0].(*List)
	l.Items = append(l.Items, a[1])
	return None, nil
}

func strJoin(_ *Machine, a []Value) (Value, error) {
	items, err := iterate(a[1])
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, it := range items {
		s, ok := it.(Str)
		if !ok {
			return nil, Errorf(types.TypeError, "sequence item %d: expected str instance, %s found", i, it.Type().Name)
		}
		parts[i] = string(s)
	}
	return Str(strings.Join(parts, string(a[0].(Str)))), nil
}

func strStartsWith(_ *Machine, a []Value) (Value, error) {
	return Bool(strings.HasPrefix(string(a[0].(Str)), string(a[1].(Str)))), nil
}

func strMakeTrans(_ *Machine, a []Value) (Value, error) {
	from, to := []rune(string(a[0].(Str))), []rune(string(a[1].(Str)))
	if len(from) != len(to) {
		return nil, Errorf(types.ValueError, "the first two maketrans arguments must have equal length")
	}
	d := NewDict()
	for i, r := range from {
		if err := d.Set(Int(r), Int(to[i])); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func generatorSend(_ *Machine, a []Value) (Value, error) {
	return a[0].(*Generator).Send(a[1])
}

func generatorThrow(_ *Machine, a []Value) (Value, error) {
	return a[0].(*Generator).Throw(a[1])
}
