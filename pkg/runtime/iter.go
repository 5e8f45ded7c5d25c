package runtime

import (
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// Iterator is a value FOR loops can step through. next reports false once
// the iterator is exhausted.
type Iterator interface {
	Value
	next() (Value, bool, error)
}

// seqIter walks a slice. For lists it re-reads the list on every step so
// appends during iteration are seen.
type seqIter struct {
	list  *List
	items []Value
	pos   int
}

func (*seqIter) Type() *types.Type { return types.Iterator }

func (it *seqIter) next() (Value, bool, error) {
	items := it.items
	if it.list != nil {
		items = it.list.Items
	}
	if it.pos >= len(items) {
		return nil, false, nil
	}
	v := items[it.pos]
	it.pos++
	return v, true, nil
}

// rangeIter is the iterator range() returns.
type rangeIter struct {
	cur, stop, step int64
}

func (*rangeIter) Type() *types.Type { return types.Iterator }

func (it *rangeIter) next() (Value, bool, error) {
	if (it.step > 0 && it.cur >= it.stop) || (it.step < 0 && it.cur <= it.stop) {
		return nil, false, nil
	}
	v := Int(it.cur)
	it.cur += it.step
	return v, true, nil
}

// GetIter returns an iterator over v.
func GetIter(v Value) (Value, error) {
	switch v := v.(type) {
	case Iterator:
		return v, nil
	case *List:
		return &seqIter{list: v}, nil
	case *Tuple:
		return &seqIter{items: v.Items}, nil
	case *Dict:
		return &seqIter{items: v.Keys()}, nil
	case Str:
		runes := []rune(string(v))
		items := make([]Value, len(runes))
		for i, r := range runes {
			items[i] = Str(r)
		}
		return &seqIter{items: items}, nil
	}
	return nil, Errorf(types.TypeError, "'%s' object is not iterable", v.Type().Name)
}

// YieldFromIter is GetIter, except that generators delegate as themselves.
func YieldFromIter(v Value) (Value, error) {
	if g, ok := v.(*Generator); ok {
		return g, nil
	}
	return GetIter(v)
}

// IterNext steps an iterator. ok is false once it is exhausted.
func IterNext(it Value) (Value, bool, error) {
	i, ok := it.(Iterator)
	if !ok {
		return nil, false, Errorf(types.TypeError, "'%s' object is not an iterator", it.Type().Name)
	}
	return i.next()
}

// SubAdvance forwards one step of a yield-from to the sub-iterator. mode is
// target.AdvanceNext, AdvanceSend or AdvanceThrow. When done is true the
// result is the sub-iterator's return value; otherwise it is the value to
// yield.
func SubAdvance(mode int, sub, v Value) (Value, bool, error) {
	if g, ok := sub.(*Generator); ok {
		return g.advance(mode, v)
	}
	it, ok := sub.(Iterator)
	if !ok {
		return nil, false, Errorf(types.TypeError, "'%s' object is not an iterator", sub.Type().Name)
	}
	switch mode {
	case target.AdvanceThrow:
		return nil, false, Raise(v, Null)
	case target.AdvanceSend:
		if v != None && v != Null {
			return nil, false, Errorf(types.AttributeError, "'%s' object has no attribute 'send'", sub.Type().Name)
		}
	}
	item, ok, err := it.next()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return None, true, nil
	}
	return item, false, nil
}

// iterate drains the iterable v.
func iterate(v Value) ([]Value, error) {
	switch v := v.(type) {
	case *List:
		return Copy(v.Items), nil
	case *Tuple:
		return Copy(v.Items), nil
	}
	it, err := GetIter(v)
	if err != nil {
		return nil, err
	}
	var out []Value
	for {
		item, ok, err := IterNext(it)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}
