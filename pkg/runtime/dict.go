package runtime

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/pyaot/pkg/types"
)

// Dict is an insertion-ordered mapping.
type Dict struct {
	keys   []Value
	values []Value
	index  map[any]int
}

func (*Dict) Type() *types.Type { return types.Dict }

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[any]int)}
}

// BuildDict creates a dict from alternating keys and values.
func BuildDict(pairs []Value) (Value, error) {
	d := NewDict()
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := d.Set(pairs[i], pairs[i+1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	return Copy(d.keys)
}

// Get returns the value stored under k.
func (d *Dict) Get(k Value) (Value, bool, error) {
	hk, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[hk]
	if !ok {
		return nil, false, nil
	}
	return d.values[i], true, nil
}

// Set stores v under k, keeping the position of an existing key.
func (d *Dict) Set(k, v Value) error {
	hk, err := hashKey(k)
	if err != nil {
		return err
	}
	if i, ok := d.index[hk]; ok {
		d.values[i] = v
		return nil
	}
	d.index[hk] = len(d.keys)
	d.keys = append(d.keys, k)
	d.values = append(d.values, v)
	return nil
}

// StrItems returns the entries of a dict whose keys are all strings, as
// keyword arguments are.
func (d *Dict) StrItems() (names []string, values []Value, err error) {
	names = make([]string, len(d.keys))
	for i, k := range d.keys {
		s, ok := k.(Str)
		if !ok {
			return nil, nil, Errorf(types.TypeError, "keywords must be strings")
		}
		names[i] = string(s)
	}
	return names, Copy(d.values), nil
}

type tupleKey string

type typeKey string

// hashKey maps v to a comparable Go value such that equal source values
// share a key: True, 1 and 1.0 collide as they do in the source language.
func hashKey(v Value) (any, error) {
	switch v := v.(type) {
	case Bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case Int:
		return int64(v), nil
	case Float:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f), nil
		}
		return f, nil
	case Str:
		return string(v), nil
	case *Tuple:
		parts := make([]string, len(v.Items))
		for i, it := range v.Items {
			hk, err := hashKey(it)
			if err != nil {
				return nil, err
			}
			parts[i] = fmt.Sprintf("%T:%v", hk, hk)
		}
		return tupleKey(strings.Join(parts, "\x00")), nil
	case *TypeObject:
		return typeKey(v.T.Name), nil
	case *List, *Dict:
		return nil, Errorf(types.TypeError, "unhashable type: '%s'", v.Type().Name)
	}
	return v, nil
}
