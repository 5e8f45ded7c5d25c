package runtime

import (
	"errors"
	"strconv"
	"sync"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// Function is a compiled function value: a loaded function unit plus the
// defaults and closure cells MAKE_FUNCTION attached to it.
type Function struct {
	Class      *Class
	Name       string
	Defaults   []Value // trailing positional defaults, nil when none
	KwDefaults *Dict   // keyword-only defaults, nil when none
	Closure    []*Cell

	sigOnce sync.Once
	sig     *callsig.Signature
}

func (*Function) Type() *types.Type { return types.Function }

// NewFunction wraps a loaded top-level function unit.
func NewFunction(cls *Class) *Function {
	return &Function{Class: cls, Name: cls.Name}
}

// signature returns the unit's signature with placeholder defaults for the
// parameters this function object supplies defaults for at runtime.
func (f *Function) signature() *callsig.Signature {
	f.sigOnce.Do(func() {
		base := f.Class.Unit.Signature
		if base == nil {
			base = &callsig.Signature{Name: f.Name}
			for i := 0; i < f.Class.Unit.Interface.Arity; i++ {
				base.Params = append(base.Params, callsig.Param{
					Name: "arg" + strconv.Itoa(i),
					Kind: callsig.PositionalOnly,
				})
			}
		}
		if f.Defaults == nil && f.KwDefaults == nil {
			f.sig = base
			return
		}
		sig := *base
		sig.Params = append([]callsig.Param(nil), base.Params...)
		placeholder := bytecode.None()
		positional := f.positionalCount(&sig)
		for i := range sig.Params {
			p := &sig.Params[i]
			switch {
			case i < positional && i >= positional-len(f.Defaults):
				p.Default = &placeholder
			case p.Kind == callsig.KeywordOnly && f.KwDefaults != nil:
				if _, ok, _ := f.KwDefaults.Get(Str(p.Name)); ok {
					p.Default = &placeholder
				}
			}
		}
		f.sig = &sig
	})
	return f.sig
}

func (f *Function) positionalCount(sig *callsig.Signature) int {
	n := 0
	for _, p := range sig.Params {
		if p.Kind == callsig.PositionalOnly || p.Kind == callsig.PositionalOrKeyword {
			n++
		}
	}
	return n
}

// defaultFor returns the value of parameter i bound from its default.
func (f *Function) defaultFor(sig *callsig.Signature, i int) Value {
	p := sig.Params[i]
	if p.Kind == callsig.KeywordOnly && f.KwDefaults != nil {
		if v, ok, _ := f.KwDefaults.Get(Str(p.Name)); ok {
			return v
		}
	}
	if positional := f.positionalCount(sig); i < positional && len(f.Defaults) > 0 {
		if j := i - (positional - len(f.Defaults)); j >= 0 {
			return f.Defaults[j]
		}
	}
	if p.Default != nil {
		return FromConstant(*p.Default)
	}
	return None
}

// BoundMethod is a callable with its receiver already supplied.
type BoundMethod struct {
	Self Value
	Func Value
}

func (*BoundMethod) Type() *types.Type { return types.Method }

// bindValues applies a binding plan to actual arguments. def supplies the
// value of a parameter bound from its default.
func bindValues(plan *callsig.Plan, pos []Value, names []string, kw []Value, def func(i int) Value) ([]Value, error) {
	out := make([]Value, len(plan.Args))
	for i, src := range plan.Args {
		switch src.Kind {
		case callsig.FromPositional:
			out[i] = pos[src.Index]
		case callsig.FromKeyword:
			out[i] = kw[src.Index]
		case callsig.FromDefault:
			out[i] = def(i)
		case callsig.FromNoValue:
			out[i] = Null
		case callsig.FromVarPositional:
			items := make([]Value, len(src.Indices))
			for j, a := range src.Indices {
				items[j] = pos[a]
			}
			out[i] = &Tuple{Items: items}
		case callsig.FromVarKeyword:
			d := NewDict()
			for _, k := range src.Indices {
				if err := d.Set(Str(names[k]), kw[k]); err != nil {
					return nil, err
				}
			}
			out[i] = d
		}
	}
	return out, nil
}

// bindError converts a binding failure into the TypeError a caller sees.
func bindError(err error) error {
	var be *callsig.BindError
	if errors.As(err, &be) {
		return Errorf(types.TypeError, "%s", be.Error())
	}
	return err
}

// callFunction binds a call to f's signature and runs its entry method on a
// fresh instance.
func (m *Machine) callFunction(f *Function, pos []Value, names []string, kw []Value) (Value, error) {
	sig := f.signature()
	plan, err := sig.Bind(len(pos), names)
	if err != nil {
		return nil, bindError(err)
	}
	args, err := bindValues(plan, pos, names, kw, func(i int) Value { return f.defaultFor(sig, i) })
	if err != nil {
		return nil, err
	}
	entry := f.Class.Entry()
	if len(args) != entry.Arity {
		return nil, Errorf(types.TypeError, "%s() takes %d arguments, bound %d", f.Name, entry.Arity, len(args))
	}
	return m.Execute(f.Class.New(f.Closure), entry.Name, args)
}

// MakeFunction creates a function from nested unit index unit of this. The
// operands are, in order and each only when its flag is set, the defaults
// tuple, the keyword-defaults dict and the closure tuple of cells.
func (m *Machine) MakeFunction(this *Instance, unit, flags int, operands []Value) (Value, error) {
	if unit < 0 || unit >= len(this.Class.Nested) {
		return nil, Errorf(types.RuntimeError, "%s has no nested unit %d", this.Class.Name, unit)
	}
	cls := this.Class.Nested[unit]
	f := &Function{Class: cls, Name: cls.Name}
	if cls.Unit.Signature != nil {
		f.Name = cls.Unit.Signature.Name
	}
	next := 0
	take := func() Value {
		v := operands[next]
		next++
		return v
	}
	if flags&target.FunctionDefaults != 0 {
		t, ok := take().(*Tuple)
		if !ok {
			return nil, Errorf(types.TypeError, "function defaults must be a tuple")
		}
		f.Defaults = Copy(t.Items)
	}
	if flags&target.FunctionKwDefaults != 0 {
		d, ok := take().(*Dict)
		if !ok {
			return nil, Errorf(types.TypeError, "function keyword defaults must be a dict")
		}
		f.KwDefaults = d
	}
	if flags&target.FunctionClosure != 0 {
		t, ok := take().(*Tuple)
		if !ok {
			return nil, Errorf(types.TypeError, "closure must be a tuple of cells")
		}
		for _, it := range t.Items {
			c, ok := it.(*Cell)
			if !ok {
				return nil, Errorf(types.TypeError, "closure must be a tuple of cells")
			}
			f.Closure = append(f.Closure, c)
		}
	}
	return f, nil
}
