package runtime

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/types"
)

// HostImpl implements a host symbol. args holds the receiver first for
// class and virtual bindings, then one value per declared parameter in
// declaration order; Null stands for an omitted nullable argument.
type HostImpl func(m *Machine, args []Value) (Value, error)

type hostEntry struct {
	sig  *callsig.Signature
	impl HostImpl
}

// HostFunction is a host callable used as a value: every overload
// registered under one qualified name.
type HostFunction struct {
	Name string
	Sigs []*callsig.Signature
}

func (*HostFunction) Type() *types.Type { return types.Function }

// binding is the receiver convention shared by the overloads.
func (h *HostFunction) binding() callsig.Binding {
	b, _ := callsig.Monomorphic(h.Sigs)
	return b
}

//go:embed builtins.yaml
var builtinTable []byte

// RegisterBuiltins adds the signatures of the builtin host functions to reg,
// so the compiler binds against exactly what the runtime implements.
func RegisterBuiltins(reg *callsig.Registry) error {
	if err := reg.LoadTable(builtinTable); err != nil {
		return fmt.Errorf("builtins: %w", err)
	}
	return nil
}

// RegisterHost adds a host implementation under sig.Symbol and registers
// sig for dynamic calls.
func (m *Machine) RegisterHost(sig *callsig.Signature, impl HostImpl) error {
	if sig.Symbol == "" {
		sig.Symbol = sig.QualifiedName()
	}
	if _, ok := m.hosts[sig.Symbol]; ok {
		return fmt.Errorf("host symbol %s already registered", sig.Symbol)
	}
	if err := m.registry.Register(sig); err != nil {
		return err
	}
	m.hosts[sig.Symbol] = hostEntry{sig: sig, impl: impl}
	return nil
}

// installBuiltins registers the builtin table and binds each symbol to its
// implementation.
func (m *Machine) installBuiltins() error {
	sigs, err := callsig.ParseTable(builtinTable)
	if err != nil {
		return fmt.Errorf("builtins: %w", err)
	}
	for _, sig := range sigs {
		impl, ok := builtinImpls[sig.Symbol]
		if !ok {
			return fmt.Errorf("builtins: no implementation for %s", sig.Symbol)
		}
		if err := m.RegisterHost(sig, impl); err != nil {
			return fmt.Errorf("builtins: %w", err)
		}
	}
	return nil
}

// InvokeHost calls the implementation of a host symbol with arguments
// already bound in declaration order.
func (m *Machine) InvokeHost(sym string, args []Value) (Value, error) {
	e, ok := m.hosts[sym]
	if !ok {
		return nil, Errorf(types.RuntimeError, "unknown host symbol %s", sym)
	}
	if want := e.sig.Arity(); len(args) != want {
		return nil, Errorf(types.TypeError, "%s expects %d arguments, got %d", sym, want, len(args))
	}
	return e.impl(m, args)
}

// HostRef returns the host callable registered under a qualified name:
// "len" for a function, "dict.get" for a method.
func (m *Machine) HostRef(name string) (Value, error) {
	if h := m.hostFunction(name); h != nil {
		return h, nil
	}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] != '.' {
			continue
		}
		if t, ok := types.Lookup(name[:i]); ok {
			if h := m.hostMethod(t, name[i+1:]); h != nil {
				return h, nil
			}
		}
		break
	}
	return nil, Errorf(types.NameError, "no host callable %s", name)
}

func (m *Machine) hostFunction(name string) *HostFunction {
	sigs := m.registry.Function(name)
	if len(sigs) == 0 {
		return nil
	}
	return &HostFunction{Name: name, Sigs: sigs}
}

func (m *Machine) hostMethod(t *types.Type, name string) *HostFunction {
	owner, sigs := m.registry.Method(t, name)
	if owner == nil {
		return nil
	}
	return &HostFunction{Name: owner.Name + "." + name, Sigs: sigs}
}

// callHost is the dynamic protocol for host callables: the overload is
// chosen from the runtime types of the arguments.
func (m *Machine) callHost(h *HostFunction, pos []Value, names []string, kw []Value) (Value, error) {
	var recv Value
	if b := h.binding(); b != callsig.Static {
		if len(pos) == 0 {
			return nil, Errorf(types.TypeError, "%s needs a receiver", h.Name)
		}
		recv, pos = pos[0], pos[1:]
		if _, ok := recv.(*TypeObject); b == callsig.Class && !ok {
			recv = TypeOf(recv)
		}
	}

	argTypes := make([]*types.Type, 0, len(pos)+len(kw))
	for _, v := range pos {
		argTypes = append(argTypes, v.Type())
	}
	for _, v := range kw {
		argTypes = append(argTypes, v.Type())
	}
	match, err := callsig.Resolve(h.Sigs, argTypes, names)
	if err != nil {
		var be *callsig.BindError
		if errors.As(err, &be) {
			return nil, bindError(be)
		}
		return nil, Errorf(types.TypeError, "%s: %v", h.Name, err)
	}
	sig := match.Sig
	if owner, ok := types.Lookup(sig.Owner); ok && sig.Binding == callsig.Virtual && !types.IsSubtype(recv.Type(), owner) {
		return nil, Errorf(types.TypeError, "descriptor '%s' for '%s' objects doesn't apply to a '%s' object",
			sig.Name, owner.Name, recv.Type().Name)
	}
	args, err := bindValues(match.Plan, pos, names, kw, func(i int) Value {
		return FromConstant(*sig.Params[i].Default)
	})
	if err != nil {
		return nil, err
	}
	if recv != nil {
		args = append([]Value{recv}, args...)
	}
	return m.InvokeHost(sig.Symbol, args)
}
