package callsig

import (
	"slices"
	"sync"

	"github.com/chazu/pyaot/pkg/types"
)

// Registry is the table of host signatures the resolver binds against. It
// is filled at startup and read by every compilation, so lookups take the
// read lock only.
type Registry struct {
	mu        sync.RWMutex
	functions map[string][]*Signature
	methods   map[string]map[string][]*Signature // owner -> name -> overloads
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string][]*Signature),
		methods:   make(map[string]map[string][]*Signature),
	}
}

// Register validates sig and adds it as an overload of its name.
func (r *Registry) Register(sig *Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sig.Owner == "" {
		r.functions[sig.Name] = append(r.functions[sig.Name], sig)
		return nil
	}
	byName := r.methods[sig.Owner]
	if byName == nil {
		byName = make(map[string][]*Signature)
		r.methods[sig.Owner] = byName
	}
	byName[sig.Name] = append(byName[sig.Name], sig)
	return nil
}

// Function returns the overloads of a host function.
func (r *Registry) Function(name string) []*Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functions[name]
}

// Method finds the overloads of name on t or its nearest ancestor that
// declares it. owner is the declaring type.
func (r *Registry) Method(t *types.Type, name string) (owner *types.Type, sigs []*Signature) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := t; c != nil; c = c.Base {
		if c.Kind != types.KindClass {
			continue
		}
		if found := r.methods[c.Name][name]; len(found) > 0 {
			return c, found
		}
	}
	return nil, nil
}

// Callable returns the overloads a synthetic callable type stands for.
func (r *Registry) Callable(t *types.Type) []*Signature {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case types.KindFunction:
		return r.Function(t.Ref)
	case types.KindMethod:
		_, sigs := r.Method(t.Owner, t.Ref)
		return sigs
	}
	return nil
}

// Monomorphic reports the binding shared by all overloads, and false when
// the overloads disagree or there are none.
func Monomorphic(sigs []*Signature) (Binding, bool) {
	if len(sigs) == 0 {
		return 0, false
	}
	b := sigs[0].Binding
	for _, s := range sigs[1:] {
		if s.Binding != b {
			return 0, false
		}
	}
	return b, true
}

// Fingerprints describes every registered signature, one line each, in
// sorted order. Two registries with equal fingerprints bind every call the
// same way.
func (r *Registry) Fingerprints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	add := func(sigs []*Signature) {
		for _, s := range sigs {
			out = append(out, s.Binding.String()+" "+s.Symbol+" "+s.String())
		}
	}
	for _, sigs := range r.functions {
		add(sigs)
	}
	for _, byName := range r.methods {
		for _, sigs := range byName {
			add(sigs)
		}
	}
	slices.Sort(out)
	return out
}
