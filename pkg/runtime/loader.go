package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/pyaot/pkg/target"
)

var (
	// ErrDuplicateUnit is returned when a unit name is already loaded.
	ErrDuplicateUnit = errors.New("unit already loaded")

	// ErrBadEntry is returned when a unit lacks the method its interface
	// names, or that method has the wrong arity.
	ErrBadEntry = errors.New("unit does not implement its interface")
)

// Class is a loaded unit: its constants converted to values and its
// methods verified.
type Class struct {
	Unit   *target.Unit
	Name   string
	Consts []Value
	Nested []*Class

	methods  map[string]*target.Method
	maxStack map[string]int
}

// Method returns a method by name, or nil.
func (c *Class) Method(name string) *target.Method {
	return c.methods[name]
}

// Entry returns the method implementing the unit's interface.
func (c *Class) Entry() *target.Method {
	return c.methods[c.Unit.Interface.Method]
}

// field returns the index of a field, or -1.
func (c *Class) field(name string) int {
	return c.Unit.Field(name)
}

// New creates an instance with every field None.
func (c *Class) New(closure []*Cell) *Instance {
	fields := make([]Value, len(c.Unit.Fields))
	for i := range fields {
		fields[i] = None
	}
	return &Instance{Class: c, Fields: fields, Closure: closure}
}

// Instance is the receiver compiled methods run against: the unit's
// constants, the fields of generator state, and captured closure cells.
type Instance struct {
	Class   *Class
	Fields  []Value
	Closure []*Cell
}

// Const returns constant i of the instance's unit.
func (i *Instance) Const(n int) Value {
	return i.Class.Consts[n]
}

// Loader turns units into classes. A unit and everything nested in it is
// registered only once all of it has loaded.
type Loader struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{classes: make(map[string]*Class)}
}

// Load verifies u and its nested units and registers them by name.
func (l *Loader) Load(u *target.Unit) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make(map[string]*Class)
	cls, err := l.load(u, pending)
	if err != nil {
		return nil, err
	}
	for name, c := range pending {
		l.classes[name] = c
	}
	log.Debugf("loaded %s (%d units)", u.Name, len(pending))
	return cls, nil
}

func (l *Loader) load(u *target.Unit, pending map[string]*Class) (*Class, error) {
	if u.Version != target.FormatVersion {
		return nil, fmt.Errorf("load %s: unit version %d, want %d", u.Name, u.Version, target.FormatVersion)
	}
	if _, ok := l.classes[u.Name]; ok {
		return nil, fmt.Errorf("load %s: %w", u.Name, ErrDuplicateUnit)
	}
	if _, ok := pending[u.Name]; ok {
		return nil, fmt.Errorf("load %s: %w", u.Name, ErrDuplicateUnit)
	}

	cls := &Class{
		Unit:     u,
		Name:     u.Name,
		Consts:   make([]Value, len(u.Consts)),
		methods:  make(map[string]*target.Method, len(u.Methods)),
		maxStack: make(map[string]int, len(u.Methods)),
	}
	for i, c := range u.Consts {
		cls.Consts[i] = FromConstant(c)
	}
	for _, m := range u.Methods {
		depth, err := target.Verify(m)
		if err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", u.Name, m.Name, err)
		}
		cls.methods[m.Name] = m
		cls.maxStack[m.Name] = depth
	}
	entry := cls.Entry()
	if entry == nil || entry.Arity != u.Interface.Arity {
		return nil, fmt.Errorf("load %s: %w %s.%s/%d", u.Name, ErrBadEntry,
			u.Interface.Name, u.Interface.Method, u.Interface.Arity)
	}
	pending[u.Name] = cls

	for _, n := range u.Nested {
		nc, err := l.load(n, pending)
		if err != nil {
			return nil, err
		}
		cls.Nested = append(cls.Nested, nc)
	}
	return cls, nil
}

// Lookup returns a loaded class by unit name.
func (l *Loader) Lookup(name string) (*Class, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.classes[name]
	return c, ok
}
