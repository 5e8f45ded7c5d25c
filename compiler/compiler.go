// Package compiler translates function records into target units.
//
// Compile runs the analyses of pkg/flow over a record and generates one
// target method per function, with handler ranges, closures and statically
// bound host calls. Generator functions become a small function unit whose
// entry creates the generator object, plus a nested body unit produced by
// CompileToGenerator: a state machine whose fragments resume at each
// suspension point.
package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/runtime"
	"github.com/chazu/pyaot/pkg/slots"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

var log = commonlog.GetLogger("pyaot.compiler")

// Compiler translates records into units. Calls to Compile and
// CompileToGenerator are independent and may run concurrently; the shared
// state is the signature registry and the name registry, both of which
// synchronize internally.
type Compiler struct {
	registry *callsig.Registry
	names    *NameRegistry

	// Globals pins the static type of module globals. It must not change
	// while compilations are running.
	Globals map[string]*types.Type
}

// New creates a compiler that binds host calls against registry and names
// units through DefaultNames.
func New(registry *callsig.Registry) *Compiler {
	if registry == nil {
		registry = callsig.NewRegistry()
	}
	return &Compiler{registry: registry, names: DefaultNames}
}

// NewWithBuiltins creates a compiler that knows the runtime's builtin host
// functions and methods.
func NewWithBuiltins() (*Compiler, error) {
	reg := callsig.NewRegistry()
	if err := runtime.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("loading builtin signatures: %w", err)
	}
	return New(reg), nil
}

// SetNames replaces the name registry. Compilers whose units are loaded
// into the same runtime must share one.
func (c *Compiler) SetNames(names *NameRegistry) {
	c.names = names
}

// ClaimUnit reserves the names of a unit compiled earlier, such as one read
// from a cache, and of its nested units. It reports false when any of them
// is already in use; the unit must then be compiled again.
func (c *Compiler) ClaimUnit(u *target.Unit) bool {
	var names []string
	var walk func(*target.Unit)
	walk = func(u *target.Unit) {
		names = append(names, u.Name)
		for _, n := range u.Nested {
			walk(n)
		}
	}
	walk(u)
	return c.names.Claim(names...)
}

// Registry returns the signature registry calls are bound against.
func (c *Compiler) Registry() *callsig.Registry {
	return c.registry
}

// RegisterSignature adds a host call signature. Calls compiled afterwards
// can bind to it statically.
func (c *Compiler) RegisterSignature(sig *callsig.Signature) error {
	return c.registry.Register(sig)
}

// Compile translates rec into a function unit implementing iface.
func (c *Compiler) Compile(rec *bytecode.FunctionRecord, iface target.Interface) (*target.Unit, error) {
	if want := rec.ParamCount(); iface.Arity != want {
		return nil, &Error{
			Function: rec.DisplayName(),
			Offset:   -1,
			Err:      fmt.Errorf("%w: %s takes %d arguments, function has %d parameters", ErrArity, iface.Name, iface.Arity, want),
		}
	}
	if rec.IsGenerator() {
		return c.compileGeneratorFunction(rec, iface)
	}

	a, err := c.analyze(rec)
	if err != nil {
		return nil, err
	}
	u := newUnitState(c, target.NewUnit(c.names.Reserve(rec.DisplayName()), target.UnitFunction, iface))
	u.unit.Signature = callsig.FromRecord(rec)

	e := newEmitter(u, a, slots.ConfigFor(rec, a.saves), nil)
	e.prologue()
	if err := e.body(nil); err != nil {
		return nil, err
	}
	m, err := e.finish(iface.Method, iface.Arity)
	if err != nil {
		return nil, err
	}
	u.unit.Methods = append(u.unit.Methods, m)
	log.Debugf("compiled %s as %s: %d instructions, %d slots", a.name(), u.unit.Name, len(m.Code), m.MaxSlots)
	return u.unit, nil
}

// compileGeneratorFunction produces the unit a generator function compiles
// to: its entry passes the arguments to NEW_GENERATOR over the nested body.
func (c *Compiler) compileGeneratorFunction(rec *bytecode.FunctionRecord, iface target.Interface) (*target.Unit, error) {
	body, err := c.CompileToGenerator(rec)
	if err != nil {
		return nil, err
	}
	u := target.NewUnit(c.names.Reserve(rec.DisplayName()), target.UnitFunction, iface)
	u.Signature = callsig.FromRecord(rec)
	nested := u.AddNested(body)

	chunk := target.NewChunk()
	for i := 0; i < iface.Arity; i++ {
		chunk.EmitInt(target.OpLoad, i)
	}
	chunk.EmitPair(target.OpNewGenerator, nested, iface.Arity)
	chunk.Emit(target.OpReturn)
	m, err := chunk.Finish(iface.Method, iface.Arity, iface.Arity)
	if err != nil {
		return nil, &Error{Function: rec.DisplayName(), Offset: -1, Err: err}
	}
	u.Methods = append(u.Methods, m)
	return u, nil
}

// compileNested compiles the code constant MAKE_FUNCTION refers to.
func (c *Compiler) compileNested(rec *bytecode.FunctionRecord) (*target.Unit, error) {
	return c.Compile(rec, target.FunctionInterface(rec.ParamCount()))
}

// unitState is shared by the methods generated into one unit.
type unitState struct {
	c    *Compiler
	unit *target.Unit

	// nested maps a code constant index to its nested unit.
	nested map[int]int
}

func newUnitState(c *Compiler, u *target.Unit) *unitState {
	return &unitState{c: c, unit: u, nested: make(map[int]int)}
}

// nestedUnit compiles consts[index] of rec once per unit.
func (u *unitState) nestedUnit(rec *bytecode.FunctionRecord, index int) (int, error) {
	if n, ok := u.nested[index]; ok {
		return n, nil
	}
	if index < 0 || index >= len(rec.Consts) || rec.Consts[index].Kind != bytecode.ConstCode || rec.Consts[index].Code == nil {
		return 0, fmt.Errorf("%w: constant %d is not a code object", ErrUnsupported, index)
	}
	nested, err := u.c.compileNested(rec.Consts[index].Code)
	if err != nil {
		return 0, err
	}
	n := u.unit.AddNested(nested)
	u.nested[index] = n
	return n, nil
}
