package runtime

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

var log = commonlog.GetLogger("pyaot.runtime")

// DefaultRecursionLimit bounds nested method executions.
const DefaultRecursionLimit = 1000

// DispatchKey names a method of a unit.
type DispatchKey struct {
	Unit   string
	Method string
}

// CompiledMethod is a method rendered as Go by target.GoSource.
type CompiledMethod func(m *Machine, this *Instance, args []Value) (Value, error)

// DispatchTable maps methods to their Go renderings.
type DispatchTable map[DispatchKey]CompiledMethod

// Machine executes loaded units. A machine is not safe for concurrent use;
// run one machine per goroutine.
type Machine struct {
	Loader *Loader
	Stdout io.Writer

	// Trace logs every interpreted instruction.
	Trace bool

	RecursionLimit int

	registry *callsig.Registry
	hosts    map[string]hostEntry
	globals  map[string]Value
	compiled DispatchTable
	depth    int
}

// NewMachine creates a machine with the builtin host functions installed.
func NewMachine() (*Machine, error) {
	m := &Machine{
		Loader:         NewLoader(),
		Stdout:         os.Stdout,
		RecursionLimit: DefaultRecursionLimit,
		registry:       callsig.NewRegistry(),
		hosts:          make(map[string]hostEntry),
		globals:        make(map[string]Value),
	}
	if err := m.installBuiltins(); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the signatures of the machine's host functions.
func (m *Machine) Registry() *callsig.Registry {
	return m.registry
}

// UseCompiled installs Go renderings of methods. Methods in t run natively;
// everything else is still interpreted.
func (m *Machine) UseCompiled(t DispatchTable) {
	if m.compiled == nil {
		m.compiled = make(DispatchTable, len(t))
	}
	for k, fn := range t {
		m.compiled[k] = fn
	}
}

// Load loads u and returns its entry point as a callable function.
func (m *Machine) Load(u *target.Unit) (*Function, error) {
	cls, err := m.Loader.Load(u)
	if err != nil {
		return nil, err
	}
	return NewFunction(cls), nil
}

// ============================================================================
// Calls
// ============================================================================

// Execute runs a method of this.
func (m *Machine) Execute(this *Instance, method string, args []Value) (Value, error) {
	meth := this.Class.Method(method)
	if meth == nil {
		return nil, Errorf(types.AttributeError, "unit %s has no method %s", this.Class.Name, method)
	}
	if len(args) != meth.Arity {
		return nil, Errorf(types.TypeError, "%s.%s takes %d arguments, got %d",
			this.Class.Name, method, meth.Arity, len(args))
	}
	if m.depth >= m.RecursionLimit {
		return nil, Errorf(types.RuntimeError, "maximum recursion depth exceeded")
	}
	m.depth++
	defer func() { m.depth-- }()

	if fn, ok := m.compiled[DispatchKey{Unit: this.Class.Name, Method: method}]; ok {
		v, err := fn(m, this, args)
		if err != nil {
			return nil, addFrame(err, this.Class.Name+"."+method)
		}
		return v, nil
	}
	return m.run(newFrame(this, meth, args))
}

// InvokeSelf runs a method of the running unit without arguments.
func (m *Machine) InvokeSelf(this *Instance, name string) (Value, error) {
	return m.Execute(this, name, nil)
}

// Call is the dynamic call protocol: CALL's callable, receiver (Null when
// absent), argument tuple and keyword dict.
func (m *Machine) Call(callable, recv, args, kwargs Value) (Value, error) {
	t, ok := args.(*Tuple)
	if !ok {
		return nil, Errorf(types.TypeError, "argument list must be a tuple, not %s", args.Type().Name)
	}
	var names []string
	var kw []Value
	if kwargs != Null && kwargs != None {
		d, ok := kwargs.(*Dict)
		if !ok {
			return nil, Errorf(types.TypeError, "argument after ** must be a mapping, not %s", kwargs.Type().Name)
		}
		var err error
		if names, kw, err = d.StrItems(); err != nil {
			return nil, err
		}
	}
	pos := t.Items
	if recv != Null {
		pos = append([]Value{recv}, pos...)
	}
	return m.Invoke(callable, pos, names, kw)
}

// Invoke calls a callable value with positional arguments followed by
// keyword arguments named by names.
func (m *Machine) Invoke(callable Value, pos []Value, names []string, kw []Value) (Value, error) {
	switch c := callable.(type) {
	case *Function:
		return m.callFunction(c, pos, names, kw)
	case *HostFunction:
		return m.callHost(c, pos, names, kw)
	case *BoundMethod:
		return m.Invoke(c.Func, append([]Value{c.Self}, pos...), names, kw)
	case *TypeObject:
		return m.construct(c.T, pos, names, kw)
	}
	return nil, Errorf(types.TypeError, "'%s' object is not callable", callable.Type().Name)
}

// CallArgs calls a callable with positional arguments only.
func (m *Machine) CallArgs(callable Value, args ...Value) (Value, error) {
	return m.Invoke(callable, args, nil, nil)
}

// construct calls a type object.
func (m *Machine) construct(t *types.Type, pos []Value, names []string, kw []Value) (Value, error) {
	switch {
	case types.IsSubtype(t, types.BaseException):
		if len(names) > 0 {
			return nil, Errorf(types.TypeError, "%s() takes no keyword arguments", t.Name)
		}
		return NewException(t, Copy(pos)...), nil
	case t == types.TypeType && len(pos) == 1 && len(names) == 0:
		return TypeOf(pos[0]), nil
	case t == types.Dict && len(pos) == 0:
		d := NewDict()
		for i, n := range names {
			if err := d.Set(Str(n), kw[i]); err != nil {
				return nil, err
			}
		}
		return d, nil
	case t == types.Object && len(pos) == 0 && len(names) == 0:
		return &Object{Attrs: make(map[string]Value)}, nil
	}
	if h := m.hostFunction(t.Name); h != nil {
		return m.callHost(h, pos, names, kw)
	}
	return nil, Errorf(types.TypeError, "cannot create '%s' instances", t.Name)
}

// NewGenerator creates a generator over nested unit index unit of this. The
// body's $init method receives args.
func (m *Machine) NewGenerator(this *Instance, unit int, args []Value) (Value, error) {
	if unit < 0 || unit >= len(this.Class.Nested) {
		return nil, Errorf(types.RuntimeError, "%s has no nested unit %d", this.Class.Name, unit)
	}
	inst := this.Class.Nested[unit].New(this.Closure)
	g, err := newGenerator(m, inst)
	if err != nil {
		return nil, err
	}
	if inst.Class.Method("$init") != nil {
		if _, err := m.Execute(inst, "$init", args); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ============================================================================
// Names and attributes
// ============================================================================

var builtinTypeNames = []string{
	"int", "str", "float", "bool", "list", "tuple", "dict", "object", "type",
	"BaseException", "Exception", "StopIteration", "TypeError", "ValueError",
	"AttributeError", "NameError", "UnboundLocalError", "LookupError",
	"KeyError", "IndexError", "ArithmeticError", "ZeroDivisionError",
	"RuntimeError", "AssertionError",
}

var builtinTypes = func() map[string]*TypeObject {
	out := make(map[string]*TypeObject, len(builtinTypeNames))
	for _, n := range builtinTypeNames {
		out[n] = &TypeObject{T: types.MustLookup(n)}
	}
	return out
}()

// GlobalGet resolves a global name: module globals first, then builtin
// types, then host functions.
func (m *Machine) GlobalGet(name string) (Value, error) {
	if v, ok := m.globals[name]; ok {
		return v, nil
	}
	if t, ok := builtinTypes[name]; ok {
		return t, nil
	}
	if h := m.hostFunction(name); h != nil {
		return h, nil
	}
	return nil, Errorf(types.NameError, "name '%s' is not defined", name)
}

// GlobalSet binds a module global.
func (m *Machine) GlobalSet(name string, v Value) {
	m.globals[name] = v
}

// GetAttr reads an attribute.
func (m *Machine) GetAttr(obj Value, name string) (Value, error) {
	switch o := obj.(type) {
	case *Object:
		if v, ok := o.Attrs[name]; ok {
			return v, nil
		}
	case *Exception:
		switch name {
		case "args":
			return &Tuple{Items: Copy(o.Args)}, nil
		case "__traceback__":
			return &Traceback{Frames: append([]string(nil), o.Traceback...)}, nil
		case "__cause__":
			if o.Cause == nil {
				return None, nil
			}
			return o.Cause, nil
		}
	case *Function:
		if name == "__name__" {
			return Str(o.Name), nil
		}
	case *HostFunction:
		if name == "__name__" {
			return Str(o.Name), nil
		}
	case *TypeObject:
		if name == "__name__" {
			return Str(o.T.Name), nil
		}
		if h := m.hostMethod(o.T, name); h != nil {
			if h.binding() == callsig.Class {
				return &BoundMethod{Self: o, Func: h}, nil
			}
			return h, nil
		}
	}
	if h := m.hostMethod(obj.Type(), name); h != nil {
		switch h.binding() {
		case callsig.Virtual:
			return &BoundMethod{Self: obj, Func: h}, nil
		case callsig.Class:
			return &BoundMethod{Self: TypeOf(obj), Func: h}, nil
		}
		return h, nil
	}
	return nil, Errorf(types.AttributeError, "'%s' object has no attribute '%s'", obj.Type().Name, name)
}

// SetAttr writes an attribute. Only plain objects are mutable.
func (m *Machine) SetAttr(obj Value, name string, v Value) error {
	o, ok := obj.(*Object)
	if !ok {
		return Errorf(types.AttributeError, "'%s' object has no attribute '%s'", obj.Type().Name, name)
	}
	if o.Attrs == nil {
		o.Attrs = make(map[string]Value)
	}
	o.Attrs[name] = v
	return nil
}

// LookupMethod is METHOD_LOOKUP: a host method with the receiver it expects
// (Null for static methods and for methods looked up through their type),
// or the attribute value with Null.
func (m *Machine) LookupMethod(obj Value, name string) (Value, Value, error) {
	if t, ok := obj.(*TypeObject); ok {
		if h := m.hostMethod(t.T, name); h != nil {
			if h.binding() == callsig.Class {
				return h, t, nil
			}
			return h, Null, nil
		}
	} else if h := m.hostMethod(obj.Type(), name); h != nil {
		switch h.binding() {
		case callsig.Virtual:
			return h, obj, nil
		case callsig.Class:
			return h, TypeOf(obj), nil
		}
		return h, Null, nil
	}
	v, err := m.GetAttr(obj, name)
	if err != nil {
		return nil, nil, err
	}
	return v, Null, nil
}

// ============================================================================
// Interpreter
// ============================================================================

type frame struct {
	this   *Instance
	method *target.Method
	slots  []Value
	stack  []Value
	sp     int
	pc     int
}

func newFrame(this *Instance, meth *target.Method, args []Value) *frame {
	slots := make([]Value, max(meth.MaxSlots, len(args)))
	copy(slots, args)
	return &frame{
		this:   this,
		method: meth,
		slots:  slots,
		stack:  make([]Value, max(this.Class.maxStack[meth.Name], meth.MaxStack, 1)),
	}
}

func (f *frame) push(v Value) {
	f.stack[f.sp] = v
	f.sp++
}

func (f *frame) pop() Value {
	f.sp--
	return f.stack[f.sp]
}

func (f *frame) top() Value {
	return f.stack[f.sp-1]
}

// popN pops n values into a fresh slice, bottom first.
func (f *frame) popN(n int) []Value {
	f.sp -= n
	return Copy(f.stack[f.sp : f.sp+n])
}

// handler returns the landing pad covering pc.
func (f *frame) handler(pc int) (int, bool) {
	for _, h := range f.method.Handlers {
		if pc >= h.Start && pc < h.End {
			return h.Target, true
		}
	}
	return 0, false
}

// run is the main execution loop. An instruction that produces a single
// result sets v and the number of operands it consumes; the loop replaces
// those operands with v.
func (m *Machine) run(f *frame) (Value, error) {
	code := f.method.Code
	for f.pc < len(code) {
		pc := f.pc
		in := code[pc]
		f.pc++

		if m.Trace {
			log.Infof("[%04d] %-16s sp=%d", pc, in.Op, f.sp)
		}

		var (
			v   Value
			pop int
			err error
		)

		switch in.Op {
		// ============ Stack Operations ============
		case target.OpNop:

		case target.OpPop:
			f.sp--

		case target.OpDup:
			f.push(f.top())

		case target.OpDupX1:
			b, a := f.pop(), f.pop()
			f.push(b)
			f.push(a)
			f.push(b)

		case target.OpDupX2:
			c, b, a := f.pop(), f.pop(), f.pop()
			f.push(c)
			f.push(a)
			f.push(b)
			f.push(c)

		case target.OpDup2:
			f.push(f.stack[f.sp-2])
			f.push(f.stack[f.sp-2])

		case target.OpSwap:
			f.stack[f.sp-1], f.stack[f.sp-2] = f.stack[f.sp-2], f.stack[f.sp-1]

		// ============ Constants and Slots ============
		case target.OpConst:
			f.push(f.this.Const(in.A))

		case target.OpNull:
			f.push(Null)

		case target.OpLoad:
			f.push(f.slots[in.A])

		case target.OpStore:
			f.slots[in.A] = f.pop()

		case target.OpLoadFree:
			f.push(f.this.Closure[in.A])

		case target.OpGetField:
			f.push(f.this.Fields[in.A])

		case target.OpPutField:
			f.this.Fields[in.A] = f.pop()

		// ============ Cells ============
		case target.OpCellNew:
			f.push(NewCell())

		case target.OpCellGet:
			v, err = CellGet(f.top())
			pop = 1

		case target.OpCellSet:
			value := f.pop()
			err = CellSet(f.pop(), value)

		// ============ Names and Attributes ============
		case target.OpGlobalGet:
			v, err = m.GlobalGet(in.S)

		case target.OpGlobalSet:
			m.GlobalSet(in.S, f.pop())

		case target.OpAttrGet:
			v, err = m.GetAttr(f.top(), in.S)
			pop = 1

		case target.OpAttrSet:
			obj := f.pop()
			err = m.SetAttr(obj, in.S, f.pop())

		case target.OpMethodLookup:
			var fn, recv Value
			if fn, recv, err = m.LookupMethod(f.top(), in.S); err == nil {
				f.stack[f.sp-1] = fn
				f.push(recv)
			}

		case target.OpHostRef:
			v, err = m.HostRef(in.S)

		case target.OpTypeOf:
			f.stack[f.sp-1] = TypeOf(f.top())

		// ============ Calls ============
		case target.OpInvokeHost:
			v, err = m.InvokeHost(in.S, f.popN(in.A))

		case target.OpCall:
			kwargs, args, recv := f.pop(), f.pop(), Null
			if in.A&target.CallWithReceiver != 0 {
				recv = f.pop()
			}
			v, err = m.Call(f.pop(), recv, args, kwargs)

		case target.OpInvokeSelf:
			v, err = m.InvokeSelf(f.this, in.S)

		case target.OpMakeFunction:
			n, _ := target.StackEffect(in)
			v, err = m.MakeFunction(f.this, in.A, in.B, f.popN(n))

		case target.OpNewGenerator:
			v, err = m.NewGenerator(f.this, in.A, f.popN(in.B))

		case target.OpSplitKw:
			names := f.pop()
			var pos, kw Value
			if pos, kw, err = SplitKw(f.pop(), names); err == nil {
				f.push(pos)
				f.push(kw)
			}

		case target.OpToTuple:
			v, err = ToTuple(f.top())
			pop = 1

		// ============ Operators ============
		case target.OpBinop:
			v, err = Binop(target.Operator(in.A), f.stack[f.sp-2], f.top())
			pop = 2

		case target.OpCmp:
			v, err = Compare(in.A, f.stack[f.sp-2], f.top())
			pop = 2

		case target.OpUnop:
			v, err = Unop(target.Operator(in.A), f.top())
			pop = 1

		case target.OpIs:
			b := f.pop()
			f.stack[f.sp-1] = Is(f.top(), b, in.A != 0)

		case target.OpContains:
			v, err = Contains(f.stack[f.sp-2], f.top(), in.A != 0)
			pop = 2

		case target.OpCheckCast:
			err = CheckCast(f.top(), in.S)

		// ============ Builders ============
		case target.OpBuildTuple:
			f.push(NewTuple(f.popN(in.A)...))

		case target.OpBuildList:
			f.push(NewList(f.popN(in.A)...))

		case target.OpBuildMap:
			v, err = BuildDict(f.popN(2 * in.A))

		case target.OpUnpack:
			var items []Value
			if items, err = Unpack(f.pop(), in.A); err == nil {
				for i := len(items) - 1; i >= 0; i-- {
					f.push(items[i])
				}
			}

		// ============ Iteration ============
		case target.OpGetIter:
			v, err = GetIter(f.top())
			pop = 1

		case target.OpYieldFromIter:
			v, err = YieldFromIter(f.top())
			pop = 1

		case target.OpIterNext:
			var item Value
			var ok bool
			if item, ok, err = IterNext(f.top()); err == nil {
				if ok {
					f.push(item)
				} else {
					f.sp--
					f.pc = in.A
				}
			}

		case target.OpSubAdvance:
			value := f.pop()
			var done bool
			if v, done, err = SubAdvance(in.A, f.pop(), value); err == nil {
				f.push(v)
				f.push(Bool(done))
				v = nil
			}

		// ============ Control Flow ============
		case target.OpGoto:
			f.pc = in.A

		case target.OpIfTrue:
			if Truthy(f.pop()) {
				f.pc = in.A
			}

		case target.OpIfFalse:
			if !Truthy(f.pop()) {
				f.pc = in.A
			}

		case target.OpIfNull:
			if f.pop() == Null {
				f.pc = in.A
			}

		case target.OpIfNonNull:
			if f.pop() != Null {
				f.pc = in.A
			}

		case target.OpSwitch:
			key := AsInt(f.pop())
			f.pc = in.A
			for i, k := range in.Keys {
				if k == key {
					f.pc = in.Targets[i]
					break
				}
			}

		// ============ Exceptions and Return ============
		case target.OpExcMatch:
			v, err = ExcMatch(f.stack[f.sp-2], f.top())
			pop = 2

		case target.OpThrow:
			if in.A != 0 {
				cause := f.pop()
				err = Raise(f.pop(), cause)
			} else {
				err = Raise(f.pop(), Null)
			}

		case target.OpReturn:
			return f.pop(), nil

		default:
			return nil, fmt.Errorf("%s.%s@%04d: unknown opcode %s", f.this.Class.Name, f.method.Name, pc, in.Op)
		}

		if err != nil {
			if landing, ok := f.handler(pc); ok {
				f.sp = 0
				f.push(ExceptionValue(err))
				f.pc = landing
				continue
			}
			return nil, addFrame(err, fmt.Sprintf("%s.%s@%04d", f.this.Class.Name, f.method.Name, pc))
		}
		if v != nil {
			f.sp -= pop
			f.push(v)
		}
	}
	return nil, ErrFellOff
}

// addFrame records that err left the named frame.
func addFrame(err error, where string) error {
	if exc, ok := err.(*Exception); ok {
		exc.Traceback = append(exc.Traceback, where)
	}
	return err
}
