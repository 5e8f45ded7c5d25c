package runtime

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

func newTestMachine(t *testing.T) (*Machine, *bytes.Buffer) {
	t.Helper()
	m, err := NewMachine()
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	out := &bytes.Buffer{}
	m.Stdout = out
	return m, out
}

// function builds a function unit whose entry method is the code emit
// writes.
func function(t *testing.T, name string, sig *callsig.Signature, slots int, emit func(u *target.Unit, c *target.Chunk)) *target.Unit {
	t.Helper()
	arity := 0
	if sig != nil {
		arity = len(sig.Params)
	}
	u := target.NewUnit(name, target.UnitFunction, target.FunctionInterface(arity))
	u.Signature = sig
	c := target.NewChunk()
	emit(u, c)
	meth, err := c.Finish("call", arity, slots)
	if err != nil {
		t.Fatalf("Finish %s: %v", name, err)
	}
	u.Methods = append(u.Methods, meth)
	return u
}

func positional(name string, params ...string) *callsig.Signature {
	sig := &callsig.Signature{Name: name}
	for _, p := range params {
		sig.Params = append(sig.Params, callsig.Param{Name: p, Kind: callsig.PositionalOrKeyword})
	}
	return sig
}

func load(t *testing.T, m *Machine, u *target.Unit) *Function {
	t.Helper()
	fn, err := m.Load(u)
	if err != nil {
		t.Fatalf("Load %s: %v", u.Name, err)
	}
	return fn
}

func TestExecuteAdd(t *testing.T) {
	m, _ := newTestMachine(t)
	u := function(t, "add", positional("add", "a", "b"), 2, func(u *target.Unit, c *target.Chunk) {
		c.EmitInt(target.OpLoad, 0)
		c.EmitInt(target.OpLoad, 1)
		c.EmitInt(target.OpBinop, int(target.BinAdd))
		c.Emit(target.OpReturn)
	})
	fn := load(t, m, u)

	got, err := m.CallArgs(fn, Int(2), Int(3))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != Int(5) {
		t.Errorf("add(2, 3) = %s, want 5", Repr(got))
	}

	got, err = m.Invoke(fn, []Value{Str("x")}, []string{"b"}, []Value{Str("y")})
	if err != nil {
		t.Fatalf("call with keyword: %v", err)
	}
	if got != Str("xy") {
		t.Errorf("add('x', b='y') = %s", Repr(got))
	}

	if _, err := m.CallArgs(fn, Int(1)); !IsInstance(err, types.TypeError) {
		t.Errorf("missing argument: error = %v, want TypeError", err)
	}
}

func TestKeywordAndDefaultBinding(t *testing.T) {
	m, _ := newTestMachine(t)
	two := bytecode.Int(2)
	sig := &callsig.Signature{Name: "f", Params: []callsig.Param{
		{Name: "a", Kind: callsig.PositionalOrKeyword},
		{Name: "b", Kind: callsig.PositionalOrKeyword, Default: &two},
		{Name: "args", Kind: callsig.VarPositional},
		{Name: "kwargs", Kind: callsig.VarKeyword},
	}}
	u := function(t, "f", sig, 4, func(u *target.Unit, c *target.Chunk) {
		for i := 0; i < 4; i++ {
			c.EmitInt(target.OpLoad, i)
		}
		c.EmitInt(target.OpBuildTuple, 4)
		c.Emit(target.OpReturn)
	})
	fn := load(t, m, u)

	got, err := m.Invoke(fn, []Value{Int(1)}, []string{"z"}, []Value{Int(9)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if want := "(1, 2, (), {'z': 9})"; Repr(got) != want {
		t.Errorf("f(1, z=9) = %s, want %s", Repr(got), want)
	}

	got, err = m.CallArgs(fn, Int(1), Int(5), Int(6))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if want := "(1, 5, (6,), {})"; Repr(got) != want {
		t.Errorf("f(1, 5, 6) = %s, want %s", Repr(got), want)
	}
}

func TestDynamicCallThroughCall(t *testing.T) {
	m, _ := newTestMachine(t)
	// len("abc") through the generic protocol.
	u := function(t, "dyn", nil, 0, func(u *target.Unit, c *target.Chunk) {
		c.EmitName(target.OpGlobalGet, "len")
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Str("abc")))
		c.EmitInt(target.OpBuildTuple, 1)
		c.EmitInt(target.OpBuildMap, 0)
		c.EmitInt(target.OpCall, 0)
		c.Emit(target.OpReturn)
	})
	got, err := m.CallArgs(load(t, m, u))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != Int(3) {
		t.Errorf("len('abc') = %s, want 3", Repr(got))
	}
}

func TestBoundHostCall(t *testing.T) {
	m, out := newTestMachine(t)
	// print("a", "b", sep="-") bound statically: args tuple, sep, end.
	u := function(t, "p", nil, 0, func(u *target.Unit, c *target.Chunk) {
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Str("a")))
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Str("b")))
		c.EmitInt(target.OpBuildTuple, 2)
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Str("-")))
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Str("\n")))
		c.EmitNameInt(target.OpInvokeHost, "builtins.print", 3)
		c.Emit(target.OpReturn)
	})
	got, err := m.CallArgs(load(t, m, u))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != None {
		t.Errorf("print returned %s", Repr(got))
	}
	if out.String() != "a-b\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestMethodLookupAndCall(t *testing.T) {
	m, _ := newTestMachine(t)
	// d.get("k") with the receiver under the arguments.
	u := function(t, "get", positional("get", "d"), 1, func(u *target.Unit, c *target.Chunk) {
		c.EmitInt(target.OpLoad, 0)
		c.EmitName(target.OpMethodLookup, "get")
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Str("k")))
		c.EmitInt(target.OpBuildTuple, 1)
		c.EmitInt(target.OpBuildMap, 0)
		c.EmitInt(target.OpCall, target.CallWithReceiver)
		c.Emit(target.OpReturn)
	})
	fn := load(t, m, u)

	d := NewDict()
	got, err := m.CallArgs(fn, d)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != None {
		t.Errorf("missing key = %s, want None", Repr(got))
	}
	_ = d.Set(Str("k"), Int(4))
	if got, _ = m.CallArgs(fn, d); got != Int(4) {
		t.Errorf("present key = %s, want 4", Repr(got))
	}
}

func TestAttributes(t *testing.T) {
	m, _ := newTestMachine(t)
	obj, err := m.Invoke(mustGlobal(t, m, "namespace"), nil, []string{"x"}, []Value{Int(1)})
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	if v, err := m.GetAttr(obj, "x"); err != nil || v != Int(1) {
		t.Errorf("obj.x = %v, %v", v, err)
	}
	if err := m.SetAttr(obj, "y", Str("z")); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if v, _ := m.GetAttr(obj, "y"); v != Str("z") {
		t.Errorf("obj.y = %v", v)
	}
	if _, err := m.GetAttr(Int(1), "nope"); !IsInstance(err, types.AttributeError) {
		t.Errorf("missing attribute: error = %v, want AttributeError", err)
	}
	if err := m.SetAttr(Int(1), "x", None); !IsInstance(err, types.AttributeError) {
		t.Errorf("SetAttr on int: error = %v, want AttributeError", err)
	}

	upper, err := m.GetAttr(Str("hi"), "upper")
	if err != nil {
		t.Fatalf("GetAttr upper: %v", err)
	}
	if v, err := m.CallArgs(upper); err != nil || v != Str("HI") {
		t.Errorf("'hi'.upper() = %v, %v", v, err)
	}
}

func mustGlobal(t *testing.T, m *Machine, name string) Value {
	t.Helper()
	v, err := m.GlobalGet(name)
	if err != nil {
		t.Fatalf("GlobalGet %s: %v", name, err)
	}
	return v
}

func TestGlobalsAndTypes(t *testing.T) {
	m, _ := newTestMachine(t)
	if _, err := m.GlobalGet("undefined_name"); !IsInstance(err, types.NameError) {
		t.Errorf("undefined global: error = %v, want NameError", err)
	}
	m.GlobalSet("answer", Int(42))
	if v := mustGlobal(t, m, "answer"); v != Int(42) {
		t.Errorf("answer = %v", v)
	}

	v, err := m.CallArgs(mustGlobal(t, m, "int"), Str(" 12 "))
	if err != nil || v != Int(12) {
		t.Errorf("int(' 12 ') = %v, %v", v, err)
	}
	v, err = m.CallArgs(mustGlobal(t, m, "isinstance"), Bool(true), mustGlobal(t, m, "int"))
	if err != nil || v != Bool(true) {
		t.Errorf("isinstance(True, int) = %v, %v", v, err)
	}
	v, err = m.CallArgs(mustGlobal(t, m, "ValueError"), Str("bad"))
	if err != nil {
		t.Fatalf("ValueError('bad'): %v", err)
	}
	if exc, ok := v.(*Exception); !ok || exc.Error() != "ValueError: bad" {
		t.Errorf("ValueError('bad') = %v", v)
	}
	v, err = m.CallArgs(mustGlobal(t, m, "max"), Int(3), Float(4.5))
	if err != nil || v != Float(4.5) {
		t.Errorf("max(3, 4.5) = %v, %v", v, err)
	}
}

func TestHandlerCatchesException(t *testing.T) {
	m, _ := newTestMachine(t)
	u := function(t, "safe_div", positional("safe_div", "a", "b"), 2, func(u *target.Unit, c *target.Chunk) {
		start, end, pad := c.NewLabel(), c.NewLabel(), c.NewLabel()
		c.Mark(start)
		c.EmitInt(target.OpLoad, 0)
		c.EmitInt(target.OpLoad, 1)
		c.EmitInt(target.OpBinop, int(target.BinFloorDiv))
		c.Emit(target.OpReturn)
		c.Mark(end)
		c.Mark(pad)
		// [exc] -> match ZeroDivisionError, else re-raise.
		other := c.NewLabel()
		c.Emit(target.OpDup)
		c.EmitName(target.OpGlobalGet, "ZeroDivisionError")
		c.Emit(target.OpExcMatch)
		c.EmitJump(target.OpIfFalse, other)
		c.Emit(target.OpPop)
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Int(-1)))
		c.Emit(target.OpReturn)
		c.Mark(other)
		c.EmitInt(target.OpThrow, 0)
		c.AddHandler(start, end, pad)
	})
	fn := load(t, m, u)

	if got, err := m.CallArgs(fn, Int(7), Int(2)); err != nil || got != Int(3) {
		t.Errorf("7 // 2 = %v, %v", got, err)
	}
	if got, err := m.CallArgs(fn, Int(7), Int(0)); err != nil || got != Int(-1) {
		t.Errorf("7 // 0 = %v, %v; want handler result -1", got, err)
	}
	_, err := m.CallArgs(fn, Str("a"), Int(1))
	var exc *Exception
	if !errors.As(err, &exc) || exc.Class != types.TypeError {
		t.Fatalf("'a' // 1: error = %v, want TypeError", err)
	}
	if len(exc.Traceback) == 0 || !strings.HasPrefix(exc.Traceback[len(exc.Traceback)-1], "safe_div.call@") {
		t.Errorf("traceback = %v", exc.Traceback)
	}
}

func TestClosureThroughMakeFunction(t *testing.T) {
	m, _ := newTestMachine(t)
	inner := function(t, "outer.inner", &callsig.Signature{Name: "inner"}, 0, func(u *target.Unit, c *target.Chunk) {
		c.EmitInt(target.OpLoadFree, 0)
		c.Emit(target.OpCellGet)
		c.Emit(target.OpReturn)
	})
	outer := function(t, "outer", nil, 0, func(u *target.Unit, c *target.Chunk) {
		n := u.AddNested(inner)
		c.Emit(target.OpCellNew)
		c.Emit(target.OpDup)
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Int(5)))
		c.Emit(target.OpCellSet)
		c.EmitInt(target.OpBuildTuple, 1)
		c.EmitPair(target.OpMakeFunction, n, target.FunctionClosure)
		c.EmitInt(target.OpBuildTuple, 0)
		c.EmitInt(target.OpBuildMap, 0)
		c.EmitInt(target.OpCall, 0)
		c.Emit(target.OpReturn)
	})
	got, err := m.CallArgs(load(t, m, outer))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != Int(5) {
		t.Errorf("closure result = %s, want 5", Repr(got))
	}
	if _, ok := m.Loader.Lookup("outer.inner"); !ok {
		t.Errorf("nested unit was not registered")
	}
}

func TestMakeFunctionDefaults(t *testing.T) {
	m, _ := newTestMachine(t)
	inner := function(t, "mk.inner", positional("inner", "a", "b"), 2, func(u *target.Unit, c *target.Chunk) {
		c.EmitInt(target.OpLoad, 0)
		c.EmitInt(target.OpLoad, 1)
		c.EmitInt(target.OpBinop, int(target.BinSub))
		c.Emit(target.OpReturn)
	})
	outer := function(t, "mk", nil, 0, func(u *target.Unit, c *target.Chunk) {
		n := u.AddNested(inner)
		c.EmitInt(target.OpConst, u.AddConstant(bytecode.Int(1)))
		c.EmitInt(target.OpBuildTuple, 1)
		c.EmitPair(target.OpMakeFunction, n, target.FunctionDefaults)
		c.Emit(target.OpReturn)
	})
	fn, err := m.CallArgs(load(t, m, outer))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if got, err := m.CallArgs(fn, Int(10)); err != nil || got != Int(9) {
		t.Errorf("inner(10) = %v, %v; want 9", got, err)
	}
	if got, err := m.CallArgs(fn, Int(10), Int(4)); err != nil || got != Int(6) {
		t.Errorf("inner(10, 4) = %v, %v; want 6", got, err)
	}
	if name, _ := m.GetAttr(fn, "__name__"); name != Str("inner") {
		t.Errorf("__name__ = %v", name)
	}
}

func TestForLoopOverRange(t *testing.T) {
	m, _ := newTestMachine(t)
	// total = 0; for i in range(n): total += i; return total
	u := function(t, "loop", positional("loop", "n"), 3, func(u *target.Unit, c *target.Chunk) {
		zero := u.AddConstant(bytecode.Int(0))
		one := u.AddConstant(bytecode.Int(1))
		top, done := c.NewLabel(), c.NewLabel()
		c.EmitInt(target.OpConst, zero)
		c.EmitInt(target.OpStore, 1)
		c.EmitInt(target.OpLoad, 0)
		c.Emit(target.OpNull)
		c.EmitInt(target.OpConst, one)
		c.EmitNameInt(target.OpInvokeHost, "builtins.range", 3)
		c.Emit(target.OpGetIter)
		c.Mark(top)
		c.EmitJump(target.OpIterNext, done)
		c.EmitInt(target.OpStore, 2)
		c.EmitInt(target.OpLoad, 1)
		c.EmitInt(target.OpLoad, 2)
		c.EmitInt(target.OpBinop, int(target.BinInplaceAdd))
		c.EmitInt(target.OpStore, 1)
		c.EmitJump(target.OpGoto, top)
		c.Mark(done)
		c.EmitInt(target.OpLoad, 1)
		c.Emit(target.OpReturn)
	})
	got, err := m.CallArgs(load(t, m, u), Int(5))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != Int(10) {
		t.Errorf("sum(range(5)) = %s, want 10", Repr(got))
	}
}

func TestUseCompiled(t *testing.T) {
	m, _ := newTestMachine(t)
	u := function(t, "native", nil, 0, func(u *target.Unit, c *target.Chunk) {
		c.Emit(target.OpNull)
		c.Emit(target.OpReturn)
	})
	fn := load(t, m, u)
	m.UseCompiled(DispatchTable{
		{Unit: "native", Method: "call"}: func(m *Machine, this *Instance, args []Value) (Value, error) {
			return Str("compiled"), nil
		},
	})
	if got, err := m.CallArgs(fn); err != nil || got != Str("compiled") {
		t.Errorf("compiled dispatch = %v, %v", got, err)
	}
}

func TestLoaderRejects(t *testing.T) {
	m, _ := newTestMachine(t)
	u := function(t, "dup", nil, 0, func(u *target.Unit, c *target.Chunk) {
		c.Emit(target.OpNull)
		c.Emit(target.OpReturn)
	})
	load(t, m, u)
	if _, err := m.Loader.Load(u); !errors.Is(err, ErrDuplicateUnit) {
		t.Errorf("second load: error = %v, want ErrDuplicateUnit", err)
	}

	bad := function(t, "bad", nil, 0, func(u *target.Unit, c *target.Chunk) {
		c.Emit(target.OpNull)
		c.Emit(target.OpReturn)
	})
	bad.Interface = target.FunctionInterface(2)
	if _, err := m.Loader.Load(bad); !errors.Is(err, ErrBadEntry) {
		t.Errorf("arity mismatch: error = %v, want ErrBadEntry", err)
	}
	if _, ok := m.Loader.Lookup("bad"); ok {
		t.Errorf("failed unit was registered")
	}
}

func TestRecursionLimit(t *testing.T) {
	m, _ := newTestMachine(t)
	m.RecursionLimit = 20
	// f() calls the global f.
	u := function(t, "rec", nil, 0, func(u *target.Unit, c *target.Chunk) {
		c.EmitName(target.OpGlobalGet, "f")
		c.EmitInt(target.OpBuildTuple, 0)
		c.EmitInt(target.OpBuildMap, 0)
		c.EmitInt(target.OpCall, 0)
		c.Emit(target.OpReturn)
	})
	fn := load(t, m, u)
	m.GlobalSet("f", fn)
	if _, err := m.CallArgs(fn); !IsInstance(err, types.RuntimeError) {
		t.Errorf("unbounded recursion: error = %v, want RuntimeError", err)
	}
}
