package compiler

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/callsig"
	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/runtime"
	"github.com/chazu/pyaot/pkg/target"
	"github.com/chazu/pyaot/pkg/types"
)

// harness compiles records into one machine. Every harness has its own
// name registry, so unit names never collide with other tests.
type harness struct {
	t   *testing.T
	c   *Compiler
	m   *runtime.Machine
	out *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := NewWithBuiltins()
	if err != nil {
		t.Fatalf("NewWithBuiltins: %v", err)
	}
	c.SetNames(NewNameRegistry())
	m, err := runtime.NewMachine()
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	out := &bytes.Buffer{}
	m.Stdout = out
	return &harness{t: t, c: c, m: m, out: out}
}

func (h *harness) compile(rec *bytecode.FunctionRecord) *target.Unit {
	h.t.Helper()
	u, err := h.c.Compile(rec, target.FunctionInterface(rec.ParamCount()))
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Dump != "" {
			h.t.Logf("listing:\n%s", ce.Dump)
		}
		h.t.Fatalf("Compile %s: %v", rec.Name, err)
	}
	return u
}

// load compiles rec and returns the callable function.
func (h *harness) load(rec *bytecode.FunctionRecord) (runtime.Value, string) {
	h.t.Helper()
	u := h.compile(rec)
	fn, err := h.m.Load(u)
	if err != nil {
		h.t.Fatalf("Load %s: %v\n%s", u.Name, err, target.Disassemble(u))
	}
	return fn, target.Disassemble(u)
}

func (h *harness) call(fn runtime.Value, args ...runtime.Value) runtime.Value {
	h.t.Helper()
	v, err := h.m.CallArgs(fn, args...)
	if err != nil {
		h.t.Fatalf("call: %v", err)
	}
	return v
}

func TestCompileArithmetic(t *testing.T) {
	h := newHarness(t)
	// return a + b * 2
	rec := bytecode.NewBuilder("arith", "3.9").
		Params("a", "b").
		LoadFast("a").
		LoadFast("b").
		LoadConst(bytecode.Int(2)).
		Op("BINARY_MULTIPLY").
		Op("BINARY_ADD").
		Op("RETURN_VALUE").
		MustBuild()
	fn, _ := h.load(rec)

	if got := h.call(fn, runtime.Int(3), runtime.Int(4)); got != runtime.Int(11) {
		t.Errorf("arith(3, 4) = %s, want 11", runtime.Repr(got))
	}
	if got := h.call(fn, runtime.Str("x"), runtime.Str("y")); got != runtime.Str("xyy") {
		t.Errorf("arith('x', 'y') = %s, want 'xyy'", runtime.Repr(got))
	}
}

func TestDefaultsAndKeywordsFromRecord(t *testing.T) {
	h := newHarness(t)
	// def sub(a, b=10): return a - b
	b := bytecode.NewBuilder("sub", "3.9").Params("a", "b")
	b.Record().Defaults = []bytecode.Constant{bytecode.Int(10)}
	rec := b.LoadFast("a").
		LoadFast("b").
		Op("BINARY_SUBTRACT").
		Op("RETURN_VALUE").
		MustBuild()
	fn, _ := h.load(rec)

	if got := h.call(fn, runtime.Int(15)); got != runtime.Int(5) {
		t.Errorf("sub(15) = %s, want 5", runtime.Repr(got))
	}
	got, err := h.m.Invoke(fn, []runtime.Value{runtime.Int(1)}, []string{"b"}, []runtime.Value{runtime.Int(4)})
	if err != nil || got != runtime.Int(-3) {
		t.Errorf("sub(1, b=4) = %v, %v; want -3", got, err)
	}
}

func TestDeclaredParameterTypesAreChecked(t *testing.T) {
	h := newHarness(t)
	rec := bytecode.NewBuilder("typed", "3.9").
		TypedParams("n", "int").
		LoadFast("n").
		Op("RETURN_VALUE").
		MustBuild()
	fn, listing := h.load(rec)

	if !strings.Contains(listing, "CHECKCAST int") {
		t.Errorf("listing has no CHECKCAST:\n%s", listing)
	}
	if got := h.call(fn, runtime.Bool(true)); got != runtime.Bool(true) {
		t.Errorf("typed(True) = %s, want True", runtime.Repr(got))
	}
	if _, err := h.m.CallArgs(fn, runtime.Str("no")); !runtime.IsInstance(err, types.TypeError) {
		t.Errorf("typed('no'): error = %v, want TypeError", err)
	}
}

func TestBoundHostCalls(t *testing.T) {
	h := newHarness(t)
	// return len(s)
	lenRec := bytecode.NewBuilder("length", "3.9").
		Params("s").
		LoadGlobal("len").
		LoadFast("s").
		Emit("CALL_FUNCTION", 1).
		Op("RETURN_VALUE").
		MustBuild()
	fn, listing := h.load(lenRec)
	if !strings.Contains(listing, "INVOKE_HOST builtins.len 1") {
		t.Errorf("len call was not bound:\n%s", listing)
	}
	if strings.Contains(listing, "CALL ") {
		t.Errorf("bound call still uses the dynamic protocol:\n%s", listing)
	}
	if got := h.call(fn, runtime.Str("abc")); got != runtime.Int(3) {
		t.Errorf("length('abc') = %s, want 3", runtime.Repr(got))
	}

	// print("a", "b", sep="-")
	printRec := bytecode.NewBuilder("show", "3.9").
		LoadGlobal("print").
		LoadConst(bytecode.Str("a")).
		LoadConst(bytecode.Str("b")).
		LoadConst(bytecode.Str("-")).
		LoadConst(bytecode.Tuple(bytecode.Str("sep"))).
		Emit("CALL_FUNCTION_KW", 3).
		Op("RETURN_VALUE").
		MustBuild()
	fn, listing = h.load(printRec)
	if !strings.Contains(listing, "INVOKE_HOST builtins.print 3") {
		t.Errorf("print call was not bound:\n%s", listing)
	}
	if got := h.call(fn); got != runtime.None {
		t.Errorf("show() = %s, want None", runtime.Repr(got))
	}
	if h.out.String() != "a-b\n" {
		t.Errorf("output = %q, want %q", h.out.String(), "a-b\n")
	}
}

func TestBoundMethodCall(t *testing.T) {
	h := newHarness(t)
	// return s.upper()
	rec := bytecode.NewBuilder("shout", "3.9").
		TypedParams("s", "str").
		LoadFast("s").
		LoadMethod("upper").
		Emit("CALL_METHOD", 0).
		Op("RETURN_VALUE").
		MustBuild()
	fn, listing := h.load(rec)
	if strings.Contains(listing, "METHOD_LOOKUP") {
		t.Errorf("method on a known receiver type was looked up dynamically:\n%s", listing)
	}
	if got := h.call(fn, runtime.Str("hi")); got != runtime.Str("HI") {
		t.Errorf("shout('hi') = %s, want 'HI'", runtime.Repr(got))
	}
}

func TestRegisteredSignatureBindsStatically(t *testing.T) {
	c := New(nil)
	c.SetNames(NewNameRegistry())
	err := c.RegisterSignature(&callsig.Signature{
		Name:   "scale",
		Symbol: "app.scale",
		Params: []callsig.Param{
			{Name: "x", Kind: callsig.PositionalOrKeyword, Type: "int"},
			{Name: "factor", Kind: callsig.PositionalOrKeyword, Type: "int", Default: &bytecode.Constant{Kind: bytecode.ConstInt, Int: 2}},
		},
		Return: "int",
	})
	if err != nil {
		t.Fatalf("RegisterSignature: %v", err)
	}

	// return scale(n)
	rec := bytecode.NewBuilder("twice", "3.9").
		TypedParams("n", "int").
		LoadGlobal("scale").
		LoadFast("n").
		Emit("CALL_FUNCTION", 1).
		Op("RETURN_VALUE").
		MustBuild()
	u, err := c.Compile(rec, target.FunctionInterface(1))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	listing := target.Disassemble(u)
	for _, want := range []string{"CHECKCAST int", "INVOKE_HOST app.scale 2"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestDynamicCallFallback(t *testing.T) {
	h := newHarness(t)
	// return f(x)
	rec := bytecode.NewBuilder("apply", "3.9").
		Params("f", "x").
		LoadFast("f").
		LoadFast("x").
		Emit("CALL_FUNCTION", 1).
		Op("RETURN_VALUE").
		MustBuild()
	fn, listing := h.load(rec)
	if !strings.Contains(listing, "CALL 0") {
		t.Errorf("call of an unknown callee should be dynamic:\n%s", listing)
	}
	length, err := h.m.GlobalGet("len")
	if err != nil {
		t.Fatal(err)
	}
	if got := h.call(fn, length, runtime.NewList(runtime.Int(1), runtime.Int(2))); got != runtime.Int(2) {
		t.Errorf("apply(len, [1, 2]) = %s, want 2", runtime.Repr(got))
	}
}

func TestDynamicKeywordCall(t *testing.T) {
	h := newHarness(t)
	// return f(1, b=x)
	rec := bytecode.NewBuilder("kwcall", "3.9").
		Params("f", "x").
		LoadFast("f").
		LoadConst(bytecode.Int(1)).
		LoadFast("x").
		LoadConst(bytecode.Tuple(bytecode.Str("b"))).
		Emit("CALL_FUNCTION_KW", 2).
		Op("RETURN_VALUE").
		MustBuild()
	fn, listing := h.load(rec)
	if !strings.Contains(listing, "SPLIT_KW") {
		t.Errorf("keyword call of an unknown callee should split names:\n%s", listing)
	}

	sub := bytecode.NewBuilder("minus", "3.9").
		Params("a", "b").
		LoadFast("a").
		LoadFast("b").
		Op("BINARY_SUBTRACT").
		Op("RETURN_VALUE").
		MustBuild()
	minus, _ := h.load(sub)
	if got := h.call(fn, minus, runtime.Int(5)); got != runtime.Int(-4) {
		t.Errorf("kwcall(minus, 5) = %s, want -4", runtime.Repr(got))
	}
}

func TestStackShuffles(t *testing.T) {
	tests := []struct {
		name string
		op   string
		arg  int
		n    int
		want string
	}{
		{"rot_two", "ROT_TWO", 0, 2, "(2, 1)"},
		{"rot_three", "ROT_THREE", 0, 3, "(3, 1, 2)"},
		{"rot_four", "ROT_FOUR", 0, 4, "(4, 1, 2, 3)"},
		{"rot_n", "ROT_N", 5, 5, "(5, 1, 2, 3, 4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			b := bytecode.NewBuilder(tt.name, "3.10")
			for i := 1; i <= tt.n; i++ {
				b.LoadConst(bytecode.Int(int64(i)))
			}
			rec := b.Emit(tt.op, tt.arg).
				Emit("BUILD_TUPLE", tt.n).
				Op("RETURN_VALUE").
				MustBuild()
			fn, _ := h.load(rec)
			if got := runtime.Repr(h.call(fn)); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.op, got, tt.want)
			}
		})
	}
}

func TestClosures(t *testing.T) {
	h := newHarness(t)
	// def outer(x):
	//     def inner(): return x
	//     return inner()
	inner := bytecode.NewBuilder("inner", "3.9")
	inner.Record().QualName = "outer.<locals>.inner"
	innerRec := inner.Emit("LOAD_DEREF", inner.Free("x")).
		Op("RETURN_VALUE").
		MustBuild()

	outer := bytecode.NewBuilder("outer", "3.9").Params("x")
	outerRec := outer.Emit("LOAD_CLOSURE", outer.Cell("x")).
		Emit("BUILD_TUPLE", 1).
		LoadConst(bytecode.Code(innerRec)).
		LoadConst(bytecode.Str("outer.<locals>.inner")).
		Emit("MAKE_FUNCTION", bytecode.MakeFunctionClosure).
		Emit("CALL_FUNCTION", 0).
		Op("RETURN_VALUE").
		MustBuild()
	u := h.compile(outerRec)
	if len(u.Nested) != 1 || !strings.HasPrefix(u.Nested[0].Name, "outer.<locals>.inner") {
		t.Fatalf("nested units = %d, want the inner function", len(u.Nested))
	}
	fn, err := h.m.Load(u)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := h.call(fn, runtime.Str("captured")); got != runtime.Str("captured") {
		t.Errorf("outer('captured') = %s", runtime.Repr(got))
	}
}

func TestStoreDerefUpdatesCell(t *testing.T) {
	h := newHarness(t)
	// def counter():
	//     n = 1
	//     def get(): return n
	//     n = 2
	//     return get()
	get := bytecode.NewBuilder("get", "3.9")
	getRec := get.Emit("LOAD_DEREF", get.Free("n")).
		Op("RETURN_VALUE").
		MustBuild()

	b := bytecode.NewBuilder("counter", "3.9")
	n := b.Cell("n")
	rec := b.LoadConst(bytecode.Int(1)).
		Emit("STORE_DEREF", n).
		Emit("LOAD_CLOSURE", n).
		Emit("BUILD_TUPLE", 1).
		LoadConst(bytecode.Code(getRec)).
		LoadConst(bytecode.Str("counter.<locals>.get")).
		Emit("MAKE_FUNCTION", bytecode.MakeFunctionClosure).
		StoreFast("get").
		LoadConst(bytecode.Int(2)).
		Emit("STORE_DEREF", n).
		LoadFast("get").
		Emit("CALL_FUNCTION", 0).
		Op("RETURN_VALUE").
		MustBuild()
	fn, _ := h.load(rec)
	if got := h.call(fn); got != runtime.Int(2) {
		t.Errorf("counter() = %s, want the cell's latest value 2", runtime.Repr(got))
	}
}

// safeDivRecord is
//
//	def safe_div(a, b):
//	    try:
//	        return a // b
//	    except ZeroDivisionError:
//	        return -1
func safeDivRecord() *bytecode.FunctionRecord {
	return bytecode.NewBuilder("safe_div", "3.9").
		Params("a", "b").
		EmitJump("SETUP_FINALLY", "handler").
		LoadFast("a").
		LoadFast("b").
		Op("BINARY_FLOOR_DIVIDE").
		Op("POP_BLOCK").
		Op("RETURN_VALUE").
		Mark("handler").Op("DUP_TOP").
		LoadGlobal("ZeroDivisionError").
		EmitJump("JUMP_IF_NOT_EXC_MATCH", "reraise").
		Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_EXCEPT").
		LoadConst(bytecode.Int(-1)).
		Op("RETURN_VALUE").
		Mark("reraise").Op("RERAISE").
		MustBuild()
}

func TestTryExcept(t *testing.T) {
	h := newHarness(t)
	fn, _ := h.load(safeDivRecord())

	if got := h.call(fn, runtime.Int(7), runtime.Int(2)); got != runtime.Int(3) {
		t.Errorf("safe_div(7, 2) = %s, want 3", runtime.Repr(got))
	}
	if got := h.call(fn, runtime.Int(1), runtime.Int(0)); got != runtime.Int(-1) {
		t.Errorf("safe_div(1, 0) = %s, want -1", runtime.Repr(got))
	}
	if _, err := h.m.CallArgs(fn, runtime.Str("a"), runtime.Int(1)); !runtime.IsInstance(err, types.TypeError) {
		t.Errorf("safe_div('a', 1): error = %v, want the TypeError re-raised", err)
	}
}

func TestHandlerRestoresOperandStack(t *testing.T) {
	h := newHarness(t)
	// (10, try-block-that-raises-and-recovers) keeps 10 on the stack
	// across the handler.
	rec := bytecode.NewBuilder("kept", "3.9").
		Params("d").
		LoadConst(bytecode.Int(10)).
		EmitJump("SETUP_FINALLY", "handler").
		LoadFast("d").
		LoadConst(bytecode.Str("missing")).
		Op("BINARY_SUBSCR").
		Op("POP_BLOCK").
		EmitJump("JUMP_FORWARD", "done").
		Mark("handler").Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_EXCEPT").
		LoadConst(bytecode.Int(0)).
		Mark("done").Emit("BUILD_TUPLE", 2).
		Op("RETURN_VALUE").
		MustBuild()
	fn, _ := h.load(rec)

	if got := runtime.Repr(h.call(fn, runtime.NewDict())); got != "(10, 0)" {
		t.Errorf("kept({}) = %s, want (10, 0)", got)
	}
}

func TestRaiseWithoutActiveException(t *testing.T) {
	h := newHarness(t)
	rec := bytecode.NewBuilder("bare_raise", "3.9").
		Emit("RAISE_VARARGS", 0).
		LoadConst(bytecode.None()).
		Op("RETURN_VALUE").
		MustBuild()
	fn, _ := h.load(rec)
	if _, err := h.m.CallArgs(fn); !runtime.IsInstance(err, types.RuntimeError) {
		t.Errorf("bare raise: error = %v, want RuntimeError", err)
	}
}

func TestBareRaiseAfterHandlers(t *testing.T) {
	h := newHarness(t)
	// try: raise ValueError
	// except:
	//     try: raise KeyError
	//     except: pass
	//     raise
	nested := bytecode.NewBuilder("nested", "3.9").
		EmitJump("SETUP_FINALLY", "outer").
		LoadGlobal("ValueError").
		Emit("RAISE_VARARGS", 1).
		Mark("outer").Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_TOP").
		EmitJump("SETUP_FINALLY", "inner").
		LoadGlobal("KeyError").
		Emit("RAISE_VARARGS", 1).
		Mark("inner").Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_EXCEPT").
		Emit("RAISE_VARARGS", 0).
		LoadConst(bytecode.None()).
		Op("RETURN_VALUE").
		MustBuild()
	// try: raise ValueError
	// except: pass
	// raise
	finished := bytecode.NewBuilder("finished", "3.9").
		EmitJump("SETUP_FINALLY", "handler").
		LoadGlobal("ValueError").
		Emit("RAISE_VARARGS", 1).
		Mark("handler").Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_TOP").
		Op("POP_EXCEPT").
		Emit("RAISE_VARARGS", 0).
		LoadConst(bytecode.None()).
		Op("RETURN_VALUE").
		MustBuild()

	tests := []struct {
		rec  *bytecode.FunctionRecord
		want *types.Type
	}{
		{nested, types.ValueError},
		{finished, types.RuntimeError},
	}
	for _, tt := range tests {
		fn, _ := h.load(tt.rec)
		_, err := h.m.CallArgs(fn)
		if !runtime.IsInstance(err, tt.want) {
			t.Errorf("%s: error = %v, want %s", tt.rec.Name, err, tt.want)
		}
	}
}

func TestUnboundLocal(t *testing.T) {
	h := newHarness(t)
	// if flag: x = 1
	// return x
	rec := bytecode.NewBuilder("maybe", "3.9").
		Params("flag").
		LoadFast("flag").
		EmitJump("POP_JUMP_IF_FALSE", "out").
		LoadConst(bytecode.Int(1)).
		StoreFast("x").
		Mark("out").LoadFast("x").
		Op("RETURN_VALUE").
		MustBuild()
	fn, _ := h.load(rec)

	if got := h.call(fn, runtime.Bool(true)); got != runtime.Int(1) {
		t.Errorf("maybe(True) = %s, want 1", runtime.Repr(got))
	}
	if _, err := h.m.CallArgs(fn, runtime.Bool(false)); !runtime.IsInstance(err, types.UnboundLocalError) {
		t.Errorf("maybe(False): error = %v, want UnboundLocalError", err)
	}
}

func TestCompileErrors(t *testing.T) {
	c := New(nil)
	c.SetNames(NewNameRegistry())

	rec := bytecode.NewBuilder("two", "3.9").
		Params("a", "b").
		LoadConst(bytecode.None()).
		Op("RETURN_VALUE").
		MustBuild()
	_, err := c.Compile(rec, target.FunctionInterface(3))
	if !errors.Is(err, ErrArity) {
		t.Errorf("arity mismatch: error = %v, want ErrArity", err)
	}

	// MAKE_FUNCTION over a value that is not a code constant.
	dyn := bytecode.NewBuilder("dyn_code", "3.9").
		Params("code").
		LoadFast("code").
		LoadConst(bytecode.Str("f")).
		Emit("MAKE_FUNCTION", 0).
		Op("RETURN_VALUE").
		MustBuild()
	_, err = c.Compile(dyn, target.FunctionInterface(1))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("dynamic code object: error = %v, want ErrUnsupported", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Offset != 2 || ce.Function != "dyn_code" {
		t.Errorf("error = %#v, want offset 2 of dyn_code", ce)
	}
	if !strings.Contains(err.Error(), "dyn_code@2") {
		t.Errorf("message %q does not name the instruction", err.Error())
	}
	// LOAD_CLOSURE of a cell the function does not have.
	closure := bytecode.NewBuilder("no_cells", "3.9").
		Emit("LOAD_CLOSURE", 3).
		Op("RETURN_VALUE").
		MustBuild()
	_, err = c.Compile(closure, target.FunctionInterface(0))
	if !errors.Is(err, flow.ErrImpossibleState) {
		t.Fatalf("missing cell: error = %v, want ErrImpossibleState", err)
	}
	if !errors.As(err, &ce) || ce.Offset != 0 || ce.Function != "no_cells" {
		t.Errorf("error = %#v, want offset 0 of no_cells", ce)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	compile := func() []byte {
		c := New(nil)
		c.SetNames(NewNameRegistry())
		u, err := c.Compile(safeDivRecord(), target.FunctionInterface(2))
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		data, err := target.MarshalUnit(u)
		if err != nil {
			t.Fatalf("MarshalUnit: %v", err)
		}
		return data
	}
	if !bytes.Equal(compile(), compile()) {
		t.Error("compiling the same record twice produced different units")
	}
}

func TestNameRegistry(t *testing.T) {
	r := NewNameRegistry()
	got := []string{r.Reserve("f"), r.Reserve("f"), r.Reserve("g"), r.Reserve("f")}
	want := []string{"f", "f$$2", "g", "f$$3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Reserve #%d = %q, want %q", i, got[i], want[i])
		}
	}
	// A literal name that collides with a derived one is skipped over.
	if n := r.Reserve("h$$2"); n != "h$$2" {
		t.Errorf("Reserve(h$$2) = %q", n)
	}
	r.Reserve("h")
	if n := r.Reserve("h"); n != "h$$3" {
		t.Errorf("second Reserve(h) = %q, want h$$3", n)
	}
}

func TestNameRegistryClaim(t *testing.T) {
	r := NewNameRegistry()
	if !r.Claim("f", "f.<locals>.g") {
		t.Fatal("Claim of free names failed")
	}
	if n := r.Reserve("f"); n != "f$$2" {
		t.Errorf("Reserve(f) after Claim = %q, want f$$2", n)
	}
	if r.Claim("h", "f") {
		t.Error("Claim of a taken name succeeded")
	}
	if n := r.Reserve("h"); n != "h" {
		t.Errorf("failed Claim left h taken: Reserve(h) = %q", n)
	}
	if r.Claim("k", "k") {
		t.Error("Claim of a repeated name succeeded")
	}
}

func TestNameRegistryConcurrent(t *testing.T) {
	r := NewNameRegistry()
	const workers, each = 8, 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				n := r.Reserve("unit")
				mu.Lock()
				if seen[n] {
					t.Errorf("name %q handed out twice", n)
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*each {
		t.Errorf("got %d names, want %d", len(seen), workers*each)
	}
}
