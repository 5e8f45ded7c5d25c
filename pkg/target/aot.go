package target

import (
	"fmt"
	"strings"
)

// GoSource renders u and its nested units as a Go file whose functions
// perform each method's operations directly against the runtime package,
// plus a dispatch table the runtime can install in place of interpretation.
func GoSource(pkg string, u *Unit) string {
	g := &goWriter{}
	g.sb.WriteString("// Code generated by pyaot. DO NOT EDIT.\n\n")
	g.sb.WriteString(fmt.Sprintf("package %s\n\n", pkg))
	g.sb.WriteString("import rt \"github.com/chazu/pyaot/pkg/runtime\"\n\n")

	type entry struct{ unit, method, fn string }
	var table []entry
	u.Walk(func(n *Unit) {
		g.sb.WriteString(fmt.Sprintf("// --- Unit: %s (%s) ---\n\n", n.Name, n.Kind))
		for _, m := range n.Methods {
			fn := "aot_" + sanitizeName(n.Name) + "_" + sanitizeName(m.Name)
			g.method(fn, n, m)
			g.sb.WriteString("\n")
			table = append(table, entry{n.Name, m.Name, fn})
		}
	})

	g.sb.WriteString("// Dispatch maps (unit, method) pairs to their compiled functions.\n")
	g.sb.WriteString("var Dispatch = rt.DispatchTable{\n")
	for _, e := range table {
		g.sb.WriteString(fmt.Sprintf("\t{Unit: %q, Method: %q}: %s,\n", e.unit, e.method, e.fn))
	}
	g.sb.WriteString("}\n")
	return g.sb.String()
}

type goWriter struct {
	sb       strings.Builder
	indent   int
	handlers []Handler
}

// writeLine writes an indented line to the output.
func (g *goWriter) writeLine(format string, args ...any) {
	for i := 0; i < g.indent; i++ {
		g.sb.WriteString("\t")
	}
	g.sb.WriteString(fmt.Sprintf(format, args...))
	g.sb.WriteString("\n")
}

// fail writes the error path for the instruction at pc: the innermost
// handler's landing pad, or an error return.
func (g *goWriter) fail(pc int, errExpr string) {
	for _, h := range g.handlers {
		if pc >= h.Start && pc < h.End {
			g.writeLine("stack[0] = rt.ExceptionValue(%s)", errExpr)
			g.writeLine("sp = 1")
			g.writeLine("goto L%d", h.Target)
			return
		}
	}
	g.writeLine("return nil, %s", errExpr)
}

func (g *goWriter) check(pc int) {
	g.writeLine("if err != nil {")
	g.indent++
	g.fail(pc, "err")
	g.indent--
	g.writeLine("}")
}

func (g *goWriter) method(fn string, u *Unit, m *Method) {
	g.handlers = m.Handlers

	g.writeLine("// %s.%s/%d", u.Name, m.Name, m.Arity)
	g.writeLine("func %s(m *rt.Machine, this *rt.Instance, args []rt.Value) (rt.Value, error) {", fn)
	g.indent++
	g.writeLine("slots := make([]rt.Value, %d)", max(m.MaxSlots, 1))
	g.writeLine("copy(slots, args)")
	g.writeLine("stack := make([]rt.Value, %d)", max(m.MaxStack, 1))
	g.writeLine("sp := 0")
	g.writeLine("_, _ = slots, stack")
	g.writeLine("")

	targets := jumpTargets(m)
	for pc, in := range m.Code {
		if targets[pc] {
			g.indent--
			g.writeLine("L%d:", pc)
			g.indent++
		}
		g.writeLine("// %04d %s", pc, DisassembleInstruction(u, in))
		g.instr(pc, in)
	}
	g.writeLine("return nil, rt.ErrFellOff")

	g.indent--
	g.writeLine("}")
}

// jumpTargets returns the code indices that need a Go label.
func jumpTargets(m *Method) map[int]bool {
	targets := make(map[int]bool)
	for _, in := range m.Code {
		if in.Op.IsBranch() {
			targets[in.A] = true
		}
		for _, t := range in.Targets {
			targets[t] = true
		}
	}
	for _, h := range m.Handlers {
		targets[h.Target] = true
	}
	return targets
}

func (g *goWriter) instr(pc int, in Instr) {
	switch in.Op {
	// ============ Stack Operations ============
	case OpNop:
	case OpPop:
		g.writeLine("sp--")
	case OpDup:
		g.writeLine("stack[sp] = stack[sp-1]")
		g.writeLine("sp++")
	case OpDupX1:
		g.writeLine("stack[sp-2], stack[sp-1], stack[sp] = stack[sp-1], stack[sp-2], stack[sp-1]")
		g.writeLine("sp++")
	case OpDupX2:
		g.writeLine("stack[sp-3], stack[sp-2], stack[sp-1], stack[sp] = stack[sp-1], stack[sp-3], stack[sp-2], stack[sp-1]")
		g.writeLine("sp++")
	case OpDup2:
		g.writeLine("stack[sp], stack[sp+1] = stack[sp-2], stack[sp-1]")
		g.writeLine("sp += 2")
	case OpSwap:
		g.writeLine("stack[sp-2], stack[sp-1] = stack[sp-1], stack[sp-2]")

	// ============ Constants and Slots ============
	case OpConst:
		g.writeLine("stack[sp] = this.Const(%d)", in.A)
		g.writeLine("sp++")
	case OpNull:
		g.writeLine("stack[sp] = rt.Null")
		g.writeLine("sp++")
	case OpLoad:
		g.writeLine("stack[sp] = slots[%d]", in.A)
		g.writeLine("sp++")
	case OpStore:
		g.writeLine("sp--")
		g.writeLine("slots[%d] = stack[sp]", in.A)
	case OpLoadFree:
		g.writeLine("stack[sp] = this.Closure[%d]", in.A)
		g.writeLine("sp++")
	case OpGetField:
		g.writeLine("stack[sp] = this.Fields[%d]", in.A)
		g.writeLine("sp++")
	case OpPutField:
		g.writeLine("sp--")
		g.writeLine("this.Fields[%d] = stack[sp]", in.A)

	// ============ Cells ============
	case OpCellNew:
		g.writeLine("stack[sp] = rt.NewCell()")
		g.writeLine("sp++")
	case OpCellGet:
		g.result(pc, "rt.CellGet(stack[sp-1])", 1)
	case OpCellSet:
		g.call(pc, "rt.CellSet(stack[sp-2], stack[sp-1])", 2)

	// ============ Names and Attributes ============
	case OpGlobalGet:
		g.result(pc, fmt.Sprintf("m.GlobalGet(%q)", in.S), 0)
	case OpGlobalSet:
		g.writeLine("sp--")
		g.writeLine("m.GlobalSet(%q, stack[sp])", in.S)
	case OpAttrGet:
		g.result(pc, fmt.Sprintf("m.GetAttr(stack[sp-1], %q)", in.S), 1)
	case OpAttrSet:
		g.call(pc, fmt.Sprintf("m.SetAttr(stack[sp-1], %q, stack[sp-2])", in.S), 2)
	case OpMethodLookup:
		g.writeLine("{")
		g.indent++
		g.writeLine("fn, recv, err := m.LookupMethod(stack[sp-1], %q)", in.S)
		g.check(pc)
		g.writeLine("stack[sp-1], stack[sp] = fn, recv")
		g.writeLine("sp++")
		g.indent--
		g.writeLine("}")
	case OpHostRef:
		g.result(pc, fmt.Sprintf("m.HostRef(%q)", in.S), 0)
	case OpTypeOf:
		g.writeLine("stack[sp-1] = rt.TypeOf(stack[sp-1])")

	// ============ Calls ============
	case OpInvokeHost:
		g.result(pc, fmt.Sprintf("m.InvokeHost(%q, rt.Copy(stack[sp-%d:sp]))", in.S, in.A), in.A)
	case OpCall:
		if in.A&CallWithReceiver != 0 {
			g.result(pc, "m.Call(stack[sp-4], stack[sp-3], stack[sp-2], stack[sp-1])", 4)
		} else {
			g.result(pc, "m.Call(stack[sp-3], rt.Null, stack[sp-2], stack[sp-1])", 3)
		}
	case OpInvokeSelf:
		g.result(pc, fmt.Sprintf("m.InvokeSelf(this, %q)", in.S), 0)
	case OpMakeFunction:
		pop, _ := StackEffect(in)
		g.result(pc, fmt.Sprintf("m.MakeFunction(this, %d, %d, rt.Copy(stack[sp-%d:sp]))", in.A, in.B, pop), pop)
	case OpNewGenerator:
		g.result(pc, fmt.Sprintf("m.NewGenerator(this, %d, rt.Copy(stack[sp-%d:sp]))", in.A, in.B), in.B)
	case OpSplitKw:
		g.writeLine("{")
		g.indent++
		g.writeLine("pos, kw, err := rt.SplitKw(stack[sp-2], stack[sp-1])")
		g.check(pc)
		g.writeLine("stack[sp-2], stack[sp-1] = pos, kw")
		g.indent--
		g.writeLine("}")
	case OpToTuple:
		g.result(pc, "rt.ToTuple(stack[sp-1])", 1)

	// ============ Operators ============
	case OpBinop:
		g.result(pc, fmt.Sprintf("rt.Binop(%d, stack[sp-2], stack[sp-1])", in.A), 2)
	case OpCmp:
		g.result(pc, fmt.Sprintf("rt.Compare(%d, stack[sp-2], stack[sp-1])", in.A), 2)
	case OpUnop:
		g.result(pc, fmt.Sprintf("rt.Unop(%d, stack[sp-1])", in.A), 1)
	case OpIs:
		g.writeLine("stack[sp-2] = rt.Is(stack[sp-2], stack[sp-1], %t)", in.A != 0)
		g.writeLine("sp--")
	case OpContains:
		g.result(pc, fmt.Sprintf("rt.Contains(stack[sp-2], stack[sp-1], %t)", in.A != 0), 2)
	case OpCheckCast:
		g.writeLine("if err := rt.CheckCast(stack[sp-1], %q); err != nil {", in.S)
		g.indent++
		g.fail(pc, "err")
		g.indent--
		g.writeLine("}")

	// ============ Builders ============
	case OpBuildTuple:
		g.replaceTop(fmt.Sprintf("rt.NewTuple(rt.Copy(stack[sp-%d:sp])...)", in.A), in.A)
	case OpBuildList:
		g.replaceTop(fmt.Sprintf("rt.NewList(rt.Copy(stack[sp-%d:sp])...)", in.A), in.A)
	case OpBuildMap:
		g.result(pc, fmt.Sprintf("rt.BuildDict(stack[sp-%d:sp])", 2*in.A), 2*in.A)
	case OpUnpack:
		g.writeLine("{")
		g.indent++
		g.writeLine("items, err := rt.Unpack(stack[sp-1], %d)", in.A)
		g.check(pc)
		g.writeLine("sp--")
		g.writeLine("for i := len(items) - 1; i >= 0; i-- {")
		g.writeLine("\tstack[sp] = items[i]")
		g.writeLine("\tsp++")
		g.writeLine("}")
		g.indent--
		g.writeLine("}")

	// ============ Iteration ============
	case OpGetIter:
		g.result(pc, "rt.GetIter(stack[sp-1])", 1)
	case OpYieldFromIter:
		g.result(pc, "rt.YieldFromIter(stack[sp-1])", 1)
	case OpIterNext:
		g.writeLine("{")
		g.indent++
		g.writeLine("v, ok, err := rt.IterNext(stack[sp-1])")
		g.check(pc)
		g.writeLine("if !ok {")
		g.writeLine("\tsp--")
		g.writeLine("\tgoto L%d", in.A)
		g.writeLine("}")
		g.writeLine("stack[sp] = v")
		g.writeLine("sp++")
		g.indent--
		g.writeLine("}")
	case OpSubAdvance:
		g.writeLine("{")
		g.indent++
		g.writeLine("v, done, err := rt.SubAdvance(%d, stack[sp-2], stack[sp-1])", in.A)
		g.check(pc)
		g.writeLine("stack[sp-2], stack[sp-1] = v, rt.Bool(done)")
		g.indent--
		g.writeLine("}")

	// ============ Control Flow ============
	case OpGoto:
		g.writeLine("goto L%d", in.A)
	case OpIfTrue, OpIfFalse:
		neg := ""
		if in.Op == OpIfFalse {
			neg = "!"
		}
		g.writeLine("sp--")
		g.writeLine("if %srt.Truthy(stack[sp]) {", neg)
		g.writeLine("\tgoto L%d", in.A)
		g.writeLine("}")
	case OpIfNull:
		g.writeLine("sp--")
		g.writeLine("if stack[sp] == rt.Null {")
		g.writeLine("\tgoto L%d", in.A)
		g.writeLine("}")
	case OpIfNonNull:
		g.writeLine("sp--")
		g.writeLine("if stack[sp] != rt.Null {")
		g.writeLine("\tgoto L%d", in.A)
		g.writeLine("}")
	case OpSwitch:
		g.writeLine("sp--")
		g.writeLine("switch rt.AsInt(stack[sp]) {")
		for i, k := range in.Keys {
			g.writeLine("case %d:", k)
			g.writeLine("\tgoto L%d", in.Targets[i])
		}
		g.writeLine("}")
		g.writeLine("goto L%d", in.A)

	// ============ Exceptions and Return ============
	case OpExcMatch:
		g.result(pc, "rt.ExcMatch(stack[sp-2], stack[sp-1])", 2)
	case OpThrow:
		if in.A != 0 {
			g.fail(pc, "rt.Raise(stack[sp-2], stack[sp-1])")
		} else {
			g.fail(pc, "rt.Raise(stack[sp-1], rt.Null)")
		}
	case OpReturn:
		g.writeLine("return stack[sp-1], nil")

	default:
		g.writeLine("panic(%q)", "unsupported opcode "+in.Op.String())
	}
}

// result writes a call returning (Value, error) that replaces the top pop
// values with its result.
func (g *goWriter) result(pc int, expr string, pop int) {
	g.writeLine("{")
	g.indent++
	g.writeLine("v, err := %s", expr)
	g.check(pc)
	g.replaceTop("v", pop)
	g.indent--
	g.writeLine("}")
}

// replaceTop writes the assignment of expr over the top pop values.
func (g *goWriter) replaceTop(expr string, pop int) {
	if pop == 0 {
		g.writeLine("stack[sp] = %s", expr)
		g.writeLine("sp++")
		return
	}
	g.writeLine("stack[sp-%d] = %s", pop, expr)
	if pop > 1 {
		g.writeLine("sp -= %d", pop-1)
	}
}

// call writes a call returning only an error that consumes pop values.
func (g *goWriter) call(pc int, expr string, pop int) {
	g.writeLine("if err := %s; err != nil {", expr)
	g.indent++
	g.fail(pc, "err")
	g.indent--
	g.writeLine("}")
	g.writeLine("sp -= %d", pop)
}

// sanitizeName converts a unit or method name to a valid Go identifier.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range name {
		switch {
		case ch == '$':
			result.WriteString("S")
		case ch == '.' || ch == '<' || ch == '>':
			result.WriteString("_")
		case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_':
			result.WriteRune(ch)
		}
	}
	return result.String()
}
