package target

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of u and its nested units.
func Disassemble(u *Unit) string {
	var sb strings.Builder
	u.Walk(func(n *Unit) {
		disassembleUnit(&sb, n)
	})
	return sb.String()
}

func disassembleUnit(sb *strings.Builder, u *Unit) {
	// Header
	sb.WriteString(fmt.Sprintf("; === %s ===\n", u.Name))
	sb.WriteString(fmt.Sprintf("; Unit v%d %s implements %s.%s/%d\n",
		u.Version, u.Kind, u.Interface.Name, u.Interface.Method, u.Interface.Arity))
	if u.Signature != nil {
		sb.WriteString(fmt.Sprintf("; Signature: %s\n", u.Signature))
	}
	sb.WriteString("\n")

	// Constants
	if len(u.Consts) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range u.Consts {
			display := c.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
		sb.WriteString("\n")
	}

	// Fields
	if len(u.Fields) > 0 {
		sb.WriteString("; Fields:\n")
		for i, f := range u.Fields {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, f))
		}
		sb.WriteString("\n")
	}

	for _, m := range u.Methods {
		sb.WriteString(fmt.Sprintf("; Method %s/%d (slots=%d, stack=%d)\n", m.Name, m.Arity, m.MaxSlots, m.MaxStack))
		for _, line := range DisassembleToLines(u, m) {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		if len(m.Handlers) > 0 {
			sb.WriteString("; Handlers:\n")
			for _, h := range m.Handlers {
				sb.WriteString(fmt.Sprintf(";   %04d-%04d -> %04d\n", h.Start, h.End, h.Target))
			}
		}
		sb.WriteString("\n")
	}
}

// DisassembleToLines returns the code of m as one line per instruction.
func DisassembleToLines(u *Unit, m *Method) []string {
	lines := make([]string, len(m.Code))
	for i, in := range m.Code {
		lines[i] = fmt.Sprintf("%04d  %s", i, DisassembleInstruction(u, in))
	}
	return lines
}

// DisassembleInstruction renders one instruction. u may be nil; it only
// adds comments naming constants, fields and nested units.
func DisassembleInstruction(u *Unit, in Instr) string {
	info := GetOpcodeInfo(in.Op)

	switch in.Op {
	case OpConst:
		if u != nil && in.A >= 0 && in.A < len(u.Consts) {
			return fmt.Sprintf("%s %d ; %s", info.Name, in.A, u.Consts[in.A])
		}
	case OpGetField, OpPutField:
		if u != nil && in.A >= 0 && in.A < len(u.Fields) {
			return fmt.Sprintf("%s %d ; %s", info.Name, in.A, u.Fields[in.A])
		}
	case OpBinop, OpUnop:
		return fmt.Sprintf("%s %s", info.Name, Operator(in.A))
	case OpCmp:
		if in.A >= 0 && in.A < len(Comparisons) {
			return fmt.Sprintf("%s %s", info.Name, Comparisons[in.A])
		}
	case OpIs, OpContains:
		if in.A != 0 {
			return info.Name + " not"
		}
		return info.Name
	case OpMakeFunction, OpNewGenerator:
		if u != nil && in.A >= 0 && in.A < len(u.Nested) {
			return fmt.Sprintf("%s %d %d ; %s", info.Name, in.A, in.B, u.Nested[in.A].Name)
		}
	}

	switch info.Operands {
	case OperandInt:
		return fmt.Sprintf("%s %d", info.Name, in.A)
	case OperandPair:
		return fmt.Sprintf("%s %d %d", info.Name, in.A, in.B)
	case OperandLabel:
		return fmt.Sprintf("%s -> %04d", info.Name, in.A)
	case OperandName:
		return fmt.Sprintf("%s %s", info.Name, in.S)
	case OperandNameInt:
		return fmt.Sprintf("%s %s %d", info.Name, in.S, in.A)
	case OperandSwitch:
		cases := make([]string, len(in.Keys))
		for i, k := range in.Keys {
			cases[i] = fmt.Sprintf("%d:%04d", k, in.Targets[i])
		}
		return fmt.Sprintf("%s {%s} default %04d", info.Name, strings.Join(cases, " "), in.A)
	}
	return info.Name
}
