package bytecode

import (
	"fmt"
	"strings"
)

// Dump renders instrs the way the source language's disassembler does,
// resolving arguments against rec where possible. Compilation errors embed
// this text so a failure can be diagnosed from the message alone.
func Dump(rec *FunctionRecord, instrs []Instruction) string {
	var sb strings.Builder
	if rec != nil {
		fmt.Fprintf(&sb, "; %s (version %s)\n", rec.DisplayName(), rec.Version)
	}
	for _, in := range instrs {
		marker := "  "
		if in.JumpTarget {
			marker = ">>"
		}
		fmt.Fprintf(&sb, "%s %4d %-22s %d", marker, in.Offset, in.Op, in.Arg)
		if detail := describeArg(rec, in); detail != "" {
			fmt.Fprintf(&sb, " (%s)", detail)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func describeArg(rec *FunctionRecord, in Instruction) string {
	if in.Target != NoTarget {
		return fmt.Sprintf("to %d", in.Target)
	}
	if rec == nil {
		return ""
	}
	switch in.Op {
	case OpLoadConst:
		if in.Arg < len(rec.Consts) {
			return rec.Consts[in.Arg].String()
		}
	case OpLoadFast, OpStoreFast, OpDeleteFast:
		return nameAt(rec.VarNames, in.Arg)
	case OpLoadGlobal, OpStoreGlobal, OpLoadAttr, OpStoreAttr, OpLoadMethod:
		return nameAt(rec.Names, in.Arg)
	case OpLoadDeref, OpStoreDeref, OpLoadClosure:
		if in.Arg < len(rec.CellVars) {
			return rec.CellVars[in.Arg]
		}
		return nameAt(rec.FreeVars, in.Arg-len(rec.CellVars))
	case OpCompareOp:
		if in.Arg >= 0 && in.Arg < len(CompareOps) {
			return CompareOps[in.Arg]
		}
	}
	return ""
}

func nameAt(names []string, i int) string {
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return ""
}
