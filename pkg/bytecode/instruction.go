package bytecode

import "fmt"

// NoTarget marks an instruction without a branch target.
const NoTarget = -1

// Instruction is a decoded, immutable source instruction.
type Instruction struct {
	Offset     int  // Instruction index
	Op         Op   // Decoded opcode kind
	Arg        int  // Raw argument as recorded
	JumpTarget bool // Some instruction branches here
	Target     int  // Decoded absolute branch target, or NoTarget
}

// IsForcedJump reports whether control never falls through to the next
// instruction.
func (in Instruction) IsForcedJump() bool {
	return in.Op.IsForced()
}

// Successors returns the possible successor offsets in order: fallthrough
// first, then the branch target.
func (in Instruction) Successors() []int {
	switch {
	case in.Op.IsForced() && in.Target != NoTarget:
		return []int{in.Target}
	case in.Op.IsForced():
		return nil
	case in.Target != NoTarget:
		return []int{in.Offset + 1, in.Target}
	default:
		return []int{in.Offset + 1}
	}
}

func (in Instruction) String() string {
	if in.Target != NoTarget {
		return fmt.Sprintf("%d %s %d (to %d)", in.Offset, in.Op, in.Arg, in.Target)
	}
	return fmt.Sprintf("%d %s %d", in.Offset, in.Op, in.Arg)
}
