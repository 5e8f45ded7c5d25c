package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOpcode is returned for opcode names that do not exist in
	// the record's language version.
	ErrUnknownOpcode = errors.New("unrecognized opcode")

	// ErrMalformed is returned for records whose offsets or jump targets
	// are inconsistent.
	ErrMalformed = errors.New("malformed instruction stream")
)

// Decode turns the raw instruction list of rec into typed instructions.
//
// The JumpTarget flag of a decoded instruction is set when the record says
// so or when any decoded jump lands on it, so loaders that omit the flag
// still produce a correct leader set.
func Decode(rec *FunctionRecord) ([]Instruction, error) {
	v, err := ParseVersion(rec.Version)
	if err != nil {
		return nil, err
	}

	n := len(rec.Instructions)
	out := make([]Instruction, n)
	for i, raw := range rec.Instructions {
		if raw.Offset != i {
			return nil, fmt.Errorf("%w: instruction %d has offset %d", ErrMalformed, i, raw.Offset)
		}
		op, ok := LookupOp(raw.Op, v)
		if !ok {
			return nil, fmt.Errorf("%w: %s at offset %d for version %s", ErrUnknownOpcode, raw.Op, i, v)
		}
		out[i] = Instruction{
			Offset:     i,
			Op:         op,
			Arg:        raw.Arg,
			JumpTarget: raw.JumpTarget,
			Target:     NoTarget,
		}
		if op.IsJump() {
			out[i].Target = jumpTarget(op, raw.Arg, i, v)
		}
	}

	for i := range out {
		t := out[i].Target
		if t == NoTarget {
			continue
		}
		if t < 0 || t >= n {
			return nil, fmt.Errorf("%w: %s at offset %d jumps to %d", ErrMalformed, out[i].Op, i, t)
		}
		out[t].JumpTarget = true
	}
	return out, nil
}

// jumpTarget decodes the absolute target of a jump instruction.
func jumpTarget(op Op, arg, offset int, v Version) int {
	if v.ScaledJumps() {
		arg >>= 1
	}
	if op.Info().Jump == JumpRelative {
		return offset + arg + 1
	}
	return arg
}

// EncodeJumpArg is the inverse of the decoder's jump handling. Record
// builders in tests and tools use it to produce version-correct arguments.
func EncodeJumpArg(op Op, target, offset int, v Version) int {
	arg := target
	if op.Info().Jump == JumpRelative {
		arg = target - offset - 1
	}
	if v.ScaledJumps() {
		arg <<= 1
	}
	return arg
}
