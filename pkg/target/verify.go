package target

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrStackUnderflow means an instruction pops more than the stack holds.
	ErrStackUnderflow = errors.New("stack underflow")
	// ErrStackMismatch means two paths reach an instruction at different depths.
	ErrStackMismatch = errors.New("stack depth mismatch")
	// ErrBadTarget means a jump or handler points outside the code.
	ErrBadTarget = errors.New("jump target out of range")
	// ErrFallOff means control runs past the last instruction.
	ErrFallOff = errors.New("control falls off the end of the code")
)

// StackEffect returns how many values in pops and pushes on its
// fallthrough path.
func StackEffect(in Instr) (pop, push int) {
	info := GetOpcodeInfo(in.Op)
	pop, push = info.StackPop, info.StackPush
	switch in.Op {
	case OpInvokeHost:
		pop = in.A
	case OpCall:
		pop = 3 + in.A&CallWithReceiver
	case OpMakeFunction:
		pop = bits.OnesCount(uint(in.B & (FunctionDefaults | FunctionKwDefaults | FunctionClosure)))
	case OpNewGenerator:
		pop = in.B
	case OpBuildTuple, OpBuildList:
		pop = in.A
	case OpBuildMap:
		pop = 2 * in.A
	case OpUnpack:
		push = in.A
	case OpThrow:
		pop = 1
		if in.A != 0 {
			pop = 2
		}
	}
	return pop, push
}

// Verify checks that every path reaches each instruction at one stack depth
// without underflow and returns the maximum depth. Handler targets are
// entered with the exception as the only stack value.
func Verify(m *Method) (int, error) {
	n := len(m.Code)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	maxDepth := 0

	type item struct{ at, depth int }
	var work []item
	enter := func(from, at, d int) error {
		if at < 0 || at >= n {
			if at == n && from >= 0 {
				return fmt.Errorf("%s: %04d: %w", m.Name, from, ErrFallOff)
			}
			return fmt.Errorf("%s: %04d: %w (%d)", m.Name, from, ErrBadTarget, at)
		}
		switch {
		case depth[at] < 0:
			depth[at] = d
			work = append(work, item{at, d})
		case depth[at] != d:
			return fmt.Errorf("%s: %04d: %w: %d vs %d", m.Name, at, ErrStackMismatch, depth[at], d)
		}
		return nil
	}

	if n == 0 {
		return 0, nil
	}
	if err := enter(-1, 0, 0); err != nil {
		return 0, err
	}
	for _, h := range m.Handlers {
		if h.Start < 0 || h.End > n || h.Start > h.End {
			return 0, fmt.Errorf("%s: handler %d-%d: %w", m.Name, h.Start, h.End, ErrBadTarget)
		}
		if err := enter(-1, h.Target, 1); err != nil {
			return 0, err
		}
	}
	maxDepth = max(maxDepth, min(len(m.Handlers), 1))

	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		in := m.Code[it.at]

		pop, push := StackEffect(in)
		if pop > it.depth {
			return 0, fmt.Errorf("%s: %04d %s: %w: needs %d, has %d",
				m.Name, it.at, in.Op, ErrStackUnderflow, pop, it.depth)
		}
		after := it.depth - pop + push
		maxDepth = max(maxDepth, after)

		if !in.Op.IsTerminal() {
			if err := enter(it.at, it.at+1, after); err != nil {
				return 0, err
			}
		}
		switch {
		case in.Op == OpIterNext:
			if err := enter(it.at, in.A, it.depth-1); err != nil {
				return 0, err
			}
		case in.Op == OpSwitch:
			for _, t := range in.Targets {
				if err := enter(it.at, t, after); err != nil {
					return 0, err
				}
			}
			if err := enter(it.at, in.A, after); err != nil {
				return 0, err
			}
		case in.Op.IsBranch():
			if err := enter(it.at, in.A, after); err != nil {
				return 0, err
			}
		}
	}
	return maxDepth, nil
}
