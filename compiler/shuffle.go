package compiler

import (
	"fmt"

	"github.com/chazu/pyaot/pkg/flow"
	"github.com/chazu/pyaot/pkg/target"
)

// Stack shuffles reach at most two entries below the top with target
// stack instructions; deeper permutations go through scratch slots.

// shiftDown moves the top entry below the k entries under it:
// x1 .. xk t -> t x1 .. xk.
func (e *emitter) shiftDown(k int) error {
	switch {
	case k < 0:
		return fmt.Errorf("%w: shift by %d", flow.ErrImpossibleState, k)
	case k == 0:
	case k == 1:
		e.op(target.OpSwap)
	case k == 2:
		e.op(target.OpDupX2)
		e.op(target.OpPop)
	default:
		tmp := e.scratch(k + 1)
		for i := k; i >= 0; i-- {
			e.store(tmp[i])
		}
		e.load(tmp[k])
		for i := 0; i < k; i++ {
			e.load(tmp[i])
		}
		return e.release(tmp)
	}
	return nil
}

// dupDown copies the top entry below the k entries under it:
// x1 .. xk t -> t x1 .. xk t.
func (e *emitter) dupDown(k int) error {
	switch k {
	case 0:
		e.op(target.OpDup)
	case 1:
		e.op(target.OpDupX1)
	case 2:
		e.op(target.OpDupX2)
	default:
		e.op(target.OpDup)
		return e.shiftDown(k + 1)
	}
	return nil
}
