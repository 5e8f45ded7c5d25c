// Package flow builds the control-flow graph of a decoded function and runs
// the type dataflow analysis over it.
//
// Blocks live in a flat slice and refer to each other by index, so loops
// need no cyclic pointers. The analysis computes one TypeState per
// instruction: the inferred type and producing instructions of every stack
// entry, local and cell just before that instruction executes.
package flow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/pyaot/pkg/bytecode"
)

// ErrImpossibleState reports a graph or state the decoder should never have
// produced: a branch into the middle of a block, or two paths reaching one
// instruction with different stack depths.
var ErrImpossibleState = errors.New("impossible state")

// Block is a maximal run of instructions entered only at Start.
type Block struct {
	ID    int
	Start int   // First instruction offset
	End   int   // One past the last instruction offset
	Preds []int // Predecessor block IDs, in discovery order
	Succs []int // Successor block IDs, in discovery order
}

// Len is the number of instructions in the block.
func (b *Block) Len() int { return b.End - b.Start }

// Contains reports whether offset lies inside the block.
func (b *Block) Contains(offset int) bool {
	return offset >= b.Start && offset < b.End
}

// CFG is the control-flow graph of one function.
type CFG struct {
	Instructions []bytecode.Instruction
	Blocks       []Block

	blockOf []int // offset -> block ID
}

// BuildCFG partitions instrs into basic blocks. An instruction leads a
// block when it is the first instruction, a jump target, or follows a
// forced jump. Edges come only from declared successors.
func BuildCFG(instrs []bytecode.Instruction) (*CFG, error) {
	g := &CFG{Instructions: instrs, blockOf: make([]int, len(instrs))}
	if len(instrs) == 0 {
		return g, nil
	}

	afterForced := true
	for i, in := range instrs {
		if afterForced || in.JumpTarget {
			if n := len(g.Blocks); n > 0 {
				g.Blocks[n-1].End = i
			}
			g.Blocks = append(g.Blocks, Block{ID: len(g.Blocks), Start: i})
		}
		g.blockOf[i] = len(g.Blocks) - 1
		afterForced = in.IsForcedJump()
	}
	g.Blocks[len(g.Blocks)-1].End = len(instrs)

	for id := range g.Blocks {
		b := &g.Blocks[id]
		for off := b.Start; off < b.End; off++ {
			for _, succ := range instrs[off].Successors() {
				if b.Contains(succ) && succ > off {
					continue
				}
				target, ok := g.Leader(succ)
				if !ok {
					return nil, fmt.Errorf("%w: instruction %d branches to %d, which does not start a block",
						ErrImpossibleState, off, succ)
				}
				g.addEdge(id, target)
			}
		}
	}
	return g, nil
}

func (g *CFG) addEdge(from, to int) {
	if !slices.Contains(g.Blocks[from].Succs, to) {
		g.Blocks[from].Succs = append(g.Blocks[from].Succs, to)
	}
	if !slices.Contains(g.Blocks[to].Preds, from) {
		g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
	}
}

// Leader returns the ID of the block starting at offset.
func (g *CFG) Leader(offset int) (int, bool) {
	if offset < 0 || offset >= len(g.blockOf) {
		return 0, false
	}
	id := g.blockOf[offset]
	if g.Blocks[id].Start != offset {
		return 0, false
	}
	return id, true
}

// BlockOf returns the ID of the block containing offset.
func (g *CFG) BlockOf(offset int) int {
	return g.blockOf[offset]
}
