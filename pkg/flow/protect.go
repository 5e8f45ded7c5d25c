package flow

import (
	"slices"

	"github.com/chazu/pyaot/pkg/bytecode"
)

// Protection records, for each instruction, the SETUP_FINALLY instructions
// whose handlers are active there, innermost last. Unreachable
// instructions have no entry.
type Protection [][]int

// Protect runs the static block-stack pass: SETUP_FINALLY pushes a block
// on its fallthrough path, POP_BLOCK pops one, and a handler starts with the
// blocks that were active outside its SETUP_FINALLY.
func Protect(g *CFG) Protection {
	instrs := g.Instructions
	p := make(Protection, len(instrs))
	seen := make([]bool, len(instrs))
	if len(instrs) == 0 {
		return p
	}

	type item struct {
		offset int
		blocks []int
	}
	work := []item{{offset: 0}}
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.offset < 0 || it.offset >= len(instrs) || seen[it.offset] {
			continue
		}
		seen[it.offset] = true
		p[it.offset] = it.blocks

		in := instrs[it.offset]
		after := it.blocks
		switch in.Op {
		case bytecode.OpSetupFinally:
			after = append(slices.Clone(it.blocks), in.Offset)
		case bytecode.OpPopBlock:
			if n := len(it.blocks); n > 0 {
				after = it.blocks[:n-1:n-1]
			}
		}
		for i, succ := range in.Successors() {
			blocks := after
			if in.Op == bytecode.OpSetupFinally && i == 1 {
				blocks = it.blocks
			}
			work = append(work, item{offset: succ, blocks: blocks})
		}
	}
	return p
}

// Handler returns the innermost SETUP_FINALLY protecting offset.
func (p Protection) Handler(offset int) (setup int, ok bool) {
	if offset < 0 || offset >= len(p) {
		return 0, false
	}
	blocks := p[offset]
	if len(blocks) == 0 {
		return 0, false
	}
	return blocks[len(blocks)-1], true
}

// Depth is the number of handlers active at offset.
func (p Protection) Depth(offset int) int {
	if offset < 0 || offset >= len(p) {
		return 0
	}
	return len(p[offset])
}
