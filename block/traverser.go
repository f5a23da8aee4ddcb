// Package block provides traversals of the basic blocks of
// golang.org/x/tools/go/ssa functions.
package block

import (
	"golang.org/x/tools/go/ssa"
)

// TraverseEdges takes a Function and applies visit to each edge reachable
// from the entry, breadth first. The entry is visited first with a nil from
// block. The outgoing edges of a block are visited together, in the order of
// its Succs.
func TraverseEdges(fn *ssa.Function, visit func(from, to *ssa.BasicBlock)) {
	if len(fn.Blocks) == 0 {
		return
	}
	entry := fn.Blocks[0]
	expanded := map[*ssa.BasicBlock]bool{entry: true}
	visit(nil, entry)
	queue := []*ssa.BasicBlock{entry}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, succ := range b.Succs {
			visit(b, succ)
			if !expanded[succ] {
				expanded[succ] = true
				queue = append(queue, succ)
			}
		}
	}
}

// Reachable returns the blocks of fn reachable from its entry, in the order
// TraverseEdges first reaches them.
func Reachable(fn *ssa.Function) []*ssa.BasicBlock {
	var blocks []*ssa.BasicBlock
	seen := make(map[*ssa.BasicBlock]bool)
	TraverseEdges(fn, func(_, to *ssa.BasicBlock) {
		if !seen[to] {
			seen[to] = true
			blocks = append(blocks, to)
		}
	})
	return blocks
}
