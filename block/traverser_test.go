package block_test

import (
	"strings"
	"testing"

	"github.com/nickng/lsr/block"
	"github.com/nickng/lsr/ssa/build"
	"golang.org/x/tools/go/ssa"
)

func buildFunc(t *testing.T, src, name string) *ssa.Function {
	t.Helper()
	info, err := build.FromReader(strings.NewReader(src)).Build()
	if err != nil {
		t.Fatalf("SSA build failed: %v", err)
	}
	fn, err := info.FindFunc(name)
	if err != nil {
		t.Fatalf("cannot find %s: %v", name, err)
	}
	return fn
}

const loopSrc = `package main
func sum(s []int, n int) int {
	t := 0
	for i := 0; i < n; i++ {
		if s[i] > 0 {
			t += s[i]
		}
	}
	return t
}
func main() {}`

func TestTraverseEdges(t *testing.T) {
	fn := buildFunc(t, loopSrc, "main.sum")
	edges := make(map[[2]int]int)
	first := true
	block.TraverseEdges(fn, func(from, to *ssa.BasicBlock) {
		if first {
			if from != nil || to != fn.Blocks[0] {
				t.Errorf("expects the entry first, got %v -> %v", from, to)
			}
			first = false
			return
		}
		if from == nil {
			t.Errorf("nil source for %v after the entry", to)
			return
		}
		edges[[2]int{from.Index, to.Index}]++
	})
	total := 0
	for _, b := range fn.Blocks {
		for _, s := range b.Succs {
			e := [2]int{b.Index, s.Index}
			if edges[e] != 1 {
				t.Errorf("edge %d -> %d visited %d times", b.Index, s.Index, edges[e])
			}
			total++
		}
	}
	if len(edges) != total {
		t.Errorf("visited %d edges, function has %d", len(edges), total)
	}
}

func TestReachable(t *testing.T) {
	fn := buildFunc(t, loopSrc, "main.sum")
	blocks := block.Reachable(fn)
	if len(blocks) != len(fn.Blocks) {
		t.Fatalf("reached %d of %d blocks", len(blocks), len(fn.Blocks))
	}
	if blocks[0] != fn.Blocks[0] {
		t.Errorf("expects the entry first, got %v", blocks[0])
	}
	seen := make(map[*ssa.BasicBlock]bool)
	for _, b := range blocks {
		if seen[b] {
			t.Errorf("block %d reached twice", b.Index)
		}
		seen[b] = true
	}
}
