package loop

import (
	"testing"

	"github.com/nickng/lsr/ir"
)

// nested builds
//
//	b0 -> b1(outer hdr) -> b2(inner pre) -> b3(inner, self loop) -> b4(outer latch) -> b1 | b5
func nested() *ir.Func {
	f := ir.NewFunc("nested")
	c := f.Param("c", ir.I1)
	outer := f.NewBlock(ir.BlockPlain)
	pre := f.NewBlock(ir.BlockPlain)
	inner := f.NewBlock(ir.BlockIf)
	latch := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(outer)
	outer.AddEdgeTo(pre)
	pre.AddEdgeTo(inner)
	inner.AddEdgeTo(inner)
	inner.AddEdgeTo(latch)
	latch.AddEdgeTo(outer)
	latch.AddEdgeTo(exit)
	inner.SetControl(c)
	latch.SetControl(c)
	return f
}

func TestNestedLoop(t *testing.T) {
	f := nested()
	info := Analyse(f, ir.NewDomTree(f))
	if n := len(info.TopLevel()); n != 1 {
		t.Fatalf("expects 1 outermost loop, got %d", n)
	}
	outer := info.TopLevel()[0]
	if outer.Header != f.Blocks[1] {
		t.Errorf("outer header = %s, want b1", outer.Header)
	}
	inner := info.LoopFor(f.Blocks[3])
	if inner == nil || inner.Parent != outer {
		t.Fatalf("inner loop not nested in outer: %v", inner)
	}
	if !inner.IsInnermost() || outer.IsInnermost() {
		t.Error("innermost flags wrong")
	}
	if inner.Depth() != 2 {
		t.Errorf("inner depth = %d, want 2", inner.Depth())
	}
	if got := info.Innermost(); len(got) != 1 || got[0] != inner {
		t.Errorf("Innermost() = %v", got)
	}
	if inner.Preheader() != f.Blocks[2] {
		t.Errorf("inner preheader = %v", inner.Preheader())
	}
	if inner.Latch() != f.Blocks[3] {
		t.Errorf("inner latch = %v", inner.Latch())
	}
	if !inner.IsSimplified() {
		t.Error("inner loop should be simplified")
	}
	if !outer.ContainsLoop(inner) || inner.ContainsLoop(outer) {
		t.Error("ContainsLoop is wrong")
	}
	if ex := outer.ExitingBlocks(); len(ex) != 1 || ex[0] != f.Blocks[4] {
		t.Errorf("outer exiting blocks = %v", ex)
	}
}

func TestNotSimplified(t *testing.T) {
	// Header entered directly from a block with two successors: no preheader.
	f := ir.NewFunc("nopre")
	c := f.Param("c", ir.I1)
	f.Entry.Kind = ir.BlockIf
	f.Entry.SetControl(c)
	hdr := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(hdr)
	f.Entry.AddEdgeTo(exit)
	hdr.AddEdgeTo(hdr)
	hdr.AddEdgeTo(exit)
	hdr.SetControl(c)
	info := Analyse(f, ir.NewDomTree(f))
	l := info.LoopFor(hdr)
	if l == nil {
		t.Fatal("loop not found")
	}
	if l.IsSimplified() {
		t.Error("loop without preheader and with shared exit is not simplified")
	}
}
