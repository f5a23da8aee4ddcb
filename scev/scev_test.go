package scev

import (
	"testing"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
)

// countedLoop builds
//
//	b0: entry -> b1 (preheader) -> b2
//	b2: i = phi(0, i+1); store 0, p+i*4; i+1 != n -> b2, b3
//	b3: return
func countedLoop() (*ir.Func, *Analysis, *ir.Value) {
	f := ir.NewFunc("loop")
	p := f.Param("p", ir.Ptr)
	n := f.Param("n", ir.I64)
	pre := f.NewBlock(ir.BlockPlain)
	body := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(pre)
	pre.AddEdgeTo(body)
	body.AddEdgeTo(body)
	body.AddEdgeTo(exit)

	phi := body.NewPhi(ir.I64, f.ConstInt(ir.I64, 0))
	off := body.NewValue(ir.OpMul, ir.I64, phi, f.ConstInt(ir.I64, 4))
	addr := body.NewValue(ir.OpAdd, ir.Ptr, p, off)
	body.NewValue(ir.OpStore, ir.Void, f.ConstInt(ir.I32, 0), addr)
	next := body.NewValue(ir.OpAdd, ir.I64, phi, f.ConstInt(ir.I64, 1))
	phi.AddArg(next)
	cmp := body.NewValue(ir.OpICmp, ir.I1, next, n)
	cmp.AuxInt = int64(ir.CondNE)
	body.SetControl(cmp)

	dom := ir.NewDomTree(f)
	return f, New(f, dom, loop.Analyse(f, dom)), phi
}

func TestInterning(t *testing.T) {
	f, a, _ := countedLoop()
	x := a.Unknown(f.Params[1])
	y := a.Unknown(f.Global("g"))
	if a.Add(x, y) != a.Add(y, x) {
		t.Error("addition is not canonical")
	}
	if a.Mul(x, a.Constant(ir.I64, 3)) != a.Mul(a.Constant(ir.I64, 3), x) {
		t.Error("multiplication is not canonical")
	}
	if got := a.Add(x, a.Negate(x)); !got.IsZero() {
		t.Errorf("x - x = %s, want 0", got)
	}
	if got := a.Add(x, x, a.Constant(ir.I64, 2)); got != a.Add(a.Mul(a.Constant(ir.I64, 2), x), a.Constant(ir.I64, 2)) {
		t.Errorf("x + x + 2 = %s", got)
	}
}

func TestPhiRecurrence(t *testing.T) {
	f, a, phi := countedLoop()
	e := a.ToExpr(phi)
	if !e.IsAffine() {
		t.Fatalf("phi = %s, want an affine recurrence", e)
	}
	if !e.Start().IsZero() || !e.Ops[1].IsOne() {
		t.Errorf("phi = %s, want {0,+,1}", e)
	}
	var addr *ir.Value
	for _, v := range phi.Block.Values {
		if v.Op == ir.OpAdd && v.Type == ir.Ptr {
			addr = v
		}
	}
	ae := a.ToExpr(addr)
	if !ae.IsAffine() || ae.Start() != a.Unknown(f.Params[0]) || ae.Ops[1].Const != 4 {
		t.Errorf("address = %s, want {%%p,+,4}", ae)
	}
	if !a.HasComputableLoopEvolution(ae, e.Loop) {
		t.Error("address should evolve in the loop")
	}
	if a.IsLoopInvariant(ae, e.Loop) {
		t.Error("address should not be invariant")
	}
	if !a.IsLoopInvariant(a.Unknown(f.Params[1]), e.Loop) {
		t.Error("parameter should be invariant")
	}
}

func TestBackedgeTakenCount(t *testing.T) {
	f, a, phi := countedLoop()
	l := a.Loops().LoopFor(phi.Block)
	// i+1 != n exits after n-1 back edges.
	want := a.Add(a.Unknown(f.Params[1]), a.Constant(ir.I64, -1))
	if got := a.BackedgeTakenCount(l); got != want {
		t.Errorf("backedge-taken count = %s, want %s", got, want)
	}
}

func TestNormalize(t *testing.T) {
	_, a, phi := countedLoop()
	rec := a.ToExpr(phi)
	set := NewLoopSet(rec.Loop)
	post := a.Add(rec, a.Constant(ir.I64, 1))
	if got := a.Normalize(post, set); got != rec {
		t.Errorf("normalize(%s) = %s, want %s", post, got, rec)
	}
	if got := a.Denormalize(rec, set); got != post {
		t.Errorf("denormalize(%s) = %s, want %s", rec, got, post)
	}
}

func TestExpandReusesPhi(t *testing.T) {
	f, a, phi := countedLoop()
	rec := a.ToExpr(phi)
	x := a.NewExpander("test")
	if v := x.Expand(rec, ir.I64, AtEnd(phi.Block)); v != phi {
		t.Errorf("expanded %s to %s, want existing phi", rec, v.Name())
	}
	scaled := a.Mul(a.Constant(ir.I64, 8), rec)
	v := x.Expand(scaled, ir.I64, At(phi.Block.Control))
	if a.ToExpr(v) != scaled {
		t.Errorf("expansion computes %s, want %s", a.ToExpr(v), scaled)
	}
	if !x.IsInserted(v) {
		t.Error("new recurrence not recorded as inserted")
	}
	if err := ir.Verify(f); err != nil {
		t.Errorf("expansion broke the function: %v", err)
	}
}

func TestIsSafeToExpand(t *testing.T) {
	f, a, _ := countedLoop()
	n := a.Unknown(f.Params[1])
	if a.IsSafeToExpand(a.UDiv(n, n)) {
		t.Error("division by a variable is not safe")
	}
	if !a.IsSafeToExpand(a.UDiv(n, a.Constant(ir.I64, 4))) {
		t.Error("division by a non-zero constant is safe")
	}
}
