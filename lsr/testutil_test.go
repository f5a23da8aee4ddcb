package lsr

import (
	"math"
	"testing"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
	"github.com/nickng/lsr/target"
)

// countedLoop builds
//
//	b0: entry -> b1 (preheader) -> b2
//	b2: i = phi(0, i+1); store 0, p+i*stride; i+1 != n -> b2, b3
//	b3: return
func countedLoop(stride int64, accessTy ir.Type) *ir.Func {
	f := ir.NewFunc("store")
	p := f.Param("p", ir.Ptr)
	n := f.Param("n", ir.I64)
	pre := f.NewBlock(ir.BlockPlain)
	body := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(pre)
	pre.AddEdgeTo(body)
	body.AddEdgeTo(body)
	body.AddEdgeTo(exit)

	i := body.NewPhi(ir.I64, f.ConstInt(ir.I64, 0))
	off := body.NewValue(ir.OpMul, ir.I64, i, f.ConstInt(ir.I64, stride))
	addr := body.NewValue(ir.OpAdd, ir.Ptr, p, off)
	body.NewValue(ir.OpStore, ir.Void, f.ConstInt(accessTy, 0), addr)
	next := body.NewValue(ir.OpAdd, ir.I64, i, f.ConstInt(ir.I64, 1))
	i.AddArg(next)
	exitTest(body, next, n, ir.CondNE)
	return f
}

func exitTest(b *ir.Block, x, y *ir.Value, cond ir.Cond) *ir.Value {
	cmp := b.NewValue(ir.OpICmp, ir.I1, x, y)
	cmp.AuxInt = int64(cond)
	b.SetControl(cmp)
	return cmp
}

// offsetLoads builds a loop loading bytes at p+i and p+i+4.
func offsetLoads() *ir.Func {
	f := ir.NewFunc("loads")
	p := f.Param("p", ir.Ptr)
	n := f.Param("n", ir.I64)
	pre := f.NewBlock(ir.BlockPlain)
	body := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(pre)
	pre.AddEdgeTo(body)
	body.AddEdgeTo(body)
	body.AddEdgeTo(exit)

	i := body.NewPhi(ir.I64, f.ConstInt(ir.I64, 0))
	a0 := body.NewValue(ir.OpAdd, ir.Ptr, p, i)
	x := body.NewValue(ir.OpLoad, ir.I8, a0)
	i4 := body.NewValue(ir.OpAdd, ir.I64, i, f.ConstInt(ir.I64, 4))
	a4 := body.NewValue(ir.OpAdd, ir.Ptr, p, i4)
	y := body.NewValue(ir.OpLoad, ir.I8, a4)
	sum := body.NewValue(ir.OpAdd, ir.I8, x, y)
	body.NewValue(ir.OpStore, ir.Void, sum, p)
	next := body.NewValue(ir.OpAdd, ir.I64, i, f.ConstInt(ir.I64, 1))
	i.AddArg(next)
	exitTest(body, next, n, ir.CondNE)
	return f
}

// pointerWalk builds a loop walking a pointer from base to end:
//
//	b2: p = phi(base, p+1); load p; q = p+4; [b3: store 0, p]; load q;
//	    p+1 != end
//
// With side set, the header branches on c to a block storing through p
// before the latch.
func pointerWalk(side bool) *ir.Func {
	f := ir.NewFunc("walk")
	base := f.Param("base", ir.Ptr)
	end := f.Param("end", ir.Ptr)
	c := f.Param("c", ir.I1)
	pre := f.NewBlock(ir.BlockPlain)
	hdr := f.NewBlock(ir.BlockPlain)
	f.Entry.AddEdgeTo(pre)
	pre.AddEdgeTo(hdr)

	latch := hdr
	p := hdr.NewPhi(ir.Ptr, base)
	hdr.NewValue(ir.OpLoad, ir.I8, p)
	q := hdr.NewValue(ir.OpAdd, ir.Ptr, p, f.ConstInt(ir.I64, 4))
	if side {
		hdr.Kind = ir.BlockIf
		hdr.SetControl(c)
		t := f.NewBlock(ir.BlockPlain)
		latch = f.NewBlock(ir.BlockIf)
		hdr.AddEdgeTo(t)
		hdr.AddEdgeTo(latch)
		t.AddEdgeTo(latch)
		t.NewValue(ir.OpStore, ir.Void, f.ConstInt(ir.I8, 0), p)
	} else {
		hdr.Kind = ir.BlockIf
	}
	latch.NewValue(ir.OpLoad, ir.I8, q)
	next := latch.NewValue(ir.OpAdd, ir.Ptr, p, f.ConstInt(ir.I64, 1))
	exit := f.NewBlock(ir.BlockRet)
	latch.AddEdgeTo(hdr)
	latch.AddEdgeTo(exit)
	p.AddArg(next)
	exitTest(latch, next, end, ir.CondNE)
	return f
}

// shadowLoop builds a loop storing float64(i) to p+i*8 for an i32 counter.
func shadowLoop() *ir.Func {
	f := ir.NewFunc("shadow")
	p := f.Param("p", ir.Ptr)
	n := f.Param("n", ir.I32)
	pre := f.NewBlock(ir.BlockPlain)
	body := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(pre)
	pre.AddEdgeTo(body)
	body.AddEdgeTo(body)
	body.AddEdgeTo(exit)

	i := body.NewPhi(ir.I32, f.ConstInt(ir.I32, 0))
	fv := body.NewValue(ir.OpSIToFP, ir.F64, i)
	wide := body.NewValue(ir.OpSExt, ir.I64, i)
	off := body.NewValue(ir.OpMul, ir.I64, wide, f.ConstInt(ir.I64, 8))
	addr := body.NewValue(ir.OpAdd, ir.Ptr, p, off)
	body.NewValue(ir.OpStore, ir.Void, fv, addr)
	next := body.NewValue(ir.OpAdd, ir.I32, i, f.ConstInt(ir.I32, 1))
	i.AddArg(next)
	exitTest(body, next, n, ir.CondNE)
	return f
}

// noPhiLoop builds a loop polling memory without any induction variable.
func noPhiLoop() *ir.Func {
	f := ir.NewFunc("poll")
	p := f.Param("p", ir.Ptr)
	pre := f.NewBlock(ir.BlockPlain)
	body := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(pre)
	pre.AddEdgeTo(body)
	body.AddEdgeTo(body)
	body.AddEdgeTo(exit)
	x := body.NewValue(ir.OpLoad, ir.I8, p)
	exitTest(body, x, f.ConstInt(ir.I8, 0), ir.CondNE)
	return f
}

// nestedLoops builds two nested counted loops.
func nestedLoops() *ir.Func {
	f := ir.NewFunc("nested")
	n := f.Param("n", ir.I64)
	opre := f.NewBlock(ir.BlockPlain)
	ohdr := f.NewBlock(ir.BlockPlain)
	ipre := ohdr
	ibody := f.NewBlock(ir.BlockIf)
	olatch := f.NewBlock(ir.BlockIf)
	exit := f.NewBlock(ir.BlockRet)
	f.Entry.AddEdgeTo(opre)
	opre.AddEdgeTo(ohdr)
	ipre.AddEdgeTo(ibody)
	ibody.AddEdgeTo(ibody)
	ibody.AddEdgeTo(olatch)
	olatch.AddEdgeTo(ohdr)
	olatch.AddEdgeTo(exit)

	i := ohdr.NewPhi(ir.I64, f.ConstInt(ir.I64, 0))
	j := ibody.NewPhi(ir.I64, f.ConstInt(ir.I64, 0))
	jn := ibody.NewValue(ir.OpAdd, ir.I64, j, f.ConstInt(ir.I64, 1))
	j.AddArg(jn)
	exitTest(ibody, jn, n, ir.CondNE)
	in := olatch.NewValue(ir.OpAdd, ir.I64, i, f.ConstInt(ir.I64, 1))
	i.AddArg(in)
	exitTest(olatch, in, n, ir.CondNE)
	return f
}

func testConfig() Config {
	return DefaultConfig()
}

// analyse returns the analysis of f and its only innermost loop.
func analyse(t *testing.T, f *ir.Func) (*scev.Analysis, *loop.Loop) {
	t.Helper()
	dom := ir.NewDomTree(f)
	info := loop.Analyse(f, dom)
	inner := info.Innermost()
	if len(inner) != 1 {
		t.Fatalf("expects 1 innermost loop, got %d", len(inner))
	}
	return scev.New(f, dom, info), inner[0]
}

// prepared returns an instance that has built its search space for the
// innermost loop of f.
func prepared(t *testing.T, f *ir.Func, tti target.Oracle, cfg Config) *Instance {
	t.Helper()
	a, l := analyse(t, f)
	lsr := newInstance(a, l, tti, cfg, nil)
	if err := lsr.prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return lsr
}

// access is one memory operation observed by interpret.
type access struct {
	op   ir.Op
	addr int64
	val  int64
}

// interpret runs f with the given parameter values and returns its memory
// trace. A load yields its address so that traces depend on every address
// computed. Globals are placed at distinct fixed addresses.
func interpret(t *testing.T, f *ir.Func, params map[string]int64) []access {
	t.Helper()
	vals := make(map[*ir.Value]int64)
	var trace []access
	var prev *ir.Block
	b := f.Entry
	for steps := 0; ; steps++ {
		if steps > 10000 {
			t.Fatalf("%s does not terminate", f.Name)
		}
		// Phis read their arguments simultaneously.
		phis := b.Phis()
		in := make([]int64, len(phis))
		for k, phi := range phis {
			in[k] = vals[phi.Args[b.PredIndex(prev)]]
		}
		for k, phi := range phis {
			vals[phi] = in[k]
		}
		for _, v := range b.Values[len(phis):] {
			vals[v] = eval(t, v, vals, params)
			switch v.Op {
			case ir.OpLoad, ir.OpPrefetch:
				trace = append(trace, access{op: v.Op, addr: vals[v.Args[0]]})
			case ir.OpStore:
				trace = append(trace, access{op: v.Op, addr: vals[v.Args[1]], val: vals[v.Args[0]]})
			}
		}
		prev = b
		switch b.Kind {
		case ir.BlockRet:
			return trace
		case ir.BlockPlain:
			b = b.Succs[0]
		case ir.BlockIf:
			if vals[b.Control] != 0 {
				b = b.Succs[0]
			} else {
				b = b.Succs[1]
			}
		}
	}
}

func mask(c int64, t ir.Type) uint64 {
	if t.Bits >= 64 {
		return uint64(c)
	}
	return uint64(c) & (1<<t.Bits - 1)
}

func eval(t *testing.T, v *ir.Value, vals map[*ir.Value]int64, params map[string]int64) int64 {
	arg := func(i int) int64 {
		a := v.Args[i]
		switch a.Op {
		case ir.OpConst:
			return a.AuxInt
		case ir.OpFConst:
			return int64(math.Float64bits(a.AuxFloat))
		}
		return vals[a]
	}
	fl := func(i int) float64 { return math.Float64frombits(uint64(arg(i))) }
	switch v.Op {
	case ir.OpConst:
		return v.AuxInt
	case ir.OpFConst:
		return int64(math.Float64bits(v.AuxFloat))
	case ir.OpParam:
		return params[v.Aux]
	case ir.OpGlobal:
		return 1<<32 + int64(v.ID)<<12
	case ir.OpAdd:
		return v.Type.SignExtend(arg(0) + arg(1))
	case ir.OpSub:
		return v.Type.SignExtend(arg(0) - arg(1))
	case ir.OpMul:
		return v.Type.SignExtend(arg(0) * arg(1))
	case ir.OpShl:
		return v.Type.SignExtend(arg(0) << uint(arg(1)))
	case ir.OpSDiv:
		return v.Type.SignExtend(arg(0) / arg(1))
	case ir.OpUDiv:
		return v.Type.SignExtend(int64(mask(arg(0), v.Type) / mask(arg(1), v.Type)))
	case ir.OpTrunc, ir.OpSExt:
		return v.Type.SignExtend(arg(0))
	case ir.OpZExt:
		return int64(mask(arg(0), v.Args[0].Type))
	case ir.OpSIToFP:
		return int64(math.Float64bits(float64(arg(0))))
	case ir.OpUIToFP:
		return int64(math.Float64bits(float64(mask(arg(0), v.Args[0].Type))))
	case ir.OpFAdd:
		return int64(math.Float64bits(fl(0) + fl(1)))
	case ir.OpFMul:
		return int64(math.Float64bits(fl(0) * fl(1)))
	case ir.OpICmp:
		if compare(v.Cond(), arg(0), arg(1), v.Args[0].Type) {
			return 1
		}
		return 0
	case ir.OpLoad:
		return v.Type.SignExtend(arg(0))
	case ir.OpStore, ir.OpPrefetch, ir.OpCall, ir.OpLandingPad:
		return 0
	}
	t.Fatalf("cannot interpret %s", v.LongString())
	return 0
}

func compare(c ir.Cond, x, y int64, t ir.Type) bool {
	ux, uy := mask(x, t), mask(y, t)
	switch c {
	case ir.CondEQ:
		return x == y
	case ir.CondNE:
		return x != y
	case ir.CondSLT:
		return x < y
	case ir.CondSLE:
		return x <= y
	case ir.CondSGT:
		return x > y
	case ir.CondSGE:
		return x >= y
	case ir.CondULT:
		return ux < uy
	case ir.CondULE:
		return ux <= uy
	case ir.CondUGT:
		return ux > uy
	}
	return ux >= uy
}

// sameTrace fails the test if the traces differ.
func sameTrace(t *testing.T, before, after []access) {
	t.Helper()
	if len(before) != len(after) {
		t.Fatalf("trace length changed from %d to %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("access %d changed from %+v to %+v", i, before[i], after[i])
		}
	}
}

// checkRun runs the pass on the innermost loop of f and checks that the
// function still verifies and behaves the same for params.
func checkRun(t *testing.T, f *ir.Func, tti target.Oracle, cfg Config, params map[string]int64) *Instance {
	t.Helper()
	before := interpret(t, f, params)
	a, l := analyse(t, f)
	lsr := newInstance(a, l, tti, cfg, nil)
	if err := lsr.run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := ir.Verify(f); err != nil {
		t.Fatalf("malformed after rewriting: %v\n%s", err, f)
	}
	sameTrace(t, before, interpret(t, f, params))
	return lsr
}

// anyScale is x86-64 with every addressing mode legal, so that only the
// formula generators decide which scales appear.
type anyScale struct{ target.X86_64 }

func (anyScale) Name() string { return "any-scale" }

func (anyScale) IsLegalAddressingMode(accessTy ir.Type, gv *ir.Value, offset int64, hasBaseReg bool, scale int64) bool {
	return true
}

func (anyScale) ScalingFactorCost(accessTy ir.Type, gv *ir.Value, offset int64, hasBaseReg bool, scale int64) int {
	return 0
}

// sharedExitCompare is countedLoop with the exit compare also stored to p.
func sharedExitCompare() *ir.Func {
	f := countedLoop(4, ir.I32)
	body := f.Blocks[2]
	body.NewValue(ir.OpStore, ir.Void, body.Control, f.Params[0])
	return f
}
