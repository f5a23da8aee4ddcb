package lsr

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
	"github.com/nickng/lsr/target"
)

type fixture struct {
	name   string
	build  func() *ir.Func
	tti    target.Oracle
	params map[string]int64
}

func fixtures() []fixture {
	arr := map[string]int64{"p": 4096, "n": 10}
	walk := map[string]int64{"base": 4096, "end": 4106, "c": 1}
	return []fixture{
		{"store stride 4 x86", func() *ir.Func { return countedLoop(4, ir.I32) }, target.X86_64{}, arr},
		{"store stride 4 risc", func() *ir.Func { return countedLoop(4, ir.I32) }, target.RISC{}, arr},
		{"store stride 12 x86", func() *ir.Func { return countedLoop(12, ir.I64) }, target.X86_64{}, arr},
		{"offset loads x86", offsetLoads, target.X86_64{}, arr},
		{"offset loads risc", offsetLoads, target.RISC{}, arr},
		{"pointer walk", func() *ir.Func { return pointerWalk(false) }, target.X86_64{}, walk},
		{"pointer walk with side store", func() *ir.Func { return pointerWalk(true) }, target.X86_64{}, walk},
		{"shadow iv", shadowLoop, target.X86_64{}, arr},
	}
}

func TestFormulaInvariants(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			lsr := prepared(t, fx.build(), fx.tti, testConfig())
			for luIdx, u := range lsr.Uses() {
				if len(u.Formulae) == 0 {
					t.Errorf("use %d has no formulae", luIdx)
				}
				for i := range u.Formulae {
					f := &u.Formulae[i]
					if !f.isCanonical(lsr.l) {
						t.Errorf("use %d: %s is not canonical", luIdx, f)
					}
					if f.ScaledReg != nil && f.Scale == 1 && len(f.BaseRegs) == 0 {
						t.Errorf("use %d: %s has a lone 1*reg", luIdx, f)
					}
					if f.ScaledReg == nil && len(f.BaseRegs) > 1 {
						t.Errorf("use %d: %s has several unscaled registers", luIdx, f)
					}
					if !u.RigidFormula && !isLegalUseOf(lsr.tti, u, f) {
						t.Errorf("use %d: %s is illegal for %s", luIdx, f, u)
					}
					for _, reg := range f.regs() {
						if reg.IsZero() {
							t.Errorf("use %d: %s has a zero register", luIdx, f)
						}
					}
				}
			}
		})
	}
}

func TestRewritePreservesBehaviour(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			lsr := checkRun(t, fx.build(), fx.tti, testConfig(), fx.params)
			if !lsr.changed {
				t.Error("expects the loop to be rewritten")
			}
		})
	}
}

// solutionCost rates a solution the way the solver does.
func solutionCost(lsr *Instance, solution []*Formula) Cost {
	r := costRater{tti: lsr.tti, a: lsr.a, l: lsr.l}
	var c Cost
	regs := make(map[*scev.Expr]bool)
	for i, f := range solution {
		r.rateFormula(&c, f, regs, make(map[*scev.Expr]bool), lsr.uses[i], nil)
	}
	return c
}

func TestSolveIsDeterministic(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			lsr := prepared(t, fx.build(), fx.tti, testConfig())
			first, err := lsr.solve()
			if err != nil {
				t.Fatalf("solve: %v", err)
			}
			second, err := lsr.solve()
			if err != nil {
				t.Fatalf("second solve: %v", err)
			}
			if len(first) != len(lsr.Uses()) || len(second) != len(first) {
				t.Fatalf("solutions cover %d and %d of %d uses", len(first), len(second), len(lsr.Uses()))
			}
			for i := range first {
				if first[i] != second[i] {
					t.Errorf("use %d: picked %s then %s", i, first[i], second[i])
				}
			}
			if c1, c2 := solutionCost(lsr, first), solutionCost(lsr, second); c1 != c2 {
				t.Errorf("costs differ: %s vs %s", c1, c2)
			}
		})
	}
}

func TestReconcileNewOffset(t *testing.T) {
	tests := []struct {
		name    string
		kind    UseKind
		offsets []int64
		accept  []bool
	}{
		{"address grows both ways", Address, []int64{8, -8, 24}, []bool{true, true, true}},
		{"address rejects far offset", Address, []int64{16, 1 << 40, -4}, []bool{true, false, true}},
		{"basic folds nothing", Basic, []int64{0, 4}, []bool{true, false}},
		{"compare with a base register", ICmpZero, []int64{0, 100}, []bool{true, false}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lsr := &Instance{tti: target.X86_64{}}
			u := newUse(tc.kind, ir.I32)
			u.MinOffset, u.MaxOffset = 0, 0
			for i, off := range tc.offsets {
				lo, hi := u.MinOffset, u.MaxOffset
				got := lsr.reconcileNewOffset(u, off, true, tc.kind, ir.I32)
				if got != tc.accept[i] {
					t.Errorf("offset %d: accepted = %v, want %v", off, got, tc.accept[i])
				}
				if u.MinOffset > lo || u.MaxOffset < hi {
					t.Errorf("offset %d: range shrank from [%d,%d] to [%d,%d]", off, lo, hi, u.MinOffset, u.MaxOffset)
				}
				if got && (off < u.MinOffset || off > u.MaxOffset) {
					t.Errorf("offset %d accepted outside [%d,%d]", off, u.MinOffset, u.MaxOffset)
				}
				if !got && (u.MinOffset != lo || u.MaxOffset != hi) {
					t.Errorf("offset %d rejected but range changed", off)
				}
			}
		})
	}
	t.Run("kind mismatch", func(t *testing.T) {
		lsr := &Instance{tti: target.X86_64{}}
		u := newUse(Address, ir.I32)
		u.MinOffset, u.MaxOffset = 0, 0
		if lsr.reconcileNewOffset(u, 0, true, Basic, ir.Void) {
			t.Error("expects a use of another kind to be rejected")
		}
	})
}

func addressUses(lsr *Instance) []int {
	var idx []int
	for i, u := range lsr.Uses() {
		if u.Kind == Address {
			idx = append(idx, i)
		}
	}
	return idx
}

// reachesStride reports whether f steps by stride each iteration through
// one of its recurrences.
func reachesStride(lsr *Instance, f *Formula, stride int64) bool {
	if r := f.ScaledReg; r != nil && r.IsAddRec() && r.Loop == lsr.l {
		if step := lsr.a.Step(r); step.IsConstant() && step.Const*f.Scale == stride {
			return true
		}
	}
	for _, r := range f.BaseRegs {
		if r.IsAddRec() && r.Loop == lsr.l {
			if step := lsr.a.Step(r); step.IsConstant() && step.Const == stride {
				return true
			}
		}
	}
	return false
}

func TestSingleAddressUse(t *testing.T) {
	f := countedLoop(4, ir.I32)
	params := map[string]int64{"p": 4096, "n": 10}
	before := interpret(t, f, params)
	lsr := prepared(t, f, target.X86_64{}, testConfig())

	addr := addressUses(lsr)
	if len(addr) != 1 {
		t.Fatalf("expects 1 address use, got %d", len(addr))
	}
	if fxs := lsr.useFixups(addr[0]); len(fxs) != 1 || fxs[0].UserInst.Op != ir.OpStore {
		t.Fatalf("expects the store as the only fixup, got %v", fxs)
	}
	solution, err := lsr.solve()
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if win := solution[addr[0]]; !reachesStride(lsr, win, 4) {
		t.Errorf("winning formula %s does not step by the stride", win)
	}

	lsr.checkSolution(solution)
	lsr.implementSolution(solution)
	lsr.finish()
	if err := ir.Verify(f); err != nil {
		t.Fatalf("malformed after rewriting: %v", err)
	}
	stores := 0
	for _, v := range lsr.l.Header.Values {
		if v.Op == ir.OpStore {
			stores++
		}
	}
	if stores != 1 {
		t.Errorf("expects the store to stay in the loop, found %d", stores)
	}
	sameTrace(t, before, interpret(t, f, params))
}

func TestOffsetAccessesShareUse(t *testing.T) {
	cfg := testConfig()
	cfg.EnableChains = false
	lsr := prepared(t, offsetLoads(), target.X86_64{}, cfg)

	shared := -1
	for _, i := range addressUses(lsr) {
		if lsr.Uses()[i].AccessTy == ir.I8 {
			if shared >= 0 {
				t.Fatalf("byte loads split over uses %d and %d", shared, i)
			}
			shared = i
		}
	}
	if shared < 0 {
		t.Fatal("no address use for the loads")
	}
	u := lsr.Uses()[shared]
	if len(u.Offsets) != 2 || u.Offsets[0] != 0 || u.Offsets[1] != 4 {
		t.Errorf("offsets = %v, want [0 4]", u.Offsets)
	}
	if fxs := lsr.useFixups(shared); len(fxs) != 2 {
		t.Errorf("expects 2 fixups, got %d", len(fxs))
	}
	checkRun(t, offsetLoads(), target.X86_64{}, cfg, map[string]int64{"p": 4096, "n": 10})
}

func TestEqualityExitCompare(t *testing.T) {
	for _, tti := range []target.Oracle{target.X86_64{}, target.RISC{}} {
		t.Run(tti.Name(), func(t *testing.T) {
			lsr := prepared(t, countedLoop(4, ir.I32), tti, testConfig())
			cmp := lsr.l.Latch().Control
			cmpUse := -1
			for _, fx := range lsr.Fixups() {
				if fx.UserInst == cmp {
					cmpUse = fx.LUIdx
				}
			}
			if cmpUse < 0 {
				t.Fatal("exit compare has no fixup")
			}
			u := lsr.Uses()[cmpUse]
			if u.Kind != ICmpZero {
				t.Fatalf("exit compare use is %s, want ICmpZero", u.Kind)
			}
			for i := range u.Formulae {
				if f := &u.Formulae[i]; f.BaseGV != nil && f.Scale != 0 {
					t.Errorf("%s has both a symbol and a scale", f)
				}
			}
			solution, err := lsr.solve()
			if err != nil {
				t.Fatalf("solve: %v", err)
			}
			win := solution[cmpUse]
			if win.BaseGV != nil && win.Scale != 0 {
				t.Errorf("winning formula %s has both a symbol and a scale", win)
			}

			checkRun(t, countedLoop(4, ir.I32), tti, testConfig(), map[string]int64{"p": 4096, "n": 10})
		})
	}
}

func TestExitCompareIsPostIncrement(t *testing.T) {
	lsr := prepared(t, countedLoop(4, ir.I32), target.X86_64{}, testConfig())
	cmp := lsr.l.Latch().Control
	if lsr.ivIncInsertPos != cmp {
		t.Errorf("increments go before %v, want the exit compare", lsr.ivIncInsertPos)
	}
	for _, fx := range lsr.Fixups() {
		if fx.UserInst == cmp && !fx.PostIncLoops[lsr.l] {
			t.Error("exit compare fixup is not post-increment")
		}
	}
}

func TestProfitableChain(t *testing.T) {
	lsr := prepared(t, pointerWalk(false), target.X86_64{}, testConfig())
	if len(lsr.ivChains) != 1 {
		t.Fatalf("expects 1 chain, got %d", len(lsr.ivChains))
	}
	c := lsr.ivChains[0]
	if head := c.incs[0].user; head.Op != ir.OpLoad || head.Args[0].Op != ir.OpPhi {
		t.Errorf("chain head is %s, want the load through the phi", head.LongString())
	}
	for _, inc := range c.links() {
		if !lsr.ivIncSet[ivOperand{inc.user, inc.operand}] {
			t.Errorf("link %s not taken from the uses", inc.user.LongString())
		}
		for _, fx := range lsr.Fixups() {
			if fx.UserInst == inc.user && fx.OperandValToReplace == inc.operand {
				t.Errorf("link %s also has a fixup", inc.user.LongString())
			}
		}
	}

	f := pointerWalk(false)
	lsr = checkRun(t, f, target.X86_64{}, testConfig(), map[string]int64{"base": 4096, "end": 4106})
	if n := len(lsr.l.Header.Phis()); n != 1 {
		t.Errorf("expects one induction variable after rewriting, got %d", n)
	}
}

func TestUnprofitableChainRejected(t *testing.T) {
	lsr := prepared(t, pointerWalk(true), target.X86_64{}, testConfig())
	if len(lsr.ivChains) != 0 {
		t.Fatalf("expects the chain to be rejected, got %v", lsr.ivChains)
	}
	if len(lsr.ivIncSet) != 0 {
		t.Errorf("rejected chain still holds %d operands", len(lsr.ivIncSet))
	}
	memFixups := 0
	for _, fx := range lsr.Fixups() {
		switch fx.UserInst.Op {
		case ir.OpLoad, ir.OpStore:
			memFixups++
		}
	}
	if memFixups != 3 {
		t.Errorf("expects the 3 memory accesses as fixups, got %d", memFixups)
	}
	for _, c := range []int64{0, 1} {
		checkRun(t, pointerWalk(true), target.X86_64{}, testConfig(), map[string]int64{"base": 4096, "end": 4106, "c": c})
	}
}

func TestShadowIV(t *testing.T) {
	lsr := prepared(t, shadowLoop(), target.X86_64{}, testConfig())
	for _, v := range lsr.l.Header.Values {
		if v.Op == ir.OpSIToFP && v.Uses > 0 {
			t.Errorf("conversion %s still used", v.LongString())
		}
	}
	fphis := 0
	for _, phi := range lsr.l.Header.Phis() {
		if phi.Type.IsFloat() {
			fphis++
		}
	}
	if fphis != 1 {
		t.Errorf("expects one floating-point induction variable, got %d", fphis)
	}
}

func TestNarrowing(t *testing.T) {
	cfg := testConfig()
	cfg.ComplexityLimit = 2
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			lsr := prepared(t, fx.build(), fx.tti, cfg)
			for i, u := range lsr.Uses() {
				if len(u.Formulae) == 0 {
					t.Errorf("use %d lost every formula", i)
				}
				for reg := range u.Regs {
					if !lsr.regUses.usedByIndices(reg).Test(uint(i)) {
						t.Errorf("use %d: register %s not tracked", i, reg)
					}
				}
			}
			for _, fix := range lsr.Fixups() {
				if fix.LUIdx < 0 || fix.LUIdx >= len(lsr.Uses()) {
					t.Errorf("fixup %s refers to missing use %d", fix, fix.LUIdx)
				}
			}
			checkRun(t, fx.build(), fx.tti, cfg, fx.params)
		})
	}
}

func TestRunRejects(t *testing.T) {
	t.Run("not innermost", func(t *testing.T) {
		f := nestedLoops()
		dom := ir.NewDomTree(f)
		info := loop.Analyse(f, dom)
		outer := info.TopLevel()[0]
		changed, err := Run(scev.New(f, dom, info), outer, target.X86_64{}, testConfig(), nil)
		if changed || errors.Cause(err) != ErrNotInnermost {
			t.Errorf("Run = %v, %v; want ErrNotInnermost", changed, err)
		}
	})
	t.Run("no users", func(t *testing.T) {
		f := noPhiLoop()
		a, l := analyse(t, f)
		changed, err := Run(a, l, target.X86_64{}, testConfig(), nil)
		if changed || errors.Cause(err) != ErrNoUsers {
			t.Errorf("Run = %v, %v; want ErrNoUsers", changed, err)
		}
	})
	t.Run("too many users", func(t *testing.T) {
		f := countedLoop(4, ir.I32)
		cfg := testConfig()
		cfg.MaxIVUsers = 1
		a, l := analyse(t, f)
		_, err := Run(a, l, target.X86_64{}, cfg, nil)
		if errors.Cause(err) != ErrTooManyUsers {
			t.Errorf("expects ErrTooManyUsers, got %v", err)
		}
		if err := ir.Verify(f); err != nil {
			t.Errorf("rejected loop is malformed: %v", err)
		}
	})
}

func TestRunFunc(t *testing.T) {
	f := countedLoop(8, ir.I64)
	results := RunFunc(f, target.X86_64{}, testConfig(), NopLogger())
	if len(results) != 1 {
		t.Fatalf("expects 1 result, got %d", len(results))
	}
	if r := results[0]; r.Err != nil || !r.Changed {
		t.Errorf("result = %+v", r)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LSR_MAX_IV_USERS", "7")
	t.Setenv("LSR_COMPLEXITY_LIMIT", "99")
	t.Setenv("LSR_ENABLE_CHAINS", "false")
	c := ConfigFromEnv()
	if c.MaxIVUsers != 7 || c.ComplexityLimit != 99 {
		t.Errorf("limits not read: %+v", c)
	}
	if c.EnableChains {
		t.Error("LSR_ENABLE_CHAINS=false ignored")
	}
	if c.MaxChains != DefaultConfig().MaxChains {
		t.Errorf("MaxChains = %d, want default", c.MaxChains)
	}
}

func countFormulae(lsr *Instance) int {
	n := 0
	for _, u := range lsr.Uses() {
		n += len(u.Formulae)
	}
	return n
}

// Generating from a use with a non-zero offset must not feed the
// generators their own output.
func TestGenerationTerminates(t *testing.T) {
	cfg := testConfig()
	cfg.EnableChains = false
	for _, tti := range []target.Oracle{target.X86_64{}, target.RISC{}} {
		t.Run(tti.Name(), func(t *testing.T) {
			a, l := analyse(t, offsetLoads())
			lsr := newInstance(a, l, tti, cfg, nil)
			f := offsetLoads()

			type outcome struct {
				formulae int
				err      error
				results  []Result
			}
			done := make(chan outcome, 1)
			go func() {
				err := lsr.prepare()
				done <- outcome{formulae: countFormulae(lsr), err: err, results: RunFunc(f, tti, cfg, nil)}
			}()
			select {
			case o := <-done:
				if o.err != nil {
					t.Fatalf("prepare: %v", o.err)
				}
				if o.formulae == 0 || o.formulae > 5000 {
					t.Errorf("search space has %d formulae", o.formulae)
				}
				if len(o.results) != 1 || o.results[0].Err != nil {
					t.Errorf("RunFunc = %+v", o.results)
				}
				if err := ir.Verify(f); err != nil {
					t.Errorf("malformed after rewriting: %v", err)
				}
			case <-time.After(20 * time.Second):
				t.Fatal("formula generation does not terminate")
			}
		})
	}
}

// Factors that do not fit the register type are not tried as scales.
func TestScalesFitType(t *testing.T) {
	lsr := prepared(t, countedLoop(4, ir.I32), anyScale{}, testConfig())
	addr := addressUses(lsr)
	if len(addr) != 1 {
		t.Fatalf("expects 1 address use, got %d", len(addr))
	}
	luIdx := addr[0]
	rec := lsr.a.AddRec([]*scev.Expr{lsr.a.Constant(ir.I16, 4), lsr.a.Constant(ir.I16, 2)}, lsr.l)
	base := Formula{BaseRegs: []*scev.Expr{rec}, HasBaseReg: true}

	const wide = 1<<16 + 2 // 2 once truncated to 16 bits
	lsr.factors = []int64{wide, 2}
	lsr.generateScales(luIdx, base)

	scaled := false
	for i := range lsr.Uses()[luIdx].Formulae {
		f := &lsr.Uses()[luIdx].Formulae[i]
		if f.ScaledReg == nil || f.ScaledReg.Type != ir.I16 {
			continue
		}
		switch f.Scale {
		case wide:
			t.Errorf("%s scales an i16 register by %d", f, f.Scale)
		case 2:
			scaled = true
		}
	}
	if !scaled {
		t.Error("expects the i16 recurrence scaled by 2")
	}
}

// Every fixture on every target keeps its behaviour and picks formulae the
// target can fold.
func TestFixturesOnEveryTarget(t *testing.T) {
	targets := []target.Oracle{target.X86_64{}, target.RISC{}}
	for _, fx := range fixtures() {
		for _, tti := range targets {
			for _, chains := range []bool{true, false} {
				cfg := testConfig()
				cfg.EnableChains = chains
				name := fx.name + "/" + tti.Name()
				if !chains {
					name += "/no chains"
				}
				t.Run(name, func(t *testing.T) {
					lsr := prepared(t, fx.build(), tti, cfg)
					solution, err := lsr.solve()
					if err != nil {
						t.Fatalf("solve: %v", err)
					}
					lsr.checkSolution(solution)

					params := map[string]int64{}
					for k, v := range fx.params {
						params[k] = v
					}
					if _, ok := params["c"]; !ok {
						checkRun(t, fx.build(), tti, cfg, params)
						return
					}
					for _, c := range []int64{0, 1} {
						params["c"] = c
						checkRun(t, fx.build(), tti, cfg, params)
					}
				})
			}
		}
	}
}

// An exit compare with other users is copied for the branch, and only the
// copy tests the incremented value.
func TestSharedExitCompare(t *testing.T) {
	f := sharedExitCompare()
	shared := f.Blocks[2].Control
	lsr := prepared(t, f, target.X86_64{}, testConfig())
	cmp := lsr.l.Latch().Control
	if cmp == shared {
		t.Fatal("expects the branch to get its own compare")
	}
	if cmp.Op != ir.OpICmp || cmp.Cond() != shared.Cond() {
		t.Errorf("branch compare %s does not copy %s", cmp.LongString(), shared.LongString())
	}
	if lsr.ivIncInsertPos != cmp {
		t.Errorf("increments go before %v, want %v", lsr.ivIncInsertPos, cmp)
	}
	for _, fx := range lsr.Fixups() {
		switch fx.UserInst {
		case cmp:
			if !fx.PostIncLoops[lsr.l] {
				t.Error("branch compare fixup is not post-increment")
			}
		case shared:
			if fx.PostIncLoops[lsr.l] {
				t.Error("stored compare fixup became post-increment")
			}
		}
	}
	checkRun(t, sharedExitCompare(), target.X86_64{}, testConfig(), map[string]int64{"p": 4096, "n": 10})
}

func TestCrossUseOffsetWorthwhile(t *testing.T) {
	tests := []struct {
		name   string
		konst  int64
		insert bool
	}{
		{name: "cancels", konst: -8, insert: false},
		{name: "grows", konst: 16, insert: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := countedLoop(4, ir.I64)
			lsr := prepared(t, f, target.X86_64{}, Config{})
			luIdx := -1
			for i, u := range lsr.uses {
				if u.Kind == Address {
					luIdx = i
				}
			}
			if luIdx < 0 {
				t.Fatal("no address use")
			}
			p := lsr.a.ToExpr(f.Params[0])
			iv := lsr.a.AddRec([]*scev.Expr{lsr.a.Constant(ir.I64, 0), lsr.a.Constant(ir.I64, 1)}, lsr.l)
			u := lsr.uses[luIdx]
			u.RigidFormula = false
			u.Formulae = []Formula{{
				HasBaseReg: true,
				BaseRegs:   []*scev.Expr{lsr.a.Constant(ir.I64, tt.konst), p},
				ScaledReg:  iv,
				Scale:      4,
			}}
			lsr.applyCrossUseOffset(crossUseWork{luIdx: luIdx, imm: 8, origReg: p})
			if got := len(u.Formulae) > 1; got != tt.insert {
				t.Fatalf("inserted = %v, want %v (formulae %d)", got, tt.insert, len(u.Formulae))
			}
			if !tt.insert {
				return
			}
			nf := u.Formulae[len(u.Formulae)-1]
			if nf.BaseOffset != 8 {
				t.Errorf("BaseOffset = %d, want 8", nf.BaseOffset)
			}
			want := lsr.a.Add(lsr.a.Constant(ir.I64, -8), p)
			if !nf.referencesReg(want) {
				t.Errorf("new formula does not use %v", want)
			}
		})
	}
}
