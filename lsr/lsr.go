// Package lsr implements loop strength reduction: it rewrites the induction
// expressions used inside an innermost loop so that the loop needs fewer
// registers and cheaper arithmetic.
//
// The pass works on one simplified innermost loop at a time. It collects
// the uses of induction expressions, generates alternative formulae for
// each use, searches for the cheapest assignment sharing registers across
// uses, and rewrites the loop to compute that assignment.
package lsr

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
	"github.com/nickng/lsr/target"
)

type useMapKey struct {
	expr *scev.Expr
	kind UseKind
}

// Instance is the state of the pass on one loop.
type Instance struct {
	f    *ir.Func
	l    *loop.Loop
	info *loop.Info
	dom  *ir.DomTree
	a    *scev.Analysis
	tti  target.Oracle
	cfg  Config
	log  stageLoggers

	ivUsers *IVUsers

	// ivIncInsertPos is where new increments go; nil is the end of the
	// latch.
	ivIncInsertPos *ir.Value

	// factors are the interesting strides ratios, in discovery order.
	factors   []int64
	factorSet map[int64]bool
	// types are the integer types used by IV users, empty when they agree.
	types []ir.Type

	fixups  []*Fixup
	uses    []*Use
	useMap  map[useMapKey]int
	regUses *RegUseTracker

	ivChains []*ivChain
	// ivIncSet holds the (user, operand) pairs rewritten by chains.
	ivIncSet map[ivOperand]bool

	deadInsts []*ir.Value
	changed   bool
}

type ivOperand struct {
	user, operand *ir.Value
}

func newInstance(a *scev.Analysis, l *loop.Loop, tti target.Oracle, cfg Config, log *Logger) *Instance {
	if log == nil {
		log = NopLogger()
	}
	return &Instance{
		f:         a.Func(),
		l:         l,
		info:      a.Loops(),
		dom:       a.DomTree(),
		a:         a,
		tti:       tti,
		cfg:       cfg,
		log:       newStageLoggers(log),
		factorSet: make(map[int64]bool),
		useMap:    make(map[useMapKey]int),
		regUses:   NewRegUseTracker(),
		ivIncSet:  make(map[ivOperand]bool),
	}
}

// Result reports what happened to a loop.
type Result struct {
	Loop    *loop.Loop
	Changed bool
	// Err says why the loop was skipped, or is nil.
	Err error
}

// Run strength reduces l, which must be an innermost loop of the function
// a analyses. It reports whether the function changed; a loop that cannot be
// handled is left untouched and the reason returned.
func Run(a *scev.Analysis, l *loop.Loop, tti target.Oracle, cfg Config, log *Logger) (bool, error) {
	switch {
	case !l.IsInnermost():
		return false, errors.Wrapf(ErrNotInnermost, "loop %s", l)
	case !l.IsSimplified():
		return false, errors.Wrapf(ErrNotSimplified, "loop %s", l)
	}
	lsr := newInstance(a, l, tti, cfg, log)
	err := lsr.run()
	return lsr.changed, err
}

// RunFunc strength reduces every innermost loop of f.
func RunFunc(f *ir.Func, tti target.Oracle, cfg Config, log *Logger) []Result {
	dom := ir.NewDomTree(f)
	info := loop.Analyse(f, dom)
	a := scev.New(f, dom, info)
	var results []Result
	for _, l := range info.Innermost() {
		changed, err := Run(a, l, tti, cfg, log)
		results = append(results, Result{Loop: l, Changed: changed, Err: err})
	}
	return results
}

func (lsr *Instance) run() error {
	if err := lsr.prepare(); err != nil {
		lsr.finish()
		return err
	}
	solution, err := lsr.solve()
	if err != nil {
		lsr.finish()
		return err
	}
	lsr.checkSolution(solution)
	lsr.implementSolution(solution)
	lsr.finish()
	return nil
}

// prepare runs the pre-passes and builds the narrowed search space.
func (lsr *Instance) prepare() error {
	lsr.ivUsers = collectIVUsers(lsr.a, lsr.dom, lsr.l)

	lsr.optimizeShadowIV()
	lsr.optimizeLoopTermCond()

	users := lsr.ivUsers.Users()
	if len(users) == 0 {
		return ErrNoUsers
	}
	if len(users) > lsr.cfg.MaxIVUsers {
		return errors.Wrapf(ErrTooManyUsers, "%d users in loop %s", len(users), lsr.l)
	}

	if lsr.cfg.EnableChains {
		lsr.collectChains()
	}
	lsr.collectInterestingTypesAndFactors()
	lsr.collectFixupsAndInitialFormulae()
	lsr.collectLoopInvariantFixupsAndFormulae()
	if len(lsr.uses) == 0 {
		return ErrNoUsers
	}
	lsr.log.collect.Debugf("%s: %d uses, %d fixups", lsr.log.collect.Module(), len(lsr.uses), len(lsr.fixups))

	lsr.generateAllReuseFormulae()
	lsr.filterOutUndesirableDedicatedRegisters()
	lsr.narrowSearchSpaceUsingHeuristics()
	return nil
}

// finish removes what the pre-passes and rewriting left dead, merges
// congruent induction variables and checks the function.
func (lsr *Instance) finish() {
	if lsr.cfg.EnablePhiElim && lsr.l.IsSimplified() {
		lsr.replaceCongruentIVs()
	}
	if n := ir.DeleteDeadValues(lsr.f, lsr.deadInsts); n > 0 {
		lsr.changed = true
	}
	lsr.deadInsts = nil
	if lsr.changed {
		if n := ir.DeleteDeadPhiCycles(lsr.f); n > 0 {
			lsr.log.rewrite.Debugf("%s: removed %d dead phis", lsr.log.rewrite.Module(), n)
		}
		if err := ir.Verify(lsr.f); err != nil {
			panic(errors.Wrapf(err, "lsr: malformed %s after rewriting loop %s", lsr.f.Name, lsr.l))
		}
	}
}

// replaceCongruentIVs merges header phis computing the same recurrence.
func (lsr *Instance) replaceCongruentIVs() {
	seen := make(map[*scev.Expr]*ir.Value)
	for _, phi := range lsr.l.Header.Phis() {
		if !scev.IsSCEVable(phi.Type) {
			continue
		}
		e := lsr.a.ToExpr(phi)
		if !e.IsAddRec() {
			continue
		}
		orig, ok := seen[e]
		if !ok || orig.Type != phi.Type {
			if !ok {
				seen[e] = phi
			}
			continue
		}
		lsr.log.rewrite.Debugf("%s: congruent IV %s replaced by %s", lsr.log.rewrite.Module(), phi.LongString(), orig.Name())
		lsr.f.ReplaceAllUses(phi, orig)
		lsr.a.Forget(phi)
		lsr.deadInsts = append(lsr.deadInsts, phi)
		lsr.changed = true
	}
}

// checkSolution makes sure every chosen formula can be expanded.
func (lsr *Instance) checkSolution(solution []*Formula) {
	for i, f := range solution {
		u := lsr.uses[i]
		if u.RigidFormula {
			continue
		}
		for _, reg := range f.regs() {
			if !lsr.a.IsSafeToExpand(reg) {
				panic(errors.Errorf("lsr: use %d: register %s cannot be expanded", i, reg))
			}
		}
		if !isLegalUseOf(lsr.tti, u, f) {
			panic(errors.Errorf("lsr: use %d: illegal formula %s", i, f))
		}
	}
}

// addFactor records an interesting stride ratio.
func (lsr *Instance) addFactor(c int64) {
	if c == 0 || lsr.factorSet[c] {
		return
	}
	lsr.factorSet[c] = true
	lsr.factors = append(lsr.factors, c)
}

// Uses returns the uses collected for the loop.
func (lsr *Instance) Uses() []*Use { return lsr.uses }

// Fixups returns the fixups collected for the loop.
func (lsr *Instance) Fixups() []*Fixup { return lsr.fixups }

// sortedExprs orders expressions by interning order.
func sortedExprs(set map[*scev.Expr]bool) []*scev.Expr {
	es := make([]*scev.Expr, 0, len(set))
	for e := range set {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].ID() < es[j].ID() })
	return es
}
