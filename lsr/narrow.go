package lsr

import (
	"sort"

	"github.com/nickng/lsr/scev"
)

// filterOutUndesirableDedicatedRegisters drops the formulae that are losers
// outright and, among formulae of a use sharing the same registers with
// other uses, keeps only the cheapest.
func (lsr *Instance) filterOutUndesirableDedicatedRegisters() {
	r := costRater{tti: lsr.tti, a: lsr.a, l: lsr.l}
	visited := make(map[*scev.Expr]bool)
	loserRegs := make(map[*scev.Expr]bool)

	for luIdx, u := range lsr.uses {
		dirty := false
		best := make(map[string]int)
		for i := 0; i < len(u.Formulae); i++ {
			f := &u.Formulae[i]
			var c Cost
			r.rateFormula(&c, f, make(map[*scev.Expr]bool), visited, u, loserRegs)
			if c.IsLoser() {
				lsr.log.narrow.Debugf("%s: filtering loser %s", lsr.log.narrow.Module(), f)
			} else {
				// Key by the registers shared with other uses.
				var shared []int
				for _, reg := range f.regs() {
					if lsr.regUses.isRegUsedByUsesOtherThan(reg, luIdx) {
						shared = append(shared, reg.ID())
					}
				}
				sort.Ints(shared)
				key := keyOf(shared)
				j, ok := best[key]
				if !ok {
					best[key] = i
					continue
				}
				var cb Cost
				r.rateFormula(&cb, &u.Formulae[j], make(map[*scev.Expr]bool), visited, u, nil)
				if c.Less(cb) {
					u.Formulae[i], u.Formulae[j] = u.Formulae[j], u.Formulae[i]
				}
				lsr.log.narrow.Debugf("%s: filtering %s in favour of %s", lsr.log.narrow.Module(), &u.Formulae[i], &u.Formulae[j])
			}
			// Deleting moves the last formula into slot i; fix up the map.
			last := len(u.Formulae) - 1
			u.deleteFormula(i)
			for k, v := range best {
				if v == last {
					best[k] = i
				}
			}
			i--
			dirty = true
		}
		if dirty {
			u.recomputeRegs(luIdx, lsr.regUses)
		}
	}
}

func keyOf(ids []int) string {
	b := make([]byte, 0, len(ids)*4)
	for _, id := range ids {
		b = append(b, byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	}
	return string(b)
}

// estimateSearchSpaceComplexity is the product of the formula counts,
// saturating at the limit.
func (lsr *Instance) estimateSearchSpaceComplexity() int {
	limit := lsr.cfg.ComplexityLimit
	power := 1
	for _, u := range lsr.uses {
		n := len(u.Formulae)
		if n >= limit {
			return limit
		}
		power *= n
		if power >= limit {
			return limit
		}
	}
	return power
}

func (lsr *Instance) tooComplex() bool {
	return lsr.estimateSearchSpaceComplexity() >= lsr.cfg.ComplexityLimit
}

// narrowSearchSpaceUsingHeuristics prunes formulae until the search space
// is below the complexity limit.
func (lsr *Instance) narrowSearchSpaceUsingHeuristics() {
	lsr.narrowSearchSpaceByDetectingSupersets()
	lsr.narrowSearchSpaceByCollapsingUnrolledCode()
	lsr.narrowSearchSpaceByRefilteringUndesirableDedicatedRegisters()
	lsr.narrowSearchSpaceByPickingWinnerRegs()
}

// narrowSearchSpaceByDetectingSupersets deletes formulae holding a constant
// or symbol in a register when the use has a formula with it folded.
func (lsr *Instance) narrowSearchSpaceByDetectingSupersets() {
	if !lsr.tooComplex() {
		return
	}
	lsr.log.narrow.Debugf("%s: search space too complex, eliminating superset formulae", lsr.log.narrow.Module())
	for luIdx, u := range lsr.uses {
		dirty := false
		for i := 0; i < len(u.Formulae); i++ {
			f := u.Formulae[i]
			for k, reg := range f.BaseRegs {
				nf := f.clone()
				switch {
				case reg.IsConstant():
					nf.BaseOffset += reg.Const
				case reg.IsSymbol() && f.BaseGV == nil:
					nf.BaseGV = reg.Value
				default:
					continue
				}
				nf.deleteBaseReg(k)
				if u.hasFormulaWithSameRegs(&nf) {
					lsr.log.narrow.Debugf("%s: deleting %s", lsr.log.narrow.Module(), &f)
					u.deleteFormula(i)
					i--
					dirty = true
					break
				}
			}
		}
		if dirty {
			u.recomputeRegs(luIdx, lsr.regUses)
		}
	}
}

// findUseWithSimilarFormula returns a use other than orig with a formula
// equal to f except for a zero offset.
func (lsr *Instance) findUseWithSimilarFormula(f *Formula, orig *Use) int {
	for luIdx, u := range lsr.uses {
		if u == orig || u.Kind == ICmpZero || u.Kind != orig.Kind || u.AccessTy != orig.AccessTy ||
			u.WidestFixupType != orig.WidestFixupType || !u.hasFormulaWithSameRegs(f) {
			continue
		}
		for i := range u.Formulae {
			g := &u.Formulae[i]
			if sameRegsAndSymbols(g, f) {
				if g.BaseOffset == 0 {
					return luIdx
				}
				break
			}
		}
	}
	return -1
}

func sameRegsAndSymbols(g, f *Formula) bool {
	if g.ScaledReg != f.ScaledReg || g.BaseGV != f.BaseGV || g.Scale != f.Scale || g.UnfoldedOffset != f.UnfoldedOffset {
		return false
	}
	if len(g.BaseRegs) != len(f.BaseRegs) {
		return false
	}
	for i := range g.BaseRegs {
		if g.BaseRegs[i] != f.BaseRegs[i] {
			return false
		}
	}
	return true
}

// narrowSearchSpaceByCollapsingUnrolledCode merges uses whose formulae
// differ only by a constant offset, as in unrolled loop bodies.
func (lsr *Instance) narrowSearchSpaceByCollapsingUnrolledCode() {
	if !lsr.tooComplex() {
		return
	}
	lsr.log.narrow.Debugf("%s: search space too complex, collapsing uses separated by constant offsets", lsr.log.narrow.Module())
	for luIdx := 0; luIdx < len(lsr.uses); luIdx++ {
		u := lsr.uses[luIdx]
		for i := range u.Formulae {
			f := &u.Formulae[i]
			if f.BaseOffset == 0 || (f.Scale != 0 && f.Scale != 1) {
				continue
			}
			toIdx := lsr.findUseWithSimilarFormula(f, u)
			if toIdx < 0 {
				continue
			}
			to := lsr.uses[toIdx]
			if !lsr.reconcileNewOffset(to, f.BaseOffset, false, u.Kind, u.AccessTy) {
				continue
			}
			lsr.log.narrow.Debugf("%s: deleting use %s", lsr.log.narrow.Module(), u)
			to.AllFixupsOutsideLoop = to.AllFixupsOutsideLoop && u.AllFixupsOutsideLoop
			for _, fx := range lsr.useFixups(luIdx) {
				fx.Offset += f.BaseOffset
				fx.LUIdx = toIdx
				to.addOffset(fx.Offset)
			}
			// Formulae of the merged use that no longer fit the range go.
			dirty := false
			for k := 0; k < len(to.Formulae); k++ {
				if !isLegalUseOf(lsr.tti, to, &to.Formulae[k]) {
					to.deleteFormula(k)
					k--
					dirty = true
				}
			}
			if dirty {
				to.recomputeRegs(toIdx, lsr.regUses)
			}
			lsr.deleteUse(luIdx)
			luIdx--
			break
		}
	}
}

// deleteUse removes uses[luIdx], moving the last use into its slot.
func (lsr *Instance) deleteUse(luIdx int) {
	last := len(lsr.uses) - 1
	lsr.uses[luIdx] = lsr.uses[last]
	lsr.uses[last] = nil
	lsr.uses = lsr.uses[:last]
	lsr.regUses.swapAndDropUse(luIdx, last)
	for _, fx := range lsr.fixups {
		if fx.LUIdx == last {
			fx.LUIdx = luIdx
		}
	}
	for k, idx := range lsr.useMap {
		switch idx {
		case luIdx:
			delete(lsr.useMap, k)
		case last:
			lsr.useMap[k] = luIdx
		}
	}
}

// narrowSearchSpaceByRefilteringUndesirableDedicatedRegisters repeats the
// filter now that the register sharing is known.
func (lsr *Instance) narrowSearchSpaceByRefilteringUndesirableDedicatedRegisters() {
	if !lsr.tooComplex() {
		return
	}
	lsr.log.narrow.Debugf("%s: search space too complex, refiltering dedicated registers", lsr.log.narrow.Module())
	lsr.filterOutUndesirableDedicatedRegisters()
}

// narrowSearchSpaceByPickingWinnerRegs assumes the register used by the
// most uses is a winner and deletes the formulae of those uses that do not
// reference it, until the search space is small enough.
func (lsr *Instance) narrowSearchSpaceByPickingWinnerRegs() {
	taken := make(map[*scev.Expr]bool)
	for lsr.tooComplex() {
		var best *scev.Expr
		bestNum := uint(0)
		for _, reg := range lsr.regUses.regs() {
			if taken[reg] {
				continue
			}
			if n := lsr.regUses.usedByIndices(reg).Count(); best == nil || n > bestNum {
				best, bestNum = reg, n
			}
		}
		if best == nil {
			return
		}
		lsr.log.narrow.Debugf("%s: assuming %s yields profitable reuse", lsr.log.narrow.Module(), best)
		taken[best] = true
		for luIdx, u := range lsr.uses {
			if !u.Regs[best] {
				continue
			}
			dirty := false
			for i := 0; i < len(u.Formulae); i++ {
				if !u.Formulae[i].referencesReg(best) {
					u.deleteFormula(i)
					i--
					dirty = true
				}
			}
			if dirty {
				u.recomputeRegs(luIdx, lsr.regUses)
			}
		}
	}
}
