package lsr

import (
	"math"
	"math/bits"
	"sort"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/scev"
)

// generateAllReuseFormulae derives alternative formulae for every use. The
// passes run in rounds over all uses so that later ones see the registers
// the earlier ones made shareable.
func (lsr *Instance) generateAllReuseFormulae() {
	// Each generator only sees the formulae that existed before it ran on a
	// use, never its own output.
	forEach := func(gen func(luIdx int, base Formula)) {
		for luIdx := range lsr.uses {
			u := lsr.uses[luIdx]
			for i, n := 0, len(u.Formulae); i < n; i++ {
				gen(luIdx, u.Formulae[i].clone())
			}
		}
	}
	for luIdx := range lsr.uses {
		u := lsr.uses[luIdx]
		for i, n := 0, len(u.Formulae); i < n; i++ {
			lsr.generateReassociations(luIdx, u.Formulae[i].clone(), 0)
		}
		for i, n := 0, len(u.Formulae); i < n; i++ {
			lsr.generateCombinations(luIdx, u.Formulae[i].clone())
		}
	}
	forEach(lsr.generateSymbolicOffsets)
	forEach(lsr.generateConstantOffsets)
	forEach(lsr.generateICmpZeroScales)
	forEach(lsr.generateScales)
	forEach(lsr.generateTruncates)
	lsr.generateCrossUseConstantOffsets()

	n := 0
	for _, u := range lsr.uses {
		n += len(u.Formulae)
	}
	lsr.log.gen.Debugf("%s: %d formulae over %d uses", lsr.log.gen.Module(), n, len(lsr.uses))
}

// collectSubexprs splits e into addends, distributing constant multipliers
// and splitting the start off recurrences of the loop.
func (lsr *Instance) collectSubexprs(e, c *scev.Expr, ops *[]*scev.Expr, depth int) *scev.Expr {
	if depth >= 3 {
		return e
	}
	scaled := func(r *scev.Expr) *scev.Expr {
		if c != nil {
			return lsr.a.Mul(c, r)
		}
		return r
	}
	switch e.Kind {
	case scev.AddKind:
		for _, op := range e.Ops {
			if rem := lsr.collectSubexprs(op, c, ops, depth+1); rem != nil {
				*ops = append(*ops, scaled(rem))
			}
		}
		return nil

	case scev.AddRecKind:
		if e.Start().IsZero() || !e.IsAffine() {
			return e
		}
		rem := lsr.collectSubexprs(e.Start(), c, ops, depth+1)
		if rem != nil && (e.Loop == lsr.l || !rem.IsAddRec()) {
			*ops = append(*ops, scaled(rem))
			rem = nil
		}
		if rem != e.Start() {
			if rem == nil {
				rem = lsr.a.Zero(e.Type)
			}
			return lsr.a.Affine(rem, e.Ops[1], e.Loop)
		}

	case scev.MulKind:
		if len(e.Ops) != 2 || !e.Ops[0].IsConstant() {
			return e
		}
		k := e.Ops[0]
		if c != nil {
			k = lsr.a.Mul(c, k)
		}
		if rem := lsr.collectSubexprs(e.Ops[1], k, ops, depth+1); rem != nil {
			*ops = append(*ops, lsr.a.Mul(k, rem))
		}
		return nil
	}
	return e
}

// generateReassociations splits a register into addends and moves each
// loop-invariant addend into a register of its own.
func (lsr *Instance) generateReassociations(luIdx int, base Formula, depth int) {
	if depth >= lsr.cfg.MaxReassociateDepth {
		return
	}
	for i := range base.BaseRegs {
		lsr.generateReassociationsImpl(luIdx, base, depth, i, false)
	}
	if base.Scale == 1 {
		lsr.generateReassociationsImpl(luIdx, base, depth, -1, true)
	}
}

func (lsr *Instance) generateReassociationsImpl(luIdx int, base Formula, depth, idx int, isScaledReg bool) {
	u := lsr.uses[luIdx]
	reg := base.ScaledReg
	if !isScaledReg {
		reg = base.BaseRegs[idx]
	}
	var addOps []*scev.Expr
	if rem := lsr.collectSubexprs(reg, nil, &addOps, 0); rem != nil {
		addOps = append(addOps, rem)
	}
	if len(addOps) == 1 {
		return
	}
	for j, op := range addOps {
		// Loop-variant unknowns cannot be moved anywhere useful.
		if op.Kind == scev.UnknownKind && !lsr.a.IsLoopInvariant(op, lsr.l) {
			continue
		}
		// Constants that fold into an immediate stay there.
		if isAlwaysFoldable(lsr.tti, lsr.a, u.MinOffset, u.MaxOffset, u.Kind, u.AccessTy, op, base.getNumRegs() > 1) {
			continue
		}
		inner := make([]*scev.Expr, 0, len(addOps)-1)
		inner = append(inner, addOps[:j]...)
		inner = append(inner, addOps[j+1:]...)
		if len(inner) == 1 && isAlwaysFoldable(lsr.tti, lsr.a, u.MinOffset, u.MaxOffset, u.Kind, u.AccessTy, inner[0], base.getNumRegs() > 1) {
			continue
		}
		innerSum := lsr.a.Add(inner...)
		if innerSum.IsZero() {
			continue
		}

		f := base.clone()
		if innerSum.IsConstant() && lsr.tti.IsLegalAddImmediate(f.UnfoldedOffset+innerSum.Const) {
			f.UnfoldedOffset += innerSum.Const
			if isScaledReg {
				f.ScaledReg, f.Scale = nil, 0
			} else {
				f.deleteBaseReg(idx)
			}
		} else if isScaledReg {
			f.ScaledReg = innerSum
		} else {
			f.BaseRegs[idx] = innerSum
		}

		if op.IsConstant() && lsr.tti.IsLegalAddImmediate(f.UnfoldedOffset+op.Const) {
			f.UnfoldedOffset += op.Const
		} else {
			f.BaseRegs = append(f.BaseRegs, op)
			f.HasBaseReg = true
		}
		f.canonicalize(lsr.l)
		if lsr.insertFormula(luIdx, f) {
			// Wide sums go deeper faster.
			next := depth + 1 + (bits.Len(uint(len(addOps)))-1)>>2
			lsr.generateReassociations(luIdx, u.Formulae[len(u.Formulae)-1].clone(), next)
		}
	}
}

// generateCombinations folds the loop-invariant registers of base into one.
func (lsr *Instance) generateCombinations(luIdx int, base Formula) {
	n := len(base.BaseRegs)
	if base.Scale == 1 {
		n++
	}
	if base.UnfoldedOffset != 0 {
		n++
	}
	if n <= 1 {
		return
	}
	f := base.clone()
	f.unscale()

	newBase := f.clone()
	newBase.BaseRegs = nil
	var ops []*scev.Expr
	var combinedType ir.Type
	for _, reg := range f.BaseRegs {
		if lsr.a.ProperlyDominates(reg, lsr.l.Header) && !lsr.a.HasComputableLoopEvolution(reg, lsr.l) {
			if combinedType.Kind == ir.VoidKind {
				combinedType = effectiveType(reg.Type)
			}
			ops = append(ops, reg)
		} else {
			newBase.BaseRegs = append(newBase.BaseRegs, reg)
		}
	}
	if len(ops) == 0 {
		return
	}
	generate := func(sum *scev.Expr) {
		if sum.IsZero() {
			return
		}
		g := newBase.clone()
		g.BaseRegs = append(g.BaseRegs, sum)
		g.HasBaseReg = true
		g.canonicalize(lsr.l)
		lsr.insertFormula(luIdx, g)
	}
	if len(ops) > 1 {
		generate(lsr.a.Add(ops...))
	}
	if newBase.UnfoldedOffset != 0 {
		ops = append(ops, lsr.a.Constant(combinedType, newBase.UnfoldedOffset))
		newBase.UnfoldedOffset = 0
		generate(lsr.a.Add(ops...))
	}
}

// generateSymbolicOffsets moves a global symbol out of a register into the
// BaseGV field.
func (lsr *Instance) generateSymbolicOffsets(luIdx int, base Formula) {
	if base.BaseGV != nil {
		return
	}
	for i := range base.BaseRegs {
		lsr.generateSymbolicOffsetsImpl(luIdx, base, i, false)
	}
	if base.Scale == 1 {
		lsr.generateSymbolicOffsetsImpl(luIdx, base, -1, true)
	}
}

func (lsr *Instance) generateSymbolicOffsetsImpl(luIdx int, base Formula, idx int, isScaledReg bool) {
	u := lsr.uses[luIdx]
	g := base.ScaledReg
	if !isScaledReg {
		g = base.BaseRegs[idx]
	}
	gv, g := extractSymbol(lsr.a, g)
	if gv == nil || g.IsZero() {
		return
	}
	f := base.clone()
	f.BaseGV = gv
	if !isLegalUseOf(lsr.tti, u, &f) {
		return
	}
	if isScaledReg {
		f.ScaledReg = g
	} else {
		f.BaseRegs[idx] = g
	}
	lsr.insertFormula(luIdx, f)
}

// generateConstantOffsets moves constants between a register and the
// immediate field, trying the offsets at both ends of the use's range.
func (lsr *Instance) generateConstantOffsets(luIdx int, base Formula) {
	u := lsr.uses[luIdx]
	worklist := []int64{u.MinOffset}
	if u.MaxOffset != u.MinOffset {
		worklist = append(worklist, u.MaxOffset)
	}
	for i := range base.BaseRegs {
		lsr.generateConstantOffsetsImpl(luIdx, base, worklist, i, false)
	}
	if base.Scale == 1 {
		lsr.generateConstantOffsetsImpl(luIdx, base, worklist, -1, true)
	}
}

func (lsr *Instance) generateConstantOffsetsImpl(luIdx int, base Formula, worklist []int64, idx int, isScaledReg bool) {
	u := lsr.uses[luIdx]
	g := base.ScaledReg
	if !isScaledReg {
		g = base.BaseRegs[idx]
	}
	for _, offset := range worklist {
		if offset == 0 || addOverflows(base.BaseOffset, -offset) {
			continue
		}
		f := base.clone()
		f.BaseOffset = base.BaseOffset - offset
		if !isLegalUseOf(lsr.tti, u, &f) {
			continue
		}
		newG := lsr.a.Add(lsr.a.Constant(g.Type, offset), g)
		switch {
		case newG.IsZero() && isScaledReg:
			f.ScaledReg, f.Scale = nil, 0
			f.canonicalize(lsr.l)
		case newG.IsZero():
			f.deleteBaseReg(idx)
			f.canonicalize(lsr.l)
		case isScaledReg:
			f.ScaledReg = newG
		default:
			f.BaseRegs[idx] = newG
		}
		lsr.insertFormula(luIdx, f)
	}

	imm, g := extractImmediate(lsr.a, g)
	if g.IsZero() || imm == 0 || addOverflows(base.BaseOffset, imm) {
		return
	}
	f := base.clone()
	f.BaseOffset += imm
	if !isLegalUseOf(lsr.tti, u, &f) {
		return
	}
	if isScaledReg {
		f.ScaledReg = g
	} else {
		f.BaseRegs[idx] = g
	}
	lsr.insertFormula(luIdx, f)
}

// fitsType reports whether c is representable in the integer type t.
func fitsType(c int64, t ir.Type) bool {
	if t.Bits >= 64 || t.Bits == 0 {
		return true
	}
	return t.SignExtend(c) == c
}

// generateICmpZeroScales multiplies both sides of a compare against zero by
// an interesting factor.
func (lsr *Instance) generateICmpZeroScales(luIdx int, base Formula) {
	u := lsr.uses[luIdx]
	if u.Kind != ICmpZero {
		return
	}
	intTy := base.getType()
	if intTy.Kind == ir.VoidKind || intTy.Bits > 64 {
		return
	}
	if u.MinOffset != u.MaxOffset {
		return
	}
	// Pointers cannot be multiplied.
	if base.ScaledReg != nil && base.ScaledReg.Type.IsPointer() {
		return
	}
	for _, r := range base.BaseRegs {
		if r.Type.IsPointer() {
			return
		}
	}
	for _, factor := range lsr.factors {
		if f, ok := lsr.scaleICmpZero(u, base, intTy, factor); ok {
			lsr.insertFormula(luIdx, f)
		}
	}
}

// scaleICmpZero returns base multiplied by factor, or false when a term
// overflows.
func (lsr *Instance) scaleICmpZero(u *Use, base Formula, intTy ir.Type, factor int64) (Formula, bool) {
	if !fitsType(factor, intTy) {
		return Formula{}, false
	}
	if mulOverflows(base.BaseOffset, factor) {
		return Formula{}, false
	}
	newBaseOffset := base.BaseOffset * factor
	if !fitsType(newBaseOffset, intTy) {
		return Formula{}, false
	}
	if mulOverflows(u.MinOffset, factor) {
		return Formula{}, false
	}
	offset := u.MinOffset * factor
	if !fitsType(offset, intTy) {
		return Formula{}, false
	}

	f := base.clone()
	f.BaseOffset = newBaseOffset
	if !isLegalUse(lsr.tti, offset, offset, u.Kind, u.AccessTy, &f) {
		return Formula{}, false
	}
	// The use has MinOffset built in.
	f.BaseOffset += offset - u.MinOffset

	factorS := lsr.a.Constant(intTy, factor)
	for i, r := range f.BaseRegs {
		f.BaseRegs[i] = lsr.a.Mul(r, factorS)
		if getExactSDiv(lsr.a, f.BaseRegs[i], factorS, false) != base.BaseRegs[i] {
			return Formula{}, false
		}
	}
	if f.ScaledReg != nil {
		f.ScaledReg = lsr.a.Mul(f.ScaledReg, factorS)
		if getExactSDiv(lsr.a, f.ScaledReg, factorS, false) != base.ScaledReg {
			return Formula{}, false
		}
	}
	if f.UnfoldedOffset != 0 {
		if mulOverflows(f.UnfoldedOffset, factor) {
			return Formula{}, false
		}
		f.UnfoldedOffset *= factor
		if !fitsType(f.UnfoldedOffset, intTy) {
			return Formula{}, false
		}
	}
	return f, true
}

// generateScales moves a recurrence register into the scaled slot, divided
// by an interesting factor.
func (lsr *Instance) generateScales(luIdx int, base Formula) {
	u := lsr.uses[luIdx]
	intTy := base.getType()
	if intTy.Kind == ir.VoidKind {
		return
	}
	if base.Scale != 0 && !base.unscale() {
		return
	}
	for _, factor := range lsr.factors {
		if !fitsType(factor, intTy) {
			continue
		}
		if base.BaseOffset == math.MinInt64 && factor == -1 {
			continue
		}
		base.Scale = factor
		base.HasBaseReg = len(base.BaseRegs) > 1
		if !isLegalUseOf(lsr.tti, u, &base) {
			// Out-of-loop Basic uses can take a negation.
			if u.Kind == Basic && u.AllFixupsOutsideLoop &&
				isLegalUse(lsr.tti, u.MinOffset, u.MaxOffset, Special, u.AccessTy, &base) {
				u.Kind = Special
			} else {
				continue
			}
		}
		// Negating a lone register of a compare finds nothing new.
		if u.Kind == ICmpZero && !base.HasBaseReg && base.BaseOffset == 0 && base.BaseGV == nil {
			continue
		}
		for i, r := range base.BaseRegs {
			if !r.IsAddRec() || (r.Loop != lsr.l && !u.AllFixupsOutsideLoop) {
				continue
			}
			factorS := lsr.a.Constant(effectiveType(intTy), factor)
			q := getExactSDiv(lsr.a, r, factorS, true)
			if q == nil {
				continue
			}
			f := base.clone()
			f.ScaledReg = q
			f.deleteBaseReg(i)
			if f.Scale == 1 && (len(f.BaseRegs) == 0 || (r.Loop != lsr.l && u.AllFixupsOutsideLoop)) {
				continue
			}
			if f.Scale == 1 && u.AllFixupsOutsideLoop {
				f.canonicalize(lsr.l)
			}
			lsr.insertFormula(luIdx, f)
		}
	}
}

// generateTruncates evaluates base in a wider type the other uses need,
// when truncating back is free.
func (lsr *Instance) generateTruncates(luIdx int, base Formula) {
	if base.BaseGV != nil {
		return
	}
	dst := base.getType()
	if dst.Kind == ir.VoidKind {
		return
	}
	dst = effectiveType(dst)
	for _, src := range lsr.types {
		if src == dst || !lsr.tti.IsTruncateFree(src, dst) {
			continue
		}
		f := base.clone()
		ok := true
		if f.ScaledReg != nil {
			f.ScaledReg = lsr.a.AnyExtend(f.ScaledReg, src)
			ok = !f.ScaledReg.IsZero()
		}
		for i := range f.BaseRegs {
			f.BaseRegs[i] = lsr.a.AnyExtend(f.BaseRegs[i], src)
			if f.BaseRegs[i].IsZero() {
				ok = false
			}
		}
		if !ok || !f.hasRegsUsedByUsesOtherThan(luIdx, lsr.regUses) {
			continue
		}
		lsr.insertFormula(luIdx, f)
	}
}

type crossUseWork struct {
	luIdx   int
	imm     int64
	origReg *scev.Expr
}

// generateCrossUseConstantOffsets looks for registers differing only by a
// constant and lets each use try the others' registers with the difference
// moved to its immediate field.
func (lsr *Instance) generateCrossUseConstantOffsets() {
	type immMap map[int64]*scev.Expr
	bases := make(map[*scev.Expr]immMap)
	usedBy := make(map[*scev.Expr]map[int]bool)
	var sequence []*scev.Expr
	for _, use := range lsr.regUses.regs() {
		imm, reg := extractImmediate(lsr.a, use)
		m, ok := bases[reg]
		if !ok {
			m = make(immMap)
			bases[reg] = m
			usedBy[reg] = make(map[int]bool)
			sequence = append(sequence, reg)
		}
		m[imm] = use
		bs := lsr.regUses.usedByIndices(use)
		for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
			usedBy[reg][int(i)] = true
		}
	}

	var work []crossUseWork
	unique := make(map[[2]int64]bool)
	for _, reg := range sequence {
		m := bases[reg]
		if len(m) == 1 {
			continue
		}
		imms := make([]int64, 0, len(m))
		for imm := range m {
			imms = append(imms, imm)
		}
		sort.Slice(imms, func(i, j int) bool { return imms[i] < imms[j] })
		first, last := imms[0], imms[len(imms)-1]
		avg := (first & last) + ((first ^ last) >> 1)
		avg += (first ^ last) & int64(uint64(avg)>>63)
		mid := sort.Search(len(imms), func(i int) bool { return imms[i] >= avg })

		for j, jImm := range imms {
			origReg := m[jImm]
			if !origReg.IsConstant() && len(usedBy[reg]) == 1 {
				continue
			}
			bs := lsr.regUses.usedByIndices(origReg)
			for _, k := range []int{0, len(imms) - 1, mid} {
				if k == j || k >= len(imms) {
					continue
				}
				imm := jImm - imms[k]
				for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
					key := [2]int64{int64(i), imm}
					if unique[key] {
						continue
					}
					unique[key] = true
					work = append(work, crossUseWork{luIdx: int(i), imm: imm, origReg: origReg})
				}
			}
		}
	}

	for _, w := range work {
		lsr.applyCrossUseOffset(w)
	}
}

func (lsr *Instance) applyCrossUseOffset(w crossUseWork) {
	u := lsr.uses[w.luIdx]
	intTy := effectiveType(w.origReg.Type)
	negImm := lsr.a.Constant(intTy, -w.imm)
	n := len(u.Formulae)
	for i := 0; i < n; i++ {
		f := u.Formulae[i].clone()
		f.unscale()
		if f.ScaledReg == w.origReg {
			if mulOverflows(w.imm, f.Scale) || addOverflows(f.BaseOffset, w.imm*f.Scale) {
				continue
			}
			offset := f.BaseOffset + w.imm*f.Scale
			// Don't create 50 + reg(-50).
			if f.referencesReg(lsr.a.Constant(intTy, -offset)) {
				continue
			}
			nf := f.clone()
			nf.BaseOffset = offset
			if !isLegalUseOf(lsr.tti, u, &nf) {
				continue
			}
			nf.ScaledReg = lsr.a.Add(negImm, nf.ScaledReg)
			if c := nf.ScaledReg; c.IsConstant() && (c.Const < 0) != (nf.BaseOffset < 0) &&
				absInt64(c.Const)*absInt64(f.Scale) <= absInt64(nf.BaseOffset) {
				continue
			}
			lsr.insertFormula(w.luIdx, nf)
			continue
		}
		for k, reg := range f.BaseRegs {
			if reg != w.origReg {
				continue
			}
			nf := f.clone()
			nf.BaseOffset += w.imm
			if addOverflows(f.BaseOffset, w.imm) || !isLegalUseOf(lsr.tti, u, &nf) {
				if !lsr.tti.IsLegalAddImmediate(f.UnfoldedOffset + w.imm) {
					continue
				}
				nf = f.clone()
				nf.UnfoldedOffset += w.imm
			}
			nf.BaseRegs[k] = lsr.a.Add(negImm, reg)
			worthwhile := true
			for _, r := range nf.BaseRegs {
				if !r.IsConstant() {
					continue
				}
				sum := r.Const + nf.BaseOffset
				if absInt64(sum) < absInt64(nf.BaseOffset) && bits.TrailingZeros64(uint64(sum)) >= bits.TrailingZeros64(uint64(nf.BaseOffset)) {
					worthwhile = false
				}
			}
			if !worthwhile {
				// Try the next occurrence of the register.
				continue
			}
			lsr.insertFormula(w.luIdx, nf)
			break
		}
	}
}

func absInt64(c int64) int64 {
	if c < 0 {
		if c == math.MinInt64 {
			return math.MaxInt64
		}
		return -c
	}
	return c
}
