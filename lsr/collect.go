package lsr

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/scev"
)

// isAddressUse reports whether operand is the address of a memory access
// by user.
func isAddressUse(user, operand *ir.Value) bool {
	switch user.Op {
	case ir.OpLoad, ir.OpPrefetch:
		return user.Args[0] == operand
	case ir.OpStore:
		return user.Args[1] == operand
	}
	return false
}

// accessType returns the type of the memory accessed by user.
func accessType(user *ir.Value) ir.Type {
	switch user.Op {
	case ir.OpLoad:
		return user.Type
	case ir.OpStore:
		return user.Args[0].Type
	}
	return ir.I8
}

// effectiveType is the integer type arithmetic on t happens in.
func effectiveType(t ir.Type) ir.Type { return ir.IntType(t.Bits) }

// pointerBase returns the pointer an expression is based on, or nil.
func pointerBase(e *scev.Expr) *scev.Expr {
	if !e.Type.IsPointer() {
		return nil
	}
	switch e.Kind {
	case scev.AddRecKind:
		return pointerBase(e.Start())
	case scev.AddKind:
		for _, op := range e.Ops {
			if op.Type.IsPointer() {
				return pointerBase(op)
			}
		}
	}
	return e
}

// getUse returns the use for e, creating it if needed, and the offset the
// fixup has relative to it. Constant offsets the kind always folds are split
// off, so that uses differing by such an offset share a Use.
func (lsr *Instance) getUse(e *scev.Expr, kind UseKind, accessTy ir.Type) (int, int64) {
	offset, rest := extractImmediate(lsr.a, e)
	if !isAlwaysFoldableOffset(lsr.tti, kind, accessTy, nil, offset, true) {
		offset, rest = 0, e
	}
	key := useMapKey{expr: rest, kind: kind}
	if idx, ok := lsr.useMap[key]; ok {
		if lsr.reconcileNewOffset(lsr.uses[idx], offset, true, kind, accessTy) {
			return idx, offset
		}
	}
	idx := len(lsr.uses)
	lsr.useMap[key] = idx
	u := newUse(kind, accessTy)
	u.MinOffset, u.MaxOffset = offset, offset
	lsr.uses = append(lsr.uses, u)
	return idx, offset
}

// reconcileNewOffset widens the offset range of u to take offset, if the
// whole range still folds. The range only ever grows.
func (lsr *Instance) reconcileNewOffset(u *Use, offset int64, hasBaseReg bool, kind UseKind, accessTy ir.Type) bool {
	if u.Kind != kind {
		return false
	}
	newAccessTy := u.AccessTy
	if kind == Address && accessTy != u.AccessTy {
		newAccessTy = ir.Void
	}
	lo, hi := u.MinOffset, u.MaxOffset
	switch {
	case offset < lo:
		if !isAlwaysFoldableOffset(lsr.tti, kind, newAccessTy, nil, hi-offset, hasBaseReg) {
			return false
		}
		lo = offset
	case offset > hi:
		if !isAlwaysFoldableOffset(lsr.tti, kind, newAccessTy, nil, offset-lo, hasBaseReg) {
			return false
		}
		hi = offset
	}
	u.MinOffset, u.MaxOffset = lo, hi
	u.AccessTy = newAccessTy
	return true
}

// newFixup records a fixup of use luIdx.
func (lsr *Instance) newFixup(luIdx int, user, operand *ir.Value, postInc scev.LoopSet, offset int64) *Fixup {
	u := lsr.uses[luIdx]
	fx := &Fixup{
		UserInst:            user,
		OperandValToReplace: operand,
		PostIncLoops:        postInc,
		LUIdx:               luIdx,
		Offset:              offset,
	}
	lsr.fixups = append(lsr.fixups, fx)
	u.addOffset(offset)
	u.AllFixupsOutsideLoop = u.AllFixupsOutsideLoop && fx.isUseFullyOutsideLoop(lsr.l)
	if t := operand.Type; u.WidestFixupType.Kind == ir.VoidKind || u.WidestFixupType.Bits < t.Bits {
		u.WidestFixupType = t
	}
	return fx
}

// useFixups returns the fixups of use luIdx.
func (lsr *Instance) useFixups(luIdx int) []*Fixup {
	var fxs []*Fixup
	for _, fx := range lsr.fixups {
		if fx.LUIdx == luIdx {
			fxs = append(fxs, fx)
		}
	}
	return fxs
}

// countRegisters records the registers of f in the tracker.
func (lsr *Instance) countRegisters(f *Formula, luIdx int) {
	for _, r := range f.regs() {
		lsr.regUses.countRegister(r, luIdx)
	}
}

// insertFormula adds f to use luIdx if it is legal and new.
func (lsr *Instance) insertFormula(luIdx int, f Formula) bool {
	u := lsr.uses[luIdx]
	f.canonicalize(lsr.l)
	if !isLegalUseOf(lsr.tti, u, &f) {
		return false
	}
	if !u.insertFormula(f, lsr.l) {
		return false
	}
	lsr.countRegisters(&u.Formulae[len(u.Formulae)-1], luIdx)
	return true
}

// insertInitialFormula gives use luIdx the formula computing e directly.
func (lsr *Instance) insertInitialFormula(e *scev.Expr, luIdx int) {
	u := lsr.uses[luIdx]
	if !lsr.a.IsSafeToExpand(e) {
		u.RigidFormula = true
	}
	var f Formula
	f.initialMatch(lsr.a, e, lsr.l)
	if u.insertFormula(f, lsr.l) {
		lsr.countRegisters(&u.Formulae[len(u.Formulae)-1], luIdx)
	}
}

// insertSupplementalFormula gives use luIdx the formula reg(e).
func (lsr *Instance) insertSupplementalFormula(e *scev.Expr, luIdx int) {
	u := lsr.uses[luIdx]
	f := Formula{BaseRegs: []*scev.Expr{e}, HasBaseReg: true}
	if u.insertFormula(f, lsr.l) {
		lsr.countRegisters(&u.Formulae[len(u.Formulae)-1], luIdx)
	}
}

// collectInterestingTypesAndFactors records the integer types of the IV
// users and the constant ratios between their strides.
func (lsr *Instance) collectInterestingTypesAndFactors() {
	var strides []*scev.Expr
	seenStride := make(map[*scev.Expr]bool)
	seenType := make(map[ir.Type]bool)
	for _, u := range lsr.ivUsers.Users() {
		e := u.Expr()
		if t := effectiveType(e.Type); !seenType[t] {
			seenType[t] = true
			lsr.types = append(lsr.types, t)
		}
		work := []*scev.Expr{e}
		for len(work) > 0 {
			s := work[len(work)-1]
			work = work[:len(work)-1]
			switch s.Kind {
			case scev.AddRecKind:
				if s.Loop == lsr.l {
					if step := lsr.a.Step(s); !seenStride[step] {
						seenStride[step] = true
						strides = append(strides, step)
					}
				}
				work = append(work, s.Start())
			case scev.AddKind:
				work = append(work, s.Ops...)
			}
		}
	}

	for i, oldStride := range strides {
		for _, newStride := range strides[i+1:] {
			o, n := oldStride, newStride
			switch {
			case o.Type.Bits > n.Type.Bits:
				n = lsr.a.SExt(n, o.Type)
			case o.Type.Bits < n.Type.Bits:
				o = lsr.a.SExt(o, n.Type)
			}
			if q := getExactSDiv(lsr.a, n, o, true); q != nil && q.IsConstant() {
				lsr.addFactor(q.Const)
			} else if q := getExactSDiv(lsr.a, o, n, true); q != nil && q.IsConstant() {
				lsr.addFactor(q.Const)
			}
		}
	}
	if len(lsr.types) == 1 {
		lsr.types = nil
	}
	lsr.log.collect.Debugf("%s: factors %v, types %v", lsr.log.collect.Module(), lsr.factors, lsr.types)
}

// collectFixupsAndInitialFormulae turns every IV user not taken by a chain
// into a fixup of some use, giving new uses their initial formula.
func (lsr *Instance) collectFixupsAndInitialFormulae() {
	for _, iu := range lsr.ivUsers.Users() {
		user, operand := iu.User, iu.Operand
		if lsr.ivIncSet[ivOperand{user, operand}] {
			lsr.log.collect.Debugf("%s: %s is in a profitable chain", lsr.log.collect.Module(), user.LongString())
			continue
		}
		kind, accessTy := Basic, ir.Void
		if isAddressUse(user, operand) {
			kind, accessTy = Address, accessType(user)
		}
		e := iu.Expr()
		postInc := iu.PostInc.Clone()

		// x == y  -->  y - x == 0
		if user.Op == ir.OpICmp && user.Cond().IsEquality() {
			if user.Args[1] == operand && user.Args[0] != operand {
				a0, a1 := user.Args[0], user.Args[1]
				user.SetArg(0, a1)
				user.SetArg(1, a0)
				lsr.changed = true
			}
			nv := user.Args[1]
			n := lsr.a.ToExpr(nv)
			if lsr.a.IsLoopInvariant(n, lsr.l) && lsr.a.IsSafeToExpand(n) &&
				(!nv.Type.IsPointer() || pointerBase(n) == pointerBase(e)) {
				n = lsr.a.Normalize(n, postInc)
				kind = ICmpZero
				e = lsr.a.Minus(n, e)
			}
			// Negated strides are interesting now.
			for _, c := range append([]int64(nil), lsr.factors...) {
				if c != -1 {
					lsr.addFactor(-c)
				}
			}
			lsr.addFactor(-1)
		}

		luIdx, offset := lsr.getUse(e, kind, accessTy)
		u := lsr.uses[luIdx]
		lsr.newFixup(luIdx, user, operand, postInc, offset)
		if len(u.Formulae) == 0 {
			lsr.insertInitialFormula(e, luIdx)
		}
	}
}

// collectLoopInvariantFixupsAndFormulae adds Basic uses for loop-invariant
// registers that are also needed by instructions the pass does not rewrite,
// so that the cost of keeping them live is accounted for.
func (lsr *Instance) collectLoopInvariantFixupsAndFormulae() {
	work := append([]*scev.Expr(nil), lsr.regUses.regs()...)
	visited := make(map[*scev.Expr]bool)
	for len(work) > 0 {
		s := work[len(work)-1]
		work = work[:len(work)-1]
		if visited[s] {
			continue
		}
		visited[s] = true
		if s.Kind != scev.UnknownKind {
			work = append(work, s.Ops...)
			continue
		}
		v := s.Value
		if v.Block != nil && lsr.l.Contains(v.Block) && !alwaysAvailableValue(v) {
			continue
		}
		for _, user := range lsr.f.Users(v) {
			useBlock := user.Block
			if user.Op == ir.OpPhi {
				for i, arg := range user.Args {
					if arg == v {
						useBlock = user.Block.Preds[i]
						break
					}
				}
			}
			if !lsr.dom.Dominates(lsr.l.Header, useBlock) || user.Op == ir.OpLandingPad {
				continue
			}
			if scev.IsSCEVable(user.Type) {
				us := lsr.a.ToExpr(user)
				// Parts of other expressions are analysed through them.
				if us.Kind != scev.UnknownKind {
					continue
				}
				if us == s {
					work = append(work, lsr.a.Unknown(user))
					continue
				}
			}
			if user.Op == ir.OpICmp {
				other := user.Args[0]
				if other == v {
					other = user.Args[1]
				}
				if lsr.a.HasComputableLoopEvolution(lsr.a.ToExpr(other), lsr.l) {
					continue
				}
			}
			luIdx, offset := lsr.getUse(s, Basic, ir.Void)
			lsr.newFixup(luIdx, user, v, nil, offset)
			lsr.insertSupplementalFormula(s, luIdx)
			break
		}
	}
}

// alwaysAvailableValue reports whether v is usable anywhere in the function.
func alwaysAvailableValue(v *ir.Value) bool {
	switch v.Op {
	case ir.OpConst, ir.OpFConst, ir.OpParam, ir.OpGlobal:
		return true
	}
	return false
}
