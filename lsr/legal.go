package lsr

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/scev"
	"github.com/nickng/lsr/target"
)

// isAMCompletelyFolded reports whether a use of the given kind can absorb
// gv + offset + base + scale*reg without extra instructions.
func isAMCompletelyFolded(tti target.Oracle, kind UseKind, accessTy ir.Type, gv *ir.Value, offset int64, hasBaseReg bool, scale int64) bool {
	switch kind {
	case Address:
		return tti.IsLegalAddressingMode(accessTy, gv, offset, hasBaseReg, scale)

	case ICmpZero:
		// No compare takes a symbol.
		if gv != nil {
			return false
		}
		// A compare has two operands.
		if scale != 0 && hasBaseReg && offset != 0 {
			return false
		}
		// -1*reg is folded by moving reg to the other operand.
		if scale != 0 && scale != -1 {
			return false
		}
		if offset != 0 {
			// base + off == 0   =>  cmp base, -off
			// -1*reg + off == 0 =>  cmp reg, off
			if scale == 0 {
				offset = -offset
			}
			return tti.IsLegalICmpImmediate(offset)
		}
		return true

	case Basic:
		return gv == nil && scale == 0 && offset == 0

	case Special:
		return gv == nil && (scale == 0 || scale == -1) && offset == 0
	}
	return false
}

// isAMCompletelyFoldedRange checks the fold at both ends of an offset range.
func isAMCompletelyFoldedRange(tti target.Oracle, minOffset, maxOffset int64, kind UseKind, accessTy ir.Type, gv *ir.Value, offset int64, hasBaseReg bool, scale int64) bool {
	if addOverflows(offset, minOffset) || addOverflows(offset, maxOffset) {
		return false
	}
	// 1*reg without a base is a base register.
	if !hasBaseReg && scale == 1 {
		scale = 0
		hasBaseReg = true
	}
	return isAMCompletelyFolded(tti, kind, accessTy, gv, offset+minOffset, hasBaseReg, scale) &&
		isAMCompletelyFolded(tti, kind, accessTy, gv, offset+maxOffset, hasBaseReg, scale)
}

// isLegalUse reports whether f can serve a use with the given offset range.
// A scale of 1 is a second base register: it is legal when the fold works
// with one base register and an extra add, which the cost model charges.
func isLegalUse(tti target.Oracle, minOffset, maxOffset int64, kind UseKind, accessTy ir.Type, f *Formula) bool {
	if isAMCompletelyFoldedRange(tti, minOffset, maxOffset, kind, accessTy, f.BaseGV, f.BaseOffset, f.HasBaseReg, f.Scale) {
		return true
	}
	if f.Scale == 1 {
		return isAMCompletelyFoldedRange(tti, minOffset, maxOffset, kind, accessTy, f.BaseGV, f.BaseOffset, true, 0)
	}
	return false
}

func isLegalUseOf(tti target.Oracle, u *Use, f *Formula) bool {
	return isLegalUse(tti, u.MinOffset, u.MaxOffset, u.Kind, u.AccessTy, f)
}

func isUseCompletelyFolded(tti target.Oracle, u *Use, f *Formula) bool {
	return isAMCompletelyFoldedRange(tti, u.MinOffset, u.MaxOffset, u.Kind, u.AccessTy, f.BaseGV, f.BaseOffset, f.HasBaseReg, f.Scale)
}

// isAlwaysFoldableOffset reports whether gv + offset folds into any use of
// the kind.
func isAlwaysFoldableOffset(tti target.Oracle, kind UseKind, accessTy ir.Type, gv *ir.Value, offset int64, hasBaseReg bool) bool {
	if offset == 0 && gv == nil {
		return true
	}
	scale := int64(1)
	if kind == ICmpZero {
		scale = -1
	}
	if !hasBaseReg && scale == 1 {
		scale = 0
		hasBaseReg = true
	}
	return isAMCompletelyFolded(tti, kind, accessTy, gv, offset, hasBaseReg, scale)
}

// isAlwaysFoldable reports whether e, a constant or symbol, folds into a
// use of the kind over the whole offset range.
func isAlwaysFoldable(tti target.Oracle, a *scev.Analysis, minOffset, maxOffset int64, kind UseKind, accessTy ir.Type, e *scev.Expr, hasBaseReg bool) bool {
	if e.IsZero() {
		return true
	}
	offset, e := extractImmediate(a, e)
	gv, e := extractSymbol(a, e)
	if !e.IsZero() {
		return false
	}
	if offset == 0 && gv == nil {
		return true
	}
	scale := int64(1)
	if kind == ICmpZero {
		scale = -1
	}
	return isAMCompletelyFoldedRange(tti, minOffset, maxOffset, kind, accessTy, gv, offset, hasBaseReg, scale)
}

// getScalingFactorCost is the target's price of the scaled register of f.
func getScalingFactorCost(tti target.Oracle, u *Use, f *Formula) int {
	if f.Scale == 0 {
		return 0
	}
	if u.Kind != Address {
		// Everything is folded into the instruction.
		return 0
	}
	lo := tti.ScalingFactorCost(u.AccessTy, f.BaseGV, f.BaseOffset+u.MinOffset, f.HasBaseReg, f.Scale)
	hi := tti.ScalingFactorCost(u.AccessTy, f.BaseGV, f.BaseOffset+u.MaxOffset, f.HasBaseReg, f.Scale)
	if lo < 0 || hi < 0 {
		// Not folded; the multiply is paid for elsewhere.
		return 0
	}
	if hi > lo {
		return hi
	}
	return lo
}
