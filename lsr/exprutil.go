package lsr

import (
	"math"
	"math/bits"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
)

// containsAddRecDependentOnLoop reports whether e has a recurrence of l.
func containsAddRecDependentOnLoop(e *scev.Expr, l *loop.Loop) bool {
	return e.Contains(func(x *scev.Expr) bool {
		return x.Kind == scev.AddRecKind && x.Loop == l
	})
}

// extractImmediate splits the constant addend off e, returning it and the
// remainder.
func extractImmediate(a *scev.Analysis, e *scev.Expr) (int64, *scev.Expr) {
	switch e.Kind {
	case scev.ConstantKind:
		return e.Const, a.Zero(e.Type)
	case scev.AddKind:
		ops := append([]*scev.Expr(nil), e.Ops...)
		c, rest := extractImmediate(a, ops[0])
		if c != 0 {
			ops[0] = rest
			return c, a.Add(ops...)
		}
	case scev.AddRecKind:
		ops := append([]*scev.Expr(nil), e.Ops...)
		c, rest := extractImmediate(a, ops[0])
		if c != 0 {
			ops[0] = rest
			return c, a.AddRec(ops, e.Loop)
		}
	}
	return 0, e
}

// extractSymbol splits a global address addend off e.
func extractSymbol(a *scev.Analysis, e *scev.Expr) (*ir.Value, *scev.Expr) {
	switch e.Kind {
	case scev.UnknownKind:
		if e.IsSymbol() {
			return e.Value, a.Zero(e.Type)
		}
	case scev.AddKind:
		ops := append([]*scev.Expr(nil), e.Ops...)
		last := len(ops) - 1
		gv, rest := extractSymbol(a, ops[last])
		if gv != nil {
			ops[last] = rest
			return gv, retypeLike(a, a.Add(ops...), e)
		}
	case scev.AddRecKind:
		ops := append([]*scev.Expr(nil), e.Ops...)
		gv, rest := extractSymbol(a, ops[0])
		if gv != nil {
			ops[0] = rest
			return gv, a.AddRec(ops, e.Loop)
		}
	}
	return nil, e
}

// retypeLike keeps the pointer type of orig on a sum that lost its symbol.
func retypeLike(a *scev.Analysis, e, orig *scev.Expr) *scev.Expr {
	if e.IsZero() && e.Type != orig.Type {
		return a.Zero(orig.Type)
	}
	return e
}

// minSignedBits is the number of bits needed to hold c in two's complement.
func minSignedBits(c int64) int {
	if c < 0 {
		return bits.Len64(uint64(^c)) + 1
	}
	return bits.Len64(uint64(c)) + 1
}

// mulOverflows reports whether a*b overflows int64.
func mulOverflows(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return true
	}
	c := a * b
	return c/b != a
}

// addOverflows reports whether a+b overflows int64.
func addOverflows(a, b int64) bool {
	c := a + b
	return (c > a) != (b > 0)
}

// isAddRecSExtable reports whether sign extension distributes over rec
// without changing its value. Without wrap flags only full-width
// recurrences qualify.
func isAddRecSExtable(rec *scev.Expr) bool {
	return rec.Type.Bits >= 64
}

func isAddSExtable(e *scev.Expr) bool { return e.Type.Bits >= 64 }

func isMulSExtable(e *scev.Expr) bool { return e.Type.Bits >= 64 }

// getExactSDiv returns lhs/rhs if the division is exact, or nil. When
// ignoreSignificantBits is set, overflow in the operands is tolerated.
func getExactSDiv(a *scev.Analysis, lhs, rhs *scev.Expr, ignoreSignificantBits bool) *scev.Expr {
	if lhs == rhs {
		return a.Constant(lhs.Type, 1)
	}
	if rhs.IsOne() {
		return lhs
	}
	if rhs.IsAllOnes() {
		if lhs.IsConstant() && lhs.Const == math.MinInt64 {
			return nil
		}
		return a.Negate(lhs)
	}
	if rhs.IsConstant() {
		if rhs.Const == 0 {
			return nil
		}
		if lhs.IsConstant() {
			if lhs.Const%rhs.Const != 0 {
				return nil
			}
			if lhs.Const == math.MinInt64 && rhs.Const == -1 {
				return nil
			}
			return a.Constant(lhs.Type, lhs.Const/rhs.Const)
		}
	}
	switch lhs.Kind {
	case scev.AddRecKind:
		if ignoreSignificantBits || isAddRecSExtable(lhs) {
			ops := make([]*scev.Expr, len(lhs.Ops))
			for i, op := range lhs.Ops {
				q := getExactSDiv(a, op, rhs, ignoreSignificantBits)
				if q == nil {
					return nil
				}
				ops[i] = q
			}
			return a.AddRec(ops, lhs.Loop)
		}
	case scev.AddKind:
		if ignoreSignificantBits || isAddSExtable(lhs) {
			ops := make([]*scev.Expr, len(lhs.Ops))
			for i, op := range lhs.Ops {
				q := getExactSDiv(a, op, rhs, ignoreSignificantBits)
				if q == nil {
					return nil
				}
				ops[i] = q
			}
			return a.Add(ops...)
		}
	case scev.MulKind:
		if ignoreSignificantBits || isMulSExtable(lhs) {
			// Divide out of one factor.
			for i, op := range lhs.Ops {
				q := getExactSDiv(a, op, rhs, ignoreSignificantBits)
				if q == nil {
					continue
				}
				ops := append([]*scev.Expr(nil), lhs.Ops...)
				ops[i] = q
				return a.Mul(ops...)
			}
		}
	}
	return nil
}

// isExistingPhi reports whether rec is already computed by a header phi.
func isExistingPhi(a *scev.Analysis, rec *scev.Expr) bool {
	for _, p := range rec.Loop.Header.Phis() {
		if scev.IsSCEVable(p.Type) && a.ToExpr(p) == rec {
			return true
		}
	}
	return false
}

// isHighCostExpansion reports whether materialising e needs more than a
// trivial amount of new code.
func isHighCostExpansion(a *scev.Analysis, e *scev.Expr, processed map[*scev.Expr]bool) bool {
	if processed[e] {
		return false
	}
	processed[e] = true
	switch e.Kind {
	case scev.ConstantKind, scev.UnknownKind:
		return false
	case scev.TruncKind, scev.ZExtKind, scev.SExtKind:
		return isHighCostExpansion(a, e.Ops[0], processed)
	case scev.AddKind:
		for _, op := range e.Ops {
			if isHighCostExpansion(a, op, processed) {
				return true
			}
		}
		return false
	case scev.MulKind:
		// A multiply by a power of two is a shift.
		if len(e.Ops) == 2 && e.Ops[0].IsConstant() && e.Ops[0].Const > 0 &&
			bits.OnesCount64(uint64(e.Ops[0].Const)) == 1 {
			return isHighCostExpansion(a, e.Ops[1], processed)
		}
		// Cheap if some value already computes this product.
		for _, op := range e.Ops {
			if op.Kind != scev.UnknownKind {
				continue
			}
			for _, u := range a.Func().Users(op.Value) {
				if scev.IsSCEVable(u.Type) && a.ToExpr(u) == e {
					return false
				}
			}
		}
		return true
	case scev.AddRecKind:
		return !isExistingPhi(a, e)
	}
	// UDiv and anything unknown.
	return true
}
