package scev

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
)

// ToExpr returns the expression computed by v.
func (a *Analysis) ToExpr(v *ir.Value) *Expr {
	if e, ok := a.values[v]; ok {
		return e
	}
	e := a.createExpr(v)
	a.values[v] = e
	return e
}

// Forget drops the cached expression of v, e.g. after v was rewritten.
func (a *Analysis) Forget(v *ir.Value) { delete(a.values, v) }

// IsSCEVable reports whether values of t can be analysed.
func IsSCEVable(t ir.Type) bool { return t.IsInteger() }

func (a *Analysis) createExpr(v *ir.Value) *Expr {
	if !IsSCEVable(v.Type) {
		return a.Unknown(v)
	}
	switch v.Op {
	case ir.OpConst:
		return a.Constant(v.Type, v.AuxInt)
	case ir.OpAdd:
		return a.Add(a.ToExpr(v.Args[0]), a.ToExpr(v.Args[1]))
	case ir.OpSub:
		return a.Minus(a.ToExpr(v.Args[0]), a.ToExpr(v.Args[1]))
	case ir.OpMul:
		return a.Mul(a.ToExpr(v.Args[0]), a.ToExpr(v.Args[1]))
	case ir.OpShl:
		if c := v.Args[1]; c.Op == ir.OpConst && c.AuxInt >= 0 && c.AuxInt < int64(v.Type.Bits) {
			return a.Mul(a.ToExpr(v.Args[0]), a.Constant(v.Type, int64(1)<<uint(c.AuxInt)))
		}
	case ir.OpUDiv:
		return a.UDiv(a.ToExpr(v.Args[0]), a.ToExpr(v.Args[1]))
	case ir.OpTrunc:
		return a.Trunc(a.ToExpr(v.Args[0]), v.Type)
	case ir.OpSExt:
		return a.SExt(a.ToExpr(v.Args[0]), v.Type)
	case ir.OpZExt:
		return a.ZExt(a.ToExpr(v.Args[0]), v.Type)
	case ir.OpPhi:
		return a.createNodeForPhi(v)
	}
	return a.Unknown(v)
}

// createNodeForPhi recognises header phis of the form
// phi(start, phi + step) with step invariant in the loop.
func (a *Analysis) createNodeForPhi(phi *ir.Value) *Expr {
	sym := a.Unknown(phi)
	l := a.loops.LoopFor(phi.Block)
	if l == nil || l.Header != phi.Block || len(phi.Args) != 2 {
		return sym
	}
	var start, be *ir.Value
	for i, p := range phi.Block.Preds {
		if l.Contains(p) {
			if be != nil {
				return sym
			}
			be = phi.Args[i]
		} else {
			if start != nil {
				return sym
			}
			start = phi.Args[i]
		}
	}
	if start == nil || be == nil {
		return sym
	}
	// Evaluate the back edge with the phi standing for itself.
	a.values[phi] = sym
	beExpr := a.ToExpr(be)
	var rec *Expr
	if beExpr.Kind == AddKind {
		var rest []*Expr
		found := false
		for _, op := range beExpr.Ops {
			if op == sym && !found {
				found = true
				continue
			}
			rest = append(rest, op)
		}
		if found && len(rest) > 0 {
			step := a.Add(rest...)
			if a.IsLoopInvariant(step, l) {
				rec = a.Affine(a.ToExpr(start), step, l)
			}
		}
	}
	if rec == nil {
		return sym
	}
	// Anything derived from the placeholder is stale now.
	for v, e := range a.values {
		if v != phi && e.Contains(func(x *Expr) bool { return x == sym }) {
			delete(a.values, v)
		}
	}
	return rec
}

// Disposition is the behaviour of an expression with respect to a loop.
type Disposition uint8

const (
	LoopVariant Disposition = iota
	LoopInvariant
	LoopComputable
)

// LoopDisposition classifies e with respect to l.
func (a *Analysis) LoopDisposition(e *Expr, l *loop.Loop) Disposition {
	switch e.Kind {
	case ConstantKind:
		return LoopInvariant
	case UnknownKind:
		if l != nil && l.ContainsValue(e.Value) {
			return LoopVariant
		}
		return LoopInvariant
	case AddRecKind:
		if l == nil {
			return LoopVariant
		}
		if e.Loop != l && l.ContainsLoop(e.Loop) {
			return LoopVariant
		}
		for _, op := range e.Ops {
			if !a.IsLoopInvariant(op, l) {
				return LoopVariant
			}
		}
		if e.Loop == l {
			return LoopComputable
		}
		if e.Loop.ContainsLoop(l) {
			return LoopInvariant
		}
		return LoopInvariant
	case CouldNotComputeKind:
		return LoopVariant
	}
	d := LoopInvariant
	for _, op := range e.Ops {
		switch a.LoopDisposition(op, l) {
		case LoopVariant:
			return LoopVariant
		case LoopComputable:
			d = LoopComputable
		}
	}
	return d
}

// IsLoopInvariant reports whether e has the same value on every iteration
// of l.
func (a *Analysis) IsLoopInvariant(e *Expr, l *loop.Loop) bool {
	return a.LoopDisposition(e, l) == LoopInvariant
}

// HasComputableLoopEvolution reports whether e varies predictably in l.
func (a *Analysis) HasComputableLoopEvolution(e *Expr, l *loop.Loop) bool {
	return a.LoopDisposition(e, l) == LoopComputable
}

func alwaysAvailable(v *ir.Value) bool {
	switch v.Op {
	case ir.OpConst, ir.OpFConst, ir.OpParam, ir.OpGlobal:
		return true
	}
	return false
}

// ProperlyDominates reports whether e is available on entry to b.
func (a *Analysis) ProperlyDominates(e *Expr, b *ir.Block) bool {
	switch e.Kind {
	case ConstantKind:
		return true
	case UnknownKind:
		if alwaysAvailable(e.Value) {
			return true
		}
		return e.Value.Block != nil && a.dom.StrictlyDominates(e.Value.Block, b)
	case AddRecKind:
		if !a.dom.StrictlyDominates(e.Loop.Header, b) {
			return false
		}
	case CouldNotComputeKind:
		return false
	}
	for _, op := range e.Ops {
		if !a.ProperlyDominates(op, b) {
			return false
		}
	}
	return true
}

// Dominates reports whether e is available at the end of b.
func (a *Analysis) Dominates(e *Expr, b *ir.Block) bool {
	switch e.Kind {
	case ConstantKind:
		return true
	case UnknownKind:
		if alwaysAvailable(e.Value) {
			return true
		}
		return e.Value.Block != nil && a.dom.Dominates(e.Value.Block, b)
	case AddRecKind:
		if !a.dom.Dominates(e.Loop.Header, b) {
			return false
		}
	case CouldNotComputeKind:
		return false
	}
	for _, op := range e.Ops {
		if !a.Dominates(op, b) {
			return false
		}
	}
	return true
}

// BackedgeTakenCount returns the number of times the back edge of l is
// taken, or CouldNotCompute. Only a latch-exiting compare of an affine
// recurrence against an invariant bound is understood.
func (a *Analysis) BackedgeTakenCount(l *loop.Loop) *Expr {
	latch := l.Latch()
	exiting := l.ExitingBlocks()
	if latch == nil || len(exiting) != 1 || exiting[0] != latch || latch.Kind != ir.BlockIf {
		return a.cnc
	}
	cmp := latch.Control
	if cmp.Op != ir.OpICmp {
		return a.cnc
	}
	cond := cmp.Cond()
	if !l.Contains(latch.Succs[0]) {
		cond = cond.Inverse() // loop continues while cond holds
	}
	lhs, rhs := a.ToExpr(cmp.Args[0]), a.ToExpr(cmp.Args[1])
	if !lhs.IsAddRec() {
		lhs, rhs = rhs, lhs
		cond = cond.Swapped()
	}
	if !lhs.IsAffine() || lhs.Loop != l || !a.IsLoopInvariant(rhs, l) {
		return a.cnc
	}
	start, step := lhs.Start(), lhs.Ops[1]
	if !step.IsConstant() || step.Const == 0 {
		return a.cnc
	}
	s := step.Const
	switch cond {
	case ir.CondNE:
		// Exits on the first k with start + s*k == rhs.
		diff := a.Minus(rhs, start)
		switch {
		case s == 1:
			return diff
		case s == -1:
			return a.Negate(diff)
		case diff.IsConstant() && diff.Const%s == 0 && diff.Const/s >= 0:
			return a.Constant(diff.Type, diff.Const/s)
		}
	case ir.CondSLT, ir.CondULT:
		if s > 0 && start.IsConstant() && rhs.IsConstant() {
			if start.Const >= rhs.Const {
				return a.Zero(lhs.Type)
			}
			return a.Constant(lhs.Type, (rhs.Const-start.Const+s-1)/s)
		}
	case ir.CondSGT, ir.CondUGT:
		if s < 0 && start.IsConstant() && rhs.IsConstant() {
			if start.Const <= rhs.Const {
				return a.Zero(lhs.Type)
			}
			return a.Constant(lhs.Type, (start.Const-rhs.Const-s-1)/-s)
		}
	}
	return a.cnc
}

// Normalize rewrites recurrences of the loops in set from post-increment to
// pre-increment form: {a,+,s} becomes {a-s,+,s}.
func (a *Analysis) Normalize(e *Expr, set LoopSet) *Expr {
	return a.transformForPostInc(e, set, false)
}

// Denormalize is the inverse of Normalize.
func (a *Analysis) Denormalize(e *Expr, set LoopSet) *Expr {
	return a.transformForPostInc(e, set, true)
}

func (a *Analysis) transformForPostInc(e *Expr, set LoopSet, denorm bool) *Expr {
	if len(set) == 0 {
		return e
	}
	switch e.Kind {
	case AddRecKind:
		ops := make([]*Expr, len(e.Ops))
		for i, op := range e.Ops {
			ops[i] = a.transformForPostInc(op, set, denorm)
		}
		if set[e.Loop] && len(ops) == 2 {
			if denorm {
				ops[0] = a.Add(ops[0], ops[1])
			} else {
				ops[0] = a.Minus(ops[0], ops[1])
			}
		}
		return a.AddRec(ops, e.Loop)
	case AddKind, MulKind:
		ops := make([]*Expr, len(e.Ops))
		for i, op := range e.Ops {
			ops[i] = a.transformForPostInc(op, set, denorm)
		}
		if e.Kind == AddKind {
			return a.Add(ops...)
		}
		return a.Mul(ops...)
	case TruncKind:
		return a.Trunc(a.transformForPostInc(e.Ops[0], set, denorm), e.Type)
	case SExtKind:
		return a.SExt(a.transformForPostInc(e.Ops[0], set, denorm), e.Type)
	case ZExtKind:
		return a.ZExt(a.transformForPostInc(e.Ops[0], set, denorm), e.Type)
	}
	return e
}

// IsSafeToExpand reports whether e can be rematerialised as code. Division
// by a value that may be zero cannot.
func (a *Analysis) IsSafeToExpand(e *Expr) bool {
	return !e.Contains(func(x *Expr) bool {
		if x.Kind == CouldNotComputeKind {
			return true
		}
		if x.Kind == UDivKind {
			d := x.Ops[1]
			return !(d.IsConstant() && d.Const != 0)
		}
		return false
	})
}
