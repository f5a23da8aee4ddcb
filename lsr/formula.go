package lsr

import (
	"bytes"
	"fmt"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
)

// Formula is one way of computing the value a Use needs:
//
//	BaseGV + BaseOffset + sum(BaseRegs) + Scale*ScaledReg + UnfoldedOffset
//
// In canonical form a ScaledReg with Scale 1 comes with at least one base
// register, and without a ScaledReg there is at most one base register.
type Formula struct {
	BaseGV     *ir.Value
	BaseOffset int64
	HasBaseReg bool

	BaseRegs  []*scev.Expr
	ScaledReg *scev.Expr
	Scale     int64

	// UnfoldedOffset is an offset the target could not fold, added with a
	// separate instruction.
	UnfoldedOffset int64
}

// clone returns a copy of f that does not share its register slice.
func (f Formula) clone() Formula {
	f.BaseRegs = append([]*scev.Expr(nil), f.BaseRegs...)
	return f
}

// initialMatch builds f from e, putting the part of e available before the
// loop and the rest in separate base registers.
func (f *Formula) initialMatch(a *scev.Analysis, e *scev.Expr, l *loop.Loop) {
	var good, bad []*scev.Expr
	doInitialMatch(a, e, l, &good, &bad)
	if len(good) > 0 {
		if sum := a.Add(good...); !sum.IsZero() {
			f.BaseRegs = append(f.BaseRegs, sum)
			f.HasBaseReg = true
		}
	}
	if len(bad) > 0 {
		if sum := a.Add(bad...); !sum.IsZero() {
			f.BaseRegs = append(f.BaseRegs, sum)
			f.HasBaseReg = true
		}
	}
	f.canonicalize(l)
}

func doInitialMatch(a *scev.Analysis, e *scev.Expr, l *loop.Loop, good, bad *[]*scev.Expr) {
	if a.ProperlyDominates(e, l.Header) {
		*good = append(*good, e)
		return
	}
	switch e.Kind {
	case scev.AddKind:
		for _, op := range e.Ops {
			doInitialMatch(a, op, l, good, bad)
		}
		return
	case scev.AddRecKind:
		if !e.Start().IsZero() && e.IsAffine() {
			doInitialMatch(a, e.Start(), l, good, bad)
			doInitialMatch(a, a.Affine(a.Zero(e.Type), e.Ops[1], e.Loop), l, good, bad)
			return
		}
	case scev.MulKind:
		if e.Ops[0].IsAllOnes() {
			var g, b []*scev.Expr
			doInitialMatch(a, a.Negate(e), l, &g, &b)
			negOne := e.Ops[0]
			if len(g) > 0 {
				*good = append(*good, a.Mul(negOne, a.Add(g...)))
			}
			if len(b) > 0 {
				*bad = append(*bad, a.Mul(negOne, a.Add(b...)))
			}
			return
		}
	}
	*bad = append(*bad, e)
}

// isCanonical reports whether f is in canonical form for l.
func (f *Formula) isCanonical(l *loop.Loop) bool {
	if f.ScaledReg == nil {
		return len(f.BaseRegs) <= 1
	}
	if f.Scale != 1 {
		return true
	}
	if len(f.BaseRegs) == 0 {
		return false
	}
	if f.ScaledReg.IsAddRec() && f.ScaledReg.Loop == l {
		return true
	}
	for _, r := range f.BaseRegs {
		if r.IsAddRec() && r.Loop == l {
			return false
		}
	}
	return true
}

// canonicalize puts f in canonical form, keeping a recurrence of l in the
// scaled slot when there is one.
func (f *Formula) canonicalize(l *loop.Loop) {
	if f.isCanonical(l) {
		return
	}
	if len(f.BaseRegs) == 0 {
		// 1*reg is reg.
		f.BaseRegs = append(f.BaseRegs, f.ScaledReg)
		f.ScaledReg, f.Scale = nil, 0
		f.HasBaseReg = true
		return
	}
	if f.ScaledReg == nil {
		last := len(f.BaseRegs) - 1
		f.ScaledReg = f.BaseRegs[last]
		f.BaseRegs = f.BaseRegs[:last]
		f.Scale = 1
	}
	for i, r := range f.BaseRegs {
		if r.IsAddRec() && r.Loop == l {
			f.BaseRegs[i], f.ScaledReg = f.ScaledReg, r
			break
		}
	}
}

// unscale turns 1*reg back into a base register.
func (f *Formula) unscale() bool {
	if f.Scale != 1 {
		return false
	}
	f.Scale = 0
	f.BaseRegs = append(f.BaseRegs, f.ScaledReg)
	f.ScaledReg = nil
	f.HasBaseReg = true
	return true
}

// getNumRegs returns the number of registers f needs.
func (f *Formula) getNumRegs() int {
	n := len(f.BaseRegs)
	if f.ScaledReg != nil {
		n++
	}
	return n
}

// getType returns the type of the registers of f, or the zero Type.
func (f *Formula) getType() ir.Type {
	switch {
	case len(f.BaseRegs) > 0:
		return f.BaseRegs[0].Type
	case f.ScaledReg != nil:
		return f.ScaledReg.Type
	case f.BaseGV != nil:
		return f.BaseGV.Type
	}
	return ir.Type{}
}

// deleteBaseReg removes BaseRegs[i], not preserving order.
func (f *Formula) deleteBaseReg(i int) {
	last := len(f.BaseRegs) - 1
	f.BaseRegs[i] = f.BaseRegs[last]
	f.BaseRegs = f.BaseRegs[:last]
	f.HasBaseReg = last > 0
}

// referencesReg reports whether f uses reg.
func (f *Formula) referencesReg(reg *scev.Expr) bool {
	if f.ScaledReg == reg {
		return true
	}
	for _, r := range f.BaseRegs {
		if r == reg {
			return true
		}
	}
	return false
}

// regs returns every register of f.
func (f *Formula) regs() []*scev.Expr {
	rs := append([]*scev.Expr(nil), f.BaseRegs...)
	if f.ScaledReg != nil {
		rs = append(rs, f.ScaledReg)
	}
	return rs
}

// hasRegsUsedByUsesOtherThan reports whether some register of f is shared
// with another use.
func (f *Formula) hasRegsUsedByUsesOtherThan(luIdx int, tracker *RegUseTracker) bool {
	for _, r := range f.regs() {
		if tracker.isRegUsedByUsesOtherThan(r, luIdx) {
			return true
		}
	}
	return false
}

func (f *Formula) String() string {
	var buf bytes.Buffer
	sep := func() {
		if buf.Len() > 0 {
			buf.WriteString(" + ")
		}
	}
	if f.BaseGV != nil {
		buf.WriteString(f.BaseGV.Name())
	}
	if f.BaseOffset != 0 {
		sep()
		fmt.Fprintf(&buf, "%d", f.BaseOffset)
	}
	for _, r := range f.BaseRegs {
		sep()
		fmt.Fprintf(&buf, "reg(%s)", r)
	}
	if f.HasBaseReg && len(f.BaseRegs) == 0 {
		sep()
		buf.WriteString("**error: HasBaseReg**")
	} else if !f.HasBaseReg && len(f.BaseRegs) > 0 {
		sep()
		buf.WriteString("**error: !HasBaseReg**")
	}
	if f.Scale != 0 {
		sep()
		fmt.Fprintf(&buf, "%d*reg(", f.Scale)
		if f.ScaledReg != nil {
			buf.WriteString(f.ScaledReg.String())
		} else {
			buf.WriteString("<unknown>")
		}
		buf.WriteString(")")
	}
	if f.UnfoldedOffset != 0 {
		sep()
		fmt.Fprintf(&buf, "imm(%d)", f.UnfoldedOffset)
	}
	return buf.String()
}
