package lsr

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/scev"
)

// mantissaBits is the number of integer bits a float type represents
// exactly, or -1.
func mantissaBits(t ir.Type) int {
	switch {
	case t.Kind != ir.FloatKind:
		return -1
	case t.Bits == 32:
		return 24
	case t.Bits == 64:
		return 53
	}
	return -1
}

// optimizeShadowIV replaces an int-to-float conversion of a counted induction
// variable with a floating-point induction variable advancing in step.
func (lsr *Instance) optimizeShadowIV() {
	if lsr.a.BackedgeTakenCount(lsr.l).Kind == scev.CouldNotComputeKind {
		return
	}
	header := lsr.l.Header
	pre, latch := lsr.l.Preheader(), lsr.l.Latch()
	for _, u := range lsr.ivUsers.Users() {
		cast := u.User
		if cast.Op != ir.OpSIToFP && cast.Op != ir.OpUIToFP {
			continue
		}
		phi := u.Operand
		if phi.Op != ir.OpPhi || phi.Block != header || len(header.Preds) != 2 {
			continue
		}
		if m := mantissaBits(cast.Type); m < 0 || int(phi.Type.Bits) > m {
			continue
		}

		init, incr := phi.PhiIncoming(pre), phi.PhiIncoming(latch)
		if init == nil || incr == nil || !init.IsConst() {
			continue
		}
		if cast.Op == ir.OpUIToFP && init.AuxInt < 0 {
			continue
		}
		var step int64
		switch {
		case incr.Op == ir.OpAdd && incr.Args[0] == phi && incr.Args[1].IsConst():
			step = incr.Args[1].AuxInt
		case incr.Op == ir.OpAdd && incr.Args[1] == phi && incr.Args[0].IsConst():
			step = incr.Args[0].AuxInt
		case incr.Op == ir.OpSub && incr.Args[0] == phi && incr.Args[1].IsConst():
			step = -incr.Args[1].AuxInt
		default:
			continue
		}

		start := lsr.f.ConstFloat(cast.Type, float64(init.AuxInt))
		fphi := header.NewPhi(cast.Type, start, start)
		finc := incr.Block.NewValueBefore(incr, ir.OpFAdd, cast.Type, fphi, lsr.f.ConstFloat(cast.Type, float64(step)))
		fphi.SetArg(header.PredIndex(latch), finc)

		lsr.log.collect.Debugf("%s: shadow IV %s for %s", lsr.log.collect.Module(), fphi.LongString(), cast.LongString())
		lsr.f.ReplaceAllUses(cast, fphi)
		lsr.deadInsts = append(lsr.deadInsts, cast)
		u.absorbed = true
		lsr.changed = true
	}
}

// optimizeLoopTermCond rewrites the exit compare of the latch to test the
// incremented induction value, so that the old value is dead once the
// increment is computed. New increments are then placed just before the
// compare.
func (lsr *Instance) optimizeLoopTermCond() {
	latch := lsr.l.Latch()
	cond := latch.Control
	if cond == nil || cond.Op != ir.OpICmp || cond.Block != latch {
		return
	}
	exits := false
	for _, s := range latch.Succs {
		if !lsr.l.Contains(s) {
			exits = true
		}
	}
	if !exits {
		return
	}
	var u *IVUser
	for _, arg := range cond.Args {
		if u = lsr.ivUsers.find(cond, arg); u != nil {
			break
		}
	}
	if u == nil || u.PostInc[lsr.l] {
		return
	}
	if !u.expr.IsAddRec() || u.expr.Loop != lsr.l {
		return
	}
	if cond.Uses != 1 {
		// Other users keep the compare; the branch gets its own copy.
		clone := latch.NewValue(ir.OpICmp, ir.I1, cond.Args...)
		clone.AuxInt = cond.AuxInt
		latch.SetControl(clone)
		u = lsr.ivUsers.addUser(clone, u.Operand, u.expr)
		cond = clone
		lsr.changed = true
	} else {
		latch.MoveBefore(cond, nil)
	}
	u.transformToPostInc(lsr.a, lsr.l)
	lsr.ivIncInsertPos = cond
	lsr.log.collect.Debugf("%s: post-inc exit compare %s", lsr.log.collect.Module(), cond.LongString())
}
