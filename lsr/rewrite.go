package lsr

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/scev"
)

// implementSolution rewrites every fixup to compute its chosen formula, then
// rewrites the chains.
func (lsr *Instance) implementSolution(solution []*Formula) {
	x := lsr.a.NewExpander("lsr")
	x.SetIVIncInsertPos(lsr.l, lsr.ivIncInsertPos)

	for _, fx := range lsr.fixups {
		lsr.rewrite(x, fx, solution[fx.LUIdx])
		lsr.changed = true
	}
	for _, c := range lsr.ivChains {
		lsr.generateIVChain(c, x)
		lsr.changed = true
	}
	lsr.log.rewrite.Debugf("%s: inserted %d values", lsr.log.rewrite.Module(), len(x.Inserted()))
}

// rewrite replaces the operand of one fixup with the expansion of f.
func (lsr *Instance) rewrite(x *scev.Expander, fx *Fixup, f *Formula) {
	u := lsr.uses[fx.LUIdx]
	user := fx.UserInst
	if user.Op == ir.OpPhi {
		lsr.rewriteForPHI(x, fx, f, u)
		return
	}

	opTy := fx.OperandValToReplace.Type
	fullV := lsr.expand(x, u, fx, f, scev.At(user))
	if fullV.Type != opTy {
		fullV = x.Convert(fullV, opTy, scev.At(user))
	}
	lsr.log.rewrite.Debugf("%s: %s: %s -> %s", lsr.log.rewrite.Module(), user.Name(), fx.OperandValToReplace.Name(), fullV.Name())
	if u.Kind == ICmpZero {
		user.SetArg(0, fullV)
	} else {
		for i, arg := range user.Args {
			if arg == fx.OperandValToReplace {
				user.SetArg(i, fullV)
			}
		}
	}
	lsr.deadInsts = append(lsr.deadInsts, fx.OperandValToReplace)
}

// rewriteForPHI expands f at the end of each predecessor feeding the operand
// into the phi, splitting critical edges so the code runs only on that
// edge.
func (lsr *Instance) rewriteForPHI(x *scev.Expander, fx *Fixup, f *Formula, u *Use) {
	phi := fx.UserInst
	opTy := fx.OperandValToReplace.Type
	inserted := make(map[*ir.Block]*ir.Value)
	for i := 0; i < len(phi.Args); i++ {
		if phi.Args[i] != fx.OperandValToReplace {
			continue
		}
		pred := phi.Block.Preds[i]
		if len(phi.Args) > 1 && ir.IsCriticalEdge(pred, phi.Block) {
			if pl := lsr.info.LoopFor(phi.Block); pl == nil || pl.Header != phi.Block {
				pred = lsr.splitCriticalEdge(pred, phi.Block)
			}
		}
		if v, ok := inserted[pred]; ok {
			phi.SetArg(i, v)
			continue
		}
		fullV := lsr.expand(x, u, fx, f, scev.AtEnd(pred))
		if fullV.Type != opTy {
			fullV = x.Convert(fullV, opTy, scev.AtEnd(pred))
		}
		phi.SetArg(i, fullV)
		inserted[pred] = fullV
	}
	lsr.deadInsts = append(lsr.deadInsts, fx.OperandValToReplace)
}

// splitCriticalEdge splits p -> s and keeps the dominator tree and loop
// info current.
func (lsr *Instance) splitCriticalEdge(p, s *ir.Block) *ir.Block {
	mid := lsr.f.SplitEdge(p, s)
	lsr.dom.AddBlock(mid, p)
	l := lsr.info.LoopFor(p)
	for l != nil && !l.Contains(s) {
		l = l.Parent
	}
	lsr.info.AddBlock(mid, l)
	lsr.log.rewrite.Debugf("%s: split edge %s -> %s at %s", lsr.log.rewrite.Module(), p, s, mid)
	return mid
}

// expand materialises f for fixup fx of use u near ip and returns the value
// to use in place of the operand.
func (lsr *Instance) expand(x *scev.Expander, u *Use, fx *Fixup, f *Formula, ip scev.InsertPoint) *ir.Value {
	if u.RigidFormula {
		return fx.OperandValToReplace
	}
	ip = lsr.adjustInsertPositionForExpand(x, ip, fx, u)

	opTy := fx.OperandValToReplace.Type
	intTy := effectiveType(opTy)
	ty := f.getType()
	if ty.Bits == 0 {
		ty = opTy
	}
	x.PostIncLoops = fx.PostIncLoops

	var ops []*scev.Expr
	flush := func() {
		if len(ops) == 0 {
			return
		}
		v := x.Expand(lsr.a.Add(ops...), ty, ip)
		ops = []*scev.Expr{lsr.a.Unknown(v)}
	}

	for _, reg := range f.BaseRegs {
		reg = lsr.a.Denormalize(reg, fx.PostIncLoops)
		ops = append(ops, lsr.a.Unknown(x.Expand(reg, ty, ip)))
	}

	var icmpScaledV *ir.Value
	if f.ScaledReg != nil {
		reg := lsr.a.Denormalize(f.ScaledReg, fx.PostIncLoops)
		switch {
		case u.Kind == ICmpZero && f.Scale == -1:
			// -1*reg moves to the other side of the compare.
			icmpScaledV = x.Expand(reg, ty, ip)
		case f.Scale == 1:
			ops = append(ops, lsr.a.Unknown(x.Expand(reg, ty, ip)))
		default:
			// Keep the addressing mode together for the memory access.
			if u.Kind == Address && isUseCompletelyFolded(lsr.tti, u, f) {
				flush()
			}
			scaled := lsr.a.Unknown(x.Expand(reg, ty, ip))
			ops = append(ops, lsr.a.Mul(scaled, lsr.a.Constant(effectiveType(scaled.Type), f.Scale)))
		}
	}

	if f.BaseGV != nil {
		flush()
		ops = append(ops, lsr.a.Unknown(f.BaseGV))
	}

	// Immediates are added last so they are not hoisted out of the
	// addressing mode.
	flush()
	if offset := f.BaseOffset + fx.Offset; offset != 0 {
		if u.Kind == ICmpZero {
			if icmpScaledV == nil {
				icmpScaledV = lsr.f.ConstInt(opTy, -offset)
			} else {
				ops = append(ops, lsr.a.Unknown(icmpScaledV))
				icmpScaledV = lsr.f.ConstInt(opTy, offset)
			}
		} else {
			ops = append(ops, lsr.a.Constant(intTy, offset))
		}
	}
	if f.UnfoldedOffset != 0 {
		ops = append(ops, lsr.a.Constant(intTy, f.UnfoldedOffset))
	}

	var full *scev.Expr
	if len(ops) == 0 {
		full = lsr.a.Zero(ty)
	} else {
		full = lsr.a.Add(ops...)
	}
	fullV := x.Expand(full, ty, ip)
	x.ClearPostInc()

	if u.Kind == ICmpZero {
		cmp := fx.UserInst
		lsr.deadInsts = append(lsr.deadInsts, cmp.Args[1])
		if icmpScaledV == nil {
			icmpScaledV = lsr.f.ConstInt(opTy, 0)
		} else if icmpScaledV.Type != opTy {
			icmpScaledV = x.Convert(icmpScaledV, opTy, ip)
		}
		cmp.SetArg(1, icmpScaledV)
	}
	return fullV
}

// insertInput is a position the expansion must come after: just after a
// value, or the end of a block when v is nil.
type insertInput struct {
	v   *ir.Value
	end *ir.Block
}

// dominatesEnd reports whether the input is available at the end of b
// without being the end of b itself.
func (in insertInput) dominatesEnd(dom *ir.DomTree, b *ir.Block) bool {
	if in.v != nil {
		return dom.DominatesBlockEnd(in.v, b)
	}
	return in.end != b && dom.Dominates(in.end, b)
}

// adjustInsertPositionForExpand moves ip as high up the dominator tree as the
// operands of the expansion allow, so that expansions for different fixups
// can be shared.
func (lsr *Instance) adjustInsertPositionForExpand(x *scev.Expander, ip scev.InsertPoint, fx *Fixup, u *Use) scev.InsertPoint {
	lowest := ip
	var inputs []insertInput
	if v := fx.OperandValToReplace; !alwaysAvailableValue(v) {
		inputs = append(inputs, insertInput{v: v})
	}
	if u.Kind == ICmpZero {
		if v := fx.UserInst.Args[1]; !alwaysAvailableValue(v) {
			inputs = append(inputs, insertInput{v: v})
		}
	}
	if fx.PostIncLoops[lsr.l] {
		switch {
		case fx.isUseFullyOutsideLoop(lsr.l), lsr.ivIncInsertPos == nil:
			inputs = append(inputs, insertInput{end: lsr.l.Latch()})
		default:
			inputs = append(inputs, insertInput{v: lsr.ivIncInsertPos})
		}
	}
	for pl := range fx.PostIncLoops {
		if pl == lsr.l {
			continue
		}
		if exiting := pl.ExitingBlocks(); len(exiting) > 0 {
			b := exiting[0]
			for _, e := range exiting[1:] {
				b = lsr.dom.LCA(b, e)
			}
			inputs = append(inputs, insertInput{end: b})
		}
	}

	ip = lsr.hoistInsertPosition(ip, inputs)

	if ip.Before != nil && ip.Before.Op == ir.OpPhi {
		ip.Before = ip.Block.FirstNonPhi()
	}
	for ip.Before != nil && ip.Before.Op == ir.OpLandingPad {
		ip.Before = nextValue(ip.Before)
	}
	// Stay below what the expander already inserted here so it can be
	// reused.
	for ip.Before != nil && x.IsInserted(ip.Before) && ip != lowest {
		ip.Before = nextValue(ip.Before)
	}
	return ip
}

// hoistInsertPosition climbs the dominator tree from ip, never into a loop,
// while every input is available at the end of the next dominator.
func (lsr *Instance) hoistInsertPosition(ip scev.InsertPoint, inputs []insertInput) scev.InsertPoint {
	for {
		ipLoop := lsr.info.LoopFor(ip.Block)
		ipDepth := 0
		if ipLoop != nil {
			ipDepth = ipLoop.Depth()
		}

		var idom *ir.Block
		for rung := ip.Block; ; rung = idom {
			idom = lsr.dom.Idom(rung)
			if idom == nil {
				return ip
			}
			idomLoop := lsr.info.LoopFor(idom)
			idomDepth := 0
			if idomLoop != nil {
				idomDepth = idomLoop.Depth()
			}
			if idomDepth <= ipDepth && (idomDepth != ipDepth || idomLoop == ipLoop) {
				break
			}
		}

		var better *ir.Value
		for _, in := range inputs {
			if !in.dominatesEnd(lsr.dom, idom) {
				return ip
			}
			// Prefer the middle of the block so later expansions share it.
			if in.v != nil && in.v.Block == idom && (better == nil || in.v.Index() >= better.Index()) {
				better = in.v
			}
		}
		if better != nil {
			ip = scev.InsertPoint{Block: idom, Before: nextValue(better)}
		} else {
			ip = scev.AtEnd(idom)
		}
	}
}

// nextValue returns the value after v in its block, or nil at the end.
func nextValue(v *ir.Value) *ir.Value {
	b := v.Block
	if i := v.Index(); i+1 < len(b.Values) {
		return b.Values[i+1]
	}
	return nil
}
