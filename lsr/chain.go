package lsr

import (
	"bytes"
	"fmt"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/scev"
)

// ivInc is one link of an IV chain: operand of user is computed from the
// previous link by adding incExpr.
type ivInc struct {
	user    *ir.Value
	operand *ir.Value
	incExpr *scev.Expr
}

// ivChain is a sequence of IV users in program order whose operands differ
// by loop-invariant increments. The head computes its operand in full; the
// other links are rewritten as increments of the link before.
type ivChain struct {
	incs     []ivInc
	exprBase *scev.Expr
}

func (c *ivChain) tail() ivInc { return c.incs[len(c.incs)-1] }

// links returns the increments after the head.
func (c *ivChain) links() []ivInc { return c.incs[1:] }

func (c *ivChain) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "IV chain (base %s):", c.exprBase)
	for i, inc := range c.incs {
		if i == 0 {
			fmt.Fprintf(&buf, " head %s", inc.user.Name())
			continue
		}
		fmt.Fprintf(&buf, " -> %s +%s", inc.user.Name(), inc.incExpr)
	}
	return buf.String()
}

// chainUsers tracks the instructions that use values of a chain without
// being part of it. nearUsers use the most recent link; farUsers use a value
// the chain has moved past, which the chain would need to keep alive.
type chainUsers struct {
	nearUsers map[*ir.Value]bool
	farUsers  map[*ir.Value]bool
}

func newChainUsers() *chainUsers {
	return &chainUsers{nearUsers: make(map[*ir.Value]bool), farUsers: make(map[*ir.Value]bool)}
}

// getExprBase returns the symbolic base of e with scaled terms and constant
// offsets stripped, or nil when there is none.
func getExprBase(e *scev.Expr) *scev.Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case scev.ConstantKind:
		return nil
	case scev.TruncKind, scev.ZExtKind, scev.SExtKind:
		return getExprBase(e.Ops[0])
	case scev.AddKind:
		for i := len(e.Ops) - 1; i >= 0; i-- {
			op := e.Ops[i]
			if op.Kind == scev.AddKind {
				return getExprBase(op)
			}
			if op.Kind != scev.MulKind {
				return op
			}
		}
		return e
	case scev.AddRecKind:
		return getExprBase(e.Start())
	}
	return e
}

// getWideOperand looks through a truncation of an induction variable.
func getWideOperand(v *ir.Value) *ir.Value {
	if v.Op == ir.OpTrunc {
		return v.Args[0]
	}
	return v
}

func isCompatibleIVType(a, b *ir.Value) bool {
	if a.Type.IsPointer() != b.Type.IsPointer() {
		return false
	}
	return a.Type.Bits == b.Type.Bits
}

// isProfitableIncrement reports whether operExpr is worth computing by
// adding incExpr to the tail of c.
func (lsr *Instance) isProfitableIncrement(c *ivChain, operExpr, incExpr *scev.Expr) bool {
	if lsr.cfg.StressIVChain {
		return true
	}
	// A constant distance from the head is better than a variable step.
	if !incExpr.IsConstant() {
		head := lsr.a.ToExpr(getWideOperand(c.incs[0].operand))
		if lsr.a.Minus(operExpr, head).IsConstant() {
			return false
		}
	}
	return !isHighCostExpansion(lsr.a, incExpr, make(map[*scev.Expr]bool))
}

// findIVOperands returns the operands of v that are recurrences of the loop.
func (lsr *Instance) findIVOperands(v *ir.Value) []*ir.Value {
	var ops []*ir.Value
	seen := make(map[*ir.Value]bool)
	for _, arg := range v.Args {
		if seen[arg] || !scev.IsSCEVable(arg.Type) {
			continue
		}
		seen[arg] = true
		if e := lsr.a.ToExpr(arg); e.IsAddRec() && e.Loop == lsr.l {
			ops = append(ops, arg)
		}
	}
	return ops
}

// collectChains walks the dominator path from the header to the latch in
// program order and groups the IV operands into chains, then keeps the
// profitable ones.
func (lsr *Instance) collectChains() {
	var latchPath []*ir.Block
	for b := lsr.l.Latch(); b != lsr.l.Header; b = lsr.dom.Idom(b) {
		latchPath = append(latchPath, b)
	}
	latchPath = append(latchPath, lsr.l.Header)

	var users []*chainUsers
	for i := len(latchPath) - 1; i >= 0; i-- {
		for _, v := range latchPath[i].Values {
			if v.Op == ir.OpPhi || !lsr.ivUsers.isIVUserOrOperand(v) {
				continue
			}
			// Only leaf users; parts of expressions are found through them.
			if scev.IsSCEVable(v.Type) && lsr.a.ToExpr(v).Kind != scev.UnknownKind {
				continue
			}
			for _, cu := range users {
				delete(cu.nearUsers, v)
			}
			for _, op := range lsr.findIVOperands(v) {
				users = lsr.chainInstruction(v, op, users)
			}
		}
	}

	// The backedge value of a phi can end a chain.
	latch := lsr.l.Latch()
	for _, phi := range lsr.l.Header.Phis() {
		if !scev.IsSCEVable(phi.Type) {
			continue
		}
		if inc := phi.PhiIncoming(latch); inc != nil && !alwaysAvailableValue(inc) {
			users = lsr.chainInstruction(phi, inc, users)
		}
	}

	var kept []*ivChain
	for i, c := range lsr.ivChains {
		if lsr.cfg.DropUnprofitableChains && !lsr.isProfitableChain(c, users[i].farUsers) {
			continue
		}
		lsr.finalizeChain(c)
		kept = append(kept, c)
	}
	lsr.ivChains = kept
}

// chainInstruction adds (user, operand) to a chain it extends profitably,
// or starts a new chain.
func (lsr *Instance) chainInstruction(user, operand *ir.Value, users []*chainUsers) []*chainUsers {
	nextIV := getWideOperand(operand)
	operExpr := lsr.a.ToExpr(nextIV)
	operBase := getExprBase(operExpr)

	idx := -1
	var lastIncExpr *scev.Expr
	for i, c := range lsr.ivChains {
		if getExprBase(c.exprBase) != operBase {
			continue
		}
		prevIV := getWideOperand(c.tail().operand)
		if !isCompatibleIVType(prevIV, nextIV) {
			continue
		}
		// A phi ends a chain.
		if user.Op == ir.OpPhi && c.tail().user.Op == ir.OpPhi {
			continue
		}
		if len(c.incs) >= lsr.cfg.MaxIVChainUsers && !lsr.cfg.StressIVChain {
			continue
		}
		incExpr := lsr.a.Minus(operExpr, lsr.a.ToExpr(prevIV))
		if !lsr.a.IsLoopInvariant(incExpr, lsr.l) {
			continue
		}
		if lsr.isProfitableIncrement(c, operExpr, incExpr) {
			idx, lastIncExpr = i, incExpr
			break
		}
	}

	if idx < 0 {
		if user.Op == ir.OpPhi {
			return users
		}
		if len(lsr.ivChains) >= lsr.cfg.MaxChains && !lsr.cfg.StressIVChain {
			lsr.log.chain.Debugf("%s: chain limit reached", lsr.log.chain.Module())
			return users
		}
		// Chains start at a recurrence, not at an extension of one.
		if !operExpr.IsAddRec() {
			return users
		}
		lastIncExpr = operExpr
		lsr.ivChains = append(lsr.ivChains, &ivChain{
			incs:     []ivInc{{user: user, operand: operand, incExpr: lastIncExpr}},
			exprBase: operBase,
		})
		users = append(users, newChainUsers())
		idx = len(lsr.ivChains) - 1
		lsr.log.chain.Debugf("%s: new chain at %s", lsr.log.chain.Module(), user.LongString())
	} else {
		lsr.ivChains[idx].incs = append(lsr.ivChains[idx].incs, ivInc{user: user, operand: operand, incExpr: lastIncExpr})
		lsr.log.chain.Debugf("%s: chain %d + %s at %s", lsr.log.chain.Module(), idx, lastIncExpr, user.LongString())
	}

	c, cu := lsr.ivChains[idx], users[idx]
	// Users of the previous link now need a value the chain has moved past.
	if !lastIncExpr.IsZero() {
		for v := range cu.nearUsers {
			cu.farUsers[v] = true
		}
		cu.nearUsers = make(map[*ir.Value]bool)
	}
	for _, other := range lsr.f.Users(operand) {
		inChain := false
		for _, inc := range c.incs {
			if inc.user == other {
				inChain = true
				break
			}
		}
		if inChain {
			continue
		}
		if scev.IsSCEVable(other.Type) && lsr.a.ToExpr(other).Kind != scev.UnknownKind && lsr.ivUsers.isIVUserOrOperand(other) {
			continue
		}
		cu.nearUsers[other] = true
	}
	delete(cu.farUsers, user)
	return users
}

// isProfitableChain estimates whether rewriting c as increments saves a
// register. farUsers keep intermediate values alive and reject the chain.
func (lsr *Instance) isProfitableChain(c *ivChain, farUsers map[*ir.Value]bool) bool {
	if lsr.cfg.StressIVChain {
		return true
	}
	if len(c.incs) < 2 {
		return false
	}
	if len(farUsers) > 0 {
		lsr.log.chain.Debugf("%s: chain at %s has %d users outside it", lsr.log.chain.Module(), c.incs[0].user.LongString(), len(farUsers))
		return false
	}
	// The chain itself needs a register.
	cost := 1
	// A chain ending at the phi that computes its head replaces the IV.
	if t := c.tail().user; t.Op == ir.OpPhi && lsr.a.ToExpr(t) == c.incs[0].incExpr {
		cost--
	}
	var last *scev.Expr
	numConst, numVar, numReused := 0, 0, 0
	for _, inc := range c.links() {
		switch {
		case inc.incExpr.IsZero():
			continue
		case inc.incExpr.IsConstant():
			numConst++
			continue
		case inc.incExpr == last:
			numReused++
		default:
			numVar++
		}
		last = inc.incExpr
	}
	// Constant increments are folded; several of them avoid keeping the
	// IV live across the chain.
	if numConst > 1 {
		cost--
	}
	cost += numVar
	cost -= numReused
	lsr.log.chain.Debugf("%s: chain at %s cost %d", lsr.log.chain.Module(), c.incs[0].user.LongString(), cost)
	return cost < 0
}

// finalizeChain takes the links of c away from the regular uses.
func (lsr *Instance) finalizeChain(c *ivChain) {
	lsr.log.chain.Debugf("%s: final %s", lsr.log.chain.Module(), c)
	for _, inc := range c.links() {
		lsr.ivIncSet[ivOperand{inc.user, inc.operand}] = true
	}
}

// canFoldIVIncExpr reports whether adding incExpr to the operand of user
// folds into its addressing mode.
func (lsr *Instance) canFoldIVIncExpr(incExpr *scev.Expr, user, operand *ir.Value) bool {
	if !incExpr.IsConstant() || !isAddressUse(user, operand) {
		return false
	}
	return isAlwaysFoldableOffset(lsr.tti, Address, accessType(user), nil, incExpr.Const, false)
}

// generateIVChain rewrites the links of c as increments of the value
// computed for its head.
func (lsr *Instance) generateIVChain(c *ivChain, x *scev.Expander) {
	head := c.incs[0]
	var ivSrc *ir.Value
	for _, op := range lsr.findIVOperands(head.user) {
		w := getWideOperand(op)
		if lsr.a.ToExpr(op) == head.incExpr || lsr.a.ToExpr(w) == head.incExpr {
			ivSrc = w
			break
		}
	}
	if ivSrc == nil {
		lsr.log.rewrite.Debugf("%s: concealed chain head %s", lsr.log.rewrite.Module(), head.user.LongString())
		return
	}
	ivTy := ivSrc.Type
	intTy := effectiveType(ivTy)
	latch := lsr.l.Latch()

	var leftOver *scev.Expr
	for _, inc := range c.links() {
		ip := scev.At(inc.user)
		if inc.user.Op == ir.OpPhi {
			ip = scev.AtEnd(latch)
		}
		ivOper := ivSrc
		if !inc.incExpr.IsZero() {
			incExpr := inc.incExpr
			if incExpr.Type.Bits < intTy.Bits {
				incExpr = lsr.a.SExt(incExpr, intTy)
			}
			if leftOver == nil {
				leftOver = incExpr
			} else {
				leftOver = lsr.a.Add(leftOver, incExpr)
			}
		}
		if leftOver != nil && !leftOver.IsZero() {
			x.ClearPostInc()
			incV := x.Expand(leftOver, intTy, ip)
			sum := lsr.a.Add(lsr.a.Unknown(ivSrc), lsr.a.Unknown(incV))
			ivOper = x.Expand(sum, ivTy, ip)
			// An increment that cannot fold becomes the next source.
			if !lsr.canFoldIVIncExpr(leftOver, inc.user, inc.operand) {
				ivSrc = ivOper
				leftOver = nil
			}
		}
		if ivOper.Type.Bits != inc.operand.Type.Bits {
			ivOper = x.Convert(ivOper, inc.operand.Type, ip)
		}
		for i, arg := range inc.user.Args {
			if arg == inc.operand {
				inc.user.SetArg(i, ivOper)
			}
		}
		lsr.deadInsts = append(lsr.deadInsts, inc.operand)
	}

	// The new last value can feed the phis computing the same recurrence.
	if c.tail().user.Op == ir.OpPhi {
		srcExpr := lsr.a.ToExpr(ivSrc)
		for _, phi := range lsr.l.Header.Phis() {
			if !scev.IsSCEVable(phi.Type) || !isCompatibleIVType(phi, ivSrc) {
				continue
			}
			i := lsr.l.Header.PredIndex(latch)
			post := phi.Args[i]
			if post == ivSrc || lsr.a.ToExpr(post) != srcExpr {
				continue
			}
			phi.SetArg(i, ivSrc)
			lsr.deadInsts = append(lsr.deadInsts, post)
		}
	}
}
