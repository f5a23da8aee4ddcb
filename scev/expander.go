package scev

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
)

// InsertPoint is a position in the instruction stream: just before Before,
// or at the end of Block when Before is nil.
type InsertPoint struct {
	Block  *ir.Block
	Before *ir.Value
}

// At returns the insertion point just before v.
func At(v *ir.Value) InsertPoint { return InsertPoint{Block: v.Block, Before: v} }

// AtEnd returns the insertion point at the end of b.
func AtEnd(b *ir.Block) InsertPoint { return InsertPoint{Block: b} }

type expansionKey struct {
	e *Expr
	b *ir.Block
}

// Expander materialises expressions as ir values.
type Expander struct {
	a    *Analysis
	f    *ir.Func
	name string

	// PostIncLoops lists the loops whose recurrences are expanded to their
	// value after the increment of the current iteration.
	PostIncLoops LoopSet
	// IVIncInsertLoop and IVIncInsertPos place the increments of new
	// induction variables of that loop; the default is the end of the latch.
	IVIncInsertLoop *loop.Loop
	IVIncInsertPos  *ir.Value

	inserted map[*ir.Value]bool
	cache    map[expansionKey]*ir.Value
	phis     map[*Expr]*ir.Value
}

// NewExpander returns an expander writing into the analysed function. name
// only shows up in debug output.
func (a *Analysis) NewExpander(name string) *Expander {
	return &Expander{
		a:        a,
		f:        a.f,
		name:     name,
		inserted: make(map[*ir.Value]bool),
		cache:    make(map[expansionKey]*ir.Value),
		phis:     make(map[*Expr]*ir.Value),
	}
}

// IsInserted reports whether v was created by this expander.
func (x *Expander) IsInserted(v *ir.Value) bool { return x.inserted[v] }

// Inserted returns every value created so far, in creation order of IDs.
func (x *Expander) Inserted() []*ir.Value {
	var vs []*ir.Value
	for _, b := range x.f.Blocks {
		for _, v := range b.Values {
			if x.inserted[v] {
				vs = append(vs, v)
			}
		}
	}
	return vs
}

// SetIVIncInsertPos places the increments of new recurrences of l before pos.
func (x *Expander) SetIVIncInsertPos(l *loop.Loop, pos *ir.Value) {
	x.IVIncInsertLoop, x.IVIncInsertPos = l, pos
}

// ClearPostInc resets the post-increment loops.
func (x *Expander) ClearPostInc() { x.PostIncLoops = nil }

// Expand materialises e converted to t at ip.
func (x *Expander) Expand(e *Expr, t ir.Type, ip InsertPoint) *ir.Value {
	v := x.expand(e, ip)
	return x.convert(v, t, ip)
}

// Convert inserts a width conversion of v to t at ip when needed.
func (x *Expander) Convert(v *ir.Value, t ir.Type, ip InsertPoint) *ir.Value {
	return x.convert(v, t, ip)
}

func (x *Expander) convert(v *ir.Value, t ir.Type, ip InsertPoint) *ir.Value {
	switch {
	case t.Bits == 0 || v.Type.Bits == t.Bits:
		return v
	case v.Type.Bits > t.Bits:
		return x.emit(ip, ir.OpTrunc, t, v)
	}
	return x.emit(ip, ir.OpSExt, t, v)
}

func (x *Expander) emit(ip InsertPoint, op ir.Op, t ir.Type, args ...*ir.Value) *ir.Value {
	v := ip.Block.NewValueBefore(ip.Before, op, t, args...)
	x.inserted[v] = true
	return v
}

// available reports whether v can be used at ip.
func (x *Expander) available(v *ir.Value, ip InsertPoint) bool {
	if v.Block == nil {
		return false
	}
	if alwaysAvailable(v) {
		return true
	}
	if ip.Before != nil {
		return x.a.dom.ValueDominates(v, ip.Before)
	}
	return x.a.dom.DominatesBlockEnd(v, ip.Block)
}

// hoist moves ip out of every enclosing loop e is invariant in.
func (x *Expander) hoist(e *Expr, ip InsertPoint) InsertPoint {
	for l := x.a.loops.LoopFor(ip.Block); l != nil; l = l.Parent {
		pre := l.Preheader()
		if pre == nil || !x.a.IsLoopInvariant(e, l) || !x.a.Dominates(e, pre) {
			break
		}
		if x.PostIncLoops[l] && e.Contains(func(y *Expr) bool { return y.Kind == AddRecKind }) {
			break
		}
		ip = AtEnd(pre)
	}
	return ip
}

func (x *Expander) expand(e *Expr, ip InsertPoint) *ir.Value {
	switch e.Kind {
	case ConstantKind:
		return x.f.ConstInt(e.Type, e.Const)
	case UnknownKind:
		return e.Value
	case CouldNotComputeKind:
		panic("scev: expanding CouldNotCompute")
	}
	ip = x.hoist(e, ip)
	key := expansionKey{e: e, b: ip.Block}
	if len(x.PostIncLoops) == 0 {
		if v, ok := x.cache[key]; ok && x.available(v, ip) {
			return v
		}
	}
	var v *ir.Value
	switch e.Kind {
	case AddKind:
		v = x.expandAdd(e, ip)
	case MulKind:
		v = x.expand(e.Ops[0], ip)
		for _, op := range e.Ops[1:] {
			v = x.emit(ip, ir.OpMul, e.Type, v, x.expand(op, ip))
		}
	case UDivKind:
		v = x.emit(ip, ir.OpUDiv, e.Type, x.expand(e.Ops[0], ip), x.expand(e.Ops[1], ip))
	case TruncKind:
		v = x.emit(ip, ir.OpTrunc, e.Type, x.expand(e.Ops[0], ip))
	case SExtKind:
		v = x.emit(ip, ir.OpSExt, e.Type, x.expand(e.Ops[0], ip))
	case ZExtKind:
		v = x.emit(ip, ir.OpZExt, e.Type, x.expand(e.Ops[0], ip))
	case AddRecKind:
		v = x.expandAddRec(e, ip)
	}
	if len(x.PostIncLoops) == 0 {
		x.cache[key] = v
	}
	return v
}

// expandAdd sums the operands, pointer operand first, and turns negated
// terms into subtractions.
func (x *Expander) expandAdd(e *Expr, ip InsertPoint) *ir.Value {
	ops := append([]*Expr(nil), e.Ops...)
	for i, op := range ops {
		if op.Type.IsPointer() {
			ops[0], ops[i] = ops[i], ops[0]
			break
		}
	}
	var sum *ir.Value
	for _, op := range ops {
		if sum != nil && op.Kind == MulKind && op.Ops[0].IsAllOnes() {
			neg := x.a.Negate(op)
			sum = x.emit(ip, ir.OpSub, e.Type, sum, x.expand(neg, ip))
			continue
		}
		w := x.expand(op, ip)
		if sum == nil {
			sum = w
			continue
		}
		sum = x.emit(ip, ir.OpAdd, e.Type, sum, w)
	}
	return sum
}

func (x *Expander) expandAddRec(e *Expr, ip InsertPoint) *ir.Value {
	l := e.Loop
	if !x.PostIncLoops[l] {
		phi, _ := x.getAddRecPhi(e)
		return phi
	}
	// e is the value after the increment: expand the phi of the
	// pre-increment recurrence and take its increment.
	norm := x.a.Normalize(e, NewLoopSet(l))
	phi, inc := x.getAddRecPhi(norm)
	if inc != nil && x.available(inc, ip) {
		return inc
	}
	step := x.expand(x.a.Step(norm), ip)
	return x.emit(ip, ir.OpAdd, e.Type, phi, step)
}

// getAddRecPhi returns the phi computing e in the header of its loop and the
// increment feeding it from the latch, reusing existing phis when possible.
func (x *Expander) getAddRecPhi(e *Expr) (phi, inc *ir.Value) {
	l := e.Loop
	latch := l.Latch()
	if p, ok := x.phis[e]; ok && p.Block != nil {
		return p, p.PhiIncoming(latch)
	}
	post := x.a.Add(e, x.a.Step(e))
	for _, p := range l.Header.Phis() {
		if p.Type != e.Type || !IsSCEVable(p.Type) || x.a.ToExpr(p) != e {
			continue
		}
		x.phis[e] = p
		in := p.PhiIncoming(latch)
		if x.a.ToExpr(in) == post {
			return p, in
		}
		return p, nil
	}

	pre := l.Preheader()
	start := x.Expand(e.Start(), e.Type, AtEnd(pre))
	args := make([]*ir.Value, len(l.Header.Preds))
	for i := range args {
		args[i] = start
	}
	phi = l.Header.NewPhi(e.Type, args...)
	x.inserted[phi] = true
	x.phis[e] = phi

	ip := AtEnd(latch)
	if x.IVIncInsertLoop == l && x.IVIncInsertPos != nil {
		ip = At(x.IVIncInsertPos)
	}
	saved := x.PostIncLoops
	x.PostIncLoops = nil
	step := x.expand(x.a.Step(e), ip)
	x.PostIncLoops = saved
	inc = x.emit(ip, ir.OpAdd, e.Type, phi, step)
	phi.SetArg(l.Header.PredIndex(latch), inc)
	x.a.values[phi] = e
	x.a.values[inc] = post
	return phi, inc
}

// FindExistingIV returns a header phi of l whose expression is e, if any.
func (x *Expander) FindExistingIV(e *Expr) *ir.Value {
	if e.Kind != AddRecKind {
		return nil
	}
	for _, p := range e.Loop.Header.Phis() {
		if IsSCEVable(p.Type) && x.a.ToExpr(p) == e {
			return p
		}
	}
	return nil
}
