package scev

import (
	"bytes"
	"fmt"
	"math/bits"
	"sort"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
)

// Analysis interns expressions and answers queries about the loops of one
// function. It is built fresh for each function and never shared.
type Analysis struct {
	f     *ir.Func
	dom   *ir.DomTree
	loops *loop.Info

	uniq   map[string]*Expr
	nextID int
	values map[*ir.Value]*Expr
	cnc    *Expr
}

// New returns an analysis for f.
func New(f *ir.Func, dom *ir.DomTree, loops *loop.Info) *Analysis {
	a := &Analysis{
		f:      f,
		dom:    dom,
		loops:  loops,
		uniq:   make(map[string]*Expr),
		values: make(map[*ir.Value]*Expr),
	}
	a.cnc = &Expr{id: -1, Kind: CouldNotComputeKind}
	return a
}

// Func returns the analysed function.
func (a *Analysis) Func() *ir.Func { return a.f }

// DomTree returns the dominator tree the analysis answers queries with.
func (a *Analysis) DomTree() *ir.DomTree { return a.dom }

// Loops returns the loop nest of the function.
func (a *Analysis) Loops() *loop.Info { return a.loops }

// CouldNotCompute is the sentinel for unanswerable queries.
func (a *Analysis) CouldNotCompute() *Expr { return a.cnc }

func (a *Analysis) intern(e *Expr) *Expr {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%d|%s|%d|", e.Kind, e.Type, e.Const))
	if e.Value != nil {
		buf.WriteString(fmt.Sprintf("v%d|", e.Value.ID))
	}
	if e.Loop != nil {
		buf.WriteString(fmt.Sprintf("l%d|", e.Loop.Header.ID))
	}
	for _, op := range e.Ops {
		buf.WriteString(fmt.Sprintf("%d,", op.id))
	}
	key := buf.String()
	if x, ok := a.uniq[key]; ok {
		return x
	}
	e.id = a.nextID
	a.nextID++
	a.uniq[key] = e
	return e
}

// Constant returns the constant c of type t.
func (a *Analysis) Constant(t ir.Type, c int64) *Expr {
	return a.intern(&Expr{Kind: ConstantKind, Type: t, Const: t.SignExtend(c)})
}

// Zero returns the zero of type t.
func (a *Analysis) Zero(t ir.Type) *Expr { return a.Constant(t, 0) }

// Unknown returns the opaque expression standing for v.
func (a *Analysis) Unknown(v *ir.Value) *Expr {
	return a.intern(&Expr{Kind: UnknownKind, Type: v.Type, Value: v})
}

// rank orders operands: constants first, recurrences last.
func rank(e *Expr) int { return int(e.Kind) }

func sortOps(ops []*Expr) {
	sort.SliceStable(ops, func(i, j int) bool {
		if rank(ops[i]) != rank(ops[j]) {
			return rank(ops[i]) < rank(ops[j])
		}
		if ops[i].Kind == UnknownKind {
			return ops[i].Value.ID < ops[j].Value.ID
		}
		if ops[i].Kind == AddRecKind && ops[i].Loop != ops[j].Loop {
			// Inner loops after outer loops.
			return ops[i].Loop.Depth() < ops[j].Loop.Depth()
		}
		return ops[i].id < ops[j].id
	})
}

func resultType(ops []*Expr) ir.Type {
	for _, op := range ops {
		if op.Type.IsPointer() {
			return op.Type
		}
	}
	return ops[0].Type
}

// Add returns the canonical sum of ops.
func (a *Analysis) Add(ops ...*Expr) *Expr {
	if len(ops) == 0 {
		panic("scev: empty add")
	}
	t := resultType(ops)
	// Flatten.
	var flat []*Expr
	for _, op := range ops {
		if op.Kind == AddKind {
			flat = append(flat, op.Ops...)
		} else {
			flat = append(flat, op)
		}
	}
	// Fold constants and group like terms by coefficient.
	var c int64
	var order []*Expr
	coeff := make(map[*Expr]int64)
	for _, op := range flat {
		if op.Kind == ConstantKind {
			c += op.Const
			continue
		}
		k, term := a.splitCoefficient(op)
		if _, ok := coeff[term]; !ok {
			order = append(order, term)
		}
		coeff[term] += k
	}
	var terms []*Expr
	for _, term := range order {
		if k := coeff[term]; k != 0 {
			terms = append(terms, a.Mul(a.Constant(term.Type, k), term))
		}
	}
	// Merge recurrences of the same loop, then fold invariant terms into the
	// start of the single recurrence of the innermost loop.
	terms = a.mergeAddRecs(terms)
	for _, term := range terms {
		// A merge can cancel a recurrence down to its start.
		if term.Kind == AddKind || term.Kind == ConstantKind {
			if c != 0 {
				terms = append(terms, a.Constant(t, c))
			}
			return a.retype(a.Add(terms...), t)
		}
	}
	if c != 0 {
		terms = append(terms, a.Constant(t, c))
	}
	if rec := pickInnermostAddRec(terms); rec != nil {
		var inv, rest []*Expr
		for _, term := range terms {
			if term == rec {
				continue
			}
			if a.IsLoopInvariant(term, rec.Loop) {
				inv = append(inv, term)
			} else {
				rest = append(rest, term)
			}
		}
		if len(inv) > 0 {
			nops := append([]*Expr(nil), rec.Ops...)
			nops[0] = a.Add(append([]*Expr{rec.Ops[0]}, inv...)...)
			rec = a.AddRec(nops, rec.Loop)
			if len(rest) == 0 {
				return a.retype(rec, t)
			}
			return a.Add(append(rest, rec)...)
		}
	}
	switch len(terms) {
	case 0:
		return a.Constant(t, 0)
	case 1:
		return a.retype(terms[0], t)
	}
	sortOps(terms)
	return a.intern(&Expr{Kind: AddKind, Type: t, Ops: terms})
}

// retype gives a pointer type to a sum that lost its pointer operand.
func (a *Analysis) retype(e *Expr, t ir.Type) *Expr {
	if e.Type == t || e.Kind == UnknownKind || e.Kind == ConstantKind || e.Type.Bits != t.Bits {
		return e
	}
	if e.Kind == AddKind || e.Kind == AddRecKind {
		c := *e
		c.Type = t
		c.id = 0
		return a.intern(&c)
	}
	return e
}

// splitCoefficient returns (k, x) with e == k*x.
func (a *Analysis) splitCoefficient(e *Expr) (int64, *Expr) {
	if e.Kind == MulKind && e.Ops[0].Kind == ConstantKind {
		rest := e.Ops[1:]
		if len(rest) == 1 {
			return e.Ops[0].Const, rest[0]
		}
		return e.Ops[0].Const, a.intern(&Expr{Kind: MulKind, Type: e.Type, Ops: append([]*Expr(nil), rest...)})
	}
	return 1, e
}

func (a *Analysis) mergeAddRecs(terms []*Expr) []*Expr {
	var out []*Expr
	byLoop := make(map[*loop.Loop]int)
	for _, term := range terms {
		if term.Kind != AddRecKind {
			out = append(out, term)
			continue
		}
		i, ok := byLoop[term.Loop]
		if !ok {
			byLoop[term.Loop] = len(out)
			out = append(out, term)
			continue
		}
		prev := out[i]
		n := len(prev.Ops)
		if len(term.Ops) > n {
			n = len(term.Ops)
		}
		ops := make([]*Expr, n)
		for j := range ops {
			switch {
			case j < len(prev.Ops) && j < len(term.Ops):
				ops[j] = a.Add(prev.Ops[j], term.Ops[j])
			case j < len(prev.Ops):
				ops[j] = prev.Ops[j]
			default:
				ops[j] = term.Ops[j]
			}
		}
		out[i] = a.AddRec(ops, term.Loop)
	}
	return out
}

func pickInnermostAddRec(terms []*Expr) *Expr {
	var best *Expr
	for _, term := range terms {
		if term.Kind != AddRecKind {
			continue
		}
		if best == nil || term.Loop.Depth() > best.Loop.Depth() {
			best = term
		}
	}
	return best
}

// Mul returns the canonical product of ops.
func (a *Analysis) Mul(ops ...*Expr) *Expr {
	if len(ops) == 0 {
		panic("scev: empty mul")
	}
	t := resultType(ops)
	var flat []*Expr
	for _, op := range ops {
		if op.Kind == MulKind {
			flat = append(flat, op.Ops...)
		} else {
			flat = append(flat, op)
		}
	}
	c := int64(1)
	var terms []*Expr
	for _, op := range flat {
		if op.Kind == ConstantKind {
			c *= op.Const
			continue
		}
		terms = append(terms, op)
	}
	c = t.SignExtend(c)
	if c == 0 {
		return a.Constant(t, 0)
	}
	if len(terms) == 0 {
		return a.Constant(t, c)
	}
	// Distribute a constant over a single sum.
	if len(terms) == 1 && c != 1 && terms[0].Kind == AddKind {
		var sum []*Expr
		for _, op := range terms[0].Ops {
			sum = append(sum, a.Mul(a.Constant(t, c), op))
		}
		return a.Add(sum...)
	}
	// Scale a recurrence by factors invariant in its loop.
	for i, term := range terms {
		if term.Kind != AddRecKind {
			continue
		}
		var others []*Expr
		ok := true
		for j, o := range terms {
			if j == i {
				continue
			}
			if !a.IsLoopInvariant(o, term.Loop) {
				ok = false
				break
			}
			others = append(others, o)
		}
		if !ok {
			break
		}
		if c != 1 {
			others = append(others, a.Constant(t, c))
		}
		if len(others) == 0 {
			return term
		}
		nops := make([]*Expr, len(term.Ops))
		for k, op := range term.Ops {
			nops[k] = a.Mul(append([]*Expr{op}, others...)...)
		}
		return a.AddRec(nops, term.Loop)
	}
	if c != 1 {
		terms = append(terms, a.Constant(t, c))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	sortOps(terms)
	return a.intern(&Expr{Kind: MulKind, Type: t, Ops: terms})
}

// AddRec returns the recurrence {ops[0],+,ops[1],...} over l.
func (a *Analysis) AddRec(ops []*Expr, l *loop.Loop) *Expr {
	for len(ops) > 1 && ops[len(ops)-1].IsZero() {
		ops = ops[:len(ops)-1]
	}
	if len(ops) == 1 {
		return ops[0]
	}
	t := resultType(ops)
	// A start that is itself a recurrence of an inner loop cannot be folded.
	return a.intern(&Expr{Kind: AddRecKind, Type: t, Ops: append([]*Expr(nil), ops...), Loop: l})
}

// Affine returns {start,+,step} over l.
func (a *Analysis) Affine(start, step *Expr, l *loop.Loop) *Expr {
	return a.AddRec([]*Expr{start, step}, l)
}

// Step returns the step recurrence of rec, i.e. {ops[1],+,ops[2],...}.
func (a *Analysis) Step(rec *Expr) *Expr {
	if len(rec.Ops) == 2 {
		return rec.Ops[1]
	}
	return a.AddRec(rec.Ops[1:], rec.Loop)
}

// Negate returns -e.
func (a *Analysis) Negate(e *Expr) *Expr { return a.Mul(a.Constant(e.Type, -1), e) }

// Minus returns x - y.
func (a *Analysis) Minus(x, y *Expr) *Expr { return a.Add(x, a.Negate(y)) }

// Trunc returns e truncated to t.
func (a *Analysis) Trunc(e *Expr, t ir.Type) *Expr {
	if e.Type.Bits <= t.Bits {
		return e
	}
	switch e.Kind {
	case ConstantKind:
		return a.Constant(t, e.Const)
	case TruncKind:
		return a.Trunc(e.Ops[0], t)
	case SExtKind, ZExtKind:
		if e.Ops[0].Type.Bits == t.Bits {
			return e.Ops[0]
		}
		if e.Ops[0].Type.Bits > t.Bits {
			return a.Trunc(e.Ops[0], t)
		}
	case AddKind, MulKind, AddRecKind:
		ops := make([]*Expr, len(e.Ops))
		for i, op := range e.Ops {
			ops[i] = a.Trunc(op, t)
		}
		switch e.Kind {
		case AddKind:
			return a.Add(ops...)
		case MulKind:
			return a.Mul(ops...)
		}
		return a.AddRec(ops, e.Loop)
	}
	return a.intern(&Expr{Kind: TruncKind, Type: t, Ops: []*Expr{e}})
}

// SExt returns e sign-extended to t.
func (a *Analysis) SExt(e *Expr, t ir.Type) *Expr {
	if e.Type.Bits >= t.Bits {
		return e
	}
	switch e.Kind {
	case ConstantKind:
		return a.Constant(t, e.Type.SignExtend(e.Const))
	case SExtKind:
		return a.SExt(e.Ops[0], t)
	}
	return a.intern(&Expr{Kind: SExtKind, Type: t, Ops: []*Expr{e}})
}

// ZExt returns e zero-extended to t.
func (a *Analysis) ZExt(e *Expr, t ir.Type) *Expr {
	if e.Type.Bits >= t.Bits {
		return e
	}
	switch e.Kind {
	case ConstantKind:
		c := e.Const
		if e.Type.Bits < 64 {
			c &= int64(1)<<e.Type.Bits - 1
		}
		return a.Constant(t, c)
	case ZExtKind:
		return a.ZExt(e.Ops[0], t)
	}
	return a.intern(&Expr{Kind: ZExtKind, Type: t, Ops: []*Expr{e}})
}

// AnyExtend returns e converted to t, truncating or sign-extending.
func (a *Analysis) AnyExtend(e *Expr, t ir.Type) *Expr {
	if e.Type.Bits > t.Bits {
		return a.Trunc(e, t)
	}
	return a.SExt(e, t)
}

// UDiv returns x /u y.
func (a *Analysis) UDiv(x, y *Expr) *Expr {
	if y.IsOne() {
		return x
	}
	if x.Kind == ConstantKind && y.Kind == ConstantKind && y.Const != 0 {
		return a.Constant(x.Type, int64(uint64(x.Const)/uint64(y.Const)))
	}
	if y.Kind == ConstantKind && y.Const > 0 && bits.OnesCount64(uint64(y.Const)) == 1 && x.IsZero() {
		return x
	}
	return a.intern(&Expr{Kind: UDivKind, Type: x.Type, Ops: []*Expr{x, y}})
}
