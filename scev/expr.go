// Package scev is the induction-expression analysis used by the loop
// optimisations: it turns ir values into symbolic expressions over loop
// recurrences, answers invariance, dominance and trip-count queries, and
// expands expressions back into ir values.
//
// Expressions are immutable and interned by an Analysis, so two expressions
// are equal iff they are the same *Expr.
package scev

import (
	"bytes"
	"fmt"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
)

// Kind is the shape of an expression.
type Kind uint8

const (
	ConstantKind Kind = iota
	UnknownKind
	TruncKind
	ZExtKind
	SExtKind
	UDivKind
	MulKind
	AddKind
	AddRecKind
	CouldNotComputeKind
)

// Expr is an interned symbolic expression.
type Expr struct {
	id    int
	Kind  Kind
	Type  ir.Type
	Const int64      // ConstantKind
	Value *ir.Value  // UnknownKind
	Ops   []*Expr    // Add, Mul, AddRec (start, step...), casts, UDiv
	Loop  *loop.Loop // AddRecKind
}

// ID is the interning order of e, usable as a deterministic sort key.
func (e *Expr) ID() int { return e.id }

func (e *Expr) IsConstant() bool { return e.Kind == ConstantKind }

func (e *Expr) IsZero() bool { return e.Kind == ConstantKind && e.Const == 0 }

func (e *Expr) IsOne() bool { return e.Kind == ConstantKind && e.Const == 1 }

func (e *Expr) IsAllOnes() bool { return e.Kind == ConstantKind && e.Const == -1 }

func (e *Expr) IsAddRec() bool { return e.Kind == AddRecKind }

// IsAffine reports whether e is an add recurrence {start,+,step}.
func (e *Expr) IsAffine() bool { return e.Kind == AddRecKind && len(e.Ops) == 2 }

// Start returns the start of an add recurrence.
func (e *Expr) Start() *Expr { return e.Ops[0] }

// IsSymbol reports whether e is the address of a global.
func (e *Expr) IsSymbol() bool { return e.Kind == UnknownKind && e.Value.Op == ir.OpGlobal }

// IsUnknownPhi reports whether e is an opaque phi value.
func (e *Expr) IsUnknownPhi() bool { return e.Kind == UnknownKind && e.Value.Op == ir.OpPhi }

// Contains reports whether pred holds for e or any subexpression.
func (e *Expr) Contains(pred func(*Expr) bool) bool {
	if pred(e) {
		return true
	}
	for _, op := range e.Ops {
		if op.Contains(pred) {
			return true
		}
	}
	return false
}

func (e *Expr) String() string {
	switch e.Kind {
	case ConstantKind:
		return fmt.Sprintf("%d", e.Const)
	case UnknownKind:
		return "%" + e.Value.Name()
	case TruncKind, ZExtKind, SExtKind:
		name := map[Kind]string{TruncKind: "trunc", ZExtKind: "zext", SExtKind: "sext"}[e.Kind]
		return fmt.Sprintf("(%s %s to %s)", name, e.Ops[0], e.Type)
	case UDivKind:
		return fmt.Sprintf("(%s /u %s)", e.Ops[0], e.Ops[1])
	case AddKind, MulKind:
		sep := " + "
		if e.Kind == MulKind {
			sep = " * "
		}
		var buf bytes.Buffer
		buf.WriteString("(")
		for i, op := range e.Ops {
			if i > 0 {
				buf.WriteString(sep)
			}
			buf.WriteString(op.String())
		}
		buf.WriteString(")")
		return buf.String()
	case AddRecKind:
		var buf bytes.Buffer
		buf.WriteString("{")
		for i, op := range e.Ops {
			if i > 0 {
				buf.WriteString(",+,")
			}
			buf.WriteString(op.String())
		}
		buf.WriteString(fmt.Sprintf("}<%s>", e.Loop.Header))
		return buf.String()
	}
	return "***COULDNOTCOMPUTE***"
}

// LoopSet is a set of loops, used for post-increment uses.
type LoopSet map[*loop.Loop]bool

// NewLoopSet returns a set holding ls.
func NewLoopSet(ls ...*loop.Loop) LoopSet {
	s := make(LoopSet, len(ls))
	for _, l := range ls {
		s[l] = true
	}
	return s
}

// Clone returns a copy of s.
func (s LoopSet) Clone() LoopSet {
	c := make(LoopSet, len(s))
	for l := range s {
		c[l] = true
	}
	return c
}
