package lsr

import (
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
)

// IVUser is an operand whose value is an induction expression of the loop,
// used by an instruction that is not itself an induction expression.
type IVUser struct {
	User     *ir.Value
	Operand  *ir.Value
	PostInc  scev.LoopSet
	expr     *scev.Expr // normalized for PostInc
	absorbed bool       // taken by an IV chain or a pre-pass
}

// Expr returns the expression of the operand, normalized for post-increment
// loops.
func (u *IVUser) Expr() *scev.Expr { return u.expr }

// transformToPostInc makes u consume the value after the increment of l.
func (u *IVUser) transformToPostInc(a *scev.Analysis, l *loop.Loop) {
	if u.PostInc == nil {
		u.PostInc = scev.NewLoopSet()
	}
	u.PostInc[l] = true
	u.expr = a.Normalize(u.expr, scev.NewLoopSet(l))
}

// IVUsers finds the IV users of a loop, starting from the header phis.
type IVUsers struct {
	a         *scev.Analysis
	l         *loop.Loop
	dom       *ir.DomTree
	users     []*IVUser
	processed map[*ir.Value]bool
}

func collectIVUsers(a *scev.Analysis, dom *ir.DomTree, l *loop.Loop) *IVUsers {
	iu := &IVUsers{a: a, l: l, dom: dom, processed: make(map[*ir.Value]bool)}
	for _, phi := range l.Header.Phis() {
		iu.addUsersIfInteresting(phi)
	}
	return iu
}

// Users returns the IV users not yet absorbed.
func (iu *IVUsers) Users() []*IVUser {
	var us []*IVUser
	for _, u := range iu.users {
		if !u.absorbed {
			us = append(us, u)
		}
	}
	return us
}

func (iu *IVUsers) isIVUserOrOperand(v *ir.Value) bool { return iu.processed[v] }

func (iu *IVUsers) find(user, operand *ir.Value) *IVUser {
	for _, u := range iu.users {
		if !u.absorbed && u.User == user && u.Operand == operand {
			return u
		}
	}
	return nil
}

// isInteresting reports whether e is worth strength reducing at inst.
func (iu *IVUsers) isInteresting(e *scev.Expr, inst *ir.Value) bool {
	switch e.Kind {
	case scev.AddRecKind:
		if e.Loop == iu.l {
			return e.IsAffine()
		}
		return iu.isInteresting(e.Start(), inst) && !iu.isInteresting(iu.a.Step(e), inst)
	case scev.AddKind:
		// Exactly one interesting operand.
		found := false
		for _, op := range e.Ops {
			if iu.isInteresting(op, inst) {
				if found {
					return false
				}
				found = true
			}
		}
		return found
	}
	return false
}

func (iu *IVUsers) addUsersIfInteresting(v *ir.Value) bool {
	if iu.processed[v] {
		return true
	}
	iu.processed[v] = true
	if !scev.IsSCEVable(v.Type) || v.Type.Bits > 64 {
		return false
	}
	// Expressions are expanded speculatively; division is not safe to.
	switch v.Op {
	case ir.OpSDiv, ir.OpUDiv:
		return false
	}
	e := iu.a.ToExpr(v)
	if !iu.isInteresting(e, v) {
		return false
	}
	f := iu.a.Func()
	for _, user := range f.Users(v) {
		if user.Op == ir.OpPhi && iu.processed[user] {
			continue
		}
		// Only users dominated by the header can be expanded at.
		if !iu.dom.Dominates(iu.l.Header, user.Block) {
			continue
		}
		add := false
		if !iu.l.Contains(user.Block) {
			add = user.Op == ir.OpPhi || iu.processed[user] || !iu.addUsersIfInteresting(user)
		} else {
			add = iu.processed[user] || !iu.addUsersIfInteresting(user)
		}
		if add {
			iu.addUser(user, v, e)
		}
	}
	return true
}

func (iu *IVUsers) addUser(user, operand *ir.Value, e *scev.Expr) *IVUser {
	u := &IVUser{User: user, Operand: operand}
	// Users outside the loop after the latch see the incremented value.
	if latch := iu.l.Latch(); latch != nil && !iu.l.Contains(user.Block) && iu.dom.Dominates(latch, user.Block) {
		u.PostInc = scev.NewLoopSet(iu.l)
		e = iu.a.Normalize(e, u.PostInc)
	}
	u.expr = e
	iu.users = append(iu.users, u)
	iu.processed[user] = true
	return u
}
