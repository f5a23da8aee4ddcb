package lsr

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
)

// UseKind is how the value of a use is consumed, which decides what the
// target can fold into it.
type UseKind uint8

const (
	// Basic uses need the value in a register.
	Basic UseKind = iota
	// Special uses are Basic uses that also accept a -1 scale.
	Special
	// Address uses are memory addresses.
	Address
	// ICmpZero uses are compares of the value against zero.
	ICmpZero
)

func (k UseKind) String() string {
	switch k {
	case Basic:
		return "Basic"
	case Special:
		return "Special"
	case Address:
		return "Address"
	case ICmpZero:
		return "ICmpZero"
	}
	return fmt.Sprintf("UseKind(%d)", k)
}

// Fixup is an operand of an instruction to be replaced by the expansion of
// its use's chosen formula, plus Offset.
type Fixup struct {
	UserInst            *ir.Value
	OperandValToReplace *ir.Value
	// PostIncLoops are the loops whose increment the operand comes after.
	PostIncLoops scev.LoopSet
	LUIdx        int
	Offset       int64
}

// isUseFullyOutsideLoop reports whether the value is only consumed after
// leaving l.
func (fx *Fixup) isUseFullyOutsideLoop(l *loop.Loop) bool {
	if fx.UserInst.Op == ir.OpPhi {
		for i, arg := range fx.UserInst.Args {
			if arg == fx.OperandValToReplace && l.Contains(fx.UserInst.Block.Preds[i]) {
				return false
			}
		}
		return true
	}
	return !l.Contains(fx.UserInst.Block)
}

func (fx *Fixup) String() string {
	s := fmt.Sprintf("UserInst=%s, OperandValToReplace=%s", fx.UserInst.LongString(), fx.OperandValToReplace.Name())
	if len(fx.PostIncLoops) > 0 {
		s += ", PostIncLoops="
		for l := range fx.PostIncLoops {
			s += l.Header.String()
		}
	}
	if fx.Offset != 0 {
		s += fmt.Sprintf(", Offset=%d", fx.Offset)
	}
	return s
}

// Use groups the fixups that need the same expression up to an offset,
// together with the candidate formulae for computing it.
type Use struct {
	Kind     UseKind
	AccessTy ir.Type

	// Offsets is the sorted set of fixup offsets.
	Offsets              []int64
	MinOffset, MaxOffset int64

	// AllFixupsOutsideLoop is set while every fixup consumes the value
	// outside the loop.
	AllFixupsOutsideLoop bool
	// RigidFormula marks uses whose only formula is the original
	// expression, which cannot be expanded safely in another form.
	RigidFormula bool

	WidestFixupType ir.Type

	Formulae []Formula
	// Regs is the set of registers referenced by Formulae.
	Regs map[*scev.Expr]bool

	uniquifier map[string]bool
}

func newUse(kind UseKind, accessTy ir.Type) *Use {
	return &Use{
		Kind:                 kind,
		AccessTy:             accessTy,
		MinOffset:            math.MaxInt64,
		MaxOffset:            math.MinInt64,
		AllFixupsOutsideLoop: true,
		Regs:                 make(map[*scev.Expr]bool),
		uniquifier:           make(map[string]bool),
	}
}

// regsKey is the sorted register set of f.
func regsKey(f *Formula) string {
	ids := make([]int, 0, f.getNumRegs())
	for _, r := range f.regs() {
		ids = append(ids, r.ID())
	}
	sort.Ints(ids)
	return fmt.Sprint(ids)
}

// hasFormulaWithSameRegs reports whether a formula using exactly the
// registers of f is already present.
func (u *Use) hasFormulaWithSameRegs(f *Formula) bool {
	return u.uniquifier[regsKey(f)]
}

// insertFormula adds f unless the use is rigid or already has a formula
// with the same registers.
func (u *Use) insertFormula(f Formula, l *loop.Loop) bool {
	if !f.isCanonical(l) {
		panic("lsr: inserting non-canonical formula " + f.String())
	}
	if len(u.Formulae) > 0 && u.RigidFormula {
		return false
	}
	for _, r := range f.regs() {
		if r.IsZero() {
			return false
		}
	}
	key := regsKey(&f)
	if u.uniquifier[key] {
		return false
	}
	u.uniquifier[key] = true
	u.Formulae = append(u.Formulae, f)
	for _, r := range f.regs() {
		u.Regs[r] = true
	}
	return true
}

// deleteFormula removes Formulae[i], moving the last formula into its slot.
func (u *Use) deleteFormula(i int) {
	last := len(u.Formulae) - 1
	u.Formulae[i] = u.Formulae[last]
	u.Formulae[last] = Formula{}
	u.Formulae = u.Formulae[:last]
}

// recomputeRegs rebuilds Regs after formulae were deleted and drops the
// registers no longer referenced from the tracker.
func (u *Use) recomputeRegs(luIdx int, tracker *RegUseTracker) {
	old := u.Regs
	u.Regs = make(map[*scev.Expr]bool)
	u.uniquifier = make(map[string]bool)
	for i := range u.Formulae {
		f := &u.Formulae[i]
		for _, r := range f.regs() {
			u.Regs[r] = true
		}
		u.uniquifier[regsKey(f)] = true
	}
	for r := range old {
		if !u.Regs[r] {
			tracker.dropRegister(r, luIdx)
		}
	}
}

// addOffset records a fixup offset.
func (u *Use) addOffset(off int64) {
	i := sort.Search(len(u.Offsets), func(i int) bool { return u.Offsets[i] >= off })
	if i == len(u.Offsets) || u.Offsets[i] != off {
		u.Offsets = append(u.Offsets, 0)
		copy(u.Offsets[i+1:], u.Offsets[i:])
		u.Offsets[i] = off
	}
	if off < u.MinOffset {
		u.MinOffset = off
	}
	if off > u.MaxOffset {
		u.MaxOffset = off
	}
}

func (u *Use) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "LSR Use: Kind=%s", u.Kind)
	if u.Kind == Address {
		fmt.Fprintf(&buf, ", AccessTy=%s", u.AccessTy)
	}
	buf.WriteString(", Offsets={")
	for i, off := range u.Offsets {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, "%d", off)
	}
	buf.WriteString("}")
	if u.AllFixupsOutsideLoop {
		buf.WriteString(", all-fixups-outside-loop")
	}
	if u.WidestFixupType.Kind != ir.VoidKind {
		fmt.Fprintf(&buf, ", widest fixup type: %s", u.WidestFixupType)
	}
	return buf.String()
}
