package lsr

import (
	"fmt"
	"math"

	"github.com/nickng/lsr/loop"
	"github.com/nickng/lsr/scev"
	"github.com/nickng/lsr/target"
)

// Cost is the price of a (partial) solution. Costs compare lexicographically
// in field order.
type Cost struct {
	NumRegs     int
	AddRecCost  int
	NumIVMuls   int
	NumBaseAdds int
	ScaleCost   int
	ImmCost     int
	SetupCost   int
}

// Lose sets c to the worst possible cost.
func (c *Cost) Lose() {
	*c = Cost{
		NumRegs:     math.MaxInt32,
		AddRecCost:  math.MaxInt32,
		NumIVMuls:   math.MaxInt32,
		NumBaseAdds: math.MaxInt32,
		ScaleCost:   math.MaxInt32,
		ImmCost:     math.MaxInt32,
		SetupCost:   math.MaxInt32,
	}
}

// IsLoser reports whether c was set by Lose.
func (c Cost) IsLoser() bool { return c.NumRegs == math.MaxInt32 }

func (c Cost) fields() [7]int {
	return [7]int{c.NumRegs, c.AddRecCost, c.NumIVMuls, c.NumBaseAdds, c.ScaleCost, c.ImmCost, c.SetupCost}
}

// Less reports whether c is strictly cheaper than o.
func (c Cost) Less(o Cost) bool {
	x, y := c.fields(), o.fields()
	for i := range x {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}

func (c Cost) String() string {
	if c.IsLoser() {
		return "loser"
	}
	s := fmt.Sprintf("%d reg", c.NumRegs)
	if c.NumRegs != 1 {
		s += "s"
	}
	if c.AddRecCost != 0 {
		s += fmt.Sprintf(", with addrec cost %d", c.AddRecCost)
	}
	if c.NumIVMuls != 0 {
		s += fmt.Sprintf(", plus %d IV mul", c.NumIVMuls)
	}
	if c.NumBaseAdds != 0 {
		s += fmt.Sprintf(", plus %d base add", c.NumBaseAdds)
	}
	if c.ScaleCost != 0 {
		s += fmt.Sprintf(", plus %d scale cost", c.ScaleCost)
	}
	if c.ImmCost != 0 {
		s += fmt.Sprintf(", plus %d imm cost", c.ImmCost)
	}
	if c.SetupCost != 0 {
		s += fmt.Sprintf(", plus %d setup cost", c.SetupCost)
	}
	return s
}

// costRater accumulates a cost over the formulae of a solution.
type costRater struct {
	tti target.Oracle
	a   *scev.Analysis
	l   *loop.Loop
}

// rateRegister adds the price of reg, which has not been counted yet.
func (r costRater) rateRegister(c *Cost, reg *scev.Expr, regs map[*scev.Expr]bool) {
	if reg.IsAddRec() {
		if reg.Loop != r.l {
			// A recurrence of another loop is only free if it already
			// exists; it cannot be rebuilt from here.
			if isExistingPhi(r.a, reg) {
				return
			}
			c.Lose()
			return
		}
		c.AddRecCost++
		step := reg.Ops[1]
		if !reg.IsAffine() {
			step = r.a.Step(reg)
		}
		if !step.IsConstant() && !regs[step] {
			regs[step] = true
			r.rateRegister(c, step, regs)
			if c.IsLoser() {
				return
			}
		}
	}
	c.NumRegs++

	// Registers that need instructions in the preheader.
	switch {
	case reg.Kind == scev.UnknownKind, reg.Kind == scev.ConstantKind:
	case reg.IsAddRec() && (reg.Start().Kind == scev.UnknownKind || reg.Start().Kind == scev.ConstantKind):
	default:
		c.SetupCost++
	}
	if reg.Kind == scev.MulKind && r.a.HasComputableLoopEvolution(reg, r.l) {
		c.NumIVMuls++
	}
}

// ratePrimaryRegister rates reg unless it is already counted in regs or is
// a known loser.
func (r costRater) ratePrimaryRegister(c *Cost, reg *scev.Expr, regs, loserRegs map[*scev.Expr]bool) {
	if loserRegs != nil && loserRegs[reg] {
		c.Lose()
		return
	}
	if regs[reg] {
		return
	}
	regs[reg] = true
	r.rateRegister(c, reg, regs)
	if c.IsLoser() && loserRegs != nil {
		loserRegs[reg] = true
	}
}

// rateFormula adds the price of f serving u to c. regs holds the registers
// already paid for on this solution path; a register in visited belongs to
// an earlier use that chose not to share it, so f loses.
func (r costRater) rateFormula(c *Cost, f *Formula, regs, visited map[*scev.Expr]bool, u *Use, loserRegs map[*scev.Expr]bool) {
	for _, reg := range f.regs() {
		if visited[reg] {
			c.Lose()
			return
		}
		r.ratePrimaryRegister(c, reg, regs, loserRegs)
		if c.IsLoser() {
			return
		}
	}

	// Adds needed to combine the registers inside the loop.
	if n := f.getNumRegs(); n > 1 {
		folded := 1
		if f.Scale != 0 && isUseCompletelyFolded(r.tti, u, f) {
			folded = 2
		}
		if n > folded {
			c.NumBaseAdds += n - folded
		}
	}
	if f.UnfoldedOffset != 0 {
		c.NumBaseAdds++
	}

	c.ScaleCost += getScalingFactorCost(r.tti, u, f)

	for _, off := range u.Offsets {
		switch o := f.BaseOffset + off; {
		case f.BaseGV != nil:
			c.ImmCost += 64
		case o != 0:
			c.ImmCost += minSignedBits(o)
			if u.Kind == Address && !r.tti.IsLegalAddImmediate(o) && !isUseCompletelyFolded(r.tti, u, f) {
				c.NumBaseAdds++
			}
		}
	}
}
