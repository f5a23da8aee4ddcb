package lsr

import (
	"github.com/nickng/lsr/scev"
)

type solver struct {
	lsr       *Instance
	r         costRater
	workspace []*Formula
	best      []*Formula
	bestCost  Cost
}

// solve picks one formula per use minimising the total cost, with
// registers shared between uses paid for once.
func (lsr *Instance) solve() ([]*Formula, error) {
	s := &solver{
		lsr: lsr,
		r:   costRater{tti: lsr.tti, a: lsr.a, l: lsr.l},
	}
	s.bestCost.Lose()
	s.recurse(Cost{}, make(map[*scev.Expr]bool), make(map[*scev.Expr]bool))

	if s.best == nil {
		lsr.log.solve.Debugf("%s: no satisfactory solution", lsr.log.solve.Module())
		return nil, ErrNoSolution
	}
	lsr.log.solve.Debugf("%s: solution cost %s", lsr.log.solve.Module(), s.bestCost)
	for i, f := range s.best {
		lsr.log.solve.Debugf("%s:   %s => %s", lsr.log.solve.Module(), lsr.uses[i], f)
	}
	return s.best, nil
}

// recurse extends the partial solution in workspace with a formula for the
// next use. curRegs are the registers the partial solution pays for.
// visited holds registers already tried as the only register of an earlier
// use, which the remaining uses do not need to retry.
func (s *solver) recurse(curCost Cost, curRegs, visited map[*scev.Expr]bool) {
	lsr := s.lsr
	depth := len(s.workspace)
	u := lsr.uses[depth]

	// Formulae reusing registers already paid for come first; if any do,
	// the others are not considered.
	var reqRegs []*scev.Expr
	for _, reg := range sortedExprs(curRegs) {
		if u.Regs[reg] {
			reqRegs = append(reqRegs, reg)
		}
	}

	newRegs := make(map[*scev.Expr]bool)
	for i := range u.Formulae {
		f := &u.Formulae[i]

		// Ignore formulae that use fewer of the required registers than
		// they could.
		numReqRegsToFind := f.getNumRegs()
		if len(reqRegs) < numReqRegsToFind {
			numReqRegsToFind = len(reqRegs)
		}
		if numReqRegsToFind > 0 {
			found := 0
			for _, reg := range reqRegs {
				if f.referencesReg(reg) {
					found++
				}
			}
			if found < numReqRegsToFind {
				continue
			}
		}

		newCost := curCost
		for k := range newRegs {
			delete(newRegs, k)
		}
		for k := range curRegs {
			newRegs[k] = true
		}
		s.r.rateFormula(&newCost, f, newRegs, visited, u, nil)
		if !newCost.Less(s.bestCost) {
			continue
		}

		s.workspace = append(s.workspace, f)
		if len(s.workspace) != len(lsr.uses) {
			s.recurse(newCost, newRegs, visited)
			if f.getNumRegs() == 1 && len(s.workspace) == 1 {
				visited[f.regs()[0]] = true
			}
		} else {
			lsr.log.solve.Debugf("%s: new best at %s, regs %v", lsr.log.solve.Module(), newCost, sortedExprs(newRegs))
			s.bestCost = newCost
			s.best = append([]*Formula(nil), s.workspace...)
		}
		s.workspace = s.workspace[:len(s.workspace)-1]
	}
}
