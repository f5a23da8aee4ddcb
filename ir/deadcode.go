package ir

// DeleteDeadValues removes the values in dead that have no uses and no side
// effects, then keeps removing arguments that became unused as a result.
// It returns the number of values removed.
func DeleteDeadValues(f *Func, dead []*Value) int {
	removed := 0
	// stack-like worklist
	q := make([]*Value, 0, len(dead))
	q = append(q, dead...)
	for len(q) > 0 {
		v := q[len(q)-1]
		q = q[:len(q)-1]
		if v.Block == nil || v.Uses != 0 || v.Op.HasSideEffects() {
			continue
		}
		switch v.Op {
		case OpParam, OpGlobal:
			continue
		}
		args := append([]*Value(nil), v.Args...)
		f.RemoveValue(v)
		removed++
		for _, a := range args {
			if a.Uses == 0 {
				q = append(q, a)
			}
		}
	}
	return removed
}

// DeleteDeadPhiCycles removes phis that are only used by themselves or by
// other dead phis and increments feeding them, such as an induction variable
// that was replaced everywhere else.
func DeleteDeadPhiCycles(f *Func) int {
	removed := 0
	for _, b := range f.Blocks {
		for _, phi := range append([]*Value(nil), b.Phis()...) {
			if phi.Block == nil {
				continue
			}
			cycle := map[*Value]bool{phi: true}
			if !onlyFeedsItself(f, phi, cycle) {
				continue
			}
			for v := range cycle {
				v.ResetArgs()
			}
			for v := range cycle {
				if v.Block != nil && v.Uses == 0 {
					f.RemoveValue(v)
					removed++
				}
			}
		}
	}
	return removed
}

// onlyFeedsItself reports whether every transitive user of v is pure and
// inside the set, growing the set as it goes.
func onlyFeedsItself(f *Func, v *Value, set map[*Value]bool) bool {
	if len(f.ControlUsers(v)) > 0 {
		return false
	}
	for _, u := range f.Users(v) {
		if set[u] {
			continue
		}
		if u.Op.HasSideEffects() || len(set) > 8 {
			return false
		}
		set[u] = true
		if !onlyFeedsItself(f, u, set) {
			return false
		}
	}
	return true
}
