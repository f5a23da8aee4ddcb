package lsr

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/nickng/lsr/scev"
)

// RegUseTracker maps each candidate register to the set of uses with a
// formula referencing it.
type RegUseTracker struct {
	usedBy map[*scev.Expr]*bitset.BitSet
	order  []*scev.Expr
}

// NewRegUseTracker returns an empty tracker.
func NewRegUseTracker() *RegUseTracker {
	return &RegUseTracker{usedBy: make(map[*scev.Expr]*bitset.BitSet)}
}

// countRegister records that use luIdx references reg.
func (t *RegUseTracker) countRegister(reg *scev.Expr, luIdx int) {
	bs, ok := t.usedBy[reg]
	if !ok {
		bs = bitset.New(uint(luIdx + 1))
		t.usedBy[reg] = bs
		t.order = append(t.order, reg)
	}
	bs.Set(uint(luIdx))
}

// dropRegister records that use luIdx no longer references reg.
func (t *RegUseTracker) dropRegister(reg *scev.Expr, luIdx int) {
	if bs, ok := t.usedBy[reg]; ok {
		bs.Clear(uint(luIdx))
	}
}

// swapAndDropUse renumbers use lastLUIdx as luIdx after luIdx was deleted
// by moving the last use into its slot.
func (t *RegUseTracker) swapAndDropUse(luIdx, lastLUIdx int) {
	for _, bs := range t.usedBy {
		bs.SetTo(uint(luIdx), bs.Test(uint(lastLUIdx)))
		bs.Clear(uint(lastLUIdx))
	}
}

// isRegUsedByUsesOtherThan reports whether a use other than luIdx
// references reg.
func (t *RegUseTracker) isRegUsedByUsesOtherThan(reg *scev.Expr, luIdx int) bool {
	bs, ok := t.usedBy[reg]
	if !ok {
		return false
	}
	n := bs.Count()
	if bs.Test(uint(luIdx)) {
		n--
	}
	return n > 0
}

// usedByIndices returns the uses referencing reg. The set must not be
// modified.
func (t *RegUseTracker) usedByIndices(reg *scev.Expr) *bitset.BitSet {
	if bs, ok := t.usedBy[reg]; ok {
		return bs
	}
	return bitset.New(0)
}

// regs returns the registers in the order they were first counted.
func (t *RegUseTracker) regs() []*scev.Expr { return t.order }

func (t *RegUseTracker) clear() {
	t.usedBy = make(map[*scev.Expr]*bitset.BitSet)
	t.order = nil
}
