package ir

// This file contains code to compute the dominator tree
// of a control-flow graph.

type blockAndIndex struct {
	b     *Block
	index int // index is the number of successor edges of b that have already been explored.
}

// Postorder computes a postorder traversal ordering for the basic blocks in
// f. Unreachable blocks will not appear.
func Postorder(f *Func) []*Block {
	seen := make([]bool, f.NumBlocks())
	order := make([]*Block, 0, len(f.Blocks))

	// stack of blocks and next child to visit
	s := make([]blockAndIndex, 0, 32)
	s = append(s, blockAndIndex{b: f.Entry})
	seen[f.Entry.ID] = true
	for len(s) > 0 {
		tos := len(s) - 1
		x := s[tos]
		b := x.b
		if i := x.index; i < len(b.Succs) {
			s[tos].index++
			bb := b.Succs[i]
			if !seen[bb.ID] {
				seen[bb.ID] = true
				s = append(s, blockAndIndex{b: bb})
			}
			continue
		}
		s = s[:tos]
		order = append(order, b)
	}
	return order
}

// DomTree is the dominator tree of a Func.
type DomTree struct {
	f        *Func
	idom     []*Block
	children [][]*Block
	pre      []int // pre-order number in the dominator tree
	post     []int // post-order number in the dominator tree
	valid    bool
}

// NewDomTree computes the dominator tree of f with the Cooper, Harvey and
// Kennedy iterative algorithm.
func NewDomTree(f *Func) *DomTree {
	t := &DomTree{f: f}
	t.compute()
	return t
}

func (t *DomTree) compute() {
	f := t.f
	po := Postorder(f)
	postnum := make([]int, f.NumBlocks())
	for i := range postnum {
		postnum[i] = -1
	}
	for i, b := range po {
		postnum[b.ID] = i
	}
	idom := make([]*Block, f.NumBlocks())
	idom[f.Entry.ID] = f.Entry
	for changed := true; changed; {
		changed = false
		for i := len(po) - 2; i >= 0; i-- {
			b := po[i]
			var d *Block
			for _, p := range b.Preds {
				if postnum[p.ID] < 0 || idom[p.ID] == nil {
					continue
				}
				if d == nil {
					d = p
					continue
				}
				d = intersect(d, p, postnum, idom)
			}
			if idom[b.ID] != d {
				idom[b.ID] = d
				changed = true
			}
		}
	}
	idom[f.Entry.ID] = nil
	t.idom = idom
	t.renumber()
}

// intersect finds the closest dominator of both b and c.
// It requires a postorder numbering of all the blocks.
func intersect(b, c *Block, postnum []int, idom []*Block) *Block {
	for b != c {
		if postnum[b.ID] < postnum[c.ID] {
			b = idom[b.ID]
		} else {
			c = idom[c.ID]
		}
	}
	return b
}

func (t *DomTree) renumber() {
	n := t.f.NumBlocks()
	if len(t.idom) < n {
		t.idom = append(t.idom, make([]*Block, n-len(t.idom))...)
	}
	t.children = make([][]*Block, n)
	for _, b := range t.f.Blocks {
		if d := t.idom[b.ID]; d != nil {
			t.children[d.ID] = append(t.children[d.ID], b)
		}
	}
	t.pre = make([]int, n)
	t.post = make([]int, n)
	for i := range t.pre {
		t.pre[i] = -1
	}
	counter := 0
	var walk func(b *Block)
	walk = func(b *Block) {
		t.pre[b.ID] = counter
		counter++
		for _, c := range t.children[b.ID] {
			walk(c)
		}
		t.post[b.ID] = counter
		counter++
	}
	walk(t.f.Entry)
	t.valid = true
}

// AddBlock records a block created after the tree was computed, whose
// immediate dominator is idom.
func (t *DomTree) AddBlock(b, idom *Block) {
	if len(t.idom) <= b.ID {
		t.idom = append(t.idom, make([]*Block, b.ID+1-len(t.idom))...)
	}
	t.idom[b.ID] = idom
	t.valid = false
}

// ChangeIdom sets the immediate dominator of b.
func (t *DomTree) ChangeIdom(b, idom *Block) {
	t.idom[b.ID] = idom
	t.valid = false
}

func (t *DomTree) check() {
	if !t.valid {
		t.renumber()
	}
}

// Idom returns the immediate dominator of b, or nil for the entry block.
func (t *DomTree) Idom(b *Block) *Block {
	if b.ID >= len(t.idom) {
		return nil
	}
	return t.idom[b.ID]
}

// Children returns the blocks immediately dominated by b.
func (t *DomTree) Children(b *Block) []*Block {
	t.check()
	return t.children[b.ID]
}

// Reachable reports whether b is reachable from the entry block.
func (t *DomTree) Reachable(b *Block) bool {
	t.check()
	return b.ID < len(t.pre) && t.pre[b.ID] >= 0
}

// Dominates reports whether a dominates b.
func (t *DomTree) Dominates(a, b *Block) bool {
	t.check()
	if !t.Reachable(a) || !t.Reachable(b) {
		return false
	}
	return t.pre[a.ID] <= t.pre[b.ID] && t.post[b.ID] <= t.post[a.ID]
}

// StrictlyDominates reports whether a dominates b and a != b.
func (t *DomTree) StrictlyDominates(a, b *Block) bool {
	return a != b && t.Dominates(a, b)
}

// ValueDominates reports whether the definition def is available at user,
// i.e. def comes strictly before user in the same block or def's block
// strictly dominates user's block. Phi users see their arguments at the end
// of the corresponding predecessor.
func (t *DomTree) ValueDominates(def, user *Value) bool {
	if user.Op == OpPhi {
		for i, a := range user.Args {
			if a == def && !t.availableAtEnd(def, user.Block.Preds[i]) {
				return false
			}
		}
		return true
	}
	if def.Block == user.Block {
		return def.Index() < user.Index()
	}
	return t.StrictlyDominates(def.Block, user.Block)
}

func (t *DomTree) availableAtEnd(def *Value, b *Block) bool {
	return t.Dominates(def.Block, b)
}

// DominatesBlockEnd reports whether def is available at the end of b.
func (t *DomTree) DominatesBlockEnd(def *Value, b *Block) bool {
	return t.availableAtEnd(def, b)
}

// LCA returns the nearest common dominator of a and b.
func (t *DomTree) LCA(a, b *Block) *Block {
	for !t.Dominates(a, b) {
		a = t.Idom(a)
		if a == nil {
			return t.f.Entry
		}
	}
	return a
}

// PreorderBlocks returns the blocks of the dominator subtree rooted at root
// in dominator-tree program order.
func (t *DomTree) PreorderBlocks(root *Block) []*Block {
	t.check()
	var order []*Block
	stack := []*Block{root}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, b)
		cs := t.children[b.ID]
		for i := len(cs) - 1; i >= 0; i-- {
			stack = append(stack, cs[i])
		}
	}
	return order
}
