package loop

import (
	"bytes"
	"fmt"

	"github.com/nickng/lsr/ir"
)

// Loop is a natural loop.
type Loop struct {
	Header   *ir.Block
	Parent   *Loop
	Children []*Loop

	Blocks []*ir.Block // Header first, then in function block order.
	blocks map[*ir.Block]bool
}

func newLoop(header *ir.Block) *Loop {
	return &Loop{
		Header: header,
		blocks: map[*ir.Block]bool{header: true},
	}
}

// Contains reports whether b is in the loop (or one of its subloops).
func (l *Loop) Contains(b *ir.Block) bool { return l.blocks[b] }

// ContainsLoop reports whether o is l or nested inside l.
func (l *Loop) ContainsLoop(o *Loop) bool {
	for ; o != nil; o = o.Parent {
		if o == l {
			return true
		}
	}
	return false
}

// ContainsValue reports whether v is defined inside the loop.
func (l *Loop) ContainsValue(v *ir.Value) bool {
	return v.Block != nil && l.blocks[v.Block]
}

// Depth returns the nesting depth, 1 for outermost loops.
func (l *Loop) Depth() int {
	d := 0
	for p := l; p != nil; p = p.Parent {
		d++
	}
	return d
}

// IsInnermost reports whether l has no subloops.
func (l *Loop) IsInnermost() bool { return len(l.Children) == 0 }

// AddBlock records a block created inside l, e.g. by edge splitting.
func (l *Loop) AddBlock(b *ir.Block) {
	for p := l; p != nil; p = p.Parent {
		if !p.blocks[b] {
			p.blocks[b] = true
			p.Blocks = append(p.Blocks, b)
		}
	}
}

// Preheader returns the unique predecessor of the header from outside the
// loop if it has the header as its only successor, otherwise nil.
func (l *Loop) Preheader() *ir.Block {
	var pre *ir.Block
	for _, p := range l.Header.Preds {
		if l.Contains(p) {
			continue
		}
		if pre != nil && pre != p {
			return nil
		}
		pre = p
	}
	if pre == nil || len(pre.Succs) != 1 {
		return nil
	}
	return pre
}

// Latch returns the unique block in the loop branching back to the header,
// or nil when there are several.
func (l *Loop) Latch() *ir.Block {
	var latch *ir.Block
	for _, p := range l.Header.Preds {
		if !l.Contains(p) {
			continue
		}
		if latch != nil {
			return nil
		}
		latch = p
	}
	return latch
}

// ExitingBlocks returns the blocks of l with a successor outside l.
func (l *Loop) ExitingBlocks() []*ir.Block {
	var exiting []*ir.Block
	for _, b := range l.Blocks {
		for _, s := range b.Succs {
			if !l.Contains(s) {
				exiting = append(exiting, b)
				break
			}
		}
	}
	return exiting
}

// ExitBlocks returns the blocks outside l reached from inside l.
func (l *Loop) ExitBlocks() []*ir.Block {
	var exits []*ir.Block
	seen := make(map[*ir.Block]bool)
	for _, b := range l.Blocks {
		for _, s := range b.Succs {
			if !l.Contains(s) && !seen[s] {
				seen[s] = true
				exits = append(exits, s)
			}
		}
	}
	return exits
}

// HasDedicatedExits reports whether every exit block is only reached from
// inside the loop.
func (l *Loop) HasDedicatedExits() bool {
	for _, e := range l.ExitBlocks() {
		for _, p := range e.Preds {
			if !l.Contains(p) {
				return false
			}
		}
	}
	return true
}

// IsSimplified reports whether l has a preheader, a single latch and
// dedicated exits.
func (l *Loop) IsSimplified() bool {
	return l.Preheader() != nil && l.Latch() != nil && l.HasDedicatedExits()
}

func (l *Loop) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("loop@%s depth=%d blocks:", l.Header, l.Depth()))
	for _, b := range l.Blocks {
		buf.WriteString(" " + b.String())
	}
	return buf.String()
}
