package ir

import "fmt"

// BlockKind describes how control leaves a block.
type BlockKind uint8

const (
	BlockPlain BlockKind = iota // one successor
	BlockIf                     // Control chooses Succs[0] (true) or Succs[1]
	BlockRet                    // no successors
)

// Block is a basic block.
type Block struct {
	ID      int
	Kind    BlockKind
	Func    *Func
	Values  []*Value
	Preds   []*Block
	Succs   []*Block
	Control *Value
	Comment string
}

func (b *Block) String() string { return fmt.Sprintf("b%d", b.ID) }

// PredIndex returns the position of p in b.Preds, or -1.
func (b *Block) PredIndex(p *Block) int {
	for i, q := range b.Preds {
		if q == p {
			return i
		}
	}
	return -1
}

// SuccIndex returns the position of s in b.Succs, or -1.
func (b *Block) SuccIndex(s *Block) int {
	for i, q := range b.Succs {
		if q == s {
			return i
		}
	}
	return -1
}

// AddEdgeTo adds a control flow edge b -> c.
func (b *Block) AddEdgeTo(c *Block) {
	b.Succs = append(b.Succs, c)
	c.Preds = append(c.Preds, b)
}

// SetControl sets the branch condition of an If block.
func (b *Block) SetControl(v *Value) {
	if b.Control != nil {
		b.Control.Uses--
	}
	b.Control = v
	if v != nil {
		v.Uses++
	}
}

// Phis returns the phi values at the top of b.
func (b *Block) Phis() []*Value {
	for i, v := range b.Values {
		if v.Op != OpPhi {
			return b.Values[:i]
		}
	}
	return b.Values
}

// FirstNonPhi returns the first value of b that is not a phi, or nil.
func (b *Block) FirstNonPhi() *Value {
	for _, v := range b.Values {
		if v.Op != OpPhi {
			return v
		}
	}
	return nil
}

// NewValue appends a new value to the end of b.
func (b *Block) NewValue(op Op, t Type, args ...*Value) *Value {
	v := b.Func.newValue(op, t, b, args)
	if op == OpPhi {
		b.insertAt(len(b.Phis()), v)
		return v
	}
	b.Values = append(b.Values, v)
	return v
}

// NewValueBefore inserts a new value immediately before pos, which must be in
// b. A nil pos appends.
func (b *Block) NewValueBefore(pos *Value, op Op, t Type, args ...*Value) *Value {
	if pos == nil {
		return b.NewValue(op, t, args...)
	}
	v := b.Func.newValue(op, t, b, args)
	i := pos.Index()
	if i < 0 {
		panic(fmt.Sprintf("ir: %s is not in %s", pos.Name(), b))
	}
	b.insertAt(i, v)
	return v
}

// NewPhi creates a phi at the top of b with one argument per predecessor.
func (b *Block) NewPhi(t Type, args ...*Value) *Value {
	v := b.Func.newValue(OpPhi, t, b, args)
	b.insertAt(len(b.Phis()), v)
	return v
}

func (b *Block) insertAt(i int, v *Value) {
	b.Values = append(b.Values, nil)
	copy(b.Values[i+1:], b.Values[i:])
	b.Values[i] = v
}

// MoveBefore moves v, which must already be in some block, to just before pos.
func (b *Block) MoveBefore(v, pos *Value) {
	v.Block.removeValue(v)
	v.Block = b
	if pos == nil {
		b.Values = append(b.Values, v)
		return
	}
	b.insertAt(pos.Index(), v)
}

func (b *Block) removeValue(v *Value) {
	i := v.Index()
	if i < 0 {
		return
	}
	copy(b.Values[i:], b.Values[i+1:])
	b.Values[len(b.Values)-1] = nil
	b.Values = b.Values[:len(b.Values)-1]
}

// replaceSucc redirects the edge b -> old to b -> nu without touching
// nu.Preds.
func (b *Block) replaceSucc(old, nu *Block) {
	for i, s := range b.Succs {
		if s == old {
			b.Succs[i] = nu
			return
		}
	}
}
