package ir

import (
	"bytes"
	"fmt"
	"io"
)

// Func is a function body in SSA form.
type Func struct {
	Name   string
	Blocks []*Block
	Entry  *Block
	Params []*Value

	nextValueID int
	nextBlockID int

	consts  map[constKey]*Value
	globals map[string]*Value
}

type constKey struct {
	t Type
	c int64
}

// NewFunc returns an empty function with an entry block.
func NewFunc(name string) *Func {
	f := &Func{
		Name:    name,
		consts:  make(map[constKey]*Value),
		globals: make(map[string]*Value),
	}
	f.Entry = f.NewBlock(BlockPlain)
	f.Entry.Comment = "entry"
	return f
}

// NumValues returns an upper bound of the value IDs in f.
func (f *Func) NumValues() int { return f.nextValueID }

// NumBlocks returns an upper bound of the block IDs in f.
func (f *Func) NumBlocks() int { return f.nextBlockID }

// NewBlock creates a new, unconnected block.
func (f *Func) NewBlock(kind BlockKind) *Block {
	b := &Block{ID: f.nextBlockID, Kind: kind, Func: f}
	f.nextBlockID++
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Func) newValue(op Op, t Type, b *Block, args []*Value) *Value {
	v := &Value{ID: f.nextValueID, Op: op, Type: t, Block: b}
	f.nextValueID++
	for _, a := range args {
		v.AddArg(a)
	}
	return v
}

// Param appends a new parameter to f.
func (f *Func) Param(name string, t Type) *Value {
	v := f.newValue(OpParam, t, f.Entry, nil)
	v.Aux = name
	f.Entry.insertAt(len(f.Params), v)
	f.Params = append(f.Params, v)
	return v
}

// Global returns the address of the named global symbol.
func (f *Func) Global(name string) *Value {
	if g, ok := f.globals[name]; ok {
		return g
	}
	g := f.newValue(OpGlobal, Ptr, f.Entry, nil)
	g.Aux = name
	f.Entry.insertAt(len(f.Params), g)
	f.globals[name] = g
	return g
}

// ConstInt returns the (shared) integer constant c of type t.
// Constants live at the top of the entry block, so they dominate every use.
func (f *Func) ConstInt(t Type, c int64) *Value {
	c = t.SignExtend(c)
	k := constKey{t: t, c: c}
	if v, ok := f.consts[k]; ok && v.Block != nil {
		return v
	}
	v := f.newValue(OpConst, t, f.Entry, nil)
	v.AuxInt = c
	f.Entry.insertAt(0, v)
	f.consts[k] = v
	return v
}

// ConstFloat returns a new floating point constant.
func (f *Func) ConstFloat(t Type, c float64) *Value {
	v := f.newValue(OpFConst, t, f.Entry, nil)
	v.AuxFloat = c
	f.Entry.insertAt(0, v)
	return v
}

// RemoveValue deletes v from its block. v must be unused.
func (f *Func) RemoveValue(v *Value) {
	if v.Uses != 0 {
		panic(fmt.Sprintf("ir: removing %s with %d uses", v.Name(), v.Uses))
	}
	if v.Op == OpConst {
		delete(f.consts, constKey{t: v.Type, c: v.AuxInt})
	}
	if v.Op == OpGlobal {
		delete(f.globals, v.Aux)
	}
	v.ResetArgs()
	if v.Block != nil {
		v.Block.removeValue(v)
		v.Block = nil
	}
}

// Users returns the values that take v as an argument, in block then
// instruction order. A value using v twice is listed once.
func (f *Func) Users(v *Value) []*Value {
	var users []*Value
	for _, b := range f.Blocks {
		for _, u := range b.Values {
			for _, a := range u.Args {
				if a == v {
					users = append(users, u)
					break
				}
			}
		}
	}
	return users
}

// ControlUsers returns the blocks branching on v.
func (f *Func) ControlUsers(v *Value) []*Block {
	var blocks []*Block
	for _, b := range f.Blocks {
		if b.Control == v {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// ReplaceAllUses redirects every use of old to nu.
func (f *Func) ReplaceAllUses(old, nu *Value) {
	for _, b := range f.Blocks {
		for _, u := range b.Values {
			for i, a := range u.Args {
				if a == old {
					u.SetArg(i, nu)
				}
			}
		}
		if b.Control == old {
			b.SetControl(nu)
		}
	}
}

// SplitEdge inserts a new block on the edge p -> s and returns it. Phi
// arguments in s coming from p now come from the new block.
func (f *Func) SplitEdge(p, s *Block) *Block {
	mid := f.NewBlock(BlockPlain)
	mid.Comment = "split"
	p.replaceSucc(s, mid)
	mid.Preds = append(mid.Preds, p)
	mid.Succs = append(mid.Succs, s)
	s.Preds[s.PredIndex(p)] = mid
	return mid
}

// IsCriticalEdge reports whether p -> s is critical: p has several
// successors and s has several predecessors.
func IsCriticalEdge(p, s *Block) bool {
	return len(p.Succs) > 1 && len(s.Preds) > 1
}

// WriteTo writes f in a human readable form.
func (f *Func) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("func %s:\n", f.Name))
	for _, b := range f.Blocks {
		buf.WriteString(fmt.Sprintf("%s:", b))
		if b.Comment != "" {
			buf.WriteString(" ; " + b.Comment)
		}
		buf.WriteString(" <-")
		for _, p := range b.Preds {
			buf.WriteString(" " + p.String())
		}
		buf.WriteString("\n")
		for _, v := range b.Values {
			if v.Op == OpConst || v.Op == OpParam || v.Op == OpGlobal {
				continue
			}
			buf.WriteString("\t" + v.LongString() + "\n")
		}
		switch b.Kind {
		case BlockPlain:
			if len(b.Succs) > 0 {
				buf.WriteString(fmt.Sprintf("\tjump %s\n", b.Succs[0]))
			}
		case BlockIf:
			buf.WriteString(fmt.Sprintf("\tif %s goto %s else %s\n", b.Control.Name(), b.Succs[0], b.Succs[1]))
		case BlockRet:
			if b.Control != nil {
				buf.WriteString(fmt.Sprintf("\treturn %s\n", b.Control.Name()))
			} else {
				buf.WriteString("\treturn\n")
			}
		}
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (f *Func) String() string {
	var buf bytes.Buffer
	f.WriteTo(&buf)
	return buf.String()
}
