// Package lower translates functions in golang.org/x/tools/go/ssa form into
// the ir of this module, so that the loop optimisations can run on Go code.
//
// Only the scalar core of Go is lowered: integer and pointer arithmetic,
// comparisons, int to int and int to float64 conversions, loads and stores
// through pointers, indexing of arrays through pointers and of slice
// parameters, struct field addresses, static calls and structured control
// flow. A slice parameter s becomes two parameters, the data pointer s and
// its length s.len. Results of a function are not represented.
//
// Anything else makes the function unsupported, reported as an
// UnsupportedError.
package lower

import (
	"go/constant"
	"go/token"
	"go/types"
	"io"
	"io/ioutil"
	"log"

	"github.com/nickng/lsr/block"
	"github.com/nickng/lsr/instr"
	"github.com/nickng/lsr/ir"
	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"
)

// Func lowers fn.
func Func(fn *ssa.Function) (*ir.Func, error) {
	return FuncWithLog(fn, nil)
}

// FuncWithLog is Func with a debug log written to w.
func FuncWithLog(fn *ssa.Function, w io.Writer) (*ir.Func, error) {
	l := newLowerer(fn)
	if w != nil {
		l.logger.SetOutput(w)
	}
	return l.lower()
}

// lowerer holds the state of lowering one function.
type lowerer struct {
	fn     *ssa.Function
	f      *ir.Func
	sizes  types.Sizes
	blocks map[*ssa.BasicBlock]*ir.Block
	values map[ssa.Value]*ir.Value
	lens   map[ssa.Value]*ir.Value // slice parameter -> its length
	phis   []*ssa.Phi
	cur    *ir.Block
	logger *log.Logger
}

func newLowerer(fn *ssa.Function) *lowerer {
	return &lowerer{
		fn:     fn,
		f:      ir.NewFunc(fn.String()),
		sizes:  types.SizesFor("gc", "amd64"),
		blocks: make(map[*ssa.BasicBlock]*ir.Block),
		values: make(map[ssa.Value]*ir.Value),
		lens:   make(map[ssa.Value]*ir.Value),
		logger: log.New(ioutil.Discard, "lower: ", 0),
	}
}

func (l *lowerer) lower() (*ir.Func, error) {
	if len(l.fn.Blocks) == 0 {
		return nil, errors.Wrap(ErrNoBody, l.fn.String())
	}
	if len(l.fn.FreeVars) > 0 {
		return nil, l.unsupported(l.fn.Pos(), "closure "+l.fn.Name())
	}
	for _, p := range l.fn.Params {
		if err := l.param(p); err != nil {
			return nil, err
		}
	}
	l.buildCFG()

	err := instr.VisitBlocks(l, l.fn, func(b *ssa.BasicBlock) { l.cur = l.blocks[b] })
	if err != nil {
		return nil, err
	}
	for _, phi := range l.phis {
		v := l.values[phi]
		for _, e := range phi.Edges {
			arg, err := l.value(e, phi.Pos())
			if err != nil {
				return nil, err
			}
			v.AddArg(arg)
		}
	}
	if err := ir.Verify(l.f); err != nil {
		return nil, errors.Wrapf(err, "lowering %s", l.fn)
	}
	l.logger.Printf("%s: %d blocks, %d values", l.f.Name, len(l.f.Blocks), l.f.NumValues())
	return l.f, nil
}

// param declares the ir parameters of p.
func (l *lowerer) param(p *ssa.Parameter) error {
	if _, ok := p.Type().Underlying().(*types.Slice); ok {
		l.values[p] = l.f.Param(p.Name(), ir.Ptr)
		l.lens[p] = l.f.Param(p.Name()+".len", ir.I64)
		return nil
	}
	t, ok := irType(p.Type())
	if !ok {
		return l.unsupported(p.Pos(), "parameter "+p.Name()+" of type "+p.Type().String())
	}
	l.values[p] = l.f.Param(p.Name(), t)
	return nil
}

// buildCFG creates a block per reachable ssa block and the edges between
// them. Predecessors are then put in ssa order so that phi edges line up.
func (l *lowerer) buildCFG() {
	get := func(b *ssa.BasicBlock) *ir.Block {
		if irb, ok := l.blocks[b]; ok {
			return irb
		}
		irb := l.f.NewBlock(ir.BlockPlain)
		irb.Comment = b.Comment
		l.blocks[b] = irb
		return irb
	}
	block.TraverseEdges(l.fn, func(from, to *ssa.BasicBlock) {
		if from == nil {
			l.blocks[to] = l.f.Entry
			return
		}
		get(from).AddEdgeTo(get(to))
	})
	for b, irb := range l.blocks {
		preds := make([]*ir.Block, 0, len(b.Preds))
		for _, p := range b.Preds {
			preds = append(preds, l.blocks[p])
		}
		irb.Preds = preds
	}
}

// value returns the ir value of v, which must already be lowered unless it
// is a constant or a global.
func (l *lowerer) value(v ssa.Value, pos token.Pos) (*ir.Value, error) {
	switch v := v.(type) {
	case *ssa.Const:
		return l.constant(v)
	case *ssa.Global:
		return l.f.Global(v.RelString(nil)), nil
	}
	if w, ok := l.values[v]; ok {
		return w, nil
	}
	return nil, l.unsupported(pos, "value "+v.Name()+" of type "+v.Type().String())
}

func (l *lowerer) constant(c *ssa.Const) (*ir.Value, error) {
	t, ok := irType(c.Type())
	if !ok || c.Value == nil {
		return nil, l.unsupported(c.Pos(), "constant "+c.String())
	}
	switch {
	case t.IsFloat():
		return l.f.ConstFloat(t, c.Float64()), nil
	case t == ir.I1:
		if constant.BoolVal(c.Value) {
			return l.f.ConstInt(t, 1), nil
		}
		return l.f.ConstInt(t, 0), nil
	case isUnsigned(c.Type()):
		return l.f.ConstInt(t, int64(c.Uint64())), nil
	}
	return l.f.ConstInt(t, c.Int64()), nil
}

// operands lowers the operands of an instruction.
func (l *lowerer) operands(pos token.Pos, vs ...ssa.Value) ([]*ir.Value, error) {
	args := make([]*ir.Value, len(vs))
	for i, v := range vs {
		a, err := l.value(v, pos)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	return args, nil
}

// resize converts the integer v to t, extending by the signedness of from.
func (l *lowerer) resize(v *ir.Value, t ir.Type, from types.Type) *ir.Value {
	switch {
	case v.Type.Bits == t.Bits:
		return v
	case v.Type.Bits > t.Bits:
		return l.cur.NewValue(ir.OpTrunc, t, v)
	case isUnsigned(from) || v.Type == ir.I1:
		return l.cur.NewValue(ir.OpZExt, t, v)
	}
	return l.cur.NewValue(ir.OpSExt, t, v)
}

func (l *lowerer) unsupported(pos token.Pos, what string) error {
	var p token.Position
	if l.fn.Prog != nil && pos.IsValid() {
		p = l.fn.Prog.Fset.Position(pos)
	}
	l.logger.Printf("%s: cannot lower %s", l.fn, what)
	return &UnsupportedError{Pos: p, Func: l.fn.String(), What: what}
}
