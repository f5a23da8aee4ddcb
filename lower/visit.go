package lower

import (
	"fmt"
	"go/token"
	"go/types"

	"github.com/nickng/lsr/ir"
	"golang.org/x/tools/go/ssa"
)

func (l *lowerer) VisitBinOp(instr *ssa.BinOp) error {
	args, err := l.operands(instr.Pos(), instr.X, instr.Y)
	if err != nil {
		return err
	}
	x, y := args[0], args[1]
	xt := instr.X.Type()
	if isFloat(xt) {
		var op ir.Op
		switch instr.Op {
		case token.ADD:
			op = ir.OpFAdd
		case token.MUL:
			op = ir.OpFMul
		default:
			return l.unsupported(instr.Pos(), "float operator "+instr.Op.String())
		}
		l.values[instr] = l.cur.NewValue(op, x.Type, x, y)
		return nil
	}

	var cond ir.Cond
	unsigned := isUnsigned(xt)
	switch instr.Op {
	case token.ADD, token.SUB, token.MUL, token.QUO, token.SHL:
		return l.arith(instr, x, y)
	case token.EQL:
		cond = ir.CondEQ
	case token.NEQ:
		cond = ir.CondNE
	case token.LSS:
		cond = ir.CondSLT
	case token.LEQ:
		cond = ir.CondSLE
	case token.GTR:
		cond = ir.CondSGT
	case token.GEQ:
		cond = ir.CondSGE
	default:
		return l.unsupported(instr.Pos(), "operator "+instr.Op.String())
	}
	if unsigned && !cond.IsEquality() {
		cond += ir.CondULT - ir.CondSLT
	}
	cmp := l.cur.NewValue(ir.OpICmp, ir.I1, x, y)
	cmp.AuxInt = int64(cond)
	l.values[instr] = cmp
	return nil
}

// arith lowers the integer arithmetic operators.
func (l *lowerer) arith(instr *ssa.BinOp, x, y *ir.Value) error {
	t, ok := irType(instr.Type())
	if !ok {
		return l.unsupported(instr.Pos(), "result of type "+instr.Type().String())
	}
	var op ir.Op
	switch instr.Op {
	case token.ADD:
		op = ir.OpAdd
	case token.SUB:
		op = ir.OpSub
	case token.MUL:
		op = ir.OpMul
	case token.QUO:
		op = ir.OpSDiv
		if isUnsigned(instr.X.Type()) {
			op = ir.OpUDiv
		}
	case token.SHL:
		op = ir.OpShl
		y = l.resize(y, t, instr.Y.Type())
	}
	l.values[instr] = l.cur.NewValue(op, t, x, y)
	return nil
}

func (l *lowerer) VisitUnOp(instr *ssa.UnOp) error {
	x, err := l.value(instr.X, instr.Pos())
	if err != nil {
		return err
	}
	t, ok := irType(instr.Type())
	if !ok || instr.CommaOk {
		return l.unsupported(instr.Pos(), instr.String())
	}
	switch instr.Op {
	case token.MUL:
		l.values[instr] = l.cur.NewValue(ir.OpLoad, t, x)
	case token.SUB:
		if t.IsFloat() {
			return l.unsupported(instr.Pos(), "float negation")
		}
		l.values[instr] = l.cur.NewValue(ir.OpSub, t, l.f.ConstInt(t, 0), x)
	case token.NOT:
		cmp := l.cur.NewValue(ir.OpICmp, ir.I1, x, l.f.ConstInt(ir.I1, 0))
		cmp.AuxInt = int64(ir.CondEQ)
		l.values[instr] = cmp
	default:
		return l.unsupported(instr.Pos(), "operator "+instr.Op.String())
	}
	return nil
}

func (l *lowerer) VisitStore(instr *ssa.Store) error {
	args, err := l.operands(instr.Pos(), instr.Val, instr.Addr)
	if err != nil {
		return err
	}
	l.cur.NewValue(ir.OpStore, ir.Void, args[0], args[1])
	return nil
}

// VisitIndexAddr computes &x[i] as x + i*sizeof(elem).
func (l *lowerer) VisitIndexAddr(instr *ssa.IndexAddr) error {
	elem, ok := elemAddr(instr.X.Type())
	if !ok {
		return l.unsupported(instr.Pos(), "indexing "+instr.X.Type().String())
	}
	args, err := l.operands(instr.Pos(), instr.X, instr.Index)
	if err != nil {
		return err
	}
	base := args[0]
	idx := l.resize(args[1], ir.I64, instr.Index.Type())
	if size := l.sizes.Sizeof(elem); size != 1 {
		idx = l.cur.NewValue(ir.OpMul, ir.I64, idx, l.f.ConstInt(ir.I64, size))
	}
	l.values[instr] = l.cur.NewValue(ir.OpAdd, ir.Ptr, base, idx)
	return nil
}

func (l *lowerer) VisitFieldAddr(instr *ssa.FieldAddr) error {
	base, err := l.value(instr.X, instr.Pos())
	if err != nil {
		return err
	}
	st := instr.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
	fields := make([]*types.Var, st.NumFields())
	for i := range fields {
		fields[i] = st.Field(i)
	}
	off := l.sizes.Offsetsof(fields)[instr.Field]
	if off == 0 {
		l.values[instr] = base
		return nil
	}
	l.values[instr] = l.cur.NewValue(ir.OpAdd, ir.Ptr, base, l.f.ConstInt(ir.I64, off))
	return nil
}

func (l *lowerer) VisitConvert(instr *ssa.Convert) error {
	x, err := l.value(instr.X, instr.Pos())
	if err != nil {
		return err
	}
	from, to := instr.X.Type(), instr.Type()
	t, ok := irType(to)
	if !ok {
		return l.unsupported(instr.Pos(), "conversion to "+to.String())
	}
	switch {
	case t.IsPointer() || x.Type.IsPointer():
		// unsafe.Pointer <-> uintptr
		l.values[instr] = x
	case t.IsFloat() && isUnsigned(from):
		l.values[instr] = l.cur.NewValue(ir.OpUIToFP, t, x)
	case t.IsFloat() && !isFloat(from):
		l.values[instr] = l.cur.NewValue(ir.OpSIToFP, t, x)
	case t.IsInteger() && x.Type.IsInteger():
		l.values[instr] = l.resize(x, t, from)
	default:
		return l.unsupported(instr.Pos(), fmt.Sprintf("conversion %s to %s", from, to))
	}
	return nil
}

func (l *lowerer) VisitChangeType(instr *ssa.ChangeType) error {
	x, err := l.value(instr.X, instr.Pos())
	if err != nil {
		return err
	}
	l.values[instr] = x
	return nil
}

func (l *lowerer) VisitCall(instr *ssa.Call) error {
	common := instr.Common()
	if b, ok := common.Value.(*ssa.Builtin); ok {
		if b.Name() == "len" && len(common.Args) == 1 {
			if n, ok := l.lens[common.Args[0]]; ok {
				l.values[instr] = n
				return nil
			}
		}
		return l.unsupported(instr.Pos(), "builtin "+b.Name())
	}
	callee := common.StaticCallee()
	if callee == nil {
		return l.unsupported(instr.Pos(), "dynamic call "+common.Description())
	}

	var args []*ir.Value
	for _, a := range common.Args {
		v, err := l.value(a, instr.Pos())
		if err != nil {
			return err
		}
		args = append(args, v)
		if n, ok := l.lens[a]; ok {
			args = append(args, n)
		}
	}
	t := ir.Void
	switch res := common.Signature().Results(); res.Len() {
	case 0:
	case 1:
		rt, ok := irType(res.At(0).Type())
		if !ok {
			return l.unsupported(instr.Pos(), "call result of type "+res.At(0).Type().String())
		}
		t = rt
	default:
		return l.unsupported(instr.Pos(), "call with multiple results")
	}
	v := l.cur.NewValue(ir.OpCall, t, args...)
	v.Aux = callee.String()
	if t != ir.Void {
		l.values[instr] = v
	}
	return nil
}

func (l *lowerer) VisitDebugRef(instr *ssa.DebugRef) error { return nil }

func (l *lowerer) VisitPhi(instr *ssa.Phi) error {
	t, ok := irType(instr.Type())
	if !ok {
		return l.unsupported(instr.Pos(), "phi of type "+instr.Type().String())
	}
	l.values[instr] = l.cur.NewPhi(t)
	l.phis = append(l.phis, instr)
	return nil
}

func (l *lowerer) VisitIf(instr *ssa.If) error {
	c, err := l.value(instr.Cond, instr.Pos())
	if err != nil {
		return err
	}
	l.cur.Kind = ir.BlockIf
	l.cur.SetControl(c)
	return nil
}

func (l *lowerer) VisitJump(instr *ssa.Jump) error {
	l.cur.Kind = ir.BlockPlain
	return nil
}

func (l *lowerer) VisitReturn(instr *ssa.Return) error {
	l.cur.Kind = ir.BlockRet
	return nil
}

func (l *lowerer) VisitOther(instr ssa.Instruction) error {
	return l.unsupported(instr.Pos(), fmt.Sprintf("%T instruction", instr))
}
