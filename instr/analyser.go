// Package instr provides the Analyser interface for instructions.
package instr

import "golang.org/x/tools/go/ssa"

// Analyser is an interface for Instruction analysis. Visit dispatches each
// instruction to the method for its type; the instructions without a method
// go to VisitOther.
type Analyser interface {
	VisitBinOp(instr *ssa.BinOp) error
	VisitCall(instr *ssa.Call) error
	VisitChangeType(instr *ssa.ChangeType) error
	VisitConvert(instr *ssa.Convert) error
	VisitDebugRef(instr *ssa.DebugRef) error
	VisitFieldAddr(instr *ssa.FieldAddr) error
	VisitIf(instr *ssa.If) error
	VisitIndexAddr(instr *ssa.IndexAddr) error
	VisitJump(instr *ssa.Jump) error
	VisitPhi(instr *ssa.Phi) error
	VisitReturn(instr *ssa.Return) error
	VisitStore(instr *ssa.Store) error
	VisitUnOp(instr *ssa.UnOp) error
	VisitOther(instr ssa.Instruction) error
}

// Visit applies a to instr.
func Visit(a Analyser, instr ssa.Instruction) error {
	switch instr := instr.(type) {
	case *ssa.BinOp:
		return a.VisitBinOp(instr)
	case *ssa.Call:
		return a.VisitCall(instr)
	case *ssa.ChangeType:
		return a.VisitChangeType(instr)
	case *ssa.Convert:
		return a.VisitConvert(instr)
	case *ssa.DebugRef:
		return a.VisitDebugRef(instr)
	case *ssa.FieldAddr:
		return a.VisitFieldAddr(instr)
	case *ssa.If:
		return a.VisitIf(instr)
	case *ssa.IndexAddr:
		return a.VisitIndexAddr(instr)
	case *ssa.Jump:
		return a.VisitJump(instr)
	case *ssa.Phi:
		return a.VisitPhi(instr)
	case *ssa.Return:
		return a.VisitReturn(instr)
	case *ssa.Store:
		return a.VisitStore(instr)
	case *ssa.UnOp:
		return a.VisitUnOp(instr)
	}
	return a.VisitOther(instr)
}

// VisitBlocks applies a to the instructions of fn, visiting blocks in
// dominator tree preorder so that operands other than phi edges are
// visited before their users. It stops at the first error.
func VisitBlocks(a Analyser, fn *ssa.Function, enter func(*ssa.BasicBlock)) error {
	for _, b := range fn.DomPreorder() {
		if enter != nil {
			enter(b)
		}
		for _, instr := range b.Instrs {
			if err := Visit(a, instr); err != nil {
				return err
			}
		}
	}
	return nil
}
