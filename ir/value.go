package ir

import (
	"bytes"
	"fmt"
)

// Op is the operation computed by a Value.
type Op uint8

const (
	OpInvalid Op = iota
	OpConst      // AuxInt
	OpFConst     // AuxFloat
	OpParam      // function parameter, Aux is the name
	OpGlobal     // address of a global symbol, Aux is the name
	OpPhi
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpShl
	OpTrunc
	OpSExt
	OpZExt
	OpSIToFP
	OpUIToFP
	OpFAdd
	OpFMul
	OpICmp // AuxInt holds the Cond
	OpLoad
	OpStore // Args: value, address
	OpPrefetch
	OpCall // Aux is the callee
	OpLandingPad
)

var opNames = [...]string{
	OpInvalid:    "invalid",
	OpConst:      "const",
	OpFConst:     "fconst",
	OpParam:      "param",
	OpGlobal:     "global",
	OpPhi:        "phi",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpSDiv:       "sdiv",
	OpUDiv:       "udiv",
	OpShl:        "shl",
	OpTrunc:      "trunc",
	OpSExt:       "sext",
	OpZExt:       "zext",
	OpSIToFP:     "sitofp",
	OpUIToFP:     "uitofp",
	OpFAdd:       "fadd",
	OpFMul:       "fmul",
	OpICmp:       "icmp",
	OpLoad:       "load",
	OpStore:      "store",
	OpPrefetch:   "prefetch",
	OpCall:       "call",
	OpLandingPad: "landingpad",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op%d", o)
}

// HasSideEffects reports whether a value of this op must be kept even when
// nothing uses its result.
func (o Op) HasSideEffects() bool {
	switch o {
	case OpStore, OpPrefetch, OpCall, OpLandingPad:
		return true
	}
	return false
}

// Cond is the predicate of an OpICmp.
type Cond int64

const (
	CondEQ Cond = iota
	CondNE
	CondSLT
	CondSLE
	CondSGT
	CondSGE
	CondULT
	CondULE
	CondUGT
	CondUGE
)

var condNames = [...]string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge"}

func (c Cond) String() string {
	if c >= 0 && int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond%d", int64(c))
}

// IsEquality reports whether c is eq or ne.
func (c Cond) IsEquality() bool { return c == CondEQ || c == CondNE }

// Swapped returns the predicate with the operands exchanged.
func (c Cond) Swapped() Cond {
	switch c {
	case CondSLT:
		return CondSGT
	case CondSLE:
		return CondSGE
	case CondSGT:
		return CondSLT
	case CondSGE:
		return CondSLE
	case CondULT:
		return CondUGT
	case CondULE:
		return CondUGE
	case CondUGT:
		return CondULT
	case CondUGE:
		return CondULE
	}
	return c
}

// Inverse returns the negated predicate.
func (c Cond) Inverse() Cond {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondSLT:
		return CondSGE
	case CondSLE:
		return CondSGT
	case CondSGT:
		return CondSLE
	case CondSGE:
		return CondSLT
	case CondULT:
		return CondUGE
	case CondULE:
		return CondUGT
	case CondUGT:
		return CondULE
	}
	return CondULT
}

// Value is an SSA value. Values are created through Block methods so that
// use counts stay consistent.
type Value struct {
	ID       int
	Op       Op
	Type     Type
	Args     []*Value
	AuxInt   int64
	AuxFloat float64
	Aux      string
	Block    *Block

	// Uses counts the argument slots and block controls referring to this value.
	Uses int32
}

// Cond returns the predicate of an OpICmp.
func (v *Value) Cond() Cond { return Cond(v.AuxInt) }

// Name returns the printed name of the value.
func (v *Value) Name() string {
	switch v.Op {
	case OpConst:
		return fmt.Sprintf("%d:%s", v.AuxInt, v.Type)
	case OpParam:
		return v.Aux
	case OpGlobal:
		return "@" + v.Aux
	}
	return fmt.Sprintf("v%d", v.ID)
}

// IsConst reports whether v is an integer constant.
func (v *Value) IsConst() bool { return v.Op == OpConst }

// SetArg replaces argument i with w.
func (v *Value) SetArg(i int, w *Value) {
	v.Args[i].Uses--
	v.Args[i] = w
	w.Uses++
}

// AddArg appends w to the arguments of v.
func (v *Value) AddArg(w *Value) {
	v.Args = append(v.Args, w)
	w.Uses++
}

// ResetArgs drops all arguments of v.
func (v *Value) ResetArgs() {
	for _, a := range v.Args {
		a.Uses--
	}
	v.Args = nil
}

// Index returns the position of v inside its block, or -1.
func (v *Value) Index() int {
	if v.Block == nil {
		return -1
	}
	for i, w := range v.Block.Values {
		if w == v {
			return i
		}
	}
	return -1
}

// PhiIncoming returns the argument of phi v flowing in from pred.
func (v *Value) PhiIncoming(pred *Block) *Value {
	if i := v.Block.PredIndex(pred); i >= 0 {
		return v.Args[i]
	}
	return nil
}

// LongString returns the instruction form of v.
func (v *Value) LongString() string {
	var buf bytes.Buffer
	if v.Type.Kind != VoidKind {
		buf.WriteString(fmt.Sprintf("%s = ", v.Name()))
	}
	buf.WriteString(v.Op.String())
	switch v.Op {
	case OpICmp:
		buf.WriteString(" " + v.Cond().String())
	case OpFConst:
		buf.WriteString(fmt.Sprintf(" %g", v.AuxFloat))
	case OpCall:
		buf.WriteString(" " + v.Aux)
	}
	for i, a := range v.Args {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(" " + a.Name())
		if v.Op == OpPhi && v.Block != nil && i < len(v.Block.Preds) {
			buf.WriteString(fmt.Sprintf("[b%d]", v.Block.Preds[i].ID))
		}
	}
	if v.Type.Kind != VoidKind {
		buf.WriteString(" : " + v.Type.String())
	}
	return buf.String()
}

func (v *Value) String() string { return v.Name() }
