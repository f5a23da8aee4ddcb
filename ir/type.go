// Package ir is a small mutable SSA intermediate representation used by the
// loop optimisations in this module.
//
// A Func owns an arena of Blocks and Values. Both are identified by IDs that
// are never reused, so maps and slices keyed by ID stay valid while blocks are
// split and values are inserted. Phi arguments are ordered as the Preds of
// their block, and a block ends with an implicit terminator described by its
// Kind, Succs and Control value.
package ir

import "fmt"

// TypeKind classifies a Type.
type TypeKind uint8

const (
	VoidKind TypeKind = iota
	IntKind
	PtrKind
	FloatKind
)

// Type is a machine-level value type.
type Type struct {
	Kind TypeKind
	Bits uint8
}

var (
	Void = Type{Kind: VoidKind}
	I1   = Type{Kind: IntKind, Bits: 1}
	I8   = Type{Kind: IntKind, Bits: 8}
	I16  = Type{Kind: IntKind, Bits: 16}
	I32  = Type{Kind: IntKind, Bits: 32}
	I64  = Type{Kind: IntKind, Bits: 64}
	Ptr  = Type{Kind: PtrKind, Bits: 64}
	F64  = Type{Kind: FloatKind, Bits: 64}
)

// IntType returns the integer type with the given width.
func IntType(bits uint8) Type { return Type{Kind: IntKind, Bits: bits} }

// IsInteger reports whether values of t take part in integer arithmetic.
// Pointers are integers of pointer width.
func (t Type) IsInteger() bool { return t.Kind == IntKind || t.Kind == PtrKind }

func (t Type) IsPointer() bool { return t.Kind == PtrKind }

func (t Type) IsFloat() bool { return t.Kind == FloatKind }

// Size returns the store size of t in bytes.
func (t Type) Size() int64 {
	if t.Bits == 0 {
		return 0
	}
	return (int64(t.Bits) + 7) / 8
}

func (t Type) String() string {
	switch t.Kind {
	case IntKind:
		return fmt.Sprintf("i%d", t.Bits)
	case PtrKind:
		return "ptr"
	case FloatKind:
		return fmt.Sprintf("f%d", t.Bits)
	}
	return "void"
}

// SignExtend interprets the low bits of c as a signed t.
func (t Type) SignExtend(c int64) int64 {
	if t.Bits == 0 || t.Bits >= 64 {
		return c
	}
	shift := 64 - uint(t.Bits)
	return c << shift >> shift
}
