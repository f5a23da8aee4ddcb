package lower

import (
	"go/types"

	"github.com/nickng/lsr/ir"
)

// irType returns the machine type of values of Go type t.
func irType(t types.Type) (ir.Type, bool) {
	switch t := t.Underlying().(type) {
	case *types.Basic:
		switch t.Kind() {
		case types.Bool, types.UntypedBool:
			return ir.I1, true
		case types.Int8, types.Uint8:
			return ir.I8, true
		case types.Int16, types.Uint16:
			return ir.I16, true
		case types.Int32, types.Uint32:
			return ir.I32, true
		case types.Int, types.Int64, types.Uint, types.Uint64, types.Uintptr:
			return ir.I64, true
		case types.Float64:
			return ir.F64, true
		case types.UnsafePointer:
			return ir.Ptr, true
		}
	case *types.Pointer:
		return ir.Ptr, true
	}
	return ir.Type{}, false
}

func isUnsigned(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsUnsigned != 0
}

func isFloat(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsFloat != 0
}

// elemAddr returns the element type of the array or slice indexed through
// a value of type t.
func elemAddr(t types.Type) (types.Type, bool) {
	switch t := t.Underlying().(type) {
	case *types.Slice:
		return t.Elem(), true
	case *types.Pointer:
		if a, ok := t.Elem().Underlying().(*types.Array); ok {
			return a.Elem(), true
		}
	}
	return nil, false
}
