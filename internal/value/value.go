// Package value implements the tagged Value representation from
// spec.md §3: Nil, Bool, Number and Obj variants, with the equality
// and truthiness rules the VM and compiler both rely on.
package value

import (
	"fmt"
	"strconv"

	"emberlang/internal/object"
)

type Type int

const (
	Nil Type = iota
	Bool
	Number
	Obj
)

// Value is an explicit sum type rather than a raw union (spec.md §9):
// payload extraction always checks Type first. Obj is a non-owning
// reference to a heap object tracked by the VM's object registry.
type Value struct {
	Type   Type
	AsBool bool
	AsNum  float64
	AsObj  *object.String
}

func NilValue() Value                     { return Value{Type: Nil} }
func BoolValue(b bool) Value              { return Value{Type: Bool, AsBool: b} }
func NumberValue(n float64) Value         { return Value{Type: Number, AsNum: n} }
func StringValue(s *object.String) Value  { return Value{Type: Obj, AsObj: s} }

// IsFalsey implements the truthiness rule: nil and false are falsey,
// everything else is truthy.
func (v Value) IsFalsey() bool {
	return v.Type == Nil || (v.Type == Bool && !v.AsBool)
}

// Equal implements the structural equality rules of spec.md §3:
// values of different variants are never equal; Number uses IEEE-754
// comparison (so NaN != NaN); Obj compares by reference identity,
// which is sound for strings because of interning.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case Nil:
		return true
	case Bool:
		return a.AsBool == b.AsBool
	case Number:
		return a.AsNum == b.AsNum
	case Obj:
		return a.AsObj == b.AsObj
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Type {
	case Nil:
		return "nil"
	case Bool:
		if v.AsBool {
			return "true"
		}
		return "false"
	case Number:
		return strconv.FormatFloat(v.AsNum, 'g', -1, 64)
	case Obj:
		return v.AsObj.Chars
	default:
		return fmt.Sprintf("<invalid value type %d>", v.Type)
	}
}
