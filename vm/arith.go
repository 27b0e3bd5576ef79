package vm

import (
	"bytes"
	"math"
)

// binary applies a two-operand instruction. Integer pairs stay integers,
// mixed number pairs promote to float, and anything else is a type error.
func (m *Machine) binary(op Opcode, a, b Value) (Value, error) {
	if a.IsInt() && b.IsInt() {
		return m.intBinary(op, a.Int(), b.Int())
	}
	switch op {
	case OpConcat:
		if m.arena.KindOf(a) != KindString || m.arena.KindOf(b) != KindString {
			return Nil, m.mismatch("++", a, b)
		}
		return m.arena.Concat(a, b)
	case OpLt, OpLe, OpGt, OpGe:
		if m.arena.KindOf(a) == KindString && m.arena.KindOf(b) == KindString {
			x, _ := m.arena.StringBytes(a)
			y, _ := m.arena.StringBytes(b)
			return compareResult(op, bytes.Compare(x, y)), nil
		}
	case OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr:
		return Nil, m.mismatch(opSymbol(op), a, b)
	}

	x, okA := toFloat(a)
	y, okB := toFloat(b)
	if !okA || !okB {
		return Nil, m.mismatch(opSymbol(op), a, b)
	}
	switch op {
	case OpAdd:
		return floatResult(op, x, y, x+y)
	case OpSub:
		return floatResult(op, x, y, x-y)
	case OpMul:
		return floatResult(op, x, y, x*y)
	case OpDiv:
		if y == 0 {
			return Nil, runtimeErrorf(ErrDivisionByZero, "%s / 0", formatFloat(x))
		}
		return floatResult(op, x, y, x/y)
	case OpMod:
		if y == 0 {
			return Nil, runtimeErrorf(ErrDivisionByZero, "%s %% 0", formatFloat(x))
		}
		return FromFloat64(math.Mod(x, y)), nil
	case OpLt, OpLe, OpGt, OpGe:
		return compareFloats(op, x, y), nil
	}
	return Nil, m.mismatch(opSymbol(op), a, b)
}

// floatResult boxes r, failing when finite operands produced an infinity.
func floatResult(op Opcode, x, y, r float64) (Value, error) {
	if math.IsInf(r, 0) {
		return Nil, runtimeErrorf(ErrFloatOverflow, "%s %s %s", formatFloat(x), opSymbol(op), formatFloat(y))
	}
	return FromFloat64(r), nil
}

func (m *Machine) intBinary(op Opcode, x, y int64) (Value, error) {
	var r int64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		if x != 0 && y != 0 {
			r = x * y
			if r/y != x {
				return Nil, runtimeErrorf(ErrIntegerOverflow, "%d * %d", x, y)
			}
		}
	case OpDiv:
		if y == 0 {
			return Nil, runtimeErrorf(ErrDivisionByZero, "%d / 0", x)
		}
		r = x / y
	case OpMod:
		if y == 0 {
			return Nil, runtimeErrorf(ErrDivisionByZero, "%d %% 0", x)
		}
		r = x % y
	case OpBitAnd:
		r = x & y
	case OpBitOr:
		r = x | y
	case OpBitXor:
		r = x ^ y
	case OpShl, OpShr:
		if y < 0 || y > 63 {
			return Nil, runtimeErrorf(ErrInvalidOperand, "shift count %d outside [0, 63]", y)
		}
		if op == OpShr {
			r = x >> y
		} else {
			r = x << y
			if r>>y != x {
				return Nil, runtimeErrorf(ErrIntegerOverflow, "%d << %d", x, y)
			}
		}
	case OpLt, OpLe, OpGt, OpGe:
		switch {
		case x < y:
			return compareResult(op, -1), nil
		case x > y:
			return compareResult(op, 1), nil
		}
		return compareResult(op, 0), nil
	case OpConcat:
		return Nil, runtimeErrorf(ErrTypeMismatch, "cannot apply ++ to int and int")
	default:
		return Nil, runtimeErrorf(ErrInternal, "%s is not a binary operator", op)
	}
	v, ok := TryFromInt(r)
	if !ok {
		return Nil, runtimeErrorf(ErrIntegerOverflow, "%s result %d outside the integer range", opSymbol(op), r)
	}
	return v, nil
}

func (m *Machine) unary(op Opcode, v Value) (Value, error) {
	switch op {
	case OpNeg:
		if v.IsInt() {
			r, ok := TryFromInt(-v.Int())
			if !ok {
				return Nil, runtimeErrorf(ErrIntegerOverflow, "-(%d)", v.Int())
			}
			return r, nil
		}
		if v.IsFloat() {
			return FromFloat64(-v.Float64()), nil
		}
		return Nil, runtimeErrorf(ErrTypeMismatch, "cannot negate %s", m.describe(v))
	case OpNot:
		if !v.IsBool() {
			return Nil, runtimeErrorf(ErrTypeMismatch, "cannot apply ! to %s", m.describe(v))
		}
		return FromBool(v == False), nil
	case OpBitNot:
		if !v.IsInt() {
			return Nil, runtimeErrorf(ErrTypeMismatch, "cannot apply ~ to %s", m.describe(v))
		}
		return FromInt(^v.Int()), nil
	}
	return Nil, runtimeErrorf(ErrInternal, "%s is not a unary operator", op)
}

func (m *Machine) mismatch(sym string, a, b Value) error {
	return runtimeErrorf(ErrTypeMismatch, "cannot apply %s to %s and %s", sym, m.describe(a), m.describe(b))
}

func compareFloats(op Opcode, x, y float64) Value {
	switch op {
	case OpLt:
		return FromBool(x < y)
	case OpLe:
		return FromBool(x <= y)
	case OpGt:
		return FromBool(x > y)
	}
	return FromBool(x >= y)
}

// compareResult maps a three-way comparison onto a relational opcode.
func compareResult(op Opcode, c int) Value {
	switch op {
	case OpLt:
		return FromBool(c < 0)
	case OpLe:
		return FromBool(c <= 0)
	case OpGt:
		return FromBool(c > 0)
	}
	return FromBool(c >= 0)
}

func opSymbol(op Opcode) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpBitAnd:
		return "&"
	case OpBitOr:
		return "|"
	case OpBitXor:
		return "^"
	case OpShl:
		return "<<"
	case OpShr:
		return ">>"
	case OpConcat:
		return "++"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return op.String()
}
