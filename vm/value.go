package vm

import "math"

// Value is a single machine word holding any synapse value, using NaN-boxing.
//
// Floats are stored as their native IEEE 754 bits. Every other value lives in
// the quiet-NaN space, distinguished by three tag bits:
//   - Ref: Quiet NaN + tagRef + arena handle (16-bit generation, 32-bit index)
//   - Int: Quiet NaN + tagInt + 48-bit signed payload
//   - Special: Quiet NaN + tagSpecial + nil/true/false
//   - Func: Quiet NaN + tagFunc + function index into the program
//
// Values are plain data: copying one never copies the object it refers to.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagRef     uint64 = 0x0001000000000000
	tagInt     uint64 = 0x0002000000000000
	tagSpecial uint64 = 0x0003000000000000
	tagFunc    uint64 = 0x0004000000000000

	intSignBit    uint64 = 0x0000800000000000
	intSignExtend uint64 = 0xFFFF000000000000

	// Canonical NaN used for every float NaN so that arithmetic NaNs never
	// collide with a tagged payload.
	canonicalNaN uint64 = 0x7FF8000000000000
)

const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// Integer range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat reports whether v holds a float64. Infinities and the canonical
// NaN are floats; only tagged quiet NaNs are not.
func (v Value) IsFloat() bool {
	bits := uint64(v)
	if (bits & nanBits) != nanBits {
		return true
	}
	return bits&tagMask == 0
}

// IsInt reports whether v holds a 48-bit integer.
func (v Value) IsInt() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagInt)
}

// IsNumber reports whether v is an integer or a float.
func (v Value) IsNumber() bool {
	return v.IsInt() || v.IsFloat()
}

// IsRef reports whether v is a handle to an arena object.
func (v Value) IsRef() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagRef)
}

// IsFunc reports whether v is a function value.
func (v Value) IsFunc() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagFunc)
}

func (v Value) IsNil() bool { return v == Nil }

func (v Value) IsBool() bool { return v == True || v == False }

// ---------------------------------------------------------------------------
// Float
// ---------------------------------------------------------------------------

// Float64 returns v as a float64.
// Panics if v is not a float.
func (v Value) Float64() float64 {
	if !v.IsFloat() {
		panic("Value.Float64: not a float")
	}
	return math.Float64frombits(uint64(v))
}

// FromFloat64 creates a Value from a float64. All NaNs are canonicalized.
func FromFloat64(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// Integer
// ---------------------------------------------------------------------------

// Int returns v as an int64.
// Panics if v is not an integer.
func (v Value) Int() int64 {
	if !v.IsInt() {
		panic("Value.Int: not an integer")
	}
	payload := uint64(v) & payloadMask
	if (payload & intSignBit) != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// FromInt creates a Value from an int64.
// Panics if n is outside the 48-bit range.
func FromInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		panic("FromInt: value out of range")
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask))
}

// TryFromInt creates a Value from an int64, returning false if out of range.
func TryFromInt(n int64) (Value, bool) {
	if n > MaxSmallInt || n < MinSmallInt {
		return Nil, false
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask)), true
}

// ---------------------------------------------------------------------------
// Booleans
// ---------------------------------------------------------------------------

// FromBool converts a Go bool to True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// FuncIndex returns the program function index held by v.
// Panics if v is not a function.
func (v Value) FuncIndex() int {
	if !v.IsFunc() {
		panic("Value.FuncIndex: not a function")
	}
	return int(uint32(uint64(v) & payloadMask))
}

// FromFuncIndex creates a function value.
func FromFuncIndex(idx int) Value {
	return Value(nanBits | tagFunc | uint64(uint32(idx)))
}

// ---------------------------------------------------------------------------
// Arena handles
// ---------------------------------------------------------------------------

func makeRef(gen uint16, index uint32) Value {
	return Value(nanBits | tagRef | uint64(gen)<<32 | uint64(index))
}

// handle splits a Ref into its generation and object index.
func (v Value) handle() (gen uint16, index uint32) {
	payload := uint64(v) & payloadMask
	return uint16(payload >> 32), uint32(payload)
}

// toFloat widens a number to float64 for mixed arithmetic.
func toFloat(v Value) (float64, bool) {
	if v.IsInt() {
		return float64(v.Int()), true
	}
	if v.IsFloat() {
		return v.Float64(), true
	}
	return 0, false
}
