package vm

import (
	"bytes"
	"fmt"
	"math"
)

// Kind classifies a Value. Ref values are classified through the arena that
// owns them.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindStruct
	KindFunction
	KindStale
)

var kindNames = [...]string{
	KindNil:      "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindArray:    "array",
	KindStruct:   "struct",
	KindFunction: "function",
	KindStale:    "stale reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// object is the arena header for one heap value. Payloads live in the
// shared byte and slot slabs; off/n locate them.
type object struct {
	kind   Kind
	layout int32
	off    uint32
	n      uint32
}

// Approximate per-allocation costs used for the heap limit.
const (
	headerCost = 16
	slotCost   = 8
)

// ArenaStats summarizes an arena's current contents.
type ArenaStats struct {
	Objects    int
	Bytes      int
	Slots      int
	Used       int
	Generation uint16
	Resets     int
}

// Arena is a bump allocator owning every heap value of one run.
//
// Objects are appended to contiguous slabs and are never freed one at a
// time. Reset releases everything at once and advances the generation, so
// any handle that survives a reset is detected as stale instead of aliasing
// newer data.
type Arena struct {
	objects []object
	bytes   []byte
	slots   []Value
	gen     uint16
	used    int
	limit   int
	resets  int
}

// NewArena creates an arena. A limit of zero means unbounded.
func NewArena(limit int) *Arena {
	return &Arena{gen: 1, limit: limit}
}

// Reset drops every object. Capacity is retained for the next run.
func (a *Arena) Reset() {
	a.objects = a.objects[:0]
	a.bytes = a.bytes[:0]
	clear(a.slots)
	a.slots = a.slots[:0]
	a.used = 0
	a.resets++
	a.gen++
	if a.gen == 0 {
		a.gen = 1
	}
}

// Generation returns the current generation stamped into new handles.
func (a *Arena) Generation() uint16 {
	return a.gen
}

// Stats reports the arena's current usage.
func (a *Arena) Stats() ArenaStats {
	return ArenaStats{
		Objects:    len(a.objects),
		Bytes:      len(a.bytes),
		Slots:      len(a.slots),
		Used:       a.used,
		Generation: a.gen,
		Resets:     a.resets,
	}
}

func (a *Arena) reserve(cost int) error {
	if a.limit > 0 && a.used+cost > a.limit {
		return runtimeErrorf(ErrHeapExhausted, "arena limit of %d bytes reached", a.limit)
	}
	if uint64(len(a.objects)) >= math.MaxUint32 {
		return runtimeErrorf(ErrHeapExhausted, "too many objects")
	}
	a.used += cost
	return nil
}

func (a *Arena) push(o object) Value {
	idx := uint32(len(a.objects))
	a.objects = append(a.objects, o)
	return makeRef(a.gen, idx)
}

func (a *Arena) lookup(v Value) (*object, error) {
	if !v.IsRef() {
		return nil, runtimeErrorf(ErrTypeMismatch, "not a heap value")
	}
	gen, idx := v.handle()
	if gen != a.gen || int(idx) >= len(a.objects) {
		return nil, runtimeErrorf(ErrStaleReference, "handle from generation %d used in generation %d", gen, a.gen)
	}
	return &a.objects[idx], nil
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// AllocString copies s into the arena.
func (a *Arena) AllocString(s string) (Value, error) {
	if err := a.reserve(headerCost + len(s)); err != nil {
		return Nil, err
	}
	off := uint32(len(a.bytes))
	a.bytes = append(a.bytes, s...)
	return a.push(object{kind: KindString, off: off, n: uint32(len(s))}), nil
}

// Concat allocates the concatenation of two arena strings.
func (a *Arena) Concat(x, y Value) (Value, error) {
	ox, err := a.stringObject(x)
	if err != nil {
		return Nil, err
	}
	oy, err := a.stringObject(y)
	if err != nil {
		return Nil, err
	}
	n := int(ox.n) + int(oy.n)
	if err := a.reserve(headerCost + n); err != nil {
		return Nil, err
	}
	// Copy out the offsets before appending; append may move the slab.
	xo, xn, yo, yn := ox.off, ox.n, oy.off, oy.n
	off := uint32(len(a.bytes))
	a.bytes = append(a.bytes, a.bytes[xo:xo+xn]...)
	a.bytes = append(a.bytes, a.bytes[yo:yo+yn]...)
	return a.push(object{kind: KindString, off: off, n: uint32(n)}), nil
}

// AllocArray allocates a fixed-length array holding a copy of elems.
func (a *Arena) AllocArray(elems []Value) (Value, error) {
	if err := a.reserve(headerCost + slotCost*len(elems)); err != nil {
		return Nil, err
	}
	off := uint32(len(a.slots))
	a.slots = append(a.slots, elems...)
	return a.push(object{kind: KindArray, off: off, n: uint32(len(elems))}), nil
}

// AllocStruct allocates a struct instance of the given layout index.
func (a *Arena) AllocStruct(layout int, fields []Value) (Value, error) {
	if err := a.reserve(headerCost + slotCost*len(fields)); err != nil {
		return Nil, err
	}
	off := uint32(len(a.slots))
	a.slots = append(a.slots, fields...)
	return a.push(object{kind: KindStruct, layout: int32(layout), off: off, n: uint32(len(fields))}), nil
}

// ---------------------------------------------------------------------------
// Access
// ---------------------------------------------------------------------------

// KindOf classifies v. Handles from an earlier generation report KindStale.
func (a *Arena) KindOf(v Value) Kind {
	switch {
	case v.IsInt():
		return KindInt
	case v.IsFloat():
		return KindFloat
	case v.IsBool():
		return KindBool
	case v.IsFunc():
		return KindFunction
	case v.IsRef():
		o, err := a.lookup(v)
		if err != nil {
			return KindStale
		}
		return o.kind
	}
	return KindNil
}

func (a *Arena) stringObject(v Value) (*object, error) {
	o, err := a.lookup(v)
	if err != nil {
		return nil, err
	}
	if o.kind != KindString {
		return nil, runtimeErrorf(ErrTypeMismatch, "expected string, got %s", o.kind)
	}
	return o, nil
}

// StringBytes returns the bytes of a string value. The slice aliases arena
// memory and is only valid until the next allocation or Reset.
func (a *Arena) StringBytes(v Value) ([]byte, error) {
	o, err := a.stringObject(v)
	if err != nil {
		return nil, err
	}
	return a.bytes[o.off : o.off+o.n], nil
}

// String returns a copy of a string value's contents.
func (a *Arena) String(v Value) (string, error) {
	b, err := a.StringBytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Elements returns the element slots of an array or the field slots of a
// struct. The slice aliases arena memory.
func (a *Arena) Elements(v Value) ([]Value, error) {
	o, err := a.lookup(v)
	if err != nil {
		return nil, err
	}
	if o.kind != KindArray && o.kind != KindStruct {
		return nil, runtimeErrorf(ErrTypeMismatch, "expected array or struct, got %s", o.kind)
	}
	return a.slots[o.off : o.off+o.n], nil
}

// Len returns the length of a string or array.
func (a *Arena) Len(v Value) (int, error) {
	o, err := a.lookup(v)
	if err != nil {
		return 0, err
	}
	if o.kind != KindString && o.kind != KindArray {
		return 0, runtimeErrorf(ErrTypeMismatch, "len of %s", o.kind)
	}
	return int(o.n), nil
}

// StructLayout returns the layout index of a struct value.
func (a *Arena) StructLayout(v Value) (int, error) {
	o, err := a.lookup(v)
	if err != nil {
		return 0, err
	}
	if o.kind != KindStruct {
		return 0, runtimeErrorf(ErrTypeMismatch, "expected struct, got %s", o.kind)
	}
	return int(o.layout), nil
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// Equal compares two values: numbers numerically across int and float,
// strings by content, arrays and structs by identity. Values of unrelated
// kinds are unequal.
func (a *Arena) Equal(x, y Value) bool {
	if x == y {
		// Identical bits: same handle, int, special or function. The one
		// float that is not equal to itself is NaN.
		return !(x.IsFloat() && x.Float64() != x.Float64())
	}
	if x.IsNumber() && y.IsNumber() {
		if x.IsInt() && y.IsInt() {
			return false
		}
		fx, _ := toFloat(x)
		fy, _ := toFloat(y)
		return fx == fy
	}
	if x.IsRef() && y.IsRef() {
		bx, err := a.StringBytes(x)
		if err != nil {
			return false
		}
		by, err := a.StringBytes(y)
		if err != nil {
			return false
		}
		return bytes.Equal(bx, by)
	}
	return false
}
