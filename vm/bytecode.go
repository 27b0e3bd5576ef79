package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies one instruction of the reduced instruction set.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpConst Opcode = 0x10 // push constant pool entry Arg
	OpNil   Opcode = 0x11 // push null
	OpTrue  Opcode = 0x12 // push true
	OpFalse Opcode = 0x13 // push false
	OpFunc  Opcode = 0x14 // push function value Arg
)

// Locals
const (
	OpLoadLocal  Opcode = 0x20 // push frame slot Arg
	OpStoreLocal Opcode = 0x21 // store top into frame slot Arg, leaving it on the stack
)

// Arithmetic and Logic
const (
	OpNeg    Opcode = 0x30
	OpNot    Opcode = 0x31
	OpBitNot Opcode = 0x32
	OpAdd    Opcode = 0x33
	OpSub    Opcode = 0x34
	OpMul    Opcode = 0x35
	OpDiv    Opcode = 0x36
	OpMod    Opcode = 0x37
	OpBitAnd Opcode = 0x38
	OpBitOr  Opcode = 0x39
	OpBitXor Opcode = 0x3A
	OpShl    Opcode = 0x3B
	OpShr    Opcode = 0x3C
	OpConcat Opcode = 0x3D
)

// Comparison
const (
	OpEq Opcode = 0x40
	OpNe Opcode = 0x41
	OpLt Opcode = 0x42
	OpLe Opcode = 0x43
	OpGt Opcode = 0x44
	OpGe Opcode = 0x45
)

// Control Flow
//
// Jump operands are signed displacements relative to the instruction that
// follows the jump.
const (
	OpJump        Opcode = 0x50 // unconditional jump
	OpJumpIfFalse Opcode = 0x51 // pop boolean, jump if false
	OpJumpIfTrue  Opcode = 0x52 // pop boolean, jump if true
)

// Calls
const (
	OpCall   Opcode = 0x60 // call callee below Arg arguments
	OpReturn Opcode = 0x61 // return top of stack to caller
	OpHalt   Opcode = 0x62 // stop the machine with top of stack as result
	OpInvoke Opcode = 0x63 // call method: Arg = name constant << 8 | argc
)

// Heap Values
const (
	OpPrint    Opcode = 0x70 // pop and print
	OpArray    Opcode = 0x71 // build array from top Arg values
	OpIndex    Opcode = 0x72 // array[index]
	OpSetIndex Opcode = 0x73 // array[index] = value, leaving value
	OpLen      Opcode = 0x74 // length of string or array
	OpStruct   Opcode = 0x75 // build instance of struct layout Arg
	OpGetField Opcode = 0x76 // field named by string constant Arg
	OpSetField Opcode = 0x77 // set field named by constant Arg, leaving value
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction. Programs keep code as a slice of
// instructions indexed by instruction pointer, so a jump target is always an
// instruction boundary.
type Instruction struct {
	Op  Opcode
	Arg int32
}

func (i Instruction) String() string {
	info := GetOpcodeInfo(i.Op)
	if info.Operand == OperandNone {
		return info.Name
	}
	return fmt.Sprintf("%s %d", info.Name, i.Arg)
}

// MaxInvokeArgs bounds the argument count packed into OpInvoke.
const MaxInvokeArgs = 0xFF

// PackInvoke encodes a method name constant and argument count.
func PackInvoke(nameConst, argc int) int32 {
	return int32(nameConst<<8 | argc)
}

// UnpackInvoke splits an OpInvoke operand.
func UnpackInvoke(arg int32) (nameConst, argc int) {
	return int(arg >> 8), int(arg & 0xFF)
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind tells validation and disassembly what an operand refers to.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandConst
	OperandFunc
	OperandSlot
	OperandJump
	OperandCount
	OperandStruct
	OperandName
	OperandInvoke
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string      // human-readable name
	Operand     OperandKind // meaning of Arg
	StackEffect int         // net effect on stack (-1 = variable)
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", OperandNone, 0},
	OpPop: {"POP", OperandNone, -1},
	OpDup: {"DUP", OperandNone, 1},

	OpConst: {"CONST", OperandConst, 1},
	OpNil:   {"NIL", OperandNone, 1},
	OpTrue:  {"TRUE", OperandNone, 1},
	OpFalse: {"FALSE", OperandNone, 1},
	OpFunc:  {"FUNC", OperandFunc, 1},

	OpLoadLocal:  {"LOAD_LOCAL", OperandSlot, 1},
	OpStoreLocal: {"STORE_LOCAL", OperandSlot, 0},

	OpNeg:    {"NEG", OperandNone, 0},
	OpNot:    {"NOT", OperandNone, 0},
	OpBitNot: {"BIT_NOT", OperandNone, 0},
	OpAdd:    {"ADD", OperandNone, -1},
	OpSub:    {"SUB", OperandNone, -1},
	OpMul:    {"MUL", OperandNone, -1},
	OpDiv:    {"DIV", OperandNone, -1},
	OpMod:    {"MOD", OperandNone, -1},
	OpBitAnd: {"BIT_AND", OperandNone, -1},
	OpBitOr:  {"BIT_OR", OperandNone, -1},
	OpBitXor: {"BIT_XOR", OperandNone, -1},
	OpShl:    {"SHL", OperandNone, -1},
	OpShr:    {"SHR", OperandNone, -1},
	OpConcat: {"CONCAT", OperandNone, -1},

	OpEq: {"EQ", OperandNone, -1},
	OpNe: {"NE", OperandNone, -1},
	OpLt: {"LT", OperandNone, -1},
	OpLe: {"LE", OperandNone, -1},
	OpGt: {"GT", OperandNone, -1},
	OpGe: {"GE", OperandNone, -1},

	OpJump:        {"JUMP", OperandJump, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", OperandJump, -1},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", OperandJump, -1},

	OpCall:   {"CALL", OperandCount, -1},
	OpReturn: {"RETURN", OperandNone, -1},
	OpHalt:   {"HALT", OperandNone, -1},
	OpInvoke: {"INVOKE", OperandInvoke, -1},

	OpPrint:    {"PRINT", OperandNone, -1},
	OpArray:    {"ARRAY", OperandCount, -1},
	OpIndex:    {"INDEX", OperandNone, -1},
	OpSetIndex: {"SET_INDEX", OperandNone, -2},
	OpLen:      {"LEN", OperandNone, 0},
	OpStruct:   {"STRUCT", OperandStruct, -1},
	OpGetField: {"GET_FIELD", OperandName, 0},
	OpSetField: {"SET_FIELD", OperandName, -1},
}

// GetOpcodeInfo returns metadata for an opcode.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Known reports whether op belongs to the instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String returns the opcode name.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump reports whether op carries a jump displacement.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse || op == OpJumpIfTrue
}

// IsTerminator reports whether control never falls through op.
func (op Opcode) IsTerminator() bool {
	return op == OpJump || op == OpReturn || op == OpHalt
}
