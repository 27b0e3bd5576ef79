package vm

import (
	"errors"
	"fmt"
	"math"
)

// ConstKind discriminates constant pool entries.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
)

func (k ConstKind) String() string {
	switch k {
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstString:
		return "string"
	}
	return fmt.Sprintf("ConstKind(%d)", k)
}

// Constant is an immutable literal referenced by index from the code.
type Constant struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return formatFloat(c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	}
	return "?"
}

// key identifies a constant for deduplication. Floats compare by bit
// pattern so 0.0 and -0.0 stay distinct.
func (c Constant) key() constKey {
	switch c.Kind {
	case ConstFloat:
		return constKey{kind: c.Kind, bits: math.Float64bits(c.Float)}
	case ConstString:
		return constKey{kind: c.Kind, str: c.Str}
	}
	return constKey{kind: c.Kind, bits: uint64(c.Int)}
}

type constKey struct {
	kind ConstKind
	bits uint64
	str  string
}

// Function is one compiled callable: the entry script, a top-level function
// or a method.
type Function struct {
	Name      string
	Arity     int
	NumLocals int
	Code      []Instruction
	// Lines maps each instruction to its source line (0 = unknown).
	Lines []int32
}

// LineAt returns the source line of the instruction at ip.
func (f *Function) LineAt(ip int) int {
	if ip >= 0 && ip < len(f.Lines) {
		return int(f.Lines[ip])
	}
	return 0
}

// StructLayout describes a struct declaration and its methods.
type StructLayout struct {
	Name   string
	Fields []string
	// Methods maps a method name to its function index.
	Methods map[string]int
}

// FieldIndex returns the slot of a named field, or -1.
func (s *StructLayout) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// Program is a compiled, immutable unit of execution. A Program may be shared
// by any number of machines; it is never mutated by execution.
type Program struct {
	Functions []*Function
	Constants []Constant
	Structs   []*StructLayout
	Entry     int
}

// EntryFunction returns the function execution starts in.
func (p *Program) EntryFunction() *Function {
	return p.Functions[p.Entry]
}

// FunctionByName finds a function by name, or returns -1.
func (p *Program) FunctionByName(name string) int {
	for i, fn := range p.Functions {
		if fn.Name == name {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// ErrInvalidProgram is wrapped by every validation failure.
var ErrInvalidProgram = errors.New("invalid program")

// ValidationError locates a malformed instruction.
type ValidationError struct {
	Function string
	IP       int
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.IP < 0 {
		return fmt.Sprintf("invalid program: %s: %s", e.Function, e.Msg)
	}
	return fmt.Sprintf("invalid program: %s at %04d: %s", e.Function, e.IP, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidProgram
}

// Validate checks the structural invariants the machine relies on: every
// jump lands inside its function, every operand index is in range, local
// slots stay within the frame, and no function can run off its end.
func (p *Program) Validate() error {
	if len(p.Functions) == 0 {
		return &ValidationError{Function: "<program>", IP: -1, Msg: "no functions"}
	}
	if p.Entry < 0 || p.Entry >= len(p.Functions) {
		return &ValidationError{Function: "<program>", IP: -1, Msg: fmt.Sprintf("entry %d out of range", p.Entry)}
	}
	if p.Functions[p.Entry].Arity != 0 {
		return &ValidationError{Function: p.Functions[p.Entry].Name, IP: -1, Msg: "entry function takes arguments"}
	}
	for _, s := range p.Structs {
		for name, idx := range s.Methods {
			if idx < 0 || idx >= len(p.Functions) {
				return &ValidationError{Function: s.Name + "." + name, IP: -1, Msg: fmt.Sprintf("method function %d out of range", idx)}
			}
			if p.Functions[idx].Arity < 1 {
				return &ValidationError{Function: s.Name + "." + name, IP: -1, Msg: "method has no receiver parameter"}
			}
		}
	}
	for _, fn := range p.Functions {
		if err := p.validateFunction(fn); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateFunction(fn *Function) error {
	fail := func(ip int, format string, args ...any) error {
		return &ValidationError{Function: fn.Name, IP: ip, Msg: fmt.Sprintf(format, args...)}
	}
	if fn.Arity < 0 || fn.Arity > fn.NumLocals {
		return fail(-1, "arity %d exceeds %d locals", fn.Arity, fn.NumLocals)
	}
	if len(fn.Code) == 0 {
		return fail(-1, "empty code")
	}
	if len(fn.Lines) != 0 && len(fn.Lines) != len(fn.Code) {
		return fail(-1, "line table has %d entries for %d instructions", len(fn.Lines), len(fn.Code))
	}
	for ip, ins := range fn.Code {
		info, ok := opcodeTable[ins.Op]
		if !ok {
			return fail(ip, "unknown opcode 0x%02X", byte(ins.Op))
		}
		arg := int(ins.Arg)
		switch info.Operand {
		case OperandNone:
			if arg != 0 {
				return fail(ip, "%s takes no operand", info.Name)
			}
		case OperandConst:
			if arg < 0 || arg >= len(p.Constants) {
				return fail(ip, "constant %d out of range", arg)
			}
		case OperandName:
			if arg < 0 || arg >= len(p.Constants) || p.Constants[arg].Kind != ConstString {
				return fail(ip, "%s needs a string constant, got %d", info.Name, arg)
			}
		case OperandFunc:
			if arg < 0 || arg >= len(p.Functions) {
				return fail(ip, "function %d out of range", arg)
			}
		case OperandSlot:
			if arg < 0 || arg >= fn.NumLocals {
				return fail(ip, "slot %d outside %d locals", arg, fn.NumLocals)
			}
		case OperandJump:
			target := ip + 1 + arg
			if target < 0 || target >= len(fn.Code) {
				return fail(ip, "jump target %d outside [0, %d)", target, len(fn.Code))
			}
		case OperandCount:
			if arg < 0 {
				return fail(ip, "negative count %d", arg)
			}
		case OperandStruct:
			if arg < 0 || arg >= len(p.Structs) {
				return fail(ip, "struct %d out of range", arg)
			}
		case OperandInvoke:
			name, _ := UnpackInvoke(ins.Arg)
			if ins.Arg < 0 || name >= len(p.Constants) || p.Constants[name].Kind != ConstString {
				return fail(ip, "INVOKE needs a string constant, got %d", name)
			}
		}
	}
	if last := fn.Code[len(fn.Code)-1].Op; !last.IsTerminator() {
		return fail(len(fn.Code)-1, "function ends with %s", last)
	}
	return nil
}
