package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// ProgramBuilder
// ---------------------------------------------------------------------------

// ProgramBuilder assembles a Program: a deduplicated constant pool, the
// function table and struct layouts.
type ProgramBuilder struct {
	prog       *Program
	constIndex map[constKey]int
	funcs      []*FunctionBuilder
}

// NewProgramBuilder creates an empty builder.
func NewProgramBuilder() *ProgramBuilder {
	return &ProgramBuilder{
		prog:       &Program{},
		constIndex: make(map[constKey]int),
	}
}

// AddConstant returns the pool index of c, adding it if it is new.
func (b *ProgramBuilder) AddConstant(c Constant) int {
	k := c.key()
	if idx, ok := b.constIndex[k]; ok {
		return idx
	}
	idx := len(b.prog.Constants)
	b.prog.Constants = append(b.prog.Constants, c)
	b.constIndex[k] = idx
	return idx
}

// IntConstant, FloatConstant and StringConstant are AddConstant shorthands.
func (b *ProgramBuilder) IntConstant(n int64) int {
	return b.AddConstant(Constant{Kind: ConstInt, Int: n})
}

func (b *ProgramBuilder) FloatConstant(f float64) int {
	return b.AddConstant(Constant{Kind: ConstFloat, Float: f})
}

func (b *ProgramBuilder) StringConstant(s string) int {
	return b.AddConstant(Constant{Kind: ConstString, Str: s})
}

// AddFunction reserves a function slot and returns its index and builder.
// Reserving before emitting lets calls refer to functions declared later.
func (b *ProgramBuilder) AddFunction(name string, arity int) (int, *FunctionBuilder) {
	fn := &Function{Name: name, Arity: arity, NumLocals: arity}
	idx := len(b.prog.Functions)
	b.prog.Functions = append(b.prog.Functions, fn)
	fb := &FunctionBuilder{fn: fn}
	b.funcs = append(b.funcs, fb)
	return idx, fb
}

// AddStruct registers a struct layout and returns its index.
func (b *ProgramBuilder) AddStruct(name string, fields []string) int {
	idx := len(b.prog.Structs)
	b.prog.Structs = append(b.prog.Structs, &StructLayout{
		Name:    name,
		Fields:  fields,
		Methods: make(map[string]int),
	})
	return idx
}

// AddMethod attaches function fnIdx to struct structIdx under name.
func (b *ProgramBuilder) AddMethod(structIdx int, name string, fnIdx int) {
	b.prog.Structs[structIdx].Methods[name] = fnIdx
}

// SetEntry marks the function execution starts in.
func (b *ProgramBuilder) SetEntry(idx int) {
	b.prog.Entry = idx
}

// Build finishes every function and validates the result. On error no
// program is returned.
func (b *ProgramBuilder) Build() (*Program, error) {
	var errs []error
	for _, fb := range b.funcs {
		if err := fb.finish(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := b.prog.Validate(); err != nil {
		return nil, err
	}
	return b.prog, nil
}

// ---------------------------------------------------------------------------
// FunctionBuilder
// ---------------------------------------------------------------------------

// FunctionBuilder emits the instructions of one function.
type FunctionBuilder struct {
	fn     *Function
	line   int32
	labels []*Label
}

// Label is a jump target that may be referenced before it is marked.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// SetLine sets the source line recorded for subsequently emitted code.
func (fb *FunctionBuilder) SetLine(line int) {
	fb.line = int32(line)
}

// SetNumLocals records the frame size. It never shrinks below the arity.
func (fb *FunctionBuilder) SetNumLocals(n int) {
	if n < fb.fn.Arity {
		n = fb.fn.Arity
	}
	fb.fn.NumLocals = n
}

// Len returns the number of emitted instructions.
func (fb *FunctionBuilder) Len() int {
	return len(fb.fn.Code)
}

// Emit appends an instruction and returns its position.
func (fb *FunctionBuilder) Emit(op Opcode, arg int) int {
	pos := len(fb.fn.Code)
	fb.fn.Code = append(fb.fn.Code, Instruction{Op: op, Arg: int32(arg)})
	fb.fn.Lines = append(fb.fn.Lines, fb.line)
	return pos
}

// NewLabel creates an unmarked label.
func (fb *FunctionBuilder) NewLabel() *Label {
	l := &Label{}
	fb.labels = append(fb.labels, l)
	return l
}

// Mark binds l to the next instruction position and patches every jump
// already emitted against it.
func (fb *FunctionBuilder) Mark(l *Label) {
	l.resolved = true
	l.position = len(fb.fn.Code)
	for _, ref := range l.refs {
		fb.fn.Code[ref].Arg = int32(l.position - (ref + 1))
	}
	l.refs = nil
}

// EmitJump emits a jump to l. Forward jumps are back-patched by Mark.
func (fb *FunctionBuilder) EmitJump(op Opcode, l *Label) int {
	pos := len(fb.fn.Code)
	if l.resolved {
		return fb.Emit(op, l.position-(pos+1))
	}
	fb.Emit(op, 0)
	l.refs = append(l.refs, pos)
	return pos
}

func (fb *FunctionBuilder) finish() error {
	for _, l := range fb.labels {
		if !l.resolved && len(l.refs) > 0 {
			return fmt.Errorf("%s: %d jumps to an unmarked label", fb.fn.Name, len(l.refs))
		}
	}
	fb.labels = nil
	return nil
}
