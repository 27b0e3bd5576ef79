package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("synapse.vm")

// ---------------------------------------------------------------------------
// Machine state
// ---------------------------------------------------------------------------

// State is the lifecycle position of a Machine.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateHalted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", s)
}

// frame is the activation record of one call: the function being run, its
// instruction pointer and its window on the operand stack.
type frame struct {
	fn    *Function
	ip    int
	bp    int // slot 0 of the locals window
	floor int // bp + NumLocals; operands live at and above it
	cut   int // stack height restored on return
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine executes one Program. It owns its operand stack, call frames and
// arena; nothing is shared with other machines, so independent machines may
// run on different goroutines. A single Machine is not safe for concurrent
// use.
type Machine struct {
	prog   *Program
	cfg    Config
	out    io.Writer
	arena  *Arena
	consts []Value

	stack  []Value
	sp     int
	floor  int
	frames []frame

	state State
	steps int64
	err   error

	prof *Profiler
}

// Option configures a Machine.
type Option func(*Machine)

// WithConfig sets the run bounds.
func WithConfig(cfg Config) Option {
	return func(m *Machine) { m.cfg = cfg }
}

// WithOutput redirects print statements. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(m *Machine) { m.out = w }
}

// WithArena makes the machine allocate into a caller-owned arena, for
// callers that recycle arenas across runs.
func WithArena(a *Arena) Option {
	return func(m *Machine) { m.arena = a }
}

// WithProfiler records calls and dispatched opcodes into p.
func WithProfiler(p *Profiler) Option {
	return func(m *Machine) { m.prof = p }
}

// NewMachine creates a machine ready to run prog.
func NewMachine(prog *Program, opts ...Option) *Machine {
	m := &Machine{prog: prog, cfg: DefaultConfig(), out: os.Stdout}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = m.cfg.withDefaults()
	if m.arena == nil {
		m.arena = NewArena(m.cfg.MaxHeapBytes)
	}
	m.stack = make([]Value, min(m.cfg.MaxStack, 256))
	m.frames = make([]frame, 0, min(m.cfg.MaxFrames, 64))
	return m
}

// State returns the machine's lifecycle state.
func (m *Machine) State() State { return m.state }

// Steps returns the number of instructions executed by the last run.
func (m *Machine) Steps() int64 { return m.steps }

// Arena returns the arena holding the current run's heap values.
func (m *Machine) Arena() *Arena { return m.arena }

// Program returns the program this machine runs.
func (m *Machine) Program() *Program { return m.prog }

// Profiler returns the attached profiler, or nil.
func (m *Machine) Profiler() *Profiler { return m.prof }

// Err returns the error that ended the last run, if any.
func (m *Machine) Err() error { return m.err }

// Format renders a value produced by this machine's current run.
func (m *Machine) Format(v Value) string {
	return FormatValue(m.prog, m.arena, v)
}

// Reset returns a finished machine to the Ready state, releasing every heap
// value of the previous run in bulk.
func (m *Machine) Reset() error {
	if m.state == StateRunning {
		return errors.New("vm: cannot reset a running machine")
	}
	m.arena.Reset()
	m.sp = 0
	m.floor = 0
	m.frames = m.frames[:0]
	m.steps = 0
	m.err = nil
	m.state = StateReady
	return nil
}

// Run executes the program's entry function to completion.
//
// It returns the halting value, or a *RuntimeError. Cancellation of ctx and
// the configured step limit stop the run with ErrAborted and leave the
// machine Aborted rather than Halted. Values returned stay readable through
// Format and Arena until Reset.
func (m *Machine) Run(ctx context.Context) (result Value, err error) {
	if m.state != StateReady {
		return Nil, fmt.Errorf("vm: cannot run a machine that is %s", m.state)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.state = StateRunning
	defer func() {
		if r := recover(); r != nil {
			result, err = Nil, m.recovered(r)
		}
		switch {
		case err == nil:
			m.state = StateHalted
		case errors.Is(err, ErrAborted):
			m.state = StateAborted
		default:
			m.state = StateFailed
		}
		m.err = err
	}()

	if err := m.loadConstants(); err != nil {
		return Nil, m.fail(err)
	}
	if err := m.enter(m.prog.EntryFunction(), 0, 0); err != nil {
		return Nil, err
	}
	return m.run(ctx)
}

// loadConstants materializes the constant pool into this run's arena, so
// string constants are owned by the run like every other heap value.
func (m *Machine) loadConstants() error {
	m.consts = m.consts[:0]
	for _, c := range m.prog.Constants {
		var v Value
		switch c.Kind {
		case ConstInt:
			var ok bool
			if v, ok = TryFromInt(c.Int); !ok {
				return runtimeErrorf(ErrIntegerOverflow, "constant %d out of range", c.Int)
			}
		case ConstFloat:
			v = FromFloat64(c.Float)
		case ConstString:
			var err error
			if v, err = m.arena.AllocString(c.Str); err != nil {
				return err
			}
		}
		m.consts = append(m.consts, v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (m *Machine) run(ctx context.Context) (Value, error) {
	done := ctx.Done()
	interval := m.cfg.CheckInterval
	countdown := interval
	limit := m.cfg.StepLimit
	trace := m.cfg.Trace
	prof := m.prof

	fr := &m.frames[len(m.frames)-1]
	code := fr.fn.Code

	for {
		if done != nil {
			if countdown--; countdown == 0 {
				countdown = interval
				select {
				case <-done:
					return Nil, m.locate(runtimeErrorf(ErrAborted, "%v", context.Cause(ctx)))
				default:
				}
			}
		}
		m.steps++
		if limit > 0 && m.steps > limit {
			return Nil, m.locate(runtimeErrorf(ErrAborted, "step limit of %d exceeded", limit))
		}

		ins := code[fr.ip]
		fr.ip++
		if prof != nil {
			prof.RecordOp(ins.Op)
		}
		if trace {
			log.Debugf("[%s %04d] %-14s %-6d sp=%d depth=%d", fr.fn.Name, fr.ip-1, ins.Op, ins.Arg, m.sp, len(m.frames))
		}

		switch ins.Op {
		// ============ Stack ============
		case OpNop:
		case OpPop:
			m.pop()
		case OpDup:
			m.push(m.peek())

		// ============ Constants ============
		case OpConst:
			m.push(m.consts[ins.Arg])
		case OpNil:
			m.push(Nil)
		case OpTrue:
			m.push(True)
		case OpFalse:
			m.push(False)
		case OpFunc:
			m.push(FromFuncIndex(int(ins.Arg)))

		// ============ Locals ============
		case OpLoadLocal:
			slot := int(ins.Arg)
			if slot < 0 || slot >= fr.fn.NumLocals {
				return Nil, m.fail(runtimeErrorf(ErrUndefinedSlot, "slot %d of %d", slot, fr.fn.NumLocals))
			}
			m.push(m.stack[fr.bp+slot])
		case OpStoreLocal:
			slot := int(ins.Arg)
			if slot < 0 || slot >= fr.fn.NumLocals {
				return Nil, m.fail(runtimeErrorf(ErrUndefinedSlot, "slot %d of %d", slot, fr.fn.NumLocals))
			}
			m.stack[fr.bp+slot] = m.peek()

		// ============ Arithmetic ============
		case OpNeg, OpNot, OpBitNot:
			r, err := m.unary(ins.Op, m.pop())
			if err != nil {
				return Nil, m.fail(err)
			}
			m.push(r)
		case OpAdd, OpSub, OpMul, OpDiv, OpMod,
			OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr,
			OpLt, OpLe, OpGt, OpGe, OpConcat:
			b := m.pop()
			a := m.pop()
			r, err := m.binary(ins.Op, a, b)
			if err != nil {
				return Nil, m.fail(err)
			}
			m.push(r)
		case OpEq:
			b := m.pop()
			a := m.pop()
			m.push(FromBool(m.arena.Equal(a, b)))
		case OpNe:
			b := m.pop()
			a := m.pop()
			m.push(FromBool(!m.arena.Equal(a, b)))

		// ============ Control Flow ============
		case OpJump:
			fr.ip += int(ins.Arg)
		case OpJumpIfFalse, OpJumpIfTrue:
			cond := m.pop()
			if !cond.IsBool() {
				return Nil, m.fail(runtimeErrorf(ErrTypeMismatch, "condition must be bool, got %s", m.describe(cond)))
			}
			if (cond == True) == (ins.Op == OpJumpIfTrue) {
				fr.ip += int(ins.Arg)
			}

		// ============ Calls ============
		case OpCall:
			argc := int(ins.Arg)
			at := m.sp - argc - 1
			if at < m.floor {
				return Nil, m.fail(runtimeErrorf(ErrStackUnderflow, "call with %d arguments", argc))
			}
			callee := m.stack[at]
			if !callee.IsFunc() {
				return Nil, m.fail(runtimeErrorf(ErrNotCallable, "cannot call %s", m.describe(callee)))
			}
			fn := m.prog.Functions[callee.FuncIndex()]
			if fn.Arity != argc {
				return Nil, m.fail(runtimeErrorf(ErrArityMismatch, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc))
			}
			if err := m.enter(fn, at+1, at); err != nil {
				return Nil, err
			}
			fr = &m.frames[len(m.frames)-1]
			code = fr.fn.Code

		case OpInvoke:
			nameIdx, argc := UnpackInvoke(ins.Arg)
			at := m.sp - argc - 1
			if at < m.floor {
				return Nil, m.fail(runtimeErrorf(ErrStackUnderflow, "invoke with %d arguments", argc))
			}
			fn, err := m.method(m.stack[at], m.prog.Constants[nameIdx].Str, argc)
			if err != nil {
				return Nil, m.fail(err)
			}
			if err := m.enter(fn, at, at); err != nil {
				return Nil, err
			}
			fr = &m.frames[len(m.frames)-1]
			code = fr.fn.Code

		case OpReturn:
			result := m.pop()
			m.sp = fr.cut
			m.frames = m.frames[:len(m.frames)-1]
			if len(m.frames) == 0 {
				return result, nil
			}
			fr = &m.frames[len(m.frames)-1]
			code = fr.fn.Code
			m.floor = fr.floor
			m.push(result)

		case OpHalt:
			return m.pop(), nil

		// ============ Heap Values ============
		case OpPrint:
			v := m.pop()
			if _, err := fmt.Fprintln(m.out, m.Format(v)); err != nil {
				return Nil, m.fail(runtimeErrorf(ErrOutput, "%v", err))
			}
		case OpArray:
			n := int(ins.Arg)
			if m.sp-n < m.floor {
				return Nil, m.fail(runtimeErrorf(ErrStackUnderflow, "array of %d elements", n))
			}
			arr, err := m.arena.AllocArray(m.stack[m.sp-n : m.sp])
			if err != nil {
				return Nil, m.fail(err)
			}
			m.sp -= n
			m.push(arr)
		case OpIndex:
			idx := m.pop()
			elems, i, err := m.element(m.pop(), idx)
			if err != nil {
				return Nil, m.fail(err)
			}
			m.push(elems[i])
		case OpSetIndex:
			v := m.pop()
			idx := m.pop()
			elems, i, err := m.element(m.pop(), idx)
			if err != nil {
				return Nil, m.fail(err)
			}
			elems[i] = v
			m.push(v)
		case OpLen:
			v := m.pop()
			if !v.IsRef() {
				return Nil, m.fail(runtimeErrorf(ErrTypeMismatch, "len of %s", m.describe(v)))
			}
			n, err := m.arena.Len(v)
			if err != nil {
				return Nil, m.fail(err)
			}
			m.push(FromInt(int64(n)))
		case OpStruct:
			layout := m.prog.Structs[ins.Arg]
			n := len(layout.Fields)
			if m.sp-n < m.floor {
				return Nil, m.fail(runtimeErrorf(ErrStackUnderflow, "struct %s", layout.Name))
			}
			obj, err := m.arena.AllocStruct(int(ins.Arg), m.stack[m.sp-n:m.sp])
			if err != nil {
				return Nil, m.fail(err)
			}
			m.sp -= n
			m.push(obj)
		case OpGetField:
			fields, i, err := m.field(m.pop(), m.prog.Constants[ins.Arg].Str)
			if err != nil {
				return Nil, m.fail(err)
			}
			m.push(fields[i])
		case OpSetField:
			v := m.pop()
			fields, i, err := m.field(m.pop(), m.prog.Constants[ins.Arg].Str)
			if err != nil {
				return Nil, m.fail(err)
			}
			fields[i] = v
			m.push(v)

		default:
			return Nil, m.fail(runtimeErrorf(ErrInternal, "unknown opcode 0x%02X", byte(ins.Op)))
		}
	}
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// enter pushes a frame whose locals start at bp. The arguments are already
// in place; the remaining locals are cleared to null.
func (m *Machine) enter(fn *Function, bp, cut int) error {
	if len(m.frames) >= m.cfg.MaxFrames {
		return m.locate(runtimeErrorf(ErrStackOverflow, "call depth exceeds %d frames", m.cfg.MaxFrames))
	}
	need := bp + fn.NumLocals
	if err := m.ensure(need); err != nil {
		return m.locate(err)
	}
	for i := m.sp; i < need; i++ {
		m.stack[i] = Nil
	}
	m.sp = need
	m.floor = need
	m.frames = append(m.frames, frame{fn: fn, bp: bp, floor: need, cut: cut})
	if m.prof != nil && m.prof.RecordCall(fn) {
		log.Debugf("%s is hot after %d calls", fn.Name, m.prof.HotThreshold)
	}
	return nil
}

// method resolves a method call on a struct receiver.
func (m *Machine) method(recv Value, name string, argc int) (*Function, error) {
	layout, err := m.structLayout(recv, "call method "+name+" on")
	if err != nil {
		return nil, err
	}
	idx, ok := layout.Methods[name]
	if !ok {
		return nil, runtimeErrorf(ErrUnknownMethod, "%s has no method %s", layout.Name, name)
	}
	fn := m.prog.Functions[idx]
	if fn.Arity != argc+1 {
		return nil, runtimeErrorf(ErrArityMismatch, "%s expects %d arguments, got %d", fn.Name, fn.Arity-1, argc)
	}
	return fn, nil
}

// ---------------------------------------------------------------------------
// Heap access
// ---------------------------------------------------------------------------

func (m *Machine) structLayout(v Value, action string) (*StructLayout, error) {
	switch k := m.arena.KindOf(v); k {
	case KindStruct:
	case KindStale:
		return nil, runtimeErrorf(ErrStaleReference, "cannot %s a value from a previous run", action)
	default:
		return nil, runtimeErrorf(ErrTypeMismatch, "cannot %s %s", action, m.describe(v))
	}
	idx, err := m.arena.StructLayout(v)
	if err != nil {
		return nil, err
	}
	return m.prog.Structs[idx], nil
}

func (m *Machine) field(obj Value, name string) ([]Value, int, error) {
	layout, err := m.structLayout(obj, "access field "+name+" of")
	if err != nil {
		return nil, 0, err
	}
	i := layout.FieldIndex(name)
	if i < 0 {
		return nil, 0, runtimeErrorf(ErrUnknownField, "%s has no field %s", layout.Name, name)
	}
	fields, err := m.arena.Elements(obj)
	if err != nil {
		return nil, 0, err
	}
	return fields, i, nil
}

func (m *Machine) element(arr, idx Value) ([]Value, int, error) {
	switch k := m.arena.KindOf(arr); k {
	case KindArray:
	case KindStale:
		return nil, 0, runtimeErrorf(ErrStaleReference, "cannot index a value from a previous run")
	default:
		return nil, 0, runtimeErrorf(ErrTypeMismatch, "cannot index %s", m.describe(arr))
	}
	if !idx.IsInt() {
		return nil, 0, runtimeErrorf(ErrTypeMismatch, "array index must be int, got %s", m.describe(idx))
	}
	elems, err := m.arena.Elements(arr)
	if err != nil {
		return nil, 0, err
	}
	i := idx.Int()
	if i < 0 || i >= int64(len(elems)) {
		return nil, 0, runtimeErrorf(ErrIndexOutOfRange, "index %d out of range [0, %d)", i, len(elems))
	}
	return elems, int(i), nil
}

// describe names a value's type for error messages.
func (m *Machine) describe(v Value) string {
	k := m.arena.KindOf(v)
	if k == KindStruct {
		if idx, err := m.arena.StructLayout(v); err == nil {
			return "struct " + m.prog.Structs[idx].Name
		}
	}
	return k.String()
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (m *Machine) push(v Value) {
	if m.sp == len(m.stack) {
		if err := m.ensure(m.sp + 1); err != nil {
			panic(stackSignal{err})
		}
	}
	m.stack[m.sp] = v
	m.sp++
}

// pop never reaches below the current frame's locals.
func (m *Machine) pop() Value {
	if m.sp <= m.floor {
		panic(stackSignal{runtimeErrorf(ErrStackUnderflow, "pop below frame base")})
	}
	m.sp--
	return m.stack[m.sp]
}

func (m *Machine) peek() Value {
	if m.sp <= m.floor {
		panic(stackSignal{runtimeErrorf(ErrStackUnderflow, "peek below frame base")})
	}
	return m.stack[m.sp-1]
}

// ensure grows the operand stack to hold n values.
func (m *Machine) ensure(n int) *RuntimeError {
	if n <= len(m.stack) {
		return nil
	}
	if n > m.cfg.MaxStack {
		return runtimeErrorf(ErrStackOverflow, "operand stack exceeds %d values", m.cfg.MaxStack)
	}
	size := min(max(2*len(m.stack), n), m.cfg.MaxStack)
	grown := make([]Value, size)
	copy(grown, m.stack[:m.sp])
	m.stack = grown
	return nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// fail attaches the current location to err.
func (m *Machine) fail(err error) error {
	var re *RuntimeError
	if !errors.As(err, &re) {
		re = runtimeErrorf(ErrInternal, "%v", err)
	}
	return m.locate(re)
}

// locate fills in the function, instruction and call-stack trace of e.
func (m *Machine) locate(e *RuntimeError) error {
	e.Trace = e.Trace[:0]
	for i := len(m.frames) - 1; i >= 0; i-- {
		f := &m.frames[i]
		ip := max(f.ip-1, 0)
		e.Trace = append(e.Trace, TraceFrame{Function: f.fn.Name, IP: ip, Line: f.fn.LineAt(ip)})
	}
	if len(e.Trace) > 0 {
		top := e.Trace[0]
		e.Function, e.IP, e.Line = top.Function, top.IP, top.Line
	}
	return e
}

func (m *Machine) recovered(r any) error {
	if sig, ok := r.(stackSignal); ok {
		return m.locate(sig.err)
	}
	log.Errorf("recovered from panic in dispatch loop: %v", r)
	return m.locate(runtimeErrorf(ErrInternal, "%v", r))
}
