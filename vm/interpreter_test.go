package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
)

func TestArithmeticResult(t *testing.T) {
	// 2 + 3 * 4
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpConst, b.IntConstant(2))
		fb.Emit(OpConst, b.IntConstant(3))
		fb.Emit(OpConst, b.IntConstant(4))
		fb.Emit(OpMul, 0)
		fb.Emit(OpAdd, 0)
		fb.Emit(OpHalt, 0)
	})
	m, v, err := runProgram(t, prog)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.IsInt() || v.Int() != 14 {
		t.Errorf("result = %s, want 14", m.Format(v))
	}
	if m.State() != StateHalted {
		t.Errorf("State() = %s, want halted", m.State())
	}
}

func TestFibonacci(t *testing.T) {
	m, v, err := runProgram(t, buildFib(t, 20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := m.Format(v); got != "6765" {
		t.Errorf("fib(20) = %s, want 6765", got)
	}
}

func TestMixedArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b Constant
		op   Opcode
		want string
	}{
		{"int + float", Constant{Kind: ConstInt, Int: 1}, Constant{Kind: ConstFloat, Float: 2.5}, OpAdd, "3.5"},
		{"int / int truncates", Constant{Kind: ConstInt, Int: -7}, Constant{Kind: ConstInt, Int: 2}, OpDiv, "-3"},
		{"int % int keeps dividend sign", Constant{Kind: ConstInt, Int: -7}, Constant{Kind: ConstInt, Int: 2}, OpMod, "-1"},
		{"float / int", Constant{Kind: ConstFloat, Float: 7}, Constant{Kind: ConstInt, Int: 2}, OpDiv, "3.5"},
		{"int < float", Constant{Kind: ConstInt, Int: 2}, Constant{Kind: ConstFloat, Float: 2.5}, OpLt, "true"},
		{"string < string", Constant{Kind: ConstString, Str: "abc"}, Constant{Kind: ConstString, Str: "abd"}, OpLt, "true"},
		{"concat", Constant{Kind: ConstString, Str: "foo"}, Constant{Kind: ConstString, Str: "bar"}, OpConcat, "foobar"},
		{"shift", Constant{Kind: ConstInt, Int: 1}, Constant{Kind: ConstInt, Int: 10}, OpShl, "1024"},
		{"xor", Constant{Kind: ConstInt, Int: 6}, Constant{Kind: ConstInt, Int: 3}, OpBitXor, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
				fb.Emit(OpConst, b.AddConstant(tt.a))
				fb.Emit(OpConst, b.AddConstant(tt.b))
				fb.Emit(tt.op, 0)
				fb.Emit(OpHalt, 0)
			})
			m, v, err := runProgram(t, prog)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := m.Format(v); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

func TestRuntimeErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		a, b Constant
		op   Opcode
		want error
	}{
		{"int division by zero", Constant{Kind: ConstInt, Int: 10}, Constant{Kind: ConstInt, Int: 0}, OpDiv, ErrDivisionByZero},
		{"int modulo by zero", Constant{Kind: ConstInt, Int: 10}, Constant{Kind: ConstInt, Int: 0}, OpMod, ErrDivisionByZero},
		{"float division by zero", Constant{Kind: ConstFloat, Float: 1.5}, Constant{Kind: ConstFloat, Float: 0}, OpDiv, ErrDivisionByZero},
		{"add string and int", Constant{Kind: ConstString, Str: "a"}, Constant{Kind: ConstInt, Int: 1}, OpAdd, ErrTypeMismatch},
		{"concat ints", Constant{Kind: ConstInt, Int: 1}, Constant{Kind: ConstInt, Int: 2}, OpConcat, ErrTypeMismatch},
		{"compare string and int", Constant{Kind: ConstString, Str: "a"}, Constant{Kind: ConstInt, Int: 1}, OpLt, ErrTypeMismatch},
		{"bitand floats", Constant{Kind: ConstFloat, Float: 1}, Constant{Kind: ConstInt, Int: 1}, OpBitAnd, ErrTypeMismatch},
		{"multiply overflow", Constant{Kind: ConstInt, Int: MaxSmallInt}, Constant{Kind: ConstInt, Int: 2}, OpMul, ErrIntegerOverflow},
		{"add overflow", Constant{Kind: ConstInt, Int: MaxSmallInt}, Constant{Kind: ConstInt, Int: 1}, OpAdd, ErrIntegerOverflow},
		{"float multiply overflow", Constant{Kind: ConstFloat, Float: 1e308}, Constant{Kind: ConstFloat, Float: 10}, OpMul, ErrFloatOverflow},
		{"float add overflow", Constant{Kind: ConstFloat, Float: math.MaxFloat64}, Constant{Kind: ConstFloat, Float: math.MaxFloat64}, OpAdd, ErrFloatOverflow},
		{"float sub overflow", Constant{Kind: ConstFloat, Float: -math.MaxFloat64}, Constant{Kind: ConstFloat, Float: math.MaxFloat64}, OpSub, ErrFloatOverflow},
		{"float divide overflow", Constant{Kind: ConstFloat, Float: 1e308}, Constant{Kind: ConstFloat, Float: 1e-10}, OpDiv, ErrFloatOverflow},
		{"negative shift", Constant{Kind: ConstInt, Int: 1}, Constant{Kind: ConstInt, Int: -1}, OpShl, ErrInvalidOperand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
				fb.SetLine(3)
				fb.Emit(OpConst, b.AddConstant(tt.a))
				fb.Emit(OpConst, b.AddConstant(tt.b))
				fb.Emit(tt.op, 0)
				fb.Emit(OpHalt, 0)
			})
			m, _, err := runProgram(t, prog)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var re *RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("error %T is not a *RuntimeError", err)
			}
			if re.IP != 2 || re.Line != 3 || re.Function != "<script>" {
				t.Errorf("location = %s:%d line %d, want <script>:2 line 3", re.Function, re.IP, re.Line)
			}
			if m.State() != StateFailed {
				t.Errorf("State() = %s, want failed", m.State())
			}
		})
	}
}

func TestConditionMustBeBool(t *testing.T) {
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		end := fb.NewLabel()
		fb.Emit(OpConst, b.IntConstant(1))
		fb.EmitJump(OpJumpIfFalse, end)
		fb.Mark(end)
		fb.Emit(OpNil, 0)
		fb.Emit(OpHalt, 0)
	})
	_, _, err := runProgram(t, prog)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("error = %v, want type mismatch", err)
	}
}

func TestCallErrors(t *testing.T) {
	t.Run("not callable", func(t *testing.T) {
		prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
			fb.Emit(OpConst, b.IntConstant(5))
			fb.Emit(OpCall, 0)
			fb.Emit(OpHalt, 0)
		})
		_, _, err := runProgram(t, prog)
		if !errors.Is(err, ErrNotCallable) {
			t.Errorf("error = %v, want not callable", err)
		}
	})

	t.Run("arity", func(t *testing.T) {
		prog := buildFib(t, 3)
		// Replace the entry call with a zero-argument call through the
		// function value.
		script := prog.EntryFunction()
		script.Code = []Instruction{
			{Op: OpFunc, Arg: 1},
			{Op: OpCall, Arg: 0},
			{Op: OpHalt},
		}
		script.Lines = nil
		_, _, err := runProgram(t, prog)
		if !errors.Is(err, ErrArityMismatch) {
			t.Errorf("error = %v, want arity mismatch", err)
		}
	})
}

func TestStackUnderflowStopsAtFrameBase(t *testing.T) {
	// Two locals sit at the bottom of the entry frame; popping into them is
	// an underflow, not a read of the locals.
	prog := buildScript(t, 2, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpPop, 0)
		fb.Emit(OpNil, 0)
		fb.Emit(OpHalt, 0)
	})
	_, _, err := runProgram(t, prog)
	if !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("error = %v, want stack underflow", err)
	}
}

func TestOperandStackOverflow(t *testing.T) {
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		for i := 0; i < 20; i++ {
			fb.Emit(OpNil, 0)
		}
		fb.Emit(OpHalt, 0)
	})
	_, _, err := runProgram(t, prog, WithConfig(Config{MaxStack: 8}))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("error = %v, want stack overflow", err)
	}
}

// ---------------------------------------------------------------------------
// Frame depth
// ---------------------------------------------------------------------------

func TestFrameDepthBoundary(t *testing.T) {
	cfg := Config{MaxFrames: 10}

	// down(8) uses 9 frames plus the entry frame: exactly the maximum.
	m, v, err := runProgram(t, buildDescent(t, 8), WithConfig(cfg))
	if err != nil {
		t.Fatalf("depth at maximum: %v", err)
	}
	if v.Int() != 0 {
		t.Errorf("down(8) = %s, want 0", m.Format(v))
	}

	// One frame deeper overflows.
	m, _, err = runProgram(t, buildDescent(t, 9), WithConfig(cfg))
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("depth beyond maximum: error = %v, want stack overflow", err)
	}
	var re *RuntimeError
	errors.As(err, &re)
	if len(re.Trace) != 10 {
		t.Errorf("trace has %d frames, want 10", len(re.Trace))
	}
	if re.Function != "down" {
		t.Errorf("overflow reported in %q, want down", re.Function)
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %s, want failed", m.State())
	}
}

// ---------------------------------------------------------------------------
// Aborts
// ---------------------------------------------------------------------------

func loopForever(t *testing.T) *Program {
	return buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		top := fb.NewLabel()
		fb.Mark(top)
		fb.Emit(OpNop, 0)
		fb.EmitJump(OpJump, top)
	})
}

func TestContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMachine(loopForever(t), WithConfig(Config{CheckInterval: 16}))
	_, err := m.Run(ctx)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("error = %v, want aborted", err)
	}
	if m.State() != StateAborted {
		t.Errorf("State() = %s, want aborted", m.State())
	}
	if m.Steps() > 16 {
		t.Errorf("ran %d steps after cancellation, want at most 16", m.Steps())
	}
}

func TestStepLimitAborts(t *testing.T) {
	m := NewMachine(loopForever(t), WithConfig(Config{StepLimit: 1000}))
	_, err := m.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("error = %v, want aborted", err)
	}
	if m.State() != StateAborted {
		t.Errorf("State() = %s, want aborted", m.State())
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRunIsDeterministicAcrossResets(t *testing.T) {
	prog := buildFib(t, 15)
	m := NewMachine(prog)
	first, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	steps := m.Steps()

	if _, err := m.Run(context.Background()); err == nil {
		t.Error("second Run without Reset should fail")
	}

	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	second, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first != second || m.Steps() != steps {
		t.Errorf("re-run = %v after %d steps, want %v after %d", second, m.Steps(), first, steps)
	}

	_, third, err := runProgram(t, prog)
	if err != nil {
		t.Fatal(err)
	}
	if third != first {
		t.Errorf("fresh machine = %v, want %v", third, first)
	}
}

func TestResultGoesStaleAfterReset(t *testing.T) {
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpConst, b.StringConstant("kept"))
		fb.Emit(OpHalt, 0)
	})
	m, v, err := runProgram(t, prog)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Format(v); got != "kept" {
		t.Fatalf("Format = %q, want kept", got)
	}
	m.Reset()
	if got := m.Format(v); got != "<stale reference>" {
		t.Errorf("Format after Reset = %q, want <stale reference>", got)
	}
}

func TestHeapLimit(t *testing.T) {
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpConst, b.StringConstant("abcdefghijklmnopqrstuvwxyz"))
		fb.Emit(OpHalt, 0)
	})
	_, _, err := runProgram(t, prog, WithConfig(Config{MaxHeapBytes: 8}))
	if !errors.Is(err, ErrHeapExhausted) {
		t.Errorf("error = %v, want heap exhausted", err)
	}
}

// ---------------------------------------------------------------------------
// Heap instructions
// ---------------------------------------------------------------------------

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpConst, b.StringConstant("hello"))
		fb.Emit(OpPrint, 0)
		fb.Emit(OpConst, b.FloatConstant(2))
		fb.Emit(OpPrint, 0)
		fb.Emit(OpNil, 0)
		fb.Emit(OpHalt, 0)
	})
	if _, _, err := runProgram(t, prog, WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "hello\n2.0\n" {
		t.Errorf("output = %q", got)
	}
}

func TestArrays(t *testing.T) {
	build := func(index int64) *Program {
		return buildScript(t, 1, func(b *ProgramBuilder, fb *FunctionBuilder) {
			fb.Emit(OpConst, b.IntConstant(10))
			fb.Emit(OpConst, b.IntConstant(20))
			fb.Emit(OpConst, b.IntConstant(30))
			fb.Emit(OpArray, 3)
			fb.Emit(OpStoreLocal, 0)
			fb.Emit(OpPop, 0)
			// a[index] = a[index] + 1
			fb.Emit(OpLoadLocal, 0)
			fb.Emit(OpConst, b.IntConstant(index))
			fb.Emit(OpLoadLocal, 0)
			fb.Emit(OpConst, b.IntConstant(index))
			fb.Emit(OpIndex, 0)
			fb.Emit(OpConst, b.IntConstant(1))
			fb.Emit(OpAdd, 0)
			fb.Emit(OpSetIndex, 0)
			fb.Emit(OpPop, 0)
			fb.Emit(OpLoadLocal, 0)
			fb.Emit(OpHalt, 0)
		})
	}

	m, v, err := runProgram(t, build(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Format(v); got != "[10, 21, 30]" {
		t.Errorf("array = %s, want [10, 21, 30]", got)
	}

	_, _, err = runProgram(t, build(3))
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("error = %v, want index out of range", err)
	}
}

func TestStructsAndMethods(t *testing.T) {
	b := NewProgramBuilder()
	entry, script := b.AddFunction("<script>", 0)
	getIdx, get := b.AddFunction("Point.getX", 1)
	b.SetEntry(entry)
	point := b.AddStruct("Point", []string{"x", "y"})
	b.AddMethod(point, "getX", getIdx)

	x := b.StringConstant("x")
	get.Emit(OpLoadLocal, 0)
	get.Emit(OpGetField, x)
	get.Emit(OpReturn, 0)

	script.Emit(OpConst, b.IntConstant(3))
	script.Emit(OpConst, b.IntConstant(4))
	script.Emit(OpStruct, point)
	script.Emit(OpInvoke, int(PackInvoke(b.StringConstant("getX"), 0)))
	script.Emit(OpHalt, 0)

	prog, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	m, v, err := runProgram(t, prog)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Format(v); got != "3" {
		t.Errorf("p.getX() = %s, want 3", got)
	}

	// Unknown method on the same receiver.
	prog.Functions[entry].Code[3].Arg = PackInvoke(b.StringConstant("nope"), 0)
	if _, _, err := runProgram(t, prog); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("error = %v, want unknown method", err)
	}
}

func TestInvalidInstructionsAreRejectedBeforeRunning(t *testing.T) {
	b := NewProgramBuilder()
	entry, fb := b.AddFunction("<script>", 0)
	b.SetEntry(entry)
	fb.Emit(OpJump, 5)
	fb.Emit(OpHalt, 0)
	if _, err := b.Build(); !errors.Is(err, ErrInvalidProgram) {
		t.Errorf("Build error = %v, want invalid program", err)
	}
}

func TestSharedArenaAcrossRuns(t *testing.T) {
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpConst, b.StringConstant("hi"))
		fb.Emit(OpHalt, 0)
	})
	arena := NewArena(0)

	m, v, err := runProgram(t, prog, WithArena(arena))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.Program() != prog || m.Arena() != arena || m.Err() != nil {
		t.Fatalf("Program/Arena/Err = %p/%p/%v", m.Program(), m.Arena(), m.Err())
	}
	if s, err := arena.String(v); err != nil || s != "hi" {
		t.Fatalf("String = %q, %v", s, err)
	}

	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := arena.String(v); !errors.Is(err, ErrStaleReference) {
		t.Errorf("String after Reset: err = %v, want stale reference", err)
	}
	if k := arena.KindOf(v); k != KindStale {
		t.Errorf("KindOf after Reset = %s, want %s", k, KindStale)
	}

	// A second machine allocates into the recycled arena.
	m2, v2, err := runProgram(t, prog, WithArena(arena))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := m2.Format(v2); got != "hi" {
		t.Errorf("second run = %q, want hi", got)
	}
	if arena.Stats().Resets != 1 {
		t.Errorf("Resets = %d, want 1", arena.Stats().Resets)
	}
}

func TestErrRecordsFailure(t *testing.T) {
	prog := buildScript(t, 0, func(b *ProgramBuilder, fb *FunctionBuilder) {
		fb.Emit(OpConst, b.IntConstant(1))
		fb.Emit(OpConst, b.IntConstant(0))
		fb.Emit(OpDiv, 0)
		fb.Emit(OpHalt, 0)
	})
	m, _, err := runProgram(t, prog)
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("Run error = %v, want division by zero", err)
	}
	if m.Err() != err {
		t.Errorf("Err() = %v, want %v", m.Err(), err)
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %s, want failed", m.State())
	}
}
