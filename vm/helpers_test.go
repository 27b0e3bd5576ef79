package vm

import (
	"context"
	"testing"
)

// buildFib assembles:
//
//	fn fib(n) { if (n < 2) { return n; } return fib(n - 1) + fib(n - 2); }
//	fib(n);
func buildFib(tb testing.TB, n int64) *Program {
	tb.Helper()
	b := NewProgramBuilder()
	entry, script := b.AddFunction("<script>", 0)
	fibIdx, fib := b.AddFunction("fib", 1)
	b.SetEntry(entry)

	one := b.IntConstant(1)
	two := b.IntConstant(2)

	recurse := fib.NewLabel()
	fib.Emit(OpLoadLocal, 0)
	fib.Emit(OpConst, two)
	fib.Emit(OpLt, 0)
	fib.EmitJump(OpJumpIfFalse, recurse)
	fib.Emit(OpLoadLocal, 0)
	fib.Emit(OpReturn, 0)
	fib.Mark(recurse)
	fib.Emit(OpFunc, fibIdx)
	fib.Emit(OpLoadLocal, 0)
	fib.Emit(OpConst, one)
	fib.Emit(OpSub, 0)
	fib.Emit(OpCall, 1)
	fib.Emit(OpFunc, fibIdx)
	fib.Emit(OpLoadLocal, 0)
	fib.Emit(OpConst, two)
	fib.Emit(OpSub, 0)
	fib.Emit(OpCall, 1)
	fib.Emit(OpAdd, 0)
	fib.Emit(OpReturn, 0)

	script.Emit(OpFunc, fibIdx)
	script.Emit(OpConst, b.IntConstant(n))
	script.Emit(OpCall, 1)
	script.Emit(OpHalt, 0)

	prog, err := b.Build()
	if err != nil {
		tb.Fatalf("Build: %v", err)
	}
	return prog
}

// buildDescent assembles a function that recurses n times before returning:
//
//	fn down(n) { if (n == 0) { return 0; } return down(n - 1); }
//	down(depth);
//
// A call down(k) occupies k+1 frames on top of the entry frame.
func buildDescent(tb testing.TB, depth int64) *Program {
	tb.Helper()
	b := NewProgramBuilder()
	entry, script := b.AddFunction("<script>", 0)
	downIdx, down := b.AddFunction("down", 1)
	b.SetEntry(entry)

	zero := b.IntConstant(0)
	one := b.IntConstant(1)

	recurse := down.NewLabel()
	down.Emit(OpLoadLocal, 0)
	down.Emit(OpConst, zero)
	down.Emit(OpEq, 0)
	down.EmitJump(OpJumpIfFalse, recurse)
	down.Emit(OpConst, zero)
	down.Emit(OpReturn, 0)
	down.Mark(recurse)
	down.Emit(OpFunc, downIdx)
	down.Emit(OpLoadLocal, 0)
	down.Emit(OpConst, one)
	down.Emit(OpSub, 0)
	down.Emit(OpCall, 1)
	down.Emit(OpReturn, 0)

	script.Emit(OpFunc, downIdx)
	script.Emit(OpConst, b.IntConstant(depth))
	script.Emit(OpCall, 1)
	script.Emit(OpHalt, 0)

	prog, err := b.Build()
	if err != nil {
		tb.Fatalf("Build: %v", err)
	}
	return prog
}

// buildScript assembles a single entry function from emit.
func buildScript(tb testing.TB, locals int, emit func(b *ProgramBuilder, fb *FunctionBuilder)) *Program {
	tb.Helper()
	b := NewProgramBuilder()
	entry, fb := b.AddFunction("<script>", 0)
	b.SetEntry(entry)
	fb.SetNumLocals(locals)
	emit(b, fb)
	prog, err := b.Build()
	if err != nil {
		tb.Fatalf("Build: %v", err)
	}
	return prog
}

func runProgram(tb testing.TB, prog *Program, opts ...Option) (*Machine, Value, error) {
	tb.Helper()
	m := NewMachine(prog, opts...)
	v, err := m.Run(context.Background())
	return m, v, err
}
