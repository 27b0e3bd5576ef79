package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/synapse/vm"
)

// run compiles and executes src, returning the rendered result and output.
func run(t *testing.T, src string) (string, string, error) {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	var out strings.Builder
	m := vm.NewMachine(prog, vm.WithOutput(&out))
	v, err := m.Run(context.Background())
	if err != nil {
		return "", out.String(), err
	}
	return m.Format(v), out.String(), nil
}

func TestCompileAndRun(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		out  string
	}{
		{"arithmetic", "2 + 3 * 4;", "14", ""},
		{"integer division", "7 / 2;", "3", ""},
		{"float promotion", "7 / 2.0;", "3.5", ""},
		{"modulo sign", "-7 % 3;", "-1", ""},
		{"bitwise precedence", "(5 & 3) | (1 << 4) ^ 2;", "19", ""},
		{"numeric equality", "1 == 1.0;", "true", ""},
		{"string order", `"abc" < "abd";`, "true", ""},
		{"concat", `"foo" ++ "bar";`, "foobar", ""},
		{"len", `len("hello") + len([1, 2]);`, "7", ""},
		{"not", "!(1 < 2) || false;", "false", ""},
		{"no result", "let x = 1;", "null", ""},
		{"uninitialized let", "let x; x;", "null", ""},
		{"assignment is not a result", "let x = 1; x; x = 5;", "1", ""},
		{
			"recursion",
			"fn fib(n) { if (n < 2) { return n; } return fib(n - 1) + fib(n - 2); } fib(20);",
			"6765", "",
		},
		{"hoisting", "fn a() { return b() + 1; } fn b() { return 41; } a();", "42", ""},
		{"main wins over last expression", "fn main() { return 7; } 1;", "7", ""},
		{"top-level return wins over main", "fn main() { return 1; } return 2;", "2", ""},
		{"return stops the script", "return 3; print 5;", "3", ""},
		{"fall off returns null", "fn f() { let a = 1; } f();", "null", ""},
		{"first-class function", "fn sq(x) { return x * x; } let f = sq; f(9);", "81", ""},
		{"shadowing", "let x = 1; { let x = 2; print x; } x;", "1", "2\n"},
		{"let reads outer binding", "let x = 5; { let x = x + 1; print x; } x;", "5", "6\n"},
		{
			"for loop",
			"let s = 0; for (let i = 1; i <= 10; i += 1) { s += i; } s;",
			"55", "",
		},
		{
			"break and continue",
			`let i = 0; let n = 0;
			while (true) {
				i += 1;
				if (i > 10) break;
				if (i % 2 == 0) continue;
				n += i;
			}
			n;`,
			"25", "",
		},
		{
			"continue in for runs post",
			"let n = 0; for (let i = 0; i < 5; i += 1) { if (i == 2) continue; n += 1; } n;",
			"4", "",
		},
		{"short-circuit and", "fn boom() { return 1 / 0; } false && boom();", "false", ""},
		{"short-circuit or", "fn boom() { return 1 / 0; } true || boom();", "true", ""},
		{"and yields right operand", "true && 5;", "5", ""},
		{"arrays", "let a = [1, 2, 3]; a[1] += 10; a[0] = a[1] * 2; a;", "[24, 12, 3]", ""},
		{"struct display", "struct P { x, y } P { x: 1, y: 2.5 };", "P { x: 1, y: 2.5 }", ""},
		{
			"methods",
			`struct P { x, y }
			impl P {
				fn sum(self) { return self.x + self.y; }
				fn scale(self, k) { self.x *= k; self.y *= k; return self; }
			}
			let p = P { y: 2, x: 1 };
			p.scale(3).sum();`,
			"9", "",
		},
		{
			"struct fields in source order",
			`struct P { a, b }
			fn note(s, v) { print s; return v; }
			let p = P { b: note("b", 2), a: note("a", 1) };
			p.a;`,
			"1", "b\na\n",
		},
		{
			"fizzbuzz",
			`for (let i = 1; i <= 15; i += 1) {
				if (i % 15 == 0) print "fizzbuzz";
				else if (i % 3 == 0) print "fizz";
				else if (i % 5 == 0) print "buzz";
				else print i;
			}`,
			"null",
			"1\n2\nfizz\n4\nbuzz\nfizz\n7\n8\nfizz\nbuzz\n11\nfizz\n13\n14\nfizzbuzz\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, out, err := run(t, tt.src)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if out != tt.out {
				t.Errorf("output = %q, want %q", out, tt.out)
			}
		})
	}
}

func TestCompileRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
		line int
	}{
		{"division by zero", "let x = 1;\nlet y = 0;\nx / y;", vm.ErrDivisionByZero, 3},
		{"arity through variable", "fn f(a) { return a; }\nlet g = f;\ng(1, 2);", vm.ErrArityMismatch, 3},
		{"non-bool condition", "if (1) {}", vm.ErrTypeMismatch, 1},
		{"unknown method", "struct P {}\nlet p = P {};\np.nope();", vm.ErrUnknownMethod, 3},
		{"index out of range", "let a = [1];\na[1];", vm.ErrIndexOutOfRange, 2},
		{"call a number", "let n = 3;\nn();", vm.ErrNotCallable, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.src)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("error = %v, want %v", err, tt.kind)
			}
			var re *vm.RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("error %T is not a *vm.RuntimeError", err)
			}
			if re.Line != tt.line {
				t.Errorf("line = %d, want %d", re.Line, tt.line)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		src  string
		kind ErrorKind
	}{
		{"x + 1;", ErrUnresolvedName},
		{"undefined(1);", ErrUnresolvedName},
		{"fn f() { return y; }", ErrUnresolvedName},
		{"let a = 1; fn f() { return a; }", ErrUnresolvedName},
		{"fn f(a) {} f(1, 2);", ErrArityMismatch},
		{"fn main(a) {}", ErrArityMismatch},
		{"len(1, 2);", ErrArityMismatch},
		{"let a = 1; let a = 2;", ErrDuplicateBinding},
		{"fn f(a, a) {}", ErrDuplicateBinding},
		{"fn f(a) { let a = 1; }", ErrDuplicateBinding},
		{"fn f() {} fn f() {}", ErrDuplicateBinding},
		{"struct S {} fn S() {}", ErrDuplicateBinding},
		{"struct S { a, a }", ErrDuplicateBinding},
		{"let len = 1;", ErrDuplicateBinding},
		{"fn len(x) {}", ErrDuplicateBinding},
		{"struct P {} impl P { fn m(self) {} fn m(self) {} }", ErrDuplicateBinding},
		{"break;", ErrSyntax},
		{"fn f() { continue; }", ErrSyntax},
		{"len;", ErrSyntax},
		{"let x = P { a: 1 };", ErrUnresolvedName},
		{"impl Q { fn m(self) {} }", ErrUnresolvedName},
		{"struct P {} let f = P;", ErrUnresolvedName},
		{"struct P { a } P { b: 1 };", ErrInvalidStruct},
		{"struct P { a, b } P { a: 1 };", ErrInvalidStruct},
		{"struct P { a } P { a: 1, a: 2 };", ErrInvalidStruct},
		{"struct P {} impl P { fn m() {} }", ErrArityMismatch},
		{"fn f() {} f = 1;", ErrInvalidAssignment},
	}
	for _, tt := range tests {
		prog, err := Compile(tt.src)
		if prog != nil {
			t.Errorf("Compile(%q) returned a program alongside an error", tt.src)
		}
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Errorf("Compile(%q) error = %v, want *CompileError", tt.src, err)
			continue
		}
		if ce.Kind != tt.kind {
			t.Errorf("Compile(%q) kind = %v (%v), want %v", tt.src, ce.Kind, ce, tt.kind)
		}
	}
}

func TestCompileLexErrorAborts(t *testing.T) {
	prog, err := Compile("let a = 1;\nlet b = \"oops;")
	if prog != nil {
		t.Fatal("program returned for invalid source")
	}
	var le *LexError
	if !errors.As(err, &le) || le.Span.Start.Line != 2 {
		t.Errorf("error = %v, want lex error on line 2", err)
	}
}

func TestSlotReuse(t *testing.T) {
	prog, err := Compile(`fn f(p) {
		{ let a = 1; }
		{ let b = 2; let c = 3; }
		let d = 4;
		return d;
	}`)
	if err != nil {
		t.Fatal(err)
	}
	fn := prog.Functions[prog.FunctionByName("f")]
	if fn.NumLocals != 3 {
		t.Errorf("NumLocals = %d, want 3 (parameter plus the widest block)", fn.NumLocals)
	}
}

func TestConstantDeduplication(t *testing.T) {
	prog, err := Compile(`1 + 1 + 1; "a" ++ "a"; 2.5 * 2.5;`)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Constants) != 3 {
		t.Errorf("got %d constants, want 3: %v", len(prog.Constants), prog.Constants)
	}
}

func TestJumpTargetsInRange(t *testing.T) {
	prog, err := Compile(`
fn classify(n) {
	if (n < 0) { return "neg"; } else if (n == 0) { return "zero"; }
	while (n > 100) { n = n / 2; if (n == 64) break; }
	for (let i = 0; i < 3 && n != 7; i += 1) { if (i == 1) continue; }
	return n || false;
}
classify(5);
`)
	if err != nil {
		t.Fatal(err)
	}
	for _, fn := range prog.Functions {
		for ip, ins := range fn.Code {
			if !ins.Op.IsJump() {
				continue
			}
			if target := ip + 1 + int(ins.Arg); target < 0 || target >= len(fn.Code) {
				t.Errorf("%s %04d: jump to %d outside [0, %d)", fn.Name, ip, target, len(fn.Code))
			}
		}
		if len(fn.Lines) != len(fn.Code) {
			t.Errorf("%s: %d lines for %d instructions", fn.Name, len(fn.Lines), len(fn.Code))
		}
	}
}

func TestEntryIsScript(t *testing.T) {
	prog, err := Compile("fn helper() { return 1; } helper();")
	if err != nil {
		t.Fatal(err)
	}
	if got := prog.EntryFunction().Name; got != ScriptName {
		t.Errorf("entry = %q, want %q", got, ScriptName)
	}
}
