package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "let total", protocol.Position{Line: 0, Character: 9}, "total"},
		{"at start", "fi", protocol.Position{Line: 0, Character: 2}, "fi"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first line\nsecond line\nwhi", protocol.Position{Line: 2, Character: 3}, "whi"},
		{"after dot", "p.su", protocol.Position{Line: 0, Character: 4}, "su"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"beyond line end", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"inside word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"at end", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"underscore", "my_var + 1", protocol.Position{Line: 0, Character: 2}, "my_var"},
		{"call", "fib(n - 1)", protocol.Position{Line: 0, Character: 1}, "fib"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "x", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestAnalyze_Clean(t *testing.T) {
	var d document
	if diags := d.analyze("let x = 1;\nprint x;"); len(diags) != 0 {
		t.Errorf("diagnostics = %+v, want none", diags)
	}
	if d.prog == nil {
		t.Error("compiled program not kept")
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		start protocol.Position
		msg   string
	}{
		{"lex error", "let a = 1;\nlet b = \"open;", protocol.Position{Line: 1, Character: 8}, "unterminated string"},
		{"syntax error", "print 1", protocol.Position{Line: 0, Character: 7}, "syntax error"},
		{"unresolved", "let a = 1;\n  print zz;", protocol.Position{Line: 1, Character: 8}, "unresolved name: undefined: zz"},
		{"utf-16 columns", "let s = \"😀\"; print qq;", protocol.Position{Line: 0, Character: 20}, "unresolved name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d document
			diags := d.analyze(tt.text)
			if len(diags) != 1 {
				t.Fatalf("got %d diagnostics, want 1: %+v", len(diags), diags)
			}
			got := diags[0]
			if *got.Severity != protocol.DiagnosticSeverityError {
				t.Errorf("severity = %v, want error", *got.Severity)
			}
			if got.Range.Start != tt.start {
				t.Errorf("start = %+v, want %+v", got.Range.Start, tt.start)
			}
			if !strings.Contains(got.Message, tt.msg) {
				t.Errorf("message = %q, want %q", got.Message, tt.msg)
			}
		})
	}
}

func TestAnalyze_Warnings(t *testing.T) {
	var d document
	diags := d.analyze("fn f() {\n  return 1;\n  print 2;\n}\nlet unused = f();")
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %+v", len(diags), diags)
	}
	for _, diag := range diags {
		if *diag.Severity != protocol.DiagnosticSeverityWarning {
			t.Errorf("%q severity = %v, want warning", diag.Message, *diag.Severity)
		}
	}
	if diags[0].Message != "unreachable code" || diags[0].Range.Start.Line != 2 {
		t.Errorf("first diagnostic = %q at %+v", diags[0].Message, diags[0].Range.Start)
	}
	if diags[1].Message != "unused declared and not used" {
		t.Errorf("second diagnostic = %q", diags[1].Message)
	}
}

func TestAnalyze_KeepsLastGoodParse(t *testing.T) {
	var d document
	d.analyze("fn helper(a) { return a; }")
	d.analyze("fn helper(a) { return a; }\nhel")
	if d.file == nil || len(d.file.Funcs) != 1 {
		t.Fatal("last good parse was dropped")
	}
	if d.text != "fn helper(a) { return a; }\nhel" {
		t.Errorf("text not updated")
	}
}

// ---------------------------------------------------------------------------
// Completion, hover and definition
// ---------------------------------------------------------------------------

const lspSample = `struct Point { x, y }
impl Point {
	fn norm1(self) { return self.x + self.y; }
}
fn fib(n) {
	if (n < 2) { return n; }
	return fib(n - 1) + fib(n - 2);
}
fn first(xs) { return xs[0]; }
print fib(10);
`

func sampleDoc(t *testing.T) *document {
	t.Helper()
	d := &document{}
	if diags := d.analyze(lspSample); len(diags) != 0 {
		t.Fatalf("sample has diagnostics: %+v", diags)
	}
	return d
}

func labels(items []protocol.CompletionItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func TestComplete(t *testing.T) {
	d := sampleDoc(t)
	tests := []struct {
		prefix string
		want   []string
	}{
		{"f", []string{"false", "fib", "first", "fn", "for"}},
		{"Po", []string{"Point"}},
		{"n", []string{"norm1", "null"}},
		{"no", []string{"norm1"}},
		{"le", []string{"len", "let"}},
		{"zz", nil},
	}
	for _, tt := range tests {
		got := labels(d.complete(tt.prefix))
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("complete(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}

	for _, it := range d.complete("fib") {
		if it.Label == "fib" && *it.Detail != "fn fib(n)" {
			t.Errorf("fib detail = %q", *it.Detail)
		}
	}
}

func TestHover(t *testing.T) {
	d := sampleDoc(t)
	tests := []struct {
		word string
		want []string
	}{
		{"fib", []string{"fn fib(n)", "instructions", "1 locals"}},
		{"Point", []string{"struct Point { x, y }", "fn norm1(self)"}},
		{"norm1", []string{"Point.norm1(self)", "instructions"}},
	}
	for _, tt := range tests {
		h := d.hover(tt.word)
		if h == nil {
			t.Errorf("hover(%q) = nil", tt.word)
			continue
		}
		value := h.Contents.(protocol.MarkupContent).Value
		for _, w := range tt.want {
			if !strings.Contains(value, w) {
				t.Errorf("hover(%q) = %q, missing %q", tt.word, value, w)
			}
		}
	}
	if h := d.hover("nothing"); h != nil {
		t.Errorf("hover(nothing) = %+v, want nil", h)
	}
}

func TestDefinition(t *testing.T) {
	d := sampleDoc(t)
	tests := []struct {
		word string
		line protocol.UInteger
		char protocol.UInteger
	}{
		{"Point", 0, 7},
		{"norm1", 2, 4},
		{"fib", 4, 3},
		{"first", 8, 3},
	}
	for _, tt := range tests {
		span, ok := d.definition(tt.word)
		if !ok {
			t.Errorf("definition(%q) not found", tt.word)
			continue
		}
		r := toRange(d.text, span)
		if r.Start.Line != tt.line || r.Start.Character != tt.char {
			t.Errorf("definition(%q) at %+v, want %d:%d", tt.word, r.Start, tt.line, tt.char)
		}
	}
	if _, ok := d.definition("missing"); ok {
		t.Error("definition(missing) found")
	}
}

func TestBoolPtr(t *testing.T) {
	if p := boolPtr(true); p == nil || !*p {
		t.Error("boolPtr(true) did not point to true")
	}
}
