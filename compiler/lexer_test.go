package compiler

import (
	"errors"
	"strings"
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) { } [ ] , ; : . + - * / % ++ = == != < <= > >= ! && || & | ^ ~ << >> += -= *= /= %=`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenComma, ","},
		{TokenSemicolon, ";"},
		{TokenColon, ":"},
		{TokenDot, "."},
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenPercent, "%"},
		{TokenConcat, "++"},
		{TokenAssign, "="},
		{TokenEq, "=="},
		{TokenNe, "!="},
		{TokenLt, "<"},
		{TokenLe, "<="},
		{TokenGt, ">"},
		{TokenGe, ">="},
		{TokenBang, "!"},
		{TokenAndAnd, "&&"},
		{TokenOrOr, "||"},
		{TokenAmp, "&"},
		{TokenPipe, "|"},
		{TokenCaret, "^"},
		{TokenTilde, "~"},
		{TokenShl, "<<"},
		{TokenShr, ">>"},
		{TokenPlusEq, "+="},
		{TokenMinusEq, "-="},
		{TokenStarEq, "*="},
		{TokenSlashEq, "/="},
		{TokenPercentEq, "%="},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("token[%d]: %v", i, err)
		}
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerKeywordsAndIdentifiers(t *testing.T) {
	toks, err := Tokenize("fn fib let x_1 _tmp printer print null")
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenType{TokenFn, TokenIdentifier, TokenLet, TokenIdentifier, TokenIdentifier,
		TokenIdentifier, TokenPrint, TokenNull, TokenEOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, typ := range want {
		if toks[i].Type != typ {
			t.Errorf("token[%d] = %v, want %v", i, toks[i], typ)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		i     int64
		f     float64
	}{
		{"42", TokenInteger, 42, 0},
		{"0", TokenInteger, 0, 0},
		{"140737488355327", TokenInteger, 140737488355327, 0},
		{"3.14", TokenFloat, 0, 3.14},
		{"1.5e10", TokenFloat, 0, 1.5e10},
		{"2E-3", TokenFloat, 0, 2e-3},
		{"7e+2", TokenFloat, 0, 700},
	}

	for _, tc := range tests {
		tok, err := NewLexer(tc.input).Next()
		if err != nil {
			t.Errorf("Lexer(%q): %v", tc.input, err)
			continue
		}
		if tok.Type != tc.typ {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.typ)
		}
		if tok.Int != tc.i || tok.Float != tc.f {
			t.Errorf("Lexer(%q): payload = %d/%g, want %d/%g", tc.input, tok.Int, tok.Float, tc.i, tc.f)
		}
	}
}

func TestLexerIntegerThenDot(t *testing.T) {
	toks, err := Tokenize("1.x")
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Type != TokenInteger || toks[1].Type != TokenDot || toks[2].Type != TokenIdentifier {
		t.Errorf("Tokenize(1.x) = %v", toks)
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"q\"uote"`, `q"uote`},
		{`"back\\slash"`, `back\slash`},
		{`"nul\0"`, "nul\x00"},
		{`"héllo"`, "héllo"},
	}

	for _, tc := range tests {
		tok, err := NewLexer(tc.input).Next()
		if err != nil {
			t.Errorf("Lexer(%q): %v", tc.input, err)
			continue
		}
		if tok.Type != TokenString {
			t.Errorf("Lexer(%q): type = %v, want STRING", tc.input, tok.Type)
		}
		if tok.Str != tc.want {
			t.Errorf("Lexer(%q): value = %q, want %q", tc.input, tok.Str, tc.want)
		}
		if tok.Literal != tc.input {
			t.Errorf("Lexer(%q): literal = %q", tc.input, tok.Literal)
		}
	}
}

func TestLexerComments(t *testing.T) {
	input := "1 // line comment\n/* block\ncomment */ 2"
	toks, err := Tokenize(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 3 || toks[0].Int != 1 || toks[1].Int != 2 || toks[2].Type != TokenEOF {
		t.Fatalf("Tokenize = %v", toks)
	}
	if toks[1].Span.Start.Line != 3 {
		t.Errorf("second token on line %d, want 3", toks[1].Span.Start.Line)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
		line  int
		col   int
	}{
		{`"abc`, "unterminated string", 1, 1},
		{"x = \"ab\ncd\"", "unterminated string", 1, 5},
		{`"bad \q"`, "unknown escape sequence", 1, 6},
		{"1e", "malformed exponent", 1, 1},
		{"2.5e+", "malformed exponent", 1, 1},
		{"let a = 1;\n  @", "unexpected character", 2, 3},
		{"let café = 1;", "unexpected character", 1, 8},
		{"/* never closed", "unterminated block comment", 1, 1},
		{"999999999999999999", "out of range", 1, 1},
		{"140737488355328", "out of range", 1, 1},
		{"1e999", "out of range", 1, 1},
	}

	for _, tc := range tests {
		_, err := Tokenize(tc.input)
		var lexErr *LexError
		if !errors.As(err, &lexErr) {
			t.Errorf("Tokenize(%q) error = %v, want *LexError", tc.input, err)
			continue
		}
		if !strings.Contains(lexErr.Msg, tc.msg) {
			t.Errorf("Tokenize(%q) = %q, want %q", tc.input, lexErr.Msg, tc.msg)
		}
		if lexErr.Span.Start.Line != tc.line || lexErr.Span.Start.Column != tc.col {
			t.Errorf("Tokenize(%q) at %s, want %d:%d", tc.input, lexErr.Span.Start, tc.line, tc.col)
		}
	}
}

func TestLexerEOFIsSticky(t *testing.T) {
	l := NewLexer("x")
	for i := 0; i < 3; i++ {
		if _, err := l.Next(); err != nil {
			t.Fatal(err)
		}
	}
	tok, err := l.Next()
	if err != nil || tok.Type != TokenEOF {
		t.Errorf("Next after EOF = %v, %v", tok, err)
	}
}

func TestLexerReset(t *testing.T) {
	l := NewLexer("let x = 1;\nx")
	var first []Token
	for tok, err := range l.All() {
		if err != nil {
			t.Fatal(err)
		}
		first = append(first, tok)
	}
	l.Reset()
	i := 0
	for tok, err := range l.All() {
		if err != nil {
			t.Fatal(err)
		}
		if tok != first[i] {
			t.Errorf("after Reset token[%d] = %v, want %v", i, tok, first[i])
		}
		i++
	}
	if i != len(first) {
		t.Errorf("after Reset got %d tokens, want %d", i, len(first))
	}
}

func TestLexerAllStopsEarly(t *testing.T) {
	n := 0
	for range NewLexer("a b c d").All() {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iterated %d tokens, want 2", n)
	}
}

func TestLexerPositions(t *testing.T) {
	toks, err := Tokenize("let x\n  = 10;")
	if err != nil {
		t.Fatal(err)
	}
	ten := toks[3]
	if ten.Span.Start != (Position{Offset: 10, Line: 2, Column: 5}) {
		t.Errorf("10 starts at %+v", ten.Span.Start)
	}
	if ten.Span.End.Offset != 12 {
		t.Errorf("10 ends at offset %d, want 12", ten.Span.End.Offset)
	}
}

func TestKeywordsSorted(t *testing.T) {
	kws := Keywords()
	if len(kws) != len(reservedWords) {
		t.Fatalf("Keywords() has %d entries, want %d", len(kws), len(reservedWords))
	}
	for i := 1; i < len(kws); i++ {
		if kws[i-1] >= kws[i] {
			t.Errorf("Keywords() not sorted at %d: %q >= %q", i, kws[i-1], kws[i])
		}
	}
}
