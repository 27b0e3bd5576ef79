package compiler

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/synapse/vm"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

// Lexer turns source text into tokens on demand. It never reads ahead more
// than one character, and Reset rewinds it to the start of the input.
type Lexer struct {
	input     string
	pos       int  // offset of ch
	readPos   int  // offset after ch
	ch        rune // current character, 0 at end of input
	line      int  // 1-based line of ch
	lineStart int  // offset where the current line starts
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.Reset()
	return l
}

// Reset restarts the token stream from the beginning of the input.
func (l *Lexer) Reset() {
	l.pos, l.readPos = 0, 0
	l.line, l.lineStart = 1, 0
	l.ch = 0
	l.readChar()
}

// Tokenize lexes a whole source text, ending with the EOF token.
func Tokenize(input string) ([]Token, error) {
	var toks []Token
	for tok, err := range NewLexer(input).All() {
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

// All yields tokens up to and including EOF, or up to the first error.
func (l *Lexer) All() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		for {
			tok, err := l.Next()
			if !yield(tok, err) || err != nil || tok.Type == TokenEOF {
				return
			}
		}
	}
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPos
	}
	l.pos = l.readPos
	if l.readPos >= len(l.input) {
		l.ch = 0
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.readPos += size
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.pos - l.lineStart + 1,
	}
}

func (l *Lexer) token(typ TokenType, start Position) Token {
	return Token{
		Type:    typ,
		Literal: l.input[start.Offset:l.pos],
		Span:    Span{Start: start, End: l.position()},
	}
}

func (l *Lexer) errorf(start Position, format string, args ...any) *LexError {
	return &LexError{Span: Span{Start: start, End: l.position()}, Msg: fmt.Sprintf(format, args...)}
}

// Next returns the next token. At the end of input it returns EOF, and keeps
// returning EOF on every later call.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return Token{}, err
	}
	start := l.position()
	switch {
	case l.atEOF():
		return Token{Type: TokenEOF, Span: Span{Start: start, End: start}}, nil
	case isDigit(l.ch):
		return l.readNumber(start)
	case isLetter(l.ch):
		return l.readIdentifier(start), nil
	case l.ch == '"':
		return l.readString(start)
	}
	return l.readOperator(start)
}

func (l *Lexer) skipWhitespaceAndComments() error {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			start := l.position()
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.atEOF() {
					return l.errorf(start, "unterminated block comment")
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		default:
			return nil
		}
	}
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (l *Lexer) readNumber(start Position) (Token, error) {
	for isDigit(l.ch) {
		l.readChar()
	}
	isFloat := false
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if !isDigit(l.ch) {
			return Token{}, l.errorf(start, "malformed exponent in %q", l.input[start.Offset:l.pos])
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if isFloat {
		tok := l.token(TokenFloat, start)
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return Token{}, l.errorf(start, "float literal %s out of range", tok.Literal)
		}
		tok.Float = f
		return tok, nil
	}
	tok := l.token(TokenInteger, start)
	n, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil || n > vm.MaxSmallInt {
		return Token{}, l.errorf(start, "integer literal %s out of range", tok.Literal)
	}
	tok.Int = n
	return tok, nil
}

func (l *Lexer) readString(start Position) (Token, error) {
	l.readChar() // opening quote
	var sb strings.Builder
	for {
		switch {
		case l.atEOF() || l.ch == '\n':
			return Token{}, l.errorf(start, "unterminated string")
		case l.ch == '"':
			l.readChar()
			tok := l.token(TokenString, start)
			tok.Str = sb.String()
			return tok, nil
		case l.ch == '\\':
			escStart := l.position()
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			default:
				if l.atEOF() || l.ch == '\n' {
					return Token{}, l.errorf(start, "unterminated string")
				}
				bad := l.ch
				l.readChar()
				return Token{}, l.errorf(escStart, "unknown escape sequence \\%c", bad)
			}
			l.readChar()
		default:
			sb.WriteString(l.input[l.pos:l.readPos])
			l.readChar()
		}
	}
}

func (l *Lexer) readIdentifier(start Position) Token {
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	tok := l.token(TokenIdentifier, start)
	if kw, ok := reservedWords[tok.Literal]; ok {
		tok.Type = kw
	}
	return tok
}

// ---------------------------------------------------------------------------
// Operators and delimiters
// ---------------------------------------------------------------------------

var twoCharOps = map[string]TokenType{
	"++": TokenConcat,
	"==": TokenEq,
	"!=": TokenNe,
	"<=": TokenLe,
	">=": TokenGe,
	"&&": TokenAndAnd,
	"||": TokenOrOr,
	"<<": TokenShl,
	">>": TokenShr,
	"+=": TokenPlusEq,
	"-=": TokenMinusEq,
	"*=": TokenStarEq,
	"/=": TokenSlashEq,
	"%=": TokenPercentEq,
}

var oneCharOps = map[rune]TokenType{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'=': TokenAssign,
	'<': TokenLt,
	'>': TokenGt,
	'!': TokenBang,
	'&': TokenAmp,
	'|': TokenPipe,
	'^': TokenCaret,
	'~': TokenTilde,
	'(': TokenLParen,
	')': TokenRParen,
	'{': TokenLBrace,
	'}': TokenRBrace,
	'[': TokenLBracket,
	']': TokenRBracket,
	',': TokenComma,
	';': TokenSemicolon,
	':': TokenColon,
	'.': TokenDot,
}

func (l *Lexer) readOperator(start Position) (Token, error) {
	if l.pos+2 <= len(l.input) {
		if typ, ok := twoCharOps[l.input[l.pos:l.pos+2]]; ok {
			l.readChar()
			l.readChar()
			return l.token(typ, start), nil
		}
	}
	if typ, ok := oneCharOps[l.ch]; ok {
		l.readChar()
		return l.token(typ, start), nil
	}
	ch := l.ch
	l.readChar()
	if ch == utf8.RuneError {
		return Token{}, l.errorf(start, "invalid UTF-8 in source")
	}
	return Token{}, l.errorf(start, "unexpected character %q", ch)
}

func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}

func isLetter(ch rune) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}
