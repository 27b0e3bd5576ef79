package compiler

import "fmt"

// LexError reports malformed source text: an unexpected character, an
// unterminated string or comment, or a bad numeric literal.
type LexError struct {
	Span Span
	Msg  string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Span.Start.Line, e.Span.Start.Column, e.Msg)
}

// ErrorKind classifies a CompileError.
type ErrorKind int

const (
	ErrSyntax ErrorKind = iota
	ErrUnresolvedName
	ErrArityMismatch
	ErrDuplicateBinding
	ErrInvalidAssignment
	ErrInvalidStruct
	ErrInvalidJump
	ErrTooLarge
)

var errorKindNames = map[ErrorKind]string{
	ErrSyntax:            "syntax error",
	ErrUnresolvedName:    "unresolved name",
	ErrArityMismatch:     "arity mismatch",
	ErrDuplicateBinding:  "duplicate binding",
	ErrInvalidAssignment: "invalid assignment target",
	ErrInvalidStruct:     "invalid struct",
	ErrInvalidJump:       "invalid jump",
	ErrTooLarge:          "program too large",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// CompileError reports a well-formed token stream that cannot become a valid
// program. Compilation stops at the first one and produces no program.
type CompileError struct {
	Kind ErrorKind
	Span Span
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Span.Start.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%d:%d: %s: %s", e.Span.Start.Line, e.Span.Start.Column, e.Kind, e.Msg)
}

func compileErrorf(kind ErrorKind, span Span, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Span: span, Msg: fmt.Sprintf(format, args...)}
}
