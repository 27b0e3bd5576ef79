package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Runtime error kinds. A *RuntimeError unwraps to exactly one of these, so
// callers can test with errors.Is(err, vm.ErrDivisionByZero).
var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrArityMismatch   = errors.New("arity mismatch")
	ErrUndefinedSlot   = errors.New("undefined local slot")
	ErrNotCallable     = errors.New("value is not callable")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownMethod   = errors.New("unknown method")
	ErrIntegerOverflow = errors.New("integer overflow")
	ErrFloatOverflow   = errors.New("float overflow")
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrHeapExhausted   = errors.New("heap exhausted")
	ErrStaleReference  = errors.New("stale reference")
	ErrOutput          = errors.New("output failed")
	ErrAborted         = errors.New("execution aborted")
	ErrInternal        = errors.New("internal error")
)

// TraceFrame is one entry of a runtime call-stack trace, innermost first.
type TraceFrame struct {
	Function string
	IP       int
	Line     int
}

func (f TraceFrame) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s (line %d, ip %d)", f.Function, f.Line, f.IP)
	}
	return fmt.Sprintf("%s (ip %d)", f.Function, f.IP)
}

// RuntimeError reports a failure during execution. The machine that
// produced it is left in the Failed or Aborted state.
type RuntimeError struct {
	Kind     error
	Msg      string
	Function string
	IP       int
	Line     int
	Trace    []TraceFrame
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d: ", e.Line)
	}
	sb.WriteString(e.Kind.Error())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Function != "" {
		fmt.Fprintf(&sb, " (in %s)", e.Function)
	}
	return sb.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Kind
}

// FormatTrace renders the call stack, innermost frame first.
func (e *RuntimeError) FormatTrace() string {
	var sb strings.Builder
	for _, f := range e.Trace {
		sb.WriteString("  at ")
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// runtimeErrorf builds an unlocated error; the machine fills in where it
// happened before the error leaves Run.
func runtimeErrorf(kind error, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// stackSignal is panicked by the stack helpers and recovered in Run.
type stackSignal struct {
	err *RuntimeError
}
