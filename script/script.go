// Package script is the programmatic entry point to the language: compile
// source text, run a compiled program, or do both in one call.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/synapse/compiler"
	"github.com/chazu/synapse/store"
	"github.com/chazu/synapse/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("synapse.script")

// Outcome is the result of one run, rendered before the run's arena is
// released.
type Outcome struct {
	Value  string // display form of the final value
	Kind   string // kind of the final value, e.g. "int" or "null"
	Steps  int64  // instructions executed
	Output string // everything the program printed
}

// IsNull reports whether the run produced null.
func (o *Outcome) IsNull() bool {
	return o.Kind == vm.KindNil.String()
}

// Compile turns source text into a validated program. The error is a
// *compiler.LexError or a *compiler.CompileError.
func Compile(src string) (*vm.Program, error) {
	return compiler.Compile(src)
}

// Run executes prog on a fresh machine. Printed output is captured in the
// outcome and, when out is non-nil, also written to out as it happens.
//
// On a runtime error the outcome is still returned, holding the output and
// step count up to the failure. Extra machine options follow the config and
// output ones.
func Run(ctx context.Context, prog *vm.Program, cfg vm.Config, out io.Writer, extra ...vm.Option) (*Outcome, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	if out != nil {
		w = io.MultiWriter(&buf, out)
	}
	m := vm.NewMachine(prog, append([]vm.Option{vm.WithConfig(cfg), vm.WithOutput(w)}, extra...)...)
	v, err := m.Run(ctx)
	outcome := &Outcome{Steps: m.Steps(), Output: buf.String()}
	if err != nil {
		return outcome, err
	}
	outcome.Value = m.Format(v)
	outcome.Kind = m.Arena().KindOf(v).String()
	return outcome, nil
}

// ---------------------------------------------------------------------------
// Eval
// ---------------------------------------------------------------------------

type options struct {
	cfg   vm.Config
	cache *store.Cache
	out   io.Writer
	prof  *vm.Profiler
}

// Option configures Eval.
type Option func(*options)

// WithConfig sets the machine limits. The default is vm.DefaultConfig().
func WithConfig(cfg vm.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithCache looks compiled programs up in, and adds them to, c.
func WithCache(c *store.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithOutput mirrors printed output to w while the program runs.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithProfiler counts calls and opcodes of the run into p.
func WithProfiler(p *vm.Profiler) Option {
	return func(o *options) { o.prof = p }
}

// Eval compiles src, through the cache when one is configured, and runs it.
func Eval(ctx context.Context, src string, opts ...Option) (*Outcome, error) {
	o := options{cfg: vm.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	prog, err := Load(src, o.cache)
	if err != nil {
		return nil, err
	}
	var extra []vm.Option
	if o.prof != nil {
		extra = append(extra, vm.WithProfiler(o.prof))
	}
	return Run(ctx, prog, o.cfg, o.out, extra...)
}

// Load compiles src, consulting cache first when it is non-nil. Cache
// failures are logged and fall back to compiling.
func Load(src string, cache *store.Cache) (*vm.Program, error) {
	if cache == nil {
		return Compile(src)
	}
	digest, err := store.Digest(src)
	if err != nil {
		// Unlexable source: let the compiler report it.
		return Compile(src)
	}
	if prog, ok, err := cache.Get(digest); err != nil {
		log.Warningf("cache lookup %s: %s", digest[:12], err)
	} else if ok {
		log.Debugf("cache hit %s", digest[:12])
		return prog, nil
	}
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	if err := cache.Put(digest, prog); err != nil {
		log.Warningf("cache store %s: %s", digest[:12], err)
	}
	return prog, nil
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Stage names the pipeline stage an error came from.
type Stage string

const (
	StageLexer    Stage = "lexer"
	StageCompiler Stage = "compiler"
	StageVM       Stage = "vm"
)

// Classify returns the stage an error came from and its kind: the compile
// error kind or the runtime error kind. Errors from outside the pipeline
// have an empty stage.
func Classify(err error) (Stage, string) {
	var le *compiler.LexError
	var ce *compiler.CompileError
	var re *vm.RuntimeError
	switch {
	case errors.As(err, &le):
		return StageLexer, "lex error"
	case errors.As(err, &ce):
		return StageCompiler, ce.Kind.String()
	case errors.As(err, &re):
		return StageVM, re.Kind.Error()
	}
	return "", ""
}

// FormatError renders err as a one-line diagnostic such as
// "synapse: lexer: 1:5: unterminated string".
func FormatError(err error) string {
	if stage, _ := Classify(err); stage != "" {
		return fmt.Sprintf("synapse: %s: %s", stage, err)
	}
	return fmt.Sprintf("synapse: %s", err)
}
