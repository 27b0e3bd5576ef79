package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/synapse/compiler"
	"github.com/chazu/synapse/script"
	"github.com/chazu/synapse/store"
	"github.com/chazu/synapse/vm"
)

// repl reads chunks of source, one per balanced set of braces. Chunks made
// only of fn, struct and impl declarations are kept and prepended to every
// later chunk; anything else is run once.
type repl struct {
	cfg    vm.Config
	cache  *store.Cache
	out    io.Writer
	errOut io.Writer

	decls []string
}

func (r *repl) run(ctx context.Context, in io.Reader) {
	fmt.Fprintln(r.out, "Synapse REPL (type 'exit' to quit, ':help' for commands)")

	scanner := bufio.NewScanner(in)
	var buf strings.Builder
	for {
		if buf.Len() == 0 {
			fmt.Fprint(r.out, ">> ")
		} else {
			fmt.Fprint(r.out, ".. ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
			if strings.HasPrefix(trimmed, ":") {
				r.command(trimmed)
				continue
			}
		}

		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)

		chunk := buf.String()
		if strings.TrimSpace(chunk) == "" {
			buf.Reset()
			continue
		}
		if !complete(chunk) {
			continue
		}
		buf.Reset()
		r.eval(ctx, chunk)
	}
	fmt.Fprintln(r.out)
}

// complete reports whether every brace in src is closed. Source that does
// not lex is complete: the compiler reports the error.
func complete(src string) bool {
	depth := 0
	for tok, err := range compiler.NewLexer(src).All() {
		if err != nil {
			return true
		}
		switch tok.Type {
		case compiler.TokenLBrace:
			depth++
		case compiler.TokenRBrace:
			depth--
		}
	}
	return depth <= 0
}

func (r *repl) eval(ctx context.Context, chunk string) {
	file, err := compiler.Parse(chunk)
	if err != nil {
		fmt.Fprintln(r.errOut, script.FormatError(err))
		return
	}

	src := strings.Join(append(r.decls[:len(r.decls):len(r.decls)], chunk), "\n")
	if len(file.Stmts) == 0 {
		if _, err := script.Compile(src); err != nil {
			fmt.Fprintln(r.errOut, script.FormatError(err))
			return
		}
		r.decls = append(r.decls, chunk)
		return
	}

	outcome, err := script.Eval(ctx, src, script.WithConfig(r.cfg), script.WithCache(r.cache), script.WithOutput(r.out))
	if err != nil {
		fmt.Fprintln(r.errOut, script.FormatError(err))
		return
	}
	if !outcome.IsNull() {
		fmt.Fprintln(r.out, outcome.Value)
	}
}

func (r *repl) command(line string) {
	switch line {
	case ":help":
		fmt.Fprintln(r.out, "  :decls   list kept declarations")
		fmt.Fprintln(r.out, "  :reset   forget all declarations")
		fmt.Fprintln(r.out, "  :help    show this help")
		fmt.Fprintln(r.out, "  exit     leave the REPL")
	case ":decls":
		for _, d := range r.decls {
			fmt.Fprintln(r.out, d)
		}
	case ":reset":
		r.decls = nil
	default:
		fmt.Fprintf(r.errOut, "unknown command %s (try :help)\n", line)
	}
}
