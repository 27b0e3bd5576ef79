// Synapse CLI - compile and run programs, or serve them over HTTP and LSP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/synapse/manifest"
	"github.com/chazu/synapse/script"
	"github.com/chazu/synapse/server"
	"github.com/chazu/synapse/store"
	"github.com/chazu/synapse/vm"
)

var log = commonlog.GetLogger("synapse.cli")

// Exit codes
const (
	exitOK         = 0
	exitDiagnostic = 1
	exitUsage      = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	source    string
	disasm    bool
	configDir string
	verbose   bool
	verbosity int
	noCache   bool
	serve     bool
	port      int
	lsp       bool
	steps     int64
	maxFrames int
	repl      bool
	profile   bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	var o options
	fs := flag.NewFlagSet("synapse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.source, "e", "", "Evaluate the given source instead of a file")
	fs.BoolVar(&o.disasm, "disasm", false, "Print the bytecode listing instead of running")
	fs.StringVar(&o.configDir, "config", "", "Directory containing synapse.toml (default: search upward from the working directory)")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.IntVar(&o.verbosity, "verbosity", 0, "Log verbosity (0 notice, 1 info, 2 debug)")
	fs.BoolVar(&o.noCache, "no-cache", false, "Do not use the compiled program cache")
	fs.BoolVar(&o.serve, "serve", false, "Start the eval server (Connect HTTP/JSON)")
	fs.IntVar(&o.port, "port", 0, "Eval server port (used with -serve; default from synapse.toml)")
	fs.BoolVar(&o.lsp, "lsp", false, "Start the language server on stdio")
	fs.Int64Var(&o.steps, "steps", 0, "Abort after this many instructions (0: from synapse.toml)")
	fs.IntVar(&o.maxFrames, "max-frames", 0, "Maximum call depth (0: from synapse.toml)")
	fs.BoolVar(&o.repl, "i", false, "Start interactive REPL")
	fs.BoolVar(&o.profile, "profile", false, "Print call and opcode counts to stderr after the run")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: synapse [options] [file.syn | -]\n\n")
		fmt.Fprintf(stderr, "Compiles and runs a program, printing its final value unless it is null.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  synapse fib.syn                # Run a file\n")
		fmt.Fprintf(stderr, "  synapse -e '2 + 3 * 4;'        # Evaluate inline source\n")
		fmt.Fprintf(stderr, "  synapse -disasm fib.syn        # Show bytecode\n")
		fmt.Fprintf(stderr, "  synapse -i                     # Start REPL\n")
		fmt.Fprintf(stderr, "  synapse -serve -port 8080      # Serve /synapse.v1.EvalService/Eval\n")
		fmt.Fprintf(stderr, "  synapse -lsp                   # Language server for editors\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if o.verbose && o.verbosity < 1 {
		o.verbosity = 1
	}
	return &o, fs.Args(), nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if len(rest) > 1 || (len(rest) == 1 && o.source != "") {
		fmt.Fprintln(stderr, "synapse: give one file or -e, not both")
		return exitUsage
	}
	if o.serve && o.lsp {
		fmt.Fprintln(stderr, "synapse: -serve and -lsp are exclusive")
		return exitUsage
	}

	m, err := loadManifest(o.configDir)
	if err != nil {
		fmt.Fprintf(stderr, "synapse: %s\n", err)
		return exitDiagnostic
	}
	commonlog.Configure(max(o.verbosity, m.Log.Verbosity), m.LogFile())

	cfg := m.VMConfig()
	if o.steps > 0 {
		cfg.StepLimit = o.steps
	}
	if o.maxFrames > 0 {
		cfg.MaxFrames = o.maxFrames
	}

	var cache *store.Cache
	if path := m.CachePath(); path != "" && !o.noCache {
		if cache, err = store.Open(path); err != nil {
			log.Warningf("program cache disabled: %s", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case o.lsp:
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(stderr, "synapse: lsp: %s\n", err)
			return exitDiagnostic
		}
		return exitOK

	case o.serve:
		return serve(ctx, m, o, cfg, cache, stderr)

	case o.repl || (o.source == "" && len(rest) == 0):
		r := &repl{cfg: cfg, cache: cache, out: stdout, errOut: stderr}
		r.run(ctx, stdin)
		return exitOK
	}

	src := o.source
	if len(rest) == 1 {
		data, err := readSource(rest[0], stdin)
		if err != nil {
			fmt.Fprintf(stderr, "synapse: %s\n", err)
			return exitDiagnostic
		}
		src = data
	}

	if o.disasm {
		prog, err := script.Load(src, cache)
		if err != nil {
			fmt.Fprintln(stderr, script.FormatError(err))
			return exitDiagnostic
		}
		fmt.Fprint(stdout, prog.Disassemble())
		return exitOK
	}

	evalOpts := []script.Option{script.WithConfig(cfg), script.WithCache(cache), script.WithOutput(stdout)}
	if o.profile {
		prof := vm.NewProfiler()
		evalOpts = append(evalOpts, script.WithProfiler(prof))
		defer prof.WriteReport(stderr, 10)
	}
	outcome, err := script.Eval(ctx, src, evalOpts...)
	if err != nil {
		reportError(stderr, err, o.verbosity)
		return exitDiagnostic
	}
	if !outcome.IsNull() {
		fmt.Fprintln(stdout, outcome.Value)
	}
	log.Debugf("%d steps", outcome.Steps)
	return exitOK
}

// loadManifest loads synapse.toml from dir, or searches upward from the
// working directory when dir is empty. No manifest means defaults.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return manifest.Default(), nil
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	log.Debugf("using %s", m.Dir)
	return m, nil
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	return string(data), nil
}

// reportError prints a diagnostic, plus the call stack of runtime errors
// when verbose.
func reportError(w io.Writer, err error, verbosity int) {
	fmt.Fprintln(w, script.FormatError(err))
	var re *vm.RuntimeError
	if verbosity > 0 && errors.As(err, &re) && len(re.Trace) > 0 {
		fmt.Fprint(w, re.FormatTrace())
	}
}

func serve(ctx context.Context, m *manifest.Manifest, o *options, cfg vm.Config, cache *store.Cache, stderr io.Writer) int {
	addr := m.Server.Addr
	if o.port > 0 {
		addr = fmt.Sprintf(":%d", o.port)
	}
	srv := server.New(
		server.WithWorkers(m.Server.Workers),
		server.WithVMConfig(cfg),
		server.WithCache(cache),
	)
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	if err := srv.ListenAndServe(addr); err != nil {
		srv.Stop()
		fmt.Fprintf(stderr, "synapse: server: %s\n", err)
		return exitDiagnostic
	}
	return exitOK
}
