package server

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/synapse/compiler"
	"github.com/chazu/synapse/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "synapse-lsp"

var lspLog = commonlog.GetLogger("synapse.lsp")

// document is one open editor buffer. file and prog hold the last versions
// that parsed and compiled, so completion keeps working while the user is
// mid-edit.
type document struct {
	text string
	file *compiler.File
	prog *vm.Program
}

// LspServer provides diagnostics, completion, hover and go-to-definition
// for open documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update stores the new text, recompiles it and publishes diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	doc := s.docs[string(uri)]
	if doc == nil {
		doc = &document{}
		s.docs[string(uri)] = doc
	}
	diagnostics := doc.analyze(text)
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func (s *LspServer) lookup(uri protocol.DocumentUri) (document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	if !ok {
		return document{}, false
	}
	return *doc, true
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return doc.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return doc.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc, ok := s.lookup(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	span, ok := doc.definition(word)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: uri, Range: toRange(doc.text, span)}}, nil
}

// --- Document analysis ---

// analyze replaces the document text and returns its diagnostics: the
// first lex or compile error, or the analyzer's warnings when it compiles.
func (d *document) analyze(text string) []protocol.Diagnostic {
	d.text = text
	diagnostics := []protocol.Diagnostic{}

	file, err := compiler.Parse(text)
	if err != nil {
		return append(diagnostics, errorDiagnostic(text, err))
	}
	d.file = file

	prog, err := compiler.CompileFile(file)
	if err != nil {
		return append(diagnostics, errorDiagnostic(text, err))
	}
	d.prog = prog

	for _, w := range compiler.Analyze(file) {
		severity := protocol.DiagnosticSeverityWarning
		source := lspName
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    toRange(text, w.Span),
			Severity: &severity,
			Source:   &source,
			Message:  w.Msg,
			Tags:     []protocol.DiagnosticTag{protocol.DiagnosticTagUnnecessary},
		})
	}
	return diagnostics
}

func errorDiagnostic(text string, err error) protocol.Diagnostic {
	var span compiler.Span
	msg := err.Error()
	var le *compiler.LexError
	var ce *compiler.CompileError
	switch {
	case errors.As(err, &le):
		span, msg = le.Span, le.Msg
	case errors.As(err, &ce):
		span, msg = ce.Span, fmt.Sprintf("%s: %s", ce.Kind, ce.Msg)
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	return protocol.Diagnostic{
		Range:    toRange(text, span),
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

func (d *document) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}
	add("len", protocol.CompletionItemKindFunction, "len(x)")

	if d.file != nil {
		for _, fn := range d.file.Funcs {
			add(fn.Name.Name, protocol.CompletionItemKindFunction, signature(fn))
		}
		for _, st := range d.file.Structs {
			add(st.Name.Name, protocol.CompletionItemKindStruct, structHeader(st))
		}
		for _, impl := range d.file.Impls {
			for _, m := range impl.Methods {
				add(m.Name.Name, protocol.CompletionItemKindMethod, impl.Name.Name+"."+signature(m)[3:])
			}
		}
	}

	slices.SortFunc(items, func(a, b protocol.CompletionItem) int {
		return strings.Compare(a.Label, b.Label)
	})
	return items
}

func (d *document) hover(word string) *protocol.Hover {
	if d.file == nil {
		return nil
	}

	var b strings.Builder
	for _, fn := range d.file.Funcs {
		if fn.Name.Name == word {
			fmt.Fprintf(&b, "```\n%s\n```\n\n%s", signature(fn), d.codeSize(word))
		}
	}
	for _, st := range d.file.Structs {
		if st.Name.Name != word {
			continue
		}
		fmt.Fprintf(&b, "```\n%s\n```", structHeader(st))
		for _, impl := range d.file.Impls {
			if impl.Name.Name != word {
				continue
			}
			for _, m := range impl.Methods {
				fmt.Fprintf(&b, "\n- `%s`", signature(m))
			}
		}
	}
	for _, impl := range d.file.Impls {
		for _, m := range impl.Methods {
			if m.Name.Name == word {
				if b.Len() > 0 {
					b.WriteString("\n\n---\n\n")
				}
				name := impl.Name.Name + "." + word
				fmt.Fprintf(&b, "```\n%s\n```\n\n%s", impl.Name.Name+"."+signature(m)[3:], d.codeSize(name))
			}
		}
	}

	if b.Len() == 0 {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// codeSize describes the compiled size of the named function.
func (d *document) codeSize(name string) string {
	if d.prog == nil {
		return "not compiled"
	}
	idx := d.prog.FunctionByName(name)
	if idx < 0 {
		return "not compiled"
	}
	fn := d.prog.Functions[idx]
	return fmt.Sprintf("%d instructions, %d locals", len(d.prog.DisassembleFunction(fn)), fn.NumLocals)
}

func (d *document) definition(word string) (compiler.Span, bool) {
	if d.file == nil {
		return compiler.Span{}, false
	}
	for _, fn := range d.file.Funcs {
		if fn.Name.Name == word {
			return fn.Name.SpanVal, true
		}
	}
	for _, st := range d.file.Structs {
		if st.Name.Name == word {
			return st.Name.SpanVal, true
		}
	}
	for _, impl := range d.file.Impls {
		for _, m := range impl.Methods {
			if m.Name.Name == word {
				return m.Name.SpanVal, true
			}
		}
	}
	return compiler.Span{}, false
}

func signature(fn *compiler.FnDecl) string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Name
	}
	return fmt.Sprintf("fn %s(%s)", fn.Name.Name, strings.Join(params, ", "))
}

func structHeader(st *compiler.StructDecl) string {
	fields := make([]string, len(st.Fields))
	for i, f := range st.Fields {
		fields[i] = f.Name
	}
	if len(fields) == 0 {
		return fmt.Sprintf("struct %s {}", st.Name.Name)
	}
	return fmt.Sprintf("struct %s { %s }", st.Name.Name, strings.Join(fields, ", "))
}

// --- Position mapping ---

// toPosition converts a source position to an LSP position, whose
// character offset counts UTF-16 code units.
func toPosition(text string, p compiler.Position) protocol.Position {
	if p.Line <= 0 {
		return protocol.Position{}
	}
	lineStart := p.Offset - (p.Column - 1)
	if lineStart < 0 || p.Offset > len(text) || lineStart > p.Offset {
		return protocol.Position{Line: protocol.UInteger(p.Line - 1)}
	}
	units := len(utf16.Encode([]rune(text[lineStart:p.Offset])))
	return protocol.Position{Line: protocol.UInteger(p.Line - 1), Character: protocol.UInteger(units)}
}

func toRange(text string, span compiler.Span) protocol.Range {
	start := toPosition(text, span.Start)
	end := start
	if span.End.Line > 0 && span.End.Offset > span.Start.Offset {
		end = toPosition(text, span.End)
	}
	return protocol.Range{Start: start, End: end}
}

// --- Text extraction helpers ---

// extractPrefix returns the identifier fragment before the cursor for
// completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := cursorLine(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := cursorLine(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentByte(line[end]) {
		end++
	}
	return line[start:end]
}

func cursorLine(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	return line, min(int(pos.Character), len(line)), true
}

func isIdentByte(c byte) bool {
	r := rune(c)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || c == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
