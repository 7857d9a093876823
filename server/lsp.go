package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/vm"
)

const lspName = "kairos-lsp"

// LSP serves editor features for kernel source files: positioned compile
// diagnostics, completion, hover, definition and references.
type LSP struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server for kernel programs.
func NewLSP(version string) *LSP {
	s := &LSP{
		docs:    make(map[string]string),
		version: version,
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
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the server on stdio. Blocks until the client disconnects.
func (s *LSP) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LSP) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("language server initializing")

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
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LSP) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LSP) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LSP) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LSP) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LSP) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LSP) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LSP) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LSP) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LSP) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LSP) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	locs := definition(uri, text, word)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LSP) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word), nil
}

// --- Program-backed logic ---

// parsed returns whatever the parser recovered from text, ignoring errors.
func parsed(text string) *compiler.Program {
	prog, _ := compiler.Parse("", text)
	if prog == nil {
		prog = &compiler.Program{}
	}
	return prog
}

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		item := protocol.CompletionItem{Label: label, Kind: &kind}
		if detail != "" {
			d := detail
			item.Detail = &d
		}
		items = append(items, item)
	}

	prog := parsed(text)
	for _, k := range prog.Kernels {
		add(k.Name, protocol.CompletionItemKindFunction, signature("kernel", k.Name, k.Params))
	}
	for _, name := range prog.RPCs {
		add(name, protocol.CompletionItemKindInterface, "rpc "+name)
	}
	for _, r := range prog.Records {
		add(r.Name, protocol.CompletionItemKindStruct, signature("record", r.Name, r.Fields))
	}
	for _, e := range prog.Exceptions {
		add(e.Name, protocol.CompletionItemKindClass, exceptionDetail(e))
	}

	builtins := vm.BuiltinNames()
	sort.Strings(builtins)
	for _, name := range builtins {
		add(name, protocol.CompletionItemKindFunction, "builtin")
	}
	for _, name := range sortedConstants() {
		add(name, protocol.CompletionItemKindConstant, fmt.Sprintf("%g s", vm.Constants[name]))
	}
	for _, name := range vm.NewRegistry().Names() {
		add(name, protocol.CompletionItemKindClass, "exception")
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "")
	}
	return items
}

func hover(text, word string) *protocol.Hover {
	var value string
	prog := parsed(text)

	for _, k := range prog.Kernels {
		if k.Name == word {
			value = signature("kernel", k.Name, k.Params)
		}
	}
	for _, r := range prog.Records {
		if r.Name == word {
			value = signature("record", r.Name, r.Fields)
		}
	}
	for _, e := range prog.Exceptions {
		if e.Name == word {
			value = exceptionDetail(e)
		}
	}
	if value == "" {
		for _, name := range prog.RPCs {
			if name == word {
				value = "rpc " + name + "\n\nHost procedure; arguments are copied across the boundary."
			}
		}
	}
	if value == "" {
		env := vm.Env{}
		switch {
		case env.IsBuiltin(word):
			value = "builtin " + word
		case env.IsConstant(word):
			value = fmt.Sprintf("%s = %g (seconds)", word, vm.Constants[word])
		case env.IsExceptionType(word):
			value = "exception " + word
		}
	}
	if value == "" {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: "```\n" + value + "\n```",
		},
	}
}

func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locs []protocol.Location
	for _, d := range parsed(text).Decls {
		var name string
		switch d := d.(type) {
		case *compiler.KernelDecl:
			name = d.Name
		case *compiler.RecordDecl:
			name = d.Name
		case *compiler.ExceptionDecl:
			name = d.Name
		case *compiler.RPCDecl:
			for _, n := range d.Names {
				if n == word {
					name = n
				}
			}
		}
		if name == word {
			locs = append(locs, protocol.Location{URI: uri, Range: spanRange(d.Span())})
		}
	}
	return locs
}

func references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locs []protocol.Location
	for _, tok := range compiler.NewLexer(text).Tokenize() {
		if tok.Type != compiler.TokenIdentifier || tok.Literal != word {
			continue
		}
		start := toPosition(tok.Pos)
		end := start
		end.Character += protocol.UInteger(len([]rune(word)))
		locs = append(locs, protocol.Location{URI: uri, Range: protocol.Range{Start: start, End: end}})
	}
	return locs
}

func signature(kind, name string, params []string) string {
	return fmt.Sprintf("%s %s(%s)", kind, name, strings.Join(params, ", "))
}

func exceptionDetail(e *compiler.ExceptionDecl) string {
	parent := e.Parent
	if parent == "" {
		parent = "Exception"
	}
	return fmt.Sprintf("exception %s(%s)", e.Name, parent)
}

func sortedConstants() []string {
	names := make([]string, 0, len(vm.Constants))
	for name := range vm.Constants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- Diagnostics ---

// diagnostics compiles text against the runtime's predefined names and
// converts every compile error into an editor diagnostic.
func diagnostics(text string) []protocol.Diagnostic {
	_, err := compiler.Compile("", text, vm.Env{})
	if err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	var cerr *compiler.Error
	if !errors.As(err, &cerr) {
		return []protocol.Diagnostic{{
			Severity: &severity,
			Source:   &source,
			Message:  err.Error(),
		}}
	}

	out := make([]protocol.Diagnostic, 0, len(cerr.Diagnostics))
	for _, d := range cerr.Diagnostics {
		start := toPosition(d.Pos)
		end := start
		end.Character++
		out = append(out, protocol.Diagnostic{
			Range:    protocol.Range{Start: start, End: end},
			Severity: &severity,
			Source:   &source,
			Message:  d.Msg,
		})
	}
	return out
}

func (s *LSP) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(text),
	})
}

// --- Text extraction helpers ---

// toPosition converts a 1-based source position to a 0-based LSP position.
func toPosition(p compiler.Position) protocol.Position {
	var out protocol.Position
	if p.Line > 0 {
		out.Line = protocol.UInteger(p.Line - 1)
	}
	if p.Column > 0 {
		out.Character = protocol.UInteger(p.Column - 1)
	}
	return out
}

func spanRange(sp compiler.Span) protocol.Range {
	return protocol.Range{Start: toPosition(sp.Start), End: toPosition(sp.End)}
}

func isIdentRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentRune(line[end]) {
		end++
	}
	return string(line[start:end])
}

func boolPtr(b bool) *bool {
	return &b
}
