package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alucardeht/dynmethod/internal/engine"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/scheduler"
	"github.com/alucardeht/dynmethod/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const uri = "file:///work/app.js"

var source = strings.Join([]string{
	"const accountSvc = createService();",
	"accountSvc.setMethod('charge', function (amount, currency) {});",
	"function foo() {",
	"  setMethod('ping', (a, b) => a + b);",
	"  return getMethod(",
	"}",
	"accountSvc.getMethod('charge')(",
}, "\n")

var (
	chargeRange = lsp.Range{Start: lsp.Position{Line: 1, Character: 31}, End: lsp.Position{Line: 1, Character: 63}}
	pingRange   = lsp.Range{Start: lsp.Position{Line: 3, Character: 20}, End: lsp.Position{Line: 3, Character: 35}}
	svcDecl     = lsp.Position{Line: 0, Character: 6}
)

type change struct {
	uri     string
	version int
	text    string
}

// fakeDownstream stands in for the TypeScript server on both sides: the
// document mirror and the symbol queries.
type fakeDownstream struct {
	mu      sync.Mutex
	root    string
	opened  []string
	changes []change
	closed  []string
}

func hoverBlock(decl string) string {
	return "\n```typescript\n" + decl + "\n```"
}

func (f *fakeDownstream) DocumentSymbols(ctx context.Context, uri string) ([]lsp.DocumentSymbol, error) {
	return []lsp.DocumentSymbol{
		{
			Name:  "accountSvc",
			Kind:  lsp.SymbolKindVariable,
			Range: lsp.Range{Start: svcDecl, End: lsp.Position{Line: 0, Character: 34}},
		},
		{
			Name:  "accountSvc.setMethod('charge') callback",
			Kind:  lsp.SymbolKindFunction,
			Range: chargeRange,
		},
		{
			Name:  "foo",
			Kind:  lsp.SymbolKindFunction,
			Range: lsp.Range{Start: lsp.Position{Line: 2}, End: lsp.Position{Line: 5, Character: 1}},
			Children: []lsp.DocumentSymbol{
				{Name: "setMethod('ping') callback", Kind: lsp.SymbolKindFunction, Range: pingRange},
			},
		},
	}, nil
}

func (f *fakeDownstream) Hover(ctx context.Context, uri string, pos lsp.Position) ([]string, error) {
	switch pos {
	case chargeRange.Start:
		return []string{hoverBlock("(local function)(amount: any, currency: any): void")}, nil
	case pingRange.Start:
		return []string{hoverBlock("(local function)(a: any, b: any): any")}, nil
	}
	return nil, nil
}

func (f *fakeDownstream) WorkspaceSymbols(ctx context.Context, query string) ([]lsp.SymbolInformation, error) {
	if query != "accountSvc" {
		return nil, nil
	}
	return []lsp.SymbolInformation{{
		Name:     "accountSvc",
		Kind:     lsp.SymbolKindVariable,
		Location: lsp.Location{URI: uri, Range: lsp.Range{Start: svcDecl}},
	}}, nil
}

func (f *fakeDownstream) Definition(ctx context.Context, uri string, pos lsp.Position) ([]lsp.Location, error) {
	if pos == (lsp.Position{Line: 6, Character: 0}) {
		return []lsp.Location{{URI: uri, Range: lsp.Range{Start: svcDecl}}}, nil
	}
	return nil, nil
}

func (f *fakeDownstream) DidOpen(ctx context.Context, item lsp.TextDocumentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, item.URI)
	return nil
}

func (f *fakeDownstream) DidChange(ctx context.Context, uri string, version int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change{uri: uri, version: version, text: text})
	return nil
}

func (f *fakeDownstream) DidClose(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, uri)
	return errors.New("server gone")
}

func (f *fakeDownstream) SetRoot(rootPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root = rootPath
}

func (f *fakeDownstream) Stats() map[lsp.Language]lsp.LSPStats {
	return map[lsp.Language]lsp.LSPStats{
		lsp.LangJavaScript: {Language: lsp.LangJavaScript, State: lsp.StateReady, RequestCount: 3},
	}
}

type fakeWatcher struct {
	mu    sync.Mutex
	roots []string
}

func (w *fakeWatcher) AddRoot(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roots = append(w.roots, path)
	return nil
}

func (w *fakeWatcher) RemoveRoot(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, root := range w.roots {
		if root == path {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			return
		}
	}
}

func (w *fakeWatcher) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

type harness struct {
	conn     *jsonrpc2.Conn
	eng      *engine.Engine
	down     *fakeDownstream
	watcher  *fakeWatcher
	done     chan struct{}
	serveErr error
}

func start(t *testing.T) *harness {
	t.Helper()

	config := engine.DefaultConfig()
	config.Scheduler = scheduler.Config{DefaultDelay: time.Hour, VisibleDelay: time.Hour}

	h := &harness{
		down:    &fakeDownstream{},
		watcher: &fakeWatcher{},
		done:    make(chan struct{}),
	}
	h.eng = engine.New(config, h.down, nil)
	srv := New(h.eng, h.down, Options{Version: "test", Watcher: h.watcher})

	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(h.done)
		h.serveErr = srv.Serve(ctx, serverSide)
	}()

	noop := jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) {
		return nil, nil
	})
	h.conn = jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}), noop)

	t.Cleanup(func() {
		h.conn.Close()
		cancel()
		<-h.done
		h.eng.Stop()
	})
	return h
}

func (h *harness) call(t *testing.T, method string, params, result interface{}) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.conn.Call(ctx, method, params, result)
}

func (h *harness) notify(t *testing.T, method string, params interface{}) {
	t.Helper()
	require.NoError(t, h.conn.Notify(context.Background(), method, params))
}

// status doubles as a barrier: the server handles messages in order, so its
// answer arrives after every earlier notification took effect.
func (h *harness) status(t *testing.T) Status {
	t.Helper()
	var status Status
	require.NoError(t, h.call(t, protocol.MethodStatus, nil, &status))
	return status
}

func (h *harness) initialize(t *testing.T) protocol.InitializeResult {
	t.Helper()
	var result protocol.InitializeResult
	require.NoError(t, h.call(t, protocol.MethodInitialize, protocol.InitializeParams{
		RootURI:    "file:///work",
		ClientInfo: &protocol.ClientInfo{Name: "test-editor"},
	}, &result))
	h.notify(t, protocol.MethodInitialized, struct{}{})
	return result
}

// openAndScan opens the fixture and scans it without waiting on the scheduler.
func (h *harness) openAndScan(t *testing.T) {
	t.Helper()
	h.notify(t, protocol.MethodDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: uri, LanguageID: "javascript", Version: 1, Text: source},
	})
	h.status(t)
	require.NoError(t, h.eng.Scan(context.Background(), uri))
}

func rpcCode(t *testing.T, err error) int64 {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "want a JSON-RPC error, got %v", err)
	return rpcErr.Code
}

func at(line, character int) lsp.TextDocumentPositionParams {
	return lsp.TextDocumentPositionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uri},
		Position:     lsp.Position{Line: line, Character: character},
	}
}

func TestInitialize(t *testing.T) {
	h := start(t)
	result := h.initialize(t)

	caps := result.Capabilities
	assert.Equal(t, protocol.SyncFull, caps.TextDocumentSync.Change)
	assert.True(t, caps.TextDocumentSync.OpenClose)
	require.NotNil(t, caps.CompletionProvider)
	assert.Equal(t, []string{"(", "'"}, caps.CompletionProvider.TriggerCharacters)
	require.NotNil(t, caps.SignatureHelpProvider)
	assert.Equal(t, []string{"(", ","}, caps.SignatureHelpProvider.TriggerCharacters)
	assert.True(t, caps.DefinitionProvider)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "dynmethod-lsp", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)

	h.status(t)
	h.down.mu.Lock()
	assert.Equal(t, "/work", h.down.root)
	h.down.mu.Unlock()
	assert.Equal(t, []string{"/work"}, h.watcher.list())

	err := h.call(t, protocol.MethodInitialize, protocol.InitializeParams{}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidRequest), rpcCode(t, err))
}

func TestRequestBeforeInitialize(t *testing.T) {
	h := start(t)

	err := h.call(t, protocol.MethodCompletion, at(0, 0), nil)
	assert.Equal(t, int64(protocol.CodeServerNotInitialized), rpcCode(t, err))

	// Notifications before initialize are dropped.
	h.notify(t, protocol.MethodDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: uri, LanguageID: "javascript", Version: 1, Text: source},
	})
	h.initialize(t)
	assert.Empty(t, h.status(t).Engine.Documents)
}

func TestDocumentSync(t *testing.T) {
	h := start(t)
	h.initialize(t)

	h.notify(t, protocol.MethodDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: uri, LanguageID: "javascript", Version: 1, Text: source},
	})
	status := h.status(t)
	require.Len(t, status.Engine.Documents, 1)
	assert.Equal(t, uri, status.Engine.Documents[0].URI)
	assert.True(t, status.Engine.Documents[0].Pending)

	h.notify(t, protocol.MethodDidChange, lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{URI: uri, Version: 2},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{
			{Text: "stale"},
			{Text: source + "\n"},
		},
	})
	status = h.status(t)
	assert.Equal(t, 2, status.Engine.Documents[0].Version)

	doc, ok := h.eng.Documents().Get(uri)
	require.True(t, ok)
	assert.Equal(t, source+"\n", doc.Text)

	h.notify(t, protocol.MethodDidClose, lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uri},
	})
	assert.Empty(t, h.status(t).Engine.Documents, "a downstream failure does not keep the document")

	h.down.mu.Lock()
	defer h.down.mu.Unlock()
	assert.Equal(t, []string{uri}, h.down.opened)
	assert.Equal(t, []change{{uri: uri, version: 2, text: source + "\n"}}, h.down.changes)
	assert.Equal(t, []string{uri}, h.down.closed)
}

func TestCompletion(t *testing.T) {
	h := start(t)
	h.initialize(t)
	h.openAndScan(t)

	var list protocol.CompletionList
	require.NoError(t, h.call(t, protocol.MethodCompletion, at(4, 19), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, protocol.CompletionItem{
		Label:      "ping",
		Kind:       protocol.CompletionItemKindMethod,
		Detail:     "(a: any, b: any): any",
		InsertText: "'ping'",
	}, list.Items[0])

	list = protocol.CompletionList{}
	require.NoError(t, h.call(t, protocol.MethodCompletion, at(0, 5), &list))
	assert.NotNil(t, list.Items)
	assert.Empty(t, list.Items)
}

func TestSignatureHelp(t *testing.T) {
	h := start(t)
	h.initialize(t)
	h.openAndScan(t)

	var help *protocol.SignatureHelp
	require.NoError(t, h.call(t, protocol.MethodSignatureHelp, at(6, 31), &help))
	require.NotNil(t, help)
	require.Len(t, help.Signatures, 1)
	assert.Equal(t, "(amount: any, currency: any): void", help.Signatures[0].Label)
	assert.Equal(t, []protocol.ParameterInformation{{Label: [2]int{1, 12}}, {Label: [2]int{13, 27}}}, help.Signatures[0].Parameters)
	assert.Equal(t, 0, help.ActiveParameter)

	help = nil
	require.NoError(t, h.call(t, protocol.MethodSignatureHelp, at(0, 5), &help))
	assert.Nil(t, help)
}

func TestDefinition(t *testing.T) {
	h := start(t)
	h.initialize(t)
	h.openAndScan(t)

	var loc *lsp.Location
	require.NoError(t, h.call(t, protocol.MethodDefinition, at(6, 23), &loc))
	require.NotNil(t, loc)
	assert.Equal(t, lsp.Location{URI: uri, Range: chargeRange}, *loc)

	loc = nil
	require.NoError(t, h.call(t, protocol.MethodDefinition, at(0, 5), &loc))
	assert.Nil(t, loc)
}

func TestEditorNotifications(t *testing.T) {
	h := start(t)
	h.initialize(t)
	h.openAndScan(t)

	h.notify(t, protocol.MethodDidChangeActiveEditor, protocol.ActiveEditorParams{URI: uri})
	h.notify(t, protocol.MethodDidChangeVisibleEditors, protocol.VisibleEditorsParams{URIs: []string{uri}})
	h.notify(t, protocol.MethodDidChangeVisibleRanges, protocol.VisibleRangesParams{URI: uri})
	status := h.status(t)

	assert.Equal(t, uri, status.Engine.Active)
	require.Len(t, status.Engine.Documents, 1)
	assert.True(t, status.Engine.Documents[0].Pending)

	visible := h.eng.Documents().Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, uri, visible[0].URI)
}

func TestWorkspaceFolders(t *testing.T) {
	h := start(t)
	h.initialize(t)

	h.notify(t, protocol.MethodDidChangeWorkspaceFolders, protocol.DidChangeWorkspaceFoldersParams{
		Event: protocol.WorkspaceFoldersChangeEvent{
			Added:   []protocol.WorkspaceFolder{{URI: "file:///other", Name: "other"}},
			Removed: []protocol.WorkspaceFolder{{URI: "file:///work", Name: "work"}},
		},
	})
	h.status(t)

	assert.Equal(t, []string{"/other"}, h.watcher.list())
	h.down.mu.Lock()
	assert.Equal(t, "/work", h.down.root, "the first root stays")
	h.down.mu.Unlock()
}

func TestStatus(t *testing.T) {
	h := start(t)
	h.initialize(t)
	h.openAndScan(t)

	status := h.status(t)
	assert.Equal(t, "dynmethod-lsp", status.Server)
	assert.Equal(t, "test", status.Version)
	require.Len(t, status.Engine.Documents, 1)
	assert.Equal(t, 2, status.Engine.Documents[0].Bindings)
	assert.False(t, status.Engine.Documents[0].Stale)
	assert.Equal(t, int64(3), status.Downstream[lsp.LangJavaScript].RequestCount)
}

func TestUnknownMethod(t *testing.T) {
	h := start(t)
	h.initialize(t)

	err := h.call(t, "textDocument/rename", at(0, 0), nil)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcCode(t, err))

	h.notify(t, "workspace/unknownNotification", struct{}{})
	h.status(t)
}

func TestInvalidParams(t *testing.T) {
	h := start(t)
	h.initialize(t)

	err := h.call(t, protocol.MethodCompletion, "not an object", nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestShutdownThenExit(t *testing.T) {
	h := start(t)
	h.initialize(t)

	require.NoError(t, h.call(t, protocol.MethodShutdown, nil, nil))

	err := h.call(t, protocol.MethodCompletion, at(0, 0), nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidRequest), rpcCode(t, err))

	h.notify(t, protocol.MethodExit, nil)
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after exit")
	}
	assert.NoError(t, h.serveErr)
}

func TestExitWithoutShutdown(t *testing.T) {
	h := start(t)
	h.initialize(t)

	h.notify(t, protocol.MethodExit, nil)
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after exit")
	}
	assert.ErrorIs(t, h.serveErr, ErrExitWithoutShutdown)
}
