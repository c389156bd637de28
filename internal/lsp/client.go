package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

var (
	ErrNotInitialized = errors.New("lsp client not initialized")
	ErrAlreadyClosed  = errors.New("lsp client already closed")
)

// Client speaks LSP to one downstream language server.
type Client struct {
	conn         *jsonrpc2.Conn
	config       ClientConfig
	state        atomic.Value
	capabilities ServerCapabilities
	requestCount int64
	errorCount   int64
	lastRequest  time.Time
	mu           sync.RWMutex
	closedCh     chan struct{}
}

type ClientConfig struct {
	Language       Language
	InitTimeout    time.Duration
	RequestTimeout time.Duration
}

func DefaultClientConfig(lang Language) ClientConfig {
	return ClientConfig{
		Language:       lang,
		InitTimeout:    30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stdioReadWriteCloser) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *stdioReadWriteCloser) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// NewClient wires a client to the stdin/stdout pipes of a server process.
func NewClient(ctx context.Context, stdin io.WriteCloser, stdout io.ReadCloser, config ClientConfig) *Client {
	return NewStreamClient(ctx, &stdioReadWriteCloser{reader: stdout, writer: stdin}, config)
}

// NewStreamClient wires a client to an already connected stream.
func NewStreamClient(ctx context.Context, rwc io.ReadWriteCloser, config ClientConfig) *Client {
	c := &Client{
		config:   config,
		closedCh: make(chan struct{}),
	}
	c.state.Store(StateStarting)

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, &clientHandler{client: c})

	return c
}

type clientHandler struct {
	client *Client
}

// Handle acknowledges server-initiated requests (progress tokens,
// configuration pulls) with a null result so the server never waits on us.
func (h *clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}
	if err := conn.Reply(ctx, req.ID, nil); err != nil {
		log.Debug("failed to acknowledge server request", "method", req.Method, "error", err)
	}
}

func (c *Client) Initialize(ctx context.Context, rootURI string) error {
	c.mu.Lock()
	if c.getState() != StateStarting {
		c.mu.Unlock()
		return fmt.Errorf("cannot initialize: client in state %s", c.getState())
	}
	c.state.Store(StateInitializing)
	c.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, c.config.InitTimeout)
	defer cancel()

	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
		Capabilities: map[string]interface{}{
			"textDocument": map[string]interface{}{
				"documentSymbol": map[string]interface{}{
					"hierarchicalDocumentSymbolSupport": true,
				},
				"hover": map[string]interface{}{
					"contentFormat": []string{"markdown", "plaintext"},
				},
				"definition": map[string]interface{}{
					"linkSupport": true,
				},
				"synchronization": map[string]interface{}{
					"didSave": false,
				},
			},
			"workspace": map[string]interface{}{
				"symbol": map[string]interface{}{},
			},
		},
	}

	var result InitializeResult
	if err := c.conn.Call(initCtx, "initialize", params, &result); err != nil {
		c.state.Store(StateError)
		return fmt.Errorf("initialize failed: %w", err)
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.mu.Unlock()

	if err := c.conn.Notify(initCtx, "initialized", struct{}{}); err != nil {
		c.state.Store(StateError)
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.state.Store(StateReady)
	return nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var result interface{}
	if err := c.conn.Call(timeoutCtx, "shutdown", nil, &result); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if err := c.conn.Notify(ctx, "exit", nil); err != nil {
		return fmt.Errorf("exit notification failed: %w", err)
	}

	return nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.IsReady() {
		return nil, ErrNotInitialized
	}

	c.recordRequest()

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.conn.Call(timeoutCtx, method, params, &raw); err != nil {
		c.recordError()
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	return raw, nil
}

func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}
	if err := c.conn.Notify(ctx, method, params); err != nil {
		c.recordError()
		return fmt.Errorf("%s notification failed: %w", method, err)
	}
	return nil
}

// DocumentSymbols returns the hierarchical outline of uri. Servers that only
// answer with flat SymbolInformation get each entry as a childless root.
func (c *Client) DocumentSymbols(ctx context.Context, uri string) ([]DocumentSymbol, error) {
	raw, err := c.call(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}

	var symbols []DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err == nil && !looksFlat(raw) {
		return symbols, nil
	}

	var flatSymbols []SymbolInformation
	if err := json.Unmarshal(raw, &flatSymbols); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to parse symbol response: %w", err)
	}

	return convertToDocumentSymbols(flatSymbols), nil
}

func looksFlat(raw json.RawMessage) bool {
	var probe []struct {
		Location *Location `json:"location"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe) > 0 && probe[0].Location != nil
}

func convertToDocumentSymbols(flat []SymbolInformation) []DocumentSymbol {
	symbols := make([]DocumentSymbol, len(flat))
	for i, s := range flat {
		symbols[i] = DocumentSymbol{
			Name:           s.Name,
			Kind:           s.Kind,
			Range:          s.Location.Range,
			SelectionRange: s.Location.Range,
			Detail:         s.ContainerName,
		}
	}
	return symbols
}

// Hover returns the rendered hover text blocks at pos.
func (c *Client) Hover(ctx context.Context, uri string, pos Position) ([]string, error) {
	raw, err := c.call(ctx, "textDocument/hover", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}

	var hover Hover
	if err := json.Unmarshal(raw, &hover); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to parse hover response: %w", err)
	}
	return hover.Texts(), nil
}

func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	raw, err := c.call(ctx, "workspace/symbol", WorkspaceSymbolParams{Query: query})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}

	var symbols []SymbolInformation
	if err := json.Unmarshal(raw, &symbols); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to parse workspace symbol response: %w", err)
	}
	return symbols, nil
}

// Definition normalises Location, []Location and []LocationLink answers to
// locations pointing at the declaration name.
func (c *Client) Definition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	raw, err := c.call(ctx, "textDocument/definition", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}

	var single Location
	if err := json.Unmarshal(raw, &single); err == nil && single.URI != "" {
		return []Location{single}, nil
	}

	var links []LocationLink
	if err := json.Unmarshal(raw, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
		locations := make([]Location, 0, len(links))
		for _, link := range links {
			locations = append(locations, Location{URI: link.TargetURI, Range: link.TargetSelectionRange})
		}
		return locations, nil
	}

	var locations []Location
	if err := json.Unmarshal(raw, &locations); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to parse definition response: %w", err)
	}
	return locations, nil
}

func (c *Client) DidOpen(ctx context.Context, item TextDocumentItem) error {
	return c.notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{TextDocument: item})
}

func (c *Client) DidChange(ctx context.Context, uri string, version int, text string) error {
	return c.notify(ctx, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
}

func (c *Client) DidClose(ctx context.Context, uri string) error {
	return c.notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (c *Client) Close() error {
	select {
	case <-c.closedCh:
		return ErrAlreadyClosed
	default:
		close(c.closedCh)
	}

	c.state.Store(StateStopped)
	return c.conn.Close()
}

func (c *Client) IsReady() bool {
	return c.getState() == StateReady
}

func (c *Client) getState() LSPState {
	return c.state.Load().(LSPState)
}

func (c *Client) GetState() LSPState {
	return c.getState()
}

func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStats{
		Language:     c.config.Language,
		State:        c.getState(),
		RequestCount: atomic.LoadInt64(&c.requestCount),
		ErrorCount:   atomic.LoadInt64(&c.errorCount),
		LastRequest:  c.lastRequest,
	}
}

type ClientStats struct {
	Language     Language  `json:"language"`
	State        LSPState  `json:"state"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	LastRequest  time.Time `json:"last_request,omitempty"`
}

func (c *Client) recordRequest() {
	atomic.AddInt64(&c.requestCount, 1)
	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *Client) recordError() {
	atomic.AddInt64(&c.errorCount, 1)
}
