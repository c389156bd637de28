package lsp

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURI = "file:///work/app.js"

// fakeServer answers the handful of requests the client sends, the way
// typescript-language-server shapes them.
type fakeServer struct {
	mu      sync.Mutex
	notes   []string
	answers map[string]interface{}
}

func (s *fakeServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Notif {
		s.notes = append(s.notes, req.Method)
		return nil, nil
	}
	if req.Method == "initialize" {
		return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil
	}
	if answer, ok := s.answers[req.Method]; ok {
		return answer, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: req.Method}
}

func (s *fakeServer) notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes...)
}

func startClient(t *testing.T, answers map[string]interface{}) (*Client, *fakeServer) {
	t.Helper()

	server := &fakeServer{answers: answers}
	serverSide, clientSide := net.Pipe()
	ctx := context.Background()

	serverConn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(server.handle))

	config := DefaultClientConfig(LangJavaScript)
	config.RequestTimeout = 2 * time.Second
	client := NewStreamClient(ctx, clientSide, config)

	t.Cleanup(func() {
		client.Close()
		serverConn.Close()
	})

	require.NoError(t, client.Initialize(ctx, "file:///work"))
	require.True(t, client.IsReady())
	return client, server
}

func TestClientRequiresInitialize(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	client := NewStreamClient(context.Background(), clientSide, DefaultClientConfig(LangTypeScript))
	defer client.Close()

	_, err := client.Hover(context.Background(), testURI, Position{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, client.DidClose(context.Background(), testURI), ErrNotInitialized)
}

func TestClientDocumentSymbols(t *testing.T) {
	t.Run("hierarchical", func(t *testing.T) {
		client, _ := startClient(t, map[string]interface{}{
			"textDocument/documentSymbol": []DocumentSymbol{{
				Name:  "foo",
				Kind:  SymbolKindFunction,
				Range: Range{End: Position{Line: 3}},
				Children: []DocumentSymbol{
					{Name: "setMethod('ping') callback", Kind: SymbolKindFunction},
				},
			}},
		})

		symbols, err := client.DocumentSymbols(context.Background(), testURI)
		require.NoError(t, err)
		require.Len(t, symbols, 1)
		assert.Equal(t, "foo", symbols[0].Name)
		require.Len(t, symbols[0].Children, 1)
		assert.Equal(t, "setMethod('ping') callback", symbols[0].Children[0].Name)
	})

	t.Run("flat", func(t *testing.T) {
		client, _ := startClient(t, map[string]interface{}{
			"textDocument/documentSymbol": []SymbolInformation{{
				Name:          "svc",
				Kind:          SymbolKindVariable,
				Location:      Location{URI: testURI, Range: Range{Start: Position{Line: 2, Character: 6}}},
				ContainerName: "module",
			}},
		})

		symbols, err := client.DocumentSymbols(context.Background(), testURI)
		require.NoError(t, err)
		require.Len(t, symbols, 1)
		assert.Equal(t, DocumentSymbol{
			Name:           "svc",
			Kind:           SymbolKindVariable,
			Range:          Range{Start: Position{Line: 2, Character: 6}},
			SelectionRange: Range{Start: Position{Line: 2, Character: 6}},
			Detail:         "module",
		}, symbols[0])
	})

	t.Run("null", func(t *testing.T) {
		client, _ := startClient(t, map[string]interface{}{
			"textDocument/documentSymbol": nil,
		})

		symbols, err := client.DocumentSymbols(context.Background(), testURI)
		require.NoError(t, err)
		assert.Empty(t, symbols)
	})
}

func TestClientHover(t *testing.T) {
	client, _ := startClient(t, map[string]interface{}{
		"textDocument/hover": map[string]interface{}{
			"contents": MarkupContent{Kind: "markdown", Value: "```typescript\n(local function)(a: any): void\n```"},
		},
	})

	texts, err := client.Hover(context.Background(), testURI, Position{Line: 1, Character: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"```typescript\n(local function)(a: any): void\n```"}, texts)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Zero(t, stats.ErrorCount)
}

func TestClientDefinitionShapes(t *testing.T) {
	target := Range{Start: Position{Line: 4, Character: 6}, End: Position{Line: 4, Character: 9}}

	tests := []struct {
		name   string
		answer interface{}
	}{
		{
			name:   "single location",
			answer: Location{URI: testURI, Range: target},
		},
		{
			name:   "location list",
			answer: []Location{{URI: testURI, Range: target}},
		},
		{
			name: "location links",
			answer: []LocationLink{{
				TargetURI:            testURI,
				TargetRange:          Range{Start: Position{Line: 4}, End: Position{Line: 8}},
				TargetSelectionRange: target,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := startClient(t, map[string]interface{}{"textDocument/definition": tt.answer})

			locations, err := client.Definition(context.Background(), testURI, Position{Line: 9})
			require.NoError(t, err)
			assert.Equal(t, []Location{{URI: testURI, Range: target}}, locations)
		})
	}
}

func TestClientRequestError(t *testing.T) {
	client, _ := startClient(t, nil)

	_, err := client.WorkspaceSymbols(context.Background(), "svc")
	require.Error(t, err)
	assert.Equal(t, int64(1), client.Stats().ErrorCount)
}

func TestClientDocumentSync(t *testing.T) {
	client, server := startClient(t, map[string]interface{}{
		"workspace/symbol": []SymbolInformation{},
	})
	ctx := context.Background()

	require.NoError(t, client.DidOpen(ctx, TextDocumentItem{URI: testURI, LanguageID: "javascript", Version: 1, Text: "x"}))
	require.NoError(t, client.DidChange(ctx, testURI, 2, "xy"))
	require.NoError(t, client.DidClose(ctx, testURI))

	// The server handles messages in order; a request flushes the notifications.
	_, err := client.WorkspaceSymbols(ctx, "svc")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"initialized",
		"textDocument/didOpen",
		"textDocument/didChange",
		"textDocument/didClose",
	}, server.notifications())
}

func TestClientClose(t *testing.T) {
	client, _ := startClient(t, nil)

	require.NoError(t, client.Close())
	assert.Equal(t, StateStopped, client.GetState())
	assert.ErrorIs(t, client.Close(), ErrAlreadyClosed)
}

func TestHoverTexts(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     []string
	}{
		{
			name:     "markup",
			contents: `{"kind":"markdown","value":"doc"}`,
			want:     []string{"doc"},
		},
		{
			name:     "plain string",
			contents: `"doc"`,
			want:     []string{"doc"},
		},
		{
			name:     "language block",
			contents: `{"language":"typescript","value":"const a: number"}`,
			want:     []string{"\n```typescript\nconst a: number\n```\n"},
		},
		{
			name:     "list",
			contents: `[{"language":"typescript","value":"(local function)(): void"},"notes"]`,
			want:     []string{"\n```typescript\n(local function)(): void\n```\n", "notes"},
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Hover{Contents: json.RawMessage(tt.contents)}
			assert.Equal(t, tt.want, h.Texts())
		})
	}
}
