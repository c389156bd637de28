// Package server is the editor-facing language server. It mirrors the
// editor's documents into the engine and the downstream server, and answers
// completion, signature help and definition for getMethod lookups.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/dynmethod/internal/engine"
	"github.com/alucardeht/dynmethod/internal/logger"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/pkg/protocol"
)

var (
	ErrExitWithoutShutdown = errors.New("exit received before shutdown")

	log = logger.ForComponent("server")
)

// Downstream mirrors document state into the language server that answers
// the engine's symbol, hover and definition requests.
type Downstream interface {
	DidOpen(ctx context.Context, item lsp.TextDocumentItem) error
	DidChange(ctx context.Context, uri string, version int, text string) error
	DidClose(ctx context.Context, uri string) error
	SetRoot(rootPath string)
	Stats() map[lsp.Language]lsp.LSPStats
}

// FolderWatcher follows workspace folders on disk.
type FolderWatcher interface {
	AddRoot(path string) error
	RemoveRoot(path string)
}

type Options struct {
	Name    string
	Version string
	// Watcher is optional.
	Watcher FolderWatcher
}

type Server struct {
	engine     *engine.Engine
	downstream Downstream
	opts       Options
	startTime  time.Time

	mu           sync.Mutex
	initialized  bool
	shuttingDown bool
	rootSet      bool
	exited       chan struct{}
	exitOnce     sync.Once
}

func New(eng *engine.Engine, downstream Downstream, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "dynmethod-lsp"
	}
	return &Server{
		engine:     eng,
		downstream: downstream,
		opts:       opts,
		startTime:  time.Now(),
		exited:     make(chan struct{}),
	}
}

// Serve runs one session over rwc. It returns when the editor sends exit,
// the connection drops or ctx ends.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))
	defer conn.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-conn.DisconnectNotify():
		log.Info("editor disconnected")
		return nil
	case <-s.exited:
		s.mu.Lock()
		clean := s.shuttingDown
		s.mu.Unlock()
		if !clean {
			return ErrExitWithoutShutdown
		}
		return nil
	}
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic recovered",
				"method", req.Method,
				"panic", r,
				"stack", string(debug.Stack()))
			result, err = nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: fmt.Sprintf("internal error: %v", r)}
		}
		if err != nil && req.Notif {
			log.Warn("notification failed", "method", req.Method, "error", err)
		}
	}()

	switch req.Method {
	case protocol.MethodInitialize:
		return s.initialize(req)
	case protocol.MethodExit:
		s.exitOnce.Do(func() { close(s.exited) })
		return nil, nil
	}

	s.mu.Lock()
	initialized, shuttingDown := s.initialized, s.shuttingDown
	s.mu.Unlock()

	if !initialized {
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: protocol.CodeServerNotInitialized, Message: "server not initialized"}
	}
	if shuttingDown && !req.Notif {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is shutting down"}
	}

	switch req.Method {
	case protocol.MethodInitialized, protocol.MethodCancelRequest, protocol.MethodSetTrace:
		return nil, nil
	case protocol.MethodShutdown:
		return s.shutdown()

	case protocol.MethodDidOpen:
		return nil, s.didOpen(ctx, req)
	case protocol.MethodDidChange:
		return nil, s.didChange(ctx, req)
	case protocol.MethodDidClose:
		return nil, s.didClose(ctx, req)

	case protocol.MethodCompletion:
		return s.completion(ctx, req)
	case protocol.MethodSignatureHelp:
		return s.signatureHelp(ctx, req)
	case protocol.MethodDefinition:
		return s.definition(ctx, req)

	case protocol.MethodDidChangeWorkspaceFolders:
		return nil, s.didChangeWorkspaceFolders(req)
	case protocol.MethodDidChangeWatchedFiles:
		s.engine.WorkspaceChanged()
		return nil, nil

	case protocol.MethodDidChangeActiveEditor:
		return nil, s.didChangeActiveEditor(req)
	case protocol.MethodDidChangeVisibleRanges:
		return nil, s.didChangeVisibleRanges(req)
	case protocol.MethodDidChangeVisibleEditors:
		return nil, s.didChangeVisibleEditors(req)
	case protocol.MethodStatus:
		return s.status(), nil
	}

	if req.Notif {
		log.Debug("ignoring notification", "method", req.Method)
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
}

func decode(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
