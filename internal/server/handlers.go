package server

import (
	"context"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/dynmethod/internal/engine"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/pkg/protocol"
)

func (s *Server) initialize(req *jsonrpc2.Request) (interface{}, error) {
	var params protocol.InitializeParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "already initialized"}
	}
	s.initialized = true
	s.mu.Unlock()

	folders := workspaceFolders(params)
	if len(folders) > 0 {
		s.setRoot(folders[0])
	}
	for _, folder := range folders {
		s.watch(folder)
	}

	client := "unknown"
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
	}
	log.Info("initialized", "client", client, "folders", len(folders))

	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.SyncFull,
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"(", "'"},
			},
			SignatureHelpProvider: &protocol.SignatureHelpOptions{
				TriggerCharacters:   []string{"(", ","},
				RetriggerCharacters: []string{","},
			},
			DefinitionProvider: true,
			Workspace: &protocol.WorkspaceServerCapabilities{
				WorkspaceFolders: &protocol.WorkspaceFoldersServerCapabilities{
					Supported:           true,
					ChangeNotifications: true,
				},
			},
		},
		ServerInfo: &protocol.ServerInfo{Name: s.opts.Name, Version: s.opts.Version},
	}, nil
}

// workspaceFolders lists the folder paths of an initialize request, the
// explicit folders first, falling back to the root.
func workspaceFolders(params protocol.InitializeParams) []string {
	var paths []string
	for _, f := range params.WorkspaceFolders {
		paths = append(paths, lsp.URIToPath(f.URI))
	}
	if len(paths) > 0 {
		return paths
	}
	if params.RootURI != "" {
		return []string{lsp.URIToPath(params.RootURI)}
	}
	if params.RootPath != "" {
		return []string{params.RootPath}
	}
	return nil
}

func (s *Server) setRoot(path string) {
	s.mu.Lock()
	if s.rootSet {
		s.mu.Unlock()
		return
	}
	s.rootSet = true
	s.mu.Unlock()

	s.downstream.SetRoot(path)
}

func (s *Server) watch(path string) {
	if s.opts.Watcher == nil {
		return
	}
	if err := s.opts.Watcher.AddRoot(path); err != nil {
		log.Warn("cannot watch workspace folder", "path", path, "error", err)
	}
}

func (s *Server) shutdown() (interface{}, error) {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	s.engine.Stop()
	log.Info("shutdown requested")
	return nil, nil
}

func (s *Server) didOpen(ctx context.Context, req *jsonrpc2.Request) error {
	var params lsp.DidOpenTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}

	item := params.TextDocument
	if err := s.downstream.DidOpen(ctx, item); err != nil {
		log.Warn("downstream didOpen failed", "uri", item.URI, "error", err)
	}
	s.engine.Open(item.URI, item.LanguageID, item.Version, item.Text)
	return nil
}

func (s *Server) didChange(ctx context.Context, req *jsonrpc2.Request) error {
	var params lsp.DidChangeTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	if len(params.ContentChanges) == 0 {
		return nil
	}

	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	// Full sync: the last change holds the whole text.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text

	if err := s.downstream.DidChange(ctx, uri, version, text); err != nil {
		log.Warn("downstream didChange failed", "uri", uri, "error", err)
	}
	s.engine.Change(uri, version, text)
	return nil
}

func (s *Server) didClose(ctx context.Context, req *jsonrpc2.Request) error {
	var params lsp.DidCloseTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}

	uri := params.TextDocument.URI
	if err := s.downstream.DidClose(ctx, uri); err != nil {
		log.Warn("downstream didClose failed", "uri", uri, "error", err)
	}
	s.engine.Close(uri)
	return nil
}

func (s *Server) completion(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	var params lsp.TextDocumentPositionParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}

	found := s.engine.Completion(ctx, params.TextDocument.URI, params.Position)
	items := make([]protocol.CompletionItem, 0, len(found))
	for _, c := range found {
		items = append(items, protocol.CompletionItem{
			Label:      c.Label,
			Kind:       protocol.CompletionItemKindMethod,
			Detail:     c.Detail,
			InsertText: c.InsertText,
		})
	}
	return protocol.CompletionList{Items: items}, nil
}

func (s *Server) signatureHelp(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	var params lsp.TextDocumentPositionParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}

	help, ok := s.engine.SignatureHelp(ctx, params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}

	parameters := make([]protocol.ParameterInformation, 0, len(help.Signature.Params))
	for _, span := range help.Signature.Params {
		parameters = append(parameters, protocol.ParameterInformation{Label: [2]int{span.Start, span.End}})
	}
	return &protocol.SignatureHelp{
		Signatures: []protocol.SignatureInformation{{
			Label:      help.Signature.Label,
			Parameters: parameters,
		}},
		ActiveParameter: help.ActiveParameter,
	}, nil
}

func (s *Server) definition(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	var params lsp.TextDocumentPositionParams
	if err := decode(req, &params); err != nil {
		return nil, err
	}

	loc, ok := s.engine.Definition(ctx, params.TextDocument.URI, params.Position)
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (s *Server) didChangeWorkspaceFolders(req *jsonrpc2.Request) error {
	var params protocol.DidChangeWorkspaceFoldersParams
	if err := decode(req, &params); err != nil {
		return err
	}

	for _, f := range params.Event.Removed {
		if s.opts.Watcher != nil {
			s.opts.Watcher.RemoveRoot(lsp.URIToPath(f.URI))
		}
	}
	for _, f := range params.Event.Added {
		path := lsp.URIToPath(f.URI)
		s.setRoot(path)
		s.watch(path)
	}

	s.engine.WorkspaceChanged()
	return nil
}

func (s *Server) didChangeActiveEditor(req *jsonrpc2.Request) error {
	var params protocol.ActiveEditorParams
	if err := decode(req, &params); err != nil {
		return err
	}
	s.engine.SetActive(params.URI)
	return nil
}

func (s *Server) didChangeVisibleRanges(req *jsonrpc2.Request) error {
	var params protocol.VisibleRangesParams
	if err := decode(req, &params); err != nil {
		return err
	}
	s.engine.VisibleRangeChanged(params.URI)
	return nil
}

func (s *Server) didChangeVisibleEditors(req *jsonrpc2.Request) error {
	var params protocol.VisibleEditorsParams
	if err := decode(req, &params); err != nil {
		return err
	}
	s.engine.SetVisible(params.URIs)
	return nil
}

// Status answers dynmethod/status.
type Status struct {
	Server     string                       `json:"server"`
	Version    string                       `json:"version,omitempty"`
	Uptime     string                       `json:"uptime"`
	Engine     engine.Status                `json:"engine"`
	Downstream map[lsp.Language]lsp.LSPStats `json:"downstream"`
}

func (s *Server) status() Status {
	return Status{
		Server:     s.opts.Name,
		Version:    s.opts.Version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Engine:     s.engine.Status(),
		Downstream: s.downstream.Stats(),
	}
}
