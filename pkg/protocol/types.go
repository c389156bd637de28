// Package protocol has the editor-facing LSP messages the server speaks,
// including the dynmethod/* extensions. Text-sync and position messages
// are shared with the downstream client and live in internal/lsp.
package protocol

import "encoding/json"

const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"

	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidClose  = "textDocument/didClose"

	MethodCompletion    = "textDocument/completion"
	MethodSignatureHelp = "textDocument/signatureHelp"
	MethodDefinition    = "textDocument/definition"

	MethodDidChangeWorkspaceFolders = "workspace/didChangeWorkspaceFolders"
	MethodDidChangeWatchedFiles     = "workspace/didChangeWatchedFiles"

	MethodCancelRequest = "$/cancelRequest"
	MethodSetTrace      = "$/setTrace"

	MethodDidChangeActiveEditor   = "dynmethod/didChangeActiveEditor"
	MethodDidChangeVisibleRanges  = "dynmethod/didChangeVisibleRanges"
	MethodDidChangeVisibleEditors = "dynmethod/didChangeVisibleEditors"
	MethodStatus                  = "dynmethod/status"
)

// CodeServerNotInitialized answers requests that arrive before initialize.
const CodeServerNotInitialized = -32002

type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type InitializeParams struct {
	ProcessID             *int              `json:"processId"`
	ClientInfo            *ClientInfo       `json:"clientInfo,omitempty"`
	RootURI               string            `json:"rootUri,omitempty"`
	RootPath              string            `json:"rootPath,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty"`
	InitializationOptions json.RawMessage   `json:"initializationOptions,omitempty"`
}

type TextDocumentSyncKind int

const (
	SyncNone TextDocumentSyncKind = 0
	SyncFull TextDocumentSyncKind = 1
)

type TextDocumentSyncOptions struct {
	OpenClose bool                 `json:"openClose"`
	Change    TextDocumentSyncKind `json:"change"`
}

type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

type SignatureHelpOptions struct {
	TriggerCharacters   []string `json:"triggerCharacters,omitempty"`
	RetriggerCharacters []string `json:"retriggerCharacters,omitempty"`
}

type WorkspaceFoldersServerCapabilities struct {
	Supported           bool `json:"supported"`
	ChangeNotifications bool `json:"changeNotifications"`
}

type WorkspaceServerCapabilities struct {
	WorkspaceFolders *WorkspaceFoldersServerCapabilities `json:"workspaceFolders,omitempty"`
}

type ServerCapabilities struct {
	TextDocumentSync      TextDocumentSyncOptions      `json:"textDocumentSync"`
	CompletionProvider    *CompletionOptions           `json:"completionProvider,omitempty"`
	SignatureHelpProvider *SignatureHelpOptions        `json:"signatureHelpProvider,omitempty"`
	DefinitionProvider    bool                         `json:"definitionProvider"`
	Workspace             *WorkspaceServerCapabilities `json:"workspace,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

type CompletionItemKind int

const CompletionItemKindMethod CompletionItemKind = 2

type CompletionItem struct {
	Label      string             `json:"label"`
	Kind       CompletionItemKind `json:"kind,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	InsertText string             `json:"insertText,omitempty"`
}

type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// ParameterInformation labels a parameter by its [start, end) UTF-16 offsets
// into the signature label.
type ParameterInformation struct {
	Label [2]int `json:"label"`
}

type SignatureInformation struct {
	Label      string                 `json:"label"`
	Parameters []ParameterInformation `json:"parameters"`
}

type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature"`
	ActiveParameter int                    `json:"activeParameter"`
}

type WorkspaceFoldersChangeEvent struct {
	Added   []WorkspaceFolder `json:"added"`
	Removed []WorkspaceFolder `json:"removed"`
}

type DidChangeWorkspaceFoldersParams struct {
	Event WorkspaceFoldersChangeEvent `json:"event"`
}

type FileEvent struct {
	URI  string `json:"uri"`
	Type int    `json:"type"`
}

type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

// ActiveEditorParams reports the editor that took focus.
type ActiveEditorParams struct {
	URI string `json:"uri"`
}

// VisibleRangesParams reports that the viewport of an editor scrolled.
type VisibleRangesParams struct {
	URI string `json:"uri"`
}

// VisibleEditorsParams lists every document currently shown.
type VisibleEditorsParams struct {
	URIs []string `json:"uris"`
}
