package lsp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alucardeht/dynmethod/internal/logger"
)

var (
	ErrLanguageNotSupported = errors.New("language not supported")
	ErrNoProjectRoot        = errors.New("workspace root not set")
	ErrManagerClosed        = errors.New("manager is closed")

	log = logger.ForComponent("lsp")
)

// Manager owns the downstream servers, one per language, and mirrors the
// editor's open documents into them so their answers reflect unsaved text.
type Manager struct {
	config    ManagerConfig
	processes map[Language]*Process
	startMu   map[Language]*sync.Mutex
	open      map[string]TextDocumentItem
	rootPath  string

	mu     sync.RWMutex
	closed bool
}

func NewManager(config ManagerConfig) *Manager {
	startMu := make(map[Language]*sync.Mutex)
	for lang := range config.Servers {
		startMu[lang] = &sync.Mutex{}
	}
	return &Manager{
		config:    config,
		processes: make(map[Language]*Process),
		startMu:   startMu,
		open:      make(map[string]TextDocumentItem),
	}
}

// SetRoot records the workspace root servers are started in.
func (m *Manager) SetRoot(rootPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootPath = rootPath
}

func (m *Manager) clientFor(ctx context.Context, uri string) (*Client, error) {
	lang, ok := m.config.LanguageFor(URIToPath(uri))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLanguageNotSupported, uri)
	}
	return m.clientForLanguage(ctx, lang)
}

func (m *Manager) clientForLanguage(ctx context.Context, lang Language) (*Client, error) {
	process, err := m.getOrStartProcess(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to get lsp process: %w", err)
	}

	client := process.Client()
	if client == nil || !client.IsReady() {
		return nil, fmt.Errorf("lsp client not ready for %s", lang)
	}
	return client, nil
}

func (m *Manager) getOrStartProcess(ctx context.Context, lang Language) (*Process, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	proc, exists := m.processes[lang]
	rootPath := m.rootPath
	startMu := m.startMu[lang]
	m.mu.RUnlock()

	if exists && proc.State() == StateReady {
		return proc, nil
	}
	if startMu == nil {
		return nil, fmt.Errorf("%w: %s", ErrLanguageNotSupported, lang)
	}
	if rootPath == "" {
		return nil, ErrNoProjectRoot
	}

	startMu.Lock()
	defer startMu.Unlock()

	m.mu.Lock()
	proc, exists = m.processes[lang]
	if !exists {
		proc = NewProcess(m.config.Servers[lang])
		m.processes[lang] = proc
	}
	m.mu.Unlock()

	if proc.State() == StateReady {
		return proc, nil
	}

	log.Info("starting LSP", "language", lang, "root", rootPath)
	if err := proc.Start(ctx, rootPath); err != nil {
		log.Error("failed to start LSP", "language", lang, "error", err)
		return nil, err
	}

	m.replayOpenDocuments(ctx, lang, proc.Client())
	return proc, nil
}

func (m *Manager) replayOpenDocuments(ctx context.Context, lang Language, client *Client) {
	m.mu.RLock()
	var items []TextDocumentItem
	for uri, item := range m.open {
		if l, ok := m.config.LanguageFor(URIToPath(uri)); ok && l == lang {
			items = append(items, item)
		}
	}
	m.mu.RUnlock()

	for _, item := range items {
		if err := client.DidOpen(ctx, item); err != nil {
			log.Warn("failed to replay open document", "uri", item.URI, "error", err)
		}
	}
}

func (m *Manager) DocumentSymbols(ctx context.Context, uri string) ([]DocumentSymbol, error) {
	client, err := m.clientFor(ctx, uri)
	if err != nil {
		return nil, err
	}

	symbols, err := client.DocumentSymbols(ctx, uri)
	if err != nil {
		return nil, err
	}

	log.Debug("LSP returned symbols", "uri", uri, "count", len(symbols))
	return symbols, nil
}

func (m *Manager) Hover(ctx context.Context, uri string, pos Position) ([]string, error) {
	client, err := m.clientFor(ctx, uri)
	if err != nil {
		return nil, err
	}
	return client.Hover(ctx, uri, pos)
}

func (m *Manager) Definition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	client, err := m.clientFor(ctx, uri)
	if err != nil {
		return nil, err
	}
	return client.Definition(ctx, uri, pos)
}

// WorkspaceSymbols asks every running server and merges the answers,
// dropping declarations reported by more than one of them.
func (m *Manager) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	m.mu.RLock()
	langs := make([]Language, 0, len(m.processes))
	for lang, proc := range m.processes {
		if proc.State() == StateReady {
			langs = append(langs, lang)
		}
	}
	m.mu.RUnlock()

	if len(langs) == 0 {
		return nil, ErrProcessNotRunning
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })

	type key struct {
		uri string
		pos Position
	}
	seen := make(map[key]bool)

	var merged []SymbolInformation
	var lastErr error
	for _, lang := range langs {
		client, err := m.clientForLanguage(ctx, lang)
		if err != nil {
			lastErr = err
			continue
		}
		symbols, err := client.WorkspaceSymbols(ctx, query)
		if err != nil {
			log.Warn("workspace symbol search failed", "language", lang, "query", query, "error", err)
			lastErr = err
			continue
		}
		for _, s := range symbols {
			k := key{uri: s.Location.URI, pos: s.Location.Range.Start}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, s)
		}
	}

	if merged == nil && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

func (m *Manager) DidOpen(ctx context.Context, item TextDocumentItem) error {
	m.mu.Lock()
	m.open[item.URI] = item
	m.mu.Unlock()

	lang, ok := m.config.LanguageFor(URIToPath(item.URI))
	if !ok {
		return nil
	}

	m.mu.RLock()
	proc, running := m.processes[lang]
	m.mu.RUnlock()

	if running && proc.State() == StateReady {
		return proc.Client().DidOpen(ctx, item)
	}

	// Starting replays every open document, this one included.
	_, err := m.getOrStartProcess(ctx, lang)
	return err
}

func (m *Manager) DidChange(ctx context.Context, uri string, version int, text string) error {
	m.mu.Lock()
	item, tracked := m.open[uri]
	item.URI = uri
	item.Version = version
	item.Text = text
	m.open[uri] = item
	m.mu.Unlock()

	if !tracked {
		return nil
	}

	client, err := m.clientFor(ctx, uri)
	if err != nil {
		return err
	}
	return client.DidChange(ctx, uri, version, text)
}

func (m *Manager) DidClose(ctx context.Context, uri string) error {
	m.mu.Lock()
	delete(m.open, uri)
	m.mu.Unlock()

	lang, ok := m.config.LanguageFor(URIToPath(uri))
	if !ok {
		return nil
	}

	m.mu.RLock()
	proc, running := m.processes[lang]
	m.mu.RUnlock()

	if !running || proc.State() != StateReady {
		return nil
	}
	return proc.Client().DidClose(ctx, uri)
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	procs := m.processes
	m.processes = make(map[Language]*Process)
	m.mu.Unlock()

	log.Info("stopping all LSP processes")

	var lastErr error
	for lang, proc := range procs {
		if err := proc.Stop(ctx); err != nil {
			log.Warn("failed to stop LSP", "language", lang, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return m.StopAll(ctx)
}

func (m *Manager) Stats() map[Language]LSPStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[Language]LSPStats)
	for lang, proc := range m.processes {
		stats[lang] = proc.Stats()
	}
	return stats
}

func (m *Manager) Supports(uri string) bool {
	_, ok := m.config.LanguageFor(URIToPath(uri))
	return ok
}
