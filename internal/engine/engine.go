// Package engine ties the pieces together: it keeps a session per open
// document, schedules debounced scans that rebuild the document's registry,
// and answers editor queries against the last completed scan.
package engine

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/alucardeht/dynmethod/internal/document"
	"github.com/alucardeht/dynmethod/internal/logger"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/owner"
	"github.com/alucardeht/dynmethod/internal/query"
	"github.com/alucardeht/dynmethod/internal/scheduler"
)

var log = logger.ForComponent("engine")

// Downstream is the language tooling the engine consumes.
type Downstream interface {
	SymbolProvider
	HoverProvider
	owner.WorkspaceSearcher
	owner.DefinitionProvider
}

// purger is implemented by searchers that cache answers. The cache is
// purged when a scan starts and on workspace changes; edits in between
// are left to its TTL.
type purger interface {
	Purge()
}

type Config struct {
	Scheduler scheduler.Config
	// Include and Exclude are doublestar globs matched against document
	// paths; a document is analysed when it matches an include and no
	// exclude.
	Include []string
	Exclude []string
	// ScanTimeout bounds one scan's downstream calls.
	ScanTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Scheduler:   scheduler.DefaultConfig(),
		Include:     []string{"**/*.{js,jsx,mjs,cjs,ts,tsx,mts,cts}"},
		Exclude:     []string{"**/node_modules/**"},
		ScanTimeout: 30 * time.Second,
	}
}

type Engine struct {
	config  Config
	docs    *document.Store
	search  owner.WorkspaceSearcher
	scanner *Scanner
	queries *query.Engine
	sched   *scheduler.Scheduler

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds an engine over downstream. search replaces downstream for
// workspace symbol lookups when non-nil, typically a caching wrapper.
func New(config Config, downstream Downstream, search owner.WorkspaceSearcher) *Engine {
	if search == nil {
		search = downstream
	}
	resolver := owner.NewResolver(search, downstream)

	e := &Engine{
		config:   config,
		docs:     document.NewStore(),
		search:   search,
		scanner:  NewScanner(downstream, downstream, resolver),
		queries:  query.New(resolver),
		sessions: make(map[string]*Session),
	}
	e.sched = scheduler.New(config.Scheduler, e.scheduledScan)
	return e
}

// Supports reports whether uri falls under the configured globs.
func (e *Engine) Supports(uri string) bool {
	path := strings.TrimPrefix(filepath.ToSlash(lsp.URIToPath(uri)), "/")

	included := false
	for _, pattern := range e.config.Include {
		if ok, _ := doublestar.Match(pattern, path); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range e.config.Exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return false
		}
	}
	return true
}

func (e *Engine) Documents() *document.Store {
	return e.docs
}

func (e *Engine) Open(uri, languageID string, version int, text string) {
	e.docs.Open(uri, languageID, version, text)
	if !e.Supports(uri) {
		return
	}

	e.mu.Lock()
	if _, ok := e.sessions[uri]; !ok {
		e.sessions[uri] = newSession(uri)
	}
	e.mu.Unlock()

	e.sched.Trigger(uri, scheduler.TriggerOpen)
}

func (e *Engine) Change(uri string, version int, text string) {
	if _, ok := e.docs.Change(uri, version, text); !ok {
		log.Debug("change for unknown document", "uri", uri)
		return
	}
	if e.session(uri) != nil {
		e.sched.Trigger(uri, scheduler.TriggerChange)
	}
}

func (e *Engine) Close(uri string) {
	e.docs.Close(uri)
	e.sched.Cancel(uri)

	e.mu.Lock()
	delete(e.sessions, uri)
	e.mu.Unlock()
}

func (e *Engine) SetActive(uri string) {
	e.docs.SetActive(uri)
	if e.session(uri) != nil {
		e.sched.Trigger(uri, scheduler.TriggerActiveEditor)
	}
}

// VisibleRangeChanged rescans uri with the short viewport delay.
func (e *Engine) VisibleRangeChanged(uri string) {
	if e.session(uri) != nil {
		e.sched.Trigger(uri, scheduler.TriggerVisibleRange)
	}
}

func (e *Engine) SetVisible(uris []string) {
	e.docs.SetVisible(uris)
	e.sched.TriggerAll(e.visibleSessions(), scheduler.TriggerVisibleEditors)
}

// WorkspaceChanged drops cached declarations and rescans every visible
// document, after folder changes or files changing on disk.
func (e *Engine) WorkspaceChanged() {
	e.purge()
	e.sched.TriggerAll(e.visibleSessions(), scheduler.TriggerWorkspace)
}

// Rescan schedules a scan of uri after delay; a negative delay means the
// default quiet period.
func (e *Engine) Rescan(uri string, delay time.Duration) {
	if e.session(uri) == nil {
		return
	}
	if delay < 0 {
		delay = e.config.Scheduler.DefaultDelay
	}
	e.sched.Schedule(uri, delay)
}

// Scan rescans uri now and publishes the result. Callers must not scan the
// same document concurrently; the scheduler guarantees that for its scans.
func (e *Engine) Scan(ctx context.Context, uri string) error {
	sess := e.session(uri)
	doc, ok := e.docs.Get(uri)
	if sess == nil || !ok {
		return nil
	}
	e.purge()

	if e.config.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ScanTimeout)
		defer cancel()
	}

	snap, err := e.scanner.Scan(ctx, doc)
	if err != nil {
		return err
	}

	// A document closed mid-scan has no session to publish into.
	if e.session(uri) != sess {
		return nil
	}
	sess.publish(snap)

	log.Debug("registry published",
		"uri", uri,
		"version", snap.Version,
		"bindings", snap.Registry.Len(),
		"skipped", snap.Skipped,
		"duration_ms", snap.Duration.Milliseconds())
	return nil
}

func (e *Engine) scheduledScan(ctx context.Context, uri string) {
	if err := e.Scan(ctx, uri); err != nil {
		log.Warn("scan failed, keeping previous registry", "uri", uri, "error", err)
	}
}

// Snapshot returns the last published scan of uri.
func (e *Engine) Snapshot(uri string) (*Snapshot, bool) {
	sess := e.session(uri)
	if sess == nil {
		return nil, false
	}
	return sess.Snapshot(), true
}

func (e *Engine) Completion(ctx context.Context, uri string, pos lsp.Position) []query.Completion {
	view, ok := e.view(uri)
	if !ok {
		return nil
	}
	return e.queries.Completion(ctx, view, pos)
}

func (e *Engine) SignatureHelp(ctx context.Context, uri string, pos lsp.Position) (query.SignatureHelp, bool) {
	view, ok := e.view(uri)
	if !ok {
		return query.SignatureHelp{}, false
	}
	return e.queries.SignatureHelp(ctx, view, pos)
}

func (e *Engine) Definition(ctx context.Context, uri string, pos lsp.Position) (lsp.Location, bool) {
	view, ok := e.view(uri)
	if !ok {
		return lsp.Location{}, false
	}
	return e.queries.Definition(ctx, view, pos)
}

// view pairs the editor's current text with the last completed scan. The
// text may be newer than the scan; usage sites are read from the text.
func (e *Engine) view(uri string) (query.View, bool) {
	sess := e.session(uri)
	doc, ok := e.docs.Get(uri)
	if sess == nil || !ok {
		return query.View{}, false
	}
	snap := sess.Snapshot()
	return query.View{Document: doc, Registry: snap.Registry, Tree: snap.Tree}, true
}

type DocumentStatus struct {
	URI            string    `json:"uri"`
	Version        int       `json:"version"`
	ScannedVersion int       `json:"scanned_version"`
	Bindings       int       `json:"bindings"`
	Skipped        int       `json:"skipped"`
	Pending        bool      `json:"pending"`
	Stale          bool      `json:"stale"`
	LastScan       time.Time `json:"last_scan,omitzero"`
	ScanMillis     int64     `json:"scan_ms"`
}

type Status struct {
	Active    string           `json:"active,omitempty"`
	Documents []DocumentStatus `json:"documents"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		sessions = append(sessions, sess)
	}
	e.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].URI() < sessions[j].URI() })

	status := Status{Active: e.docs.Active(), Documents: make([]DocumentStatus, 0, len(sessions))}
	for _, sess := range sessions {
		snap := sess.Snapshot()
		ds := DocumentStatus{
			URI:            sess.URI(),
			ScannedVersion: snap.Version,
			Bindings:       snap.Registry.Len(),
			Skipped:        snap.Skipped,
			Pending:        e.sched.State(sess.URI()) == scheduler.Pending,
			LastScan:       snap.BuiltAt,
			ScanMillis:     snap.Duration.Milliseconds(),
		}
		if doc, ok := e.docs.Get(sess.URI()); ok {
			ds.Version = doc.Version
			ds.Stale = !sess.Scanned() || doc.Hash != snap.Hash
		}
		status.Documents = append(status.Documents, ds)
	}
	return status
}

// Stop cancels pending scans and waits for running ones.
func (e *Engine) Stop() {
	e.sched.Stop()
}

func (e *Engine) session(uri string) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[uri]
}

func (e *Engine) visibleSessions() []string {
	var uris []string
	for _, doc := range e.docs.Visible() {
		if e.session(doc.URI) != nil {
			uris = append(uris, doc.URI)
		}
	}
	return uris
}

func (e *Engine) purge() {
	if p, ok := e.search.(purger); ok {
		p.Purge()
	}
}
