// Package document tracks the text of documents the editor has open and
// which of them are currently visible.
package document

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/alucardeht/dynmethod/internal/lsp"
)

type Document struct {
	URI        string
	LanguageID string
	Version    int
	Text       string
	// Hash fingerprints Text; scans record the hash they were built from.
	Hash  uint64
	lines []string
}

func newDocument(uri, languageID string, version int, text string) *Document {
	return &Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    version,
		Text:       text,
		Hash:       xxhash.Sum64String(text),
		lines:      strings.Split(text, "\n"),
	}
}

func (d *Document) Line(n int) (string, bool) {
	if n < 0 || n >= len(d.lines) {
		return "", false
	}
	return strings.TrimSuffix(d.lines[n], "\r"), true
}

// LinePrefix is the text of pos's line left of pos.
func (d *Document) LinePrefix(pos lsp.Position) (string, bool) {
	line, ok := d.Line(pos.Line)
	if !ok {
		return "", false
	}
	return PrefixUTF16(line, pos.Character), true
}

type Store struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	visible map[string]bool
	active  string
}

func NewStore() *Store {
	return &Store{
		docs:    make(map[string]*Document),
		visible: make(map[string]bool),
	}
}

// Open registers a document; a freshly opened document counts as visible.
func (s *Store) Open(uri, languageID string, version int, text string) *Document {
	doc := newDocument(uri, languageID, version, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[uri] = doc
	s.visible[uri] = true
	return doc
}

// Change replaces the full text of an open document.
func (s *Store) Change(uri string, version int, text string) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.docs[uri]
	if !ok {
		return nil, false
	}
	doc := newDocument(uri, old.LanguageID, version, text)
	s.docs[uri] = doc
	return doc, true
}

func (s *Store) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, uri)
	delete(s.visible, uri)
	if s.active == uri {
		s.active = ""
	}
}

func (s *Store) Get(uri string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

func (s *Store) SetActive(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = uri
	if _, ok := s.docs[uri]; ok {
		s.visible[uri] = true
	}
}

func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetVisible replaces the visible set; unknown URIs are ignored.
func (s *Store) SetVisible(uris []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visible = make(map[string]bool, len(uris))
	for _, uri := range uris {
		if _, ok := s.docs[uri]; ok {
			s.visible[uri] = true
		}
	}
}

// Visible returns the visible open documents, sorted by URI.
func (s *Store) Visible() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.visible))
	for uri := range s.visible {
		if doc, ok := s.docs[uri]; ok {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].URI < docs[j].URI })
	return docs
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
