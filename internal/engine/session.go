package engine

import (
	"sync/atomic"
	"time"

	"github.com/alucardeht/dynmethod/internal/registry"
	"github.com/alucardeht/dynmethod/internal/symbols"
)

// Snapshot is the immutable result of one completed scan.
type Snapshot struct {
	URI      string
	Registry *registry.Registry
	Tree     *symbols.Tree
	// Version and Hash identify the document text the scan started from.
	Version  int
	Hash     uint64
	BuiltAt  time.Time
	Duration time.Duration
	// Skipped counts registrations dropped for malformed hover text or an
	// unresolved owner.
	Skipped int
}

// Session holds the current snapshot of one open document. Queries load it,
// scans replace it whole.
type Session struct {
	uri     string
	current atomic.Pointer[Snapshot]
}

func newSession(uri string) *Session {
	s := &Session{uri: uri}
	s.current.Store(&Snapshot{URI: uri, Registry: registry.New()})
	return s
}

func (s *Session) URI() string {
	return s.uri
}

// Snapshot never returns nil; before the first scan it is empty.
func (s *Session) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *Session) publish(snap *Snapshot) {
	s.current.Store(snap)
}

// Scanned reports whether at least one scan has completed.
func (s *Session) Scanned() bool {
	return !s.current.Load().BuiltAt.IsZero()
}
