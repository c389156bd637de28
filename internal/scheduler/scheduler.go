// Package scheduler debounces document rescans. Each document has its own
// Idle/Pending state machine: a trigger arms a timer, a newer trigger
// replaces it, and when a timer fires the scan runs to completion.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/alucardeht/dynmethod/internal/logger"
)

var log = logger.ForComponent("scheduler")

type Trigger int

const (
	TriggerOpen Trigger = iota
	TriggerChange
	TriggerActiveEditor
	TriggerVisibleRange
	TriggerVisibleEditors
	TriggerWorkspace
)

func (t Trigger) String() string {
	switch t {
	case TriggerOpen:
		return "open"
	case TriggerChange:
		return "change"
	case TriggerActiveEditor:
		return "active-editor"
	case TriggerVisibleRange:
		return "visible-range"
	case TriggerVisibleEditors:
		return "visible-editors"
	case TriggerWorkspace:
		return "workspace"
	default:
		return "unknown"
	}
}

type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

type Config struct {
	DefaultDelay time.Duration `json:"default_delay"`
	VisibleDelay time.Duration `json:"visible_delay"`
}

func DefaultConfig() Config {
	return Config{
		DefaultDelay: 300 * time.Millisecond,
		VisibleDelay: 50 * time.Millisecond,
	}
}

// ScanFunc rescans one document. It is never called concurrently for the
// same uri.
type ScanFunc func(ctx context.Context, uri string)

type Scheduler struct {
	config Config
	scan   ScanFunc

	mu      sync.Mutex
	docs    map[string]*docState
	stopped bool
	running sync.WaitGroup
}

type docState struct {
	timer *time.Timer
	// generation invalidates timers that fired after being replaced.
	generation uint64
	// scanning counts fired scans that have not returned yet.
	scanning  int
	cancelled bool
	scanMu    sync.Mutex
}

func New(config Config, scan ScanFunc) *Scheduler {
	return &Scheduler{
		config: config,
		scan:   scan,
		docs:   make(map[string]*docState),
	}
}

// Delay is the quiet period a trigger waits for.
func (s *Scheduler) Delay(trigger Trigger) time.Duration {
	if trigger == TriggerVisibleRange {
		return s.config.VisibleDelay
	}
	return s.config.DefaultDelay
}

func (s *Scheduler) Trigger(uri string, trigger Trigger) {
	log.Debug("rescan triggered", "uri", uri, "trigger", trigger)
	s.Schedule(uri, s.Delay(trigger))
}

// TriggerAll reschedules every uri, as after a workspace change.
func (s *Scheduler) TriggerAll(uris []string, trigger Trigger) {
	for _, uri := range uris {
		s.Trigger(uri, trigger)
	}
}

// Schedule arms (or re-arms) uri's timer for delay.
func (s *Scheduler) Schedule(uri string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	state, ok := s.docs[uri]
	if !ok {
		state = &docState{}
		s.docs[uri] = state
	}

	if state.timer != nil {
		state.timer.Stop()
	}
	state.cancelled = false
	state.generation++
	generation := state.generation

	state.timer = time.AfterFunc(delay, func() {
		s.fire(uri, state, generation)
	})
}

func (s *Scheduler) fire(uri string, state *docState, generation uint64) {
	s.mu.Lock()
	if s.stopped || state.generation != generation || s.docs[uri] != state {
		s.mu.Unlock()
		return
	}
	state.timer = nil
	state.scanning++
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer s.release(uri, state)

	state.scanMu.Lock()
	defer state.scanMu.Unlock()

	start := time.Now()
	s.scan(context.Background(), uri)
	log.Debug("scan finished", "uri", uri, "duration_ms", time.Since(start).Milliseconds())
}

// release ends one scan and drops the entry of a cancelled document once
// nothing references it.
func (s *Scheduler) release(uri string, state *docState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.scanning--
	if state.cancelled && state.scanning == 0 && state.timer == nil && s.docs[uri] == state {
		delete(s.docs, uri)
	}
}

// Cancel drops uri's pending scan, if any, and forgets the document.
func (s *Scheduler) Cancel(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.docs[uri]
	if !ok {
		return
	}
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	state.generation++
	// A running scan keeps the entry so a new trigger still serialises
	// behind it; release drops it afterwards.
	if state.scanning > 0 {
		state.cancelled = true
		return
	}
	delete(s.docs, uri)
}

func (s *Scheduler) State(uri string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.docs[uri]; ok && state.timer != nil {
		return Pending
	}
	return Idle
}

// Stop cancels every pending scan and waits for running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, state := range s.docs {
		if state.timer != nil {
			state.timer.Stop()
			state.timer = nil
		}
	}
	s.mu.Unlock()

	s.running.Wait()
}
