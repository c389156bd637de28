package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrLSPNotInstalled   = errors.New("lsp server not installed")
	ErrMaxRestarts       = errors.New("max restart attempts exceeded")
	ErrProcessNotRunning = errors.New("process not running")
)

// Process supervises one downstream server binary and its client.
type Process struct {
	config  ServerConfig
	circuit *CircuitBreaker

	cmd      *exec.Cmd
	client   *Client
	rootPath string

	state        atomic.Value
	restartCount int
	startedAt    time.Time
	lastError    error

	mu sync.RWMutex
}

func NewProcess(config ServerConfig) *Process {
	p := &Process{
		config:  config,
		circuit: NewCircuitBreaker(DefaultCircuitConfig()),
	}
	p.state.Store(StateStopped)
	return p
}

func (p *Process) Start(ctx context.Context, rootPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.getState() {
	case StateReady, StateStarting, StateInitializing:
		return nil
	}

	if p.restartCount >= p.config.MaxRestarts {
		return ErrMaxRestarts
	}

	if err := p.circuit.Allow(); err != nil {
		return fmt.Errorf("%s: %w", p.config.Language, err)
	}

	path, err := exec.LookPath(p.config.Command)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLSPNotInstalled, p.config.Command)
	}

	p.state.Store(StateStarting)
	p.rootPath = rootPath

	// The server outlives the request that started it.
	p.cmd = exec.Command(path, p.config.Args...)
	p.cmd.Dir = rootPath
	p.cmd.Env = os.Environ()
	p.cmd.Stderr = os.Stderr

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return p.failLocked(fmt.Errorf("failed to get stdin pipe: %w", err))
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return p.failLocked(fmt.Errorf("failed to get stdout pipe: %w", err))
	}

	if err := p.cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return p.failLocked(fmt.Errorf("failed to start %s: %w", p.config.Command, err))
	}

	p.startedAt = time.Now()
	p.client = NewClient(context.Background(), stdin, stdout, ClientConfig{
		Language:       p.config.Language,
		InitTimeout:    p.config.InitTimeout,
		RequestTimeout: p.config.RequestTimeout,
	})

	if err := p.client.Initialize(ctx, PathToURI(rootPath)); err != nil {
		p.killLocked()
		p.restartCount++
		return p.failLocked(fmt.Errorf("failed to initialize %s: %w", p.config.Language, err))
	}

	p.state.Store(StateReady)
	p.circuit.RecordSuccess()
	return nil
}

func (p *Process) failLocked(err error) error {
	p.state.Store(StateError)
	p.lastError = err
	p.circuit.RecordFailure()
	return err
}

func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.getState() == StateStopped {
		return nil
	}

	var err error
	if p.client != nil && p.client.IsReady() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.client.Shutdown(shutdownCtx)
		cancel()
		p.client.Close()
	}

	if p.cmd != nil && p.cmd.Process != nil {
		done := make(chan error, 1)
		go func() {
			done <- p.cmd.Wait()
		}()

		select {
		case <-done:
		case <-time.After(3 * time.Second):
			p.cmd.Process.Kill()
			<-done
		}
	}

	p.state.Store(StateStopped)
	p.client = nil
	p.cmd = nil
	return err
}

func (p *Process) killLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
	if p.client != nil {
		p.client.Close()
	}
	p.cmd = nil
	p.client = nil
}

func (p *Process) Client() *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *Process) State() LSPState {
	return p.getState()
}

func (p *Process) getState() LSPState {
	return p.state.Load().(LSPState)
}

func (p *Process) Stats() LSPStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := LSPStats{
		Language: p.config.Language,
		State:    p.getState(),
	}

	if p.client != nil {
		clientStats := p.client.Stats()
		stats.RequestCount = clientStats.RequestCount
		stats.ErrorCount = clientStats.ErrorCount
		stats.LastRequest = clientStats.LastRequest
	}

	if !p.startedAt.IsZero() {
		stats.StartedAt = p.startedAt
		if p.getState() == StateReady {
			stats.Uptime = time.Since(p.startedAt)
		}
	}

	if p.lastError != nil {
		stats.LastErrorMsg = p.lastError.Error()
	}

	return stats
}

func (p *Process) CircuitState() CircuitState {
	return p.circuit.State()
}

func (p *Process) IsInstalled() bool {
	_, err := exec.LookPath(p.config.Command)
	return err == nil
}
