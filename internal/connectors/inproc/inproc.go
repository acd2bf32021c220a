// Package inproc provides the in-process launch strategy for workers that are
// constructed inside the conductor binary rather than spawned.
package inproc

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
)

// Runnable is a worker body. It must return when ctx is cancelled.
type Runnable func(ctx context.Context, lc models.LaunchConfig) error

// InProc implements connectors.Launcher for registered runnables. The launch
// config Command names the runnable.
type InProc struct {
	mu        sync.RWMutex
	runnables map[string]Runnable
}

// New creates an empty in-process launcher.
func New() *InProc {
	return &InProc{runnables: make(map[string]Runnable)}
}

// Register adds a named runnable.
func (p *InProc) Register(name string, r Runnable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runnables[name] = r
}

// Name returns the strategy identifier.
func (p *InProc) Name() string {
	return "inproc"
}

// IsAllowed reports whether a runnable is registered under lc.Command.
func (p *InProc) IsAllowed(lc models.LaunchConfig) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.runnables[lc.Command]
	return ok
}

// Start runs the named runnable in a goroutine.
func (p *InProc) Start(ctx context.Context, id string, lc models.LaunchConfig) (connectors.Handle, error) {
	p.mu.RLock()
	r, ok := p.runnables[lc.Command]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no runnable %q", connectors.ErrNotAllowed, lc.Command)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if rec := recover(); rec != nil {
				h.setErr(fmt.Errorf("panic: %v", rec))
				log.Printf("In-process worker %s panicked: %v", id, rec)
			}
		}()
		if err := r(runCtx, lc); err != nil {
			h.setErr(err)
			log.Printf("In-process worker %s stopped: %v", id, err)
		}
	}()

	log.Printf("Started in-process worker %s (%s)", id, lc.Command)
	return h, nil
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (h *handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Err returns the error the runnable stopped with, if any.
func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) PID() int { return os.Getpid() }

func (h *handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Terminate() error {
	h.cancel()
	return nil
}

// Kill is the same as Terminate: a goroutine cannot be stopped forcibly.
func (h *handle) Kill() error {
	h.cancel()
	return nil
}
