// Package connectors defines the launch strategy interface for conductor.
package connectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/fentz26/conductor/internal/models"
)

// ErrNotAllowed is returned when a launch config is rejected by a strategy.
var ErrNotAllowed = errors.New("launch not allowed")

// Handle is the exclusive OS-level handle to a running worker.
type Handle interface {
	// PID returns the OS process identifier (the conductor pid for in-process workers).
	PID() int

	// Exited reports whether the worker has already stopped.
	Exited() bool

	// Done is closed once the worker has stopped.
	Done() <-chan struct{}

	// Terminate requests a graceful stop of the worker and everything it spawned.
	Terminate() error

	// Kill stops the worker immediately.
	Kill() error
}

// Launcher starts workers for one launch mode.
type Launcher interface {
	// Name returns the strategy identifier.
	Name() string

	// Start launches a worker described by lc.
	Start(ctx context.Context, id string, lc models.LaunchConfig) (Handle, error)

	// IsAllowed checks if a launch config may be started by this strategy.
	IsAllowed(lc models.LaunchConfig) bool
}

// Strategies routes launch configs to the launcher registered for their mode.
type Strategies map[models.LaunchMode]Launcher

// Start launches lc with the strategy registered for its mode.
func (s Strategies) Start(ctx context.Context, id string, lc models.LaunchConfig) (Handle, error) {
	mode := lc.Mode
	if mode == "" {
		mode = models.LaunchSubprocess
	}
	l, ok := s[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no strategy for mode %q", ErrNotAllowed, mode)
	}
	if !l.IsAllowed(lc) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, l.Name(), lc.Command)
	}
	return l.Start(ctx, id, lc)
}

// Starter is anything that can (re)launch a worker from its launch config.
type Starter interface {
	Start(ctx context.Context, id string, lc models.LaunchConfig) (Handle, error)
}
