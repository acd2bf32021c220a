// Package launcher brings up the layered worker fleet and hands it to the supervisor.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/supervisor"
)

// Config controls layered start-up.
type Config struct {
	// Stagger is the minimum delay between two launches.
	Stagger time.Duration
	// SettleDelay is how long a new process must stay up to count as launched.
	SettleDelay time.Duration
	// ReadyTimeout bounds the readiness probe of a worker that declares a port.
	ReadyTimeout   time.Duration
	MinSpecialists int
	HealthInterval time.Duration
	HealthPath     string
	ProbeTimeout   time.Duration
}

// DefaultConfig returns the default launcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Stagger:        500 * time.Millisecond,
		SettleDelay:    250 * time.Millisecond,
		ReadyTimeout:   10 * time.Second,
		MinSpecialists: 2,
		HealthInterval: 10 * time.Second,
		HealthPath:     "/health",
		ProbeTimeout:   2 * time.Second,
	}
}

// Environment holds the preconditions checked before anything starts.
type Environment struct {
	// Values maps each required name to its resolved value.
	Values map[string]string
	// Dirs must exist and be directories.
	Dirs []string
}

// Supervisor is the subset of the process supervisor the launcher drives.
type Supervisor interface {
	Register(id string, kind models.Kind, h connectors.Handle, lc models.LaunchConfig) error
	RunHealthLoop(ctx context.Context, interval time.Duration)
	ShutdownAll()
}

// Launcher starts the fleet in coordinator, specialist, leaf order.
type Launcher struct {
	config    *Config
	fleet     []models.ProcessSpec
	env       Environment
	starter   connectors.Starter
	sup       Supervisor
	prober    supervisor.Prober
	reclaimer PortReclaimer
	limiter   *rate.Limiter
	onState   func(State)

	mu      sync.Mutex
	state   State
	started int
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithProber replaces the readiness prober.
func WithProber(p supervisor.Prober) Option {
	return func(l *Launcher) {
		l.prober = p
	}
}

// WithPortReclaimer replaces the lsof-based port reclaimer.
func WithPortReclaimer(r PortReclaimer) Option {
	return func(l *Launcher) {
		l.reclaimer = r
	}
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(l *Launcher) {
		l.onState = fn
	}
}

// New creates a launcher for fleet.
func New(cfg *Config, fleet []models.ProcessSpec, env Environment, starter connectors.Starter, sup Supervisor, opts ...Option) *Launcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	limit := rate.Inf
	if cfg.Stagger > 0 {
		limit = rate.Every(cfg.Stagger)
	}
	l := &Launcher{
		config:  cfg,
		fleet:   fleet,
		env:     env,
		starter: starter,
		sup:     sup,
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.prober == nil {
		l.prober = supervisor.NewHTTPProber(cfg.ProbeTimeout)
	}
	if l.reclaimer == nil {
		l.reclaimer = NewLsofReclaimer(cfg.ProbeTimeout)
	}
	return l
}

// State returns the current lifecycle phase.
func (l *Launcher) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Launcher) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()

	if prev != s {
		log.Printf("Launcher state: %s -> %s", prev, s)
	}
	if l.onState != nil {
		l.onState(s)
	}
}

// ValidateEnvironment fails with an *EnvError if any required value is empty,
// any required directory is missing, or the fleet declares no coordinator.
func (l *Launcher) ValidateEnvironment() error {
	envErr := &EnvError{}

	names := make([]string, 0, len(l.env.Values))
	for name := range l.env.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if l.env.Values[name] == "" {
			envErr.MissingValues = append(envErr.MissingValues, name)
		}
	}

	for _, dir := range l.env.Dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			envErr.MissingDirs = append(envErr.MissingDirs, dir)
		}
	}

	if len(l.layer(models.KindCoordinator)) == 0 {
		envErr.Problems = append(envErr.Problems, "fleet declares no coordinator")
	}
	if n := len(l.layer(models.KindSpecialist)); n < l.config.MinSpecialists {
		envErr.Problems = append(envErr.Problems, fmt.Sprintf("fleet declares %d specialist(s), need %d", n, l.config.MinSpecialists))
	}

	if envErr.empty() {
		return nil
	}
	return envErr
}

// ReclaimPorts terminates stale holders of the given ports. A host without
// the introspection tool is skipped with a warning. Returns the number of
// processes signalled.
func (l *Launcher) ReclaimPorts(ctx context.Context, ports []int) int {
	reclaimed := 0
	for _, port := range ports {
		pids, err := l.reclaimer.Reclaim(ctx, port)
		if errors.Is(err, ErrToolUnavailable) {
			log.Printf("Warning: skipping port reclamation: %v", err)
			return reclaimed
		}
		if err != nil {
			log.Printf("Warning: reclaim port %d: %v", port, err)
			continue
		}
		for _, pid := range pids {
			log.Printf("Reclaimed port %d from stale pid %d", port, pid)
		}
		reclaimed += len(pids)
	}
	return reclaimed
}

// StartLayer launches every process of kind, staggered, and registers the
// ones that pass the post-launch check. A failed launch never stops the
// remaining launches. Returns the number registered.
func (l *Launcher) StartLayer(ctx context.Context, kind models.Kind) int {
	specs := l.layer(kind)
	policy := layerPolicies[kind]
	started := 0

	for _, spec := range specs {
		if err := l.limiter.Wait(ctx); err != nil {
			log.Printf("Layer %s interrupted: %v", kind, err)
			break
		}

		h, err := l.starter.Start(ctx, spec.ID, spec.Launch)
		if err != nil {
			log.Printf("Launch of %s failed: %v", spec.ID, err)
			continue
		}
		if err := l.verify(ctx, spec, h, policy); err != nil {
			log.Printf("Launch of %s failed: %v", spec.ID, err)
			h.Kill()
			continue
		}
		if err := l.sup.Register(spec.ID, spec.Kind, h, spec.Launch); err != nil {
			log.Printf("Launch of %s failed: %v", spec.ID, err)
			h.Kill()
			continue
		}
		started++
	}

	l.mu.Lock()
	l.started += started
	l.mu.Unlock()

	log.Printf("Layer %s started: %d/%d", kind, started, len(specs))
	return started
}

// verify checks that a fresh process did not exit immediately and, when it
// declares a port, that it answers within the ready timeout.
func (l *Launcher) verify(ctx context.Context, spec models.ProcessSpec, h connectors.Handle, policy layerPolicy) error {
	settle := time.NewTimer(l.config.SettleDelay)
	defer settle.Stop()
	select {
	case <-h.Done():
		return fmt.Errorf("exited immediately")
	case <-ctx.Done():
		return ctx.Err()
	case <-settle.C:
	}
	if h.Exited() {
		return fmt.Errorf("exited immediately")
	}

	if spec.Launch.Port <= 0 {
		return nil
	}

	path := spec.Launch.HealthPath
	if path == "" {
		path = l.config.HealthPath
	}
	err := supervisor.WaitReady(ctx, l.prober, spec.Launch.Port, path, l.config.ReadyTimeout)
	if err == nil {
		return nil
	}
	if policy.readiness == ReadinessRequired {
		return err
	}
	log.Printf("Warning: %s started but is not ready yet: %v", spec.ID, err)
	return nil
}

// StartAll validates, reclaims ports and starts the three layers in order.
// It fails if no coordinator or fewer than MinSpecialists specialists
// started. It never tears down what did start. Only validation and
// coordinator failures end in STOPPED; a later failure leaves the state at
// STARTING_LEAVES for Run to shut down.
func (l *Launcher) StartAll(ctx context.Context) error {
	l.setState(StateValidating)
	if err := l.ValidateEnvironment(); err != nil {
		l.setState(StateStopped)
		return err
	}

	l.setState(StateReclaimingPorts)
	l.ReclaimPorts(ctx, l.ports())

	l.setState(StateStartingCoordinator)
	if n := l.StartLayer(ctx, models.KindCoordinator); n == 0 {
		l.setState(StateStopped)
		return fmt.Errorf("%w: no coordinator started", ErrNotViable)
	}

	l.setState(StateStartingSpecialists)
	specialists := l.StartLayer(ctx, models.KindSpecialist)

	l.setState(StateStartingLeaves)
	l.StartLayer(ctx, models.KindLeaf)

	// The coordinator is up, so Run owns the move to STOPPED.
	if specialists < l.config.MinSpecialists {
		return fmt.Errorf("%w: %d specialist(s) started, need %d", ErrNotViable, specialists, l.config.MinSpecialists)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.setState(StateOperational)
	return nil
}

// Run starts the fleet and supervises it until ctx is cancelled. The fleet is
// shut down exactly once, including after a partial start.
func (l *Launcher) Run(ctx context.Context) error {
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			l.setState(StateShuttingDown)
			l.sup.ShutdownAll()
			l.setState(StateStopped)
		})
	}

	if err := l.StartAll(ctx); err != nil {
		l.mu.Lock()
		partial := l.started > 0
		l.mu.Unlock()
		if partial {
			log.Printf("Start-up failed, stopping partial fleet: %v", err)
			shutdown()
		}
		return err
	}
	defer shutdown()

	log.Printf("Fleet operational: %d process(es)", l.startedCount())
	l.sup.RunHealthLoop(ctx, l.config.HealthInterval)
	return nil
}

func (l *Launcher) startedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *Launcher) layer(kind models.Kind) []models.ProcessSpec {
	var out []models.ProcessSpec
	for _, spec := range l.fleet {
		if spec.Kind == kind {
			out = append(out, spec)
		}
	}
	return out
}

func (l *Launcher) ports() []int {
	var out []int
	for _, spec := range l.fleet {
		if spec.Launch.Port > 0 {
			out = append(out, spec.Launch.Port)
		}
	}
	return out
}
