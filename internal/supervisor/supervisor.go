// Package supervisor owns the live set of worker processes: it probes their
// health, restarts unhealthy workers with bounded backoff, tears the fleet
// down and keeps a snapshot of the live set on disk.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/conductor/internal/audit"
	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
)

var (
	// ErrUnknownProcess is returned for ids the supervisor does not manage.
	ErrUnknownProcess = errors.New("unknown process")
	// ErrProcessFailed is returned once a process exhausted its restart attempts.
	ErrProcessFailed = errors.New("process failed")
)

// Config controls health probing, restarts and shutdown.
type Config struct {
	HealthPath   string
	ProbeTimeout time.Duration
	Cooldown     time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	GracePeriod  time.Duration
	SnapshotPath string
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() *Config {
	return &Config{
		HealthPath:   "/health",
		ProbeTimeout: 2 * time.Second,
		Cooldown:     time.Second,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
		GracePeriod:  5 * time.Second,
	}
}

// EventRecorder persists process lifecycle events.
type EventRecorder interface {
	RecordProcessEvent(processID, event, detail string) (*models.ProcessEvent, error)
}

// ProcessStatus is a read-only view of one managed or failed process.
type ProcessStatus struct {
	ID        string              `json:"id"`
	Kind      models.Kind         `json:"kind"`
	PID       int                 `json:"pid,omitempty"`
	Port      int                 `json:"port,omitempty"`
	State     models.ProcessState `json:"state"`
	Attempts  int                 `json:"attempts"`
	StartedAt time.Time           `json:"started_at,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

type managed struct {
	id        string
	kind      models.Kind
	launch    models.LaunchConfig
	handle    connectors.Handle
	startedAt time.Time
	state     models.ProcessState

	// attempts counts restarts since the last healthy observation.
	attempts    int
	nextAttempt time.Time
	lastErr     string
}

// Supervisor manages the live process table.
type Supervisor struct {
	config  *Config
	starter connectors.Starter
	prober  Prober
	events  EventRecorder
	audit   *audit.Writer
	metrics MetricsCollector

	mu     sync.Mutex
	procs  map[string]*managed
	failed map[string]*managed
	// epoch changes on every ShutdownAll so in-flight restarts can detect it.
	epoch uint64
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithProber replaces the HTTP liveness prober.
func WithProber(p Prober) Option {
	return func(s *Supervisor) {
		s.prober = p
	}
}

// WithEventRecorder persists lifecycle events.
func WithEventRecorder(r EventRecorder) Option {
	return func(s *Supervisor) {
		s.events = r
	}
}

// WithAudit records restart and give-up decisions.
func WithAudit(w *audit.Writer) Option {
	return func(s *Supervisor) {
		s.audit = w
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = mc
	}
}

// New creates a supervisor that relaunches workers through starter.
func New(cfg *Config, starter connectors.Starter, opts ...Option) *Supervisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Supervisor{
		config:  cfg,
		starter: starter,
		metrics: noopMetrics{},
		procs:   make(map[string]*managed),
		failed:  make(map[string]*managed),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = NewHTTPProber(cfg.ProbeTimeout)
	}
	return s
}

// Register adopts a freshly launched process under id. The supervisor owns h
// from now on. Registering an id that previously failed revives it.
func (s *Supervisor) Register(id string, kind models.Kind, h connectors.Handle, lc models.LaunchConfig) error {
	if id == "" {
		return fmt.Errorf("register process: empty id")
	}
	if h == nil {
		return fmt.Errorf("register process %s: nil handle", id)
	}

	s.mu.Lock()
	if existing, ok := s.procs[id]; ok && existing.handle != nil && existing.handle != h {
		s.mu.Unlock()
		return fmt.Errorf("register process %s: already registered", id)
	}
	delete(s.failed, id)
	s.procs[id] = &managed{
		id:        id,
		kind:      kind,
		launch:    lc.Clone(),
		handle:    h,
		startedAt: time.Now().UTC(),
		state:     models.ProcessRunning,
	}
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("Registered process %s: kind=%s pid=%d", id, kind, h.PID())
	s.metrics.ProcessRegistered(id, kind)
	s.recordEvent(id, models.EventRegistered, fmt.Sprintf("pid=%d", h.PID()))
	return nil
}

// RunHealthLoop checks every process on a fixed cadence until ctx is cancelled.
func (s *Supervisor) RunHealthLoop(ctx context.Context, interval time.Duration) {
	log.Printf("Health loop started: interval=%s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Health loop stopped")
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one health cycle. Unhealthy processes are restarted; a
// failure on one process never stops the cycle for the others.
func (s *Supervisor) CheckOnce(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		s.checkProcess(ctx, id)
	}

	s.mu.Lock()
	s.persistLocked()
	s.mu.Unlock()
}

func (s *Supervisor) checkProcess(ctx context.Context, id string) {
	s.mu.Lock()
	e, ok := s.procs[id]
	if !ok || e.state == models.ProcessRestarting {
		s.mu.Unlock()
		return
	}
	h, lc := e.handle, e.launch
	s.mu.Unlock()

	if h != nil {
		err := s.checkHealth(ctx, h, lc)
		if err == nil {
			s.mu.Lock()
			if e.attempts > 0 {
				log.Printf("Process %s recovered after %d restart(s)", id, e.attempts)
			}
			e.attempts = 0
			e.nextAttempt = time.Time{}
			e.lastErr = ""
			s.mu.Unlock()
			return
		}
		log.Printf("Process %s unhealthy: %v", id, err)
		s.metrics.ProcessUnhealthy(id)
		s.recordEvent(id, models.EventUnhealthy, err.Error())
	}

	s.mu.Lock()
	wait := time.Until(e.nextAttempt)
	s.mu.Unlock()
	if wait > 0 {
		log.Printf("Process %s restart deferred: backoff=%s", id, wait.Round(time.Millisecond))
		return
	}

	if err := s.Restart(ctx, id); err != nil {
		log.Printf("Restart of process %s failed: %v", id, err)
	}
}

// checkHealth returns nil when the process is alive and, if it declares a
// port, answers its liveness probe within the probe timeout.
func (s *Supervisor) checkHealth(ctx context.Context, h connectors.Handle, lc models.LaunchConfig) error {
	if h.Exited() {
		return fmt.Errorf("process exited")
	}
	if lc.Port <= 0 {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()
	return s.prober.Probe(probeCtx, lc.Port, s.healthPath(lc))
}

func (s *Supervisor) healthPath(lc models.LaunchConfig) string {
	if lc.HealthPath != "" {
		return lc.HealthPath
	}
	return s.config.HealthPath
}

// Restart terminates any remnant of the process, waits the cool-down and
// relaunches it under the same id with the stored launch config. After
// MaxAttempts consecutive restarts without a healthy observation the process
// is moved to the failed set and ErrProcessFailed is returned.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.procs[id]
	if !ok {
		_, failed := s.failed[id]
		s.mu.Unlock()
		if failed {
			return fmt.Errorf("restart %s: %w", id, ErrProcessFailed)
		}
		return fmt.Errorf("restart %s: %w", id, ErrUnknownProcess)
	}
	if e.state == models.ProcessRestarting {
		s.mu.Unlock()
		return fmt.Errorf("restart %s: already in progress", id)
	}

	e.attempts++
	if e.attempts > s.config.MaxAttempts {
		s.failLocked(e)
		lastErr := e.lastErr
		s.mu.Unlock()

		log.Printf("Process %s failed: giving up after %d restart attempts", id, s.config.MaxAttempts)
		s.metrics.ProcessFailed(id)
		s.recordEvent(id, models.EventFailed, lastErr)
		s.audit.Record("process.give_up", map[string]interface{}{"id": id, "max_attempts": s.config.MaxAttempts}, "failed", id, lastErr)
		return fmt.Errorf("restart %s: %w after %d attempts", id, ErrProcessFailed, s.config.MaxAttempts)
	}

	attempt := e.attempts
	old := e.handle
	lc := e.launch.Clone()
	epoch := s.epoch
	e.state = models.ProcessRestarting
	e.handle = nil
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("Restarting process %s: attempt=%d/%d", id, attempt, s.config.MaxAttempts)

	if old != nil {
		if err := old.Terminate(); err != nil {
			log.Printf("Terminate remnant of %s failed: %v", id, err)
		}
	}

	if err := sleepCtx(ctx, s.config.Cooldown); err != nil {
		s.abortRestart(e, old, err)
		return fmt.Errorf("restart %s: %w", id, err)
	}
	if old != nil && !old.Exited() {
		old.Kill()
	}

	h, err := s.starter.Start(ctx, id, lc)

	s.mu.Lock()
	if s.epoch != epoch || s.procs[id] != e {
		// Shut down or replaced while relaunching: the new handle is not ours to keep.
		s.mu.Unlock()
		if h != nil {
			h.Kill()
		}
		return fmt.Errorf("restart %s: superseded", id)
	}

	delay := ExponentialBackoff(attempt-1, s.config.BaseDelay, s.config.MaxDelay)
	e.nextAttempt = time.Now().Add(delay)
	e.state = models.ProcessRunning

	if err != nil {
		e.lastErr = err.Error()
		s.persistLocked()
		s.mu.Unlock()

		s.metrics.ProcessRestart(id, err)
		s.metrics.ProcessBackoff(id, delay)
		s.recordEvent(id, models.EventRestartFailed, err.Error())
		s.audit.Record("process.restart", map[string]interface{}{"id": id, "attempt": attempt, "launch": lc}, "failure", id, err.Error())
		return fmt.Errorf("relaunch %s: %w", id, err)
	}

	e.handle = h
	e.startedAt = time.Now().UTC()
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("Restarted process %s: pid=%d attempt=%d", id, h.PID(), attempt)
	s.metrics.ProcessRestart(id, nil)
	s.metrics.ProcessBackoff(id, delay)
	s.recordEvent(id, models.EventRestarted, fmt.Sprintf("pid=%d attempt=%d", h.PID(), attempt))
	s.audit.Record("process.restart", map[string]interface{}{"id": id, "attempt": attempt, "launch": lc}, "success", id, fmt.Sprintf("pid=%d", h.PID()))
	return nil
}

// abortRestart puts the entry back when the relaunch was cancelled.
func (s *Supervisor) abortRestart(e *managed, old connectors.Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procs[e.id] != e {
		return
	}
	e.state = models.ProcessRunning
	e.lastErr = err.Error()
	if old != nil && !old.Exited() {
		e.handle = old
	}
	s.persistLocked()
}

// failLocked moves e to the failed set. s.mu must be held.
func (s *Supervisor) failLocked(e *managed) {
	if e.handle != nil {
		e.handle.Kill()
		e.handle = nil
	}
	e.state = models.ProcessFailed
	delete(s.procs, e.id)
	s.failed[e.id] = e
	s.persistLocked()
}

// ShutdownAll terminates every process group, waits the grace period, kills
// survivors and clears the snapshot. Failures are logged, never returned.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	s.epoch++
	entries := make([]*managed, 0, len(s.procs))
	for _, e := range s.procs {
		entries = append(entries, e)
	}
	s.procs = make(map[string]*managed)
	s.mu.Unlock()

	var handles []connectors.Handle
	for _, e := range entries {
		if e.handle == nil {
			continue
		}
		log.Printf("Terminating process %s: pid=%d", e.id, e.handle.PID())
		if err := e.handle.Terminate(); err != nil {
			log.Printf("Terminate %s failed: %v", e.id, err)
		}
		handles = append(handles, e.handle)
	}

	allDone := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.Done()
		}
		close(allDone)
	}()

	grace := time.NewTimer(s.config.GracePeriod)
	defer grace.Stop()
	select {
	case <-allDone:
	case <-grace.C:
		for _, e := range entries {
			if e.handle == nil || e.handle.Exited() {
				continue
			}
			log.Printf("Process %s survived grace period, killing: pid=%d", e.id, e.handle.PID())
			if err := e.handle.Kill(); err != nil {
				log.Printf("Kill %s failed: %v", e.id, err)
			}
		}
	}

	for _, e := range entries {
		s.recordEvent(e.id, models.EventTerminated, "")
	}

	s.mu.Lock()
	s.persistLocked()
	s.mu.Unlock()
	log.Printf("Shutdown complete: %d process(es) stopped", len(entries))
}

// Snapshot returns the live set, excluding processes whose handle reports exit.
func (s *Supervisor) Snapshot() models.ProcessSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() models.ProcessSnapshot {
	snap := make(models.ProcessSnapshot, len(s.procs))
	for id, e := range s.procs {
		if e.handle == nil || e.handle.Exited() {
			continue
		}
		snap[id] = models.SnapshotEntry{
			PID:          e.handle.PID(),
			Kind:         e.kind,
			LaunchConfig: e.launch.Clone(),
			StartedAt:    e.startedAt,
		}
	}
	return snap
}

// persistLocked rewrites the snapshot file. s.mu must be held.
func (s *Supervisor) persistLocked() {
	snap := s.snapshotLocked()
	s.metrics.ProcessCounts(len(snap), len(s.failed))
	if err := WriteSnapshot(s.config.SnapshotPath, snap); err != nil {
		log.Printf("Error writing snapshot: %v", err)
	}
}

// Failed returns the ids of processes that exhausted their restart attempts.
func (s *Supervisor) Failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.failed))
	for id := range s.failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LaunchConfig returns the stored relaunch configuration for id.
func (s *Supervisor) LaunchConfig(id string) (models.LaunchConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.procs[id]
	if !ok {
		return models.LaunchConfig{}, false
	}
	return e.launch.Clone(), true
}

// Status lists managed and failed processes ordered by id.
func (s *Supervisor) Status() []ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProcessStatus, 0, len(s.procs)+len(s.failed))
	add := func(e *managed) {
		st := ProcessStatus{
			ID:        e.id,
			Kind:      e.kind,
			Port:      e.launch.Port,
			State:     e.state,
			Attempts:  e.attempts,
			LastError: e.lastErr,
		}
		if e.handle != nil && !e.handle.Exited() {
			st.PID = e.handle.PID()
			st.StartedAt = e.startedAt
		}
		out = append(out, st)
	}
	for _, e := range s.procs {
		add(e)
	}
	for _, e := range s.failed {
		add(e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Supervisor) recordEvent(id, event, detail string) {
	if s.events == nil {
		return
	}
	if _, err := s.events.RecordProcessEvent(id, event, detail); err != nil {
		log.Printf("Error recording %s event for %s: %v", event, id, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
