package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	pid  int
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	terminated int
	killed     int
	ignoreTerm bool
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) exit() { h.once.Do(func() { close(h.done) }) }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	h.terminated++
	ignore := h.ignoreTerm
	h.mu.Unlock()
	if !ignore {
		h.exit()
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed++
	h.mu.Unlock()
	h.exit()
	return nil
}

type startCall struct {
	id string
	lc models.LaunchConfig
}

type fakeStarter struct {
	mu      sync.Mutex
	nextPID int
	failFor map[string]error
	calls   []startCall
	handles map[string]*fakeHandle
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{nextPID: 1000, failFor: make(map[string]error), handles: make(map[string]*fakeHandle)}
}

func (f *fakeStarter) Start(ctx context.Context, id string, lc models.LaunchConfig) (connectors.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startCall{id: id, lc: lc})
	if err := f.failFor[id]; err != nil {
		return nil, err
	}
	f.nextPID++
	h := newFakeHandle(f.nextPID)
	f.handles[id] = h
	return h, nil
}

func (f *fakeStarter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProber struct {
	mu    sync.Mutex
	calls int
	err   map[int]error
}

func (p *fakeProber) Probe(ctx context.Context, port int, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err[port]
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *fakeRecorder) RecordProcessEvent(processID, event, detail string) (*models.ProcessEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, processID+":"+event)
	return &models.ProcessEvent{ProcessID: processID, Event: event}, nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		HealthPath:   "/health",
		ProbeTimeout: time.Second,
		MaxAttempts:  3,
		GracePeriod:  time.Second,
		SnapshotPath: filepath.Join(t.TempDir(), "processes.json"),
	}
}

func newTestSupervisor(t *testing.T, cfg *Config, opts ...Option) (*Supervisor, *fakeStarter, *fakeProber) {
	t.Helper()
	starter := newFakeStarter()
	prober := &fakeProber{err: make(map[int]error)}
	opts = append([]Option{WithProber(prober)}, opts...)
	return New(cfg, starter, opts...), starter, prober
}

func workerConfig(port int) models.LaunchConfig {
	return models.LaunchConfig{
		Mode:    models.LaunchSubprocess,
		Command: "python3",
		Args:    []string{"-m", "workers.market"},
		Dir:     "/srv/workers",
		Env:     map[string]string{"LOG_LEVEL": "info"},
		Port:    port,
	}
}

func TestRegisterPersistsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	s, _, _ := newTestSupervisor(t, cfg)

	require.NoError(t, s.Register("analyst", models.KindSpecialist, newFakeHandle(10), workerConfig(8101)))
	require.NoError(t, s.Register("fetcher", models.KindLeaf, newFakeHandle(11), workerConfig(0)))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 10, snap["analyst"].PID)
	assert.Equal(t, models.KindLeaf, snap["fetcher"].Kind)

	onDisk, err := ReadSnapshot(cfg.SnapshotPath)
	require.NoError(t, err)
	assert.Len(t, onDisk, 2)
	assert.True(t, onDisk["analyst"].LaunchConfig.Equal(workerConfig(8101)))
}

func TestRegister_Rejects(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testConfig(t))

	assert.Error(t, s.Register("", models.KindLeaf, newFakeHandle(1), workerConfig(0)))
	assert.Error(t, s.Register("a", models.KindLeaf, nil, workerConfig(0)))

	require.NoError(t, s.Register("a", models.KindLeaf, newFakeHandle(1), workerConfig(0)))
	assert.Error(t, s.Register("a", models.KindLeaf, newFakeHandle(2), workerConfig(0)))
}

func TestSnapshotExcludesExited(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testConfig(t))

	live := newFakeHandle(10)
	dead := newFakeHandle(11)
	require.NoError(t, s.Register("live", models.KindLeaf, live, workerConfig(0)))
	require.NoError(t, s.Register("dead", models.KindLeaf, dead, workerConfig(0)))
	dead.exit()

	snap := s.Snapshot()
	assert.Contains(t, snap, "live")
	assert.NotContains(t, snap, "dead")
}

func TestCheckOnce_ExitedIsUnhealthy(t *testing.T) {
	for _, port := range []int{0, 8101} {
		cfg := testConfig(t)
		s, starter, _ := newTestSupervisor(t, cfg)

		h := newFakeHandle(10)
		require.NoError(t, s.Register("w", models.KindSpecialist, h, workerConfig(port)))
		h.exit()

		s.CheckOnce(context.Background())

		assert.Equal(t, 1, starter.callCount(), "exited process with port=%d must be restarted", port)
		snap := s.Snapshot()
		require.Contains(t, snap, "w")
		assert.NotEqual(t, 10, snap["w"].PID)
	}
}

func TestCheckOnce_Probe(t *testing.T) {
	s, starter, prober := newTestSupervisor(t, testConfig(t))

	require.NoError(t, s.Register("ok", models.KindSpecialist, newFakeHandle(10), workerConfig(8101)))
	require.NoError(t, s.Register("sick", models.KindSpecialist, newFakeHandle(11), workerConfig(8102)))
	require.NoError(t, s.Register("portless", models.KindLeaf, newFakeHandle(12), workerConfig(0)))
	prober.err[8102] = errors.New("connection refused")

	s.CheckOnce(context.Background())

	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, "sick", starter.calls[0].id)
	assert.Equal(t, 2, prober.calls, "processes without a port are never probed")
}

func TestRestart_PreservesLaunchConfig(t *testing.T) {
	s, starter, _ := newTestSupervisor(t, testConfig(t))
	lc := workerConfig(8101)

	old := newFakeHandle(10)
	require.NoError(t, s.Register("analyst", models.KindSpecialist, old, lc))

	require.NoError(t, s.Restart(context.Background(), "analyst"))

	assert.True(t, old.Exited(), "remnant is terminated")
	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, "analyst", starter.calls[0].id)
	assert.True(t, starter.calls[0].lc.Equal(lc))

	got, ok := s.LaunchConfig("analyst")
	require.True(t, ok)
	assert.True(t, got.Equal(lc))

	snap := s.Snapshot()
	require.Contains(t, snap, "analyst")
	assert.True(t, snap["analyst"].LaunchConfig.Equal(lc))
	assert.Equal(t, starter.handles["analyst"].PID(), snap["analyst"].PID)
}

func TestRestart_Unknown(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testConfig(t))

	err := s.Restart(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrUnknownProcess))
}

func TestCheckOnce_FailureIsolation(t *testing.T) {
	s, starter, _ := newTestSupervisor(t, testConfig(t))
	starter.failFor["broken"] = errors.New("exec: not found")

	a := newFakeHandle(10)
	b := newFakeHandle(11)
	require.NoError(t, s.Register("broken", models.KindLeaf, a, workerConfig(0)))
	require.NoError(t, s.Register("healthy", models.KindLeaf, b, workerConfig(0)))
	a.exit()
	b.exit()

	s.CheckOnce(context.Background())

	assert.Equal(t, 2, starter.callCount())
	snap := s.Snapshot()
	assert.NotContains(t, snap, "broken")
	assert.Contains(t, snap, "healthy")
	assert.Empty(t, s.Failed(), "a single failed restart is not terminal")
}

func TestMaxAttemptsMovesToFailed(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxAttempts = 2
	rec := &fakeRecorder{}
	s, starter, _ := newTestSupervisor(t, cfg, WithEventRecorder(rec))
	starter.failFor["w"] = errors.New("crash on boot")

	h := newFakeHandle(10)
	require.NoError(t, s.Register("w", models.KindSpecialist, h, workerConfig(0)))
	h.exit()

	for i := 0; i < 3; i++ {
		s.CheckOnce(context.Background())
	}

	assert.Equal(t, 2, starter.callCount())
	assert.Equal(t, []string{"w"}, s.Failed())
	assert.Empty(t, s.Snapshot())

	err := s.Restart(context.Background(), "w")
	assert.True(t, errors.Is(err, ErrProcessFailed))

	status := s.Status()
	require.Len(t, status, 1)
	assert.Equal(t, models.ProcessFailed, status[0].State)
	assert.Equal(t, "crash on boot", status[0].LastError)

	assert.Contains(t, rec.events, "w:"+models.EventFailed)
	assert.Contains(t, rec.events, "w:"+models.EventRestartFailed)
}

func TestBackoffDefersRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = 2 * time.Hour
	s, starter, _ := newTestSupervisor(t, cfg)
	starter.failFor["w"] = errors.New("crash on boot")

	h := newFakeHandle(10)
	require.NoError(t, s.Register("w", models.KindLeaf, h, workerConfig(0)))
	h.exit()

	s.CheckOnce(context.Background())
	s.CheckOnce(context.Background())

	assert.Equal(t, 1, starter.callCount(), "second cycle falls inside the backoff window")
}

func TestHealthyObservationResetsAttempts(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testConfig(t))

	h := newFakeHandle(10)
	require.NoError(t, s.Register("w", models.KindLeaf, h, workerConfig(0)))
	h.exit()

	s.CheckOnce(context.Background())
	require.Equal(t, 1, s.Status()[0].Attempts)

	s.CheckOnce(context.Background())
	assert.Equal(t, 0, s.Status()[0].Attempts)
}

func TestHealthyObservationClearsBackoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = 2 * time.Hour
	s, starter, _ := newTestSupervisor(t, cfg)

	h := newFakeHandle(10)
	require.NoError(t, s.Register("w", models.KindLeaf, h, workerConfig(0)))
	h.exit()

	s.CheckOnce(context.Background())
	require.Equal(t, 1, starter.callCount())

	// Healthy cycle, then the relaunched process dies.
	s.CheckOnce(context.Background())
	starter.mu.Lock()
	relaunched := starter.handles["w"]
	starter.mu.Unlock()
	relaunched.exit()

	s.CheckOnce(context.Background())
	assert.Equal(t, 2, starter.callCount(), "a fresh failure is restarted without waiting out the old backoff")
}

func TestRegister_RevivesFailed(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxAttempts = 1
	s, starter, _ := newTestSupervisor(t, cfg)
	starter.failFor["w"] = errors.New("boom")

	h := newFakeHandle(10)
	require.NoError(t, s.Register("w", models.KindLeaf, h, workerConfig(0)))
	h.exit()
	s.CheckOnce(context.Background())
	s.CheckOnce(context.Background())
	require.Equal(t, []string{"w"}, s.Failed())

	require.NoError(t, s.Register("w", models.KindLeaf, newFakeHandle(20), workerConfig(0)))
	assert.Empty(t, s.Failed())
	assert.Contains(t, s.Snapshot(), "w")
}

func TestShutdownAll_ClearsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	rec := &fakeRecorder{}
	s, _, _ := newTestSupervisor(t, cfg, WithEventRecorder(rec))

	a := newFakeHandle(10)
	b := newFakeHandle(11)
	require.NoError(t, s.Register("a", models.KindCoordinator, a, workerConfig(0)))
	require.NoError(t, s.Register("b", models.KindLeaf, b, workerConfig(0)))
	require.NoError(t, s.Restart(context.Background(), "b"))
	_, err := os.Stat(cfg.SnapshotPath)
	require.NoError(t, err)

	s.ShutdownAll()

	assert.Empty(t, s.Snapshot())
	_, err = os.Stat(cfg.SnapshotPath)
	assert.True(t, os.IsNotExist(err), "snapshot file is removed on shutdown")
	assert.True(t, a.Exited())
	assert.Contains(t, rec.events, "a:"+models.EventTerminated)
	assert.Contains(t, rec.events, "b:"+models.EventTerminated)
}

func TestShutdownAll_KillsSurvivors(t *testing.T) {
	cfg := testConfig(t)
	cfg.GracePeriod = 50 * time.Millisecond
	s, _, _ := newTestSupervisor(t, cfg)

	stubborn := newFakeHandle(10)
	stubborn.ignoreTerm = true
	require.NoError(t, s.Register("stubborn", models.KindLeaf, stubborn, workerConfig(0)))

	s.ShutdownAll()

	assert.Equal(t, 1, stubborn.terminated)
	assert.Equal(t, 1, stubborn.killed)
	assert.True(t, stubborn.Exited())
	assert.Empty(t, s.Snapshot())
}

func TestShutdownAll_Idempotent(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testConfig(t))
	require.NoError(t, s.Register("a", models.KindLeaf, newFakeHandle(10), workerConfig(0)))

	s.ShutdownAll()
	s.ShutdownAll()
	assert.Empty(t, s.Snapshot())
}

func TestRunHealthLoop_StopsOnCancel(t *testing.T) {
	s, starter, _ := newTestSupervisor(t, testConfig(t))
	h := newFakeHandle(10)
	require.NoError(t, s.Register("w", models.KindLeaf, h, workerConfig(0)))
	h.exit()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunHealthLoop(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return starter.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health loop did not stop after cancel")
	}
}
