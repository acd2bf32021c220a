// Package localexec provides the subprocess launch strategy with an executable allowlist.
package localexec

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
)

// LocalExec implements connectors.Launcher by starting OS processes.
type LocalExec struct {
	allowed map[string]bool
	logDir  string
}

// New creates a new LocalExec launcher. An empty allowlist permits any executable.
// When logDir is set, each worker's output is appended to <logDir>/<id>.log.
func New(allowed []string, logDir string) *LocalExec {
	l := &LocalExec{allowed: make(map[string]bool), logDir: logDir}
	for _, a := range allowed {
		l.allowed[a] = true
	}
	return l
}

// Name returns the strategy identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if the executable is in the allowlist.
func (l *LocalExec) IsAllowed(lc models.LaunchConfig) bool {
	if lc.Command == "" {
		return false
	}
	if len(l.allowed) == 0 {
		return true
	}
	return l.allowed[lc.Command] || l.allowed[filepath.Base(lc.Command)]
}

// Start launches the worker in its own process group. The process is not tied to
// ctx; it lives until terminated through its handle.
func (l *LocalExec) Start(ctx context.Context, id string, lc models.LaunchConfig) (connectors.Handle, error) {
	if !l.IsAllowed(lc) {
		return nil, fmt.Errorf("%w: %s", connectors.ErrNotAllowed, lc.Command)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(lc.Command, lc.Args...)
	if lc.Dir != "" {
		cmd.Dir = lc.Dir
	}

	env := os.Environ()
	env = append(env, "WORKER_ID="+id)
	if lc.Port > 0 {
		env = append(env, "WORKER_PORT="+strconv.Itoa(lc.Port))
	}
	for k, v := range lc.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	out, err := l.output(id)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = out
	cmd.Stderr = out
	configureProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		closeOutput(out)
		return nil, fmt.Errorf("start process: %w", err)
	}

	log.Printf("Launched process %s: pid=%d cmd=%s", id, cmd.Process.Pid, lc.Command)

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait(out)
	return h, nil
}

func (l *LocalExec) output(id string) (io.Writer, error) {
	if l.logDir == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.logDir, id+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	return f, nil
}

func closeOutput(w io.Writer) {
	if f, ok := w.(*os.File); ok && f != os.Stderr && f != os.Stdout {
		f.Close()
	}
}

// processHandle owns an exec.Cmd until it exits.
type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

func (h *processHandle) wait(out io.Writer) {
	err := h.cmd.Wait()
	closeOutput(out)
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

func (h *processHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *processHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the wait error once the process has exited.
func (h *processHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *processHandle) Terminate() error {
	if h.Exited() {
		return nil
	}
	return terminateGroup(h.cmd)
}

func (h *processHandle) Kill() error {
	if h.Exited() {
		return nil
	}
	return killGroup(h.cmd)
}
