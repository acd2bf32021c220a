// Package dispatch executes domain tasks against the worker fleet.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/scheduler"
)

var (
	// ErrNoWorker is returned for a domain with no worker and no fallback.
	ErrNoWorker = errors.New("domain has no worker")
	// ErrWorkerUnavailable is returned when the worker is not a live fleet member.
	ErrWorkerUnavailable = errors.New("worker unavailable")
)

// DefaultRunPath is the worker endpoint that executes a domain task.
const DefaultRunPath = "/run"

// maxBody caps how much of a worker response is read.
const maxBody = 4 << 20

// Resolver looks up the launch configuration of a live fleet process.
type Resolver interface {
	LaunchConfig(id string) (models.LaunchConfig, bool)
}

// WorkRequest is the body POSTed to a worker.
type WorkRequest struct {
	Domain   string                       `json:"domain"`
	Request  string                       `json:"request"`
	Upstream map[string]models.TaskResult `json:"upstream,omitempty"`
}

// HTTPExecutor runs a task by POSTing it to the worker process serving the
// domain on the loopback interface.
type HTTPExecutor struct {
	resolver Resolver
	client   *http.Client
	path     string
	fallback scheduler.Executor
}

// NewHTTPExecutor creates an executor. Tasks whose domain names no worker are
// handed to fallback.
func NewHTTPExecutor(resolver Resolver, timeout time.Duration, fallback scheduler.Executor) *HTTPExecutor {
	return &HTTPExecutor{
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
		path:     DefaultRunPath,
		fallback: fallback,
	}
}

// Execute implements scheduler.Executor.
func (e *HTTPExecutor) Execute(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
	if task.Worker == "" {
		if e.fallback == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoWorker, task.Name)
		}
		return e.fallback.Execute(ctx, task, request, upstream)
	}

	lc, ok := e.resolver.LaunchConfig(task.Worker)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerUnavailable, task.Worker)
	}
	if lc.Port <= 0 {
		return nil, fmt.Errorf("%w: %s declares no port", ErrWorkerUnavailable, task.Worker)
	}

	payload, err := json.Marshal(WorkRequest{Domain: task.Name, Request: request, Upstream: upstream})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d%s", lc.Port, e.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", task.Worker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("worker %s: read response: %w", task.Worker, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worker %s: status %d: %s", task.Worker, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage(`null`), nil
	}
	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		return quoted, nil
	}
	return body, nil
}
