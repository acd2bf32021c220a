package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Prober checks a worker's liveness endpoint.
type Prober interface {
	Probe(ctx context.Context, port int, path string) error
}

// HTTPProber probes http://127.0.0.1:<port><path> and expects a 2xx status.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober whose requests never outlive timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

// Probe performs one bounded liveness request.
func (p *HTTPProber) Probe(ctx context.Context, port int, path string) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// WaitReady polls the liveness endpoint until it succeeds or timeout elapses.
func WaitReady(ctx context.Context, p Prober, port int, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = p.Probe(ctx, port, path); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not ready after %s: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}
