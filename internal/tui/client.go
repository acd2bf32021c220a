package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/supervisor"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the coordinator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Online reports whether the coordinator answers its health check.
func (c *Client) Online() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Processes fetches the supervised fleet.
func (c *Client) Processes() ([]supervisor.ProcessStatus, error) {
	var procs []supervisor.ProcessStatus
	if err := c.get("/processes", &procs); err != nil {
		return nil, err
	}
	return procs, nil
}

// ListRuns fetches the most recent runs.
func (c *Client) ListRuns(limit int) ([]models.PlanRun, error) {
	var runs []models.PlanRun
	if err := c.get(fmt.Sprintf("/runs?limit=%d", limit), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun fetches one run with its results.
func (c *Client) GetRun(id string) (*models.PlanRun, error) {
	var run models.PlanRun
	if err := c.get("/runs/"+id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitPlan submits a request. A rejected plan is returned as a run with
// status rejected, not as an error.
func (c *Client) SubmitPlan(request string) (*models.PlanRun, error) {
	data, err := json.Marshal(map[string]string{"request": request})
	if err != nil {
		return nil, err
	}

	// Plans execute synchronously, so the default timeout does not apply.
	client := &http.Client{}
	resp, err := client.Post(c.baseURL+"/plans", "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var run models.PlanRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
