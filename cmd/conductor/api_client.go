package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiGet performs a GET request to the API with timeout.
func apiGet(path string) ([]byte, error) {
	url := apiAddr + path
	resp, err := apiClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// apiPostPlan submits a request. Plans execute synchronously, so no client
// timeout applies. A rejected plan (422) still returns its body.
func apiPostPlan(request string) ([]byte, int, error) {
	jsonData, err := json.Marshal(map[string]string{"request": request})
	if err != nil {
		return nil, 0, err
	}

	resp, err := http.Post(apiAddr+"/plans", "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, resp.StatusCode, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, resp.StatusCode, nil
}
