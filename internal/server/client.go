package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"polish/internal/approval"
	"polish/internal/oracle"
)

// Client talks to a running approval server from another process.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for the given base URL, e.g.
// "http://127.0.0.1:7328".
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// DecideResult is the server's answer to a posted decision.
type DecideResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Pending lists unresolved checkpoints on the server.
func (c *Client) Pending(ctx context.Context) ([]approval.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/approvals", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list approvals: server returned %s", resp.Status)
	}
	var body struct {
		Pending []approval.Request `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	return body.Pending, nil
}

// Decide posts a decision for a checkpoint. A conflict or gone response is
// returned as an unaccepted result, not an error.
func (c *Client) Decide(ctx context.Context, checkpointID string, action approval.Action, feedback string, modified []oracle.Recommendation) (*DecideResult, error) {
	payload, err := json.Marshal(map[string]any{
		"action":                   string(action),
		"feedback":                 feedback,
		"modified_recommendations": modified,
	})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v1/approvals/%s/decision", c.BaseURL, checkpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post decision: %w", err)
	}
	defer resp.Body.Close()

	var result DecideResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode decision result: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest && result.Error != "" {
		return nil, fmt.Errorf("post decision: %s", result.Error)
	}
	return &result, nil
}
