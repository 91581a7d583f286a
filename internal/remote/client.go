package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waregrid/picksync/internal/utils"
)

// RejectionError marks a request the server understood and refused (e.g. an
// invalid state transition). Retrying it will not help.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("server rejected request: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRejection reports whether err is a server-side rejection rather than a
// transient failure.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// Client is the typed HTTP client for the remote fulfillment backend.
type Client struct {
	baseURL    string
	deviceID   string
	jwtSecret  string
	httpClient *http.Client
}

// NewClient creates a remote API client. Requests carry a short-lived device
// identity token.
func NewClient(baseURL, deviceID, jwtSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		deviceID:   deviceID,
		jwtSecret:  jwtSecret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetBaseURL switches the client to a different route (primary/fallback).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Health probes the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Dashboard fetches the full grouped snapshot set.
func (c *Client) Dashboard(ctx context.Context) (*DashboardResponse, error) {
	var out DashboardResponse
	if err := c.do(ctx, http.MethodGet, "/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Task fetches a single task snapshot.
func (c *Client) Task(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	var out TaskSnapshot
	if err := c.do(ctx, http.MethodGet, "/tasks/"+taskID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostAction sends an authoritative workflow mutation and returns the updated
// snapshot.
func (c *Client) PostAction(ctx context.Context, reqBody ActionRequest) (*TaskSnapshot, error) {
	var out TaskSnapshot
	if err := c.do(ctx, http.MethodPost, "/tasks/action", reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateChecklist replaces a task's checklist and returns the updated
// snapshot.
func (c *Client) UpdateChecklist(ctx context.Context, taskID string, reqBody ChecklistUpdateRequest) (*TaskSnapshot, error) {
	var out TaskSnapshot
	if err := c.do(ctx, http.MethodPut, "/tasks/"+taskID+"/checklist", reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncAuditLogs posts a batch of audit entries and returns per-entry results.
func (c *Client) SyncAuditLogs(ctx context.Context, batch []AuditEntryPayload) ([]AuditSyncResult, error) {
	var out []AuditSyncResult
	if err := c.do(ctx, http.MethodPost, "/audit-logs/sync", batch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends one JSON request and decodes the JSON response. 4xx responses
// become RejectionError; everything else that fails is transient.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.deviceID)

	token, err := utils.GenerateDeviceToken(c.deviceID, c.jwtSecret)
	if err != nil {
		return fmt.Errorf("failed to sign device token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		data, _ := io.ReadAll(resp.Body)
		return &RejectionError{StatusCode: resp.StatusCode, Message: string(data)}
	}
	if resp.StatusCode >= 500 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed: HTTP %d: %s", path, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
