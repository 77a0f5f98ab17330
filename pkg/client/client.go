// Package client provides an HTTP client for the Sentinel server API,
// used by the CLI and by external integrations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// Client is the Sentinel API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New creates a new Sentinel API client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apiKey: cfg.APIKey,
	}
}

// SetAPIKey sets the API key used on subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

// request makes an HTTP request to the API.
func (c *Client) request(ctx context.Context, method, path string, body, result any) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func paginated(path string, limit, offset int) string {
	return fmt.Sprintf("%s?limit=%d&offset=%d", path, limit, offset)
}

// Policy API

// PolicyListResponse wraps a policy listing.
type PolicyListResponse struct {
	Policies []models.Policy `json:"policies"`
	Count    int             `json:"count"`
}

// CreatePolicy creates a new policy.
func (c *Client) CreatePolicy(ctx context.Context, p *models.Policy) (*models.Policy, error) {
	var result models.Policy
	if err := c.request(ctx, http.MethodPost, "/api/v1/policies", p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPolicy retrieves a policy by ID.
func (c *Client) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	var result models.Policy
	if err := c.request(ctx, http.MethodGet, "/api/v1/policies/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPolicies lists policies in priority order.
func (c *Client) ListPolicies(ctx context.Context, limit, offset int) ([]models.Policy, error) {
	var result PolicyListResponse
	if err := c.request(ctx, http.MethodGet, paginated("/api/v1/policies", limit, offset), nil, &result); err != nil {
		return nil, err
	}
	return result.Policies, nil
}

// UpdatePolicy replaces a policy.
func (c *Client) UpdatePolicy(ctx context.Context, p *models.Policy) (*models.Policy, error) {
	var result models.Policy
	if err := c.request(ctx, http.MethodPut, "/api/v1/policies/"+p.ID, p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePolicy deletes a policy.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/policies/"+id, nil, nil)
}

// Agent API

// AgentListResponse wraps an agent listing.
type AgentListResponse struct {
	Agents []models.Agent `json:"agents"`
	Count  int            `json:"count"`
}

// GetAgent retrieves an agent by ID.
func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var result models.Agent
	if err := c.request(ctx, http.MethodGet, "/api/v1/agents/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAgents lists registered agents.
func (c *Client) ListAgents(ctx context.Context, limit, offset int) ([]models.Agent, error) {
	var result AgentListResponse
	if err := c.request(ctx, http.MethodGet, paginated("/api/v1/agents", limit, offset), nil, &result); err != nil {
		return nil, err
	}
	return result.Agents, nil
}

// RemoveAgent unregisters an agent.
func (c *Client) RemoveAgent(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/agents/"+id, nil, nil)
}

// Event API

// EventListResponse wraps an event listing.
type EventListResponse struct {
	Events []models.Event `json:"events"`
	Count  int            `json:"count"`
}

// GetEvent retrieves an event by ID.
func (c *Client) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var result models.Event
	if err := c.request(ctx, http.MethodGet, "/api/v1/events/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListEvents lists recent events, optionally filtered by agent.
func (c *Client) ListEvents(ctx context.Context, agentID string, limit, offset int) ([]models.Event, error) {
	path := paginated("/api/v1/events", limit, offset)
	if agentID != "" {
		path += "&agent_id=" + url.QueryEscape(agentID)
	}
	var result EventListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Alert API

// AlertListResponse wraps an alert listing.
type AlertListResponse struct {
	Alerts []models.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

// ListAlerts lists alerts, optionally filtered by status.
func (c *Client) ListAlerts(ctx context.Context, status string, limit, offset int) ([]models.Alert, error) {
	path := paginated("/api/v1/alerts", limit, offset)
	if status != "" {
		path += "&status=" + url.QueryEscape(status)
	}
	var result AlertListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Alerts, nil
}

// GetAlert retrieves an alert by ID.
func (c *Client) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var result models.Alert
	if err := c.request(ctx, http.MethodGet, "/api/v1/alerts/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateAlertStatus transitions an alert to a new status.
func (c *Client) UpdateAlertStatus(ctx context.Context, id, status string) error {
	body := map[string]string{"status": status}
	return c.request(ctx, http.MethodPut, "/api/v1/alerts/"+id+"/status", body, nil)
}

// Health checks

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health checks API health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.request(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
