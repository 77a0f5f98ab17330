// Package agent implements the endpoint agent: registration, heartbeats,
// policy sync, monitoring supervision, and event submission.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client talks to the Sentinel server's agent API.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a server API client.
func NewClient(serverURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Registration is the payload sent when the agent registers.
type Registration struct {
	AgentID      string          `json:"agent_id,omitempty"`
	Name         string          `json:"name"`
	Hostname     string          `json:"hostname"`
	OS           string          `json:"os"`
	OSVersion    string          `json:"os_version"`
	IPAddress    string          `json:"ip_address"`
	Version      string          `json:"version"`
	Capabilities map[string]bool `json:"capabilities"`
}

// Register registers the agent and returns the server's view of it.
func (c *Client) Register(ctx context.Context, reg *Registration) (*models.Agent, error) {
	var agent models.Agent
	err := retry.Do(func() error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/agents", reg, &agent)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	return &agent, nil
}

// Unregister removes the agent's registration. Best effort on shutdown.
func (c *Client) Unregister(ctx context.Context, agentID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/agents/"+agentID, nil, nil)
}

// Heartbeat reports liveness and last sync state.
func (c *Client) Heartbeat(ctx context.Context, agentID string, hb *models.Heartbeat) error {
	return c.doJSON(ctx, http.MethodPut, "/api/v1/agents/"+agentID+"/heartbeat", hb, nil)
}

// SyncPolicies asks the server for the agent's policy bundle.
func (c *Client) SyncPolicies(ctx context.Context, agentID string, req *models.SyncRequest) (*models.SyncResponse, error) {
	var resp models.SyncResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/agents/"+agentID+"/policies/sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitEvents ships a batch of detection events to the server.
func (c *Client) SubmitEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	return retry.Do(func() error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/events", events, nil)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
}

// doJSON performs one JSON request. Non-2xx responses become ServerError so
// callers can distinguish server rejections from transport failures.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &errors.ServerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// LocalIP finds the interface address used to reach the server. The UDP
// dial never sends packets; it only resolves the route.
func LocalIP(serverURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(serverURL, "https://"), "http://")
	if i := strings.IndexAny(host, "/"); i >= 0 {
		host = host[:i]
	}
	if !strings.Contains(host, ":") {
		host += ":80"
	}

	conn, err := net.Dial("udp", host)
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
