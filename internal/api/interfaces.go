// Package api exposes the management and agent-facing HTTP surface.
package api

import (
	"context"
	"time"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/actions"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/rules"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// PolicyStore persists policies.
type PolicyStore interface {
	// Create persists a new policy.
	Create(ctx context.Context, p *models.Policy) error
	// Get retrieves a policy by ID.
	Get(ctx context.Context, id string) (*models.Policy, error)
	// Update updates an existing policy.
	Update(ctx context.Context, p *models.Policy) error
	// Delete removes a policy.
	Delete(ctx context.Context, id string) error
	// List returns policies ordered by priority.
	List(ctx context.Context, limit, offset int) ([]models.Policy, error)
	// EnabledPolicies returns all enabled policies.
	EnabledPolicies(ctx context.Context) ([]models.Policy, error)
}

// AgentStore persists agent registrations and their sync state.
type AgentStore interface {
	// Upsert registers an agent or refreshes an existing registration.
	Upsert(ctx context.Context, a *models.Agent) error
	// Get retrieves an agent by ID.
	Get(ctx context.Context, agentID string) (*models.Agent, error)
	// Delete unregisters an agent.
	Delete(ctx context.Context, agentID string) error
	// UpdateHeartbeat records a heartbeat.
	UpdateHeartbeat(ctx context.Context, agentID string, hb *models.Heartbeat) error
	// UpdateSyncState records a policy sync outcome.
	UpdateSyncState(ctx context.Context, agentID, version, status, syncedAt, syncErr string) error
	// List returns registered agents.
	List(ctx context.Context, limit, offset int) ([]*models.Agent, error)
}

// EventStore persists events.
type EventStore interface {
	// Create persists an event.
	Create(ctx context.Context, e *models.Event) error
	// Get retrieves an event by ID.
	Get(ctx context.Context, eventID string) (*models.Event, error)
	// ListByAgent returns recent events for one agent.
	ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Event, error)
	// ListRecent returns recent events across all agents.
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.Event, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	// CreateAlert persists an alert.
	CreateAlert(ctx context.Context, a *models.Alert) error
	// Get retrieves an alert by ID.
	Get(ctx context.Context, alertID string) (*models.Alert, error)
	// UpdateStatus transitions an alert's lifecycle status.
	UpdateStatus(ctx context.Context, alertID, status string) error
	// List returns alerts filtered by status; empty status returns all.
	List(ctx context.Context, status string, limit, offset int) ([]*models.Alert, error)
}

// Matcher evaluates an event against the enabled policy set.
type Matcher interface {
	// Evaluate returns the policies that matched the event.
	Evaluate(ctx context.Context, event *models.Event) ([]rules.Match, error)
	// Invalidate drops the cached policy set.
	Invalidate()
}

// ActionRunner executes the actions a matched policy prescribes.
type ActionRunner interface {
	// Execute runs the prepared actions against the event.
	Execute(ctx context.Context, event *models.Event, prepared []rules.Action, policyID, ruleID string) actions.ExecutionSummary
}

// ContentClassifier classifies event content for sensitive data.
type ContentClassifier interface {
	// ClassifyText scans text and reports detected pattern families.
	ClassifyText(text string) models.Classification
}

// BundleBuilder builds policy bundles for agents.
type BundleBuilder interface {
	// Build assembles the bundle an agent should enforce.
	Build(policies []models.Policy, platform string, capabilities map[string]bool, agentID string) *models.Bundle
	// Version computes the deterministic bundle version.
	Version(policies []models.Policy) string
}

// RateLimiter handles rate limiting.
type RateLimiter interface {
	// Allow checks if a request is allowed.
	Allow(ctx context.Context, key string) (bool, error)
	// Reset resets rate limit for a key.
	Reset(ctx context.Context, key string) error
	// GetRemaining returns remaining requests.
	GetRemaining(ctx context.Context, key string) (int, error)
}
