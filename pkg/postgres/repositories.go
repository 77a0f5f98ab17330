// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// =============================================================================
// Policy Repository
// =============================================================================

// PolicyRepository implements policy persistence.
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Create persists a new policy.
func (r *PolicyRepository) Create(ctx context.Context, p *models.Policy) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("invalid policy ID: %w", err)
	}

	config, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	conditions, err := marshalNullable(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	agentIDs, err := marshalNullable(p.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	tags, err := marshalNullable(p.ComplianceTags)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO policies (id, name, description, type, severity, priority, enabled, config, conditions, actions, agent_ids, compliance_tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, p.Name, p.Description, string(p.Type), string(p.Severity), p.Priority, p.Enabled,
		config, conditions, actions, agentIDs, tags, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

// Get retrieves a policy by ID.
func (r *PolicyRepository) Get(ctx context.Context, id string) (*models.Policy, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid policy ID: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, type, severity, priority, enabled, config, conditions, actions, agent_ids, compliance_tags, created_at, updated_at
		 FROM policies WHERE id = $1`, uid)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// Update updates an existing policy.
func (r *PolicyRepository) Update(ctx context.Context, p *models.Policy) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("invalid policy ID: %w", err)
	}

	config, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	conditions, err := marshalNullable(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	agentIDs, err := marshalNullable(p.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	tags, err := marshalNullable(p.ComplianceTags)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance tags: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE policies SET name = $2, description = $3, type = $4, severity = $5, priority = $6, enabled = $7,
		 config = $8, conditions = $9, actions = $10, agent_ids = $11, compliance_tags = $12, updated_at = $13
		 WHERE id = $1`,
		id, p.Name, p.Description, string(p.Type), string(p.Severity), p.Priority, p.Enabled,
		config, conditions, actions, agentIDs, tags, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrPolicyNotFound
	}
	return nil
}

// Delete removes a policy.
func (r *PolicyRepository) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid policy ID: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrPolicyNotFound
	}
	return nil
}

// List returns all policies.
func (r *PolicyRepository) List(ctx context.Context, limit, offset int) ([]models.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, type, severity, priority, enabled, config, conditions, actions, agent_ids, compliance_tags, created_at, updated_at
		 FROM policies ORDER BY priority DESC, created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPolicies(rows)
}

// EnabledPolicies returns all enabled policies. It satisfies the rules
// evaluator's policy source.
func (r *PolicyRepository) EnabledPolicies(ctx context.Context) ([]models.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, type, severity, priority, enabled, config, conditions, actions, agent_ids, compliance_tags, created_at, updated_at
		 FROM policies WHERE enabled = TRUE ORDER BY priority DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPolicies(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var (
		p          models.Policy
		config     []byte
		conditions []byte
		actions    []byte
		agentIDs   []byte
		tags       []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Type, &p.Severity, &p.Priority, &p.Enabled,
		&config, &conditions, &actions, &agentIDs, &tags, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &p.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	if err := json.Unmarshal(actions, &p.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if len(agentIDs) > 0 {
		if err := json.Unmarshal(agentIDs, &p.AgentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent ids: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.ComplianceTags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal compliance tags: %w", err)
		}
	}
	return &p, nil
}

func collectPolicies(rows *sql.Rows) ([]models.Policy, error) {
	var policies []models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *models.ConditionTree:
		if val == nil {
			return nil, nil
		}
	case []string:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// =============================================================================
// Agent Repository
// =============================================================================

// AgentRepository implements agent persistence.
type AgentRepository struct {
	db *DB
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(db *DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Upsert registers an agent or refreshes an existing registration.
func (r *AgentRepository) Upsert(ctx context.Context, a *models.Agent) error {
	capabilities, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, name, hostname, os, os_version, ip_address, version, capabilities, registered_at, last_heartbeat)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			hostname = EXCLUDED.hostname,
			os = EXCLUDED.os,
			os_version = EXCLUDED.os_version,
			ip_address = EXCLUDED.ip_address,
			version = EXCLUDED.version,
			capabilities = EXCLUDED.capabilities,
			last_heartbeat = EXCLUDED.last_heartbeat`,
		a.AgentID, a.Name, a.Hostname, a.OS, a.OSVersion, a.IPAddress, a.Version,
		capabilities, a.RegisteredAt, a.LastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by ID.
func (r *AgentRepository) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	a := &models.Agent{}
	var (
		capabilities []byte
		heartbeat    sql.NullTime
		version      sql.NullString
		syncStatus   sql.NullString
		syncedAt     sql.NullString
		syncError    sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT agent_id, name, hostname, os, os_version, ip_address, version, capabilities, registered_at, last_heartbeat,
			policy_version, policy_sync_status, policy_last_synced_at, policy_sync_error
		 FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&a.AgentID, &a.Name, &a.Hostname, &a.OS, &a.OSVersion, &a.IPAddress, &a.Version,
		&capabilities, &a.RegisteredAt, &heartbeat, &version, &syncStatus, &syncedAt, &syncError)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if err := json.Unmarshal(capabilities, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if heartbeat.Valid {
		a.LastHeartbeat = heartbeat.Time
	}
	a.PolicyVersion = version.String
	a.PolicySyncStatus = syncStatus.String
	a.PolicyLastSyncedAt = syncedAt.String
	a.PolicySyncError = syncError.String
	return a, nil
}

// Delete unregisters an agent.
func (r *AgentRepository) Delete(ctx context.Context, agentID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrAgentNotFound
	}
	return nil
}

// UpdateHeartbeat records a heartbeat and the agent's reported sync state.
func (r *AgentRepository) UpdateHeartbeat(ctx context.Context, agentID string, hb *models.Heartbeat) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = $2, ip_address = COALESCE(NULLIF($3, ''), ip_address),
			policy_version = COALESCE(NULLIF($4, ''), policy_version),
			policy_sync_status = COALESCE(NULLIF($5, ''), policy_sync_status),
			policy_last_synced_at = COALESCE(NULLIF($6, ''), policy_last_synced_at),
			policy_sync_error = $7
		 WHERE agent_id = $1`,
		agentID, hb.Timestamp, hb.IPAddress, hb.PolicyVersion, hb.PolicySyncStatus, hb.PolicyLastSyncedAt, hb.PolicySyncError,
	)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrAgentNotFound
	}
	return nil
}

// UpdateSyncState records the outcome of a policy sync for the agent.
func (r *AgentRepository) UpdateSyncState(ctx context.Context, agentID, version, status, syncedAt, syncErr string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET policy_version = $2, policy_sync_status = $3, policy_last_synced_at = $4, policy_sync_error = $5
		 WHERE agent_id = $1`,
		agentID, version, status, syncedAt, syncErr,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrAgentNotFound
	}
	return nil
}

// List returns all registered agents.
func (r *AgentRepository) List(ctx context.Context, limit, offset int) ([]*models.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT agent_id, name, hostname, os, os_version, ip_address, version, capabilities, registered_at, last_heartbeat,
			policy_version, policy_sync_status, policy_last_synced_at, policy_sync_error
		 FROM agents ORDER BY registered_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*models.Agent
	for rows.Next() {
		a := &models.Agent{}
		var (
			capabilities []byte
			heartbeat    sql.NullTime
			version      sql.NullString
			syncStatus   sql.NullString
			syncedAt     sql.NullString
			syncError    sql.NullString
		)
		if err := rows.Scan(&a.AgentID, &a.Name, &a.Hostname, &a.OS, &a.OSVersion, &a.IPAddress, &a.Version,
			&capabilities, &a.RegisteredAt, &heartbeat, &version, &syncStatus, &syncedAt, &syncError); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		if err := json.Unmarshal(capabilities, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
		if heartbeat.Valid {
			a.LastHeartbeat = heartbeat.Time
		}
		a.PolicyVersion = version.String
		a.PolicySyncStatus = syncStatus.String
		a.PolicyLastSyncedAt = syncedAt.String
		a.PolicySyncError = syncError.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// =============================================================================
// Event Repository
// =============================================================================

// EventRepository implements event persistence.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create persists an event. The typed sub-structs and metadata are stored
// as a single JSON payload next to the indexed columns.
func (r *EventRepository) Create(ctx context.Context, e *models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	policyIDs, err := marshalNullable(e.PolicyIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal policy ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO events (event_id, agent_id, type, subtype, timestamp, hostname, username, severity, action_taken, policy_ids, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.EventID, e.AgentID, string(e.Type), e.Subtype, e.Timestamp, e.Hostname, e.Username,
		string(e.Severity), e.ActionTaken, policyIDs, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// Get retrieves an event by ID.
func (r *EventRepository) Get(ctx context.Context, eventID string) (*models.Event, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM events WHERE event_id = $1`, eventID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	e := &models.Event{}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return e, nil
}

// ListByAgent returns recent events for one agent.
func (r *EventRepository) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE agent_id = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`,
		agentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEvents(rows)
}

// ListRecent returns the most recent events across all agents.
func (r *EventRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE timestamp >= $1 ORDER BY timestamp DESC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e := &models.Event{}
		if err := json.Unmarshal(payload, e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// Alert Repository
// =============================================================================

// AlertRepository implements alert persistence.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateAlert persists an alert. It satisfies the action executor's sink.
func (r *AlertRepository) CreateAlert(ctx context.Context, a *models.Alert) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, event_id, severity, title, description, status, created_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.AlertID, a.EventID, string(a.Severity), a.Title, a.Description, a.Status, a.CreatedAt, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID.
func (r *AlertRepository) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	a := &models.Alert{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT alert_id, event_id, severity, title, description, status, created_at, metadata
		 FROM alerts WHERE alert_id = $1`, alertID,
	).Scan(&a.AlertID, &a.EventID, &a.Severity, &a.Title, &a.Description, &a.Status, &a.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return a, nil
}

// UpdateStatus transitions an alert's lifecycle status.
func (r *AlertRepository) UpdateStatus(ctx context.Context, alertID, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET status = $2 WHERE alert_id = $1`, alertID, status)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// List returns alerts filtered by status; empty status returns all.
func (r *AlertRepository) List(ctx context.Context, status string, limit, offset int) ([]*models.Alert, error) {
	query := `SELECT alert_id, event_id, severity, title, description, status, created_at, metadata
		 FROM alerts WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*models.Alert
	for rows.Next() {
		a := &models.Alert{}
		var metadata []byte
		if err := rows.Scan(&a.AlertID, &a.EventID, &a.Severity, &a.Title, &a.Description, &a.Status, &a.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
