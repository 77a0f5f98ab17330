package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/actions"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/bundle"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/classify"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/rules"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// =============================================================================
// In-memory stores
// =============================================================================

type memPolicyStore struct {
	mu       sync.Mutex
	policies map[string]models.Policy
}

func newMemPolicyStore() *memPolicyStore {
	return &memPolicyStore{policies: make(map[string]models.Policy)}
}

func (s *memPolicyStore) Create(ctx context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; ok {
		return errors.ErrConflict
	}
	s.policies[p.ID] = *p
	return nil
}

func (s *memPolicyStore) Get(ctx context.Context, id string) (*models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, errors.ErrPolicyNotFound
	}
	return &p, nil
}

func (s *memPolicyStore) Update(ctx context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return errors.ErrPolicyNotFound
	}
	s.policies[p.ID] = *p
	return nil
}

func (s *memPolicyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return errors.ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

func (s *memPolicyStore) List(ctx context.Context, limit, offset int) ([]models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Policy
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *memPolicyStore) EnabledPolicies(ctx context.Context) ([]models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Policy
	for _, p := range s.policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

type memAgentStore struct {
	mu     sync.Mutex
	agents map[string]models.Agent
}

func newMemAgentStore() *memAgentStore {
	return &memAgentStore{agents: make(map[string]models.Agent)}
}

func (s *memAgentStore) Upsert(ctx context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.AgentID] = *a
	return nil
}

func (s *memAgentStore) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, errors.ErrAgentNotFound
	}
	return &a, nil
}

func (s *memAgentStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return errors.ErrAgentNotFound
	}
	delete(s.agents, agentID)
	return nil
}

func (s *memAgentStore) UpdateHeartbeat(ctx context.Context, agentID string, hb *models.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return errors.ErrAgentNotFound
	}
	a.LastHeartbeat = hb.Timestamp
	s.agents[agentID] = a
	return nil
}

func (s *memAgentStore) UpdateSyncState(ctx context.Context, agentID, version, status, syncedAt, syncErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return errors.ErrAgentNotFound
	}
	a.PolicyVersion = version
	a.PolicySyncStatus = status
	a.PolicyLastSyncedAt = syncedAt
	a.PolicySyncError = syncErr
	s.agents[agentID] = a
	return nil
}

func (s *memAgentStore) List(ctx context.Context, limit, offset int) ([]*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Agent
	for _, a := range s.agents {
		agent := a
		out = append(out, &agent)
	}
	return out, nil
}

type memEventStore struct {
	mu     sync.Mutex
	events map[string]models.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]models.Event)}
}

func (s *memEventStore) Create(ctx context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.EventID] = *e
	return nil
}

func (s *memEventStore) Get(ctx context.Context, eventID string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &e, nil
}

func (s *memEventStore) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, e := range s.events {
		if e.AgentID == agentID {
			event := e
			out = append(out, &event)
		}
	}
	return out, nil
}

func (s *memEventStore) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, e := range s.events {
		if !e.Timestamp.Before(since) {
			event := e
			out = append(out, &event)
		}
	}
	return out, nil
}

type memAlertStore struct {
	mu     sync.Mutex
	alerts map[string]models.Alert
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: make(map[string]models.Alert)}
}

func (s *memAlertStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.AlertID] = *a
	return nil
}

func (s *memAlertStore) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &a, nil
}

func (s *memAlertStore) UpdateStatus(ctx context.Context, alertID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return errors.ErrNotFound
	}
	a.Status = status
	s.alerts[alertID] = a
	return nil
}

func (s *memAlertStore) List(ctx context.Context, status string, limit, offset int) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if status == "" || a.Status == status {
			alert := a
			out = append(out, &alert)
		}
	}
	return out, nil
}

// =============================================================================
// Test fixture
// =============================================================================

type fixture struct {
	router   http.Handler
	policies *memPolicyStore
	agents   *memAgentStore
	events   *memEventStore
	alerts   *memAlertStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	policies := newMemPolicyStore()
	agents := newMemAgentStore()
	events := newMemEventStore()
	alerts := newMemAlertStore()

	evaluator := rules.NewEvaluator(policies, 0, logger)
	executor := actions.NewExecutor(logger, actions.WithAlertSink(alerts))
	classifier := classify.New()
	processor := NewProcessor(logger, classifier, evaluator, executor, events)

	router := NewRouter(
		&RouterConfig{
			Logger:           logger,
			MiddlewareConfig: DefaultMiddlewareConfig(),
		},
		&Services{
			Policies:        policies,
			Agents:          agents,
			Events:          events,
			Alerts:          alerts,
			Matcher:         evaluator,
			Bundles:         bundle.NewTransformer(),
			Processor:       processor,
			MinAgentVersion: "1.0.0",
		},
	)

	return &fixture{
		router:   router,
		policies: policies,
		agents:   agents,
		events:   events,
		alerts:   alerts,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// =============================================================================
// Agent lifecycle
// =============================================================================

func TestAgentLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/agents", RegisterAgentRequest{
		Name:     "Finance Desktop",
		Hostname: "fin-desk-01",
		OS:       "windows",
		Version:  "1.2.0",
		Capabilities: map[string]bool{
			"file_monitoring":      true,
			"clipboard_monitoring": true,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	agent := decode[models.Agent](t, rec)
	assert.NotEmpty(t, agent.AgentID)
	assert.Equal(t, "fin-desk-01", agent.Hostname)

	rec = f.do(t, http.MethodGet, "/api/v1/agents/"+agent.AgentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/agents/"+agent.AgentID+"/heartbeat", models.Heartbeat{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, listing["count"])

	rec = f.do(t, http.MethodDelete, "/api/v1/agents/"+agent.AgentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/agents/"+agent.AgentID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPut, "/api/v1/agents/nope/heartbeat", models.Heartbeat{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Policy sync
// =============================================================================

func registerTestAgent(t *testing.T, f *fixture, version string) models.Agent {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/agents", RegisterAgentRequest{
		Hostname: "host-1",
		OS:       "windows",
		Version:  version,
		Capabilities: map[string]bool{
			"file_monitoring":      true,
			"clipboard_monitoring": true,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[models.Agent](t, rec)
}

func seedPolicy(t *testing.T, f *fixture, name string, pt models.PolicyType) models.Policy {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/policies", models.Policy{
		Name:    name,
		Type:    pt,
		Enabled: true,
		Config:  map[string]any{"monitoredPaths": []string{"c:/finance"}},
		Actions: map[string]map[string]any{"log": {}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[models.Policy](t, rec)
}

func TestSyncPolicies(t *testing.T) {
	f := newFixture(t)
	agent := registerTestAgent(t, f, "1.2.0")
	seedPolicy(t, f, "watch finance share", models.PolicyTypeFileSystem)

	syncURL := "/api/v1/agents/" + agent.AgentID + "/policies/sync"

	rec := f.do(t, http.MethodPost, syncURL, models.SyncRequest{Platform: "windows"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[models.SyncResponse](t, rec)
	assert.Equal(t, models.SyncStatusUpdated, resp.Status)
	assert.Equal(t, 1, resp.PolicyCount)
	assert.NotEmpty(t, resp.Version)

	// Same installed version comes back up to date without a bundle.
	rec = f.do(t, http.MethodPost, syncURL, models.SyncRequest{
		Platform:         "windows",
		InstalledVersion: resp.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[models.SyncResponse](t, rec)
	assert.Equal(t, models.SyncStatusUpToDate, again.Status)
	assert.Empty(t, again.Policies)

	stored, err := f.agents.Get(context.Background(), agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusUpToDate, stored.PolicySyncStatus)
	assert.Equal(t, resp.Version, stored.PolicyVersion)
}

func TestSyncRejectsOldAgent(t *testing.T) {
	f := newFixture(t)
	agent := registerTestAgent(t, f, "0.9.0")

	rec := f.do(t, http.MethodPost, "/api/v1/agents/"+agent.AgentID+"/policies/sync", models.SyncRequest{})
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestSyncUnknownAgent(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/agents/ghost/policies/sync", models.SyncRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Policy CRUD
// =============================================================================

func TestPolicyCRUD(t *testing.T) {
	f := newFixture(t)

	created := seedPolicy(t, f, "clipboard guard", models.PolicyTypeClipboard)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.SeverityMedium, created.Severity)

	rec := f.do(t, http.MethodGet, "/api/v1/policies/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	created.Name = "clipboard guard v2"
	rec = f.do(t, http.MethodPut, "/api/v1/policies/"+created.ID, created)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/policies/"+created.ID, nil)
	updated := decode[models.Policy](t, rec)
	assert.Equal(t, "clipboard guard v2", updated.Name)

	rec = f.do(t, http.MethodDelete, "/api/v1/policies/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/policies/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyCreateValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/policies", models.Policy{Type: models.PolicyTypeClipboard})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/policies", models.Policy{Name: "no type"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Event intake
// =============================================================================

func TestEventIntakeMatchesPolicy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/policies", models.Policy{
		Name:     "block card numbers on clipboard",
		Type:     models.PolicyTypeClipboard,
		Severity: models.SeverityCritical,
		Enabled:  true,
		Conditions: &models.ConditionTree{
			Match: models.MatchAll,
			Rules: []models.ConditionRule{
				{Field: "clipboard_content", Operator: models.OperatorContains, Value: "4111"},
			},
		},
		Actions: map[string]map[string]any{
			"block": {},
			"alert": {"severity": "critical"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/events", models.Event{
		EventID: "evt-1",
		AgentID: "agent-1",
		Type:    models.EventTypeClipboard,
		Clipboard: &models.ClipboardInfo{
			ContentPreview: "card 4111111111111111 pasted",
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, resp["accepted"])

	results, ok := resp["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	result := results[0].(map[string]any)
	assert.Equal(t, true, result["blocked"])
	assert.EqualValues(t, 1, result["alerts"])

	stored, err := f.events.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, stored.Severity)
	assert.Len(t, stored.PolicyIDs, 1)
	assert.Equal(t, "block", stored.ActionTaken)
	require.NotNil(t, stored.Classification)
	assert.True(t, stored.Classification.Sensitive)

	alerts, err := f.alerts.List(context.Background(), "open", 10, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestEventIntakeBatch(t *testing.T) {
	f := newFixture(t)

	batch := []models.Event{
		{EventID: "b-1", AgentID: "agent-1", Type: models.EventTypeFileSystem, Subtype: "created"},
		{EventID: "b-2", AgentID: "agent-1", Type: models.EventTypeFileSystem, Subtype: "modified"},
	}
	rec := f.do(t, http.MethodPost, "/api/v1/events", batch)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, resp["accepted"])

	events, err := f.events.ListByAgent(context.Background(), "agent-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventIntakeRejectsMissingAgent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/events", models.Event{
		EventID: "evt-x",
		Type:    models.EventTypeFileSystem,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.EqualValues(t, 0, resp["accepted"])
}

func TestEventListByAgent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/events", models.Event{
			EventID: fmt.Sprintf("evt-%d", i),
			AgentID: "agent-7",
			Type:    models.EventTypeFileSystem,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/events?agent_id=agent-7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[map[string]any](t, rec)
	assert.EqualValues(t, 3, listing["count"])
}

// =============================================================================
// Alerts
// =============================================================================

func TestAlertStatusTransitions(t *testing.T) {
	f := newFixture(t)

	alert := &models.Alert{
		AlertID:   "alert-1",
		EventID:   "evt-1",
		Severity:  models.SeverityHigh,
		Title:     "Policy violation",
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.alerts.CreateAlert(context.Background(), alert))

	rec := f.do(t, http.MethodGet, "/api/v1/alerts?status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, listing["count"])

	rec = f.do(t, http.MethodPut, "/api/v1/alerts/alert-1/status", map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts/alert-1", nil)
	got := decode[models.Alert](t, rec)
	assert.Equal(t, "resolved", got.Status)

	rec = f.do(t, http.MethodPut, "/api/v1/alerts/alert-1/status", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Health
// =============================================================================

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/health", "/ready", "/live"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
