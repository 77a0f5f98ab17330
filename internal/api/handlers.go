package api

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"

	apierrors "github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/metrics"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// =============================================================================
// Common Helpers
// =============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON reads and validates a JSON request body.
func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20)) // 4MB limit
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()
	return json.Unmarshal(body, v)
}

// handleError writes the appropriate error response for an error type.
func handleError(w http.ResponseWriter, err error) {
	var validationErr *apierrors.ValidationError
	switch {
	case stderrors.As(err, &validationErr):
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case stderrors.Is(err, apierrors.ErrPolicyNotFound):
		writeJSONError(w, http.StatusNotFound, "POLICY_NOT_FOUND", err.Error())
	case stderrors.Is(err, apierrors.ErrAgentNotFound):
		writeJSONError(w, http.StatusNotFound, "AGENT_NOT_FOUND", err.Error())
	case stderrors.Is(err, apierrors.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case stderrors.Is(err, apierrors.ErrAgentVersionTooOld):
		writeJSONError(w, http.StatusUpgradeRequired, "AGENT_VERSION_TOO_OLD", err.Error())
	case stderrors.Is(err, apierrors.ErrInvalidInput), stderrors.Is(err, apierrors.ErrPolicyInvalid):
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case stderrors.Is(err, apierrors.ErrConflict):
		writeJSONError(w, http.StatusConflict, "CONFLICT", err.Error())
	case stderrors.Is(err, apierrors.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case stderrors.Is(err, apierrors.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// getPaginationParams extracts limit and offset from query params.
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return
}

// =============================================================================
// Agent Handler
// =============================================================================

// AgentHandler handles agent lifecycle and policy sync requests.
type AgentHandler struct {
	agents          AgentStore
	policies        PolicyStore
	bundles         BundleBuilder
	logger          *slog.Logger
	minAgentVersion string
	agentMetrics    *metrics.AgentMetrics
	bundleMetrics   *metrics.BundleMetrics
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(agents AgentStore, policies PolicyStore, bundles BundleBuilder, logger *slog.Logger) *AgentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentHandler{
		agents:   agents,
		policies: policies,
		bundles:  bundles,
		logger:   logger,
	}
}

// WithMinAgentVersion sets the minimum agent version allowed to sync.
func (h *AgentHandler) WithMinAgentVersion(v string) *AgentHandler {
	h.minAgentVersion = v
	return h
}

// WithMetrics attaches fleet and bundle metrics.
func (h *AgentHandler) WithMetrics(am *metrics.AgentMetrics, bm *metrics.BundleMetrics) *AgentHandler {
	h.agentMetrics = am
	h.bundleMetrics = bm
	return h
}

// RegisterAgentRequest represents an agent registration request.
type RegisterAgentRequest struct {
	AgentID      string          `json:"agent_id,omitempty"`
	Name         string          `json:"name"`
	Hostname     string          `json:"hostname"`
	OS           string          `json:"os"`
	OSVersion    string          `json:"os_version"`
	IPAddress    string          `json:"ip_address"`
	Version      string          `json:"version"`
	Capabilities map[string]bool `json:"capabilities"`
}

// Register handles POST /api/v1/agents.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if req.Hostname == "" {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hostname is required")
		return
	}

	agent := &models.Agent{
		AgentID:       req.AgentID,
		Name:          req.Name,
		Hostname:      req.Hostname,
		OS:            req.OS,
		OSVersion:     req.OSVersion,
		IPAddress:     req.IPAddress,
		Version:       req.Version,
		Capabilities:  req.Capabilities,
		RegisteredAt:  time.Now().UTC(),
		LastHeartbeat: time.Now().UTC(),
	}
	if agent.AgentID == "" {
		agent.AgentID = uuid.New().String()
	}
	if agent.Name == "" {
		agent.Name = agent.Hostname
	}
	if agent.Capabilities == nil {
		agent.Capabilities = map[string]bool{}
	}

	if err := h.agents.Upsert(r.Context(), agent); err != nil {
		handleError(w, err)
		return
	}

	if h.agentMetrics != nil {
		h.agentMetrics.RegisteredTotal.Inc()
		h.agentMetrics.OperationsTotal.WithLabelValues("register", "success").Inc()
	}
	h.logger.InfoContext(r.Context(), "agent registered",
		"agent_id", agent.AgentID,
		"hostname", agent.Hostname,
		"os", agent.OS,
		"version", agent.Version,
	)

	writeJSON(w, http.StatusCreated, agent)
}

// Get handles GET /api/v1/agents/{id}.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	agent, err := h.agents.Get(r.Context(), agentID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// List handles GET /api/v1/agents.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	agents, err := h.agents.List(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

// Unregister handles DELETE /api/v1/agents/{id}.
func (h *AgentHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := h.agents.Delete(r.Context(), agentID); err != nil {
		handleError(w, err)
		return
	}
	if h.agentMetrics != nil {
		h.agentMetrics.OperationsTotal.WithLabelValues("unregister", "success").Inc()
	}
	h.logger.InfoContext(r.Context(), "agent unregistered", "agent_id", agentID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// Heartbeat handles PUT /api/v1/agents/{id}/heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var hb models.Heartbeat
	if err := readJSON(r, &hb); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}

	if err := h.agents.UpdateHeartbeat(r.Context(), agentID, &hb); err != nil {
		handleError(w, err)
		return
	}
	if h.agentMetrics != nil {
		h.agentMetrics.HeartbeatAge.WithLabelValues(metrics.HashID(agentID)).Set(0)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SyncPolicies handles POST /api/v1/agents/{id}/policies/sync.
func (h *AgentHandler) SyncPolicies(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req models.SyncRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	agent, err := h.agents.Get(r.Context(), agentID)
	if err != nil {
		h.recordSync("error")
		handleError(w, err)
		return
	}

	if err := h.checkAgentVersion(agent.Version); err != nil {
		h.recordSync("rejected")
		handleError(w, err)
		return
	}

	policies, err := h.policies.EnabledPolicies(r.Context())
	if err != nil {
		h.recordSync("error")
		handleError(w, err)
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = agent.OS
	}
	capabilities := req.Capabilities
	if capabilities == nil {
		capabilities = agent.Capabilities
	}

	bundle := h.bundles.Build(policies, platform, capabilities, agentID)
	if h.bundleMetrics != nil {
		h.bundleMetrics.BuildsTotal.Inc()
		h.bundleMetrics.BundleSize.WithLabelValues().Observe(float64(bundle.PolicyCount))
	}

	syncedAt := time.Now().UTC().Format(time.RFC3339)
	resp := models.SyncResponse{Status: models.SyncStatusUpdated, Version: bundle.Version}
	if req.InstalledVersion != "" && req.InstalledVersion == bundle.Version {
		resp.Status = models.SyncStatusUpToDate
	} else {
		resp.GeneratedAt = bundle.GeneratedAt
		resp.PolicyCount = bundle.PolicyCount
		resp.Policies = bundle.Policies
	}

	if err := h.agents.UpdateSyncState(r.Context(), agentID, bundle.Version, resp.Status, syncedAt, ""); err != nil {
		h.logger.WarnContext(r.Context(), "failed to record sync state", "agent_id", agentID, "error", err)
	}
	h.recordSync(resp.Status)

	h.logger.InfoContext(r.Context(), "policy sync",
		"agent_id", agentID,
		"status", resp.Status,
		"bundle_version", bundle.Version,
		"policy_count", bundle.PolicyCount,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *AgentHandler) recordSync(status string) {
	if h.bundleMetrics != nil {
		h.bundleMetrics.SyncsTotal.WithLabelValues(status).Inc()
	}
}

// checkAgentVersion rejects agents older than the configured minimum.
func (h *AgentHandler) checkAgentVersion(agentVersion string) error {
	if h.minAgentVersion == "" || agentVersion == "" {
		return nil
	}
	minimum, err := goversion.NewVersion(h.minAgentVersion)
	if err != nil {
		return nil
	}
	current, err := goversion.NewVersion(agentVersion)
	if err != nil {
		// Unparseable versions are treated as too old.
		return apierrors.ErrAgentVersionTooOld
	}
	if current.LessThan(minimum) {
		return apierrors.ErrAgentVersionTooOld
	}
	return nil
}

// =============================================================================
// Policy Handler
// =============================================================================

// PolicyHandler handles policy CRUD requests.
type PolicyHandler struct {
	policies PolicyStore
	matcher  Matcher
	logger   *slog.Logger
}

// NewPolicyHandler creates a new policy handler. The matcher's cache is
// invalidated on every write so changes take effect immediately.
func NewPolicyHandler(policies PolicyStore, matcher Matcher, logger *slog.Logger) *PolicyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyHandler{policies: policies, matcher: matcher, logger: logger}
}

// Create handles POST /api/v1/policies.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p models.Policy
	if err := readJSON(r, &p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if p.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}
	if p.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "type is required")
		return
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Severity == "" {
		p.Severity = models.SeverityMedium
	}
	if p.Config == nil {
		p.Config = map[string]any{}
	}
	if p.Actions == nil {
		p.Actions = map[string]map[string]any{}
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := h.policies.Create(r.Context(), &p); err != nil {
		handleError(w, err)
		return
	}
	h.invalidate()

	h.logger.InfoContext(r.Context(), "policy created",
		"policy_id", p.ID,
		"name", p.Name,
		"type", p.Type,
		"enabled", p.Enabled,
	)
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /api/v1/policies/{id}.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.policies.Get(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List handles GET /api/v1/policies.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	policies, err := h.policies.List(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
	})
}

// Update handles PUT /api/v1/policies/{id}.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var p models.Policy
	if err := readJSON(r, &p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	p.ID = id
	p.UpdatedAt = time.Now().UTC()

	if err := h.policies.Update(r.Context(), &p); err != nil {
		handleError(w, err)
		return
	}
	h.invalidate()

	h.logger.InfoContext(r.Context(), "policy updated", "policy_id", id)
	writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/v1/policies/{id}.
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.policies.Delete(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	h.invalidate()

	h.logger.InfoContext(r.Context(), "policy deleted", "policy_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *PolicyHandler) invalidate() {
	if h.matcher != nil {
		h.matcher.Invalidate()
	}
}

// =============================================================================
// Event Handler
// =============================================================================

// EventHandler handles event intake and queries.
type EventHandler struct {
	processor *Processor
	events    EventStore
	logger    *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(processor *Processor, events EventStore, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{processor: processor, events: events, logger: logger}
}

// Ingest handles POST /api/v1/events. The body is either a single event
// object or an array of events.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var events []*models.Event
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &events); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid event batch")
			return
		}
	} else {
		var e models.Event
		if err := json.Unmarshal(body, &e); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid event")
			return
		}
		events = []*models.Event{&e}
	}
	if len(events) == 0 {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "no events submitted")
		return
	}

	results := make([]*ProcessResult, 0, len(events))
	accepted := 0
	for _, e := range events {
		result, err := h.processor.Process(r.Context(), e)
		if err != nil {
			var validationErr *apierrors.ValidationError
			if stderrors.As(err, &validationErr) {
				results = append(results, &ProcessResult{EventID: e.EventID})
				h.logger.WarnContext(r.Context(), "rejected event", "event_id", e.EventID, "error", err)
				continue
			}
			handleError(w, err)
			return
		}
		results = append(results, result)
		accepted++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"results":  results,
	})
}

// Get handles GET /api/v1/events/{id}.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// List handles GET /api/v1/events.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)

	var (
		events []*models.Event
		err    error
	)
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		events, err = h.events.ListByAgent(r.Context(), agentID, limit, offset)
	} else {
		since := time.Now().Add(-24 * time.Hour)
		if s := r.URL.Query().Get("since"); s != "" {
			if parsed, parseErr := time.Parse(time.RFC3339, s); parseErr == nil {
				since = parsed
			}
		}
		events, err = h.events.ListRecent(r.Context(), since, limit)
	}
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// =============================================================================
// Alert Handler
// =============================================================================

// AlertHandler handles alert queries and status transitions.
type AlertHandler struct {
	alerts AlertStore
	logger *slog.Logger
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alerts AlertStore, logger *slog.Logger) *AlertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertHandler{alerts: alerts, logger: logger}
}

// List handles GET /api/v1/alerts.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	status := r.URL.Query().Get("status")

	alerts, err := h.alerts.List(r.Context(), status, limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Get handles GET /api/v1/alerts/{id}.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")
	alert, err := h.alerts.Get(r.Context(), alertID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

var validAlertStatuses = map[string]bool{
	"open":         true,
	"acknowledged": true,
	"resolved":     true,
	"dismissed":    true,
}

// UpdateStatus handles PUT /api/v1/alerts/{id}/status.
func (h *AlertHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if !validAlertStatuses[req.Status] {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid alert status")
		return
	}

	if err := h.alerts.UpdateStatus(r.Context(), alertID, req.Status); err != nil {
		handleError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "alert status updated", "alert_id", alertID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}
