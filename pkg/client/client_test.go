package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

func TestListPolicies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/policies", r.URL.Path)
		require.Equal(t, "25", r.URL.Query().Get("limit"))
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(PolicyListResponse{
			Policies: []models.Policy{{ID: "p1", Name: "watch-docs"}},
			Count:    1,
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: time.Second})
	policies, err := c.ListPolicies(context.Background(), 25, 0)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "watch-docs", policies[0].Name)
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Error: ErrorDetail{Code: "not_found", Message: "policy not found"},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.GetPolicy(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy not found")
	assert.Contains(t, err.Error(), "404")
}

func TestUpdateAlertStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/alerts/a1/status", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "resolved", body["status"])
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "resolved"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	require.NoError(t, c.UpdateAlertStatus(context.Background(), "a1", "resolved"))
}

func TestListEventsFiltersByAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "agent-1", r.URL.Query().Get("agent_id"))
		_ = json.NewEncoder(w).Encode(EventListResponse{
			Events: []models.Event{{EventID: "e1", AgentID: "agent-1"}},
			Count:  1,
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	events, err := c.ListEvents(context.Background(), "agent-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].EventID)
}
