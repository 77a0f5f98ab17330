package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientRegister(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/agents", r.URL.Path)
		gotAuth = r.Header.Get("X-API-Key")

		var reg Registration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		assert.Equal(t, "host-1", reg.Hostname)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Agent{AgentID: "server-assigned", Hostname: reg.Hostname})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, testLogger())
	agent, err := c.Register(context.Background(), &Registration{Hostname: "host-1", Name: "host-1"})
	require.NoError(t, err)
	assert.Equal(t, "server-assigned", agent.AgentID)
	assert.Equal(t, "secret", gotAuth)
}

func TestClientHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/agents/a1/heartbeat", r.URL.Path)

		var hb models.Heartbeat
		require.NoError(t, json.NewDecoder(r.Body).Decode(&hb))
		assert.Equal(t, "up_to_date", hb.PolicySyncStatus)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, testLogger())
	err := c.Heartbeat(context.Background(), "a1", &models.Heartbeat{
		Timestamp:        time.Now().UTC(),
		PolicySyncStatus: "up_to_date",
	})
	require.NoError(t, err)
}

func TestClientSyncPolicies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/agents/a1/policies/sync", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.SyncResponse{
			Status:  models.SyncStatusUpdated,
			Version: "abc123",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, testLogger())
	resp, err := c.SyncPolicies(context.Background(), "a1", &models.SyncRequest{Platform: "linux"})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusUpdated, resp.Status)
	assert.Equal(t, "abc123", resp.Version)
}

func TestClientServerErrorMapsSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"agent not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, testLogger())
	_, err := c.SyncPolicies(context.Background(), "missing", &models.SyncRequest{})
	require.Error(t, err)

	var srvErr *errors.ServerError
	require.True(t, stderrors.As(err, &srvErr))
	assert.Equal(t, http.StatusNotFound, srvErr.Status)
	assert.True(t, stderrors.Is(err, errors.ErrNotFound))
}

func TestClientSubmitEventsEmptyBatchSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, testLogger())
	require.NoError(t, c.SubmitEvents(context.Background(), nil))
	assert.False(t, called)
}

func TestClientSubmitEvents(t *testing.T) {
	var got []models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, testLogger())
	events := []*models.Event{
		{EventID: "e1", AgentID: "a1", Type: models.EventTypeFileSystem},
		{EventID: "e2", AgentID: "a1", Type: models.EventTypeFileTransfer},
	}
	require.NoError(t, c.SubmitEvents(context.Background(), events))
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].EventID)
}

func TestClientUnregister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/agents/a1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, testLogger())
	require.NoError(t, c.Unregister(context.Background(), "a1"))
}

func TestLocalIPResolvesRoute(t *testing.T) {
	ip := LocalIP("http://127.0.0.1:8080")
	assert.NotEmpty(t, ip)
}
