package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/config"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// fakeControlPlane records the agent API calls the supervisor makes.
type fakeControlPlane struct {
	mu           sync.Mutex
	registered   bool
	unregistered bool
	heartbeats   []models.Heartbeat
	syncCount    int
}

func (f *fakeControlPlane) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/agents":
			f.registered = true
			var reg Registration
			_ = json.NewDecoder(r.Body).Decode(&reg)
			_ = json.NewEncoder(w).Encode(models.Agent{AgentID: reg.AgentID, Hostname: reg.Hostname})

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/policies/sync"):
			f.syncCount++
			_ = json.NewEncoder(w).Encode(models.SyncResponse{
				Status:      models.SyncStatusUpdated,
				Version:     "v1",
				GeneratedAt: time.Now().UTC(),
			})

		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/heartbeat"):
			var hb models.Heartbeat
			_ = json.NewDecoder(r.Body).Decode(&hb)
			f.heartbeats = append(f.heartbeats, hb)
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		case r.Method == http.MethodDelete:
			f.unregistered = true
			w.WriteHeader(http.StatusNoContent)

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/events":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"accepted":0}`))

		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeControlPlane) snapshot() (registered, unregistered bool, heartbeats int, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered, f.unregistered, len(f.heartbeats), f.syncCount
}

func TestAgentLifecycle(t *testing.T) {
	plane := &fakeControlPlane{}
	srv := httptest.NewServer(plane.handler())
	defer srv.Close()

	a := New(config.AgentConfig{
		ServerURL:         srv.URL,
		AgentID:           "agent-test",
		Name:              "agent-test",
		HeartbeatInterval: 20 * time.Millisecond,
		SyncInterval:      25 * time.Millisecond,
		RequestTimeout:    time.Second,
	}, "1.2.3", testLogger())
	require.Equal(t, "agent-test", a.AgentID())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, _, heartbeats, syncs := plane.snapshot()
		return heartbeats >= 2 && syncs >= 2
	}, 3*time.Second, 10*time.Millisecond, "heartbeat and sync timers should fire")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not shut down")
	}

	registered, unregistered, _, _ := plane.snapshot()
	assert.True(t, registered)
	assert.True(t, unregistered, "shutdown sends a best-effort unregister")

	plane.mu.Lock()
	defer plane.mu.Unlock()
	require.NotEmpty(t, plane.heartbeats)
	hb := plane.heartbeats[len(plane.heartbeats)-1]
	assert.Equal(t, "v1", hb.PolicyVersion, "heartbeat carries the synced bundle version")
	assert.NotEmpty(t, hb.PolicySyncStatus)
}

func TestAgentRegistrationFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New(config.AgentConfig{
		ServerURL:      srv.URL,
		AgentID:        "agent-test",
		RequestTimeout: 200 * time.Millisecond,
	}, "1.2.3", testLogger())

	err := a.Run(context.Background())
	require.Error(t, err)
}

func TestAgentHeartbeatReportsSyncFailure(t *testing.T) {
	plane := &fakeControlPlane{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		var reg Registration
		_ = json.NewDecoder(r.Body).Decode(&reg)
		_ = json.NewEncoder(w).Encode(models.Agent{AgentID: reg.AgentID})
	})
	mux.HandleFunc("/api/v1/agents/agent-test/policies/sync", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/v1/agents/agent-test/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		var hb models.Heartbeat
		_ = json.NewDecoder(r.Body).Decode(&hb)
		plane.heartbeats = append(plane.heartbeats, hb)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(config.AgentConfig{
		ServerURL:         srv.URL,
		AgentID:           "agent-test",
		HeartbeatInterval: 20 * time.Millisecond,
		SyncInterval:      time.Hour,
		RequestTimeout:    time.Second,
	}, "1.2.3", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		return len(plane.heartbeats) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	plane.mu.Lock()
	defer plane.mu.Unlock()
	hb := plane.heartbeats[0]
	assert.Equal(t, "error", hb.PolicySyncStatus, "failed sync surfaces on the heartbeat")
	assert.NotEmpty(t, hb.PolicySyncError)
	assert.NotEmpty(t, hb.PolicyLastSyncedAt)
}

func TestEnqueueOverflowFallsToFailedQueue(t *testing.T) {
	a := New(config.AgentConfig{
		ServerURL:         "http://127.0.0.1:1",
		AgentID:           "agent-test",
		FailedEventBuffer: 2,
		RequestTimeout:    time.Second,
	}, "1.2.3", testLogger())

	// No submit loop is running, so the outbound queue fills first.
	for i := 0; i < 10; i++ {
		a.enqueue(&models.Event{EventID: "e", Type: models.EventTypeFileSystem})
	}

	assert.Len(t, a.outbound, 2)
	assert.Len(t, a.failedEvents, 2, "overflow is bounded, extra events dropped")
}
