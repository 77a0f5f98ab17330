package sync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

type fakeServer struct {
	responses []*models.SyncResponse
	errs      []error
	requests  []*models.SyncRequest
}

func (f *fakeServer) SyncPolicies(_ context.Context, _ string, req *models.SyncRequest) (*models.SyncResponse, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &models.SyncResponse{Status: models.SyncStatusUpToDate}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func updatedResponse(version string) *models.SyncResponse {
	return &models.SyncResponse{
		Status:      models.SyncStatusUpdated,
		Version:     version,
		GeneratedAt: time.Now().UTC(),
		PolicyCount: 1,
		Policies: map[models.PolicyType][]models.BundlePolicy{
			models.PolicyTypeFileSystem: {{ID: "p1", Name: "watch-docs", Priority: 10}},
		},
	}
}

func TestSyncerInitialState(t *testing.T) {
	s := New(&fakeServer{}, "agent-1", "linux", nil, time.Minute, nil, testLogger())

	st := s.State()
	assert.Equal(t, StatusNever, st.Status)
	assert.Empty(t, st.Version)
	assert.True(t, st.LastSyncedAt.IsZero())
	assert.Nil(t, s.Bundle())
}

func TestSyncerUpdatedReplacesBundle(t *testing.T) {
	srv := &fakeServer{responses: []*models.SyncResponse{updatedResponse("v1")}}

	var got *models.Bundle
	s := New(srv, "agent-1", "linux", map[string]bool{"file_system": true}, time.Minute,
		func(b *models.Bundle) { got = b }, testLogger())

	require.NoError(t, s.SyncOnce(context.Background()))

	st := s.State()
	assert.Equal(t, StatusUpdated, st.Status)
	assert.Equal(t, "v1", st.Version)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastSyncedAt.IsZero())

	require.NotNil(t, got)
	assert.Equal(t, "v1", got.Version)
	assert.Len(t, got.PoliciesOfType(models.PolicyTypeFileSystem), 1)

	// The submitted request carried platform and capabilities.
	require.Len(t, srv.requests, 1)
	assert.Equal(t, "linux", srv.requests[0].Platform)
	assert.True(t, srv.requests[0].Capabilities["file_system"])
	assert.Empty(t, srv.requests[0].InstalledVersion)
}

func TestSyncerUpToDateKeepsBundle(t *testing.T) {
	srv := &fakeServer{responses: []*models.SyncResponse{
		updatedResponse("v1"),
		{Status: models.SyncStatusUpToDate},
	}}

	calls := 0
	s := New(srv, "agent-1", "linux", nil, time.Minute,
		func(*models.Bundle) { calls++ }, testLogger())

	require.NoError(t, s.SyncOnce(context.Background()))
	require.NoError(t, s.SyncOnce(context.Background()))

	st := s.State()
	assert.Equal(t, StatusUpToDate, st.Status)
	assert.Equal(t, "v1", st.Version)
	assert.Equal(t, 1, calls)

	// Second request advertises the installed version.
	require.Len(t, srv.requests, 2)
	assert.Equal(t, "v1", srv.requests[1].InstalledVersion)
}

func TestSyncerTransportFailureIsException(t *testing.T) {
	srv := &fakeServer{errs: []error{context.DeadlineExceeded}}
	s := New(srv, "agent-1", "linux", nil, time.Minute, nil, testLogger())

	err := s.SyncOnce(context.Background())
	require.Error(t, err)

	st := s.State()
	assert.Equal(t, StatusException, st.Status)
	assert.NotEmpty(t, st.LastError)
	assert.False(t, st.LastSyncedAt.IsZero())
}

func TestSyncerServerRejectionIsError(t *testing.T) {
	srv := &fakeServer{errs: []error{&errors.ServerError{Status: 404, Body: "agent not found"}}}
	s := New(srv, "agent-1", "linux", nil, time.Minute, nil, testLogger())

	err := s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, s.State().Status)
}

func TestSyncerFailureKeepsLastKnownGoodBundle(t *testing.T) {
	srv := &fakeServer{
		responses: []*models.SyncResponse{updatedResponse("v1"), nil},
		errs:      []error{nil, context.DeadlineExceeded},
	}
	s := New(srv, "agent-1", "linux", nil, time.Minute, nil, testLogger())

	require.NoError(t, s.SyncOnce(context.Background()))
	require.Error(t, s.SyncOnce(context.Background()))

	require.NotNil(t, s.Bundle())
	assert.Equal(t, "v1", s.Bundle().Version)

	st := s.State()
	assert.Equal(t, StatusException, st.Status)
	assert.Equal(t, "v1", st.Version)
}

func TestSyncerMalformedBundleKeepsPrevious(t *testing.T) {
	srv := &fakeServer{responses: []*models.SyncResponse{
		updatedResponse("v1"),
		{Status: models.SyncStatusUpdated}, // missing version
	}}
	s := New(srv, "agent-1", "linux", nil, time.Minute, nil, testLogger())

	require.NoError(t, s.SyncOnce(context.Background()))
	require.Error(t, s.SyncOnce(context.Background()))

	assert.Equal(t, "v1", s.Bundle().Version)
	assert.Equal(t, StatusError, s.State().Status)
}

func TestSyncerRunStopsOnCancel(t *testing.T) {
	s := New(&fakeServer{}, "agent-1", "linux", nil, 10*time.Millisecond, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, StatusUpToDate, s.State().Status)
}
