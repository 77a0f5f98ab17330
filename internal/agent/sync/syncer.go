// Package sync keeps the agent's policy bundle current against the server.
package sync

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// Sync statuses reported upstream via heartbeat.
const (
	StatusNever     = "never"
	StatusSyncing   = "syncing"
	StatusUpToDate  = "up_to_date"
	StatusUpdated   = "updated"
	StatusError     = "error"
	StatusException = "exception"
)

// Server is the subset of the server API the syncer needs.
type Server interface {
	SyncPolicies(ctx context.Context, agentID string, req *models.SyncRequest) (*models.SyncResponse, error)
}

// State is a snapshot of the last sync attempt, carried on heartbeats.
type State struct {
	Status       string
	Version      string
	LastSyncedAt time.Time
	LastError    string
}

// Syncer fetches the policy bundle on a timer and hands updated bundles to
// an onUpdate callback. A failed sync keeps the last-known-good bundle.
type Syncer struct {
	server       Server
	agentID      string
	platform     string
	capabilities map[string]bool
	interval     time.Duration
	onUpdate     func(*models.Bundle)
	logger       *slog.Logger

	mu           sync.Mutex
	bundle       *models.Bundle
	status       string
	lastSyncedAt time.Time
	lastError    string
}

// New creates a Syncer. onUpdate may be nil; it is invoked outside the
// syncer's lock whenever the server returns a new bundle.
func New(server Server, agentID, platform string, capabilities map[string]bool, interval time.Duration, onUpdate func(*models.Bundle), logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		server:       server,
		agentID:      agentID,
		platform:     platform,
		capabilities: capabilities,
		interval:     interval,
		onUpdate:     onUpdate,
		logger:       logger,
		status:       StatusNever,
	}
}

// SyncOnce performs a single sync attempt. Errors are recorded in the sync
// state and returned; callers on a timer log and move on.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	s.status = StatusSyncing
	installed := ""
	if s.bundle != nil {
		installed = s.bundle.Version
	}
	req := &models.SyncRequest{
		Platform:         s.platform,
		Capabilities:     s.capabilities,
		InstalledVersion: installed,
	}
	s.mu.Unlock()

	resp, err := s.server.SyncPolicies(ctx, s.agentID, req)
	now := time.Now().UTC()

	if err != nil {
		status := StatusException
		var srvErr *errors.ServerError
		if stderrors.As(err, &srvErr) {
			status = StatusError
		}
		s.mu.Lock()
		s.status = status
		s.lastSyncedAt = now
		s.lastError = err.Error()
		s.mu.Unlock()
		return errors.NewSyncError(s.agentID, "sync", err)
	}

	if resp.Status == models.SyncStatusUpToDate {
		s.mu.Lock()
		s.status = StatusUpToDate
		s.lastSyncedAt = now
		s.lastError = ""
		s.mu.Unlock()
		return nil
	}

	if resp.Version == "" {
		// Malformed bundle; keep the previous one.
		s.mu.Lock()
		s.status = StatusError
		s.lastSyncedAt = now
		s.lastError = "server returned updated bundle with empty version"
		s.mu.Unlock()
		return errors.NewSyncError(s.agentID, "sync", errors.ErrSyncFailed)
	}

	bundle := resp.Bundle()
	s.mu.Lock()
	s.bundle = bundle
	s.status = StatusUpdated
	s.lastSyncedAt = now
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Info("policy bundle updated",
		slog.String("version", bundle.Version),
		slog.Int("policy_count", bundle.PolicyCount))

	if s.onUpdate != nil {
		s.onUpdate(bundle)
	}
	return nil
}

// Run syncs on a timer until the context is cancelled. Failures are logged
// and retried on the next tick.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Warn("policy sync failed", slog.Any("error", err))
			}
		}
	}
}

// Bundle returns the last-known-good bundle, or nil before the first
// successful sync.
func (s *Syncer) Bundle() *models.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle
}

// State returns a snapshot of the last sync attempt.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Status:       s.status,
		LastSyncedAt: s.lastSyncedAt,
		LastError:    s.lastError,
	}
	if s.bundle != nil {
		st.Version = s.bundle.Version
	}
	return st
}
