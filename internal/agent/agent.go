package agent

import (
	"context"
	"log/slog"
	"os"
	"os/user"
	"runtime"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/agent/monitor"
	policysync "github.com/effaaykhan/Data-Loss-Prevention/internal/agent/sync"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/classify"
	"github.com/effaaykhan/Data-Loss-Prevention/internal/config"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

const (
	submitBatchSize    = 20
	submitFlushEvery   = 5 * time.Second
	failedDrainEvery   = time.Minute
	unregisterDeadline = 3 * time.Second
)

// Agent supervises the endpoint: registration, the sync and heartbeat
// timers, the monitoring core, and event submission with a bounded
// failed-event queue.
type Agent struct {
	cfg     config.AgentConfig
	version string
	client  *Client
	logger  *slog.Logger

	agentID string
	syncer  *policysync.Syncer
	core    *monitor.Core

	outbound     chan *models.Event
	failedEvents chan *models.Event

	wg gosync.WaitGroup
}

// New builds an agent from configuration. version is the agent build
// version reported at registration and checked by the server.
func New(cfg config.AgentConfig, version string, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.FailedEventBuffer
	if buffer <= 0 {
		buffer = 100
	}

	a := &Agent{
		cfg:          cfg,
		version:      version,
		client:       NewClient(cfg.ServerURL, cfg.APIKey, cfg.RequestTimeout, logger),
		logger:       logger,
		outbound:     make(chan *models.Event, buffer),
		failedEvents: make(chan *models.Event, buffer),
	}

	a.agentID = cfg.AgentID
	if a.agentID == "" {
		a.agentID = uuid.NewString()
	}

	hostname, _ := os.Hostname()
	username := currentUsername()

	quarantinePath := ""
	if cfg.QuarantineEnabled {
		quarantinePath = cfg.QuarantinePath
	}
	a.core = monitor.New(monitor.Config{
		AgentID:           a.agentID,
		Hostname:          hostname,
		Username:          username,
		FallbackPaths:     cfg.MonitoredPaths,
		ExcludedPaths:     cfg.ExcludedPaths,
		TrackedExtensions: cfg.TrackedExtensions,
		DedupWindow:       cfg.DedupWindow,
		MaxFileSize:       cfg.MaxFileSize,
		QuarantinePath:    quarantinePath,
	}, classify.New(), a.enqueue, logger)

	a.syncer = policysync.New(a.client, a.agentID, runtime.GOOS, capabilities(),
		cfg.SyncInterval, a.core.Reconcile, logger)

	return a
}

// AgentID returns the identity the agent registered under.
func (a *Agent) AgentID() string { return a.agentID }

// Run registers, performs the initial synchronous policy sync, then runs
// monitoring, sync, heartbeat, and submission loops until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	hostname, _ := os.Hostname()
	reg := &Registration{
		AgentID:      a.agentID,
		Name:         a.cfg.Name,
		Hostname:     hostname,
		OS:           runtime.GOOS,
		OSVersion:    osVersion(),
		IPAddress:    LocalIP(a.cfg.ServerURL),
		Version:      a.version,
		Capabilities: capabilities(),
	}
	registered, err := a.client.Register(ctx, reg)
	if err != nil {
		return err
	}
	a.agentID = registered.AgentID
	a.logger.Info("agent registered",
		slog.String("agent_id", a.agentID),
		slog.String("server", a.cfg.ServerURL))

	// First sync runs before the watchers so monitoring starts with a
	// bundle. A failure here is not fatal; the sync timer will retry.
	if err := a.syncer.SyncOnce(ctx); err != nil {
		a.logger.Warn("initial policy sync failed", slog.Any("error", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.wg.Add(4)
	go func() {
		defer a.wg.Done()
		a.core.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.syncer.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.heartbeatLoop(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.submitLoop(runCtx)
	}()

	<-ctx.Done()
	cancel()
	a.wg.Wait()

	// Best effort; the server will notice the missing heartbeats anyway.
	unregCtx, unregCancel := context.WithTimeout(context.Background(), unregisterDeadline)
	defer unregCancel()
	if err := a.client.Unregister(unregCtx, a.agentID); err != nil {
		a.logger.Warn("unregister failed", slog.Any("error", err))
	}
	return nil
}

// enqueue hands a detection event to the submission loop. The queue is
// bounded; overflow falls into the failed queue or is dropped with a log.
func (a *Agent) enqueue(ev *models.Event) {
	select {
	case a.outbound <- ev:
	default:
		a.queueFailed(ev)
	}
}

func (a *Agent) queueFailed(ev *models.Event) {
	select {
	case a.failedEvents <- ev:
	default:
		a.logger.Warn("failed-event queue full, dropping event",
			slog.String("event_id", ev.EventID),
			slog.String("type", string(ev.Type)))
	}
}

// submitLoop batches outbound events and ships them, retrying failures from
// the bounded failed queue on a slower timer.
func (a *Agent) submitLoop(ctx context.Context) {
	flush := time.NewTicker(submitFlushEvery)
	defer flush.Stop()
	drain := time.NewTicker(failedDrainEvery)
	defer drain.Stop()

	var batch []*models.Event
	send := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.client.SubmitEvents(ctx, batch); err != nil {
			a.logger.Warn("event submission failed, queuing for retry",
				slog.Int("count", len(batch)), slog.Any("error", err))
			for _, ev := range batch {
				a.queueFailed(ev)
			}
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			send()
			return
		case ev := <-a.outbound:
			batch = append(batch, ev)
			if len(batch) >= submitBatchSize {
				send()
			}
		case <-flush.C:
			send()
		case <-drain.C:
			send()
			a.drainFailed(ctx)
		}
	}
}

// drainFailed retries everything queued at drain time. Events that fail
// again go back on the queue if there is room.
func (a *Agent) drainFailed(ctx context.Context) {
	n := len(a.failedEvents)
	if n == 0 {
		return
	}
	retried := make([]*models.Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-a.failedEvents:
			retried = append(retried, ev)
		default:
		}
	}
	if err := a.client.SubmitEvents(ctx, retried); err != nil {
		a.logger.Warn("failed-event retry unsuccessful",
			slog.Int("count", len(retried)), slog.Any("error", err))
		for _, ev := range retried {
			a.queueFailed(ev)
		}
		return
	}
	a.logger.Info("flushed failed events", slog.Int("count", len(retried)))
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.Heartbeat(ctx, a.agentID, a.buildHeartbeat()); err != nil {
				a.logger.Warn("heartbeat failed", slog.Any("error", err))
			}
		}
	}
}

// buildHeartbeat carries liveness plus the last policy sync outcome so the
// server can surface agents stuck on stale bundles.
func (a *Agent) buildHeartbeat() *models.Heartbeat {
	st := a.syncer.State()
	hb := &models.Heartbeat{
		Timestamp:        time.Now().UTC(),
		IPAddress:        LocalIP(a.cfg.ServerURL),
		PolicyVersion:    st.Version,
		PolicySyncStatus: st.Status,
		PolicySyncError:  st.LastError,
	}
	if !st.LastSyncedAt.IsZero() {
		hb.PolicyLastSyncedAt = st.LastSyncedAt.Format(time.RFC3339)
	}
	return hb
}

// capabilities reports which policy types this build can enforce.
// Platform-native clipboard and USB capture are not compiled in.
func capabilities() map[string]bool {
	return map[string]bool{
		"file_monitoring":      true,
		"clipboard_monitoring": false,
		"usb_monitoring":       false,
		"cloud_monitoring":     false,
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func osVersion() string {
	// Release detail needs platform-specific syscalls; GOOS/GOARCH is
	// enough for inventory purposes.
	return runtime.GOOS + "/" + runtime.GOARCH
}
