// Package monitor is the agent's monitoring core: it owns the filesystem
// watchers, the dedup map, local classification, and local enforcement.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/classify"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/metrics"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

const (
	defaultQueueSize   = 256
	defaultSettleDelay = 500 * time.Millisecond
	maxConcurrentJobs  = 4
)

// Config is the monitoring core's static configuration. Policy-derived
// settings arrive later through Reconcile.
type Config struct {
	AgentID  string
	Hostname string
	Username string

	// FallbackPaths are watched when no synced policy declares paths.
	FallbackPaths     []string
	ExcludedPaths     []string
	TrackedExtensions []string

	DedupWindow time.Duration
	MaxFileSize int64

	// QuarantinePath is where quarantined files land when a policy does
	// not name its own folder. Empty disables quarantine.
	QuarantinePath string

	// SettleDelay is how long transfer detection waits for a copy to finish
	// before hashing the destination file. Negative disables the wait.
	SettleDelay time.Duration
	QueueSize   int
}

// Core is the single-owner consumer over raw filesystem notifications.
// Watcher goroutines only send on the queue; the dedup map, the watched
// path set, and the active policy view are touched by Run exclusively.
type Core struct {
	cfg        Config
	classifier *classify.Classifier
	emit       func(*models.Event)
	logger     *slog.Logger
	clk        clock.Clock
	events     *metrics.EventMetrics

	notifications chan notification
	reconcileCh   chan *models.Bundle

	// Consumer-owned state.
	dedup            *deduper
	watchers         map[string]*pathWatcher
	fsPolicies       []models.Policy
	transferPolicies []models.Policy
	policyVersion    string
	exclusions       []string

	sem  chan struct{}
	jobs sync.WaitGroup
}

// Option configures a Core.
type Option func(*Core)

// WithClock injects a clock for deterministic dedup tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Core) { c.clk = clk }
}

// WithEventMetrics wires queue depth and dedup counters.
func WithEventMetrics(em *metrics.EventMetrics) Option {
	return func(c *Core) { c.events = em }
}

// New creates a monitoring core. emit receives every accepted event and must
// not block for long; the supervisor queues them for submission.
func New(cfg Config, classifier *classify.Classifier, emit func(*models.Event), logger *slog.Logger, opts ...Option) *Core {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		cfg:           cfg,
		classifier:    classifier,
		emit:          emit,
		logger:        logger,
		clk:           clock.New(),
		notifications: make(chan notification, cfg.QueueSize),
		reconcileCh:   make(chan *models.Bundle, 1),
		watchers:      make(map[string]*pathWatcher),
		sem:           make(chan struct{}, maxConcurrentJobs),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dedup = newDeduper(cfg.DedupWindow, c.clk)
	c.exclusions = c.staticExclusions()
	return c
}

// Reconcile requests that the watcher set be rebuilt from the bundle. The
// request is dropped if a reconciliation is already pending; the next sync
// tick will carry the same bundle version anyway.
func (c *Core) Reconcile(b *models.Bundle) {
	select {
	case c.reconcileCh <- b:
	default:
		c.logger.Debug("reconciliation already pending, dropping request")
	}
}

// Run consumes notifications and reconcile requests until the context is
// cancelled, then stops all watchers and waits for in-flight work.
func (c *Core) Run(ctx context.Context) {
	defer func() {
		c.stopWatchers()
		c.jobs.Wait()
	}()

	for {
		if c.events != nil {
			c.events.QueueDepth.Set(float64(len(c.notifications)))
		}
		select {
		case <-ctx.Done():
			return
		case b := <-c.reconcileCh:
			c.applyBundle(b)
		case n := <-c.notifications:
			c.handleNotification(ctx, n)
		}
	}
}

// notify feeds a raw notification into the queue. Watcher goroutines use
// the queue directly; this exists for tests and external event sources.
func (c *Core) notify(n notification) bool {
	select {
	case c.notifications <- n:
		return true
	default:
		return false
	}
}

// applyBundle rebuilds the policy view and, when the resolved root set
// changed, restarts the watchers.
func (c *Core) applyBundle(b *models.Bundle) {
	c.fsPolicies = toPolicies(b.PoliciesOfType(models.PolicyTypeFileSystem))
	c.transferPolicies = append(
		toPolicies(b.PoliciesOfType(models.PolicyTypeFileTransfer)),
		toPolicies(b.PoliciesOfType(models.PolicyTypeUSBTransfer))...)
	c.policyVersion = b.Version
	c.exclusions = c.resolveExclusions()

	roots := c.resolveRoots()
	if c.sameRoots(roots) && len(c.watchers) > 0 {
		c.logger.Debug("monitored path set unchanged", slog.Int("roots", len(roots)))
		return
	}

	c.stopWatchers()
	for norm, actual := range roots {
		if _, err := os.Stat(actual); err != nil {
			c.logger.Warn("skipping missing monitored path", slog.String("path", actual))
			continue
		}
		w, err := newPathWatcher(actual, c.notifications, c.logger)
		if err != nil {
			c.logger.Warn("failed to watch path", slog.String("path", actual), slog.Any("error", err))
			continue
		}
		c.watchers[norm] = w
		c.logger.Info("watching path", slog.String("path", actual))
	}
}

// resolveRoots computes normalized-root → actual-path for the effective
// monitored set: policy-declared paths when any exist, else the fallback.
// Transfer destinations are always watched so copies can be intercepted.
func (c *Core) resolveRoots() map[string]string {
	roots := make(map[string]string)
	add := func(p string) {
		expanded := filepath.Clean(os.ExpandEnv(p))
		if expanded == "" || expanded == "." {
			return
		}
		roots[models.NormalizePath(expanded)] = expanded
	}

	declared := false
	for i := range c.fsPolicies {
		for _, p := range c.fsPolicies[i].MonitoredPaths() {
			declared = true
			add(p)
		}
	}
	if !declared {
		for _, p := range c.cfg.FallbackPaths {
			add(p)
		}
	}
	for i := range c.transferPolicies {
		for _, p := range c.transferPolicies[i].MonitoredDestinations() {
			add(p)
		}
	}
	return roots
}

func (c *Core) sameRoots(roots map[string]string) bool {
	if len(roots) != len(c.watchers) {
		return false
	}
	for norm := range roots {
		if _, ok := c.watchers[norm]; !ok {
			return false
		}
	}
	return true
}

func (c *Core) stopWatchers() {
	for norm, w := range c.watchers {
		w.stop()
		delete(c.watchers, norm)
	}
}

// staticExclusions builds the exclusion list available before any bundle.
func (c *Core) staticExclusions() []string {
	out := make([]string, 0, len(c.cfg.ExcludedPaths)+1)
	for _, p := range c.cfg.ExcludedPaths {
		out = append(out, models.NormalizePath(filepath.Clean(os.ExpandEnv(p))))
	}
	if c.cfg.QuarantinePath != "" {
		out = append(out, models.NormalizePath(filepath.Clean(os.ExpandEnv(c.cfg.QuarantinePath))))
	}
	return out
}

// resolveExclusions extends the static list with per-policy quarantine
// folders so quarantine moves never re-trigger monitoring.
func (c *Core) resolveExclusions() []string {
	out := c.staticExclusions()
	for i := range c.transferPolicies {
		if q := c.transferPolicies[i].QuarantinePath(); q != "" {
			out = append(out, models.NormalizePath(filepath.Clean(os.ExpandEnv(q))))
		}
	}
	return out
}

func (c *Core) isExcluded(normPath string) bool {
	base := filepath.Base(normPath)
	for _, ex := range c.exclusions {
		if strings.ContainsAny(ex, "*?[") {
			if ok, _ := filepath.Match(ex, base); ok {
				return true
			}
			continue
		}
		if normPath == ex || strings.HasPrefix(normPath, ex+"/") {
			return true
		}
	}
	return false
}

// handleNotification runs on the consumer goroutine: exclusion, dedup, and
// routing. Hashing and classification happen on worker goroutines so slow
// disks never stall notification intake.
func (c *Core) handleNotification(ctx context.Context, n notification) {
	norm := models.NormalizePath(filepath.Clean(n.Path))
	if c.isExcluded(norm) {
		return
	}

	if !c.dedup.accept(norm, n.Subtype) {
		if c.events != nil {
			c.events.DeduplicatedTotal.Inc()
		}
		return
	}

	if pol := c.destinationPolicyFor(norm); pol != nil &&
		(n.Subtype == models.FileEventCreated || n.Subtype == models.FileEventModified) {
		c.spawn(func() { c.processTransfer(ctx, n, *pol) })
		return
	}

	pol := c.fileSystemPolicyFor(norm)
	if pol == nil {
		// Without a covering policy the event is only authorized when the
		// static fallback surface is in effect and covers the path.
		if c.declaredPaths() || !c.underFallback(norm) {
			return
		}
	}
	c.spawn(func() { c.processFileEvent(ctx, n, pol) })
}

func (c *Core) spawn(fn func()) {
	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()
		fn()
	}()
}

// fileSystemPolicyFor returns the first policy whose monitored path is a
// prefix of the normalized path. Bundle groups are priority ordered.
func (c *Core) fileSystemPolicyFor(normPath string) *models.Policy {
	for i := range c.fsPolicies {
		for _, root := range c.fsPolicies[i].MonitoredPaths() {
			if pathHasPrefix(normPath, root) {
				return &c.fsPolicies[i]
			}
		}
	}
	return nil
}

// destinationPolicyFor returns the first transfer policy whose destination
// prefix matches the normalized path.
func (c *Core) destinationPolicyFor(normPath string) *models.Policy {
	for i := range c.transferPolicies {
		for _, dest := range c.transferPolicies[i].MonitoredDestinations() {
			if pathHasPrefix(normPath, dest) {
				return &c.transferPolicies[i]
			}
		}
	}
	return nil
}

// declaredPaths reports whether any file-system policy declares its own
// monitored paths, which switches the fallback surface off.
func (c *Core) declaredPaths() bool {
	for i := range c.fsPolicies {
		if len(c.fsPolicies[i].MonitoredPaths()) > 0 {
			return true
		}
	}
	return false
}

func (c *Core) underFallback(normPath string) bool {
	for _, p := range c.cfg.FallbackPaths {
		if pathHasPrefix(normPath, p) {
			return true
		}
	}
	return false
}

func pathHasPrefix(normPath, root string) bool {
	r := models.NormalizePath(filepath.Clean(os.ExpandEnv(root)))
	return normPath == r || strings.HasPrefix(normPath, r+"/")
}

// trackedExtension reports whether the path passes the extension filter.
// Policy-declared extensions win over the static config; empty means all.
func (c *Core) trackedExtension(path string, pol *models.Policy) bool {
	exts := c.cfg.TrackedExtensions
	if pol != nil {
		if pe := pol.TrackedExtensions(); len(pe) > 0 {
			exts = pe
		}
	}
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(strings.TrimPrefix(e, ".")) == strings.TrimPrefix(ext, ".") {
			return true
		}
	}
	return false
}

// processFileEvent enriches and emits one file-system event. File-system
// monitoring is detection only: configured actions other than alert or log
// are downgraded to log so passive monitoring never destroys data.
func (c *Core) processFileEvent(_ context.Context, n notification, pol *models.Policy) {
	if !c.trackedExtension(n.Path, pol) {
		return
	}

	ev := &models.Event{
		EventID:   uuid.NewString(),
		AgentID:   c.cfg.AgentID,
		Type:      models.EventTypeFileSystem,
		Subtype:   n.Subtype,
		Timestamp: n.At,
		Hostname:  c.cfg.Hostname,
		Username:  c.cfg.Username,
		File: &models.FileInfo{
			Path:      n.Path,
			Name:      filepath.Base(n.Path),
			Extension: extOf(n.Path),
		},
		Metadata: map[string]any{"policy_version": c.policyVersion},
	}

	if n.Subtype != models.FileEventDeleted {
		c.inspectFile(ev)
	}

	action := "log"
	if pol != nil {
		ev.PolicyIDs = []string{pol.ID}
		ev.Severity = pol.Severity
		action = pol.ConfigAction("log")
		if action != "alert" && action != "log" {
			c.logger.Warn("downgrading file monitoring action to log",
				slog.String("policy_id", pol.ID),
				slog.String("configured", action))
			action = "log"
		}
	}
	if ev.Classification != nil && ev.Classification.Sensitive {
		ev.Severity = ev.Severity.Max(ev.Classification.Severity)
	}
	ev.ActionTaken = action

	c.emit(ev)
}

// inspectFile stats, size-gates, hashes, and classifies the event's file.
// Read failures degrade to an event flagged content-unavailable.
func (c *Core) inspectFile(ev *models.Event) {
	info, err := os.Stat(ev.File.Path)
	if err != nil {
		ev.Metadata["content_unavailable"] = true
		return
	}
	ev.File.SizeBytes = info.Size()

	if c.cfg.MaxFileSize > 0 && info.Size() > c.cfg.MaxFileSize {
		ev.Metadata["content_skipped"] = "file exceeds inspection size limit"
		return
	}

	if hash, err := hashFile(ev.File.Path); err == nil {
		ev.File.SHA256 = hash
	} else {
		ev.Metadata["content_unavailable"] = true
	}

	if c.classifier != nil {
		if cls, err := c.classifier.ClassifyFile(ev.File.Path); err == nil {
			ev.Classification = &cls
		}
	}
}

func toPolicies(entries []models.BundlePolicy) []models.Policy {
	if len(entries) == 0 {
		return nil
	}
	out := make([]models.Policy, 0, len(entries))
	for _, bp := range entries {
		out = append(out, bp.ToPolicy())
	}
	return out
}

// hashFile computes the streaming SHA-256 of a file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
