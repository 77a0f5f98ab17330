package monitor

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// Enforcement retry bounds for files still locked by a copy in progress.
const (
	enforceAttempts   = 4
	enforceDelay      = 200 * time.Millisecond
	enforceMaxBackoff = 2 * time.Second
)

// processTransfer handles a create/modify at a monitored destination: wait
// for the copy to settle, hash it, and search the policy's protected source
// trees for the origin. No source match means the file did not come from a
// protected path and nothing happens.
func (c *Core) processTransfer(_ context.Context, n notification, pol models.Policy) {
	if c.cfg.SettleDelay > 0 {
		c.clk.Sleep(c.cfg.SettleDelay)
	}

	info, err := os.Stat(n.Path)
	if err != nil || info.IsDir() {
		return
	}
	destHash, err := hashFile(n.Path)
	if err != nil {
		c.logger.Warn("failed to hash transfer candidate",
			slog.String("path", n.Path), slog.Any("error", err))
		return
	}

	source, root, ok := findSource(pol.ProtectedPaths(), filepath.Base(n.Path), info.Size(), destHash)
	if !ok {
		return
	}

	action := pol.ConfigAction("alert")
	blocked := false
	quarantinedTo := ""
	switch action {
	case "block":
		if err := c.removeWithRetry(n.Path); err != nil {
			c.logger.Error("failed to block transfer",
				slog.String("path", n.Path), slog.Any("error", err))
			action = "alert"
		} else {
			blocked = true
		}
	case "quarantine":
		dst, err := c.quarantine(n.Path, pol.QuarantinePath())
		if err != nil {
			c.logger.Error("failed to quarantine transfer",
				slog.String("path", n.Path), slog.Any("error", err))
			action = "alert"
		} else {
			blocked = true
			quarantinedTo = dst
		}
	default:
		action = "alert"
	}

	ev := &models.Event{
		EventID:   uuid.NewString(),
		AgentID:   c.cfg.AgentID,
		Type:      models.EventTypeFileTransfer,
		Subtype:   n.Subtype,
		Timestamp: n.At,
		Hostname:  c.cfg.Hostname,
		Username:  c.cfg.Username,
		Severity:  pol.Severity,
		File: &models.FileInfo{
			Path:      n.Path,
			Name:      filepath.Base(n.Path),
			Extension: extOf(n.Path),
			SizeBytes: info.Size(),
			SHA256:    destHash,
		},
		Transfer: &models.TransferInfo{
			SourcePath:      source,
			DestinationPath: n.Path,
			ProtectedRoot:   root,
			MatchBasis:      "hash",
		},
		PolicyIDs:   []string{pol.ID},
		ActionTaken: action,
		Metadata: map[string]any{
			"policy_version": c.policyVersion,
			"blocked":        blocked,
		},
	}
	if quarantinedTo != "" {
		// The server honors agent-reported quarantines under these keys
		// instead of scheduling its own move.
		ev.Metadata["quarantined"] = true
		ev.Metadata["quarantine_path"] = quarantinedTo
	}

	c.logger.Info("protected file transfer detected",
		slog.String("source", source),
		slog.String("destination", n.Path),
		slog.String("action", action))

	c.emit(ev)
}

// findSource walks the protected roots for a file matching the destination
// copy. Name is compared first, then size, then hash, so the expensive
// digest only runs on plausible candidates. First exact match wins.
func findSource(roots []string, baseName string, size int64, hash string) (path, root string, ok bool) {
	for _, r := range roots {
		rootPath := filepath.Clean(os.ExpandEnv(r))
		var found string
		_ = filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || d.Name() != baseName {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.Size() != size {
				return nil
			}
			h, err := hashFile(p)
			if err != nil || h != hash {
				return nil
			}
			found = p
			return fs.SkipAll
		})
		if found != "" {
			return found, rootPath, true
		}
	}
	return "", "", false
}

// removeWithRetry deletes a file, retrying with backoff in case the copy
// still holds a lock on it.
func (c *Core) removeWithRetry(path string) error {
	return retry.Do(func() error {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}, retry.Attempts(enforceAttempts), retry.Delay(enforceDelay), retry.MaxDelay(enforceMaxBackoff))
}

func extOf(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext[1:]
	}
	return ""
}
