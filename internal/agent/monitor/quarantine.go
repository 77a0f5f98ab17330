package monitor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
)

// quarantineName builds a collision-resistant destination name:
// {UTC-timestamp}_{short-random}_{original-basename}.
func quarantineName(base string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s",
		now.UTC().Format("20060102T150405Z"),
		uuid.NewString()[:8],
		base)
}

// quarantine moves a file into the quarantine folder. The policy-specific
// folder wins over the agent-wide one. Moves retry with backoff because the
// file may still be locked by the copy that created it.
func (c *Core) quarantine(path, policyFolder string) (string, error) {
	folder := policyFolder
	if folder == "" {
		folder = c.cfg.QuarantinePath
	}
	if folder == "" {
		return "", errors.ErrQuarantineFailed
	}
	folder = filepath.Clean(os.ExpandEnv(folder))

	if err := os.MkdirAll(folder, 0o700); err != nil {
		return "", fmt.Errorf("failed to create quarantine folder: %w", err)
	}

	dst := filepath.Join(folder, quarantineName(filepath.Base(path), c.clk.Now()))
	err := retry.Do(func() error {
		return moveFile(path, dst)
	}, retry.Attempts(enforceAttempts), retry.Delay(enforceDelay), retry.MaxDelay(enforceMaxBackoff))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrQuarantineFailed, err)
	}
	return dst, nil
}

// moveFile renames, falling back to copy+delete for cross-device moves
// (removable media almost always sits on a different filesystem).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	_ = in.Close()
	return os.Remove(src)
}
