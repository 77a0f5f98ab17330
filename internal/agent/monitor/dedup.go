package monitor

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// createdModifiedGap suppresses the modified notification most watcher
// backends fire right after a create for a single logical write.
const createdModifiedGap = 1 * time.Second

// dedupMaxEntries bounds the map before pruning kicks in.
const dedupMaxEntries = 1000

type dedupKey struct {
	path    string
	subtype string
}

// deduper collapses duplicate OS notifications for one logical operation.
// It is owned exclusively by the consumer goroutine; no locking.
type deduper struct {
	window time.Duration
	clock  clock.Clock
	seen   map[dedupKey]time.Time
}

func newDeduper(window time.Duration, clk clock.Clock) *deduper {
	if window <= 0 {
		window = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &deduper{
		window: window,
		clock:  clk,
		seen:   make(map[dedupKey]time.Time),
	}
}

// accept records the notification and reports whether it should be
// processed. path must already be normalized.
func (d *deduper) accept(path, subtype string) bool {
	now := d.clock.Now()

	// A modified right after a created for the same path is the tail of the
	// same create+write. The created record is written on acceptance, before
	// any modified can be checked, so ordering within the consumer is safe.
	if subtype == models.FileEventModified {
		if createdAt, ok := d.seen[dedupKey{path: path, subtype: models.FileEventCreated}]; ok {
			if now.Sub(createdAt) < createdModifiedGap {
				return false
			}
		}
	}

	key := dedupKey{path: path, subtype: subtype}
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now

	if len(d.seen) > dedupMaxEntries {
		d.prune(now)
	}
	return true
}

// prune drops entries older than the window. Approximate, not exact LRU.
func (d *deduper) prune(now time.Time) {
	cutoff := now.Add(-d.window)
	for k, t := range d.seen {
		if t.Before(cutoff) {
			delete(d.seen, k)
		}
	}
}
