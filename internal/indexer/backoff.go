package indexer

import (
	"sync"
	"time"

	"github.com/veil-protocol/veil/pkg/common"
)

// DegradationTracker implements §7's backoff accounting: it counts
// transport failures within a rolling window and reports
// common.ErrIndexerDegraded once a caller-chosen threshold is reached,
// instead of retrying forever on a dead settlement-layer endpoint.
// Grounded in the retry shape implied by
// original_source/indexer/src/client/solana.rs's connection handling
// (dial, retry, reconnect) generalized into an explicit counter+window
// since the original never surfaces a degraded state of its own.
type DegradationTracker struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures []time.Time
}

// NewDegradationTracker returns a tracker that degrades once max
// failures have landed within window.
func NewDegradationTracker(max int, window time.Duration) *DegradationTracker {
	return &DegradationTracker{max: max, window: window}
}

// Fail records a failure at now and returns common.ErrIndexerDegraded if
// the window now holds max or more failures, nil otherwise.
func (d *DegradationTracker) Fail(now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.window)
	kept := d.failures[:0]
	for _, t := range d.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.failures = append(kept, now)

	if len(d.failures) >= d.max {
		return common.ErrIndexerDegraded
	}
	return nil
}

// Reset clears the tracker after a successful operation.
func (d *DegradationTracker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = d.failures[:0]
}
