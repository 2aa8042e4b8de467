package session

import (
	"context"
	"sync"
	"time"
)

const defaultAttemptRetention = time.Hour

// AttemptTracker records failed activation proofs for sliding-window abuse
// detection.
type AttemptTracker interface {
	RecordFailure(ctx context.Context, at time.Time) error
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// MemoryAttemptTracker keeps failure timestamps in process memory, dropping
// those older than the retention window.
type MemoryAttemptTracker struct {
	mu        sync.Mutex
	failures  []time.Time
	retention time.Duration
}

// NewMemoryAttemptTracker keeps failures for retention.
func NewMemoryAttemptTracker(retention time.Duration) *MemoryAttemptTracker {
	if retention <= 0 {
		retention = defaultAttemptRetention
	}
	return &MemoryAttemptTracker{retention: retention}
}

func (t *MemoryAttemptTracker) RecordFailure(_ context.Context, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(at.Add(-t.retention))
	t.failures = append(t.failures, at)
	return nil
}

func (t *MemoryAttemptTracker) CountSince(_ context.Context, since time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, f := range t.failures {
		if !f.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *MemoryAttemptTracker) prune(cutoff time.Time) {
	kept := t.failures[:0]
	for _, f := range t.failures {
		if !f.Before(cutoff) {
			kept = append(kept, f)
		}
	}
	t.failures = kept
}
