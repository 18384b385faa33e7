package state

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackingTerminated indicates that tracking was terminated.
var ErrTrackingTerminated = errors.New("tracking terminated")

// Tracker provides index-based state tracking. Waiters block until the state
// index moves away from a previously observed value, until their context is
// cancelled, or until tracking is terminated. A Tracker is safe for concurrent
// usage.
type Tracker struct {
	// lock serializes access to the tracker's fields.
	lock sync.Mutex
	// index is the current state index.
	index uint64
	// changed is closed and replaced on every state change.
	changed chan struct{}
	// terminated indicates whether or not tracking has been terminated.
	terminated bool
}

// NewTracker creates a new tracker instance with state index 1.
func NewTracker() *Tracker {
	return &Tracker{
		index:   1,
		changed: make(chan struct{}),
	}
}

// NotifyOfChange increments the state index and notifies waiters. It has no
// effect after Terminate.
func (t *Tracker) NotifyOfChange() {
	// Acquire the state lock and ensure its release.
	t.lock.Lock()
	defer t.lock.Unlock()

	// If tracking has been terminated, then there's nothing to do.
	if t.terminated {
		return
	}

	// Increment the state index and wake waiters.
	t.index += 1
	close(t.changed)
	t.changed = make(chan struct{})
}

// Terminate terminates tracking and wakes all waiters. It is idempotent.
func (t *Tracker) Terminate() {
	// Acquire the state lock and ensure its release.
	t.lock.Lock()
	defer t.lock.Unlock()

	// Mark termination and wake waiters if this is the first call.
	if !t.terminated {
		t.terminated = true
		close(t.changed)
	}
}

// WaitForChange waits for the state index to change from previousIndex. It
// returns the current index along with ErrTrackingTerminated if tracking has
// been terminated, or the context's error if the context is cancelled first.
func (t *Tracker) WaitForChange(ctx context.Context, previousIndex uint64) (uint64, error) {
	for {
		// Grab the current state.
		t.lock.Lock()
		index, terminated, changed := t.index, t.terminated, t.changed
		t.lock.Unlock()

		// Check for completion conditions.
		if terminated {
			return index, ErrTrackingTerminated
		} else if index != previousIndex {
			return index, nil
		}

		// Wait for a change or cancellation.
		select {
		case <-changed:
		case <-ctx.Done():
			return index, ctx.Err()
		}
	}
}
