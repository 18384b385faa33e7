package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestMain verifies that no tracking Goroutines outlive the tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitResult is the result of a tracker wait.
type waitResult struct {
	// index is the returned index.
	index uint64
	// err is the returned error.
	err error
}

// startWaiters starts the specified number of waiters blocked on a change
// from previousIndex and returns the channel on which their results arrive.
func startWaiters(ctx context.Context, tracker *Tracker, previousIndex uint64, count int) <-chan waitResult {
	results := make(chan waitResult, count)
	for i := 0; i < count; i++ {
		go func() {
			index, err := tracker.WaitForChange(ctx, previousIndex)
			results <- waitResult{index, err}
		}()
	}
	return results
}

// receiveResults receives the specified number of wait results, failing if
// they don't arrive promptly.
func receiveResults(t *testing.T, results <-chan waitResult, count int) []waitResult {
	// Mark ourselves as a helper function.
	t.Helper()

	// Collect results.
	received := make([]waitResult, 0, count)
	timeout := time.After(time.Second)
	for len(received) < count {
		select {
		case result := <-results:
			received = append(received, result)
		case <-timeout:
			t.Fatal("timed out waiting for tracker waiters")
		}
	}
	return received
}

// TestTrackerCompletionSequence tests that waiters observe each notification
// in turn, with a zero previous index returning the current index.
func TestTrackerCompletionSequence(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Terminate()

	// A zero index returns immediately.
	index, err := tracker.WaitForChange(context.Background(), 0)
	if err != nil {
		t.Fatal("unable to read initial index:", err)
	} else if index != 1 {
		t.Fatal("initial index does not match expected:", index)
	}

	// Each notification wakes every waiter blocked on the previous index.
	for completed := uint64(1); completed <= 3; completed++ {
		results := startWaiters(context.Background(), tracker, index, 4)
		tracker.NotifyOfChange()
		for _, result := range receiveResults(t, results, 4) {
			if result.err != nil {
				t.Fatal("waiter failed:", result.err)
			} else if result.index != index+1 {
				t.Error("waiter index does not match expected:", result.index, "!=", index+1)
			}
		}
		index++
	}
}

// TestTrackerWaitCancelled tests that cancelling a wait returns the unchanged
// index along with the context's error.
func TestTrackerWaitCancelled(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Terminate()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	index, err := tracker.WaitForChange(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("unexpected error from cancelled wait:", err)
	} else if index != 1 {
		t.Error("index changed during cancelled wait:", index)
	}
}

// TestTrackerTerminateWakesWaiters tests that termination releases every
// blocked waiter with ErrTrackingTerminated.
func TestTrackerTerminateWakesWaiters(t *testing.T) {
	tracker := NewTracker()
	tracker.NotifyOfChange()
	results := startWaiters(context.Background(), tracker, 2, 3)
	tracker.Terminate()
	for _, result := range receiveResults(t, results, 3) {
		if !errors.Is(result.err, ErrTrackingTerminated) {
			t.Error("unexpected error from terminated wait:", result.err)
		} else if result.index != 2 {
			t.Error("index changed during termination:", result.index)
		}
	}
}

// TestTrackerNotifyAfterTerminate tests that notifications after termination
// are ignored.
func TestTrackerNotifyAfterTerminate(t *testing.T) {
	// Create and terminate a tracker.
	tracker := NewTracker()
	tracker.Terminate()
	tracker.Terminate()

	// Notify and ensure that the index doesn't move.
	tracker.NotifyOfChange()
	if index, err := tracker.WaitForChange(context.Background(), 0); !errors.Is(err, ErrTrackingTerminated) {
		t.Fatal("unexpected error from terminated tracker:", err)
	} else if index != 1 {
		t.Error("index changed after termination:", index)
	}
}
