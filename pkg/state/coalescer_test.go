package state

import (
	"testing"
	"time"
)

// TestCoalescerGroupsStrobes tests that rapid strobes produce a single signal.
func TestCoalescerGroupsStrobes(t *testing.T) {
	// Create a coalescer and ensure its termination.
	coalescer := NewCoalescer(50 * time.Millisecond)
	defer coalescer.Terminate()

	// Strobe repeatedly.
	for i := 0; i < 10; i++ {
		coalescer.Strobe()
	}

	// Wait for a signal.
	select {
	case <-coalescer.Signals():
	case <-time.After(5 * time.Second):
		t.Fatal("coalesced signal not delivered")
	}

	// Ensure that no additional signal follows.
	select {
	case <-coalescer.Signals():
		t.Error("unexpected second signal")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestCoalescerNegativeWindow tests that negative windows signal immediately.
func TestCoalescerNegativeWindow(t *testing.T) {
	coalescer := NewCoalescer(-time.Second)
	defer coalescer.Terminate()
	coalescer.Strobe()
	select {
	case <-coalescer.Signals():
	case <-time.After(5 * time.Second):
		t.Fatal("signal not delivered")
	}
}

// TestCoalescerTerminate tests that strobing after termination doesn't block.
func TestCoalescerTerminate(t *testing.T) {
	coalescer := NewCoalescer(time.Millisecond)
	coalescer.Terminate()
	coalescer.Terminate()
	coalescer.Strobe()
}
