package state

import (
	"sync"
	"testing"
)

// TestMarker tests that exactly one concurrent Mark call reports the
// transition.
func TestMarker(t *testing.T) {
	// Create a marker and verify its zero value.
	marker := &Marker{}
	if marker.Marked() {
		t.Fatal("zero-value marker is marked")
	}

	// Mark concurrently and count transitions.
	var wait sync.WaitGroup
	var lock sync.Mutex
	var transitions int
	for i := 0; i < 16; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			if marker.Mark() {
				lock.Lock()
				transitions++
				lock.Unlock()
			}
		}()
	}
	wait.Wait()

	// Verify state.
	if !marker.Marked() {
		t.Error("marker not marked")
	}
	if transitions != 1 {
		t.Error("unexpected transition count:", transitions)
	}
}
