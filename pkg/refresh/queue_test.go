package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/identifier"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// newTestSession creates a session for the fixture root.
func newTestSession(t *testing.T, f *fixture, options SessionOptions) *Session {
	// Mark ourselves as a helper function.
	t.Helper()

	// Create the session.
	session, err := NewSession([]*vfs.Node{f.tree.Root()}, options)
	if err != nil {
		t.Fatal("unable to create session:", err)
	}
	return session
}

// TestNewSessionInvalid tests session creation validation.
func TestNewSessionInvalid(t *testing.T) {
	if _, err := NewSession(nil, SessionOptions{}); err == nil {
		t.Error("session without roots accepted")
	}
	first := newFixture(t, true, nil, nil)
	second := newFixture(t, true, nil, nil)
	roots := []*vfs.Node{first.tree.Root(), second.tree.Root()}
	if _, err := NewSession(roots, SessionOptions{}); err == nil {
		t.Error("session with roots from different trees accepted")
	}
}

// TestQueueSynchronous tests synchronous execution.
func TestQueueSynchronous(t *testing.T) {
	// Create the fixture and queue.
	f := newFixture(t, true, nil, nil)
	queue := NewQueue(f.refresher, nil)
	defer queue.Shutdown()

	// Register a listener.
	var lock sync.Mutex
	var delivered []*Event
	remove := queue.AddListener(func(_ context.Context, events []*Event) {
		lock.Lock()
		delivered = append(delivered, events...)
		lock.Unlock()
	})

	// Execute a session.
	f.fileSystem.WriteFile("/p/a", 1, time.Unix(1, 0))
	session := newTestSession(t, f, SessionOptions{MarkDirty: true})
	if !identifier.IsValid(session.ID()) {
		t.Error("session identifier invalid:", session.ID())
	}
	if session.Outcome() != OutcomePending || session.Events() != nil {
		t.Error("unexecuted session reports results")
	}
	if err := queue.Execute(context.Background(), session); err != nil {
		t.Fatal("unable to execute session:", err)
	}

	// Verify results.
	if session.Outcome() != OutcomeCompleted {
		t.Error("session did not complete:", session.Outcome())
	}
	expectEvents(t, session.Events(), "created a")
	if f.tree.Find("/p/a") == nil {
		t.Error("events not applied before completion")
	}
	lock.Lock()
	if len(delivered) != 1 {
		t.Error("listener did not receive events")
	}
	lock.Unlock()

	// Verify that removed listeners aren't invoked.
	remove()
	f.fileSystem.WriteFile("/p/b", 1, time.Unix(1, 0))
	if err := queue.Execute(context.Background(), newTestSession(t, f, SessionOptions{MarkDirty: true})); err != nil {
		t.Fatal("unable to execute session:", err)
	}
	lock.Lock()
	if len(delivered) != 1 {
		t.Error("removed listener invoked")
	}
	lock.Unlock()
}

// TestQueueAsynchronous tests asynchronous execution and state tracking.
func TestQueueAsynchronous(t *testing.T) {
	f := newFixture(t, true, nil, nil)
	queue := NewQueue(f.refresher, nil)
	defer queue.Shutdown()

	// Grab the initial state.
	index, err := queue.State(context.Background(), 0)
	if err != nil {
		t.Fatal("unable to query state:", err)
	}

	// Execute a session.
	f.fileSystem.WriteFile("/p/a", 1, time.Unix(1, 0))
	session := newTestSession(t, f, SessionOptions{Asynchronous: true, MarkDirty: true})
	if err := queue.Execute(context.Background(), session); err != nil {
		t.Fatal("unable to execute session:", err)
	}

	// Wait for completion.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := queue.State(ctx, index); err != nil {
		t.Fatal("unable to wait for state change:", err)
	}
	if err := session.Wait(ctx); err != nil {
		t.Fatal("unable to wait for session:", err)
	}
	expectEvents(t, session.Events(), "created a")
}

// TestQueueInlineFromListener tests that synchronous sessions requested by
// listeners run inline.
func TestQueueInlineFromListener(t *testing.T) {
	f := newFixture(t, true, nil, nil)
	queue := NewQueue(f.refresher, nil)
	defer queue.Shutdown()

	// Register a listener that performs a nested refresh once.
	var nested *Session
	queue.AddListener(func(ctx context.Context, _ []*Event) {
		if nested != nil {
			return
		}
		f.fileSystem.WriteFile("/p/b", 1, time.Unix(1, 0))
		nested = newTestSession(t, f, SessionOptions{MarkDirty: true})
		if err := queue.Execute(ctx, nested); err != nil {
			t.Error("unable to execute nested session:", err)
		}
	})

	// Execute the outer session.
	f.fileSystem.WriteFile("/p/a", 1, time.Unix(1, 0))
	session := newTestSession(t, f, SessionOptions{MarkDirty: true})
	if err := queue.Execute(context.Background(), session); err != nil {
		t.Fatal("unable to execute session:", err)
	}
	if nested == nil || nested.Outcome() != OutcomeCompleted {
		t.Fatal("nested session did not complete inline")
	}
	expectEvents(t, nested.Events(), "created b")
}

// TestQueueSynchronousUnderReadLockPanics tests misuse detection.
func TestQueueSynchronousUnderReadLockPanics(t *testing.T) {
	f := newFixture(t, true, nil, nil)
	queue := NewQueue(f.refresher, nil)
	defer queue.Shutdown()
	f.tree.Read(context.Background(), func(ctx context.Context) {
		defer func() {
			if recover() == nil {
				t.Error("synchronous refresh under read lock did not panic")
			}
		}()
		queue.Execute(ctx, newTestSession(t, f, SessionOptions{MarkDirty: true}))
	})

	// Asynchronous sessions are permitted.
	f.tree.Read(context.Background(), func(ctx context.Context) {
		session := newTestSession(t, f, SessionOptions{Asynchronous: true})
		if err := queue.Execute(ctx, session); err != nil {
			t.Error("unable to execute asynchronous session:", err)
		}
	})
}

// TestQueueExecuteCancelled tests that cancelling the caller's context cancels
// the session.
func TestQueueExecuteCancelled(t *testing.T) {
	f := newFixture(t, true, nil, nil)
	queue := NewQueue(f.refresher, nil)
	defer queue.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := newTestSession(t, f, SessionOptions{MarkDirty: true})
	if err := queue.Execute(ctx, session); !errors.Is(err, context.Canceled) {
		t.Error("cancelled execution did not return cancellation error:", err)
	}
	if outcome := session.Outcome(); outcome == OutcomePending {
		t.Error("cancelled session did not finish")
	}
}

// TestQueueShutdown tests shutdown behavior.
func TestQueueShutdown(t *testing.T) {
	f := newFixture(t, true, nil, nil)
	queue := NewQueue(f.refresher, nil)
	queue.Shutdown()
	queue.Shutdown()
	session := newTestSession(t, f, SessionOptions{})
	if err := queue.Execute(context.Background(), session); !errors.Is(err, ErrQueueShutdown) {
		t.Error("execution after shutdown did not fail as expected:", err)
	}
	if _, err := queue.State(context.Background(), 0); err == nil {
		t.Error("state tracking not terminated by shutdown")
	}
}
