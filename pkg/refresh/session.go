package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mutagen-io/vfsrefresh/pkg/identifier"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// SessionOptions control the behavior of a refresh session.
type SessionOptions struct {
	// Recursive indicates that dirty descendant directories of the roots should
	// be refreshed as well.
	Recursive bool
	// Asynchronous indicates that Queue.Execute should return without waiting
	// for the session to complete.
	Asynchronous bool
	// MarkDirty indicates that the roots (and, for recursive sessions, their
	// cached descendants) should be marked dirty before scanning.
	MarkDirty bool
}

// Session is a single refresh request.
type Session struct {
	// identifier is the session identifier.
	identifier string
	// roots are the session roots.
	roots []*vfs.Node
	// options are the session options.
	options SessionOptions
	// ctx is the session's cancellation context.
	ctx context.Context
	// cancel cancels ctx.
	cancel context.CancelFunc
	// completeOnce guards closure of done.
	completeOnce sync.Once
	// done is closed once the session's events have been delivered.
	done chan struct{}
	// events are the session's events. They're set before done is closed.
	events []*Event
	// outcome is the session outcome. It's set before done is closed.
	outcome Outcome
}

// NewSession creates a new session for the specified roots, which must all
// belong to the same tree.
func NewSession(roots []*vfs.Node, options SessionOptions) (*Session, error) {
	// Validate roots.
	if len(roots) == 0 {
		return nil, errors.New("no roots specified")
	}
	for _, root := range roots[1:] {
		if root.Tree() != roots[0].Tree() {
			return nil, errors.New("roots belong to different trees")
		}
	}

	// Create an identifier.
	id, err := identifier.New(identifier.PrefixSession)
	if err != nil {
		return nil, fmt.Errorf("unable to generate session identifier: %w", err)
	}

	// Create the cancellation context.
	ctx, cancel := context.WithCancel(context.Background())

	// Create the session.
	return &Session{
		identifier: id,
		roots:      roots,
		options:    options,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.identifier
}

// Roots returns the session roots.
func (s *Session) Roots() []*vfs.Node {
	return s.roots
}

// Options returns the session options.
func (s *Session) Options() SessionOptions {
	return s.options
}

// Cancel requests cancellation of the session. It is idempotent and may be
// called at any time.
func (s *Session) Cancel() {
	s.cancel()
}

// Done returns a channel that's closed once the session has completed and its
// events have been delivered to listeners.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session completes or the context is cancelled.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome returns the session outcome, or OutcomePending if the session hasn't
// completed.
func (s *Session) Outcome() Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return OutcomePending
	}
}

// Events returns the session's events. It returns nil if the session hasn't
// completed or was cancelled.
func (s *Session) Events() []*Event {
	select {
	case <-s.done:
		return s.events
	default:
		return nil
	}
}

// scan performs the session's scan, recording its results.
func (s *Session) scan(refresher *Refresher) {
	// Mark roots dirty if requested.
	if s.options.MarkDirty {
		for _, root := range s.roots {
			if s.options.Recursive {
				root.MarkDirtyRecursively()
			} else {
				root.MarkDirty()
			}
		}
	}

	// Perform the scan.
	s.events, s.outcome = refresher.Refresh(s.ctx, s.roots, s.options.Recursive)
}

// complete marks the session as complete and releases its context.
func (s *Session) complete() {
	s.completeOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// abort completes a session that will never be scanned.
func (s *Session) abort() {
	s.completeOnce.Do(func() {
		s.events = nil
		s.outcome = OutcomeCancelled
		s.cancel()
		close(s.done)
	})
}
