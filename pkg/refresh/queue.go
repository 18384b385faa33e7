package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/mutagen-io/vfsrefresh/pkg/logging"
	"github.com/mutagen-io/vfsrefresh/pkg/state"
)

// ErrQueueShutdown indicates that a queue has been shut down.
var ErrQueueShutdown = errors.New("refresh queue shut down")

// Listener is a callback that receives the events of each completed session
// after they've been applied to the tree. The context is marked as the
// queue's execution context, so a listener may perform a synchronous refresh
// by passing it to Queue.Execute, in which case the refresh runs inline.
type Listener func(ctx context.Context, events []*Event)

// executionKey is the context key used to mark a queue's execution context.
type executionKey struct{}

// Queue serializes refresh sessions for a single tree. Sessions are scanned
// one at a time by a dedicated Goroutine and their events are applied and
// delivered to listeners by a separate dispatch Goroutine before the next
// session is scanned.
type Queue struct {
	// refresher is the underlying refresher.
	refresher *Refresher
	// logger is the underlying logger.
	logger *logging.Logger
	// ctx is the queue's lifetime context.
	ctx context.Context
	// cancel cancels ctx.
	cancel context.CancelFunc
	// execution is the context passed to listeners.
	execution context.Context
	// pendingLock guards pending, current, and shutdown.
	pendingLock sync.Mutex
	// pending are the sessions awaiting scanning.
	pending []*Session
	// current is the session being scanned.
	current *Session
	// shutdown indicates whether or not the queue has been shut down.
	shutdown bool
	// wake is used to wake the scan Goroutine when sessions are queued.
	wake chan struct{}
	// dispatch is used to hand scanned sessions to the dispatch Goroutine.
	dispatch chan *Session
	// listenersLock guards listeners and nextListenerID.
	listenersLock sync.RWMutex
	// listeners are the registered listeners.
	listeners map[uint64]Listener
	// nextListenerID is the next listener identifier.
	nextListenerID uint64
	// tracker tracks session completion.
	tracker *state.Tracker
	// scanDone is closed when the scan Goroutine exits.
	scanDone chan struct{}
	// dispatchDone is closed when the dispatch Goroutine exits.
	dispatchDone chan struct{}
}

// NewQueue creates a new queue and starts its Goroutines.
func NewQueue(refresher *Refresher, logger *logging.Logger) *Queue {
	// Create the lifetime context.
	ctx, cancel := context.WithCancel(context.Background())

	// Create the queue.
	queue := &Queue{
		refresher:    refresher,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		dispatch:     make(chan *Session),
		listeners:    make(map[uint64]Listener),
		tracker:      state.NewTracker(),
		scanDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	queue.execution = context.WithValue(ctx, executionKey{}, queue)

	// Start the queue's Goroutines.
	go queue.scanLoop()
	go queue.dispatchLoop()

	// Done.
	return queue
}

// Refresher returns the queue's refresher.
func (q *Queue) Refresher() *Refresher {
	return q.refresher
}

// isExecutionContext returns whether or not a context was derived from the
// queue's execution context.
func (q *Queue) isExecutionContext(ctx context.Context) bool {
	holder, ok := ctx.Value(executionKey{}).(*Queue)
	return ok && holder == q
}

// AddListener registers a listener and returns a function that unregisters it.
func (q *Queue) AddListener(listener Listener) func() {
	q.listenersLock.Lock()
	defer q.listenersLock.Unlock()
	id := q.nextListenerID
	q.nextListenerID++
	q.listeners[id] = listener
	return func() {
		q.listenersLock.Lock()
		defer q.listenersLock.Unlock()
		delete(q.listeners, id)
	}
}

// Execute runs a session. Asynchronous sessions are queued and Execute returns
// immediately. Synchronous sessions requested from the queue's execution
// context (i.e. from within a listener) run inline. Other synchronous sessions
// are queued and Execute blocks until they complete. If the context is
// cancelled while waiting, the session is cancelled and the context's error
// is returned once it has finished.
//
// Requesting a synchronous session while holding the tree's read lock (i.e.
// with a context derived from vfs.Tree.Read) would deadlock, since applying
// its events requires the write lock, and so it panics.
func (q *Queue) Execute(ctx context.Context, session *Session) error {
	// Handle asynchronous sessions.
	if session.options.Asynchronous {
		return q.enqueue(session)
	}

	// Reject synchronous sessions under the read lock.
	if q.refresher.tree.HoldsReadLock(ctx) {
		panic("synchronous refresh requested while holding tree read lock")
	}

	// Run inline if we're on the execution context.
	if q.isExecutionContext(ctx) {
		session.scan(q.refresher)
		q.deliver(ctx, session)
		return nil
	}

	// Don't bother queueing if the caller has already given up.
	if err := ctx.Err(); err != nil {
		session.abort()
		return err
	}

	// Queue the session and wait for it to complete.
	if err := q.enqueue(session); err != nil {
		return err
	}
	select {
	case <-session.done:
		return nil
	case <-ctx.Done():
		session.Cancel()
		<-session.done
		return ctx.Err()
	}
}

// enqueue adds a session to the pending list.
func (q *Queue) enqueue(session *Session) error {
	// Add the session.
	q.pendingLock.Lock()
	if q.shutdown {
		q.pendingLock.Unlock()
		return ErrQueueShutdown
	}
	q.pending = append(q.pending, session)
	q.pendingLock.Unlock()

	// Wake the scan Goroutine.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	// Success.
	return nil
}

// next waits for the next pending session, returning false if the queue is
// shut down.
func (q *Queue) next() (*Session, bool) {
	for {
		// Check for a pending session.
		q.pendingLock.Lock()
		if q.shutdown {
			q.pendingLock.Unlock()
			return nil, false
		} else if len(q.pending) > 0 {
			session := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.current = session
			q.pendingLock.Unlock()
			return session, true
		}
		q.pendingLock.Unlock()

		// Wait for more sessions.
		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil, false
		}
	}
}

// scanLoop is the scan Goroutine's run loop.
func (q *Queue) scanLoop() {
	defer close(q.scanDone)
	for {
		// Grab the next session.
		session, ok := q.next()
		if !ok {
			return
		}

		// Scan the session.
		q.logger.Debugf("Scanning session %s", session.identifier)
		session.scan(q.refresher)
		q.pendingLock.Lock()
		q.current = nil
		q.pendingLock.Unlock()

		// Hand the session off for dispatch and wait for delivery to complete
		// so that the next scan sees the updated tree.
		select {
		case q.dispatch <- session:
			<-session.done
		case <-q.ctx.Done():
			session.abort()
			return
		}
	}
}

// dispatchLoop is the dispatch Goroutine's run loop.
func (q *Queue) dispatchLoop() {
	defer close(q.dispatchDone)
	for {
		select {
		case session := <-q.dispatch:
			q.deliver(q.execution, session)
		case <-q.ctx.Done():
			return
		}
	}
}

// deliver applies a scanned session's events to the tree, notifies listeners,
// and completes the session.
func (q *Queue) deliver(ctx context.Context, session *Session) {
	// Apply events and notify listeners.
	if session.outcome == OutcomeCompleted && len(session.events) > 0 {
		tree := q.refresher.tree
		tree.Write(func() {
			Apply(tree, session.events)
		})
		q.listenersLock.RLock()
		listeners := make([]Listener, 0, len(q.listeners))
		for _, listener := range q.listeners {
			listeners = append(listeners, listener)
		}
		q.listenersLock.RUnlock()
		for _, listener := range listeners {
			listener(ctx, session.events)
		}
	}

	// Complete the session.
	q.logger.Debugf("Session %s %s with %d events", session.identifier, session.outcome, len(session.events))
	session.complete()
	q.tracker.NotifyOfChange()
}

// State waits for the queue's completion index to change from previousIndex.
// The index increments each time a session completes. Pass 0 to return the
// current index immediately.
func (q *Queue) State(ctx context.Context, previousIndex uint64) (uint64, error) {
	return q.tracker.WaitForChange(ctx, previousIndex)
}

// Shutdown cancels pending and running sessions and stops the queue's
// Goroutines. It is idempotent.
func (q *Queue) Shutdown() {
	// Mark the queue as shut down and grab outstanding sessions.
	q.pendingLock.Lock()
	if q.shutdown {
		q.pendingLock.Unlock()
		return
	}
	q.shutdown = true
	pending := q.pending
	q.pending = nil
	current := q.current
	q.pendingLock.Unlock()

	// Cancel outstanding sessions.
	for _, session := range pending {
		session.abort()
	}
	if current != nil {
		current.Cancel()
	}

	// Stop the Goroutines and wait for them to exit.
	q.cancel()
	<-q.scanDone
	<-q.dispatchDone

	// Terminate state tracking.
	q.tracker.Terminate()
}
