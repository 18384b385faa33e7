// Package watching drives refreshes from native filesystem notifications.
// Notifications mark the affected nodes dirty, and bursts of notifications are
// coalesced into a single asynchronous recursive refresh of the tree.
package watching

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/identifier"
	"github.com/mutagen-io/vfsrefresh/pkg/logging"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
	"github.com/mutagen-io/vfsrefresh/pkg/state"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// ErrWatchTerminated indicates that a watcher has been terminated.
var ErrWatchTerminated = errors.New("watch terminated")

// Watcher marks tree nodes dirty in response to native filesystem
// notifications and submits coalesced refresh sessions to a queue. Directories
// are watched non-recursively, with the set of watched directories kept in
// sync with the tree's loaded directories after each delivered session.
type Watcher struct {
	// identifier is the watcher identifier.
	identifier string
	// queue is the refresh queue.
	queue *refresh.Queue
	// tree is the watched tree.
	tree *vfs.Tree
	// logger is the underlying logger.
	logger *logging.Logger
	// watch is the underlying notification watcher.
	watch *fsnotify.Watcher
	// coalescer groups notifications into refresh requests.
	coalescer *state.Coalescer
	// watchedLock guards watched.
	watchedLock sync.Mutex
	// watched is the set of watched directory paths.
	watched map[string]bool
	// removeListener unregisters the watcher's queue listener.
	removeListener func()
	// errors is the error delivery channel.
	errors chan error
	// cancel stops the run loop.
	cancel context.CancelFunc
	// done is closed when the run loop exits.
	done chan struct{}
}

// NewWatcher creates a new watcher for the tree serviced by the specified
// queue. Notifications occurring within window of each other result in a
// single refresh.
func NewWatcher(queue *refresh.Queue, window time.Duration, logger *logging.Logger) (*Watcher, error) {
	// Create an identifier.
	id, err := identifier.New(identifier.PrefixWatcher)
	if err != nil {
		return nil, fmt.Errorf("unable to generate watcher identifier: %w", err)
	}

	// Create the underlying watcher.
	watch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create native watcher: %w", err)
	}

	// Create the watcher.
	ctx, cancel := context.WithCancel(context.Background())
	watcher := &Watcher{
		identifier: id,
		queue:      queue,
		tree:       queue.Refresher().Tree(),
		logger:     logger,
		watch:      watch,
		coalescer:  state.NewCoalescer(window),
		watched:    make(map[string]bool),
		errors:     make(chan error, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	// Establish the initial watches.
	watcher.synchronize()

	// Track directories loaded or created by refreshes.
	watcher.removeListener = queue.AddListener(func(_ context.Context, _ []*refresh.Event) {
		watcher.synchronize()
	})

	// Start the run loop.
	go func() {
		err := watcher.run(ctx)
		select {
		case watcher.errors <- err:
		default:
		}
		close(watcher.done)
	}()

	// Success.
	watcher.logger.Debugf("Watcher %s started for %s", id, watcher.tree.Root().Path())
	return watcher, nil
}

// ID returns the watcher identifier.
func (w *Watcher) ID() string {
	return w.identifier
}

// run is the watcher's run loop.
func (w *Watcher) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ErrWatchTerminated
		case event, ok := <-w.watch.Events:
			if !ok {
				return errors.New("native event channel closed")
			}
			w.handle(event)
		case err, ok := <-w.watch.Errors:
			if !ok {
				return errors.New("native error channel closed")
			} else if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warnf("Notification overflow, rescanning %s", w.tree.Root().Path())
				w.tree.Root().MarkDirtyRecursively()
				w.coalescer.Strobe()
				continue
			}
			return fmt.Errorf("native watch error: %w", err)
		case <-w.coalescer.Signals():
			if err := w.submit(ctx); err != nil {
				return err
			}
		}
	}
}

// handle processes a single notification.
func (w *Watcher) handle(event fsnotify.Event) {
	w.logger.Tracef("Notification: %s", event)

	// Ignore case sensitivity probes.
	if filesystem.IsProbeFileName(filepath.Base(event.Name)) {
		return
	}

	// Locate the affected node or its nearest cached ancestor.
	node, remaining := w.tree.FindNearest(event.Name)
	if node == nil {
		return
	}

	// If the entry itself isn't cached, then record it as a name to probe in
	// a partially loaded parent. Deeper paths are covered by the ancestor's
	// dirty flag alone.
	if len(remaining) == 1 && node.IsDirectory() && !node.AllChildrenLoaded() {
		node.AddSuspiciousName(remaining[0])
	}

	// Mark the node dirty and request a refresh.
	node.MarkDirty()
	w.coalescer.Strobe()
}

// submit queues an asynchronous recursive refresh of the tree root.
func (w *Watcher) submit(ctx context.Context) error {
	// Create the session.
	session, err := refresh.NewSession([]*vfs.Node{w.tree.Root()}, refresh.SessionOptions{
		Recursive:    true,
		Asynchronous: true,
	})
	if err != nil {
		return fmt.Errorf("unable to create refresh session: %w", err)
	}

	// Queue the session.
	if err := w.queue.Execute(ctx, session); err != nil {
		return fmt.Errorf("unable to queue refresh session: %w", err)
	}
	w.logger.Debugf("Watcher %s queued session %s", w.identifier, session.ID())

	// Success.
	return nil
}

// synchronize adds watches for loaded directories that aren't yet watched and
// forgets directories that are no longer in the tree.
func (w *Watcher) synchronize() {
	// Collect the loaded directories.
	current := make(map[string]bool)
	var collect func(*vfs.Node)
	collect = func(directory *vfs.Node) {
		if !directory.IsValid() || !directory.IsDirectory() || directory.IsSymbolicLink() {
			return
		}
		current[directory.Path()] = true
		for _, child := range directory.CachedChildren() {
			collect(child)
		}
	}
	collect(w.tree.Root())

	// Update watches.
	w.watchedLock.Lock()
	defer w.watchedLock.Unlock()
	for path := range current {
		if w.watched[path] {
			continue
		}
		if err := w.watch.Add(path); err != nil {
			w.logger.Debugf("Unable to watch %s: %v", path, err)
			continue
		}
		w.watched[path] = true
	}
	for path := range w.watched {
		if !current[path] {
			// The native watch is removed automatically when the directory is
			// deleted, so failures here are expected.
			w.watch.Remove(path)
			delete(w.watched, path)
		}
	}
}

// isWatched returns whether or not a directory is watched.
func (w *Watcher) isWatched(path string) bool {
	w.watchedLock.Lock()
	defer w.watchedLock.Unlock()
	return w.watched[filepath.Clean(path)]
}

// Errors returns a channel that receives the error that stopped the watcher.
// The channel is buffered with a capacity of 1 and is never closed.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Terminate stops the watcher and releases its resources. It does not shut
// down the queue.
func (w *Watcher) Terminate() error {
	// Stop delivering watch updates.
	w.removeListener()

	// Stop the run loop and coalescer.
	w.cancel()
	<-w.done
	w.coalescer.Terminate()

	// Close the native watcher.
	return w.watch.Close()
}
