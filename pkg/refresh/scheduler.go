package refresh

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/logging"
	"github.com/mutagen-io/vfsrefresh/pkg/parallelism"
	"github.com/mutagen-io/vfsrefresh/pkg/state"
	"github.com/mutagen-io/vfsrefresh/pkg/timeutil"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// queuePollInterval is the maximum amount of time that an idle worker waits
// before re-checking the work queue.
const queuePollInterval = 10 * time.Millisecond

// Outcome is the result of a scan.
type Outcome uint8

const (
	// OutcomePending indicates that a session hasn't finished.
	OutcomePending Outcome = iota
	// OutcomeCompleted indicates that a scan ran to completion.
	OutcomeCompleted
	// OutcomeCancelled indicates that a scan was cancelled. Cancelled scans
	// don't produce events.
	OutcomeCancelled
)

// String provides a human-readable representation of an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options are refresher options.
type Options struct {
	// Parallelism is the requested number of workers for recursive scans. See
	// parallelism.Effective for its interpretation.
	Parallelism int
	// EagerScan is the eager scan policy. If nil, eager scans are disabled.
	EagerScan *EagerScanPolicy
	// Logger is the logger to use. It may be nil.
	Logger *logging.Logger
}

// Refresher reconciles a tree against its filesystem.
type Refresher struct {
	// tree is the tree being reconciled.
	tree *vfs.Tree
	// workers is the number of workers used for recursive scans.
	workers int
	// eager is the eager scan policy.
	eager *EagerScanPolicy
	// logger is the underlying logger.
	logger *logging.Logger
	// counters are the refresher's counters.
	counters *Counters
}

// NewRefresher creates a new refresher for a tree. Options may be nil.
func NewRefresher(tree *vfs.Tree, options *Options) *Refresher {
	if options == nil {
		options = &Options{}
	}
	return &Refresher{
		tree:     tree,
		workers:  parallelism.Effective(options.Parallelism),
		eager:    options.EagerScan,
		logger:   options.Logger,
		counters: &Counters{},
	}
}

// Tree returns the tree being reconciled.
func (r *Refresher) Tree() *vfs.Tree {
	return r.tree
}

// Counters returns the refresher's counters.
func (r *Refresher) Counters() *Counters {
	return r.counters
}

// Refresh scans the specified roots and returns the resulting events. Roots
// that aren't dirty are skipped. If recursive is true, dirty descendant
// directories are scanned as well, in parallel. If the context is cancelled
// during the scan, then every node that the scan marked clean is marked dirty
// again and no events are returned.
func (r *Refresher) Refresh(ctx context.Context, roots []*vfs.Node, recursive bool) ([]*Event, Outcome) {
	// Create the scan.
	s := &scan{
		ctx:         ctx,
		fileSystem:  r.tree.FileSystem(),
		logger:      r.logger,
		counters:    r.counters,
		recursive:   recursive,
		workers:     r.workers,
		accumulator: NewAccumulator(r.tree.FileSystem(), r.eager, r.counters, r.logger),
	}

	// Process roots, skipping duplicates.
	seen := make(map[uint64]bool, len(roots))
	for _, root := range roots {
		if seen[root.ID()] {
			continue
		}
		seen[root.ID()] = true
		s.refreshRoot(root)
		if s.cancelled.Marked() {
			break
		}
	}

	// Handle cancellation.
	if s.cancelled.Marked() {
		for _, node := range s.cleaned {
			node.MarkDirty()
		}
		r.counters.cancelledSessions.Add(1)
		r.logger.Debugf("Scan cancelled, %d nodes marked dirty", len(s.cleaned))
		return nil, OutcomeCancelled
	}

	// Collect events.
	events := s.accumulator.Events()
	r.counters.sessions.Add(1)
	r.counters.events.Add(uint64(len(events)))
	return events, OutcomeCompleted
}

// scan is the state of a single invocation of Refresher.Refresh.
type scan struct {
	// ctx is the scan's cancellation context.
	ctx context.Context
	// fileSystem is the filesystem being scanned.
	fileSystem filesystem.FileSystem
	// logger is the underlying logger.
	logger *logging.Logger
	// counters are the refresher counters.
	counters *Counters
	// recursive indicates whether or not the scan is recursive.
	recursive bool
	// workers is the number of workers for recursive walks.
	workers int
	// accumulator is the event accumulator.
	accumulator *Accumulator
	// cancelled is marked once any part of the scan observes cancellation.
	cancelled state.Marker
	// cleanedLock guards cleaned.
	cleanedLock sync.Mutex
	// cleaned are the nodes marked clean by the scan.
	cleaned []*vfs.Node
}

// isCancelled returns whether or not the scan context has been cancelled.
func (s *scan) isCancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// recordCleaned records nodes marked clean by the scan.
func (s *scan) recordCleaned(nodes ...*vfs.Node) {
	if len(nodes) == 0 {
		return
	}
	s.cleanedLock.Lock()
	s.cleaned = append(s.cleaned, nodes...)
	s.cleanedLock.Unlock()
}

// refreshRoot scans a single root.
func (s *scan) refreshRoot(root *vfs.Node) {
	// Clean or deleted roots require no work.
	if !root.IsDirty() || !root.IsValid() {
		return
	}

	// Check for cancellation.
	if s.isCancelled() {
		s.cancelled.Mark()
		return
	}

	// Query the root.
	partition := s.accumulator.Partition(0)
	path := root.Path()
	start := time.Now()
	attributes, err := s.fileSystem.Attributes(path)
	var target string
	if err == nil && attributes.SymbolicLink {
		target, _ = s.fileSystem.ResolveSymbolicLink(path)
	}
	s.counters.addSyscallTime(time.Since(start))

	// Handle absent roots.
	if errors.Is(err, fs.ErrNotExist) {
		partition.BeginTransaction()
		partition.ScheduleDeletion(root)
		partition.EndTransaction(true)
		return
	} else if err != nil {
		s.logger.Warnf("Unable to query root %s: %v", path, err)
		return
	}

	// Diff the root itself.
	w := &worker{scan: s, partition: partition}
	a := newAttempt()
	cached := root.Attributes()
	partition.BeginTransaction()
	result := w.compare(a, root, root.Name(), attributes, target)
	partition.EndTransaction(result == reconcileSucceeded)
	if result == reconcileCancelled {
		root.MarkDirty()
		s.cancelled.Mark()
		return
	}
	for _, node := range a.clean {
		node.MarkClean()
	}
	s.recordCleaned(a.clean...)

	// Walk the root if it's (still) a directory.
	if attributes.IsDirectory() && cached.IsDirectory() && attributes.SymbolicLink == cached.SymbolicLink {
		s.walk(root)
	}
}

// walk reconciles a directory and, for recursive scans, its dirty descendant
// directories.
func (s *scan) walk(root *vfs.Node) {
	// Create the work queue.
	queue := &workQueue{
		wake:    make(chan struct{}, s.workers),
		drained: make(chan struct{}),
	}
	queue.enqueue(root)

	// Non-recursive and single-worker walks run on this Goroutine.
	if !s.recursive || s.workers == 1 {
		(&worker{scan: s, queue: queue, partition: s.accumulator.Partition(0)}).run()
		return
	}

	// Otherwise start workers and wait for them to drain the queue.
	var group errgroup.Group
	for i := 0; i < s.workers; i++ {
		w := &worker{scan: s, queue: queue, id: i, partition: s.accumulator.Partition(i)}
		group.Go(func() error {
			w.run()
			return nil
		})
	}
	group.Wait()
}

// workQueue is a queue of directories awaiting reconciliation.
type workQueue struct {
	// lock guards directories and inFlight.
	lock sync.Mutex
	// directories are the queued directories.
	directories []*vfs.Node
	// inFlight is the number of directories queued or being processed.
	inFlight int
	// wake is used to wake idle workers when work is queued.
	wake chan struct{}
	// drained is closed when inFlight reaches zero.
	drained chan struct{}
}

// enqueue adds directories to the queue.
func (q *workQueue) enqueue(directories ...*vfs.Node) {
	if len(directories) == 0 {
		return
	}
	q.lock.Lock()
	q.directories = append(q.directories, directories...)
	q.inFlight += len(directories)
	q.lock.Unlock()
	for range directories {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// dequeue removes the next directory from the queue, if any.
func (q *workQueue) dequeue() (*vfs.Node, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.directories) == 0 {
		return nil, false
	}
	directory := q.directories[0]
	q.directories[0] = nil
	q.directories = q.directories[1:]
	return directory, true
}

// complete records that count directories are no longer in flight.
func (q *workQueue) complete(count int) {
	if count == 0 {
		return
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	q.inFlight -= count
	if q.inFlight == 0 {
		close(q.drained)
	} else if q.inFlight < 0 {
		panic("negative in-flight count")
	}
}

// abandon removes all queued directories and marks them dirty.
func (q *workQueue) abandon() {
	q.lock.Lock()
	directories := q.directories
	q.directories = nil
	q.lock.Unlock()
	for _, directory := range directories {
		directory.MarkDirty()
	}
	q.complete(len(directories))
}

// worker is a single scan worker.
type worker struct {
	// scan is the owning scan.
	scan *scan
	// queue is the work queue. It's nil for root processing.
	queue *workQueue
	// id is the worker identifier.
	id int
	// partition is the worker's event partition.
	partition *Partition
}

// run processes directories until the queue drains.
func (w *worker) run() {
	timer := timeutil.NewStoppedTimer()
	defer timer.Stop()
	for {
		// Grab the next directory. If there isn't one, then wait (for a bounded
		// amount of time) for more work or for the queue to drain.
		directory, ok := w.queue.dequeue()
		if !ok {
			timeutil.ResetTimer(timer, queuePollInterval)
			select {
			case <-w.queue.wake:
			case <-w.queue.drained:
				return
			case <-timer.C:
			}
			continue
		}

		// Process the directory.
		w.process(directory)
		w.queue.complete(1)
	}
}

// process reconciles a single directory, handling cancellation.
func (w *worker) process(directory *vfs.Node) {
	if w.scan.isCancelled() || w.refreshDirectory(directory) == reconcileCancelled {
		directory.MarkDirty()
		if w.scan.cancelled.Mark() {
			w.scan.logger.Debugf("Cancellation observed by worker %d at %s", w.id, directory.Path())
		}
		w.queue.abandon()
	}
}

// refreshDirectory reconciles a directory, retrying until the attempt commits
// or the scan is cancelled. On success, subdirectories needing a refresh are
// queued.
func (w *worker) refreshDirectory(directory *vfs.Node) reconcileResult {
	s := w.scan

	// Clear the dirty flag before reading anything so that modifications
	// reported while the reconciliation is in progress aren't lost.
	directory.MarkClean()
	s.recordCleaned(directory)

	// Loop until an attempt commits.
	for {
		// Check for cancellation.
		if s.isCancelled() {
			return reconcileCancelled
		}

		// Perform an attempt within a transaction.
		var result reconcileResult
		var a *attempt
		w.partition.BeginTransaction()
		if directory.AllChildrenLoaded() {
			s.counters.fullScans.Add(1)
			result, a = w.fullSync(directory)
		} else {
			s.counters.partialScans.Add(1)
			result, a = w.partialSync(directory)
		}
		w.partition.EndTransaction(result == reconcileSucceeded)

		// Handle the result.
		switch result {
		case reconcileSucceeded:
			for _, node := range a.clean {
				node.MarkClean()
			}
			s.recordCleaned(a.clean...)
			w.queue.enqueue(a.pending...)
			return result
		case reconcileRaced:
			s.counters.retries.Add(1)
			s.logger.Debugf("Cache changed while reconciling %s, retrying", directory.Path())
		case reconcileFailed:
			directory.MarkDirty()
			return result
		default:
			return result
		}
	}
}
