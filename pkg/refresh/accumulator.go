package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/logging"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// Accumulator buffers the events produced by a scan. Events are partitioned
// by worker so that workers never contend with one another while scheduling.
type Accumulator struct {
	// fileSystem is the filesystem used for eager scans.
	fileSystem filesystem.FileSystem
	// eager is the eager scan policy. It may be nil.
	eager *EagerScanPolicy
	// logger is the underlying logger.
	logger *logging.Logger
	// counters are the counters to update. They may be nil.
	counters *Counters
	// partitionsLock guards partitions.
	partitionsLock sync.Mutex
	// partitions maps worker identifiers to their partitions.
	partitions map[int]*Partition
}

// NewAccumulator creates a new accumulator. The eager scan policy and counters
// may be nil.
func NewAccumulator(fileSystem filesystem.FileSystem, eager *EagerScanPolicy, counters *Counters, logger *logging.Logger) *Accumulator {
	return &Accumulator{
		fileSystem: fileSystem,
		eager:      eager,
		logger:     logger,
		counters:   counters,
		partitions: make(map[int]*Partition),
	}
}

// Partition returns the partition for the specified worker, creating it if
// necessary. A partition must only be used by one goroutine at a time.
func (a *Accumulator) Partition(worker int) *Partition {
	a.partitionsLock.Lock()
	defer a.partitionsLock.Unlock()
	partition, ok := a.partitions[worker]
	if !ok {
		partition = &Partition{accumulator: a}
		a.partitions[worker] = partition
	}
	return partition
}

// Events returns the committed events of all partitions, ordered by worker
// identifier. It panics if any partition has an open transaction.
func (a *Accumulator) Events() []*Event {
	a.partitionsLock.Lock()
	defer a.partitionsLock.Unlock()

	// Sort worker identifiers.
	workers := make([]int, 0, len(a.partitions))
	for worker := range a.partitions {
		workers = append(workers, worker)
	}
	sort.Ints(workers)

	// Concatenate events.
	var events []*Event
	for _, worker := range workers {
		partition := a.partitions[worker]
		if partition.open {
			panic("events requested with open transaction")
		}
		events = append(events, partition.events...)
	}
	return events
}

// Partition is a single worker's event buffer.
type Partition struct {
	// accumulator is the owning accumulator.
	accumulator *Accumulator
	// events are the buffered events.
	events []*Event
	// open indicates whether or not a transaction is open.
	open bool
	// marker is the length of events when the transaction was opened.
	marker int
}

// BeginTransaction opens a transaction. It panics if one is already open.
func (p *Partition) BeginTransaction() {
	if p.open {
		panic("transaction already open")
	}
	p.open = true
	p.marker = len(p.events)
}

// EndTransaction closes the open transaction, keeping the events scheduled
// since it was opened if success is true and discarding them otherwise. It
// panics if no transaction is open.
func (p *Partition) EndTransaction(success bool) {
	if !p.open {
		panic("no transaction open")
	}
	if !success {
		for i := p.marker; i < len(p.events); i++ {
			p.events[i] = nil
		}
		p.events = p.events[:p.marker]
	}
	p.open = false
}

// schedule appends an event.
func (p *Partition) schedule(event *Event) {
	if p.accumulator.logger.Level() >= logging.LevelTrace {
		p.accumulator.logger.Tracef("Scheduled %s", event)
	}
	p.events = append(p.events, event)
}

// ScheduleCreation schedules the creation of a child within parent. If the
// child is a real directory to which the eager scan policy applies, its
// subtree is scanned and attached to the event. It returns false, without
// scheduling anything, if the context is cancelled during the eager scan.
func (p *Partition) ScheduleCreation(ctx context.Context, parent *vfs.Node, name string, attributes *filesystem.Attributes, target string) bool {
	// Create the child description.
	child := &vfs.ChildInfo{
		Name:               name,
		Attributes:         attributes,
		SymbolicLinkTarget: target,
	}

	// Perform an eager scan if appropriate.
	a := p.accumulator
	if a.eager != nil && attributes.IsDirectory() && !attributes.SymbolicLink {
		path := filepath.Join(parent.Path(), name)
		if a.eager.Applies(path) {
			start := time.Now()
			children, err := a.eager.Scan(ctx, a.fileSystem, path)
			if a.counters != nil {
				a.counters.addSyscallTime(time.Since(start))
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			} else if err != nil {
				a.logger.Debugf("Eager scan of %s abandoned: %v", path, err)
			} else {
				child.Children = children
			}
		}
	}

	// Schedule the event.
	p.schedule(&Event{
		Kind:   EventKindCreated,
		Parent: parent,
		Child:  child,
	})

	// Success.
	return true
}

// ScheduleDeletion schedules the deletion of a node.
func (p *Partition) ScheduleDeletion(node *vfs.Node) {
	p.schedule(&Event{
		Kind: EventKindDeleted,
		Node: node,
	})
}

// ScheduleAttributeChange schedules a property change for a node.
func (p *Partition) ScheduleAttributeChange(node *vfs.Node, property Property, oldValue, newValue interface{}) {
	p.schedule(&Event{
		Kind:     EventKindPropertyChanged,
		Node:     node,
		Property: property,
		OldValue: oldValue,
		NewValue: newValue,
	})
}

// CheckContentChanged schedules a content change for a node if either its
// modification time or its length differs. It returns whether or not an event
// was scheduled.
func (p *Partition) CheckContentChanged(node *vfs.Node, oldTimestamp, newTimestamp time.Time, oldLength, newLength uint64) bool {
	if oldTimestamp.Equal(newTimestamp) && oldLength == newLength {
		return false
	}
	p.schedule(&Event{
		Kind:         EventKindContentChanged,
		Node:         node,
		OldTimestamp: oldTimestamp,
		NewTimestamp: newTimestamp,
		OldLength:    oldLength,
		NewLength:    newLength,
	})
	return true
}
