package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/filesystem/memfs"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// newAccumulatorTree creates a loaded tree containing /p/a and /p/b.
func newAccumulatorTree(t *testing.T) (*memfs.FileSystem, *vfs.Tree) {
	// Mark ourselves as a helper function.
	t.Helper()

	// Create the filesystem and tree.
	fileSystem := memfs.New(true)
	fileSystem.Mkdir("/p")
	fileSystem.WriteFile("/p/a", 1, time.Unix(1, 0))
	fileSystem.WriteFile("/p/b", 1, time.Unix(1, 0))
	tree, err := vfs.NewTree(fileSystem, "/p")
	if err != nil {
		t.Fatal("unable to create tree:", err)
	}
	if err := tree.Load(tree.Root()); err != nil {
		t.Fatal("unable to load tree:", err)
	}

	// Done.
	return fileSystem, tree
}

// TestAccumulatorTransactions tests commit and rollback behavior.
func TestAccumulatorTransactions(t *testing.T) {
	fileSystem, tree := newAccumulatorTree(t)
	a := tree.Find("/p/a")
	accumulator := NewAccumulator(fileSystem, nil, nil, nil)
	partition := accumulator.Partition(0)

	// Commit a transaction.
	partition.BeginTransaction()
	partition.ScheduleDeletion(a)
	partition.EndTransaction(true)

	// Roll back a transaction.
	partition.BeginTransaction()
	partition.ScheduleAttributeChange(a, PropertyWritable, true, false)
	partition.ScheduleDeletion(tree.Find("/p/b"))
	partition.EndTransaction(false)

	// Verify that only committed events remain.
	events := accumulator.Events()
	if len(events) != 1 || events[0].Kind != EventKindDeleted || events[0].Node != a {
		t.Error("events do not match expected:", summarize(events))
	}
}

// TestAccumulatorPartitionsIndependent tests that rollbacks in one partition
// don't affect others and that events are ordered by worker.
func TestAccumulatorPartitionsIndependent(t *testing.T) {
	fileSystem, tree := newAccumulatorTree(t)
	accumulator := NewAccumulator(fileSystem, nil, nil, nil)
	first, second := accumulator.Partition(1), accumulator.Partition(0)
	if accumulator.Partition(1) != first {
		t.Fatal("partition lookup not stable")
	}

	// Interleave transactions.
	first.BeginTransaction()
	second.BeginTransaction()
	first.ScheduleDeletion(tree.Find("/p/a"))
	second.ScheduleDeletion(tree.Find("/p/b"))
	second.EndTransaction(false)
	second.BeginTransaction()
	second.ScheduleDeletion(tree.Root())
	second.EndTransaction(true)
	first.EndTransaction(true)

	// Verify events.
	expectEvents(t, accumulator.Events(), "deleted p", "deleted a")
}

// TestAccumulatorNestedTransactionPanics tests that opening a second
// transaction in a partition panics.
func TestAccumulatorNestedTransactionPanics(t *testing.T) {
	accumulator := NewAccumulator(memfs.New(true), nil, nil, nil)
	partition := accumulator.Partition(0)
	partition.BeginTransaction()
	defer func() {
		if recover() == nil {
			t.Error("nested transaction did not panic")
		}
	}()
	partition.BeginTransaction()
}

// TestAccumulatorEventsWithOpenTransactionPanics tests that event collection
// with an open transaction panics.
func TestAccumulatorEventsWithOpenTransactionPanics(t *testing.T) {
	accumulator := NewAccumulator(memfs.New(true), nil, nil, nil)
	accumulator.Partition(0).BeginTransaction()
	defer func() {
		if recover() == nil {
			t.Error("event collection with open transaction did not panic")
		}
	}()
	accumulator.Events()
}

// TestAccumulatorCheckContentChanged tests conditional content change
// scheduling.
func TestAccumulatorCheckContentChanged(t *testing.T) {
	fileSystem, tree := newAccumulatorTree(t)
	a := tree.Find("/p/a")
	accumulator := NewAccumulator(fileSystem, nil, nil, nil)
	partition := accumulator.Partition(0)
	partition.BeginTransaction()
	if partition.CheckContentChanged(a, time.Unix(1, 0), time.Unix(1, 0), 1, 1) {
		t.Error("identical content reported as changed")
	}
	if !partition.CheckContentChanged(a, time.Unix(1, 0), time.Unix(1, 0), 1, 2) {
		t.Error("length change not reported")
	}
	if !partition.CheckContentChanged(a, time.Unix(1, 0), time.Unix(2, 0), 1, 1) {
		t.Error("timestamp change not reported")
	}
	partition.EndTransaction(true)
	if len(accumulator.Events()) != 2 {
		t.Error("event count does not match expected")
	}
}

// TestAccumulatorScheduleCreationCancelled tests that a cancelled eager scan
// prevents scheduling.
func TestAccumulatorScheduleCreationCancelled(t *testing.T) {
	fileSystem, tree := newAccumulatorTree(t)
	fileSystem.MkdirAll("/p/new")
	fileSystem.WriteFile("/p/new/f", 1, time.Unix(1, 0))
	policy, err := NewEagerScanPolicy([]string{"/p"}, nil, 10)
	if err != nil {
		t.Fatal("unable to create eager scan policy:", err)
	}
	accumulator := NewAccumulator(fileSystem, policy, nil, nil)
	partition := accumulator.Partition(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	partition.BeginTransaction()
	attributes := &filesystem.Attributes{Type: filesystem.TypeDirectory}
	if partition.ScheduleCreation(ctx, tree.Root(), "new", attributes, "") {
		t.Error("creation scheduled despite cancellation")
	}
	partition.EndTransaction(true)
	if len(accumulator.Events()) != 0 {
		t.Error("cancelled creation produced events")
	}
}

// TestAccumulatorScheduleCreationTooLarge tests that oversized eager scans
// fall back to lazy loading.
func TestAccumulatorScheduleCreationTooLarge(t *testing.T) {
	fileSystem, tree := newAccumulatorTree(t)
	fileSystem.MkdirAll("/p/new")
	fileSystem.WriteFile("/p/new/f", 1, time.Unix(1, 0))
	fileSystem.WriteFile("/p/new/g", 1, time.Unix(1, 0))
	policy, err := NewEagerScanPolicy([]string{"/p"}, nil, 1)
	if err != nil {
		t.Fatal("unable to create eager scan policy:", err)
	}
	accumulator := NewAccumulator(fileSystem, policy, nil, nil)
	partition := accumulator.Partition(0)
	partition.BeginTransaction()
	attributes := &filesystem.Attributes{Type: filesystem.TypeDirectory}
	if !partition.ScheduleCreation(context.Background(), tree.Root(), "new", attributes, "") {
		t.Fatal("creation not scheduled")
	}
	partition.EndTransaction(true)
	if events := accumulator.Events(); len(events) != 1 || events[0].Child.Children != nil {
		t.Error("oversized eager scan not abandoned")
	}
}
