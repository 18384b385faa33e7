package refresh

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// reconcileResult is the outcome of a single reconciliation attempt.
type reconcileResult uint8

const (
	// reconcileSucceeded indicates that the attempt's events may be committed.
	reconcileSucceeded reconcileResult = iota
	// reconcileRaced indicates that the cache changed during the attempt and
	// that the attempt must be discarded and retried.
	reconcileRaced
	// reconcileCancelled indicates that the scan was cancelled.
	reconcileCancelled
	// reconcileFailed indicates that the directory couldn't be read. The
	// attempt is discarded but not retried.
	reconcileFailed
)

// childEntry is an element of a cached children snapshot.
type childEntry struct {
	// name is the child name at the time of the snapshot.
	name string
	// node is the child node.
	node *vfs.Node
}

// snapshotChildren captures the cached children of a directory.
func snapshotChildren(directory *vfs.Node) []childEntry {
	children := directory.CachedChildren()
	result := make([]childEntry, len(children))
	for i, child := range children {
		result[i] = childEntry{child.Name(), child}
	}
	return result
}

// sameChildren determines whether or not two snapshots are structurally
// equal, comparing both names and node identities in order.
func sameChildren(first, second []childEntry) bool {
	if len(first) != len(second) {
		return false
	}
	for i, entry := range first {
		if entry != second[i] {
			return false
		}
	}
	return true
}

// resolution is a cached attribute query result.
type resolution struct {
	// attributes are the queried attributes.
	attributes *filesystem.Attributes
	// target is the resolved symbolic link target.
	target string
	// err is the query error.
	err error
}

// attempt tracks the state of a single reconciliation attempt. Its clean and
// pending lists only take effect if the attempt commits.
type attempt struct {
	// clean are the nodes to mark clean on commit.
	clean []*vfs.Node
	// pending are the subdirectories to refresh on commit.
	pending []*vfs.Node
	// queried caches attribute queries so that no entry is queried twice.
	queried map[string]resolution
}

// newAttempt creates a new attempt.
func newAttempt() *attempt {
	return &attempt{queried: make(map[string]resolution)}
}

// newFolder returns a function that maps names to a key that's identical for
// names differing only by case or Unicode normalization. The returned function
// must not be shared between Goroutines.
func newFolder() func(string) string {
	caser := cases.Fold()
	return func(name string) string {
		return caser.String(norm.NFC.String(name))
	}
}

// resolve queries the attributes (and symbolic link target) of an entry within
// a directory, using batched results if available. Entries whose batched query
// failed yield that failure, and entries absent from the batch are queried
// individually. Results are cached for the lifetime of the attempt.
func (w *worker) resolve(a *attempt, directory, name string, batch *filesystem.Listing) (*filesystem.Attributes, string, error) {
	// Check the cache.
	if r, ok := a.queried[name]; ok {
		return r.attributes, r.target, r.err
	}

	// Perform the query.
	s := w.scan
	path := filepath.Join(directory, name)
	start := time.Now()
	var r resolution
	if attributes, ok := batch.Lookup(name); ok {
		r.attributes = attributes
	} else if err := batch.Failure(name); err != nil {
		r.err = err
	} else {
		r.attributes, r.err = s.fileSystem.Attributes(path)
	}
	if r.err == nil && r.attributes.SymbolicLink {
		if target, err := s.fileSystem.ResolveSymbolicLink(path); err == nil {
			r.target = target
		}
	}
	s.counters.addSyscallTime(time.Since(start))

	// Cache and return the result.
	a.queried[name] = r
	return r.attributes, r.target, r.err
}

// list reads a directory, using a batched query if the filesystem supports
// one. Case sensitivity probe files are omitted.
func (w *worker) list(directory string) ([]string, *filesystem.Listing, error) {
	s := w.scan
	start := time.Now()
	defer func() {
		s.counters.addSyscallTime(time.Since(start))
	}()

	// Perform a batched query if possible.
	if batcher, ok := s.fileSystem.(filesystem.BatchLister); ok {
		batch, err := batcher.ListWithAttributes(directory)
		if err != nil {
			return nil, nil, err
		}
		names := batch.Names()
		filtered := names[:0]
		for _, name := range names {
			if !filesystem.IsProbeFileName(name) {
				filtered = append(filtered, name)
			}
		}
		return filtered, batch, nil
	}

	// Otherwise just list names.
	names, err := s.fileSystem.ListNames(directory)
	if err != nil {
		return nil, nil, err
	}
	filtered := names[:0]
	for _, name := range names {
		if !filesystem.IsProbeFileName(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil, nil
}

// consistent re-snapshots a directory's cached children and compares them
// against an earlier snapshot.
func (w *worker) consistent(directory *vfs.Node, snapshot []childEntry, loaded bool) bool {
	start := time.Now()
	defer func() {
		w.scan.counters.addCacheTime(time.Since(start))
	}()
	return directory.IsValid() &&
		directory.AllChildrenLoaded() == loaded &&
		sameChildren(snapshot, snapshotChildren(directory))
}

// compare diffs a cached node against fresh attributes and schedules the
// corresponding events.
func (w *worker) compare(a *attempt, node *vfs.Node, name string, attributes *filesystem.Attributes, target string) reconcileResult {
	s := w.scan
	cached := node.Attributes()

	// Type changes are modeled as a deletion followed by a creation.
	if cached.Type != attributes.Type || cached.SymbolicLink != attributes.SymbolicLink {
		w.partition.ScheduleDeletion(node)
		parent := node.Parent()
		if parent == nil {
			s.logger.Warnf("Root %s changed type", node.Path())
			return reconcileSucceeded
		}
		if !w.partition.ScheduleCreation(s.ctx, parent, name, attributes, target) {
			return reconcileCancelled
		}
		return reconcileSucceeded
	}

	// Compare properties.
	if cached.Writable != attributes.Writable {
		w.partition.ScheduleAttributeChange(node, PropertyWritable, cached.Writable, attributes.Writable)
	}
	if cached.Hidden != attributes.Hidden {
		w.partition.ScheduleAttributeChange(node, PropertyHidden, cached.Hidden, attributes.Hidden)
	}
	if attributes.SymbolicLink {
		if previous := node.SymbolicLinkTarget(); previous != target {
			w.partition.ScheduleAttributeChange(node, PropertySymbolicLinkTarget, previous, target)
		}
	}

	// Compare content.
	if attributes.Type == filesystem.TypeFile {
		w.partition.CheckContentChanged(node,
			cached.ModificationTime, attributes.ModificationTime,
			cached.Size, attributes.Size,
		)
	}

	// Real directories are cleaned by their own reconciliation, so queue them
	// if they need one.
	if attributes.IsDirectory() && !attributes.SymbolicLink {
		if s.recursive && node.IsDirty() {
			a.pending = append(a.pending, node)
		}
		return reconcileSucceeded
	}

	// Everything else is now up-to-date. A modification racing with this
	// comparison re-dirties the parent, which was cleaned before the attempt
	// began, so the next refresh compares this node again.
	a.clean = append(a.clean, node)
	return reconcileSucceeded
}

// updateChild re-queries a cached child and diffs it.
func (w *worker) updateChild(a *attempt, node *vfs.Node, directory, name string, batch *filesystem.Listing) reconcileResult {
	attributes, target, err := w.resolve(a, directory, name, batch)
	if errors.Is(err, fs.ErrNotExist) {
		w.partition.ScheduleDeletion(node)
		return reconcileSucceeded
	} else if err != nil {
		w.scan.logger.Warnf("Unable to query %s: %v", filepath.Join(directory, name), err)
		node.MarkDirty()
		return reconcileSucceeded
	}
	return w.compare(a, node, name, attributes, target)
}

// detectRenames matches deleted children against new names that differ only
// by case, returning the remaining deleted children and new names. A match
// requires an unambiguous folded name and an unchanged entry type.
func (w *worker) detectRenames(a *attempt, directory string, batch *filesystem.Listing, deleted []childEntry, created []string, renamed map[*vfs.Node]string) ([]childEntry, []string) {
	// Build the folded name set.
	fold := newFolder()
	folded := make(map[string]string, len(created))
	ambiguous := make(map[string]bool)
	for _, name := range created {
		key := fold(name)
		if _, ok := folded[key]; ok {
			ambiguous[key] = true
		} else {
			folded[key] = name
		}
	}

	// Match deleted children.
	matched := make(map[string]bool)
	var remaining []childEntry
	for _, entry := range deleted {
		key := fold(entry.name)
		name, ok := folded[key]
		if !ok || ambiguous[key] || matched[name] {
			remaining = append(remaining, entry)
			continue
		}
		attributes, _, err := w.resolve(a, directory, name, batch)
		cached := entry.node.Attributes()
		if err != nil || attributes.Type != cached.Type || attributes.SymbolicLink != cached.SymbolicLink {
			remaining = append(remaining, entry)
			continue
		}
		renamed[entry.node] = name
		matched[name] = true
	}

	// Filter new names.
	var unmatched []string
	for _, name := range created {
		if !matched[name] {
			unmatched = append(unmatched, name)
		}
	}

	// Done.
	return remaining, unmatched
}

// fullSync reconciles a directory whose children are all cached against a
// complete listing of the directory.
func (w *worker) fullSync(directory *vfs.Node) (reconcileResult, *attempt) {
	s := w.scan
	a := newAttempt()
	path := directory.Path()

	// Snapshot the cached children.
	start := time.Now()
	snapshot := snapshotChildren(directory)
	s.counters.addCacheTime(time.Since(start))

	// List the directory. If it's gone, then schedule its deletion.
	names, batch, err := w.list(path)
	if errors.Is(err, fs.ErrNotExist) {
		w.partition.ScheduleDeletion(directory)
		if !w.consistent(directory, snapshot, true) {
			return reconcileRaced, nil
		}
		return reconcileSucceeded, a
	} else if err != nil {
		s.logger.Warnf("Unable to list %s: %v", path, err)
		return reconcileFailed, nil
	}

	// Index the on-disk names.
	onDisk := make(map[string]bool, len(names))
	for _, name := range names {
		onDisk[name] = true
	}

	// Split the cached children into deleted and surviving children.
	cached := make(map[string]bool, len(snapshot))
	var deleted, surviving []childEntry
	for _, entry := range snapshot {
		cached[entry.name] = true
		if onDisk[entry.name] {
			surviving = append(surviving, entry)
		} else {
			deleted = append(deleted, entry)
		}
	}

	// Compute the new names. Every surviving child accounts for one on-disk
	// name, so there can only be new names if the disk has more.
	var created []string
	if len(onDisk) > len(surviving) {
		for name := range onDisk {
			if !cached[name] {
				created = append(created, name)
			}
		}
		sort.Strings(created)
	}

	// Detect case-only renames on case-insensitive filesystems.
	renamed := make(map[*vfs.Node]string)
	if len(deleted) > 0 && len(created) > 0 && !s.fileSystem.CaseSensitive(path) {
		deleted, created = w.detectRenames(a, path, batch, deleted, created, renamed)
	}

	// Schedule deletions.
	for _, entry := range deleted {
		if s.isCancelled() {
			return reconcileCancelled, nil
		}
		w.partition.ScheduleDeletion(entry.node)
	}

	// Schedule creations. Entries whose attributes can't be resolved are
	// skipped and the directory is left dirty so that a later scan picks them
	// up.
	for _, name := range created {
		if s.isCancelled() {
			return reconcileCancelled, nil
		}
		attributes, target, err := w.resolve(a, path, name, batch)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warnf("Unable to query %s: %v", filepath.Join(path, name), err)
				directory.MarkDirty()
			}
			continue
		}
		if !w.partition.ScheduleCreation(s.ctx, directory, name, attributes, target) {
			return reconcileCancelled, nil
		}
	}

	// Update surviving and renamed children in cache order.
	for _, entry := range snapshot {
		name := entry.name
		if newName, ok := renamed[entry.node]; ok {
			w.partition.ScheduleAttributeChange(entry.node, PropertyName, name, newName)
			name = newName
		} else if !onDisk[name] {
			continue
		}
		if s.isCancelled() {
			return reconcileCancelled, nil
		}
		if result := w.updateChild(a, entry.node, path, name, batch); result != reconcileSucceeded {
			return result, nil
		}
	}

	// Verify that the cache didn't change underneath us.
	if !w.consistent(directory, snapshot, true) {
		return reconcileRaced, nil
	}

	// Success.
	return reconcileSucceeded, a
}

// partialSync reconciles a directory whose children are only partially cached
// by re-querying its cached children and probing its suspicious names.
func (w *worker) partialSync(directory *vfs.Node) (reconcileResult, *attempt) {
	s := w.scan
	a := newAttempt()
	path := directory.Path()

	// Snapshot the cached children and suspicious names.
	start := time.Now()
	snapshot := snapshotChildren(directory)
	suspicious := directory.SuspiciousNames()
	s.counters.addCacheTime(time.Since(start))

	// On case-insensitive filesystems, a suspicious name may differ in case
	// from the entry on disk, so names are compared by folded key and mapped
	// to their on-disk spelling using a listing.
	key := func(name string) string { return name }
	var spellings map[string]string
	var batch *filesystem.Listing
	if len(suspicious) > 0 && !s.fileSystem.CaseSensitive(path) {
		key = newFolder()
		names, listing, err := w.list(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warnf("Unable to list %s: %v", path, err)
				directory.MarkDirty()
			}
			suspicious = nil
		} else {
			batch = listing
			spellings = make(map[string]string, len(names))
			for _, name := range names {
				spellings[key(name)] = name
			}
		}
	}

	// Update cached children.
	cached := make(map[string]bool, len(snapshot))
	for _, entry := range snapshot {
		cached[key(entry.name)] = true
		if s.isCancelled() {
			return reconcileCancelled, nil
		}
		if result := w.updateChild(a, entry.node, path, entry.name, nil); result != reconcileSucceeded {
			return result, nil
		}
	}

	// Probe suspicious names.
	for _, name := range suspicious {
		if cached[key(name)] {
			continue
		}
		if spellings != nil {
			actual, ok := spellings[key(name)]
			if !ok {
				continue
			}
			name = actual
		}
		if s.isCancelled() {
			return reconcileCancelled, nil
		}
		attributes, target, err := w.resolve(a, path, name, batch)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			s.logger.Warnf("Unable to query %s: %v", filepath.Join(path, name), err)
			directory.MarkDirty()
			continue
		}
		if !w.partition.ScheduleCreation(s.ctx, directory, name, attributes, target) {
			return reconcileCancelled, nil
		}
		cached[key(name)] = true
	}

	// Verify that the cache didn't change underneath us.
	if !w.consistent(directory, snapshot, false) {
		return reconcileRaced, nil
	}

	// Success.
	return reconcileSucceeded, a
}
