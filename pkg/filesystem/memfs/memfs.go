// Package memfs provides an in-memory filesystem.FileSystem implementation
// with hooks for injecting concurrent modifications and failures. It exists
// to support testing of the refresh engine. A batched view implementing
// filesystem.BatchLister is available via FileSystem.Batched.
package memfs

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
)

// maximumLinkDepth is the maximum number of symbolic links traversed while
// resolving a path.
const maximumLinkDepth = 40

// entry is a single in-memory filesystem entry.
type entry struct {
	// kind is the entry type. It's ignored for symbolic links.
	kind filesystem.Type
	// hidden indicates whether or not the entry is hidden.
	hidden bool
	// writable indicates whether or not the entry is writable.
	writable bool
	// size is the entry size.
	size uint64
	// modificationTime is the entry modification time.
	modificationTime time.Time
	// target is the symbolic link target. It's non-empty only for symbolic
	// links.
	target string
	// children maps names to child entries for directories.
	children map[string]*entry
}

// attributes converts the entry's metadata to attributes.
func (e *entry) attributes() *filesystem.Attributes {
	return &filesystem.Attributes{
		Type:             e.kind,
		Hidden:           e.hidden,
		Writable:         e.writable,
		Size:             e.size,
		ModificationTime: e.modificationTime,
	}
}

// Hooks are callbacks invoked before filesystem queries. They are invoked
// without any internal locks held, so they may modify the filesystem.
type Hooks struct {
	// BeforeList is invoked before each directory listing.
	BeforeList func(directory string)
	// BeforeAttributes is invoked before each attribute query.
	BeforeAttributes func(path string)
}

// FileSystem is an in-memory filesystem. It is safe for concurrent usage.
type FileSystem struct {
	// lock serializes access to all fields.
	lock sync.Mutex
	// caseSensitive indicates whether or not name lookups are case-sensitive.
	caseSensitive bool
	// root is the root directory.
	root *entry
	// hooks are the query hooks.
	hooks Hooks
	// listFailures maps directory paths to injected listing failures.
	listFailures map[string]error
	// attributeFailures maps paths to injected attribute query failures.
	attributeFailures map[string]error
	// lists counts listings per directory.
	lists map[string]int
	// queries counts attribute queries per path.
	queries map[string]int
}

// New creates a new in-memory filesystem containing only a root directory.
func New(caseSensitive bool) *FileSystem {
	return &FileSystem{
		caseSensitive: caseSensitive,
		root: &entry{
			kind:     filesystem.TypeDirectory,
			writable: true,
			children: make(map[string]*entry),
		},
		listFailures:      make(map[string]error),
		attributeFailures: make(map[string]error),
		lists:             make(map[string]int),
		queries:           make(map[string]int),
	}
}

// components splits a path into its components.
func components(path string) []string {
	path = strings.Trim(filepath.ToSlash(filepath.Clean(path)), "/")
	if path == "" || path == "." {
		return nil
	}
	return strings.Split(path, "/")
}

// child looks up a name within a directory entry, respecting case
// sensitivity. It returns the stored name along with the entry.
func (f *FileSystem) child(parent *entry, name string) (string, *entry) {
	if child, ok := parent.children[name]; ok {
		return name, child
	}
	if !f.caseSensitive {
		for stored, child := range parent.children {
			if strings.EqualFold(stored, name) {
				return stored, child
			}
		}
	}
	return "", nil
}

// lookup resolves a path, traversing symbolic links in intermediate
// components and optionally in the final component.
func (f *FileSystem) lookup(path string, follow bool, depth int) *entry {
	if depth > maximumLinkDepth {
		return nil
	}
	current := f.root
	names := components(path)
	for i, name := range names {
		if current.kind != filesystem.TypeDirectory || current.target != "" {
			return nil
		}
		_, next := f.child(current, name)
		if next == nil {
			return nil
		}
		if next.target != "" && (follow || i < len(names)-1) {
			next = f.lookup(next.target, true, depth+1)
			if next == nil {
				return nil
			}
		}
		current = next
	}
	return current
}

// parentOf resolves the parent directory of a path, panicking if it doesn't
// exist.
func (f *FileSystem) parentOf(path string) (*entry, string) {
	parent := f.lookup(filepath.Dir(path), true, 0)
	if parent == nil || parent.kind != filesystem.TypeDirectory {
		panic(fmt.Sprintf("parent of %s does not exist", path))
	}
	return parent, filepath.Base(path)
}

// insert adds an entry at the specified path, replacing any existing entry.
func (f *FileSystem) insert(path string, e *entry) {
	parent, name := f.parentOf(path)
	if stored, existing := f.child(parent, name); existing != nil {
		delete(parent.children, stored)
	}
	e.hidden = strings.HasPrefix(name, ".")
	parent.children[name] = e
}

// mutate looks up an existing entry without following a final symbolic link
// and applies a modification to it, panicking if it doesn't exist.
func (f *FileSystem) mutate(path string, modify func(*entry)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	e := f.lookup(path, false, 0)
	if e == nil {
		panic(fmt.Sprintf("%s does not exist", path))
	}
	modify(e)
}

// Mkdir creates a directory. The parent must exist.
func (f *FileSystem) Mkdir(path string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.insert(path, &entry{
		kind:             filesystem.TypeDirectory,
		writable:         true,
		modificationTime: time.Now(),
		children:         make(map[string]*entry),
	})
}

// MkdirAll creates a directory along with any missing parents.
func (f *FileSystem) MkdirAll(path string) {
	current := string(filepath.Separator)
	for _, name := range components(path) {
		current = filepath.Join(current, name)
		f.lock.Lock()
		existing := f.lookup(current, true, 0)
		f.lock.Unlock()
		if existing == nil {
			f.Mkdir(current)
		}
	}
}

// WriteFile creates or replaces a file with the specified size and
// modification time. The parent must exist.
func (f *FileSystem) WriteFile(path string, size uint64, modificationTime time.Time) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.insert(path, &entry{
		kind:             filesystem.TypeFile,
		writable:         true,
		size:             size,
		modificationTime: modificationTime,
	})
}

// Mknod creates a special entry. The parent must exist.
func (f *FileSystem) Mknod(path string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.insert(path, &entry{
		kind:             filesystem.TypeSpecial,
		writable:         true,
		modificationTime: time.Now(),
	})
}

// Symlink creates a symbolic link with the specified absolute target. The
// parent must exist.
func (f *FileSystem) Symlink(path, target string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.insert(path, &entry{target: target, writable: true})
}

// Remove removes an entry and all of its contents. Removing a nonexistent
// entry is a no-op.
func (f *FileSystem) Remove(path string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	parent := f.lookup(filepath.Dir(path), true, 0)
	if parent == nil || parent.children == nil {
		return
	}
	if stored, existing := f.child(parent, filepath.Base(path)); existing != nil {
		delete(parent.children, stored)
	}
}

// Rename moves an entry to a new path, replacing any existing entry there.
func (f *FileSystem) Rename(oldPath, newPath string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	oldParent, oldName := f.parentOf(oldPath)
	stored, e := f.child(oldParent, oldName)
	if e == nil {
		panic(fmt.Sprintf("%s does not exist", oldPath))
	}
	delete(oldParent.children, stored)
	f.insert(newPath, e)
}

// Touch updates the size and modification time of an entry.
func (f *FileSystem) Touch(path string, size uint64, modificationTime time.Time) {
	f.mutate(path, func(e *entry) {
		e.size = size
		e.modificationTime = modificationTime
	})
}

// SetWritable sets the writability of an entry.
func (f *FileSystem) SetWritable(path string, writable bool) {
	f.mutate(path, func(e *entry) {
		e.writable = writable
	})
}

// SetHidden sets the hidden flag of an entry.
func (f *FileSystem) SetHidden(path string, hidden bool) {
	f.mutate(path, func(e *entry) {
		e.hidden = hidden
	})
}

// SetHooks replaces the query hooks.
func (f *FileSystem) SetHooks(hooks Hooks) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.hooks = hooks
}

// FailList injects a failure for listings of the specified directory. A nil
// error removes the injected failure.
func (f *FileSystem) FailList(directory string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err == nil {
		delete(f.listFailures, filepath.Clean(directory))
	} else {
		f.listFailures[filepath.Clean(directory)] = err
	}
}

// FailAttributes injects a failure for attribute queries of the specified
// path, including queries performed as part of a batched listing. A nil error
// removes the injected failure.
func (f *FileSystem) FailAttributes(path string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err == nil {
		delete(f.attributeFailures, filepath.Clean(path))
	} else {
		f.attributeFailures[filepath.Clean(path)] = err
	}
}

// Lists returns the number of listings performed for a directory.
func (f *FileSystem) Lists(directory string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.lists[filepath.Clean(directory)]
}

// AttributeQueries returns the number of attribute queries performed for a
// path.
func (f *FileSystem) AttributeQueries(path string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.queries[filepath.Clean(path)]
}

// ResetCounts resets listing and attribute query counts.
func (f *FileSystem) ResetCounts() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.lists = make(map[string]int)
	f.queries = make(map[string]int)
}

// currentHooks returns the current hooks.
func (f *FileSystem) currentHooks() Hooks {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.hooks
}

// listLocked resolves a directory for listing, recording the listing and
// checking for injected failures. The filesystem lock must be held.
func (f *FileSystem) listLocked(directory string) (*entry, error) {
	// Record the listing and check for injected failures.
	f.lists[directory]++
	if err, ok := f.listFailures[directory]; ok {
		return nil, &fs.PathError{Op: "open", Path: directory, Err: err}
	}

	// Resolve the directory.
	e := f.lookup(directory, true, 0)
	if e == nil {
		return nil, &fs.PathError{Op: "open", Path: directory, Err: fs.ErrNotExist}
	} else if e.kind != filesystem.TypeDirectory {
		return nil, &fs.PathError{Op: "readdirent", Path: directory, Err: fs.ErrInvalid}
	}

	// Success.
	return e, nil
}

// ListNames implements filesystem.FileSystem.ListNames. Names are returned in
// sorted order.
func (f *FileSystem) ListNames(directory string) ([]string, error) {
	// Invoke hooks.
	if hook := f.currentHooks().BeforeList; hook != nil {
		hook(directory)
	}

	// Lock the filesystem.
	f.lock.Lock()
	defer f.lock.Unlock()

	// Resolve the directory.
	directory = filepath.Clean(directory)
	e, err := f.listLocked(directory)
	if err != nil {
		return nil, err
	}

	// Collect names.
	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	sort.Strings(names)

	// Success.
	return names, nil
}

// Attributes implements filesystem.FileSystem.Attributes.
func (f *FileSystem) Attributes(path string) (*filesystem.Attributes, error) {
	// Invoke hooks.
	if hook := f.currentHooks().BeforeAttributes; hook != nil {
		hook(path)
	}

	// Lock the filesystem.
	f.lock.Lock()
	defer f.lock.Unlock()

	// Record and perform the query.
	path = filepath.Clean(path)
	f.queries[path]++
	return f.attributesLocked(path)
}

// attributesLocked queries the attributes of an entry. The filesystem lock
// must be held.
func (f *FileSystem) attributesLocked(path string) (*filesystem.Attributes, error) {
	// Check for injected failures.
	if err, ok := f.attributeFailures[path]; ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}

	// Resolve the entry.
	e := f.lookup(path, false, 0)
	if e == nil {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}

	// Handle symbolic links.
	if e.target != "" {
		target := f.lookup(e.target, true, 0)
		if target == nil {
			return filesystem.BrokenSymbolicLink(), nil
		}
		result := target.attributes()
		result.SymbolicLink = true
		result.Hidden = e.hidden
		return result, nil
	}

	// Success.
	return e.attributes(), nil
}

// ResolveSymbolicLink implements filesystem.FileSystem.ResolveSymbolicLink.
// Only links in the final component are traversed.
func (f *FileSystem) ResolveSymbolicLink(path string) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for i := 0; i < maximumLinkDepth; i++ {
		e := f.lookup(path, false, 0)
		if e == nil {
			return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrNotExist}
		} else if e.target == "" {
			return path, nil
		}
		path = e.target
	}
	return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrInvalid}
}

// CaseSensitive implements filesystem.FileSystem.CaseSensitive.
func (f *FileSystem) CaseSensitive(_ string) bool {
	return f.caseSensitive
}

// Batched is a view of an in-memory filesystem that additionally implements
// filesystem.BatchLister. Batched listings count as a single listing and don't
// count as attribute queries.
type Batched struct {
	*FileSystem
}

// Batched returns a batched view of the filesystem.
func (f *FileSystem) Batched() *Batched {
	return &Batched{f}
}

// ListWithAttributes implements filesystem.BatchLister.ListWithAttributes.
func (b *Batched) ListWithAttributes(directory string) (*filesystem.Listing, error) {
	f := b.FileSystem

	// Invoke hooks.
	if hook := f.currentHooks().BeforeList; hook != nil {
		hook(directory)
	}

	// Lock the filesystem.
	f.lock.Lock()
	defer f.lock.Unlock()

	// Resolve the directory.
	directory = filepath.Clean(directory)
	e, err := f.listLocked(directory)
	if err != nil {
		return nil, err
	}

	// Query each entry, recording individual failures.
	listing := &filesystem.Listing{
		Entries:  make(map[string]*filesystem.Attributes, len(e.children)),
		Failures: make(map[string]error),
	}
	for name := range e.children {
		attributes, err := f.attributesLocked(filepath.Join(directory, name))
		if err != nil {
			listing.Failures[name] = err
		} else {
			listing.Entries[name] = attributes
		}
	}

	// Success.
	return listing, nil
}
