// Package vfs provides the cached file tree that the refresh engine reconciles
// against disk.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
)

// ChildInfo describes a child entry to be added to the tree, optionally with a
// precomputed subtree.
type ChildInfo struct {
	// Name is the child name.
	Name string
	// Attributes are the child attributes.
	Attributes *filesystem.Attributes
	// SymbolicLinkTarget is the symbolic link target, if any.
	SymbolicLinkTarget string
	// Children is the precomputed list of the child's own children. A nil value
	// indicates that the children are unknown, in which case they'll be loaded
	// on demand.
	Children []*ChildInfo
}

// readLockKey is the context key used to mark contexts that hold the tree read
// lock.
type readLockKey struct{}

// Tree is a cached snapshot of a filesystem hierarchy.
//
// Two locks govern a tree. The structure lock guards node fields and is only
// ever held briefly by individual accessors. The action lock implements
// read/write actions: Read holds it in shared mode for the duration of a
// callback and Write holds it exclusively. Structural mutations (CreateChild,
// Delete, and so on) must only be performed from within Write. Loading and
// lookups may be performed anywhere, including concurrently with refreshes,
// which detect them through their consistency checks.
type Tree struct {
	// fileSystem is the filesystem backing the tree.
	fileSystem filesystem.FileSystem
	// structure guards node fields.
	structure sync.RWMutex
	// action implements read and write actions.
	action sync.RWMutex
	// nextID is the next node identifier.
	nextID atomic.Uint64
	// root is the root node.
	root *Node
}

// NewTree creates a new tree rooted at the specified absolute path. The root
// node is created clean and with no children loaded.
func NewTree(fileSystem filesystem.FileSystem, root string) (*Tree, error) {
	// Validate the root path.
	if !filepath.IsAbs(root) {
		return nil, errors.New("root path is not absolute")
	}
	root = filepath.Clean(root)

	// Query root attributes.
	attributes, err := fileSystem.Attributes(root)
	if err != nil {
		return nil, fmt.Errorf("unable to query root attributes: %w", err)
	}
	var target string
	if attributes.SymbolicLink {
		if target, err = fileSystem.ResolveSymbolicLink(root); err != nil {
			target = ""
		}
	}

	// Create the tree.
	tree := &Tree{fileSystem: fileSystem}
	tree.root = tree.newNode(nil, &ChildInfo{
		Name:               root,
		Attributes:         attributes,
		SymbolicLinkTarget: target,
	})

	// Success.
	return tree, nil
}

// FileSystem returns the filesystem backing the tree.
func (t *Tree) FileSystem() filesystem.FileSystem {
	return t.fileSystem
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// newNode creates a node (and any precomputed descendants) from child
// information. The structure lock must be held, or the node must not yet be
// reachable.
func (t *Tree) newNode(parent *Node, info *ChildInfo) *Node {
	// Create the node.
	node := &Node{
		tree:               t,
		id:                 t.nextID.Add(1),
		name:               info.Name,
		parent:             parent,
		kind:               info.Attributes.Type,
		symbolicLink:       info.Attributes.SymbolicLink,
		hidden:             info.Attributes.Hidden,
		writable:           info.Attributes.Writable,
		timestamp:          info.Attributes.ModificationTime,
		length:             info.Attributes.Size,
		symbolicLinkTarget: info.SymbolicLinkTarget,
		valid:              true,
	}

	// Attach precomputed children.
	if node.kind == filesystem.TypeDirectory && info.Children != nil {
		node.children = make([]*Node, 0, len(info.Children))
		for _, child := range info.Children {
			node.children = append(node.children, t.newNode(node, child))
		}
		sort.Slice(node.children, func(i, j int) bool {
			return node.children[i].name < node.children[j].name
		})
		node.childrenLoaded = true
	}

	// Done.
	return node
}

// relativeComponents splits a path into components relative to the root,
// returning false if the path isn't within the tree.
func (t *Tree) relativeComponents(path string) ([]string, bool) {
	relative, err := filepath.Rel(t.root.name, filepath.Clean(path))
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return nil, false
	} else if relative == "." {
		return nil, true
	}
	return strings.Split(relative, string(filepath.Separator)), true
}

// Find returns the cached node at the specified path, or nil if it isn't
// cached. It never touches the filesystem.
func (t *Tree) Find(path string) *Node {
	node, remaining := t.FindNearest(path)
	if node == nil || len(remaining) > 0 {
		return nil
	}
	return node
}

// FindNearest returns the deepest cached node on the specified path along
// with the path components below it that aren't cached. It returns nil if the
// path isn't within the tree.
func (t *Tree) FindNearest(path string) (*Node, []string) {
	components, ok := t.relativeComponents(path)
	if !ok {
		return nil, nil
	}
	node := t.root
	for i, component := range components {
		child := node.Child(component)
		if child == nil {
			return node, components[i:]
		}
		node = child
	}
	return node, nil
}

// Lookup resolves the node at the specified path, consulting the filesystem
// for components that aren't cached. Entries discovered this way are added to
// partially loaded directories. Names that don't exist on disk are recorded
// as suspicious in their (partially loaded) parent directory. It returns nil
// if the entry doesn't exist.
func (t *Tree) Lookup(path string) (*Node, error) {
	node, remaining := t.FindNearest(path)
	if node == nil {
		return nil, errors.New("path is not within tree")
	}
	for _, name := range remaining {
		// Only directories have children.
		if !node.IsDirectory() {
			return nil, nil
		}

		// If the directory is fully loaded, then the name doesn't exist as of
		// the last refresh.
		if node.AllChildrenLoaded() {
			return nil, nil
		}

		// Query the filesystem.
		childPath := filepath.Join(node.Path(), name)
		attributes, err := t.fileSystem.Attributes(childPath)
		if errors.Is(err, fs.ErrNotExist) {
			node.AddSuspiciousName(name)
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("unable to query attributes for %s: %w", childPath, err)
		}
		var target string
		if attributes.SymbolicLink {
			target, _ = t.fileSystem.ResolveSymbolicLink(childPath)
		}

		// Add the child.
		node = t.adopt(node, &ChildInfo{
			Name:               name,
			Attributes:         attributes,
			SymbolicLinkTarget: target,
		})
	}
	return node, nil
}

// adopt adds a child discovered outside of a refresh to a partially loaded
// directory. If a child with the same name was concurrently added, then that
// child is returned instead.
func (t *Tree) adopt(parent *Node, info *ChildInfo) *Node {
	t.structure.Lock()
	defer t.structure.Unlock()
	index, found := parent.search(info.Name)
	if found {
		return parent.children[index]
	}
	child := t.newNode(parent, info)
	parent.insertAt(index, child)
	delete(parent.suspicious, info.Name)
	return child
}

// insertAt inserts a child at the specified sorted position. The structure
// lock must be held.
func (n *Node) insertAt(index int, child *Node) {
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
}

// Load ensures that every child of a directory node is cached. It has no
// effect on non-directories or directories whose children are already loaded.
func (t *Tree) Load(node *Node) error {
	// Check whether or not loading is necessary.
	if !node.IsDirectory() || node.AllChildrenLoaded() {
		return nil
	}

	// List the directory.
	path := node.Path()
	names, err := t.fileSystem.ListNames(path)
	if err != nil {
		return fmt.Errorf("unable to list directory: %w", err)
	}

	// Query attributes for each entry. Entries that disappear in the meantime
	// are ignored.
	infos := make([]*ChildInfo, 0, len(names))
	for _, name := range names {
		if filesystem.IsProbeFileName(name) {
			continue
		}
		childPath := filepath.Join(path, name)
		attributes, err := t.fileSystem.Attributes(childPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return fmt.Errorf("unable to query attributes for %s: %w", childPath, err)
		}
		var target string
		if attributes.SymbolicLink {
			target, _ = t.fileSystem.ResolveSymbolicLink(childPath)
		}
		infos = append(infos, &ChildInfo{
			Name:               name,
			Attributes:         attributes,
			SymbolicLinkTarget: target,
		})
	}

	// Merge the results, preserving any existing child nodes.
	t.structure.Lock()
	defer t.structure.Unlock()
	if node.childrenLoaded || !node.valid {
		return nil
	}
	for _, info := range infos {
		if index, found := node.search(info.Name); !found {
			node.insertAt(index, t.newNode(node, info))
		}
	}
	node.childrenLoaded = true
	node.suspicious = nil

	// Success.
	return nil
}

// LoadRecursive loads the children of a directory node and all of its
// descendant directories. Symbolic links to directories are not traversed.
func (t *Tree) LoadRecursive(node *Node) error {
	queue := []*Node{node}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if err := t.Load(current); err != nil {
			return err
		}
		for _, child := range current.CachedChildren() {
			if child.IsDirectory() && !child.IsSymbolicLink() {
				queue = append(queue, child)
			}
		}
	}
	return nil
}

// Read executes a read action. The callback receives a context marked as
// holding the tree read lock (see HoldsReadLock). Read actions may run
// concurrently with each other but not with write actions.
func (t *Tree) Read(ctx context.Context, action func(context.Context)) {
	t.action.RLock()
	defer t.action.RUnlock()
	action(context.WithValue(ctx, readLockKey{}, t))
}

// HoldsReadLock returns whether or not the context was derived from a read
// action on this tree.
func (t *Tree) HoldsReadLock(ctx context.Context) bool {
	holder, ok := ctx.Value(readLockKey{}).(*Tree)
	return ok && holder == t
}

// Write executes a write action. Write actions are exclusive with respect to
// all other actions.
func (t *Tree) Write(action func()) {
	t.action.Lock()
	defer t.action.Unlock()
	action()
}

// CreateChild adds a child (with any precomputed subtree) to a directory node.
// If a child with the same name already exists, it's replaced. It must be
// called from within a write action.
func (t *Tree) CreateChild(parent *Node, info *ChildInfo) *Node {
	t.structure.Lock()
	defer t.structure.Unlock()
	if !parent.valid {
		return nil
	}
	child := t.newNode(parent, info)
	if index, found := parent.search(info.Name); found {
		parent.children[index].invalidate()
		parent.children[index] = child
	} else {
		parent.insertAt(index, child)
	}
	delete(parent.suspicious, info.Name)
	return child
}

// invalidate marks a node and its descendants as no longer part of the tree.
// The structure lock must be held.
func (n *Node) invalidate() {
	n.valid = false
	for _, child := range n.children {
		child.invalidate()
	}
}

// Delete removes a node from the tree. Deleting the root node invalidates it
// without detaching it. It must be called from within a write action.
func (t *Tree) Delete(node *Node) {
	t.structure.Lock()
	defer t.structure.Unlock()
	if !node.valid {
		return
	}
	if parent := node.parent; parent != nil {
		if index, found := parent.search(node.name); found && parent.children[index] == node {
			parent.children = append(parent.children[:index], parent.children[index+1:]...)
		}
	}
	node.invalidate()
}

// UpdateContent records new content metadata for a node. It must be called
// from within a write action.
func (t *Tree) UpdateContent(node *Node, attributes *filesystem.Attributes) {
	t.structure.Lock()
	defer t.structure.Unlock()
	node.timestamp = attributes.ModificationTime
	node.length = attributes.Size
}

// Rename changes the name of a non-root node, keeping its parent's children
// sorted. It must be called from within a write action.
func (t *Tree) Rename(node *Node, name string) {
	t.structure.Lock()
	defer t.structure.Unlock()
	parent := node.parent
	if parent == nil || !node.valid {
		return
	}
	if index, found := parent.search(node.name); found && parent.children[index] == node {
		parent.children = append(parent.children[:index], parent.children[index+1:]...)
	}
	node.name = name
	index, _ := parent.search(name)
	parent.insertAt(index, node)
}

// SetWritable records a writability change. It must be called from within a
// write action.
func (t *Tree) SetWritable(node *Node, writable bool) {
	t.structure.Lock()
	defer t.structure.Unlock()
	node.writable = writable
}

// SetHidden records a visibility change. It must be called from within a
// write action.
func (t *Tree) SetHidden(node *Node, hidden bool) {
	t.structure.Lock()
	defer t.structure.Unlock()
	node.hidden = hidden
}

// SetSymbolicLinkTarget records a symbolic link target change. It must be
// called from within a write action.
func (t *Tree) SetSymbolicLinkTarget(node *Node, target string) {
	t.structure.Lock()
	defer t.structure.Unlock()
	node.symbolicLinkTarget = target
}
