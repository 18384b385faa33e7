package vfs

import (
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
)

// Node is a cached filesystem entry. Nodes are created by their Tree and are
// only structurally modified by it. All methods are safe for concurrent usage.
type Node struct {
	// tree is the owning tree.
	tree *Tree
	// id is the node's stable identifier.
	id uint64
	// dirty indicates that the node may be stale relative to disk.
	dirty atomic.Bool

	// The following fields are guarded by the tree's structure lock.

	// name is the node name. For the root node, it's the absolute root path.
	name string
	// parent is the parent node. It's nil for the root node.
	parent *Node
	// kind is the entry type.
	kind filesystem.Type
	// symbolicLink indicates that the entry is a symbolic link.
	symbolicLink bool
	// hidden indicates that the entry is hidden.
	hidden bool
	// writable indicates that the entry is writable.
	writable bool
	// timestamp is the cached modification time.
	timestamp time.Time
	// length is the cached size.
	length uint64
	// symbolicLinkTarget is the cached symbolic link target.
	symbolicLinkTarget string
	// children are the cached children, sorted by name.
	children []*Node
	// childrenLoaded indicates that children contains every child.
	childrenLoaded bool
	// suspicious is the set of names that were requested but not found.
	suspicious map[string]bool
	// valid is false once the node has been deleted.
	valid bool
}

// ID returns the node's identifier, which is unique within its tree.
func (n *Node) ID() uint64 {
	return n.id
}

// Tree returns the tree that owns the node.
func (n *Node) Tree() *Tree {
	return n.tree
}

// Name returns the node name.
func (n *Node) Name() string {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.name
}

// Parent returns the parent node, or nil for the root node.
func (n *Node) Parent() *Node {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.parent
}

// path computes the node path. The structure lock must be held.
func (n *Node) path() string {
	if n.parent == nil {
		return n.name
	}
	return filepath.Join(n.parent.path(), n.name)
}

// Path returns the absolute path of the node.
func (n *Node) Path() string {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.path()
}

// IsDirectory returns whether or not the node is a directory (possibly
// reached through a symbolic link).
func (n *Node) IsDirectory() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.kind == filesystem.TypeDirectory
}

// IsSymbolicLink returns whether or not the node is a symbolic link.
func (n *Node) IsSymbolicLink() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.symbolicLink
}

// IsSpecial returns whether or not the node is a special entry.
func (n *Node) IsSpecial() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.kind == filesystem.TypeSpecial
}

// IsWritable returns whether or not the node is writable.
func (n *Node) IsWritable() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.writable
}

// IsHidden returns whether or not the node is hidden.
func (n *Node) IsHidden() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.hidden
}

// Timestamp returns the cached modification time.
func (n *Node) Timestamp() time.Time {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.timestamp
}

// Length returns the cached size.
func (n *Node) Length() uint64 {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.length
}

// SymbolicLinkTarget returns the cached symbolic link target, which is empty
// for non-links.
func (n *Node) SymbolicLinkTarget() string {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.symbolicLinkTarget
}

// Attributes returns the cached attributes of the node.
func (n *Node) Attributes() *filesystem.Attributes {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return &filesystem.Attributes{
		Type:             n.kind,
		SymbolicLink:     n.symbolicLink,
		Hidden:           n.hidden,
		Writable:         n.writable,
		Size:             n.length,
		ModificationTime: n.timestamp,
	}
}

// IsValid returns whether or not the node is still part of its tree.
func (n *Node) IsValid() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.valid
}

// Children returns every child of the node, loading them from disk if
// necessary. It returns nil for non-directories.
func (n *Node) Children() ([]*Node, error) {
	if err := n.tree.Load(n); err != nil {
		return nil, err
	}
	return n.CachedChildren(), nil
}

// CachedChildren returns a snapshot of the cached children, sorted by name.
// The result may be partial (see AllChildrenLoaded).
func (n *Node) CachedChildren() []*Node {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	if len(n.children) == 0 {
		return nil
	}
	result := make([]*Node, len(n.children))
	copy(result, n.children)
	return result
}

// AllChildrenLoaded returns whether or not CachedChildren contains every child
// known to exist on disk as of the last load or refresh.
func (n *Node) AllChildrenLoaded() bool {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	return n.childrenLoaded
}

// Child returns the cached child with the specified name, or nil if there is
// none.
func (n *Node) Child(name string) *Node {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	if index, found := n.search(name); found {
		return n.children[index]
	}
	return nil
}

// search locates a name in the sorted children. The structure lock must be
// held.
func (n *Node) search(name string) (int, bool) {
	index := sort.Search(len(n.children), func(i int) bool {
		return n.children[i].name >= name
	})
	return index, index < len(n.children) && n.children[index].name == name
}

// SuspiciousNames returns the names that were requested in this directory but
// not found, in sorted order.
func (n *Node) SuspiciousNames() []string {
	n.tree.structure.RLock()
	defer n.tree.structure.RUnlock()
	if len(n.suspicious) == 0 {
		return nil
	}
	result := make([]string, 0, len(n.suspicious))
	for name := range n.suspicious {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// AddSuspiciousName records a name that may exist on disk without being
// cached. It has no effect if all children are loaded (since a full
// reconciliation covers every name) or if the name is already cached.
func (n *Node) AddSuspiciousName(name string) {
	n.tree.structure.Lock()
	defer n.tree.structure.Unlock()
	if n.childrenLoaded {
		return
	} else if _, found := n.search(name); found {
		return
	}
	if n.suspicious == nil {
		n.suspicious = make(map[string]bool)
	}
	n.suspicious[name] = true
}

// IsDirty returns whether or not the node is marked dirty.
func (n *Node) IsDirty() bool {
	return n.dirty.Load()
}

// MarkDirty marks the node and all of its ancestors dirty, so that a refresh
// starting from any ancestor will reach it.
func (n *Node) MarkDirty() {
	n.dirty.Store(true)
	for parent := n.Parent(); parent != nil; parent = parent.Parent() {
		parent.dirty.Store(true)
	}
}

// MarkDirtyRecursively marks the node, its ancestors, and all of its cached
// descendants dirty.
func (n *Node) MarkDirtyRecursively() {
	n.MarkDirty()
	queue := n.CachedChildren()
	for len(queue) > 0 {
		child := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		child.dirty.Store(true)
		queue = append(queue, child.CachedChildren()...)
	}
}

// MarkClean clears the node's dirty flag.
func (n *Node) MarkClean() {
	n.dirty.Store(false)
}
