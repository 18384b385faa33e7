package vfs

import (
	"context"
	"testing"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/filesystem/memfs"
)

// newTestTree creates an in-memory filesystem with a small hierarchy and a
// tree rooted at /p.
func newTestTree(t *testing.T) (*memfs.FileSystem, *Tree) {
	// Mark ourselves as a helper function.
	t.Helper()

	// Create the filesystem.
	f := memfs.New(true)
	f.MkdirAll("/p/sub")
	f.WriteFile("/p/a.txt", 1, time.Unix(1, 0))
	f.WriteFile("/p/b.txt", 2, time.Unix(2, 0))
	f.WriteFile("/p/sub/c.txt", 3, time.Unix(3, 0))

	// Create the tree.
	tree, err := NewTree(f, "/p")
	if err != nil {
		t.Fatal("unable to create tree:", err)
	}

	// Done.
	return f, tree
}

// TestNewTreeRelativeRoot tests that relative roots are rejected.
func TestNewTreeRelativeRoot(t *testing.T) {
	if _, err := NewTree(memfs.New(true), "p"); err == nil {
		t.Error("relative root accepted")
	}
}

// TestTreeLoad tests directory loading.
func TestTreeLoad(t *testing.T) {
	_, tree := newTestTree(t)
	root := tree.Root()
	if root.AllChildrenLoaded() {
		t.Fatal("new root reports loaded children")
	} else if root.IsDirty() {
		t.Error("new root is dirty")
	}
	children, err := root.Children()
	if err != nil {
		t.Fatal("unable to load children:", err)
	}
	if len(children) != 3 {
		t.Fatal("child count does not match expected:", len(children))
	}
	expected := []string{"a.txt", "b.txt", "sub"}
	for i, child := range children {
		if child.Name() != expected[i] {
			t.Error("child name does not match expected:", child.Name(), "!=", expected[i])
		}
	}
	if b := root.Child("b.txt"); b == nil || b.Length() != 2 || !b.Timestamp().Equal(time.Unix(2, 0)) {
		t.Error("cached child metadata does not match expected")
	}
	if sub := root.Child("sub"); sub == nil || !sub.IsDirectory() || sub.AllChildrenLoaded() {
		t.Error("subdirectory state does not match expected")
	}
}

// TestTreeLoadRecursive tests recursive loading and path lookups.
func TestTreeLoadRecursive(t *testing.T) {
	_, tree := newTestTree(t)
	if err := tree.LoadRecursive(tree.Root()); err != nil {
		t.Fatal("unable to load recursively:", err)
	}
	node := tree.Find("/p/sub/c.txt")
	if node == nil {
		t.Fatal("unable to find nested node")
	} else if node.Path() != "/p/sub/c.txt" {
		t.Error("node path does not match expected:", node.Path())
	}
	if tree.Find("/q") != nil {
		t.Error("found node outside of tree")
	}
	if nearest, remaining := tree.FindNearest("/p/sub/x/y"); nearest == nil || nearest.Name() != "sub" || len(remaining) != 2 {
		t.Error("nearest node does not match expected")
	}
}

// TestTreeLookupSuspicious tests that lookups of missing names in partially
// loaded directories record suspicious names, and that lookups of existing
// names adopt them.
func TestTreeLookupSuspicious(t *testing.T) {
	_, tree := newTestTree(t)
	root := tree.Root()
	if node, err := tree.Lookup("/p/missing"); err != nil {
		t.Fatal("lookup failed:", err)
	} else if node != nil {
		t.Error("lookup of missing entry returned node")
	}
	if names := root.SuspiciousNames(); len(names) != 1 || names[0] != "missing" {
		t.Error("suspicious names do not match expected:", names)
	}
	if node, err := tree.Lookup("/p/a.txt"); err != nil {
		t.Fatal("lookup failed:", err)
	} else if node == nil || node.Name() != "a.txt" {
		t.Error("lookup of existing entry did not return node")
	}
	if root.AllChildrenLoaded() {
		t.Error("adoption marked directory as loaded")
	} else if len(root.CachedChildren()) != 1 {
		t.Error("adopted child not cached")
	}
	if err := tree.Load(root); err != nil {
		t.Fatal("unable to load:", err)
	}
	if len(root.SuspiciousNames()) != 0 {
		t.Error("suspicious names not cleared by loading")
	}
}

// TestNodeDirtyPropagation tests dirty marking.
func TestNodeDirtyPropagation(t *testing.T) {
	_, tree := newTestTree(t)
	if err := tree.LoadRecursive(tree.Root()); err != nil {
		t.Fatal("unable to load recursively:", err)
	}
	c := tree.Find("/p/sub/c.txt")
	c.MarkDirty()
	if !tree.Find("/p/sub").IsDirty() || !tree.Root().IsDirty() {
		t.Error("ancestors not marked dirty")
	}
	if tree.Find("/p/a.txt").IsDirty() {
		t.Error("sibling marked dirty")
	}
	tree.Root().MarkDirtyRecursively()
	if !tree.Find("/p/a.txt").IsDirty() {
		t.Error("descendant not marked dirty recursively")
	}
	c.MarkClean()
	if c.IsDirty() {
		t.Error("node still dirty after cleaning")
	}
}

// TestTreeMutations tests structural mutations.
func TestTreeMutations(t *testing.T) {
	_, tree := newTestTree(t)
	root := tree.Root()
	if err := tree.Load(root); err != nil {
		t.Fatal("unable to load:", err)
	}
	a := root.Child("a.txt")
	tree.Write(func() {
		created := tree.CreateChild(root, &ChildInfo{
			Name:       "d",
			Attributes: &filesystem.Attributes{Type: filesystem.TypeDirectory},
			Children: []*ChildInfo{
				{Name: "e", Attributes: &filesystem.Attributes{Type: filesystem.TypeFile}},
			},
		})
		if !created.AllChildrenLoaded() || created.Child("e") == nil {
			t.Error("precomputed children not attached")
		}
		tree.Rename(a, "z.txt")
		tree.Delete(root.Child("b.txt"))
		tree.UpdateContent(a, &filesystem.Attributes{Size: 9, ModificationTime: time.Unix(9, 0)})
	})
	names := make([]string, 0)
	for _, child := range root.CachedChildren() {
		names = append(names, child.Name())
	}
	if len(names) != 3 || names[0] != "d" || names[1] != "sub" || names[2] != "z.txt" {
		t.Error("children after mutation do not match expected:", names)
	}
	if a.Length() != 9 {
		t.Error("content update not recorded")
	}
}

// TestTreeDeleteInvalidates tests that deletion invalidates descendants.
func TestTreeDeleteInvalidates(t *testing.T) {
	_, tree := newTestTree(t)
	if err := tree.LoadRecursive(tree.Root()); err != nil {
		t.Fatal("unable to load recursively:", err)
	}
	sub := tree.Find("/p/sub")
	c := tree.Find("/p/sub/c.txt")
	tree.Write(func() {
		tree.Delete(sub)
	})
	if sub.IsValid() || c.IsValid() {
		t.Error("deleted nodes still valid")
	}
	if tree.Find("/p/sub") != nil {
		t.Error("deleted node still reachable")
	}
}

// TestTreeReadMarksContext tests read action context marking.
func TestTreeReadMarksContext(t *testing.T) {
	_, tree := newTestTree(t)
	_, other := newTestTree(t)
	ctx := context.Background()
	if tree.HoldsReadLock(ctx) {
		t.Error("unmarked context reports read lock")
	}
	tree.Read(ctx, func(ctx context.Context) {
		if !tree.HoldsReadLock(ctx) {
			t.Error("read action context does not report read lock")
		}
		if other.HoldsReadLock(ctx) {
			t.Error("read action context reports lock on other tree")
		}
	})
}
