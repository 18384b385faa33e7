package refresh

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// errEagerScanTooLarge indicates that an eager scan was abandoned because the
// subtree exceeded the configured entry limit.
var errEagerScanTooLarge = errors.New("subtree exceeds eager scan limit")

// EagerScanPolicy decides which newly created directories are scanned
// immediately so that their contents can be attached to creation events.
type EagerScanPolicy struct {
	// roots are the cleaned absolute paths under which eager scanning applies.
	roots []string
	// ignorer determines which subtrees are excluded.
	ignorer *ignorer
	// maximumEntries is the maximum number of entries in an eagerly scanned
	// subtree.
	maximumEntries int
}

// NewEagerScanPolicy creates a new eager scan policy. Ignore patterns are
// evaluated against slash-separated paths relative to the eager root.
func NewEagerScanPolicy(roots, ignores []string, maximumEntries int) (*EagerScanPolicy, error) {
	// Validate the entry limit.
	if maximumEntries <= 0 {
		return nil, errors.New("maximum entry count must be positive")
	}

	// Clean and validate roots.
	cleaned := make([]string, len(roots))
	for i, root := range roots {
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("eager scan root is not absolute: %s", root)
		}
		cleaned[i] = filepath.Clean(root)
	}

	// Parse ignores.
	ignorer, err := newIgnorer(ignores)
	if err != nil {
		return nil, fmt.Errorf("unable to parse eager scan ignores: %w", err)
	}

	// Success.
	return &EagerScanPolicy{
		roots:          cleaned,
		ignorer:        ignorer,
		maximumEntries: maximumEntries,
	}, nil
}

// relative returns the slash-separated path of a directory relative to the
// eager root that contains it.
func (p *EagerScanPolicy) relative(path string) (string, bool) {
	for _, root := range p.roots {
		if path == root {
			return "", true
		}
		if relative, err := filepath.Rel(root, path); err == nil &&
			relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(relative), true
		}
	}
	return "", false
}

// Applies returns whether or not a newly created directory at the specified
// path should be eagerly scanned.
func (p *EagerScanPolicy) Applies(path string) bool {
	relative, ok := p.relative(path)
	return ok && !p.ignorer.ignored(relative, true)
}

// Scan walks the subtree rooted at a directory breadth-first, returning its
// children. Ignored directories and symbolic links to directories are included
// but not expanded. It returns ctx.Err() if the context is cancelled and
// errEagerScanTooLarge if the subtree is too large.
func (p *EagerScanPolicy) Scan(ctx context.Context, fileSystem filesystem.FileSystem, path string) ([]*vfs.ChildInfo, error) {
	// Determine the relative path of the scan root.
	base, _ := p.relative(path)

	// Track directories awaiting expansion.
	type pending struct {
		path     string
		relative string
		info     *vfs.ChildInfo
	}
	root := &vfs.ChildInfo{}
	queue := []pending{{path, base, root}}
	var entries int

	// Process the queue.
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		// Read the directory.
		contents, err := listWithAttributes(fileSystem, current.path)
		if err != nil {
			return nil, err
		}

		// Process contents in sorted order.
		names := make([]string, 0, len(contents))
		for name := range contents {
			names = append(names, name)
		}
		sort.Strings(names)
		current.info.Children = make([]*vfs.ChildInfo, 0, len(names))
		for _, name := range names {
			// Check for cancellation.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			// Enforce the entry limit.
			if entries++; entries > p.maximumEntries {
				return nil, errEagerScanTooLarge
			}

			// Record the child.
			childPath := filepath.Join(current.path, name)
			attributes := contents[name]
			child := &vfs.ChildInfo{Name: name, Attributes: attributes}
			if attributes.SymbolicLink {
				child.SymbolicLinkTarget, _ = fileSystem.ResolveSymbolicLink(childPath)
			}
			current.info.Children = append(current.info.Children, child)

			// Queue real directories that aren't ignored.
			if attributes.IsDirectory() && !attributes.SymbolicLink {
				childRelative := pathJoinRelative(current.relative, name)
				if !p.ignorer.ignored(childRelative, true) {
					queue = append(queue, pending{childPath, childRelative, child})
				}
			}
		}
	}

	// Success.
	return root.Children, nil
}

// pathJoinRelative joins a slash-separated relative path with a name.
func pathJoinRelative(relative, name string) string {
	if relative == "" {
		return name
	}
	return relative + "/" + name
}

// listWithAttributes lists a directory along with the attributes of its
// contents, using a batched query if the filesystem supports one. Entries that
// disappear between listing and querying, as well as case sensitivity probe
// files, are omitted. A failure to query any individual entry fails the
// listing, since an eagerly scanned subtree must be complete.
func listWithAttributes(fileSystem filesystem.FileSystem, directory string) (map[string]*filesystem.Attributes, error) {
	// Use a batched query if possible.
	if batcher, ok := fileSystem.(filesystem.BatchLister); ok {
		listing, err := batcher.ListWithAttributes(directory)
		if err != nil {
			return nil, err
		}
		for name := range listing.Entries {
			if filesystem.IsProbeFileName(name) {
				delete(listing.Entries, name)
			}
		}
		for name, err := range listing.Failures {
			if !filesystem.IsProbeFileName(name) {
				return nil, err
			}
		}
		return listing.Entries, nil
	}

	// Otherwise list and query individually.
	names, err := fileSystem.ListNames(directory)
	if err != nil {
		return nil, err
	}
	results := make(map[string]*filesystem.Attributes, len(names))
	for _, name := range names {
		if filesystem.IsProbeFileName(name) {
			continue
		}
		attributes, err := fileSystem.Attributes(filepath.Join(directory, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		results[name] = attributes
	}
	return results, nil
}
