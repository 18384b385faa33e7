// Package filesystem provides the attribute snapshot layer consulted by the
// refresh engine, along with its operating system implementation.
package filesystem

// FileSystem is the source of truth consulted by the refresh engine. Paths are
// absolute, platform-native paths.
type FileSystem interface {
	// ListNames returns the names of the entries in the specified directory,
	// excluding "." and "..", in no particular order.
	ListNames(directory string) ([]string, error)
	// Attributes returns the attributes of the entry at the specified path
	// without traversing a final symbolic link, except to describe its target
	// (see Attributes). If the entry doesn't exist, an error satisfying
	// errors.Is(err, fs.ErrNotExist) is returned. If the entry is a symbolic
	// link whose target can't be reached, BrokenSymbolicLink is returned.
	Attributes(path string) (*Attributes, error)
	// ResolveSymbolicLink returns the fully resolved target of the symbolic
	// link at the specified path.
	ResolveSymbolicLink(path string) (string, error)
	// CaseSensitive returns whether or not names within the specified
	// directory are case-sensitive.
	CaseSensitive(directory string) bool
}

// Listing is the result of a batched directory query.
type Listing struct {
	// Entries are the attributes of the entries that were queried
	// successfully, keyed by name.
	Entries map[string]*Attributes
	// Failures are the errors encountered while querying individual entries,
	// keyed by name. A failed entry is known to exist, but its attributes are
	// unknown.
	Failures map[string]error
}

// newListing creates an empty listing with capacity for the specified number
// of entries.
func newListing(capacity int) *Listing {
	return &Listing{
		Entries:  make(map[string]*Attributes, capacity),
		Failures: make(map[string]error),
	}
}

// Names returns the names of all listed entries, including those that
// couldn't be queried, in no particular order.
func (l *Listing) Names() []string {
	names := make([]string, 0, len(l.Entries)+len(l.Failures))
	for name := range l.Entries {
		names = append(names, name)
	}
	for name := range l.Failures {
		names = append(names, name)
	}
	return names
}

// Lookup returns the attributes of an entry that was queried successfully. It
// may be called on a nil listing.
func (l *Listing) Lookup(name string) (*Attributes, bool) {
	if l == nil {
		return nil, false
	}
	attributes, ok := l.Entries[name]
	return attributes, ok
}

// Failure returns the error encountered while querying an entry, or nil if the
// entry wasn't recorded as failed. It may be called on a nil listing.
func (l *Listing) Failure(name string) error {
	if l == nil {
		return nil
	}
	return l.Failures[name]
}

// BatchLister is an optional FileSystem capability that folds listing and
// attribute queries for a directory into a single operation.
type BatchLister interface {
	// ListWithAttributes lists the specified directory along with the
	// attributes of its entries, with the same semantics as
	// FileSystem.Attributes. Entries that disappear between listing and
	// querying are omitted. A failure to query an individual entry is
	// recorded in the listing rather than failing the whole operation.
	ListWithAttributes(directory string) (*Listing, error)
}
