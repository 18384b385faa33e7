package refresh

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// EventKind identifies the type of a change event.
type EventKind uint8

const (
	// EventKindCreated indicates that an entry was created.
	EventKindCreated EventKind = iota
	// EventKindDeleted indicates that an entry was deleted.
	EventKindDeleted
	// EventKindContentChanged indicates that a file's modification time or
	// length changed.
	EventKindContentChanged
	// EventKindPropertyChanged indicates that an entry property changed.
	EventKindPropertyChanged
)

// String provides a human-readable representation of an event kind.
func (k EventKind) String() string {
	switch k {
	case EventKindCreated:
		return "created"
	case EventKindDeleted:
		return "deleted"
	case EventKindContentChanged:
		return "content changed"
	case EventKindPropertyChanged:
		return "property changed"
	default:
		return "unknown"
	}
}

// Property identifies an entry property.
type Property uint8

const (
	// PropertyName is the entry name. It only changes through case-only
	// renames on case-insensitive filesystems. Values are strings.
	PropertyName Property = iota
	// PropertyWritable is the writability flag. Values are booleans.
	PropertyWritable
	// PropertyHidden is the hidden flag. Values are booleans.
	PropertyHidden
	// PropertySymbolicLinkTarget is the symbolic link target. Values are
	// strings.
	PropertySymbolicLinkTarget
)

// String provides a human-readable representation of a property.
func (p Property) String() string {
	switch p {
	case PropertyName:
		return "name"
	case PropertyWritable:
		return "writable"
	case PropertyHidden:
		return "hidden"
	case PropertySymbolicLinkTarget:
		return "symlinkTarget"
	default:
		return "unknown"
	}
}

// Event is a pending change event. Which fields are set depends on Kind.
type Event struct {
	// Kind is the event kind.
	Kind EventKind
	// Parent is the directory in which an entry was created. It's only set for
	// creation events.
	Parent *vfs.Node
	// Child describes the created entry, including any precomputed subtree.
	// It's only set for creation events.
	Child *vfs.ChildInfo
	// Node is the affected node. It's set for all events except creations.
	Node *vfs.Node
	// OldTimestamp is the previous modification time for content changes.
	OldTimestamp time.Time
	// NewTimestamp is the new modification time for content changes.
	NewTimestamp time.Time
	// OldLength is the previous length for content changes.
	OldLength uint64
	// NewLength is the new length for content changes.
	NewLength uint64
	// Property is the changed property for property changes.
	Property Property
	// OldValue is the previous property value.
	OldValue interface{}
	// NewValue is the new property value.
	NewValue interface{}
}

// Path returns the path of the entry affected by the event.
func (e *Event) Path() string {
	if e.Kind == EventKindCreated {
		return filepath.Join(e.Parent.Path(), e.Child.Name)
	}
	return e.Node.Path()
}

// IsDirectory returns whether or not the affected entry is a directory.
func (e *Event) IsDirectory() bool {
	if e.Kind == EventKindCreated {
		return e.Child.Attributes.IsDirectory()
	}
	return e.Node.IsDirectory()
}

// String provides a human-readable representation of the event.
func (e *Event) String() string {
	switch e.Kind {
	case EventKindContentChanged:
		return fmt.Sprintf("%s %s (%d -> %d bytes)", e.Kind, e.Path(), e.OldLength, e.NewLength)
	case EventKindPropertyChanged:
		return fmt.Sprintf("%s %s (%s: %v -> %v)", e.Kind, e.Path(), e.Property, e.OldValue, e.NewValue)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Path())
	}
}
