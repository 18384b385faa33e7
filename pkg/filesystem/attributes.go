package filesystem

import (
	"time"
)

// Type is the kind of a filesystem entry, as seen after symbolic link
// resolution.
type Type uint8

const (
	// TypeFile represents a regular file.
	TypeFile Type = iota
	// TypeDirectory represents a directory.
	TypeDirectory
	// TypeSpecial represents anything that is neither a regular file nor a
	// directory (devices, sockets, pipes, and so on).
	TypeSpecial
)

// String provides a human-readable representation of a type.
func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Attributes is an immutable snapshot of a filesystem entry's attributes. For
// symbolic links, the type, size, and modification time describe the link
// target and SymbolicLink is set.
type Attributes struct {
	// Type is the entry type.
	Type Type
	// SymbolicLink indicates that the entry is a symbolic link (or a Windows
	// junction point).
	SymbolicLink bool
	// Hidden indicates that the entry is hidden.
	Hidden bool
	// Writable indicates that the entry is writable by the current user.
	Writable bool
	// Size is the size of the entry in bytes. It is only meaningful for files.
	Size uint64
	// ModificationTime is the modification time of the entry.
	ModificationTime time.Time
}

// IsDirectory returns whether or not the attributes describe a directory.
func (a *Attributes) IsDirectory() bool {
	return a.Type == TypeDirectory
}

// IsSpecial returns whether or not the attributes describe a special entry.
func (a *Attributes) IsSpecial() bool {
	return a.Type == TypeSpecial
}

// BrokenSymbolicLink returns the attributes used for symbolic links whose
// target can't be reached: a zero-length writable non-directory link.
func BrokenSymbolicLink() *Attributes {
	return &Attributes{
		Type:         TypeFile,
		SymbolicLink: true,
		Writable:     true,
	}
}

// isHiddenName returns whether or not a base name follows the POSIX hidden
// file convention.
func isHiddenName(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}
