package filesystem

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// defaultCaseSensitive is the case sensitivity assumed when probing fails.
const defaultCaseSensitive = true

// attributesFromStat converts raw stat results into attributes.
func attributesFromStat(name string, metadata *unix.Stat_t, writable bool) *Attributes {
	// Create the result.
	result := &Attributes{
		Hidden:           isHiddenName(name),
		Writable:         writable,
		Size:             uint64(metadata.Size),
		ModificationTime: time.Unix(metadata.Mtim.Unix()),
	}

	// Classify the entry.
	switch metadata.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		result.Type = TypeDirectory
	case unix.S_IFREG:
		result.Type = TypeFile
	case unix.S_IFLNK:
		result.Type = TypeFile
		result.SymbolicLink = true
	default:
		result.Type = TypeSpecial
	}

	// Done.
	return result
}

// lstat queries attributes without traversing a final symbolic link.
func lstat(path string) (*Attributes, error) {
	var metadata unix.Stat_t
	if err := unix.Lstat(path, &metadata); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return attributesFromStat(filepath.Base(path), &metadata, unix.Access(path, unix.W_OK) == nil), nil
}

// stat queries attributes, traversing symbolic links.
func stat(path string) (*Attributes, error) {
	var metadata unix.Stat_t
	if err := unix.Stat(path, &metadata); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return attributesFromStat(filepath.Base(path), &metadata, unix.Access(path, unix.W_OK) == nil), nil
}

// listWithAttributes reads directory contents and queries their attributes
// relative to the directory descriptor.
func listWithAttributes(directory string) (*Listing, error) {
	// Open the directory and defer its closure.
	d, err := os.Open(directory)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	// Read content names.
	names, err := d.Readdirnames(0)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read directory content names")
	}

	// Query metadata for each name. If an entry has disappeared between the
	// listing and the query, then just pretend that it never existed. Other
	// failures are recorded for the individual entry.
	descriptor := int(d.Fd())
	results := newListing(len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		var metadata unix.Stat_t
		if err := unix.Fstatat(descriptor, name, &metadata, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if err == unix.ENOENT {
				continue
			}
			results.Failures[name] = &os.PathError{Op: "fstatat", Path: filepath.Join(directory, name), Err: err}
			continue
		}
		writable := unix.Faccessat(descriptor, name, unix.W_OK, 0) == nil
		results.Entries[name] = attributesFromStat(name, &metadata, writable)
	}

	// Success.
	return results, nil
}

// volumeKey returns a key identifying the volume hosting a directory.
func volumeKey(directory string) (string, error) {
	var metadata unix.Stat_t
	if err := unix.Stat(directory, &metadata); err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(metadata.Dev), 10), nil
}
