//go:build !linux && !windows

package filesystem

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// defaultCaseSensitive is the case sensitivity assumed when probing fails.
var defaultCaseSensitive = runtime.GOOS != "darwin"

// attributesFromFileInfo converts file information into attributes.
func attributesFromFileInfo(name string, info os.FileInfo) *Attributes {
	// Create the result.
	mode := info.Mode()
	result := &Attributes{
		Hidden:           isHiddenName(name),
		Writable:         mode.Perm()&0200 != 0,
		Size:             uint64(info.Size()),
		ModificationTime: info.ModTime(),
	}

	// Classify the entry.
	switch {
	case mode&os.ModeSymlink != 0:
		result.Type = TypeFile
		result.SymbolicLink = true
	case mode.IsDir():
		result.Type = TypeDirectory
	case mode.IsRegular():
		result.Type = TypeFile
	default:
		result.Type = TypeSpecial
	}

	// Done.
	return result
}

// lstat queries attributes without traversing a final symbolic link.
func lstat(path string) (*Attributes, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	return attributesFromFileInfo(filepath.Base(path), info), nil
}

// stat queries attributes, traversing symbolic links.
func stat(path string) (*Attributes, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return attributesFromFileInfo(filepath.Base(path), info), nil
}

// listWithAttributes reads directory content names and queries their
// attributes individually.
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

	// Query attributes for each name. Entries that have disappeared are
	// omitted and other failures are recorded for the individual entry.
	results := newListing(len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		attributes, err := lstat(filepath.Join(directory, name))
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			results.Failures[name] = err
			continue
		}
		results.Entries[name] = attributes
	}

	// Success.
	return results, nil
}

// volumeKey returns a key identifying the volume hosting a directory.
func volumeKey(directory string) (string, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return "", err
	}
	if metadata, ok := info.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(metadata.Dev), 10), nil
	}
	return "", errors.New("unable to determine device identifier")
}
