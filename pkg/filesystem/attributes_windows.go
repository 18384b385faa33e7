package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// defaultCaseSensitive is the case sensitivity assumed when probing fails.
const defaultCaseSensitive = false

// isJunction returns whether or not an entry is a junction point. These are
// reported with directory-like attributes but are treated as symbolic links.
func isJunction(mode os.FileMode, fileAttributes uint32) bool {
	return mode&os.ModeIrregular != 0 &&
		fileAttributes&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0 &&
		fileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0
}

// attributesFromFileInfo converts file information into attributes.
func attributesFromFileInfo(info os.FileInfo) *Attributes {
	// Extract raw file attributes.
	var fileAttributes uint32
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		fileAttributes = data.FileAttributes
	}

	// Create the result.
	mode := info.Mode()
	result := &Attributes{
		Hidden:           fileAttributes&windows.FILE_ATTRIBUTE_HIDDEN != 0,
		Writable:         fileAttributes&windows.FILE_ATTRIBUTE_READONLY == 0,
		Size:             uint64(info.Size()),
		ModificationTime: info.ModTime(),
	}

	// Classify the entry.
	switch {
	case mode&os.ModeSymlink != 0 || isJunction(mode, fileAttributes):
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
	return attributesFromFileInfo(info), nil
}

// stat queries attributes, traversing symbolic links.
func stat(path string) (*Attributes, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return attributesFromFileInfo(info), nil
}

// listWithAttributes reads directory contents along with their attributes
// using the FindFirstFile/FindNextFile infrastructure underlying Readdir.
func listWithAttributes(directory string) (*Listing, error) {
	// Open the directory and defer its closure.
	d, err := os.Open(directory)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	// Read contents.
	contents, err := d.Readdir(0)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read directory contents")
	}

	// Convert contents.
	results := newListing(len(contents))
	for _, info := range contents {
		results.Entries[info.Name()] = attributesFromFileInfo(info)
	}

	// Success.
	return results, nil
}

// volumeKey returns a key identifying the volume hosting a directory.
func volumeKey(directory string) (string, error) {
	volume := filepath.VolumeName(directory)
	if volume == "" {
		return "", errors.New("path has no volume name")
	}
	return strings.ToLower(volume), nil
}
