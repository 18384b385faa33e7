package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	// caseSensitivityCacheSize is the maximum number of volumes for which case
	// sensitivity results are retained.
	caseSensitivityCacheSize = 64

	// probeFileNamePrefix is the name prefix used for case sensitivity probe
	// files.
	probeFileNamePrefix = ".vfsrefresh-case-probe-"
)

// CaseSensitivityMode controls how Local determines case sensitivity.
type CaseSensitivityMode uint8

const (
	// CaseSensitivityModeAuto probes each volume on first use.
	CaseSensitivityModeAuto CaseSensitivityMode = iota
	// CaseSensitivityModeSensitive treats every directory as case-sensitive.
	CaseSensitivityModeSensitive
	// CaseSensitivityModeInsensitive treats every directory as
	// case-insensitive.
	CaseSensitivityModeInsensitive
)

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (m *CaseSensitivityMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "auto":
		*m = CaseSensitivityModeAuto
	case "sensitive":
		*m = CaseSensitivityModeSensitive
	case "insensitive":
		*m = CaseSensitivityModeInsensitive
	default:
		return errors.Errorf("unknown case sensitivity mode: %s", text)
	}
	return nil
}

// String provides a human-readable representation of the mode.
func (m CaseSensitivityMode) String() string {
	switch m {
	case CaseSensitivityModeAuto:
		return "auto"
	case CaseSensitivityModeSensitive:
		return "sensitive"
	case CaseSensitivityModeInsensitive:
		return "insensitive"
	default:
		return "unknown"
	}
}

// IsProbeFileName returns whether or not a name belongs to an ephemeral case
// sensitivity probe file. Such entries should never be recorded.
func IsProbeFileName(name string) bool {
	return strings.HasPrefix(name, probeFileNamePrefix)
}

// Local is the FileSystem implementation backed by the operating system. It
// also implements BatchLister. It is safe for concurrent usage.
type Local struct {
	// mode is the case sensitivity mode.
	mode CaseSensitivityMode
	// cacheLock serializes access to cache.
	cacheLock sync.Mutex
	// cache maps volume keys to case sensitivity.
	cache *lru.Cache
	// probes deduplicates concurrent probes of the same volume.
	probes singleflight.Group
}

// NewLocal creates a new local filesystem using the specified case
// sensitivity mode.
func NewLocal(mode CaseSensitivityMode) *Local {
	return &Local{
		mode:  mode,
		cache: lru.New(caseSensitivityCacheSize),
	}
}

// ListNames implements FileSystem.ListNames.
func (l *Local) ListNames(directory string) ([]string, error) {
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

	// Filter names (without allocating a new slice). The os.File
	// implementation filters directory references, but that's not guaranteed
	// by its documentation.
	results := names[:0]
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		results = append(results, name)
	}

	// Success.
	return results, nil
}

// resolveLinkAttributes converts the attributes of a symbolic link into the
// attributes of its target, falling back to BrokenSymbolicLink if the target
// can't be reached.
func resolveLinkAttributes(path string, link *Attributes) *Attributes {
	// Query the target.
	target, err := stat(path)
	if err != nil {
		return BrokenSymbolicLink()
	}

	// Carry over link-level properties.
	target.SymbolicLink = true
	target.Hidden = link.Hidden

	// Done.
	return target
}

// Attributes implements FileSystem.Attributes.
func (l *Local) Attributes(path string) (*Attributes, error) {
	// Query the entry itself.
	attributes, err := lstat(path)
	if err != nil {
		return nil, err
	}

	// Resolve symbolic links.
	if attributes.SymbolicLink {
		return resolveLinkAttributes(path, attributes), nil
	}

	// Success.
	return attributes, nil
}

// ListWithAttributes implements BatchLister.ListWithAttributes.
func (l *Local) ListWithAttributes(directory string) (*Listing, error) {
	// Perform the platform-specific batched query.
	results, err := listWithAttributes(directory)
	if err != nil {
		return nil, err
	}

	// Resolve symbolic links.
	for name, attributes := range results.Entries {
		if attributes.SymbolicLink {
			results.Entries[name] = resolveLinkAttributes(filepath.Join(directory, name), attributes)
		}
	}

	// Success.
	return results, nil
}

// ResolveSymbolicLink implements FileSystem.ResolveSymbolicLink.
func (l *Local) ResolveSymbolicLink(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

// CaseSensitive implements FileSystem.CaseSensitive. In automatic mode, the
// result is probed once per volume and cached. If probing fails (e.g. because
// the directory is read-only), the platform default is returned and nothing is
// cached.
func (l *Local) CaseSensitive(directory string) bool {
	// Handle forced modes.
	switch l.mode {
	case CaseSensitivityModeSensitive:
		return true
	case CaseSensitivityModeInsensitive:
		return false
	}

	// Compute the volume key.
	key, err := volumeKey(directory)
	if err != nil {
		return defaultCaseSensitive
	}

	// Check the cache.
	l.cacheLock.Lock()
	cached, ok := l.cache.Get(key)
	l.cacheLock.Unlock()
	if ok {
		return cached.(bool)
	}

	// Probe, collapsing concurrent probes of the same volume.
	result, _, _ := l.probes.Do(key, func() (interface{}, error) {
		sensitive, err := probeCaseSensitivity(directory)
		if err != nil {
			return defaultCaseSensitive, nil
		}
		l.cacheLock.Lock()
		l.cache.Add(key, sensitive)
		l.cacheLock.Unlock()
		return sensitive, nil
	})
	return result.(bool)
}

// probeCaseSensitivity checks whether or not the filesystem hosting directory
// is case-sensitive. It creates a lowercase-named probe file and attempts to
// access it by its uppercase name. If the access succeeds, the filesystem is
// insensitive to the change.
// TODO: Use statfs-based filesystem identification where available so that
// read-only volumes can be classified without a probe file.
func probeCaseSensitivity(directory string) (bool, error) {
	// Create the probe file.
	name := probeFileNamePrefix + uuid.New().String()
	path := filepath.Join(directory, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return false, errors.Wrap(err, "unable to create probe file")
	}

	// Schedule the file for closure and removal.
	defer os.Remove(path)
	defer file.Close()

	// Try to access the file by its uppercase name.
	if _, err := os.Lstat(filepath.Join(directory, strings.ToUpper(name))); err == nil {
		return false, nil
	} else if os.IsNotExist(err) {
		return true, nil
	} else {
		return false, errors.Wrap(err, "unable to query probe file")
	}
}
