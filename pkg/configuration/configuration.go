// Package configuration provides the YAML configuration used by vfsrefresh.
package configuration

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/encoding"
	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/logging"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
)

const (
	// FileName is the name of the configuration file within the user's home
	// directory.
	FileName = ".vfsrefresh.yml"

	// defaultMaximumEntries is the default eager scan entry limit.
	defaultMaximumEntries = 10000
	// defaultCoalescingWindow is the default watch coalescing window.
	defaultCoalescingWindow = 100 * time.Millisecond
)

// EagerScan is the eager scan configuration.
type EagerScan struct {
	// Roots are the absolute paths of the project roots beneath which newly
	// created directories are scanned eagerly.
	Roots []string `yaml:"roots"`
	// Ignores are doublestar patterns, relative to the containing root, for
	// entries that should never be scanned eagerly.
	Ignores []string `yaml:"ignores"`
	// MaximumEntries is the maximum number of entries that a single eager scan
	// will accumulate before abandoning the scan.
	MaximumEntries int `yaml:"maximumEntries"`
}

// Watch is the native watching configuration.
type Watch struct {
	// CoalescingWindow is the period over which filesystem notifications are
	// coalesced into a single refresh.
	CoalescingWindow time.Duration `yaml:"coalescingWindow"`
}

// Metrics is the metrics configuration.
type Metrics struct {
	// Address is the listening address for the metrics endpoint. If empty,
	// metrics aren't served.
	Address string `yaml:"address"`
}

// Configuration is the YAML configuration object type.
type Configuration struct {
	// Parallelism is the requested number of scan workers. Values outside of
	// [1, NumCPU] are clamped, with 0 selecting NumCPU.
	Parallelism int `yaml:"parallelism"`
	// LogLevel is the log level.
	LogLevel logging.Level `yaml:"logLevel"`
	// CaseSensitivity controls case sensitivity detection.
	CaseSensitivity filesystem.CaseSensitivityMode `yaml:"caseSensitivity"`
	// EagerScan is the eager scan configuration.
	EagerScan EagerScan `yaml:"eagerScan"`
	// Watch is the native watching configuration.
	Watch Watch `yaml:"watch"`
	// Metrics is the metrics configuration.
	Metrics Metrics `yaml:"metrics"`
}

// Default returns the default configuration.
func Default() *Configuration {
	return &Configuration{
		LogLevel: logging.LevelInfo,
		EagerScan: EagerScan{
			MaximumEntries: defaultMaximumEntries,
		},
		Watch: Watch{
			CoalescingWindow: defaultCoalescingWindow,
		},
	}
}

// DefaultPath returns the path of the configuration file in the user's home
// directory. It does not verify that the file exists.
func DefaultPath() (string, error) {
	// Compute the path to the user's home directory.
	homeDirectoryPath, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to compute path to home directory: %w", err)
	}

	// Success.
	return filepath.Join(homeDirectoryPath, FileName), nil
}

// Load loads and validates the configuration at the specified path. Values
// not specified in the file retain their defaults. If the file doesn't exist,
// the default configuration is returned.
func Load(path string) (*Configuration, error) {
	// Start with the defaults.
	result := Default()

	// Attempt to load.
	if err := encoding.LoadAndUnmarshalYAML(path, result); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("unable to load configuration: %w", err)
		}
	}

	// Validate the result.
	if err := result.EnsureValid(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Success.
	return result, nil
}

// EnsureValid ensures that the configuration is valid.
func (c *Configuration) EnsureValid() error {
	// A nil configuration is not considered valid.
	if c == nil {
		return errors.New("nil configuration")
	}

	// Verify the parallelism.
	if c.Parallelism < 0 {
		return errors.New("negative parallelism")
	}

	// Verify the eager scan configuration.
	if _, err := c.EagerScanPolicy(); err != nil {
		return fmt.Errorf("invalid eager scan configuration: %w", err)
	}

	// Verify the watch configuration.
	if c.Watch.CoalescingWindow <= 0 {
		return errors.New("non-positive watch coalescing window")
	}

	// Verify the metrics address.
	if c.Metrics.Address != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	// Success.
	return nil
}

// EagerScanPolicy constructs the eager scan policy described by the
// configuration. It returns nil if no eager scan roots are configured.
func (c *Configuration) EagerScanPolicy() (*refresh.EagerScanPolicy, error) {
	if len(c.EagerScan.Roots) == 0 {
		return nil, nil
	}
	return refresh.NewEagerScanPolicy(c.EagerScan.Roots, c.EagerScan.Ignores, c.EagerScan.MaximumEntries)
}

// RefreshOptions constructs refresher options from the configuration.
func (c *Configuration) RefreshOptions(logger *logging.Logger) (*refresh.Options, error) {
	// Create the eager scan policy.
	eager, err := c.EagerScanPolicy()
	if err != nil {
		return nil, err
	}

	// Done.
	return &refresh.Options{
		Parallelism: c.Parallelism,
		EagerScan:   eager,
		Logger:      logger,
	}, nil
}
