package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mutagen-io/vfsrefresh/cmd"

	"github.com/mutagen-io/vfsrefresh/pkg/configuration"
	"github.com/mutagen-io/vfsrefresh/pkg/filesystem"
	"github.com/mutagen-io/vfsrefresh/pkg/logging"
	"github.com/mutagen-io/vfsrefresh/pkg/metrics"
	"github.com/mutagen-io/vfsrefresh/pkg/must"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// environment bundles the infrastructure shared by the refresh commands.
type environment struct {
	// configuration is the loaded configuration.
	configuration *configuration.Configuration
	// logger is the root logger.
	logger *logging.Logger
	// tree is the cached tree.
	tree *vfs.Tree
	// queue is the tree's refresh queue.
	queue *refresh.Queue
	// metricsServer is the metrics server, if any.
	metricsServer *http.Server
	// metricsErrors receives metrics serving failures. It's never closed.
	metricsErrors chan error
}

// loadConfiguration loads the configuration specified on the command line (or
// the default configuration file) and applies command line overrides.
func loadConfiguration() (*configuration.Configuration, error) {
	// Determine the configuration path.
	path := rootConfiguration.configuration
	if path == "" {
		var err error
		if path, err = configuration.DefaultPath(); err != nil {
			return nil, err
		}
	}

	// Load the configuration.
	result, err := configuration.Load(path)
	if err != nil {
		return nil, err
	}

	// Apply overrides.
	if rootConfiguration.logLevel.Specified {
		result.LogLevel = rootConfiguration.logLevel.Level
	}

	// Success.
	return result, nil
}

// newEnvironment creates the refresh infrastructure for the specified path and
// performs the initial load of its tree.
func newEnvironment(path string) (*environment, error) {
	// Load configuration and create the logger.
	config, err := loadConfiguration()
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(config.LogLevel, os.Stderr)

	// Create the tree.
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to compute absolute path: %w", err)
	}
	tree, err := vfs.NewTree(filesystem.NewLocal(config.CaseSensitivity), root)
	if err != nil {
		return nil, fmt.Errorf("unable to create tree: %w", err)
	} else if !tree.Root().IsDirectory() {
		return nil, errors.New("path is not a directory")
	} else if tree.Root().IsSymbolicLink() {
		cmd.Warning("root path is a symbolic link, so only changes within its target will be detected")
	}

	// Perform the initial load.
	logger.Infof("Loading %s", root)
	if err := tree.LoadRecursive(tree.Root()); err != nil {
		return nil, fmt.Errorf("unable to load tree: %w", err)
	}

	// Create the refresher and queue.
	options, err := config.RefreshOptions(logger.Sublogger("refresh"))
	if err != nil {
		return nil, err
	}
	refresher := refresh.NewRefresher(tree, options)
	result := &environment{
		configuration: config,
		logger:        logger,
		tree:          tree,
		queue:         refresh.NewQueue(refresher, logger.Sublogger("queue")),
		metricsErrors: make(chan error, 1),
	}

	// Start the metrics server if requested.
	if address := config.Metrics.Address; address != "" {
		if err := result.serveMetrics(address, refresher.Counters()); err != nil {
			result.shutdown()
			return nil, err
		}
	}

	// Success.
	return result, nil
}

// serveMetrics starts serving metrics on the specified address.
func (e *environment) serveMetrics(address string, counters *refresh.Counters) error {
	// Create the registry.
	registry, err := metrics.NewRegistry(metrics.NewCollector(counters, e.tree.Root().Path()))
	if err != nil {
		return fmt.Errorf("unable to create metrics registry: %w", err)
	}

	// Create the listener.
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("unable to listen for metrics requests: %w", err)
	}

	// Create the server.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	e.metricsServer = &http.Server{Handler: mux}

	// Serve in the background.
	e.logger.Infof("Serving metrics on %s", listener.Addr())
	go func() {
		if err := e.metricsServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			e.metricsErrors <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	// Success.
	return nil
}

// shutdown stops the queue and metrics server.
func (e *environment) shutdown() {
	e.queue.Shutdown()
	if e.metricsServer != nil {
		must.Close(e.metricsServer, e.logger)
	}
}
