// Package must provides helpers for cleanup operations whose failures can only
// be logged, typically because they're deferred.
package must

import (
	"io"

	"github.com/mutagen-io/vfsrefresh/pkg/logging"
)

// Close closes a resource, logging any failure.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("Unable to close: %s", err.Error())
	}
}

// Terminate terminates a resource, logging any failure.
func Terminate(t interface{ Terminate() error }, logger *logging.Logger) {
	if err := t.Terminate(); err != nil {
		logger.Warnf("Unable to terminate: %s", err.Error())
	}
}

// Finalize finalizes a resource, logging any failure.
func Finalize(f interface{ Finalize() error }, logger *logging.Logger) {
	if err := f.Finalize(); err != nil {
		logger.Warnf("Unable to finalize: %s", err.Error())
	}
}

// Succeed logs a failure of the named task, if any.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("Unable to %s: %s", task, err.Error())
	}
}
