package must

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mutagen-io/vfsrefresh/pkg/logging"
)

// failing is a resource whose cleanup operations fail.
type failing struct{}

// Close implements io.Closer.Close.
func (failing) Close() error {
	return errors.New("close failure")
}

// Terminate implements termination.
func (failing) Terminate() error {
	return errors.New("terminate failure")
}

// Finalize implements finalization.
func (failing) Finalize() error {
	return errors.New("finalize failure")
}

// TestFailuresLogged tests that cleanup failures are logged as warnings.
func TestFailuresLogged(t *testing.T) {
	// Create a logger.
	buffer := &bytes.Buffer{}
	logger := logging.NewLogger(logging.LevelWarn, buffer)

	// Perform failing operations.
	Close(failing{}, logger)
	Terminate(failing{}, logger)
	Finalize(failing{}, logger)
	Succeed(errors.New("flush failure"), "flush output", logger)
	Succeed(nil, "ignored", logger)

	// Verify output.
	output := buffer.String()
	for _, fragment := range []string{"close failure", "terminate failure", "finalize failure", "Unable to flush output: flush failure"} {
		if !strings.Contains(output, fragment) {
			t.Error("log output missing fragment:", fragment)
		}
	}
	if strings.Contains(output, "ignored") {
		t.Error("successful task logged")
	}
}

// TestNilLogger tests that failures with a nil logger are tolerated.
func TestNilLogger(t *testing.T) {
	Close(failing{}, nil)
	Terminate(failing{}, nil)
}
