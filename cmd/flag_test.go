package cmd

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/mutagen-io/vfsrefresh/pkg/logging"
)

// TestLogLevelFlag tests parsing log levels from the command line.
func TestLogLevelFlag(t *testing.T) {
	// Create a flag set.
	var level LogLevelFlag
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Var(&level, "log-level", "")

	// Verify the unset state.
	if level.String() != "" || level.Specified {
		t.Error("unset flag reports a value")
	}

	// Parse a valid level.
	if err := flags.Parse([]string{"--log-level", "trace"}); err != nil {
		t.Fatal("unable to parse flags:", err)
	}
	if !level.Specified || level.Level != logging.LevelTrace {
		t.Error("flag value mismatch:", level.Level)
	}
	if level.String() != "trace" {
		t.Error("flag string mismatch:", level.String())
	}

	// Parse an invalid level.
	if err := flags.Parse([]string{"--log-level", "loud"}); err == nil {
		t.Error("invalid level accepted")
	}
}
