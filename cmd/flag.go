package cmd

import (
	"github.com/spf13/pflag"

	"github.com/mutagen-io/vfsrefresh/pkg/logging"
)

// LogLevelFlag is a pflag.Value that parses log level names. It records
// whether or not it was set so that it can override configuration values.
type LogLevelFlag struct {
	// Level is the parsed level.
	Level logging.Level
	// Specified indicates whether or not the flag was set.
	Specified bool
}

// String implements pflag.Value.String.
func (f *LogLevelFlag) String() string {
	if !f.Specified {
		return ""
	}
	return f.Level.String()
}

// Set implements pflag.Value.Set.
func (f *LogLevelFlag) Set(value string) error {
	if err := f.Level.UnmarshalText([]byte(value)); err != nil {
		return err
	}
	f.Specified = true
	return nil
}

// Type implements pflag.Value.Type.
func (f *LogLevelFlag) Type() string {
	return "level"
}

// ensure LogLevelFlag implements pflag.Value.
var _ pflag.Value = (*LogLevelFlag)(nil)
