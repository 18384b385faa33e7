package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mutagen-io/vfsrefresh/cmd"

	"github.com/mutagen-io/vfsrefresh/pkg/vfsrefresh"
)

// rootCommand is the root command.
var rootCommand = &cobra.Command{
	Use:          "vfsrefresh",
	Version:      vfsrefresh.Version,
	Short:        "Keep a cached directory tree consistent with the filesystem",
	SilenceUsage: true,
}

// rootConfiguration stores configuration for the root command.
var rootConfiguration struct {
	// configuration is the path to the configuration file. If empty, the
	// default path is used.
	configuration string
	// logLevel overrides the configured log level.
	logLevel cmd.LogLevelFlag
}

func init() {
	// Disable Cobra's command sorting behavior.
	cobra.EnableCommandSorting = false

	// Disable Cobra's use of mousetrap.
	cobra.MousetrapHelpText = ""

	// Set the template used by the version flag.
	rootCommand.SetVersionTemplate("vfsrefresh version {{ .Version }}\n")

	// Register persistent flags.
	flags := rootCommand.PersistentFlags()
	flags.SortFlags = false
	flags.StringVarP(&rootConfiguration.configuration, "config", "c", "", "Specify the configuration file path")
	flags.VarP(&rootConfiguration.logLevel, "log-level", "l", "Override the configured log level")

	// Register commands in the order that they should be listed.
	rootCommand.AddCommand(
		pollCommand,
		watchCommand,
		versionCommand,
	)
}

func main() {
	// Execute the root command.
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
