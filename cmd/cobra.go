package cmd

import (
	"github.com/spf13/cobra"
)

// Mainify wraps an entry point that returns an error into a standard Cobra
// entry point that reports the error and exits. Entry points written this way
// can rely on deferred cleanup, which wouldn't run if they exited directly.
func Mainify(entry func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(command *cobra.Command, arguments []string) {
		if err := entry(command, arguments); err != nil {
			Fatal(err)
		}
	}
}

// DisableFlagSorting disables alphabetical sorting of a command's flags in
// help output and adds a help flag with a consistent message. Cobra still
// implements the help logic itself.
func DisableFlagSorting(command *cobra.Command) {
	flags := command.Flags()
	flags.SortFlags = false
	flags.BoolP("help", "h", false, "Show help information")
}
