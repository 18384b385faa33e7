package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mutagen-io/vfsrefresh/cmd"
	"github.com/mutagen-io/vfsrefresh/pkg/vfsrefresh"
)

// versionMain is the entry point for the version command.
func versionMain(_ *cobra.Command, _ []string) error {
	// Print version information.
	fmt.Println(vfsrefresh.Version)

	// Success.
	return nil
}

// versionCommand is the version command.
var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run:   cmd.Mainify(versionMain),
}

func init() {
	cmd.DisableFlagSorting(versionCommand)
}
