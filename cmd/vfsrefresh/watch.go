package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mutagen-io/vfsrefresh/cmd"
	"github.com/mutagen-io/vfsrefresh/pkg/must"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
	"github.com/mutagen-io/vfsrefresh/pkg/watching"
)

// watchMain is the entry point for the watch command.
func watchMain(_ *cobra.Command, arguments []string) error {
	// Set up signal handling before creating infrastructure so that
	// termination doesn't interrupt initialization.
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)
	defer signal.Stop(signalTermination)

	// Create the refresh environment.
	environment, err := newEnvironment(arguments[0])
	if err != nil {
		return err
	}
	defer environment.shutdown()

	// Print delivered events. Listeners are invoked serially, so the printer
	// needs no additional synchronization.
	printer := newEventPrinter(watchConfiguration.yaml)
	defer must.Close(printer, environment.logger)
	printErrors := make(chan error, 1)
	removeListener := environment.queue.AddListener(func(_ context.Context, events []*refresh.Event) {
		if err := printer.print(events); err != nil {
			select {
			case printErrors <- err:
			default:
			}
		}
	})
	defer removeListener()

	// Start watching.
	watcher, err := watching.NewWatcher(
		environment.queue,
		environment.configuration.Watch.CoalescingWindow,
		environment.logger.Sublogger("watch"),
	)
	if err != nil {
		return err
	}
	defer must.Terminate(watcher, environment.logger)
	printer.printStatus(fmt.Sprintf("Watching %s", environment.tree.Root().Path()))

	// Wait for termination or failure.
	select {
	case <-signalTermination:
		return nil
	case err := <-watcher.Errors():
		return fmt.Errorf("watching failed: %w", err)
	case err := <-printErrors:
		return err
	case err := <-environment.metricsErrors:
		return err
	}
}

// watchCommand is the watch command.
var watchCommand = &cobra.Command{
	Use:   "watch <path>",
	Short: "Watch a directory tree natively and print changes",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(watchMain),
}

// watchConfiguration stores configuration for the watch command.
var watchConfiguration struct {
	// yaml indicates that events should be printed as a YAML stream.
	yaml bool
}

func init() {
	// Register flags.
	cmd.DisableFlagSorting(watchCommand)
	watchCommand.Flags().BoolVar(&watchConfiguration.yaml, "yaml", false, "Print events as a YAML stream")
}
