package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mutagen-io/vfsrefresh/cmd"
	"github.com/mutagen-io/vfsrefresh/cmd/profile"
	"github.com/mutagen-io/vfsrefresh/pkg/must"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// pollMain is the entry point for the poll command.
func pollMain(_ *cobra.Command, arguments []string) error {
	// Validate flags.
	if pollConfiguration.interval <= 0 {
		return errors.New("polling interval must be positive")
	} else if pollConfiguration.count < 0 {
		return errors.New("scan count must be non-negative")
	}

	// Create the refresh environment.
	environment, err := newEnvironment(arguments[0])
	if err != nil {
		return err
	}
	defer environment.shutdown()

	// Start profiling if requested.
	if pollConfiguration.profile != "" {
		profiler, err := profile.New(".", pollConfiguration.profile)
		if err != nil {
			return fmt.Errorf("unable to start profiling: %w", err)
		}
		defer must.Finalize(profiler, environment.logger)
	}

	// Create the event printer.
	printer := newEventPrinter(pollConfiguration.yaml)
	defer must.Close(printer, environment.logger)

	// Cancel scanning on termination signals.
	ctx, cancel := signal.NotifyContext(context.Background(), cmd.TerminationSignals...)
	defer cancel()

	// Create the polling ticker.
	ticker := time.NewTicker(pollConfiguration.interval)
	defer ticker.Stop()

	// Poll.
	roots := []*vfs.Node{environment.tree.Root()}
	var total uint64
	for scan := 1; pollConfiguration.count == 0 || scan <= pollConfiguration.count; scan++ {
		// Perform a synchronous refresh.
		session, err := refresh.NewSession(roots, refresh.SessionOptions{
			Recursive: true,
			MarkDirty: true,
		})
		if err != nil {
			return err
		}
		start := time.Now()
		if err := environment.queue.Execute(ctx, session); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("unable to execute refresh: %w", err)
		}

		// Report the results.
		events := session.Events()
		total += uint64(len(events))
		if err := printer.print(events); err != nil {
			return err
		}
		printer.printStatus(fmt.Sprintf("Scan %s: %s events total, last scan took %s",
			humanize.Comma(int64(scan)), humanize.Comma(int64(total)),
			time.Since(start).Round(time.Millisecond),
		))

		// Wait for the next scan.
		if pollConfiguration.count != 0 && scan == pollConfiguration.count {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		case err := <-environment.metricsErrors:
			return err
		}
	}

	// Success.
	return nil
}

// pollCommand is the poll command.
var pollCommand = &cobra.Command{
	Use:   "poll <path>",
	Short: "Periodically refresh a directory tree and print changes",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(pollMain),
}

// pollConfiguration stores configuration for the poll command.
var pollConfiguration struct {
	// interval is the polling interval.
	interval time.Duration
	// count is the number of scans to perform. Zero indicates no limit.
	count int
	// yaml indicates that events should be printed as a YAML stream.
	yaml bool
	// profile is the profile name prefix. If empty, profiling is disabled.
	profile string
}

func init() {
	// Register flags.
	cmd.DisableFlagSorting(pollCommand)
	flags := pollCommand.Flags()
	flags.DurationVarP(&pollConfiguration.interval, "interval", "i", time.Second, "Specify the polling interval")
	flags.IntVarP(&pollConfiguration.count, "count", "n", 0, "Stop after the specified number of scans (0 for no limit)")
	flags.BoolVar(&pollConfiguration.yaml, "yaml", false, "Print events as a YAML stream")
	flags.StringVar(&pollConfiguration.profile, "profile", "", "Write CPU and heap profiles with the specified name prefix")
	flags.MarkHidden("profile")
}
