package state

import (
	"context"
	"time"

	"github.com/mutagen-io/vfsrefresh/pkg/timeutil"
)

// Coalescer groups strobes that occur within a time window of each other into
// a single signal. It is safe for concurrent usage. Its background Goroutine
// must be stopped using Terminate.
type Coalescer struct {
	// strobes transmits strobes to the run loop.
	strobes chan struct{}
	// signals is the signal delivery channel.
	signals chan struct{}
	// cancel stops the run loop.
	cancel context.CancelFunc
	// done is closed when the run loop exits.
	done chan struct{}
}

// NewCoalescer creates a new coalescer with the specified window. Negative
// windows are treated as zero.
func NewCoalescer(window time.Duration) *Coalescer {
	// Clamp the window.
	if window < 0 {
		window = 0
	}

	// Create the coalescer.
	ctx, cancel := context.WithCancel(context.Background())
	coalescer := &Coalescer{
		strobes: make(chan struct{}),
		signals: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// Start the run loop.
	go coalescer.run(ctx, window)

	// Done.
	return coalescer
}

// run is the coalescer's run loop.
func (c *Coalescer) run(ctx context.Context, window time.Duration) {
	defer close(c.done)

	// Create a stopped timer.
	timer := timeutil.NewStoppedTimer()
	defer timer.Stop()

	// Process strobes until cancelled.
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.strobes:
			timeutil.ResetTimer(timer, window)
		case <-timer.C:
			select {
			case c.signals <- struct{}{}:
			default:
			}
		}
	}
}

// Strobe requests a signal once the window has elapsed without further
// strobes. It has no effect after Terminate.
func (c *Coalescer) Strobe() {
	select {
	case c.strobes <- struct{}{}:
	case <-c.done:
	}
}

// Signals returns the signal channel. It has a capacity of 1, so a signal is
// never lost if the channel isn't being polled. It is never closed.
func (c *Coalescer) Signals() <-chan struct{} {
	return c.signals
}

// Terminate stops the run loop and waits for it to exit. It is idempotent.
func (c *Coalescer) Terminate() {
	c.cancel()
	<-c.done
}
