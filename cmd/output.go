package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// StatusLinePrinter prints a single, continuously updated status line. Color
// escape sequences are supported.
type StatusLinePrinter struct {
	// UseStandardError causes the printer to use standard error instead of
	// standard output.
	UseStandardError bool
	// nonEmpty indicates whether or not the status line currently has content.
	nonEmpty bool
}

// output returns the printer's output stream.
func (p *StatusLinePrinter) output() io.Writer {
	if p.UseStandardError {
		return color.Error
	}
	return color.Output
}

// Print replaces the status line contents with the specified message. Messages
// are truncated or padded to a platform-dependent width so that they fully
// overwrite previous content.
func (p *StatusLinePrinter) Print(message string) {
	fmt.Fprintf(p.output(), statusLineFormat, message)
	p.nonEmpty = true
}

// Clear blanks the status line and returns the cursor to its start.
func (p *StatusLinePrinter) Clear() {
	fmt.Fprintf(p.output(), statusLineClearFormat, "")
	p.nonEmpty = false
}

// BreakIfNonEmpty moves to a new line if the status line has content, so that
// subsequent output doesn't overwrite it.
func (p *StatusLinePrinter) BreakIfNonEmpty() {
	if p.nonEmpty {
		fmt.Fprintln(p.output())
		p.nonEmpty = false
	}
}
