//go:build !windows

package cmd

const (
	// statusLineFormat is the status line format. Lines are padded or
	// truncated to exactly 80 characters, the width of a VT100 terminal.
	statusLineFormat = "\r%-80.80s"
	// statusLineClearFormat is the format used to clear the status line.
	statusLineClearFormat = statusLineFormat + "\r"
)
