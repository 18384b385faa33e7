package cmd

import (
	"os"

	"github.com/mattn/go-isatty"
)

// StandardOutputIsTerminal returns whether or not standard output is attached
// to a terminal (including Cygwin and MSYS2 terminals on Windows).
func StandardOutputIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
