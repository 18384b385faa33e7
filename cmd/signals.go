package cmd

import (
	"os"
	"syscall"
)

// TerminationSignals are the signals treated as requests for termination. On
// Windows, SIGINT is emulated for Ctrl-C and Ctrl-Break and SIGTERM for console
// close, logoff, and shutdown events.
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}
