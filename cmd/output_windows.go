package cmd

const (
	// statusLineFormat is the status line format. Lines are padded or
	// truncated to 79 characters, since a line that fills a cmd.exe console
	// exactly causes the next carriage return to wrap.
	statusLineFormat = "\r%-79.79s"
	// statusLineClearFormat is the format used to clear the status line.
	statusLineClearFormat = statusLineFormat + "\r"
)
