package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/fatih/color"

	"github.com/mutagen-io/vfsrefresh/pkg/vfsrefresh"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger.
type writer struct {
	// callback is the logging callback.
	callback func(string)
	// buffer is any incomplete line fragment left over from a previous write.
	buffer []byte
}

// trimCarriageReturn trims any single trailing carriage return from the end of
// a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	// Append the data to our internal buffer.
	w.buffer = append(w.buffer, buffer...)

	// Process all lines in the buffer, tracking the number of bytes that we
	// process.
	var processed int
	remaining := w.buffer
	for {
		// Find the index of the next newline character.
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}

		// Process the line.
		w.callback(string(trimCarriageReturn(remaining[:index])))

		// Update the number of bytes that we've processed.
		processed += index + 1

		// Update the remaining slice.
		remaining = remaining[index+1:]
	}

	// If we managed to process bytes, then truncate our internal buffer.
	if processed > 0 {
		// Compute the number of leftover bytes.
		leftover := len(w.buffer) - processed

		// If there are leftover bytes, then shift them to the front of the
		// buffer.
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}

		// Truncate the buffer.
		w.buffer = w.buffer[:leftover]
	}

	// Done.
	return len(buffer), nil
}

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything. Each logger has a level and
// only emits lines at or below that level. Loggers derived from the same root
// share an output, so they are safe for concurrent usage.
type Logger struct {
	// level is the log level.
	level Level
	// prefix is any prefix specified for the logger.
	prefix string
	// output is the shared output of the logger hierarchy.
	output *output
}

// output is the serialized destination shared by a logger hierarchy.
type output struct {
	// lock serializes writes to logger.
	lock sync.Mutex
	// logger is the underlying standard logger.
	logger *log.Logger
}

// NewLogger creates a new root logger that writes to the specified destination
// with the specified level. If debugging is enabled via the environment, the
// level is raised to at least LevelDebug.
func NewLogger(level Level, destination io.Writer) *Logger {
	// Honor the debugging environment switch.
	if vfsrefresh.DebugEnabled && level < LevelDebug {
		level = LevelDebug
	}

	// Create the logger.
	return &Logger{
		level: level,
		output: &output{
			logger: log.New(destination, "", log.LstdFlags|log.Lmicroseconds),
		},
	}
}

// Sublogger creates a new sublogger with the specified name.
func (l *Logger) Sublogger(name string) *Logger {
	// If the logger is nil, then the sublogger will be as well.
	if l == nil {
		return nil
	}

	// Compute the new prefix.
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	// Create the new logger.
	return &Logger{
		level:  l.level,
		prefix: prefix,
		output: l.output,
	}
}

// Level returns the logger's level. A nil logger has level LevelDisabled.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

// write is the internal logging method.
func (l *Logger) write(level Level, line string) {
	// Check whether or not the line should be emitted.
	if l == nil || l.level < level {
		return
	}

	// Add a prefix if necessary.
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}

	// Write the line.
	l.output.lock.Lock()
	l.output.logger.Println(line)
	l.output.lock.Unlock()
}

// Error logs error information with an error prefix and red color.
func (l *Logger) Error(err error) {
	if l != nil && l.level >= LevelError {
		l.write(LevelError, color.RedString("Error: %v", err))
	}
}

// Errorf logs error information with semantics equivalent to fmt.Printf.
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l != nil && l.level >= LevelError {
		l.write(LevelError, color.RedString(format, v...))
	}
}

// Warn logs error information with a warning prefix and yellow color.
func (l *Logger) Warn(err error) {
	if l != nil && l.level >= LevelWarn {
		l.write(LevelWarn, color.YellowString("Warning: %v", err))
	}
}

// Warnf logs warning information with semantics equivalent to fmt.Printf.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l != nil && l.level >= LevelWarn {
		l.write(LevelWarn, color.YellowString(format, v...))
	}
}

// Info logs information with semantics equivalent to fmt.Print.
func (l *Logger) Info(v ...interface{}) {
	if l != nil && l.level >= LevelInfo {
		l.write(LevelInfo, fmt.Sprint(v...))
	}
}

// Infof logs information with semantics equivalent to fmt.Printf.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l != nil && l.level >= LevelInfo {
		l.write(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Debug logs information with semantics equivalent to fmt.Print, but only at
// LevelDebug or above.
func (l *Logger) Debug(v ...interface{}) {
	if l != nil && l.level >= LevelDebug {
		l.write(LevelDebug, fmt.Sprint(v...))
	}
}

// Debugf logs information with semantics equivalent to fmt.Printf, but only at
// LevelDebug or above.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && l.level >= LevelDebug {
		l.write(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Tracef logs information with semantics equivalent to fmt.Printf, but only at
// LevelTrace.
func (l *Logger) Tracef(format string, v ...interface{}) {
	if l != nil && l.level >= LevelTrace {
		l.write(LevelTrace, fmt.Sprintf(format, v...))
	}
}

// Writer returns an io.Writer that writes lines at the specified level.
func (l *Logger) Writer(level Level) io.Writer {
	// If the logger is nil or the level is filtered, then we can just discard
	// input since it won't be logged anyway. This saves us the overhead of
	// scanning lines.
	if l == nil || l.level < level {
		return io.Discard
	}

	// Create the writer.
	return &writer{
		callback: func(s string) {
			l.write(level, s)
		},
	}
}
