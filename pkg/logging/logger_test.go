package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// TestNilLogger tests that a nil logger can be used without panicking.
func TestNilLogger(t *testing.T) {
	// Create a nil logger.
	var logger *Logger

	// Exercise every method.
	logger.Sublogger("child").Infof("value %d", 1)
	logger.Error(errors.New("error"))
	logger.Warnf("warning")
	logger.Debugf("debug")
	logger.Tracef("trace")
	if _, err := logger.Writer(LevelInfo).Write([]byte("line\n")); err != nil {
		t.Fatal("unable to write to nil logger writer:", err)
	}

	// Verify the level.
	if logger.Level() != LevelDisabled {
		t.Error("nil logger has non-disabled level")
	}
}

// TestLoggerLevelFiltering tests that lines above the logger's level are
// dropped and that prefixes are applied.
func TestLoggerLevelFiltering(t *testing.T) {
	// Create a logger writing into a buffer.
	buffer := &bytes.Buffer{}
	logger := NewLogger(LevelInfo, buffer).Sublogger("refresh").Sublogger("worker")

	// Log at various levels.
	logger.Infof("visible %s", "info")
	logger.Tracef("hidden trace")

	// Verify output.
	output := buffer.String()
	if !strings.Contains(output, "[refresh.worker] visible info") {
		t.Error("info line missing or improperly prefixed:", output)
	}
	if strings.Contains(output, "hidden trace") {
		t.Error("trace line emitted at info level")
	}
}

// TestLoggerWriter tests that the line-splitting writer handles fragments and
// carriage returns.
func TestLoggerWriter(t *testing.T) {
	// Create a logger writing into a buffer.
	buffer := &bytes.Buffer{}
	logger := NewLogger(LevelInfo, buffer)

	// Write fragmented input.
	writer := logger.Writer(LevelInfo)
	writer.Write([]byte("first li"))
	writer.Write([]byte("ne\r\nsecond line\nthird"))

	// Verify that complete lines were emitted and the fragment retained.
	output := buffer.String()
	if !strings.Contains(output, "first line\n") || !strings.Contains(output, "second line\n") {
		t.Error("complete lines not emitted:", output)
	}
	if strings.Contains(output, "third") {
		t.Error("incomplete fragment emitted")
	}
}

// TestNameToLevel tests level name parsing round trips.
func TestNameToLevel(t *testing.T) {
	for _, level := range []Level{LevelDisabled, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace} {
		if parsed, ok := NameToLevel(level.String()); !ok {
			t.Error("unable to parse level name:", level.String())
		} else if parsed != level {
			t.Error("level mismatch after parsing:", parsed, "!=", level)
		}
	}
	if _, ok := NameToLevel("verbose"); ok {
		t.Error("invalid level name parsed successfully")
	}
}
