package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/mutagen-io/vfsrefresh/pkg/encoding"
	"github.com/mutagen-io/vfsrefresh/pkg/filesystem/memfs"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
	"github.com/mutagen-io/vfsrefresh/pkg/vfs"
)

// testEvents generates a creation, a content change, and a deletion.
func testEvents(t *testing.T) []*refresh.Event {
	// Create the filesystem and tree.
	fileSystem := memfs.New(true)
	fileSystem.Mkdir("/p")
	fileSystem.WriteFile("/p/changed", 1, time.Unix(1, 0))
	fileSystem.WriteFile("/p/removed", 1, time.Unix(1, 0))
	tree, err := vfs.NewTree(fileSystem, "/p")
	if err != nil {
		t.Fatal("unable to create tree:", err)
	}
	if err := tree.LoadRecursive(tree.Root()); err != nil {
		t.Fatal("unable to load tree:", err)
	}

	// Modify the filesystem and refresh.
	fileSystem.WriteFile("/p/created", 2048, time.Unix(1, 0))
	fileSystem.WriteFile("/p/changed", 4096, time.Unix(2, 0))
	fileSystem.Remove("/p/removed")
	tree.Root().MarkDirty()
	events, outcome := refresh.NewRefresher(tree, &refresh.Options{Parallelism: 1}).Refresh(
		context.Background(), []*vfs.Node{tree.Root()}, false,
	)
	if outcome != refresh.OutcomeCompleted {
		t.Fatal("refresh did not complete")
	}
	if len(events) != 3 {
		t.Fatal("unexpected event count:", len(events))
	}
	return events
}

// TestDescribe tests text rendering of events.
func TestDescribe(t *testing.T) {
	// Disable colorization.
	noColor := color.NoColor
	color.NoColor = true
	defer func() {
		color.NoColor = noColor
	}()

	// Render events.
	var lines []string
	for _, event := range testEvents(t) {
		lines = append(lines, describe(event))
	}
	rendered := strings.Join(lines, "\n")

	// Verify output.
	expected := []string{
		"+ /p/created (2.0 KiB)",
		"- /p/removed",
		"~ /p/changed (1 B -> 4.0 KiB",
	}
	for _, fragment := range expected {
		if !strings.Contains(rendered, fragment) {
			t.Errorf("rendered events missing %q:\n%s", fragment, rendered)
		}
	}
}

// TestEventRecordEncoding tests YAML rendering of events.
func TestEventRecordEncoding(t *testing.T) {
	// Encode events.
	buffer := &bytes.Buffer{}
	encoder := encoding.NewYAMLStreamEncoder(buffer)
	for _, event := range testEvents(t) {
		if err := encoder.Encode(newEventRecord(event)); err != nil {
			t.Fatal("unable to encode event:", err)
		}
	}
	if err := encoder.Close(); err != nil {
		t.Fatal("unable to close encoder:", err)
	}

	// Verify output.
	output := buffer.String()
	for _, fragment := range []string{"kind: created", "path: /p/created", "size: 2048", "kind: deleted", "kind: content changed"} {
		if !strings.Contains(output, fragment) {
			t.Errorf("encoded events missing %q:\n%s", fragment, output)
		}
	}
}
