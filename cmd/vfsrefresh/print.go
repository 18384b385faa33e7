package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/mutagen-io/vfsrefresh/cmd"
	"github.com/mutagen-io/vfsrefresh/pkg/encoding"
	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
)

// eventRecord is the YAML representation of an event.
type eventRecord struct {
	// Kind is the event kind.
	Kind string `yaml:"kind"`
	// Path is the affected path.
	Path string `yaml:"path"`
	// Directory indicates whether or not the entry is a directory.
	Directory bool `yaml:"directory,omitempty"`
	// Size is the entry size for creations and content changes.
	Size *uint64 `yaml:"size,omitempty"`
	// Property is the changed property.
	Property string `yaml:"property,omitempty"`
	// Old is the previous property value.
	Old interface{} `yaml:"old,omitempty"`
	// New is the new property value.
	New interface{} `yaml:"new,omitempty"`
}

// newEventRecord converts an event to its YAML representation.
func newEventRecord(event *refresh.Event) *eventRecord {
	record := &eventRecord{
		Kind:      event.Kind.String(),
		Path:      event.Path(),
		Directory: event.IsDirectory(),
	}
	switch event.Kind {
	case refresh.EventKindCreated:
		if !record.Directory {
			size := event.Child.Attributes.Size
			record.Size = &size
		}
	case refresh.EventKindContentChanged:
		size := event.NewLength
		record.Size = &size
	case refresh.EventKindPropertyChanged:
		record.Property = event.Property.String()
		record.Old = event.OldValue
		record.New = event.NewValue
	}
	return record
}

// eventPrinter renders events either as colorized text or as a YAML stream.
type eventPrinter struct {
	// output is the text output stream.
	output io.Writer
	// encoder is the YAML encoder. If nil, text output is used.
	encoder *encoding.YAMLStreamEncoder
	// status is the status line printer. It's nil unless text output is going
	// to a terminal.
	status *cmd.StatusLinePrinter
}

// newEventPrinter creates a new event printer.
func newEventPrinter(yaml bool) *eventPrinter {
	printer := &eventPrinter{output: color.Output}
	if yaml {
		printer.encoder = encoding.NewYAMLStreamEncoder(printer.output)
	} else if cmd.StandardOutputIsTerminal() {
		printer.status = &cmd.StatusLinePrinter{}
	}
	return printer
}

// describe formats an event as a line of text.
func describe(event *refresh.Event) string {
	path := event.Path()
	if event.IsDirectory() {
		path += "/"
	}
	switch event.Kind {
	case refresh.EventKindCreated:
		if event.Child.Attributes.IsDirectory() {
			return color.GreenString("+ %s", path)
		}
		return color.GreenString("+ %s", path) + fmt.Sprintf(" (%s)", humanize.IBytes(event.Child.Attributes.Size))
	case refresh.EventKindDeleted:
		return color.RedString("- %s", path)
	case refresh.EventKindContentChanged:
		return color.YellowString("~ %s", path) + fmt.Sprintf(" (%s -> %s, modified %s)",
			humanize.IBytes(event.OldLength), humanize.IBytes(event.NewLength),
			humanize.Time(event.NewTimestamp),
		)
	case refresh.EventKindPropertyChanged:
		return color.CyanString("* %s", path) + fmt.Sprintf(" %s: %v -> %v",
			event.Property, event.OldValue, event.NewValue,
		)
	default:
		return path
	}
}

// print renders a batch of events.
func (p *eventPrinter) print(events []*refresh.Event) error {
	// Handle YAML output.
	if p.encoder != nil {
		for _, event := range events {
			if err := p.encoder.Encode(newEventRecord(event)); err != nil {
				return fmt.Errorf("unable to encode event: %w", err)
			}
		}
		return nil
	}

	// Handle text output.
	if len(events) > 0 && p.status != nil {
		p.status.Clear()
	}
	for _, event := range events {
		fmt.Fprintln(p.output, describe(event))
	}
	return nil
}

// printStatus updates the status line, if any.
func (p *eventPrinter) printStatus(message string) {
	if p.status != nil {
		p.status.Print(message)
	}
}

// Close finalizes output.
func (p *eventPrinter) Close() error {
	if p.status != nil {
		p.status.BreakIfNonEmpty()
	}
	if p.encoder != nil {
		return p.encoder.Close()
	}
	return nil
}
