package encoding

import (
	"bytes"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadAndUnmarshalYAML loads data from the specified path and decodes it into
// the specified structure. Unknown fields are rejected.
func LoadAndUnmarshalYAML(path string, value interface{}) error {
	return LoadAndUnmarshal(path, func(data []byte) error {
		// Create a strict decoder.
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		// Decode. An empty document leaves the value untouched.
		if err := decoder.Decode(value); err != nil && err != io.EOF {
			return err
		}

		// Success.
		return nil
	})
}

// YAMLStreamEncoder writes values as a stream of YAML documents.
type YAMLStreamEncoder struct {
	// encoder is the underlying encoder.
	encoder *yaml.Encoder
}

// NewYAMLStreamEncoder creates a new YAML stream encoder writing to the
// specified destination.
func NewYAMLStreamEncoder(destination io.Writer) *YAMLStreamEncoder {
	encoder := yaml.NewEncoder(destination)
	encoder.SetIndent(2)
	return &YAMLStreamEncoder{encoder}
}

// Encode writes a single document.
func (e *YAMLStreamEncoder) Encode(value interface{}) error {
	return e.encoder.Encode(value)
}

// Close flushes any buffered output.
func (e *YAMLStreamEncoder) Close() error {
	return e.encoder.Close()
}
