package encoding

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestLoadAndUnmarshalNonExistentPath tests that non-existence errors are
// passed through.
func TestLoadAndUnmarshalNonExistentPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	if !os.IsNotExist(LoadAndUnmarshal(path, nil)) {
		t.Error("expected LoadAndUnmarshal to pass through non-existence errors")
	}
}

// TestLoadAndUnmarshalDirectory tests that loading a directory fails.
func TestLoadAndUnmarshalDirectory(t *testing.T) {
	if LoadAndUnmarshal(t.TempDir(), nil) == nil {
		t.Error("expected LoadAndUnmarshal error when loading directory")
	}
}

// TestLoadAndUnmarshalUnmarshalFail tests that unmarshaling errors are
// propagated.
func TestLoadAndUnmarshalUnmarshalFail(t *testing.T) {
	// Create an empty file.
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}

	// Create a broken unmarshaling function.
	unmarshal := func(_ []byte) error {
		return errors.New("unmarshal failed")
	}

	// Attempt to load.
	if LoadAndUnmarshal(path, unmarshal) == nil {
		t.Error("expected LoadAndUnmarshal to return an error")
	}
}
