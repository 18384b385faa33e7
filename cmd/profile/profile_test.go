package profile

import (
	"os"
	"path/filepath"
	"testing"
)

// TestProfile tests that a profile writes both output files.
func TestProfile(t *testing.T) {
	// Run a profile.
	directory := t.TempDir()
	profile, err := New(directory, "test")
	if err != nil {
		t.Fatal("unable to start profile:", err)
	}
	if err := profile.Finalize(); err != nil {
		t.Fatal("unable to finalize profile:", err)
	}

	// Verify outputs.
	for _, name := range []string{"test_cpu.prof", "test_heap.prof"} {
		if _, err := os.Stat(filepath.Join(directory, name)); err != nil {
			t.Error("profile output missing:", name, err)
		}
	}
}

// TestProfileInvalidDirectory tests that profiles fail to start in missing
// directories.
func TestProfileInvalidDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing"), "test"); err == nil {
		t.Error("profile started in missing directory")
	}
}
