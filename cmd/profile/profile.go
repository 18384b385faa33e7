// Package profile captures CPU and heap profiles for command invocations.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
)

// Profile manages a CPU profile that runs for the lifetime of a command,
// followed by a heap profile captured when the command finishes.
type Profile struct {
	// prefix is the path prefix for profile output files.
	prefix string
	// cpuProfile is the output file for the CPU profile.
	cpuProfile *os.File
}

// New starts a profile whose output files are written to the specified
// directory with the specified name prefix.
func New(directory, name string) (*Profile, error) {
	// Compute the output prefix.
	prefix := filepath.Join(directory, name)

	// Open the CPU profile output.
	cpuProfile, err := os.Create(prefix + "_cpu.prof")
	if err != nil {
		return nil, fmt.Errorf("unable to create CPU profile: %w", err)
	}

	// Start CPU profiling.
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		cpuProfile.Close()
		return nil, fmt.Errorf("unable to start CPU profile: %w", err)
	}

	// Success.
	return &Profile{
		prefix:     prefix,
		cpuProfile: cpuProfile,
	}, nil
}

// Finalize stops CPU profiling and writes a heap profile.
func (p *Profile) Finalize() error {
	// Close out the CPU profile.
	pprof.StopCPUProfile()
	if err := p.cpuProfile.Close(); err != nil {
		return fmt.Errorf("unable to close CPU profile: %w", err)
	}

	// Update heap statistics and write the heap profile.
	runtime.GC()
	heapProfile, err := os.Create(p.prefix + "_heap.prof")
	if err != nil {
		return fmt.Errorf("unable to create heap profile: %w", err)
	}
	if err := pprof.WriteHeapProfile(heapProfile); err != nil {
		heapProfile.Close()
		return fmt.Errorf("unable to write heap profile: %w", err)
	}
	if err := heapProfile.Close(); err != nil {
		return fmt.Errorf("unable to close heap profile: %w", err)
	}

	// Success.
	return nil
}
