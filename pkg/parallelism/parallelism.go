// Package parallelism provides worker count computation for parallel scans.
package parallelism

import (
	"runtime"
)

// Effective computes the number of workers to use for a requested level of
// parallelism. Values less than one (including the zero value) select one
// worker per CPU, and values are clamped to the number of CPUs.
func Effective(requested int) int {
	// Determine the number of CPUs.
	cpus := runtime.NumCPU()
	if cpus < 1 {
		panic("invalid number of CPUs")
	}

	// Clamp the requested value.
	if requested < 1 || requested > cpus {
		return cpus
	}
	return requested
}
