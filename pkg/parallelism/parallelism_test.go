package parallelism

import (
	"runtime"
	"testing"
)

// TestEffective tests worker count computation.
func TestEffective(t *testing.T) {
	cpus := runtime.NumCPU()
	if result := Effective(0); result != cpus {
		t.Error("default parallelism does not match CPU count:", result, "!=", cpus)
	}
	if result := Effective(-3); result != cpus {
		t.Error("negative parallelism not mapped to CPU count:", result)
	}
	if result := Effective(1); result != 1 {
		t.Error("single worker parallelism not preserved:", result)
	}
	if result := Effective(cpus + 5); result != cpus {
		t.Error("excessive parallelism not clamped:", result)
	}
}
