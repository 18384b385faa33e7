package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
)

// testSource is a fixed counter source.
type testSource refresh.CounterSnapshot

// Snapshot implements Source.Snapshot.
func (s testSource) Snapshot() refresh.CounterSnapshot {
	return refresh.CounterSnapshot(s)
}

// testSnapshot is the snapshot used for tests.
var testSnapshot = testSource{
	FullScans:         7,
	PartialScans:      2,
	Retries:           1,
	Sessions:          4,
	CancelledSessions: 1,
	Events:            12,
	CacheTime:         1500 * time.Millisecond,
	SyscallTime:       250 * time.Millisecond,
}

// TestCollector tests that collected values match the snapshot.
func TestCollector(t *testing.T) {
	collector := NewCollector(testSnapshot, "/p")
	expected := `
# HELP vfsrefresh_full_scans_total Number of full directory reconciliation attempts.
# TYPE vfsrefresh_full_scans_total counter
vfsrefresh_full_scans_total{tree="/p"} 7
# HELP vfsrefresh_sessions_total Number of finished refresh sessions.
# TYPE vfsrefresh_sessions_total counter
vfsrefresh_sessions_total{outcome="cancelled",tree="/p"} 1
vfsrefresh_sessions_total{outcome="completed",tree="/p"} 4
# HELP vfsrefresh_cache_seconds_total Time spent reading the cached tree.
# TYPE vfsrefresh_cache_seconds_total counter
vfsrefresh_cache_seconds_total{tree="/p"} 1.5
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"vfsrefresh_full_scans_total",
		"vfsrefresh_sessions_total",
		"vfsrefresh_cache_seconds_total",
	)
	if err != nil {
		t.Error("collected metrics mismatch:", err)
	}
	if count := testutil.CollectAndCount(collector); count != 8 {
		t.Error("unexpected metric count:", count)
	}
}

// TestCollectorLint tests that the collector's metrics follow conventions.
func TestCollectorLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollector(testSnapshot, "/p"))
	if err != nil {
		t.Fatal("unable to lint metrics:", err)
	}
	for _, problem := range problems {
		t.Error("metric problem:", problem.Metric, problem.Text)
	}
}

// TestHandler tests serving metrics over HTTP.
func TestHandler(t *testing.T) {
	// Create the registry.
	registry, err := NewRegistry(NewCollector(&refresh.Counters{}, "/p"))
	if err != nil {
		t.Fatal("unable to create registry:", err)
	}

	// Perform a request.
	recorder := httptest.NewRecorder()
	Handler(registry).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatal("unexpected status code:", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, `vfsrefresh_retries_total{tree="/p"} 0`) {
		t.Error("refresh metrics missing from response")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("runtime metrics missing from response")
	}
}

// TestNewRegistryDuplicate tests that duplicate collectors are rejected.
func TestNewRegistryDuplicate(t *testing.T) {
	if _, err := NewRegistry(NewCollector(testSnapshot, "/p"), NewCollector(testSnapshot, "/p")); err == nil {
		t.Error("duplicate collectors accepted")
	}
}
