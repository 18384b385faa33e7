// Package metrics exposes refresh counters as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mutagen-io/vfsrefresh/pkg/refresh"
)

// namespace is the metric namespace.
const namespace = "vfsrefresh"

// Source is a source of refresh counter snapshots. It is implemented by
// *refresh.Counters.
type Source interface {
	// Snapshot returns the current counter values.
	Snapshot() refresh.CounterSnapshot
}

// Collector is a prometheus.Collector that reports refresh counters.
type Collector struct {
	// source is the counter source.
	source Source
	// fullScans describes the full scan counter.
	fullScans *prometheus.Desc
	// partialScans describes the partial scan counter.
	partialScans *prometheus.Desc
	// retries describes the retry counter.
	retries *prometheus.Desc
	// sessions describes the session counter.
	sessions *prometheus.Desc
	// events describes the event counter.
	events *prometheus.Desc
	// cacheSeconds describes the cache time counter.
	cacheSeconds *prometheus.Desc
	// syscallSeconds describes the syscall time counter.
	syscallSeconds *prometheus.Desc
}

// NewCollector creates a new collector for the specified source. The tree
// label distinguishes collectors for different trees registered with the same
// registry.
func NewCollector(source Source, tree string) *Collector {
	labels := prometheus.Labels{"tree": tree}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}
	return &Collector{
		source:         source,
		fullScans:      desc("full_scans_total", "Number of full directory reconciliation attempts."),
		partialScans:   desc("partial_scans_total", "Number of partial directory reconciliation attempts."),
		retries:        desc("retries_total", "Number of reconciliation attempts discarded due to cache races."),
		sessions:       desc("sessions_total", "Number of finished refresh sessions.", "outcome"),
		events:         desc("events_total", "Number of events produced by completed refresh sessions."),
		cacheSeconds:   desc("cache_seconds_total", "Time spent reading the cached tree."),
		syscallSeconds: desc("syscall_seconds_total", "Time spent querying the filesystem."),
	}
}

// Describe implements prometheus.Collector.Describe.
func (c *Collector) Describe(descriptions chan<- *prometheus.Desc) {
	descriptions <- c.fullScans
	descriptions <- c.partialScans
	descriptions <- c.retries
	descriptions <- c.sessions
	descriptions <- c.events
	descriptions <- c.cacheSeconds
	descriptions <- c.syscallSeconds
}

// Collect implements prometheus.Collector.Collect.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	snapshot := c.source.Snapshot()
	counter := func(desc *prometheus.Desc, value float64, labels ...string) {
		metrics <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, value, labels...)
	}
	counter(c.fullScans, float64(snapshot.FullScans))
	counter(c.partialScans, float64(snapshot.PartialScans))
	counter(c.retries, float64(snapshot.Retries))
	counter(c.sessions, float64(snapshot.Sessions), refresh.OutcomeCompleted.String())
	counter(c.sessions, float64(snapshot.CancelledSessions), refresh.OutcomeCancelled.String())
	counter(c.events, float64(snapshot.Events))
	counter(c.cacheSeconds, snapshot.CacheTime.Seconds())
	counter(c.syscallSeconds, snapshot.SyscallTime.Seconds())
}

// NewRegistry creates a registry containing the specified collectors along
// with the standard Go runtime and process collectors.
func NewRegistry(collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	// Create the registry.
	registry := prometheus.NewRegistry()

	// Register the runtime collectors.
	if err := registerRuntime(registry); err != nil {
		return nil, err
	}

	// Register the caller's collectors.
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	// Success.
	return registry, nil
}

// registerRuntime registers the Go runtime and process collectors.
func registerRuntime(registry *prometheus.Registry) error {
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler that serves the registry's metrics.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
