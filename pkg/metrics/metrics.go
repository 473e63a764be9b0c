// Package metrics records cleaning and conversion activity as Prometheus
// metrics.
//
// Each run owns a Collector with its own registry, so metrics from
// concurrent tests or successive runs never mix. At the end of a run the
// registry can be written to a node-exporter textfile.
//
// # Basic Usage
//
//	collector := metrics.NewCollector()
//	collector.FileCleaned(metrics.StatusSuccess, elapsed, written, dropped)
//	_ = collector.WriteTextfile("/var/lib/node_exporter/lasprep.prom")
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const namespace = "lasprep"

// Collector groups the metrics of one run.
// All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	filesCleaned    *prometheus.CounterVec   // files by status
	cleanDuration   *prometheus.HistogramVec // seconds per file by status
	pointsWritten   prometheus.Counter       // points written across files
	pointsDropped   prometheus.Counter       // rows dropped for missing values
	columnsDropped  *prometheus.CounterVec   // columns dropped by name
	conversions     *prometheus.CounterVec   // converter runs by status
	convertDuration prometheus.Histogram     // seconds per conversion
	inFlight        prometheus.Gauge         // files currently being cleaned
	lastRun         prometheus.Gauge         // unix time of the last completed run
}

// NewCollector creates a collector backed by a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		filesCleaned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_cleaned_total",
				Help:      "Point-cloud files processed by the cleaner",
			},
			[]string{"status"},
		),
		cleanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clean_duration_seconds",
				Help:      "Time to clean one file",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"status"},
		),
		pointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_written_total",
			Help:      "Point records written by the cleaner",
		}),
		pointsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_dropped_total",
			Help:      "Point records dropped for missing values",
		}),
		columnsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "columns_dropped_total",
				Help:      "Columns absent from the destination point format",
			},
			[]string{"column"},
		),
		conversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Octree converter invocations",
			},
			[]string{"status"},
		),
		convertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "convert_duration_seconds",
			Help:      "Time spent in the octree converter per file",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_in_flight",
			Help:      "Files currently being cleaned",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last run",
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// CleanStarted marks a file as in flight. Call the returned function when
// the file is done.
func (c *Collector) CleanStarted() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// FileCleaned records the outcome of cleaning one file.
func (c *Collector) FileCleaned(status string, elapsed time.Duration, written, dropped int) {
	c.filesCleaned.WithLabelValues(status).Inc()
	c.cleanDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	c.pointsWritten.Add(float64(written))
	c.pointsDropped.Add(float64(dropped))
}

// ColumnsDropped counts columns the writer could not place.
func (c *Collector) ColumnsDropped(names ...string) {
	for _, n := range names {
		c.columnsDropped.WithLabelValues(n).Inc()
	}
}

// Converted records one converter invocation.
func (c *Collector) Converted(status string, elapsed time.Duration) {
	c.conversions.WithLabelValues(status).Inc()
	c.convertDuration.Observe(elapsed.Seconds())
}

// RunFinished stamps the completion time of a run.
func (c *Collector) RunFinished(at time.Time) {
	c.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// replacing it atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Timer measures elapsed time for an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
