// Package metrics provides Prometheus metrics exposition for casgen.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates the service's Prometheus metrics.
// Thread-safe; all instrument updates go through client_golang.
type Collector struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	chunkDuration   prometheus.Histogram
	patientsWritten *prometheus.CounterVec
	limitBreaches   *prometheus.CounterVec
	activeJobs      prometheus.Gauge
	outputBytes     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with its own registry, including the
// standard Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casgen_jobs_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casgen_job_duration_seconds",
			Help:    "Wall time from job start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"status"}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "casgen_chunk_duration_seconds",
			Help:    "Wall time of one generation chunk.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		patientsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casgen_patients_written_total",
			Help: "Patient records written per output format.",
		}, []string{"format"}),
		limitBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casgen_limit_breaches_total",
			Help: "Jobs aborted by a resource limit.",
		}, []string{"limit"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casgen_jobs_active",
			Help: "Jobs currently running.",
		}),
		outputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casgen_output_bytes_total",
			Help: "Bytes written to finalized output files, per format.",
		}, []string{"format"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casgen_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		c.jobsTotal,
		c.jobDuration,
		c.chunkDuration,
		c.patientsWritten,
		c.limitBreaches,
		c.activeJobs,
		c.outputBytes,
		c.requestDuration,
	)
	return c
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordJobTerminal counts a job reaching a terminal status and observes
// its total duration.
func (c *Collector) RecordJobTerminal(status string, durationSeconds float64) {
	c.jobsTotal.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordChunk observes the wall time of one generation chunk.
func (c *Collector) RecordChunk(durationSeconds float64) {
	c.chunkDuration.Observe(durationSeconds)
}

// RecordPatientsWritten counts records written for one output format.
func (c *Collector) RecordPatientsWritten(format string, n int) {
	c.patientsWritten.WithLabelValues(format).Add(float64(n))
}

// RecordOutputBytes counts bytes of a finalized output file.
func (c *Collector) RecordOutputBytes(format string, bytes int64) {
	c.outputBytes.WithLabelValues(format).Add(float64(bytes))
}

// RecordLimitBreach counts a resource limit breach.
func (c *Collector) RecordLimitBreach(limit string) {
	c.limitBreaches.WithLabelValues(limit).Inc()
}

// SetActiveJobs sets the running-job gauge.
func (c *Collector) SetActiveJobs(n int) {
	c.activeJobs.Set(float64(n))
}

// RecordRequest observes an HTTP request.
func (c *Collector) RecordRequest(route, code string, durationSeconds float64) {
	c.requestDuration.WithLabelValues(route, code).Observe(durationSeconds)
}
