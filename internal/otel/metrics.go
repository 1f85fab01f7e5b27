// Package otel provides OpenTelemetry metrics integration for casgen.
package otel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType defines the type of metrics exporter to use.
type ExporterType string

const (
	// ExporterNone disables metrics (no-op).
	ExporterNone ExporterType = "none"
	// ExporterStdout exports metrics to stdout (useful for debugging).
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC exports metrics via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP exports metrics via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "casgen",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with casgen-specific helpers.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex
	activeJobsVal atomic.Int64
	activeGauge   metric.Int64ObservableGauge
	heapGauge     metric.Int64ObservableGauge
	gaugeReg      metric.Registration

	// Metric instruments
	chunkDuration  metric.Float64Histogram
	jobsByStatus   metric.Int64Counter
	patientsOutput metric.Int64Counter
	limitBreaches  metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	// Chunk generation duration histogram (in milliseconds)
	m.chunkDuration, err = m.meter.Float64Histogram(
		"casgen.chunk.duration",
		metric.WithDescription("Duration of patient generation chunks"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create chunk duration histogram: %w", err)
	}

	// Jobs counter with terminal status attribute
	m.jobsByStatus, err = m.meter.Int64Counter(
		"casgen.jobs",
		metric.WithDescription("Count of jobs by terminal status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs counter: %w", err)
	}

	// Patients written per output format
	m.patientsOutput, err = m.meter.Int64Counter(
		"casgen.patients.output",
		metric.WithDescription("Count of patient records written by format"),
	)
	if err != nil {
		return fmt.Errorf("failed to create patients output counter: %w", err)
	}

	// Resource limit breaches
	m.limitBreaches, err = m.meter.Int64Counter(
		"casgen.limit.breaches",
		metric.WithDescription("Count of resource limit breaches by limit"),
	)
	if err != nil {
		return fmt.Errorf("failed to create limit breach counter: %w", err)
	}

	// Active jobs observable gauge
	m.activeGauge, err = m.meter.Int64ObservableGauge(
		"casgen.jobs.active",
		metric.WithDescription("Number of currently running jobs"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active jobs gauge: %w", err)
	}

	// Heap usage observable gauge
	m.heapGauge, err = m.meter.Int64ObservableGauge(
		"casgen.memory.heap",
		metric.WithDescription("Heap bytes currently allocated"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create heap gauge: %w", err)
	}

	m.gaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.activeGauge, m.activeJobsVal.Load())
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			o.ObserveInt64(m.heapGauge, int64(ms.HeapAlloc))
			return nil
		},
		m.activeGauge,
		m.heapGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return nil
}

// RecordChunkDuration records the wall time of one generation chunk.
func (m *Metrics) RecordChunkDuration(ctx context.Context, jobID string, durationMs float64) {
	if m.chunkDuration == nil {
		return
	}
	m.chunkDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("job_id", jobID),
	))
}

// RecordJobTerminal counts a job reaching a terminal status.
func (m *Metrics) RecordJobTerminal(ctx context.Context, status string) {
	if m.jobsByStatus == nil {
		return
	}
	m.jobsByStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordPatientsWritten counts records written for one output format.
func (m *Metrics) RecordPatientsWritten(ctx context.Context, format string, n int64) {
	if m.patientsOutput == nil {
		return
	}
	m.patientsOutput.Add(ctx, n, metric.WithAttributes(
		attribute.String("format", format),
	))
}

// RecordLimitBreach counts a resource limit breach.
func (m *Metrics) RecordLimitBreach(ctx context.Context, limit string) {
	if m.limitBreaches == nil {
		return
	}
	m.limitBreaches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limit", limit),
	))
}

// SetActiveJobs sets the running-job count for the observable gauge.
// This is thread-safe and will be read by the gauge callback.
func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobsVal.Store(int64(n))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gaugeReg != nil {
		if err := m.gaugeReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister gauge callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}
	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
