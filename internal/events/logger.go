// Package events provides structured JSON logging for job lifecycle
// events.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger emits one JSON line per significant job event.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger writing JSON to stdout.
func NewEventLogger() *EventLogger {
	return NewEventLoggerWithWriter(os.Stdout)
}

// NewEventLoggerWithWriter creates an EventLogger with a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{logger: slog.New(handler)}
}

// LogJobCreated logs job admission.
// event: "job_created"
// Attributes: job_id, total_patients, days, formats
func (el *EventLogger) LogJobCreated(jobID string, totalPatients, days int, formats []string) {
	el.logger.Info("job_created",
		"job_id", jobID,
		"total_patients", totalPatients,
		"days", days,
		"formats", formats,
	)
}

// LogJobStarted logs the transition to running.
// event: "job_started"
func (el *EventLogger) LogJobStarted(jobID string) {
	el.logger.Info("job_started", "job_id", jobID)
}

// LogChunkCompleted logs completion of one generation chunk.
// event: "chunk_completed"
// Attributes: job_id, chunk, generated, total, duration_ms
func (el *EventLogger) LogChunkCompleted(jobID string, chunk, generated, total int, durationMs int64) {
	el.logger.Info("chunk_completed",
		"job_id", jobID,
		"chunk", chunk,
		"generated", generated,
		"total", total,
		"duration_ms", durationMs,
	)
}

// LogLimitBreach logs a resource limit violation that aborts a job.
// event: "limit_breach"
// Attributes: job_id, limit, value, threshold
func (el *EventLogger) LogLimitBreach(jobID, limit string, value, threshold float64) {
	el.logger.Warn("limit_breach",
		"job_id", jobID,
		"limit", limit,
		"value", value,
		"threshold", threshold,
	)
}

// LogOutputFinalized logs a finalized output file.
// event: "output_finalized"
// Attributes: job_id, filename, format, size_bytes
func (el *EventLogger) LogOutputFinalized(jobID, filename, format string, sizeBytes int64) {
	el.logger.Info("output_finalized",
		"job_id", jobID,
		"filename", filename,
		"format", format,
		"size_bytes", sizeBytes,
	)
}

// LogJobTerminal logs a job reaching a terminal status.
// event: "job_terminal"
// Attributes: job_id, status, generated, duration_ms, error
func (el *EventLogger) LogJobTerminal(jobID, status string, generated int, durationMs int64, errMsg string) {
	if errMsg != "" {
		el.logger.Warn("job_terminal",
			"job_id", jobID,
			"status", status,
			"generated", generated,
			"duration_ms", durationMs,
			"error", errMsg,
		)
		return
	}
	el.logger.Info("job_terminal",
		"job_id", jobID,
		"status", status,
		"generated", generated,
		"duration_ms", durationMs,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events.
func NoopEventLogger() *EventLogger {
	return NewEventLoggerWithWriter(io.Discard)
}
