package flow

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates reference data required by the simulation
// was missing at run time. It is fatal to the job.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("flow configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// GenerationError indicates an internal invariant violation while
// generating a patient (e.g. a negative duration after clamping). The
// patient is never silently dropped; the job fails.
type GenerationError struct {
	PatientID int
	Message   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation error for patient %d: %s", e.PatientID, e.Message)
}

// IsConfigurationError reports whether err is a missing-reference-data
// failure.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsGenerationError reports whether err is an invariant violation.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
