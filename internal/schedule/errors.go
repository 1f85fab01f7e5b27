package schedule

import (
	"errors"
	"fmt"
)

// ErrNonNormalizableWeights indicates warfare or front weights that do
// not sum to a positive value.
var ErrNonNormalizableWeights = errors.New("weights are not normalizable")

// BuildError indicates the scheduler could not produce a valid schedule.
// It is fatal to the job.
type BuildError struct {
	Reason string
	Cause  error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schedule build failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("schedule build failed: %s", e.Reason)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// IsBuildError reports whether err is a schedule build failure.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
