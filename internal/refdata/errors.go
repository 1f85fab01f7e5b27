package refdata

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing reference-data entry. The flow
// simulator maps it to a job-fatal configuration error.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reference data not found: %s %q", e.Kind, e.Key)
}

// IsNotFound reports whether err is a reference-data lookup miss.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func notFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}
