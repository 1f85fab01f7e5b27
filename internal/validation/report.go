// Package validation checks job requests before admission: structural
// rules via struct tags and semantic rules against the loaded reference
// data. A failed validation never creates a job.
package validation

import (
	"fmt"
	"strings"
)

// Issue represents a single validation problem.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Report contains the result of validating a job request.
type Report struct {
	OK     bool    `json:"ok"`
	Errors []Issue `json:"errors"`
}

// NewReport creates an empty passing report.
func NewReport() *Report {
	return &Report{OK: true, Errors: []Issue{}}
}

// AddError records an error and flips the report to failing.
func (r *Report) AddError(code, message, field string) {
	r.OK = false
	r.Errors = append(r.Errors, Issue{Code: code, Message: message, Field: field})
}

// Error is the error returned to callers when a request fails
// validation.
type Error struct {
	Report *Report
}

func (e *Error) Error() string {
	if e.Report == nil || len(e.Report.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Report.Errors))
	for _, issue := range e.Report.Errors {
		if issue.Field != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
		} else {
			msgs = append(msgs, issue.Message)
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
