package api

import (
	"github.com/bc-dunia/casgen/internal/validation"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	ErrorType    string                 `json:"error_type"`
	ErrorCode    string                 `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	Retryable    bool                   `json:"retryable"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// ErrorType constants for API errors.
const (
	ErrorTypeInvalidArgument    = "invalid_argument"
	ErrorTypeNotFound           = "not_found"
	ErrorTypeConflict           = "conflict"
	ErrorTypeFailedPrecondition = "failed_precondition"
	ErrorTypeResourceExhausted  = "resource_exhausted"
	ErrorTypeRateLimited        = "rate_limited"
	ErrorTypeInternal           = "internal"
)

// NewValidationErrorResponse creates an error response for validation failures.
func NewValidationErrorResponse(report *validation.Report) *ErrorResponse {
	issues := make([]map[string]interface{}, 0, len(report.Errors))
	for _, issue := range report.Errors {
		issues = append(issues, map[string]interface{}{
			"code":    issue.Code,
			"message": issue.Message,
			"field":   issue.Field,
		})
	}
	return &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    "VALIDATION_FAILED",
		ErrorMessage: "Job request failed validation",
		Retryable:    false,
		Details:      map[string]interface{}{"issues": issues},
	}
}

// NewNotFoundErrorResponse creates an error response for an unknown job.
func NewNotFoundErrorResponse(jobID string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeNotFound,
		ErrorCode:    "JOB_NOT_FOUND",
		ErrorMessage: "Job not found",
		Retryable:    false,
		Details:      map[string]interface{}{"job_id": jobID},
	}
}

// NewNotReadyErrorResponse creates an error response for output requested
// before completion.
func NewNotReadyErrorResponse(jobID, status string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeFailedPrecondition,
		ErrorCode:    "OUTPUT_NOT_READY",
		ErrorMessage: "Job has not completed; output is not available",
		Retryable:    true,
		Details: map[string]interface{}{
			"job_id": jobID,
			"status": status,
		},
	}
}

// NewInvalidRequestErrorResponse creates an error response for invalid requests.
func NewInvalidRequestErrorResponse(message string, details map[string]interface{}) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    "INVALID_REQUEST",
		ErrorMessage: message,
		Retryable:    false,
		Details:      details,
	}
}

// NewInternalErrorResponse creates an error response for internal errors.
func NewInternalErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeInternal,
		ErrorCode:    "INTERNAL_ERROR",
		ErrorMessage: message,
		Retryable:    true,
	}
}
