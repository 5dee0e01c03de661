// Package errors provides the structured error type shared by stagekit
// packages. Every error carries a machine-readable code, retryable
// detection, and an HTTP status used by the monitor API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code. This lets
// callers compare against sentinel values such as channel.ErrClosed with
// errors.Is even when the error was wrapped or re-created.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Pipeline constructors ---

// ChannelClosed creates the error returned by sends on a closed or abandoned channel.
func ChannelClosed() *AppError {
	return &AppError{
		Code: ErrCodeChannelClosed, Message: "channel is closed",
		HTTPStatus: http.StatusGone, Retryable: false,
	}
}

// TransformationFailed wraps the error a stage transformation returned for
// the item with the given sequence number.
func TransformationFailed(stage string, seq uint64, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTransformationFailed, Message: fmt.Sprintf("stage %q failed on item %d", stage, seq),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"stage": stage, "seq": seq}, Cause: cause,
	}
}

// SourceFailed wraps an error returned by a pipeline source.
func SourceFailed(cause error) *AppError {
	return &AppError{
		Code: ErrCodeSourceFailed, Message: "pipeline source failed",
		HTTPStatus: http.StatusBadGateway, Retryable: false, Cause: cause,
	}
}

// PipelineFailed aggregates stage failures. The first error is the primary
// cause; all of them are listed in the "failures" detail.
func PipelineFailed(runID string, failures []error) *AppError {
	if len(failures) == 0 {
		return nil
	}
	listed := make([]string, len(failures))
	for i, f := range failures {
		listed[i] = f.Error()
	}
	msg := fmt.Sprintf("pipeline run %s failed", runID)
	if len(failures) > 1 {
		msg = fmt.Sprintf("%s (%d stages failed)", msg, len(failures))
	}
	return &AppError{
		Code: ErrCodePipelineFailed, Message: msg,
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"run_id": runID, "failures": listed},
		Cause:   failures[0],
	}
}

// Canceled creates an error for work abandoned because its context ended.
func Canceled(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeCanceled, Message: fmt.Sprintf("%s was canceled", operation),
		HTTPStatus: http.StatusRequestTimeout, Retryable: false,
		Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// --- Common constructors ---

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s took too long", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// RateLimited creates a new AppError for a call rejected by a rate limiter.
func RateLimited(name string) *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: fmt.Sprintf("rate limit exceeded for %s", name),
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
		Details: map[string]any{"limiter": name},
	}
}

// Unavailable creates a new AppError for a dependency that is temporarily unavailable.
func Unavailable(name, reason string) *AppError {
	return &AppError{
		Code: ErrCodeUnavailable, Message: fmt.Sprintf("%s is unavailable: %s", name, reason),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"name": name},
	}
}

// InvalidConfig creates a new AppError for a configuration value that cannot be used.
func InvalidConfig(field, reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("invalid config %s: %s", field, reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"field": field},
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// InvalidFormat creates a new AppError for an invalid field format.
func InvalidFormat(field, expectedFormat string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidFormat, Message: fmt.Sprintf("Invalid format for %s. Expected: %s", field, expectedFormat),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"field": field, "expected_format": expectedFormat},
	}
}

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// Conflict creates a new AppError for an operation the resource's current
// state does not allow.
func Conflict(resource, reason string) *AppError {
	return &AppError{
		Code: ErrCodeConflict, Message: fmt.Sprintf("%s: %s", resource, reason),
		HTTPStatus: http.StatusConflict, Retryable: false,
		Details: map[string]any{"resource": resource},
	}
}

// Internal creates a new AppError for an unexpected internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// IsCode reports whether err is, or wraps, an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is, or wraps, a retryable AppError.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
