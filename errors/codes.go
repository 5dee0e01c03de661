package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Flow errors raised while items move between stages.
const (
	// ErrCodeChannelClosed indicates a send target has gone away. It is a
	// signal to stop producing, not a failure.
	ErrCodeChannelClosed ErrorCode = "CHANNEL_CLOSED"
	// ErrCodeTransformationFailed indicates a stage's per-item work failed.
	ErrCodeTransformationFailed ErrorCode = "TRANSFORMATION_FAILED"
	// ErrCodeSourceFailed indicates the pipeline source returned an error.
	ErrCodeSourceFailed ErrorCode = "SOURCE_FAILED"
	// ErrCodePipelineFailed is the aggregate result of a run in which at least
	// one stage failed.
	ErrCodePipelineFailed ErrorCode = "PIPELINE_FAILED"
	// ErrCodeCanceled indicates work was abandoned because its context ended.
	ErrCodeCanceled ErrorCode = "CANCELED"
)

// Transient errors a transformation may report (retryable).
const (
	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates a call was rejected by a rate limiter.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeUnavailable indicates a dependency is temporarily unavailable,
	// for example while a circuit breaker is open.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
)

// Configuration and lookup errors
const (
	// ErrCodeInvalidConfig indicates a pipeline or stage was configured with
	// values it cannot run with.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInvalidFormat indicates a field has an invalid format.
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates the resource is not in a state that allows
	// the operation.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:     true,
	ErrCodeRateLimited: true,
	ErrCodeUnavailable: true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
