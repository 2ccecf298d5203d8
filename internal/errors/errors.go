package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Request processing errors
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Gateway pipeline errors
	ErrCodeUpstreamTransport ErrorCode = "UPSTREAM_TRANSPORT_FAILED"
	ErrCodeUpstreamTimeout   ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeAllBreakersOpen   ErrorCode = "ALL_BREAKERS_OPEN"
	ErrCodePipelineStage     ErrorCode = "PIPELINE_STAGE_FAILED"
)

// LoadBalancerError represents a structured error with context
type LoadBalancerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"` // Original error
}

// Error implements the error interface
func (e *LoadBalancerError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *LoadBalancerError) Unwrap() error {
	return e.Cause
}

// WithMetadata adds metadata to the error
func (e *LoadBalancerError) WithMetadata(key string, value interface{}) *LoadBalancerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *LoadBalancerError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeRateLimitExceeded:
		return 429
	case ErrCodeUpstreamTimeout:
		return 504
	case ErrCodeUpstreamTransport:
		return 502
	case ErrCodeAllBreakersOpen:
		return 503
	case ErrCodePipelineStage:
		return 500
	default:
		return 500
	}
}

// NewError creates a new LoadBalancerError
func NewError(code ErrorCode, component, message string) *LoadBalancerError {
	return &LoadBalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewErrorWithCause creates a new LoadBalancerError with an underlying cause
func NewErrorWithCause(code ErrorCode, component, message string, cause error) *LoadBalancerError {
	return &LoadBalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
		Details:   cause.Error(),
	}
}

// NewRateLimitError creates an error for rate limiting
func NewRateLimitError(clientKey string, limit int) *LoadBalancerError {
	return NewError(
		ErrCodeRateLimitExceeded,
		"rate_limiter",
		fmt.Sprintf("rate limit exceeded for client %s (limit: %d)", clientKey, limit),
	).WithMetadata("client_key", clientKey).WithMetadata("limit", limit)
}

// NewAllBreakersOpenError creates an error for when selection exhausted every backend
func NewAllBreakersOpenError(attempted int) *LoadBalancerError {
	return NewError(
		ErrCodeAllBreakersOpen,
		"select_stage",
		"no backend admitted the request",
	).WithMetadata("attempted", attempted)
}

// NewUpstreamTransportError creates an error for a failed upstream connection
func NewUpstreamTransportError(backendID string, cause error) *LoadBalancerError {
	return NewErrorWithCause(
		ErrCodeUpstreamTransport,
		"proxy_stage",
		fmt.Sprintf("transport failure reaching backend %s", backendID),
		cause,
	).WithMetadata("backend_id", backendID)
}

// NewUpstreamTimeoutError creates an error for an upstream request that exceeded its deadline
func NewUpstreamTimeoutError(backendID string, timeout time.Duration) *LoadBalancerError {
	return NewError(
		ErrCodeUpstreamTimeout,
		"proxy_stage",
		fmt.Sprintf("backend %s did not respond within %s", backendID, timeout),
	).WithMetadata("backend_id", backendID).WithMetadata("timeout", timeout.String())
}

// NewPipelineStageError creates an error for an unexpected failure inside a named stage
func NewPipelineStageError(stage string, cause error) *LoadBalancerError {
	return NewErrorWithCause(
		ErrCodePipelineStage,
		stage,
		fmt.Sprintf("stage %q failed", stage),
		cause,
	).WithMetadata("stage", stage)
}
