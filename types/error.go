package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Backend error codes
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrBudgetExceeded      ErrorCode = "BUDGET_EXCEEDED"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
)

// RAG error codes
const (
	ErrEmbeddingFailure   ErrorCode = "EMBEDDING_FAILURE"
	ErrMalformedOutput    ErrorCode = "MALFORMED_OUTPUT"
	ErrInvalidEvidenceRef ErrorCode = "INVALID_EVIDENCE_REF"
	ErrIndexNotFound      ErrorCode = "INDEX_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// BudgetError is returned when a token budget window cannot absorb a request.
// Callers must wait for the window to roll over; the gateway never retries it.
type BudgetError struct {
	Provider  string
	Requested int
	Remaining int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("[%s] token budget exceeded for %s: requested %d, remaining %d",
		ErrBudgetExceeded, e.Provider, e.Requested, e.Remaining)
}
