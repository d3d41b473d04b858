package apierrors

import (
	"fmt"
	"net/http"
)

// Error codes returned to API clients
const (
	CodeNotFound          = "NOT_FOUND"
	CodeCallNotFound      = "CALL_NOT_FOUND"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeExecutionNotFound = "EXECUTION_NOT_FOUND"
	CodeChainNotFound     = "CHAIN_NOT_FOUND"
	CodeExecutionActive   = "EXECUTION_ACTIVE"
	CodeAgentConfigError  = "AGENT_CONFIG_ERROR"
	CodeCallEnded         = "CALL_ENDED"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeTelephonyError    = "TELEPHONY_PROVIDER_ERROR"
	CodeAIServiceError    = "AI_SERVICE_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// APIError is an error carrying an HTTP status, a machine-readable code and a
// user-safe message.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Internal   error
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

// NotFound creates a 404 APIError
func NotFound(code, message string) *APIError {
	return &APIError{StatusCode: http.StatusNotFound, Code: code, Message: message}
}

// BadRequest creates a 400 APIError
func BadRequest(code, message string) *APIError {
	return &APIError{StatusCode: http.StatusBadRequest, Code: code, Message: message}
}

// Conflict creates a 409 APIError
func Conflict(code, message string) *APIError {
	return &APIError{StatusCode: http.StatusConflict, Code: code, Message: message}
}

// ServiceUnavailable creates a 503 APIError and retains the internal error for logging
func ServiceUnavailable(code, message string, internalErr error) *APIError {
	return &APIError{StatusCode: http.StatusServiceUnavailable, Code: code, Message: message, Internal: internalErr}
}

// InternalError creates a sanitized 500 APIError - never exposes internal details
func InternalError(internalErr error) *APIError {
	return &APIError{
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    "An internal error occurred. Please try again later.",
		Internal:   internalErr,
	}
}
