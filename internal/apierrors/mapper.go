package apierrors

import (
	"errors"
	"strings"

	"callbridge-server/internal/callsession"
	"callbridge-server/internal/chain"
	"callbridge-server/internal/store"
)

// MapError converts domain errors to APIErrors.
// This function centralizes all error mapping logic to ensure consistent
// error responses across the entire API.
//
// If the error is already an APIError, it returns it as-is.
// If the error is a known domain error, it maps it to an appropriate APIError.
// If the error is unknown, it returns a sanitized InternalError (500).
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, callsession.ErrInvalidAgentConfig):
		return BadRequest(CodeAgentConfigError, "Agent configuration is invalid")

	case errors.Is(err, callsession.ErrSessionNotFound):
		return NotFound(CodeSessionNotFound, "No active session for this call")

	case errors.Is(err, chain.ErrExecutionNotFound):
		return NotFound(CodeExecutionNotFound, "Chain execution not found")

	case errors.Is(err, chain.ErrChainNotFound):
		return NotFound(CodeChainNotFound, "Chain not found")

	case errors.Is(err, chain.ErrExecutionActive):
		return Conflict(CodeExecutionActive, "A chain execution is already running for this call")

	case errors.Is(err, chain.ErrCallEnded):
		return Conflict(CodeCallEnded, "The call has already ended")

	case errors.Is(err, store.ErrNotFound):
		return NotFound(CodeNotFound, "Resource not found")

	default:
		return mapExternalServiceError(err)
	}
}

// mapExternalServiceError attempts to identify external service errors
// and map them to appropriate service-specific error responses.
func mapExternalServiceError(err error) *APIError {
	errMsg := strings.ToLower(err.Error())

	// Telephony provider errors (Twilio)
	if strings.Contains(errMsg, "twilio") {
		return ServiceUnavailable(
			CodeTelephonyError,
			"Telephony provider is temporarily unavailable. Please try again later.",
			err,
		)
	}

	// AI service errors (OpenAI, Gemini)
	if strings.Contains(errMsg, "openai") || strings.Contains(errMsg, "gemini") || strings.Contains(errMsg, "ai service") {
		return ServiceUnavailable(
			CodeAIServiceError,
			"AI service is temporarily unavailable. Please try again later.",
			err,
		)
	}

	// Default: Unknown error - return sanitized 500
	return InternalError(err)
}
