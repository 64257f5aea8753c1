package llm

import (
	"fmt"
	"strings"
)

// ErrorType categorizes provider errors. The pipeline treats all of them the
// same way (the stage converts them into a failed result mapping), but the
// type is kept in logs and metrics to tell quota problems from bad prompts.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient transport errors (5xx, EOF, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the metrics label for the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified provider error.
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// ClassifyError maps a raw provider/transport error to a classified Error
// based on common error text patterns.
func ClassifyError(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	if classified, ok := err.(*Error); ok {
		return classified
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "quota"):
		return NewError(ErrorTypeRateLimit, fmt.Sprintf("%s rate limited: %v", provider, err))
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "api key"):
		return NewError(ErrorTypeAuth, fmt.Sprintf("%s auth error: %v", provider, err))
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof") || strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "overloaded"):
		return NewError(ErrorTypeTransient, fmt.Sprintf("%s transient error: %v", provider, err))
	case strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "deadline exceeded"):
		return NewError(ErrorTypeTransient, fmt.Sprintf("%s request canceled: %v", provider, err))
	default:
		return NewError(ErrorTypeUnknown, fmt.Sprintf("%s error: %v", provider, err))
	}
}
