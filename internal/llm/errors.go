package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429 - too many requests
	ErrorTypeQuotaExceeded      ErrorType = "quota_exceeded"      // Usage limit (ZAI 1308)
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402 - no balance
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 502/503 - upstream issue
	ErrorTypeAuth               ErrorType = "auth"                // 401 - bad API key
	ErrorTypeModeration         ErrorType = "moderation"          // 403 - content flagged
	ErrorTypeUnknown            ErrorType = "unknown"             // Fallback
)

// ProviderError is a structured error returned by LLM clients
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // "zai", "openrouter", "openai", "anthropic"
	Code       string         // Raw error code ("1308", "429")
	Message    string         // Human-readable message
	ResetAt    *time.Time     // When limit resets (if known)
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool           // Should we auto-retry?
}

func (e *ProviderError) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("%s: %s (resets at %s)", e.Provider, e.Message, e.ResetAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a ProviderError; Retryable follows the type.
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:      errType,
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: errType == ErrorTypeRateLimit || errType == ErrorTypeProviderDown,
	}
}

// ClassifyStatus maps an HTTP status code onto an ErrorType.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status == 401:
		return ErrorTypeAuth
	case status == 402:
		return ErrorTypeInsufficientCredit
	case status == 403:
		return ErrorTypeModeration
	case status >= 500:
		return ErrorTypeProviderDown
	default:
		return ErrorTypeUnknown
	}
}

// StatusError builds a ProviderError from an HTTP status and response body.
func StatusError(provider string, status int, body string) *ProviderError {
	msg := body
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return NewProviderError(provider, ClassifyStatus(status), fmt.Sprint(status), msg)
}
