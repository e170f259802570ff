package domain

import (
	"fmt"
	"net/http"
)

// APIError is returned by the financial data client for any non-2xx response.
type APIError struct {
	Status       int
	StatusText   string
	Endpoint     string
	ResponseText string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("financial API error %d: %s at %s", e.Status, e.StatusText, e.Endpoint)
}

// Unwrap maps the HTTP status onto a domain sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrAuthInvalid
	case e.Status == http.StatusPaymentRequired:
		return ErrCreditsExhausted
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimit
	case e.Status >= 500:
		return ErrUnavailable
	default:
		return ErrProviderError
	}
}

// IsCreditsExhausted reports a 402 response.
func (e *APIError) IsCreditsExhausted() bool { return e.Status == http.StatusPaymentRequired }

// IsUnauthorized reports a 401 response.
func (e *APIError) IsUnauthorized() bool { return e.Status == http.StatusUnauthorized }

// UserFriendlyMessage is safe to show to end users.
func (e *APIError) UserFriendlyMessage() string {
	switch {
	case e.IsCreditsExhausted():
		return "💳 Financial data API credits exhausted. Please add more credits at https://financialdatasets.ai or update your API key in settings."
	case e.IsUnauthorized():
		return "🔑 Authentication failed. Invalid or missing Financial Datasets API key. Please check your API key in settings."
	default:
		return fmt.Sprintf("🚫 API error (%d): %s. Please try again later.", e.Status, e.statusText())
	}
}

func (e *APIError) statusText() string {
	if e.StatusText != "" {
		return e.StatusText
	}
	if t := http.StatusText(e.Status); t != "" {
		return t
	}
	return "Unknown status"
}

// ErrorCategory is the closed set of user-facing failure kinds.
type ErrorCategory string

const (
	CategoryAuth       ErrorCategory = "auth"
	CategoryCredits    ErrorCategory = "credits"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryAPI        ErrorCategory = "api"
	CategoryUnexpected ErrorCategory = "unexpected"
	CategoryValidation ErrorCategory = "validation"
)

// ErrorResult is a classified, user-safe error returned as an ordinary tool result.
type ErrorResult struct {
	Error          string        `json:"error"`
	Message        string        `json:"message"`
	Status         int           `json:"status"`
	ActionRequired string        `json:"action_required,omitempty"`
	Category       ErrorCategory `json:"category"`
}
