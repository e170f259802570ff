package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"monetrix/internal/domain"
)

// Titles and remediation hints shown to users.
const (
	titleAuth       = "🔑 Authentication failed"
	titleCredits    = "💳 Financial data API credits exhausted"
	titleNotFound   = "🔍 Resource not found"
	titleRateLimit  = "⏱️ Rate limit exceeded"
	titleUnexpected = "🚫 Unexpected error occurred"
	titleValidation = "📋 Validation Error"

	ActionUpdateKey  = "Update API key"
	ActionAddCredits = "Add credits or update API key"
	ActionWaitRetry  = "Wait and retry"
	ActionRetryLater = "Retry later"
	ActionFixInput   = "Fix input"

	msgNotFound    = "The requested financial data could not be found. Please check the ticker symbol or try again later."
	msgRateLimit   = "Too many requests. Please wait a moment before trying again."
	msgMissingKey  = "🔑 Financial Datasets API key is not configured. Please add your API key in settings."
	msgUnavailable = "The financial data service is temporarily unavailable. Please try again later."
)

// maxLoggedBody caps response bodies in log lines.
const maxLoggedBody = 512

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original  error
	Result    domain.ErrorResult
	Sentinel  error // mapped domain sentinel, or nil
	Retryable bool  // informational only; nothing retries automatically
}

// ErrorClassifier reduces tool failures to user-safe ErrorResults. It logs
// the full failure before reducing it.
type ErrorClassifier struct {
	logger *slog.Logger
}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorClassifier{logger: logger}
}

// Classify maps a failure from executing tool onto the closed category set.
// A nil error yields a zero ClassifiedError.
func (c *ErrorClassifier) Classify(err error, tool domain.ToolName) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return c.classifyAPIError(err, apiErr, tool)
	}
	return c.classifyBySentinel(err, tool)
}

func (c *ErrorClassifier) classifyAPIError(err error, apiErr *domain.APIError, tool domain.ToolName) ClassifiedError {
	c.logger.Error("financial API error",
		"tool", string(tool),
		"status", apiErr.Status,
		"status_text", apiErr.StatusText,
		"endpoint", apiErr.Endpoint,
		"response", truncate(apiErr.ResponseText, maxLoggedBody),
	)

	out := ClassifiedError{Original: err, Sentinel: apiErr.Unwrap(), Retryable: domain.IsRetryableError(err)}
	switch {
	case apiErr.IsUnauthorized():
		out.Result = domain.ErrorResult{
			Error: titleAuth, Message: apiErr.UserFriendlyMessage(),
			Status: apiErr.Status, ActionRequired: ActionUpdateKey, Category: domain.CategoryAuth,
		}
	case apiErr.IsCreditsExhausted():
		out.Result = domain.ErrorResult{
			Error: titleCredits, Message: apiErr.UserFriendlyMessage(),
			Status: apiErr.Status, ActionRequired: ActionAddCredits, Category: domain.CategoryCredits,
		}
	case apiErr.Status == http.StatusNotFound:
		out.Result = domain.ErrorResult{
			Error: titleNotFound, Message: msgNotFound,
			Status: apiErr.Status, Category: domain.CategoryNotFound,
		}
	case apiErr.Status == http.StatusTooManyRequests:
		out.Result = domain.ErrorResult{
			Error: titleRateLimit, Message: msgRateLimit,
			Status: apiErr.Status, ActionRequired: ActionWaitRetry, Category: domain.CategoryRateLimit,
		}
	default:
		out.Result = domain.ErrorResult{
			Error:          fmt.Sprintf("🚫 API error (%d)", apiErr.Status),
			Message:        apiErr.UserFriendlyMessage(),
			Status:         apiErr.Status,
			ActionRequired: ActionRetryLater,
			Category:       domain.CategoryAPI,
		}
	}
	return out
}

// classifyBySentinel handles failures that never produced an HTTP response.
func (c *ErrorClassifier) classifyBySentinel(err error, tool domain.ToolName) ClassifiedError {
	switch {
	case errors.Is(err, domain.ErrMissingAPIKey):
		c.logger.Warn("financial API key missing", "tool", string(tool))
		return ClassifiedError{
			Original: err, Sentinel: domain.ErrMissingAPIKey,
			Result: domain.ErrorResult{
				Error: titleAuth, Message: msgMissingKey,
				Status: http.StatusUnauthorized, ActionRequired: ActionUpdateKey, Category: domain.CategoryAuth,
			},
		}
	case errors.Is(err, domain.ErrInvalidInput):
		return c.validation(err, tool)
	case errors.Is(err, domain.ErrUnavailable) && !isContextError(err):
		c.logger.Error("financial API unavailable", "tool", string(tool), "error", err)
		return ClassifiedError{
			Original: err, Sentinel: domain.ErrUnavailable, Retryable: true,
			Result: domain.ErrorResult{
				Error:          fmt.Sprintf("🚫 API error (%d)", http.StatusServiceUnavailable),
				Message:        msgUnavailable,
				Status:         http.StatusServiceUnavailable,
				ActionRequired: ActionRetryLater,
				Category:       domain.CategoryAPI,
			},
		}
	default:
		c.logger.Error("tool execution failed", "tool", string(tool), "error", err)
		return c.unexpected(err, tool)
	}
}

func (c *ErrorClassifier) unexpected(err error, tool domain.ToolName) ClassifiedError {
	return ClassifiedError{
		Original:  err,
		Retryable: isTransient(err),
		Result: domain.ErrorResult{
			Error:          titleUnexpected,
			Message:        fmt.Sprintf("An error occurred while executing %s. Please try again later.", tool),
			Status:         http.StatusInternalServerError,
			ActionRequired: ActionRetryLater,
			Category:       domain.CategoryUnexpected,
		},
	}
}

// ValidationFailure builds the result for arguments rejected before any
// network call.
func (c *ErrorClassifier) ValidationFailure(err error, tool domain.ToolName) domain.ErrorResult {
	return c.validation(err, tool).Result
}

func (c *ErrorClassifier) validation(err error, tool domain.ToolName) ClassifiedError {
	c.logger.Warn("tool arguments rejected", "tool", string(tool), "error", err)
	detail := "Please check your input and try again."
	if err != nil {
		detail = validationDetail(err)
	}
	return ClassifiedError{
		Original: err, Sentinel: domain.ErrInvalidInput,
		Result: domain.ErrorResult{
			Error:          titleValidation,
			Message:        fmt.Sprintf("Invalid input for %s: %s", tool, detail),
			Status:         http.StatusBadRequest,
			ActionRequired: ActionFixInput,
			Category:       domain.CategoryValidation,
		},
	}
}

// validationDetail strips the sentinel text so users see only the reason.
func validationDetail(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	msg := err.Error()
	msg = strings.TrimSuffix(msg, ": "+domain.ErrInvalidInput.Error())
	msg = strings.TrimPrefix(msg, domain.ErrInvalidInput.Error()+": ")
	return msg
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isTransient reports network and timeout failures.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "no such host", "timeout", "connection reset", "eof"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// --- UI prompt heuristics ---

// Prompt names the settings dialog the UI should open for an error.
type Prompt string

const (
	PromptNone    Prompt = ""
	PromptAPIKey  Prompt = "api_key"
	PromptPayment Prompt = "payment"
)

var (
	apiKeyPatterns  = []string{"api key", "unauthorized", "forbidden"}
	paymentPatterns = []string{"payment", "billing", "quota", "credits"}
)

// IsAPIKeyError reports whether a failure calls for reconfiguring the API key.
func IsAPIKeyError(status int, message string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	return containsAny(message, apiKeyPatterns)
}

// IsPaymentError reports whether a failure calls for adding credits.
func IsPaymentError(status int, message string) bool {
	if status == http.StatusPaymentRequired {
		return true
	}
	return containsAny(message, paymentPatterns)
}

// PromptFor picks the dialog for a classified error. Payment wins over API
// key because credit messages mention the key as an alternative fix.
func PromptFor(r domain.ErrorResult) Prompt {
	text := r.Error + " " + r.Message
	switch {
	case IsPaymentError(r.Status, text):
		return PromptPayment
	case IsAPIKeyError(r.Status, text):
		return PromptAPIKey
	default:
		return PromptNone
	}
}

func containsAny(s string, patterns []string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
