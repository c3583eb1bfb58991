package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ErrorType string

const (
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeEmpty     ErrorType = "empty_response"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified completion failure.
type Error struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Model     string
	Cause     error
}

func (e *Error) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Model != "" {
		msg = fmt.Sprintf("%s (model=%s)", msg, e.Model)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) IsRetryable() bool { return e.Retryable }

// ErrEmptyResponse is the cause recorded when the model returns no text.
var ErrEmptyResponse = errors.New("model returned no text")

// ClassifyError wraps err in an *Error. Errors that already are *Error pass through.
func ClassifyError(err error, model string) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	classified := func(t ErrorType, msg string, retryable bool) *Error {
		return &Error{Type: t, Message: msg, Retryable: retryable, Model: model, Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classified(ErrorTypeTimeout, "request timeout", true)
	}
	if errors.Is(err, context.Canceled) {
		return classified(ErrorTypeTimeout, "request cancelled", false)
	}
	if errors.Is(err, ErrEmptyResponse) {
		return classified(ErrorTypeEmpty, "empty completion", true)
	}

	raw := err.Error()
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(raw, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid x-api-key"):
		return classified(ErrorTypeAuth, "authentication failed", false)
	case strings.Contains(raw, "429") || strings.Contains(lower, "rate limit"):
		return classified(ErrorTypeRateLimit, "rate limited", true)
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return classified(ErrorTypeModel, "model not found", false)
	case strings.Contains(raw, "404"):
		return classified(ErrorTypeEndpoint, "endpoint not found", false)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return classified(ErrorTypeTimeout, "request timeout", true)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return classified(ErrorTypeEndpoint, "connection failed", true)
	case strings.Contains(raw, "500") || strings.Contains(raw, "502") || strings.Contains(raw, "503") ||
		strings.Contains(raw, "504") || strings.Contains(raw, "529") || strings.Contains(lower, "overloaded"):
		return classified(ErrorTypeEndpoint, "server error", true)
	}
	return classified(ErrorTypeUnknown, "completion failed", false)
}

// IsRetryable reports whether err is a retryable *Error. Callers own any retry loop.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// TypeOf extracts the ErrorType from an error.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
