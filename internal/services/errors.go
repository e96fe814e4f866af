package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage failure is worth re-attempting. Errors
// rooted in configuration or input validation fail the same way every time;
// everything else is assumed to be a service hiccup.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}

// Code returns a short classification label used in aggregated failure
// messages and API payloads.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExternalService):
		return "external_service"
	default:
		return "transient"
	}
}

type hintedError struct {
	err  error
	hint string
}

func (h *hintedError) Error() string { return h.err.Error() }

func (h *hintedError) Unwrap() error { return h.err }

// WithHint attaches an operator-facing remediation hint to an error.
func WithHint(err error, hint string) error {
	hint = strings.TrimSpace(hint)
	if err == nil || hint == "" {
		return err
	}
	return &hintedError{err: err, hint: hint}
}

// Hint extracts the innermost remediation hint, if any.
func Hint(err error) string {
	for err != nil {
		if hinted, ok := err.(*hintedError); ok {
			return hinted.hint
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// ErrorDetails is the presentation form of a classified error.
type ErrorDetails struct {
	Code    string
	Message string
	Hint    string
}

// Details classifies an error for logs and user-visible failure summaries.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	return ErrorDetails{
		Code:    Code(err),
		Message: strings.TrimSpace(err.Error()),
		Hint:    Hint(err),
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
