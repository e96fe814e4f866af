package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ClassifyTransportError tags a failed HTTP round trip with the right
// sentinel: deadline expiry becomes a timeout, everything else an external
// service failure.
func ClassifyTransportError(stage, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTimeout, stage, operation, "request timed out", err)
	}
	return Wrap(ErrExternalService, stage, operation, "request failed", err)
}

// ClassifyHTTPStatus maps a non-success status code to the error taxonomy.
// Auth failures are configuration problems (retrying cannot fix them);
// server errors are retryable external failures.
func ClassifyHTTPStatus(stage, operation string, status int, body []byte) error {
	message := fmt.Sprintf("http %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Wrap(ErrConfiguration, stage, operation, message, nil)
	case status == http.StatusNotFound:
		return Wrap(ErrNotFound, stage, operation, message, nil)
	case status >= http.StatusInternalServerError:
		return Wrap(ErrExternalService, stage, operation, message, nil)
	default:
		return Wrap(ErrValidation, stage, operation, message, nil)
	}
}
