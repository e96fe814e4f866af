package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"fabula/internal/services"
)

// ErrRetryBudgetExhausted marks a retry request for a stage that already
// consumed its retry budget.
var ErrRetryBudgetExhausted = errors.New("stage retry budget exhausted")

// ErrStageNotRetryable marks a retry request for a stage that is not in
// error state.
var ErrStageNotRetryable = errors.New("stage is not in a retryable state")

// StageError reports which stage failed and whether a retry could help.
type StageError struct {
	Stage StageID
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether the underlying failure is transient.
func (e *StageError) Retryable() bool {
	return services.Retryable(e.Err)
}

// GateError aggregates every validation failure found before the ready
// announcement was withheld.
type GateError struct {
	Failures []ValidationFailure
}

func (e *GateError) Error() string {
	if len(e.Failures) == 0 {
		return "validation gate failed"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Check, f.Reason)
	}
	return "validation gate failed: " + strings.Join(parts, "; ")
}
