package analysis

import (
	"errors"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/budget"
)

// ErrEmptyQuery is returned when the query text is blank.
var ErrEmptyQuery = errors.New("userQuery is required")

// CostLimitError rejects an analysis before the model is called.
type CostLimitError struct {
	Check budget.LimitCheck
}

func (e *CostLimitError) Error() string {
	return "cost limit exceeded: " + strings.Join(e.Check.Messages(), "; ")
}

// MonthlyExceeded reports whether the monthly tier was breached.
func (e *CostLimitError) MonthlyExceeded() bool {
	return e.Check.MonthlyExceeded()
}

// UserMessage is the caller-facing summary of the rejection.
func (e *CostLimitError) UserMessage() string {
	if e.MonthlyExceeded() {
		return "You have reached your monthly usage limit. Your limit resets at the start of next month."
	}
	return "This request exceeds the configured cost limits. Please try a shorter query or try again later."
}

// ModelError wraps a failed downstream model call.
type ModelError struct {
	Err error
	// TooLong is set when the session history no longer fits the model's
	// context window and a new session should be started.
	TooLong bool
}

func (e *ModelError) Error() string {
	return "analysis model call failed: " + e.Err.Error()
}

func (e *ModelError) Unwrap() error { return e.Err }

// UserMessage is the caller-facing summary of the failure.
func (e *ModelError) UserMessage() string {
	if e.TooLong {
		return "This conversation is too long to continue. Please start a new session."
	}
	return "The analysis could not be completed. Please try again."
}
