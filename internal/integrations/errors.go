// Package integrations holds the shared failure taxonomy for external
// collaborator clients. Every collaborator failure inside the pipeline is
// recoverable; this taxonomy exists so callers and metrics can classify what
// was recovered from.
package integrations

import (
	"errors"
	"fmt"
)

// ErrorCategory normalizes collaborator failures.
type ErrorCategory string

const (
	// ErrorTimeout indicates the collaborator took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates a malformed or unparseable response.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorOutage indicates the collaborator is unreachable or erroring.
	ErrorOutage ErrorCategory = "outage"

	// ErrorAuthentication indicates credential or permission issues.
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorInternal indicates an unexpected client-side error.
	ErrorInternal ErrorCategory = "internal"
)

// Error wraps a collaborator failure with its origin and category.
type Error struct {
	Collaborator string
	Category     ErrorCategory
	Message      string
	Underlying   error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("collaborator %s [%s]: %s: %v", e.Collaborator, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("collaborator %s [%s]: %s", e.Collaborator, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a categorized collaborator error.
func NewError(category ErrorCategory, collaborator, message string, underlying error) *Error {
	return &Error{
		Collaborator: collaborator,
		Category:     category,
		Message:      message,
		Underlying:   underlying,
	}
}

// CategoryOf extracts the category from an error chain.
func CategoryOf(err error) ErrorCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ErrorInternal
}
