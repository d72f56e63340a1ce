// Package fulfillment implements the per-type benefit grant/revoke protocol:
// the fulfiller contract, one implementation per benefit variant, and the
// orchestrator that executes scheduled tasks against them.
package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/entitled/internal/notification"
)

// Properties is the fulfiller-specific state persisted on a grant. It is
// replaced wholesale on every grant/revoke; a fulfiller that wants to keep a
// field across calls copies it forward explicitly.
type Properties = map[string]any

// RetriableError signals a transient failure. The task is rescheduled with
// exponential backoff, or after DeferFor when the provider supplied a
// retry-after.
type RetriableError struct {
	DeferFor time.Duration
	Cause    error
}

func (e *RetriableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("retriable: %v", e.Cause)
	}
	return "retriable"
}

func (e *RetriableError) Unwrap() error { return e.Cause }

// Retriable wraps a transient failure. A zero deferFor lets the orchestrator
// compute the policy backoff.
func Retriable(deferFor time.Duration, cause error) *RetriableError {
	return &RetriableError{DeferFor: deferFor, Cause: cause}
}

// ActionRequiredError signals a missing customer-side precondition, e.g. no
// linked external account. The task is parked, a notification is emitted,
// and fulfillment resumes only through an external trigger.
type ActionRequiredError struct {
	Message      string
	Notification *notification.Payload
}

func (e *ActionRequiredError) Error() string {
	return fmt.Sprintf("action required: %s", e.Message)
}

// PropertyError is one field-level problem in a benefit configuration.
type PropertyError struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Loc     []string `json:"loc"`
	Input   any      `json:"input,omitempty"`
}

// ValidationErrors rejects a benefit configuration at create/update time.
type ValidationErrors struct {
	Errors []PropertyError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "invalid benefit properties"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, pe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(pe.Loc, "."), pe.Message))
	}
	return "invalid benefit properties: " + strings.Join(parts, "; ")
}

func invalidProperty(loc []string, typ, message string, input any) *ValidationErrors {
	return &ValidationErrors{Errors: []PropertyError{{
		Type:    typ,
		Message: message,
		Loc:     loc,
		Input:   input,
	}}}
}
