package agent

import (
	"errors"
	"fmt"
)

// ParseError reports model output that is not exactly one valid action.
// The loop recovers by feeding Reason back as an observation.
type ParseError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return "parse action: " + e.Reason
}

// Unwrap returns the underlying cause, if any.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// CapabilityUnavailable reports that a collaborator the turn depends on
// (completion, retrieval) failed or timed out. It ends the turn with the
// fallback reply.
type CapabilityUnavailable struct {
	Capability string
	Err        error
}

// Error implements the error interface.
func (e *CapabilityUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Capability, e.Err)
}

// Unwrap returns the underlying failure.
func (e *CapabilityUnavailable) Unwrap() error {
	return e.Err
}

// ErrIterationCap is the cause recorded when a turn exhausts its
// reasoning budget.
var ErrIterationCap = errors.New("iteration cap reached")
