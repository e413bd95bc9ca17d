package tools

import (
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when a call targets a tool that is not
// registered. The agent treats it as a parse failure of the model's
// action, not as a tool failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ToolInputError reports arguments that do not satisfy a tool's schema
// or that the handler rejected before doing any work.
type ToolInputError struct {
	Tool    string
	Param   string
	Reasons []string
}

// Error implements the error interface.
func (e *ToolInputError) Error() string {
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, e.Reason())
}

// Reason joins the individual problems into one line.
func (e *ToolInputError) Reason() string {
	return strings.Join(e.Reasons, "; ")
}

// ToolExecutionError wraps a failure raised while a handler ran.
type ToolExecutionError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

// Unwrap exposes the handler error to errors.Is and errors.As.
func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// DeliveryError reports an email that could not be handed to the
// mail server.
type DeliveryError struct {
	Err error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return "email delivery failed: " + e.Err.Error()
}

// Unwrap returns the underlying send error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
