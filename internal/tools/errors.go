package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not
// registered.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available; use one of the listed tool functions", e.ToolName)
}

// ExecutionError reports a tool call whose logical status was fail. Its
// message is fed back to the model as corrective context.
type ExecutionError struct {
	Tool   string
	Reason string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("The function calling of %s failed. Need re-parsing the response.", e.Tool)
	}
	return fmt.Sprintf("The function calling of %s failed: %s. Need re-parsing the response.", e.Tool, e.Reason)
}
