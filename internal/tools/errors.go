package tools

import "fmt"

// UnknownToolError is returned when a tool invocation references a
// name outside the registered set. This is a protocol violation by the
// model, not a transient failure; callers should not retry the same
// call.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %q", e.Name)
}
