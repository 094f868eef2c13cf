// Package tools provides the tool registry and the call syntax the
// model uses to invoke tools from inside a reply.
//
// This file defines sentinel error types for tool execution.
package tools

import "fmt"

// ErrToolUnavailable is returned when a call targets a tool that is
// not present in the registry. This is a capability mismatch, not a
// transient execution failure; callers surface the message to the
// model rather than retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ParseError is returned when a tool_code block cannot be parsed into
// an invocation. The caller treats the surrounding model output as
// final text instead of failing the conversation.
type ParseError struct {
	Input  string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse tool call %q: %s", e.Input, e.Reason)
}
