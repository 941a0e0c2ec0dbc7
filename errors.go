package toolstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrToolNotFound    = errors.New("tool not found")
	ErrTimeout         = errors.New("tool execution timeout")
	ErrValidation      = errors.New("validation failed")
	ErrShutdown        = errors.New("registry is shutting down")
	ErrStreamAborted   = errors.New("tool stream aborted")
	ErrNoExecute       = errors.New("tool has no execute implementation")
	ErrExecutionDenied = errors.New("tool execution denied")
	ErrNoOutput        = errors.New("tool result has no value")
)

// ClientError is a failure the model can fix by changing its call: malformed JSON, a schema
// violation, a rejected enum value. Its message is sent back to the model, so Reason must not
// carry internal details. Err optionally wraps a sentinel such as ErrValidation.
type ClientError struct {
	Reason string
	// Retryable is set by tool authors when the same call may succeed unchanged, for example
	// after a rate limit.
	Retryable bool
	Err       error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid tool input: %s", e.Reason)
}

func (e *ClientError) Unwrap() error { return e.Err }

// SystemError is an internal failure such as a panic or an unreachable backend. Its message is
// fixed so the cause never reaches the model.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error during tool execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// NoSuchToolError is returned by the resolver when the model calls a tool that is not registered.
type NoSuchToolError struct {
	ToolName       string
	AvailableTools []string
}

func (e *NoSuchToolError) Error() string {
	if len(e.AvailableTools) == 0 {
		return fmt.Sprintf("model tried to call unavailable tool %q: no tools are available", e.ToolName)
	}
	return fmt.Sprintf("model tried to call unavailable tool %q: available tools: %s",
		e.ToolName, strings.Join(e.AvailableTools, ", "))
}

func (e *NoSuchToolError) Unwrap() error { return ErrToolNotFound }

// InvalidToolInputError is returned by the resolver when the call input does not match the tool schema.
type InvalidToolInputError struct {
	ToolName string
	Input    string
	Err      error
}

func (e *InvalidToolInputError) Error() string {
	return fmt.Sprintf("invalid input for tool %q: %v", e.ToolName, e.Err)
}

func (e *InvalidToolInputError) Unwrap() error { return e.Err }

// ToolCallRepairError wraps a failing repair hook. Cause is the resolution error that
// triggered the repair.
type ToolCallRepairError struct {
	Cause error
	Err   error
}

func (e *ToolCallRepairError) Error() string {
	return fmt.Sprintf("tool call repair failed: %v (original error: %v)", e.Err, e.Cause)
}

func (e *ToolCallRepairError) Unwrap() []error { return []error{e.Err, e.Cause} }

// ConsistencyError reports a stream event that references state the assembler does not have,
// such as a text end for a span that was never opened. It is surfaced as an error event and
// does not end the session.
type ConsistencyError struct {
	Part   string
	ID     string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent %s event for id %q: %s", e.Part, e.ID, e.Reason)
}

// ProviderToolError carries the error payload of a provider-executed tool.
type ProviderToolError struct {
	ToolName string
	Payload  json.RawMessage
}

func (e *ProviderToolError) Error() string {
	return fmt.Sprintf("provider tool %q failed: %s", e.ToolName, string(e.Payload))
}

// IsClientError reports whether err is or wraps a ClientError.
func IsClientError(err error) bool { return hasErrorType[*ClientError](err) }

// IsSystemError reports whether err is or wraps a SystemError.
func IsSystemError(err error) bool { return hasErrorType[*SystemError](err) }

// IsConsistencyError reports whether err is or wraps a ConsistencyError.
func IsConsistencyError(err error) bool { return hasErrorType[*ConsistencyError](err) }

func hasErrorType[E error](err error) bool {
	var target E
	return errors.As(err, &target)
}

// wrapJSONParseError reports input that is not JSON at all.
func wrapJSONParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error()}
}

// wrapYieldError marks an error returned by the caller's yield.
func wrapYieldError(err error) error {
	if errors.Is(err, ErrStreamAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamAborted, err)
}

// panicError carries a recovered panic value inside a SystemError.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
