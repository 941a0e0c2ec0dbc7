package toolstream

import (
	"context"
	"encoding/json"
	"time"
)

// ToolKind tells the resolver which call shape a tool produces.
// Function tools yield static calls; dynamic tools yield dynamic calls.
type ToolKind int

const (
	KindFunction ToolKind = iota
	KindDynamic
)

func (k ToolKind) String() string {
	if k == KindDynamic {
		return "dynamic"
	}
	return "function"
}

// Tool is the contract for an LLM-callable instrument.
// It is provider-agnostic (no knowledge of OpenAI, Anthropic, etc.).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a valid JSON Schema as map (compatible with LLM tool definitions).
	Parameters() map[string]any
	// Execute runs the tool and streams values via yield. The tool may call yield
	// once (single value) or multiple times (intermediate values; the last one is final).
	// If yield returns an error, execution must stop and that error is returned
	// (wrapped as ErrStreamAborted).
	Execute(ctx context.Context, argsJSON []byte, yield func([]byte) error) error
}

// ToolMetadata is implemented by tools created with the builders and provides optional per-tool settings.
// Registry uses Timeout() to override default execution timeout when set. IsDangerous makes the
// approval gate require approval unless the tool carries an explicit approval policy.
type ToolMetadata interface {
	Timeout() time.Duration
	Tags() []string
	Version() string
	IsDangerous() bool
}

// The following optional interfaces are discovered by type assertion. Middleware wrappers
// forward them to the wrapped tool.
type (
	kinded interface{ Kind() ToolKind }

	approver interface{ Approval() Approval }

	inputObserver interface{ InputHooks() InputHooks }

	declared interface{ Declared() bool }
)

// KindOf returns the declared kind of t (KindFunction when t does not say).
func KindOf(t Tool) ToolKind {
	if k, ok := t.(kinded); ok {
		return k.Kind()
	}
	return KindFunction
}

// ApprovalOf returns the approval policy of t. Dangerous tools without an explicit
// policy require approval.
func ApprovalOf(t Tool) Approval {
	if a, ok := t.(approver); ok {
		if p := a.Approval(); p.Mode != ApprovalNone {
			return p
		}
	}
	if tm, ok := t.(ToolMetadata); ok && tm.IsDangerous() {
		return RequireApproval()
	}
	return Approval{}
}

func inputHooksOf(t Tool) InputHooks {
	if o, ok := t.(inputObserver); ok {
		return o.InputHooks()
	}
	return InputHooks{}
}

// IsDeclared reports whether t only describes an interface and has no execute implementation.
func IsDeclared(t Tool) bool {
	if d, ok := t.(declared); ok {
		return d.Declared()
	}
	return false
}

// ToolCall is a single execution request handed to the Registry.
type ToolCall struct {
	ID       string
	ToolName string
	Args     json.RawMessage // JSON payload of arguments
}

// ToolDefinition is the description of a tool sent to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ExecutionSummary is passed to the after-execution hook (WithOnAfterExecute) when a tool
// execution finishes (success or error). ValuesDelivered and TotalBytes count only values
// accepted by the caller's yield.
type ExecutionSummary struct {
	CallID          string
	ToolName        string
	Error           error
	ValuesDelivered int
	TotalBytes      int64
}

// CallInfo is the execution context of a tool call. Tools read it with CallInfoFromContext.
type CallInfo struct {
	ToolCallID string
	ToolName   string
	// Messages is the conversation that led to the call.
	Messages []Message
	// Value is the arbitrary value set with WithContextValue.
	Value any
}

type callInfoKey struct{}

// WithCallInfo returns a context carrying info.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the CallInfo stored in ctx, if any.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
