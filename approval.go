package toolstream

import (
	"context"
	"encoding/json"
	"fmt"
)

// ApprovalMode selects how a tool's calls are gated.
type ApprovalMode int

const (
	// ApprovalNone means no policy was set; calls run without approval.
	ApprovalNone ApprovalMode = iota
	ApprovalAlways
	ApprovalNever
	ApprovalConditional
)

// ApprovalPredicate decides at call time whether a call needs approval.
type ApprovalPredicate func(ctx context.Context, input json.RawMessage, ac ApprovalContext) (bool, error)

// ApprovalContext is passed to an ApprovalPredicate.
type ApprovalContext struct {
	ToolCallID string
	Messages   []Message
	Value      any
}

// Approval is a tool's approval policy.
type Approval struct {
	Mode      ApprovalMode
	Predicate ApprovalPredicate
}

// RequireApproval returns a policy that gates every call.
func RequireApproval() Approval { return Approval{Mode: ApprovalAlways} }

// NeverRequireApproval returns a policy that never gates. It overrides WithDangerous.
func NeverRequireApproval() Approval { return Approval{Mode: ApprovalNever} }

// RequireApprovalWhen returns a policy that asks fn for every call.
func RequireApprovalWhen(fn ApprovalPredicate) Approval {
	return Approval{Mode: ApprovalConditional, Predicate: fn}
}

// PendingApproval is a call held until an approval decision is made.
type PendingApproval struct {
	ApprovalID string
	Call       TypedToolCall
	Tool       Tool
}

// ApprovalDecision is the answer of an ApprovalResolver.
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// ApprovalResolver decides pending approvals in-process. Without a resolver the engine emits
// tool-approval-request events and the caller answers them in a later turn.
type ApprovalResolver func(ctx context.Context, pending PendingApproval) (ApprovalDecision, error)

// InputHooks observe the model building the input of a call.
type InputHooks struct {
	OnStart     func(context.Context, InputEvent)
	OnDelta     func(context.Context, InputEvent)
	OnAvailable func(context.Context, InputEvent)
}

// InputEvent is passed to InputHooks. Delta is set for OnDelta, Input for OnAvailable.
type InputEvent struct {
	ToolCallID string
	ToolName   string
	Delta      string
	Input      json.RawMessage
	Messages   []Message
}

// needsApproval applies the approval policy of t to call. A failing predicate requires approval.
func needsApproval(ctx context.Context, t Tool, call TypedToolCall, ac ApprovalContext) (required bool, err error) {
	policy := ApprovalOf(t)
	switch policy.Mode {
	case ApprovalAlways:
		return true, nil
	case ApprovalConditional:
		if policy.Predicate == nil {
			return false, nil
		}
		defer func() {
			if p := recover(); p != nil {
				required = true
				err = &panicError{p: p}
			}
		}()
		ok, perr := policy.Predicate(ctx, call.Input, ac)
		if perr != nil {
			return true, fmt.Errorf("approval predicate for %q: %w", call.ToolName, perr)
		}
		return ok, nil
	default:
		return false, nil
	}
}
