package toolstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// report is the only way a worker talks to the assembler. Each outstanding unit (a tool
// execution or an approval resolution) sends any number of reports and exactly one with done set.
type report struct {
	callID   string
	output   *ToolOutput
	approval *approvalOutcome
	done     bool
}

type approvalOutcome struct {
	pending  PendingApproval
	decision ApprovalDecision
	err      error
}

// executor runs approved calls through the Registry.
type executor struct {
	tools *Registry
	tel   *telemetry
}

// run executes call and reports its outputs. Every yielded value but the last is reported as
// preliminary; the last one becomes the final result. A cancelled ctx ends the call without a
// final output.
func (e *executor) run(ctx context.Context, call TypedToolCall, info CallInfo, reports chan<- report) {
	started := time.Now()
	ctx, span := e.tel.startTool(ctx, call)
	ctx = WithCallInfo(ctx, info)

	var held json.RawMessage
	yield := func(value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if held != nil {
			prelim := outputFor(call)
			prelim.Output = held
			prelim.Preliminary = true
			reports <- report{callID: call.ToolCallID, output: &prelim}
		}
		held = append(json.RawMessage(nil), value...)
		return nil
	}

	err := e.tools.Execute(ctx, ToolCall{ID: call.ToolCallID, ToolName: call.ToolName, Args: call.Input}, yield)

	var final *ToolOutput
	switch {
	case ctx.Err() != nil:
	case errors.Is(err, ErrNoExecute):
	case err != nil:
		out := outputFor(call)
		out.Kind = OutputError
		out.Err = err
		final = &out
	default:
		out := outputFor(call)
		out.Output = held
		if out.Output == nil {
			out.Output = json.RawMessage("null")
		}
		final = &out
	}
	e.tel.endTool(ctx, span, call, final, started)
	reports <- report{callID: call.ToolCallID, output: final, done: true}
}

// resolveApproval asks resolver about pending and reports the decision. A failing resolver denies.
func resolveApproval(ctx context.Context, resolver ApprovalResolver, pending PendingApproval, reports chan<- report) {
	decision, err := callResolver(ctx, resolver, pending)
	if err != nil {
		decision = ApprovalDecision{Approved: false, Reason: err.Error()}
	}
	reports <- report{
		callID:   pending.Call.ToolCallID,
		approval: &approvalOutcome{pending: pending, decision: decision, err: err},
		done:     true,
	}
}

func callResolver(ctx context.Context, resolver ApprovalResolver, pending PendingApproval) (d ApprovalDecision, err error) {
	defer func() {
		if p := recover(); p != nil {
			d, err = ApprovalDecision{}, &panicError{p: p}
		}
	}()
	return resolver(ctx, pending)
}

// deniedOutput returns the denied output of call.
func deniedOutput(call TypedToolCall, reason string) ToolOutput {
	out := outputFor(call)
	out.Kind = OutputDenied
	if reason != "" {
		out.Err = fmt.Errorf("%w: %s", ErrExecutionDenied, reason)
	} else {
		out.Err = ErrExecutionDenied
	}
	return out
}
