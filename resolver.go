package toolstream

import (
	"context"
	"errors"
	"strings"
)

// RepairRequest is passed to a RepairFunc after a call failed to resolve.
type RepairRequest struct {
	Call  RawToolCall
	Tools *Registry
	// Schema returns the input schema of a registered tool.
	Schema   func(toolName string) (map[string]any, bool)
	Err      error
	Messages []Message
}

// RepairFunc tries to fix a call that failed with a NoSuchToolError or an InvalidToolInputError.
// Returning a nil call (and nil error) keeps the original failure.
type RepairFunc func(ctx context.Context, req RepairRequest) (*RawToolCall, error)

// ResolveToolCall turns a raw provider call into a TypedToolCall. It never fails: a call that
// cannot be resolved, even after repair, is returned as an invalid dynamic call carrying the cause.
func ResolveToolCall(ctx context.Context, raw RawToolCall, tools *Registry, repair RepairFunc) TypedToolCall {
	return resolveToolCall(ctx, raw, tools, repair, nil)
}

func resolveToolCall(ctx context.Context, raw RawToolCall, tools *Registry, repair RepairFunc, messages []Message) TypedToolCall {
	call, err := parseToolCall(raw, tools)
	if err == nil {
		return call
	}
	if repair != nil && isRepairable(err) {
		repaired, rerr := runRepair(ctx, repair, RepairRequest{
			Call:     raw,
			Tools:    tools,
			Schema:   tools.Schema,
			Err:      err,
			Messages: messages,
		})
		switch {
		case rerr != nil:
			err = &ToolCallRepairError{Cause: err, Err: rerr}
		case repaired != nil:
			// One retry: the repaired call is resolved without another repair.
			return resolveToolCall(ctx, *repaired, tools, nil, messages)
		}
	}
	return TypedToolCall{
		Kind:             DynamicCall,
		ToolCallID:       raw.ToolCallID,
		ToolName:         raw.ToolName,
		Input:            bestEffortJSON(raw.Input),
		ProviderExecuted: raw.ProviderExecuted,
		Invalid:          true,
		Err:              err,
		Metadata:         raw.Metadata,
	}
}

func parseToolCall(raw RawToolCall, tools *Registry) (TypedToolCall, error) {
	t, ok := tools.GetTool(raw.ToolName)
	if !ok {
		if raw.ProviderExecuted && raw.Dynamic {
			return TypedToolCall{
				Kind:             DynamicCall,
				ToolCallID:       raw.ToolCallID,
				ToolName:         raw.ToolName,
				Input:            bestEffortJSON(raw.Input),
				ProviderExecuted: true,
				Metadata:         raw.Metadata,
			}, nil
		}
		var available []string
		if tools != nil {
			available = tools.Names()
		}
		return TypedToolCall{}, &NoSuchToolError{ToolName: raw.ToolName, AvailableTools: available}
	}

	input := raw.Input
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	if err := tools.ValidateInput(raw.ToolName, []byte(input)); err != nil {
		return TypedToolCall{}, &InvalidToolInputError{ToolName: raw.ToolName, Input: raw.Input, Err: err}
	}
	kind := StaticCall
	if KindOf(t) == KindDynamic {
		kind = DynamicCall
	}
	return TypedToolCall{
		Kind:             kind,
		ToolCallID:       raw.ToolCallID,
		ToolName:         raw.ToolName,
		Input:            bestEffortJSON(input),
		ProviderExecuted: raw.ProviderExecuted,
		Metadata:         raw.Metadata,
	}, nil
}

func isRepairable(err error) bool {
	var nst *NoSuchToolError
	var iti *InvalidToolInputError
	return errors.As(err, &nst) || errors.As(err, &iti)
}

func runRepair(ctx context.Context, repair RepairFunc, req RepairRequest) (call *RawToolCall, err error) {
	defer func() {
		if p := recover(); p != nil {
			call, err = nil, &panicError{p: p}
		}
	}()
	return repair(ctx, req)
}
