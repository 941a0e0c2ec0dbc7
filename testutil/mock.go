// Package testutil provides test helpers for toolstream (MockTool, ScriptedModel).
package testutil

import (
	"context"

	"github.com/skosovsky/toolstream"
)

// MockTool is a configurable Tool implementation for tests.
type MockTool struct {
	NameVal     string
	DescVal     string
	ParamsVal   map[string]any
	KindVal     toolstream.ToolKind
	ApprovalVal toolstream.Approval
	ExecuteFn   func(ctx context.Context, args []byte, yield func([]byte) error) error
}

// Name returns the tool name.
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the tool description.
func (m *MockTool) Description() string {
	return m.DescVal
}

// Parameters returns the parameters schema (or an open object schema).
func (m *MockTool) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{"type": "object"}
}

// Kind returns KindVal.
func (m *MockTool) Kind() toolstream.ToolKind { return m.KindVal }

// Approval returns ApprovalVal.
func (m *MockTool) Approval() toolstream.Approval { return m.ApprovalVal }

// Execute runs ExecuteFn if set, otherwise yields an empty object.
func (m *MockTool) Execute(ctx context.Context, args []byte, yield func([]byte) error) error {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, args, yield)
	}
	return yield([]byte(`{}`))
}

// Ensure MockTool implements Tool.
var _ toolstream.Tool = (*MockTool)(nil)
