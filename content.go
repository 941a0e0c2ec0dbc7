package toolstream

import (
	"encoding/json"
	"strings"
)

// Metadata is provider-specific data attached to parts and events.
type Metadata map[string]any

// CallKind distinguishes the two shapes of a resolved tool call.
type CallKind int

const (
	// StaticCall is a call to a function tool whose input passed schema validation.
	StaticCall CallKind = iota
	// DynamicCall is a call to a dynamic or provider-only tool, or a call that failed resolution.
	DynamicCall
)

func (k CallKind) String() string {
	if k == DynamicCall {
		return "dynamic"
	}
	return "static"
}

// TypedToolCall is a resolved tool call. It is immutable once produced.
type TypedToolCall struct {
	Kind             CallKind
	ToolCallID       string
	ToolName         string
	Input            json.RawMessage
	ProviderExecuted bool
	// Invalid is set when resolution failed; Err holds the cause. Invalid calls are always dynamic.
	Invalid  bool
	Err      error
	Metadata Metadata
}

// IsDynamic reports whether c is a dynamic call.
func (c TypedToolCall) IsDynamic() bool { return c.Kind == DynamicCall }

// OutputKind distinguishes tool outputs.
type OutputKind int

const (
	OutputResult OutputKind = iota
	OutputError
	OutputDenied
)

func (k OutputKind) String() string {
	switch k {
	case OutputError:
		return "error"
	case OutputDenied:
		return "denied"
	default:
		return "result"
	}
}

// ToolOutput is the result, error or denial of one tool call.
type ToolOutput struct {
	Kind             OutputKind
	ToolCallID       string
	ToolName         string
	Input            json.RawMessage
	Dynamic          bool
	ProviderExecuted bool
	// Output is the JSON value of a result.
	Output json.RawMessage
	// Err is set for error and denied outputs.
	Err error
	// Preliminary marks an intermediate value of a streaming tool. Preliminary outputs never answer a call.
	Preliminary bool
	Metadata    Metadata
}

func outputFor(call TypedToolCall) ToolOutput {
	return ToolOutput{
		ToolCallID:       call.ToolCallID,
		ToolName:         call.ToolName,
		Input:            call.Input,
		Dynamic:          call.IsDynamic(),
		ProviderExecuted: call.ProviderExecuted,
	}
}

// ApprovalRequest asks the caller to approve a call.
type ApprovalRequest struct {
	ApprovalID string
	ToolCall   TypedToolCall
}

// ApprovalResponse answers an ApprovalRequest in a later turn.
type ApprovalResponse struct {
	ApprovalID string
	Approved   bool
	Reason     string
}

// PartType tags a ContentPart.
type PartType string

const (
	PartText                 PartType = "text"
	PartReasoning            PartType = "reasoning"
	PartSource               PartType = "source"
	PartFile                 PartType = "file"
	PartToolCall             PartType = "tool-call"
	PartToolResult           PartType = "tool-result"
	PartToolError            PartType = "tool-error"
	PartToolOutputDenied     PartType = "tool-output-denied"
	PartToolApprovalRequest  PartType = "tool-approval-request"
	PartToolApprovalResponse PartType = "tool-approval-response"
)

// ContentPart is one element of a step's content or of a message. Only the fields that
// belong to Type are set.
type ContentPart struct {
	Type             PartType
	Text             string
	Metadata         Metadata
	Source           *Source
	File             *File
	ToolCall         *TypedToolCall
	Output           *ToolOutput
	ApprovalRequest  *ApprovalRequest
	ApprovalResponse *ApprovalResponse
}

// TextPart returns a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ApprovalResponsePart returns a part answering the approval request approvalID.
func ApprovalResponsePart(approvalID string, approved bool, reason string) ContentPart {
	return ContentPart{
		Type:             PartToolApprovalResponse,
		ApprovalResponse: &ApprovalResponse{ApprovalID: approvalID, Approved: approved, Reason: reason},
	}
}

func outputPart(out ToolOutput) ContentPart {
	t := PartToolResult
	switch out.Kind {
	case OutputError:
		t = PartToolError
	case OutputDenied:
		t = PartToolOutputDenied
	}
	return ContentPart{Type: t, Output: &out}
}

func joinText(parts []ContentPart, typ PartType) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == typ {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// bestEffortJSON returns s as JSON: s itself when it is valid JSON, "{}" when it is blank,
// and a JSON string otherwise.
func bestEffortJSON(s string) json.RawMessage {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(s)
	return b
}
