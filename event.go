package toolstream

import "encoding/json"

// EventType tags an Event of the full stream.
type EventType string

const (
	EventStart               EventType = "start"
	EventStartStep           EventType = "start-step"
	EventTextStart           EventType = "text-start"
	EventTextDelta           EventType = "text-delta"
	EventTextEnd             EventType = "text-end"
	EventReasoningStart      EventType = "reasoning-start"
	EventReasoningDelta      EventType = "reasoning-delta"
	EventReasoningEnd        EventType = "reasoning-end"
	EventToolInputStart      EventType = "tool-input-start"
	EventToolInputDelta      EventType = "tool-input-delta"
	EventToolInputEnd        EventType = "tool-input-end"
	EventToolCall            EventType = "tool-call"
	EventToolResult          EventType = "tool-result"
	EventToolError           EventType = "tool-error"
	EventToolOutputDenied    EventType = "tool-output-denied"
	EventToolApprovalRequest EventType = "tool-approval-request"
	EventSource              EventType = "source"
	EventFile                EventType = "file"
	EventRaw                 EventType = "raw"
	EventFinishStep          EventType = "finish-step"
	EventFinish              EventType = "finish"
	EventAbort               EventType = "abort"
	EventError               EventType = "error"
)

// Event is one element of the full stream. Only the fields that belong to Type are set.
//
// A session emits start once, then per step start-step ... finish-step, and ends with exactly
// one finish, or with error when the session failed. abort is emitted at most once and is
// always followed by finish.
type Event struct {
	Type EventType `json:"type"`
	// ID is the span id of text, reasoning and tool-input events.
	ID       string   `json:"id,omitempty"`
	Delta    string   `json:"delta,omitempty"`
	ToolName string   `json:"toolName,omitempty"`
	Metadata Metadata `json:"providerMetadata,omitempty"`

	ToolCall   *TypedToolCall `json:"-"`
	Output     *ToolOutput    `json:"-"`
	ApprovalID string         `json:"approvalId,omitempty"`

	Source *Source `json:"source,omitempty"`
	File   *File   `json:"file,omitempty"`

	// Step is the zero-based step index for step-scoped events.
	Step     int               `json:"step"`
	Warnings []Warning         `json:"warnings,omitempty"`
	Request  *ModelRequest     `json:"-"`
	Response *ResponseMetadata `json:"response,omitempty"`

	FinishReason FinishReason `json:"finishReason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	TotalUsage   *Usage       `json:"totalUsage,omitempty"`

	Err error `json:"-"`
	Raw any   `json:"rawValue,omitempty"`
}

// MarshalJSON renders the event with tool calls and outputs flattened, the way a UI stream consumes them.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		ToolCallID  string          `json:"toolCallId,omitempty"`
		Input       json.RawMessage `json:"input,omitempty"`
		Output      json.RawMessage `json:"output,omitempty"`
		Dynamic     bool            `json:"dynamic,omitempty"`
		Preliminary bool            `json:"preliminary,omitempty"`
		ErrorText   string          `json:"errorText,omitempty"`
	}{plain: plain(e)}
	if c := e.ToolCall; c != nil {
		out.ToolCallID = c.ToolCallID
		out.ToolName = c.ToolName
		out.Input = c.Input
		out.Dynamic = c.IsDynamic()
		if c.Err != nil {
			out.ErrorText = c.Err.Error()
		}
	}
	if o := e.Output; o != nil {
		out.ToolCallID = o.ToolCallID
		out.ToolName = o.ToolName
		out.Input = o.Input
		out.Output = o.Output
		out.Dynamic = o.Dynamic
		out.Preliminary = o.Preliminary
		if o.Err != nil {
			out.ErrorText = o.Err.Error()
		}
	}
	if e.Err != nil {
		out.ErrorText = e.Err.Error()
	}
	return json.Marshal(out)
}

// IsTerminal reports whether e ends the session stream. Error events that carry a
// ConsistencyError are reported mid-stream and are not terminal.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinish || (e.Type == EventError && !IsConsistencyError(e.Err))
}

func outputEvent(out ToolOutput, step int) Event {
	t := EventToolResult
	switch out.Kind {
	case OutputError:
		t = EventToolError
	case OutputDenied:
		t = EventToolOutputDenied
	}
	return Event{Type: t, Output: &out, ToolName: out.ToolName, Step: step}
}
