package toolstream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalJSON_ToolCall(t *testing.T) {
	ev := Event{
		Type: EventToolCall,
		Step: 1,
		ToolCall: &TypedToolCall{
			Kind: DynamicCall, ToolCallID: "c1", ToolName: "search", Input: raw(`{"q":"go"}`),
			Invalid: true, Err: &NoSuchToolError{ToolName: "search"},
		},
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "tool-call", got["type"])
	assert.Equal(t, "c1", got["toolCallId"])
	assert.Equal(t, "search", got["toolName"])
	assert.Equal(t, map[string]any{"q": "go"}, got["input"])
	assert.Equal(t, true, got["dynamic"])
	assert.Contains(t, got["errorText"], "unavailable tool")
	assert.InDelta(t, 1, got["step"], 0)
}

func TestEvent_MarshalJSON_Output(t *testing.T) {
	ev := outputEvent(ToolOutput{
		ToolCallID: "c2", ToolName: "count", Input: raw(`{}`), Output: raw(`[1,2]`), Preliminary: true,
	}, 0)
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool-result","toolCallId":"c2","toolName":"count","input":{},
		"output":[1,2],"preliminary":true,"step":0}`, string(b))
}

func TestEvent_MarshalJSON_Error(t *testing.T) {
	b, err := json.Marshal(Event{Type: EventError, Err: errors.New("stream broke")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","errorText":"stream broke","step":0}`, string(b))
}

func TestOutputEvent_Types(t *testing.T) {
	assert.Equal(t, EventToolResult, outputEvent(ToolOutput{}, 0).Type)
	assert.Equal(t, EventToolError, outputEvent(ToolOutput{Kind: OutputError}, 0).Type)
	assert.Equal(t, EventToolOutputDenied, outputEvent(ToolOutput{Kind: OutputDenied}, 0).Type)
}

func TestEvent_IsTerminal(t *testing.T) {
	assert.True(t, Event{Type: EventFinish}.IsTerminal())
	assert.True(t, Event{Type: EventError, Err: errors.New("fatal")}.IsTerminal())
	assert.False(t, Event{Type: EventError, Err: &ConsistencyError{Part: "text-end", ID: "t9"}}.IsTerminal())
	assert.False(t, Event{Type: EventAbort}.IsTerminal())
	assert.False(t, Event{Type: EventFinishStep}.IsTerminal())
}
