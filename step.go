package toolstream

// StepResult is the frozen result of one model round.
type StepResult struct {
	StepNumber      int
	Content         []ContentPart
	FinishReason    FinishReason
	RawFinishReason string
	Usage           Usage
	Warnings        []Warning
	Request         ModelRequest
	Response        StepResponse
	// ProviderMetadata is the metadata of the provider finish part.
	ProviderMetadata Metadata
}

// StepResponse describes the provider response of a step.
type StepResponse struct {
	ResponseMetadata
	// Messages are the assistant and tool messages this step contributes to the conversation.
	Messages []Message
}

// Text returns the concatenated text of the step.
func (s StepResult) Text() string { return joinText(s.Content, PartText) }

// ReasoningText returns the concatenated reasoning of the step.
func (s StepResult) ReasoningText() string { return joinText(s.Content, PartReasoning) }

// ToolCalls returns every tool call of the step, provider-executed ones included.
func (s StepResult) ToolCalls() []TypedToolCall {
	var calls []TypedToolCall
	for _, p := range s.Content {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ClientToolCalls returns the tool calls that were not executed by the provider.
func (s StepResult) ClientToolCalls() []TypedToolCall {
	var calls []TypedToolCall
	for _, c := range s.ToolCalls() {
		if !c.ProviderExecuted {
			calls = append(calls, c)
		}
	}
	return calls
}

// ToolOutputs returns the final outputs (results, errors and denials) of the step.
func (s StepResult) ToolOutputs() []ToolOutput {
	var outs []ToolOutput
	for _, p := range s.Content {
		if p.Output != nil && !p.Output.Preliminary {
			outs = append(outs, *p.Output)
		}
	}
	return outs
}

// ApprovalRequests returns the approval requests left for the caller.
func (s StepResult) ApprovalRequests() []ApprovalRequest {
	var reqs []ApprovalRequest
	for _, p := range s.Content {
		if p.Type == PartToolApprovalRequest && p.ApprovalRequest != nil {
			reqs = append(reqs, *p.ApprovalRequest)
		}
	}
	return reqs
}

// answered reports whether every client call of the step has a final output.
func (s StepResult) answered() bool {
	outputs := make(map[string]struct{})
	for _, o := range s.ToolOutputs() {
		outputs[o.ToolCallID] = struct{}{}
	}
	calls := s.ClientToolCalls()
	if len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if _, ok := outputs[c.ToolCallID]; !ok {
			return false
		}
	}
	return true
}

// Session is the aggregate of all steps of one request.
type Session struct {
	Steps        []StepResult
	TotalUsage   Usage
	FinishReason FinishReason
	// Aborted is set when the session was cancelled before it finished.
	Aborted bool
}

// Text returns the text of the last step.
func (s *Session) Text() string {
	if len(s.Steps) == 0 {
		return ""
	}
	return s.Steps[len(s.Steps)-1].Text()
}

// ResponseMessages returns the messages produced by all steps in order.
func (s *Session) ResponseMessages() []Message {
	var out []Message
	for _, st := range s.Steps {
		out = append(out, st.Response.Messages...)
	}
	return out
}
