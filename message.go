package toolstream

// Role is the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    Role
	Content []ContentPart
}

// SystemMessage returns a system message with a single text part.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

// UserMessage returns a user message with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// Text returns the concatenated text parts of m.
func (m Message) Text() string { return joinText(m.Content, PartText) }

// toResponseMessages converts the content of one step into the messages that are appended
// to the conversation for the next round: one assistant message with everything the model
// produced (including provider-executed outputs), followed by one tool message with the
// outputs of client-executed calls. Empty messages are omitted.
func toResponseMessages(content []ContentPart) []Message {
	var assistant, tool []ContentPart
	for _, p := range content {
		switch p.Type {
		case PartText, PartReasoning:
			if p.Text == "" {
				continue
			}
			assistant = append(assistant, p)
		case PartFile, PartToolCall, PartToolApprovalRequest:
			assistant = append(assistant, p)
		case PartToolResult, PartToolError, PartToolOutputDenied:
			if p.Output != nil && p.Output.ProviderExecuted {
				assistant = append(assistant, p)
			} else {
				tool = append(tool, p)
			}
		}
	}
	var out []Message
	if len(assistant) > 0 {
		out = append(out, Message{Role: RoleAssistant, Content: assistant})
	}
	if len(tool) > 0 {
		out = append(out, Message{Role: RoleTool, Content: tool})
	}
	return out
}
