package toolstream

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// Model is the transport to a language model provider. Implementations translate
	// ModelRequest into the provider wire format and the provider stream into StreamParts.
	Model interface {
		Stream(ctx context.Context, req ModelRequest) (ModelStream, error)
	}

	// ModelStream delivers the ordered parts of one model round. Recv returns io.EOF after the
	// last part. Recv is called from a single goroutine; Close releases the stream and must
	// unblock a pending Recv.
	ModelStream interface {
		Recv() (StreamPart, error)
		Close() error
	}

	// ModelMiddleware wraps a Model with cross-cutting behavior (rate limiting, logging).
	ModelMiddleware func(Model) Model

	// ModelRequest is the normalized request of one model round.
	ModelRequest struct {
		StepNumber int
		Messages   []Message
		Tools      []ToolDefinition
		// ToolChoice is "auto", "none", "required" or a tool name.
		ToolChoice string
		Metadata   Metadata
	}
)

// FinishReason explains why the model stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

// Usage is token usage of a round or a session.
type Usage struct {
	InputTokens       int `json:"inputTokens"`
	OutputTokens      int `json:"outputTokens"`
	TotalTokens       int `json:"totalTokens"`
	ReasoningTokens   int `json:"reasoningTokens,omitempty"`
	CachedInputTokens int `json:"cachedInputTokens,omitempty"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:       u.InputTokens + o.InputTokens,
		OutputTokens:      u.OutputTokens + o.OutputTokens,
		TotalTokens:       u.TotalTokens + o.TotalTokens,
		ReasoningTokens:   u.ReasoningTokens + o.ReasoningTokens,
		CachedInputTokens: u.CachedInputTokens + o.CachedInputTokens,
	}
}

// Warning is a provider warning about unsupported settings.
type Warning struct {
	Type    string `json:"type"`
	Setting string `json:"setting,omitempty"`
	Message string `json:"message,omitempty"`
}

// StreamPart is one event of a provider stream. The set of variants is closed.
type StreamPart interface {
	streamPart()
}

type (
	// StreamStart opens a provider stream.
	StreamStart struct{ Warnings []Warning }

	TextStart struct {
		ID       string
		Metadata Metadata
	}
	TextDelta struct {
		ID       string
		Delta    string
		Metadata Metadata
	}
	TextEnd struct {
		ID       string
		Metadata Metadata
	}

	ReasoningStart struct {
		ID       string
		Metadata Metadata
	}
	ReasoningDelta struct {
		ID       string
		Delta    string
		Metadata Metadata
	}
	ReasoningEnd struct {
		ID       string
		Metadata Metadata
	}

	// ToolInputStart begins the streamed input of call ID.
	ToolInputStart struct {
		ID               string
		ToolName         string
		ProviderExecuted bool
		Dynamic          bool
	}
	ToolInputDelta struct {
		ID    string
		Delta string
	}
	ToolInputEnd struct{ ID string }

	// RawToolCall is a complete tool call as emitted by the provider. Input is the unparsed JSON text.
	RawToolCall struct {
		ToolCallID       string
		ToolName         string
		Input            string
		ProviderExecuted bool
		Dynamic          bool
		Metadata         Metadata
	}

	// ProviderToolResult is the outcome of a provider-executed tool.
	ProviderToolResult struct {
		ToolCallID  string
		ToolName    string
		Result      json.RawMessage
		IsError     bool
		Preliminary bool
		Dynamic     bool
		Metadata    Metadata
	}

	// ProviderApprovalRequest asks for approval of a provider-executed call.
	ProviderApprovalRequest struct {
		ApprovalID string
		ToolCallID string
	}

	// Source is a citation produced by the model.
	Source struct {
		ID         string
		SourceType string // "url" or "document"
		URL        string
		Title      string
		MediaType  string
		Metadata   Metadata
	}

	// File is a generated file.
	File struct {
		MediaType string
		Data      []byte
	}

	// ResponseMetadata identifies the provider response.
	ResponseMetadata struct {
		ID        string
		ModelID   string
		Timestamp time.Time
	}

	// Finish ends a provider round.
	Finish struct {
		Reason    FinishReason
		RawReason string
		Usage     Usage
		Metadata  Metadata
	}

	// StreamError is a provider-level failure. It ends the session.
	StreamError struct{ Err error }

	// Raw passes an unprocessed provider chunk through.
	Raw struct{ Value any }
)

func (StreamStart) streamPart()             {}
func (TextStart) streamPart()               {}
func (TextDelta) streamPart()               {}
func (TextEnd) streamPart()                 {}
func (ReasoningStart) streamPart()          {}
func (ReasoningDelta) streamPart()          {}
func (ReasoningEnd) streamPart()            {}
func (ToolInputStart) streamPart()          {}
func (ToolInputDelta) streamPart()          {}
func (ToolInputEnd) streamPart()            {}
func (RawToolCall) streamPart()             {}
func (ProviderToolResult) streamPart()      {}
func (ProviderApprovalRequest) streamPart() {}
func (Source) streamPart()                  {}
func (File) streamPart()                    {}
func (ResponseMetadata) streamPart()        {}
func (Finish) streamPart()                  {}
func (StreamError) streamPart()             {}
func (Raw) streamPart()                     {}

var (
	_ StreamPart = StreamStart{}
	_ StreamPart = TextStart{}
	_ StreamPart = TextDelta{}
	_ StreamPart = TextEnd{}
	_ StreamPart = ReasoningStart{}
	_ StreamPart = ReasoningDelta{}
	_ StreamPart = ReasoningEnd{}
	_ StreamPart = ToolInputStart{}
	_ StreamPart = ToolInputDelta{}
	_ StreamPart = ToolInputEnd{}
	_ StreamPart = RawToolCall{}
	_ StreamPart = ProviderToolResult{}
	_ StreamPart = ProviderApprovalRequest{}
	_ StreamPart = Source{}
	_ StreamPart = File{}
	_ StreamPart = ResponseMetadata{}
	_ StreamPart = Finish{}
	_ StreamPart = StreamError{}
	_ StreamPart = Raw{}
)
