// Package script loads YAML replay scripts: a prompt, scripted tools, scripted model rounds,
// approval decisions and stop conditions. A script drives a full engine session without a provider.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skosovsky/toolstream"
	"github.com/skosovsky/toolstream/testutil"
)

// Script is a parsed replay script.
type Script struct {
	Prompt    []Message           `yaml:"prompt"`
	Tools     []Tool              `yaml:"tools"`
	Approvals map[string]Decision `yaml:"approvals,omitempty"`
	Steps     []Step              `yaml:"steps"`
	Stop      Stop                `yaml:"stop,omitempty"`
}

// Message is a prompt message.
type Message struct {
	Role string `yaml:"role"`
	Text string `yaml:"text"`
}

// Tool describes a scripted tool. Results are JSON values yielded in order; with Error set the
// tool fails after yielding them.
type Tool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Schema      map[string]any `yaml:"schema,omitempty"`
	Results     []string       `yaml:"results,omitempty"`
	Error       string         `yaml:"error,omitempty"`
	Delay       time.Duration  `yaml:"delay,omitempty"`
	Approval    string         `yaml:"approval,omitempty"` // "", "always" or "never"
	Dangerous   bool           `yaml:"dangerous,omitempty"`
	Declared    bool           `yaml:"declared,omitempty"`
	Timeout     time.Duration  `yaml:"timeout,omitempty"`
}

// Decision is the scripted answer to approval requests of one tool.
type Decision struct {
	Approved bool   `yaml:"approved"`
	Reason   string `yaml:"reason,omitempty"`
}

// Step is one scripted model round. With Error set the model fails to open the round.
type Step struct {
	Parts []Part `yaml:"parts"`
	Error string `yaml:"error,omitempty"`
}

// Part is one scripted stream element. Exactly one field is set.
type Part struct {
	Text      *Span    `yaml:"text,omitempty"`
	Reasoning *Span    `yaml:"reasoning,omitempty"`
	Input     *Input   `yaml:"input,omitempty"`
	Call      *Call    `yaml:"call,omitempty"`
	Approval  *Request `yaml:"approval,omitempty"`
	Finish    *Finish  `yaml:"finish,omitempty"`
	Error     string   `yaml:"error,omitempty"`
}

// Span is a text or reasoning span delivered in chunks.
type Span struct {
	ID     string   `yaml:"id"`
	Chunks []string `yaml:"chunks"`
}

// Input is a tool input streamed in chunks ahead of the call.
type Input struct {
	ID     string   `yaml:"id"`
	Tool   string   `yaml:"tool"`
	Chunks []string `yaml:"chunks"`
}

// Call is a complete tool call.
type Call struct {
	ID               string `yaml:"id"`
	Tool             string `yaml:"tool"`
	Input            string `yaml:"input,omitempty"`
	ProviderExecuted bool   `yaml:"provider_executed,omitempty"`
}

// Request is a provider-issued approval request.
type Request struct {
	ID   string `yaml:"id"`
	Call string `yaml:"call"`
}

// Finish ends a round.
type Finish struct {
	Reason       string `yaml:"reason"`
	InputTokens  int    `yaml:"input_tokens,omitempty"`
	OutputTokens int    `yaml:"output_tokens,omitempty"`
}

// Stop lists the stop conditions of the session.
type Stop struct {
	StepCount int      `yaml:"step_count,omitempty"`
	ToolCalls []string `yaml:"tool_calls,omitempty"`
}

// Load reads and parses the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes a script. Unknown keys are rejected.
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) validate() error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	seen := make(map[string]bool, len(s.Tools))
	for i, t := range s.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool %d: missing name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tool %q: declared twice", t.Name)
		}
		seen[t.Name] = true
		switch t.Approval {
		case "", "always", "never":
		default:
			return fmt.Errorf("tool %q: unknown approval %q", t.Name, t.Approval)
		}
		for j, r := range t.Results {
			if !json.Valid([]byte(r)) {
				return fmt.Errorf("tool %q: result %d is not JSON", t.Name, j)
			}
		}
	}
	for i, st := range s.Steps {
		for j, p := range st.Parts {
			if n := p.fields(); n != 1 {
				return fmt.Errorf("step %d part %d: want exactly one element, got %d", i, j, n)
			}
		}
	}
	return nil
}

func (p Part) fields() int {
	n := 0
	for _, set := range []bool{p.Text != nil, p.Reasoning != nil, p.Input != nil, p.Call != nil,
		p.Approval != nil, p.Finish != nil, p.Error != ""} {
		if set {
			n++
		}
	}
	return n
}

// Messages returns the prompt. A script without a prompt gets a single empty user message.
func (s *Script) Messages() []toolstream.Message {
	if len(s.Prompt) == 0 {
		return []toolstream.Message{toolstream.UserMessage("")}
	}
	out := make([]toolstream.Message, 0, len(s.Prompt))
	for _, m := range s.Prompt {
		role := toolstream.Role(m.Role)
		if role == "" {
			role = toolstream.RoleUser
		}
		out = append(out, toolstream.Message{Role: role, Content: []toolstream.ContentPart{toolstream.TextPart(m.Text)}})
	}
	return out
}

// Registry builds the scripted tools.
func (s *Script) Registry(opts ...toolstream.RegistryOption) (*toolstream.Registry, error) {
	reg := toolstream.NewRegistry(opts...)
	for _, def := range s.Tools {
		t, err := def.build()
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", def.Name, err)
		}
		reg.Register(t)
	}
	return reg, nil
}

func (t Tool) build() (toolstream.Tool, error) {
	schema := t.Schema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	var opts []toolstream.ToolOption
	switch t.Approval {
	case "always":
		opts = append(opts, toolstream.WithApproval(toolstream.RequireApproval()))
	case "never":
		opts = append(opts, toolstream.WithApproval(toolstream.NeverRequireApproval()))
	}
	if t.Dangerous {
		opts = append(opts, toolstream.WithDangerous())
	}
	if t.Timeout > 0 {
		opts = append(opts, toolstream.WithTimeout(t.Timeout))
	}
	if t.Declared {
		return toolstream.NewDeclaredTool(t.Name, t.Description, schema, opts...)
	}
	return toolstream.NewDynamicTool(t.Name, t.Description, schema, t.execute, opts...)
}

func (t Tool) execute(ctx context.Context, _ []byte, yield func([]byte) error) error {
	for _, r := range t.Results {
		if t.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.Delay):
			}
		}
		if err := yield([]byte(r)); err != nil {
			return err
		}
	}
	if t.Error != "" {
		return &toolstream.ClientError{Reason: t.Error}
	}
	return nil
}

// Model returns a model that replays the scripted rounds.
func (s *Script) Model() *testutil.ScriptedModel {
	steps := make([]testutil.ScriptStep, 0, len(s.Steps))
	for _, st := range s.Steps {
		if st.Error != "" {
			steps = append(steps, testutil.ScriptStep{Err: errors.New(st.Error)})
			continue
		}
		var parts []toolstream.StreamPart
		for _, p := range st.Parts {
			parts = append(parts, p.stream()...)
		}
		steps = append(steps, testutil.ScriptStep{Parts: parts})
	}
	return testutil.NewScriptedModel(steps...)
}

func (p Part) stream() []toolstream.StreamPart {
	switch {
	case p.Text != nil:
		return testutil.Text(p.Text.ID, p.Text.Chunks...)
	case p.Reasoning != nil:
		out := []toolstream.StreamPart{toolstream.ReasoningStart{ID: p.Reasoning.ID}}
		for _, c := range p.Reasoning.Chunks {
			out = append(out, toolstream.ReasoningDelta{ID: p.Reasoning.ID, Delta: c})
		}
		return append(out, toolstream.ReasoningEnd{ID: p.Reasoning.ID})
	case p.Input != nil:
		out := []toolstream.StreamPart{toolstream.ToolInputStart{ID: p.Input.ID, ToolName: p.Input.Tool}}
		for _, c := range p.Input.Chunks {
			out = append(out, toolstream.ToolInputDelta{ID: p.Input.ID, Delta: c})
		}
		return append(out, toolstream.ToolInputEnd{ID: p.Input.ID})
	case p.Call != nil:
		return []toolstream.StreamPart{toolstream.RawToolCall{
			ToolCallID:       p.Call.ID,
			ToolName:         p.Call.Tool,
			Input:            p.Call.Input,
			ProviderExecuted: p.Call.ProviderExecuted,
		}}
	case p.Approval != nil:
		return []toolstream.StreamPart{toolstream.ProviderApprovalRequest{ApprovalID: p.Approval.ID, ToolCallID: p.Approval.Call}}
	case p.Finish != nil:
		usage := toolstream.Usage{
			InputTokens:  p.Finish.InputTokens,
			OutputTokens: p.Finish.OutputTokens,
			TotalTokens:  p.Finish.InputTokens + p.Finish.OutputTokens,
		}
		return []toolstream.StreamPart{toolstream.Finish{Reason: toolstream.FinishReason(p.Finish.Reason), Usage: usage}}
	default:
		return []toolstream.StreamPart{toolstream.StreamError{Err: errors.New(p.Error)}}
	}
}

// EngineOptions returns the stop conditions and the approval resolver of the script. Without
// scripted approvals no resolver is installed and approval requests surface as events.
func (s *Script) EngineOptions() []toolstream.EngineOption {
	var conds []toolstream.StopCondition
	if s.Stop.StepCount > 0 {
		conds = append(conds, toolstream.StepCountIs(s.Stop.StepCount))
	}
	for _, name := range s.Stop.ToolCalls {
		conds = append(conds, toolstream.HasToolCall(name))
	}
	var opts []toolstream.EngineOption
	if len(conds) > 0 {
		opts = append(opts, toolstream.WithStopWhen(conds...))
	}
	if len(s.Approvals) > 0 {
		opts = append(opts, toolstream.WithApprovalResolver(s.resolve))
	}
	return opts
}

// resolve denies tools the script does not mention.
func (s *Script) resolve(_ context.Context, p toolstream.PendingApproval) (toolstream.ApprovalDecision, error) {
	d, ok := s.Approvals[p.Call.ToolName]
	if !ok {
		return toolstream.ApprovalDecision{Reason: "no scripted decision"}, nil
	}
	return toolstream.ApprovalDecision{Approved: d.Approved, Reason: d.Reason}, nil
}
