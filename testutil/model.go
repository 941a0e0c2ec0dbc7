package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/skosovsky/toolstream"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("scripted stream closed")

// ScriptStep is the scripted output of one model round.
type ScriptStep struct {
	Parts []toolstream.StreamPart
	// Err is returned by Stream instead of a stream.
	Err error
	// Hold, when set, delays the end of the stream until it is closed.
	Hold <-chan struct{}
	// BlockAfter keeps the stream open after the last part until ctx is done or the stream is closed.
	BlockAfter bool
}

// ScriptedModel is a Model that replays scripted rounds and records the requests it receives.
type ScriptedModel struct {
	mu       sync.Mutex
	steps    []ScriptStep
	requests []toolstream.ModelRequest
}

// NewScriptedModel returns a model that plays steps in order, one per round.
func NewScriptedModel(steps ...ScriptStep) *ScriptedModel {
	return &ScriptedModel{steps: steps}
}

// Stream implements toolstream.Model.
func (m *ScriptedModel) Stream(ctx context.Context, req toolstream.ModelRequest) (toolstream.ModelStream, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if idx >= len(m.steps) {
		return nil, fmt.Errorf("scripted model: no step %d", idx)
	}
	st := m.steps[idx]
	if st.Err != nil {
		return nil, st.Err
	}
	return &scriptedStream{ctx: ctx, step: st, closed: make(chan struct{})}, nil
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []toolstream.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

type scriptedStream struct {
	ctx       context.Context
	step      ScriptStep
	pos       int
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *scriptedStream) Recv() (toolstream.StreamPart, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	default:
	}
	if s.pos < len(s.step.Parts) {
		p := s.step.Parts[s.pos]
		s.pos++
		return p, nil
	}
	if s.step.Hold != nil {
		select {
		case <-s.step.Hold:
		case <-s.closed:
			return nil, ErrStreamClosed
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
	if s.step.BlockAfter {
		select {
		case <-s.closed:
			return nil, ErrStreamClosed
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Text returns the parts of a complete text span.
func Text(id string, chunks ...string) []toolstream.StreamPart {
	parts := []toolstream.StreamPart{toolstream.TextStart{ID: id}}
	for _, c := range chunks {
		parts = append(parts, toolstream.TextDelta{ID: id, Delta: c})
	}
	return append(parts, toolstream.TextEnd{ID: id})
}

// Call returns a tool-call part.
func Call(id, toolName, input string) toolstream.StreamPart {
	return toolstream.RawToolCall{ToolCallID: id, ToolName: toolName, Input: input}
}

// Finish returns a finish part with the given reason and a small usage.
func Finish(reason toolstream.FinishReason) toolstream.StreamPart {
	return toolstream.Finish{Reason: reason, Usage: toolstream.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

// Parts concatenates part groups.
func Parts(groups ...any) []toolstream.StreamPart {
	var out []toolstream.StreamPart
	for _, g := range groups {
		switch v := g.(type) {
		case toolstream.StreamPart:
			out = append(out, v)
		case []toolstream.StreamPart:
			out = append(out, v...)
		default:
			panic(fmt.Sprintf("testutil.Parts: unsupported %T", g))
		}
	}
	return out
}
