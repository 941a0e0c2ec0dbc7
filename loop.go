package toolstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// sessionRun is the state of one session. It lives on the goroutine that runs the session.
type sessionRun struct {
	eng     *Engine
	emit    func(Event)
	batch   bool
	exec    *executor
	session *Session
	aborted bool
}

func (s *sessionRun) logger() *slog.Logger       { return s.eng.opts.logger }
func (s *sessionRun) newID(prefix string) string { return s.eng.opts.newID(prefix) }

// emitAbort emits the abort event once per session.
func (s *sessionRun) emitAbort() {
	if s.aborted {
		return
	}
	s.aborted = true
	s.emit(Event{Type: EventAbort})
}

// runSession drives model rounds until the model stops asking for tools, a stop condition
// holds, the context is cancelled, or a fatal error occurs. It emits exactly one terminal event.
func (e *Engine) runSession(ctx context.Context, prompt []Message, batch bool, emit func(Event)) (*Session, error) {
	s := &sessionRun{
		eng:     e,
		emit:    emit,
		batch:   batch,
		exec:    &executor{tools: e.tools, tel: e.tel},
		session: &Session{},
	}
	ctx, span := e.tel.startSession(ctx)
	session, err := s.run(ctx, slices.Clone(prompt))
	endWithError(span, err)
	return session, err
}

func (s *sessionRun) run(ctx context.Context, messages []Message) (*Session, error) {
	opts := &s.eng.opts
	s.emit(Event{Type: EventStart})

	if answers := answeredApprovals(messages); len(answers) > 0 {
		a := newAssembler(ctx, s, 0, ModelRequest{Messages: messages})
		outputs, err := a.runPending(ctx, answers)
		if errors.Is(err, errAborted) {
			return s.finishAborted(), nil
		}
		if len(outputs) > 0 {
			messages = append(messages, Message{Role: RoleTool, Content: outputs})
		}
	}

	for step := 0; ; step++ {
		if ctx.Err() != nil {
			s.emitAbort()
			return s.finishAborted(), nil
		}
		req := ModelRequest{
			StepNumber: step,
			Messages:   slices.Clone(messages),
			Tools:      s.eng.tools.Definitions(),
			ToolChoice: opts.toolChoice,
		}
		if opts.prepareStep != nil {
			prepared, err := opts.prepareStep(ctx, step, slices.Clone(s.session.Steps), req)
			if err != nil {
				return s.fail(fmt.Errorf("prepare step %d: %w", step, err))
			}
			req = prepared
		}

		s.logger().Debug("starting step", "step", step, "messages", len(req.Messages), "tools", len(req.Tools))
		s.emit(Event{Type: EventStartStep, Step: step, Request: &req})
		res, err := s.runStep(ctx, step, req)
		if errors.Is(err, errAborted) {
			return s.finishAborted(), nil
		}
		if err != nil {
			return s.fail(err)
		}

		s.session.Steps = append(s.session.Steps, res)
		s.session.TotalUsage = s.session.TotalUsage.Add(res.Usage)
		s.session.FinishReason = res.FinishReason
		usage, response := res.Usage, res.Response.ResponseMetadata
		s.emit(Event{
			Type:         EventFinishStep,
			Step:         step,
			FinishReason: res.FinishReason,
			Usage:        &usage,
			Response:     &response,
			Warnings:     res.Warnings,
			Metadata:     res.ProviderMetadata,
		})
		if opts.onStepFinish != nil {
			opts.onStepFinish(res)
		}
		messages = append(messages, res.Response.Messages...)

		if !s.shouldContinue(ctx, res) {
			break
		}
	}

	total := s.session.TotalUsage
	s.emit(Event{Type: EventFinish, FinishReason: s.session.FinishReason, TotalUsage: &total})
	if opts.onFinish != nil {
		opts.onFinish(s.session)
	}
	return s.session, nil
}

func (s *sessionRun) runStep(ctx context.Context, step int, req ModelRequest) (StepResult, error) {
	ctx, span := s.eng.tel.startStep(ctx, step)
	stream, err := s.eng.model.Stream(ctx, req)
	if err != nil {
		endWithError(span, err)
		if ctx.Err() != nil {
			s.emitAbort()
			return StepResult{}, errAborted
		}
		return StepResult{}, fmt.Errorf("model stream: %w", err)
	}
	res, err := newAssembler(ctx, s, step, req).run(ctx, stream)
	if err != nil {
		endWithError(span, err)
		return StepResult{}, err
	}
	s.eng.tel.endStep(ctx, span, res)
	return res, nil
}

// shouldContinue reports whether another round is needed: the model asked for tools, every
// client call of the step has an output, and no stop condition holds.
func (s *sessionRun) shouldContinue(ctx context.Context, res StepResult) bool {
	if res.FinishReason != FinishToolCalls || !res.answered() {
		return false
	}
	return !shouldStop(ctx, s.eng.opts.stopWhen, s.session.Steps, s.logger())
}

func (s *sessionRun) finishAborted() *Session {
	s.session.Aborted = true
	total := s.session.TotalUsage
	s.emit(Event{Type: EventFinish, FinishReason: s.session.FinishReason, TotalUsage: &total})
	if fn := s.eng.opts.onAbort; fn != nil {
		fn(s.session)
	}
	if fn := s.eng.opts.onFinish; fn != nil {
		fn(s.session)
	}
	return s.session
}

func (s *sessionRun) fail(err error) (*Session, error) {
	s.logger().Error("session failed", "steps", len(s.session.Steps), "error", err)
	s.emit(Event{Type: EventError, Err: err})
	if fn := s.eng.opts.onError; fn != nil {
		fn(err)
	}
	return s.session, err
}

// answeredApproval is an approval request of an earlier turn answered in the prompt.
type answeredApproval struct {
	call     TypedToolCall
	response ApprovalResponse
}

// answeredApprovals returns the approval responses of the last message whose calls have no output yet.
func answeredApprovals(messages []Message) []answeredApproval {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	var responses []ApprovalResponse
	for _, p := range last.Content {
		if p.Type == PartToolApprovalResponse && p.ApprovalResponse != nil {
			responses = append(responses, *p.ApprovalResponse)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	requests := make(map[string]TypedToolCall)
	answered := make(map[string]struct{})
	for _, m := range messages {
		for _, p := range m.Content {
			switch {
			case p.Type == PartToolApprovalRequest && p.ApprovalRequest != nil:
				requests[p.ApprovalRequest.ApprovalID] = p.ApprovalRequest.ToolCall
			case p.Output != nil && !p.Output.Preliminary:
				answered[p.Output.ToolCallID] = struct{}{}
			}
		}
	}
	var out []answeredApproval
	for _, r := range responses {
		call, ok := requests[r.ApprovalID]
		if !ok || call.ProviderExecuted {
			continue
		}
		if _, done := answered[call.ToolCallID]; done {
			continue
		}
		out = append(out, answeredApproval{call: call, response: r})
	}
	return out
}

// StreamResult is a running (or not yet started) streaming session. Subscribe before Start:
// subscriptions do not replay earlier events.
type StreamResult struct {
	eng    *Engine
	ctx    context.Context
	prompt []Message

	events    *Broadcaster[Event]
	startOnce sync.Once
	done      chan struct{}
	session   *Session
	err       error
}

// Stream prepares a streaming session. The session starts with Start or Wait.
func (e *Engine) Stream(ctx context.Context, prompt []Message) *StreamResult {
	return &StreamResult{
		eng:    e,
		ctx:    ctx,
		prompt: prompt,
		events: NewBroadcaster[Event](),
		done:   make(chan struct{}),
	}
}

// Subscribe returns a subscription of all events. filter may be nil.
func (r *StreamResult) Subscribe(filter func(Event) bool) *Subscription[Event] {
	return r.events.Subscribe(filter)
}

// TextStream returns a subscription of the text deltas.
func (r *StreamResult) TextStream() *Subscription[string] {
	src := r.events.Subscribe(func(e Event) bool { return e.Type == EventTextDelta })
	return Map(src, func(e Event) (string, bool) { return e.Delta, true })
}

// Start runs the session in the background. Calling it more than once has no effect.
func (r *StreamResult) Start() {
	r.startOnce.Do(func() {
		go func() {
			defer close(r.done)
			defer r.events.Close()
			r.session, r.err = r.eng.runSession(r.ctx, r.prompt, false, r.events.Publish)
		}()
	})
}

// Done is closed when the session has ended.
func (r *StreamResult) Done() <-chan struct{} { return r.done }

// Wait starts the session if needed and blocks until it ends. The error is non-nil only for
// fatal failures; cancelled sessions return Session.Aborted set.
func (r *StreamResult) Wait() (*Session, error) {
	r.Start()
	<-r.done
	return r.session, r.err
}

// Text waits for the session and returns the text of its last step.
func (r *StreamResult) Text() (string, error) {
	s, err := r.Wait()
	if err != nil {
		return "", err
	}
	return s.Text(), nil
}

// Steps waits for the session and returns its steps.
func (r *StreamResult) Steps() ([]StepResult, error) {
	s, err := r.Wait()
	if err != nil {
		return nil, err
	}
	return s.Steps, nil
}

// TotalUsage waits for the session and returns the usage summed over all steps.
func (r *StreamResult) TotalUsage() (Usage, error) {
	s, err := r.Wait()
	if err != nil {
		return Usage{}, err
	}
	return s.TotalUsage, nil
}
