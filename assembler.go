package toolstream

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// errAborted is returned by the assembler when the session context is cancelled.
var errAborted = errors.New("session aborted")

type partResult struct {
	part StreamPart
	err  error
}

type spanKind struct {
	part  PartType
	start EventType
	delta EventType
	end   EventType
}

var (
	textSpan      = spanKind{PartText, EventTextStart, EventTextDelta, EventTextEnd}
	reasoningSpan = spanKind{PartReasoning, EventReasoningStart, EventReasoningDelta, EventReasoningEnd}
)

// toolInput tracks the streamed input of one call.
type toolInput struct {
	name  string
	tool  Tool
	input strings.Builder
}

type dispatchItem struct {
	call TypedToolCall
	tool Tool
}

// assembler turns the raw stream of one model round into downstream events and a StepResult.
// All fields are owned by the goroutine that calls run; tool workers only send reports.
type assembler struct {
	s       *sessionRun
	step    int
	request ModelRequest

	toolCtx context.Context
	cancel  context.CancelFunc
	reports chan report

	content   []ContentPart
	text      map[string]int
	reasoning map[string]int
	ended     map[string]struct{}
	inputs    map[string]*toolInput
	calls     map[string]TypedToolCall
	held      []PendingApproval
	queued    []dispatchItem

	outstanding  int
	finished     bool
	providerDone bool

	finish   Finish
	warnings []Warning
	response ResponseMetadata
}

func newAssembler(ctx context.Context, s *sessionRun, step int, req ModelRequest) *assembler {
	toolCtx, cancel := context.WithCancel(ctx)
	return &assembler{
		s:         s,
		step:      step,
		request:   req,
		toolCtx:   toolCtx,
		cancel:    cancel,
		reports:   make(chan report),
		text:      make(map[string]int),
		reasoning: make(map[string]int),
		ended:     make(map[string]struct{}),
		inputs:    make(map[string]*toolInput),
		calls:     make(map[string]TypedToolCall),
	}
}

// run consumes stream until the provider is done and no tool execution is outstanding.
// It returns errAborted when ctx is cancelled and the provider error when the stream fails.
func (a *assembler) run(ctx context.Context, stream ModelStream) (StepResult, error) {
	defer a.cancel()

	parts := make(chan partResult)
	stop := make(chan struct{})
	var reader sync.WaitGroup
	reader.Go(func() {
		for {
			p, err := stream.Recv()
			select {
			case parts <- partResult{part: p, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	})
	defer func() {
		close(stop)
		_ = stream.Close()
		reader.Wait()
	}()

	for !a.providerDone || a.outstanding > 0 {
		var in <-chan partResult
		if !a.providerDone {
			in = parts
		}
		select {
		case <-ctx.Done():
			return StepResult{}, a.abort()
		case pr := <-in:
			err := pr.err
			if err == nil {
				err = a.handlePart(ctx, pr.part)
			} else if errors.Is(err, io.EOF) {
				err = nil
				if !a.finished {
					a.handleFinish(Finish{Reason: FinishUnknown})
				}
				a.providerDone = true
			}
			if err != nil {
				if ctx.Err() != nil {
					return StepResult{}, a.abort()
				}
				a.shutdown()
				return StepResult{}, err
			}
		case r := <-a.reports:
			a.handleReport(r)
		}
	}
	// Workers of a cancelled step may all report before ctx.Done is selected.
	if ctx.Err() != nil {
		return StepResult{}, a.abort()
	}
	return a.result(), nil
}

// runPending executes calls approved in the prompt and denies the rest, without a model round.
func (a *assembler) runPending(ctx context.Context, answers []answeredApproval) ([]ContentPart, error) {
	defer a.cancel()
	a.finished, a.providerDone = true, true
	for _, ans := range answers {
		if !ans.response.Approved {
			a.addOutput(deniedOutput(ans.call, ans.response.Reason))
			continue
		}
		t, ok := a.s.eng.tools.GetTool(ans.call.ToolName)
		if !ok {
			out := outputFor(ans.call)
			out.Kind = OutputError
			out.Err = &NoSuchToolError{ToolName: ans.call.ToolName, AvailableTools: a.s.eng.tools.Names()}
			a.addOutput(out)
			continue
		}
		a.dispatch(ans.call, t)
	}
	for a.outstanding > 0 {
		select {
		case <-ctx.Done():
			return nil, a.abort()
		case r := <-a.reports:
			a.handleReport(r)
		}
	}
	if ctx.Err() != nil {
		return nil, a.abort()
	}
	return a.content, nil
}

func (a *assembler) abort() error {
	a.s.emitAbort()
	a.shutdown()
	return errAborted
}

// shutdown cancels every outstanding unit and waits for it, discarding its reports.
func (a *assembler) shutdown() {
	a.cancel()
	for a.outstanding > 0 {
		if r := <-a.reports; r.done {
			a.outstanding--
		}
	}
}

func (a *assembler) emit(ev Event) {
	ev.Step = a.step
	a.s.emit(ev)
}

func (a *assembler) handlePart(ctx context.Context, part StreamPart) error {
	if a.finished {
		if name, id, ok := contentPart(part); ok {
			a.consistency(name, id, "stream already finished")
			return nil
		}
	}
	switch p := part.(type) {
	case StreamStart:
		a.warnings = append(a.warnings, p.Warnings...)
	case TextStart:
		a.startSpan(textSpan, p.ID, p.Metadata)
	case TextDelta:
		a.deltaSpan(textSpan, p.ID, p.Delta, p.Metadata)
	case TextEnd:
		a.endSpan(textSpan, p.ID, p.Metadata)
	case ReasoningStart:
		a.startSpan(reasoningSpan, p.ID, p.Metadata)
	case ReasoningDelta:
		a.deltaSpan(reasoningSpan, p.ID, p.Delta, p.Metadata)
	case ReasoningEnd:
		a.endSpan(reasoningSpan, p.ID, p.Metadata)
	case ToolInputStart:
		a.startToolInput(ctx, p)
	case ToolInputDelta:
		a.deltaToolInput(ctx, p)
	case ToolInputEnd:
		ev := Event{Type: EventToolInputEnd, ID: p.ID}
		if in, ok := a.inputs[p.ID]; ok {
			ev.ToolName = in.name
		}
		a.emit(ev)
	case RawToolCall:
		a.handleToolCall(ctx, p)
	case ProviderApprovalRequest:
		call, ok := a.calls[p.ToolCallID]
		if !ok {
			a.consistency("tool-approval-request", p.ToolCallID, "unknown tool call")
			return nil
		}
		a.requestApproval(PendingApproval{ApprovalID: p.ApprovalID, Call: call})
	case ProviderToolResult:
		a.handleProviderResult(p)
	case Source:
		a.content = append(a.content, ContentPart{Type: PartSource, Source: &p, Metadata: p.Metadata})
		a.emit(Event{Type: EventSource, Source: &p, Metadata: p.Metadata})
	case File:
		a.content = append(a.content, ContentPart{Type: PartFile, File: &p})
		a.emit(Event{Type: EventFile, File: &p})
	case ResponseMetadata:
		a.response = p
	case Finish:
		if a.finished {
			a.consistency("finish", "", "duplicate finish")
			return nil
		}
		a.handleFinish(p)
	case StreamError:
		if p.Err == nil {
			return errors.New("provider stream error")
		}
		return p.Err
	case Raw:
		a.emit(Event{Type: EventRaw, Raw: p.Value})
	default:
		return fmt.Errorf("unsupported stream part %T", part)
	}
	return nil
}

// contentPart names the parts that add to step content, with the id they refer to.
// Such parts are rejected once the provider round has finished.
func contentPart(part StreamPart) (name, id string, ok bool) {
	switch p := part.(type) {
	case StreamStart:
		return "stream-start", "", true
	case TextStart:
		return "text-start", p.ID, true
	case TextDelta:
		return "text-delta", p.ID, true
	case TextEnd:
		return "text-end", p.ID, true
	case ReasoningStart:
		return "reasoning-start", p.ID, true
	case ReasoningDelta:
		return "reasoning-delta", p.ID, true
	case ReasoningEnd:
		return "reasoning-end", p.ID, true
	case ToolInputStart:
		return "tool-input-start", p.ID, true
	case ToolInputDelta:
		return "tool-input-delta", p.ID, true
	case ToolInputEnd:
		return "tool-input-end", p.ID, true
	case RawToolCall:
		return "tool-call", p.ToolCallID, true
	case ProviderApprovalRequest:
		return "tool-approval-request", p.ToolCallID, true
	case ProviderToolResult:
		return "tool-result", p.ToolCallID, true
	case Source:
		return "source", p.ID, true
	case File:
		return "file", "", true
	}
	return "", "", false
}

func (a *assembler) spans(k spanKind) map[string]int {
	if k.part == PartReasoning {
		return a.reasoning
	}
	return a.text
}

func (a *assembler) startSpan(k spanKind, id string, md Metadata) {
	a.spans(k)[id] = len(a.content)
	delete(a.ended, string(k.part)+":"+id)
	a.content = append(a.content, ContentPart{Type: k.part, Metadata: md})
	a.emit(Event{Type: k.start, ID: id, Metadata: md})
}

// deltaSpan appends to span id. A delta for a span that was never started opens it.
func (a *assembler) deltaSpan(k spanKind, id, delta string, md Metadata) {
	spans := a.spans(k)
	idx, ok := spans[id]
	if !ok {
		if _, ended := a.ended[string(k.part)+":"+id]; ended {
			a.consistency(string(k.delta), id, "span already ended")
			return
		}
		a.startSpan(k, id, nil)
		idx = spans[id]
	}
	a.content[idx].Text += delta
	if md != nil {
		a.content[idx].Metadata = md
	}
	a.emit(Event{Type: k.delta, ID: id, Delta: delta, Metadata: md})
}

func (a *assembler) endSpan(k spanKind, id string, md Metadata) {
	spans := a.spans(k)
	idx, ok := spans[id]
	if !ok {
		a.consistency(string(k.end), id, "span is not open")
		return
	}
	if md != nil {
		a.content[idx].Metadata = md
	}
	delete(spans, id)
	a.ended[string(k.part)+":"+id] = struct{}{}
	a.emit(Event{Type: k.end, ID: id, Metadata: md})
}

// closeOpenSpans ends all open spans in content order.
func (a *assembler) closeOpenSpans() {
	type open struct {
		kind spanKind
		id   string
		idx  int
	}
	var spans []open
	for id, idx := range a.text {
		spans = append(spans, open{textSpan, id, idx})
	}
	for id, idx := range a.reasoning {
		spans = append(spans, open{reasoningSpan, id, idx})
	}
	slices.SortFunc(spans, func(x, y open) int { return cmp.Compare(x.idx, y.idx) })
	for _, sp := range spans {
		a.endSpan(sp.kind, sp.id, nil)
	}
}

func (a *assembler) consistency(part, id, reason string) {
	err := &ConsistencyError{Part: part, ID: id, Reason: reason}
	a.s.logger().Warn("stream consistency error", "step", a.step, "part", part, "id", id, "reason", reason)
	a.emit(Event{Type: EventError, ID: id, Err: err})
}

func (a *assembler) startToolInput(ctx context.Context, p ToolInputStart) {
	in := &toolInput{name: p.ToolName}
	if t, ok := a.s.eng.tools.GetTool(p.ToolName); ok && !p.ProviderExecuted {
		in.tool = t
	}
	a.inputs[p.ID] = in
	a.emit(Event{Type: EventToolInputStart, ID: p.ID, ToolName: p.ToolName})
	if in.tool != nil {
		a.runHook(ctx, "OnInputStart", inputHooksOf(in.tool).OnStart, InputEvent{
			ToolCallID: p.ID,
			ToolName:   p.ToolName,
			Messages:   a.request.Messages,
		})
	}
}

func (a *assembler) deltaToolInput(ctx context.Context, p ToolInputDelta) {
	ev := Event{Type: EventToolInputDelta, ID: p.ID, Delta: p.Delta}
	in, ok := a.inputs[p.ID]
	if ok {
		in.input.WriteString(p.Delta)
		ev.ToolName = in.name
	}
	a.emit(ev)
	if ok && in.tool != nil {
		a.runHook(ctx, "OnInputDelta", inputHooksOf(in.tool).OnDelta, InputEvent{
			ToolCallID: p.ID,
			ToolName:   in.name,
			Delta:      p.Delta,
			Messages:   a.request.Messages,
		})
	}
}

func (a *assembler) runHook(ctx context.Context, name string, fn func(context.Context, InputEvent), ev InputEvent) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			a.s.logger().Warn("tool input hook panicked", "hook", name, "tool", ev.ToolName, "panic", p)
		}
	}()
	fn(ctx, ev)
}

func (a *assembler) handleToolCall(ctx context.Context, raw RawToolCall) {
	opts := &a.s.eng.opts
	call := resolveToolCall(ctx, raw, a.s.eng.tools, opts.repair, a.request.Messages)
	a.calls[call.ToolCallID] = call
	delete(a.inputs, call.ToolCallID)
	a.content = append(a.content, ContentPart{Type: PartToolCall, ToolCall: &call, Metadata: call.Metadata})
	a.emit(Event{Type: EventToolCall, ToolCall: &call, ToolName: call.ToolName, Metadata: call.Metadata})

	if call.Invalid {
		a.s.logger().Debug("tool call failed to resolve", "tool", call.ToolName, "call_id", call.ToolCallID, "error", call.Err)
		out := outputFor(call)
		out.Kind = OutputError
		out.Err = call.Err
		a.addOutput(out)
		return
	}
	if call.ProviderExecuted {
		return
	}
	t, ok := a.s.eng.tools.GetTool(call.ToolName)
	if !ok {
		return
	}
	a.runHook(ctx, "OnInputAvailable", inputHooksOf(t).OnAvailable, InputEvent{
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Input:      call.Input,
		Messages:   a.request.Messages,
	})

	required, err := needsApproval(ctx, t, call, ApprovalContext{
		ToolCallID: call.ToolCallID,
		Messages:   a.request.Messages,
		Value:      opts.contextValue,
	})
	if err != nil {
		a.s.logger().Warn("approval predicate failed, requiring approval", "tool", call.ToolName, "call_id", call.ToolCallID, "error", err)
	}
	if !required {
		a.dispatch(call, t)
		return
	}
	pending := PendingApproval{ApprovalID: a.s.newID("approval"), Call: call, Tool: t}
	if opts.approvalResolver == nil {
		a.requestApproval(pending)
		return
	}
	a.held = append(a.held, pending)
}

func (a *assembler) requestApproval(p PendingApproval) {
	req := ApprovalRequest{ApprovalID: p.ApprovalID, ToolCall: p.Call}
	a.content = append(a.content, ContentPart{Type: PartToolApprovalRequest, ApprovalRequest: &req})
	call := p.Call
	a.emit(Event{Type: EventToolApprovalRequest, ApprovalID: p.ApprovalID, ToolCall: &call, ToolName: call.ToolName})
}

func (a *assembler) handleProviderResult(p ProviderToolResult) {
	call, ok := a.calls[p.ToolCallID]
	if !ok {
		a.consistency("tool-result", p.ToolCallID, "unknown tool call")
		call = TypedToolCall{
			Kind:             DynamicCall,
			ToolCallID:       p.ToolCallID,
			ToolName:         p.ToolName,
			Input:            json.RawMessage(`{}`),
			ProviderExecuted: true,
		}
	}
	out := outputFor(call)
	out.ProviderExecuted = true
	out.Metadata = p.Metadata
	if p.IsError {
		out.Kind = OutputError
		out.Err = &ProviderToolError{ToolName: call.ToolName, Payload: p.Result}
		a.addOutput(out)
		return
	}
	out.Output = p.Result
	if p.Preliminary {
		out.Preliminary = true
		a.emit(outputEvent(out, a.step))
		return
	}
	a.addOutput(out)
}

// dispatch starts the execution of an approved call. In batch mode calls wait for the provider
// to finish. Declared tools have nothing to run; their calls stay unanswered.
func (a *assembler) dispatch(call TypedToolCall, t Tool) {
	if IsDeclared(t) {
		a.s.logger().Debug("skipping call to declared tool", "tool", call.ToolName, "call_id", call.ToolCallID)
		return
	}
	if a.s.batch && !a.finished {
		a.queued = append(a.queued, dispatchItem{call: call, tool: t})
		return
	}
	a.outstanding++
	info := CallInfo{
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Messages:   a.request.Messages,
		Value:      a.s.eng.opts.contextValue,
	}
	go a.s.exec.run(a.toolCtx, call, info, a.reports)
}

func (a *assembler) handleFinish(f Finish) {
	a.finished = true
	a.closeOpenSpans()
	if f.Reason == "" {
		f.Reason = FinishUnknown
	}
	a.finish = f
	for _, p := range a.held {
		a.outstanding++
		go resolveApproval(a.toolCtx, a.s.eng.opts.approvalResolver, p, a.reports)
	}
	a.held = nil
	queued := a.queued
	a.queued = nil
	for _, q := range queued {
		a.dispatch(q.call, q.tool)
	}
}

func (a *assembler) handleReport(r report) {
	if out := r.output; out != nil {
		if out.Preliminary {
			a.emit(outputEvent(*out, a.step))
		} else {
			a.addOutput(*out)
		}
	}
	if o := r.approval; o != nil {
		if o.err != nil {
			a.s.logger().Warn("approval resolver failed, denying call", "tool", o.pending.Call.ToolName, "call_id", o.pending.Call.ToolCallID, "error", o.err)
		}
		if o.decision.Approved {
			a.dispatch(o.pending.Call, o.pending.Tool)
		} else {
			a.addOutput(deniedOutput(o.pending.Call, o.decision.Reason))
		}
	}
	if r.done {
		a.outstanding--
	}
}

func (a *assembler) addOutput(out ToolOutput) {
	a.content = append(a.content, outputPart(out))
	a.emit(outputEvent(out, a.step))
}

func (a *assembler) result() StepResult {
	return StepResult{
		StepNumber:      a.step,
		Content:         a.content,
		FinishReason:    a.finish.Reason,
		RawFinishReason: a.finish.RawReason,
		Usage:           a.finish.Usage,
		Warnings:        a.warnings,
		Request:         a.request,
		Response: StepResponse{
			ResponseMetadata: a.response,
			Messages:         toResponseMessages(a.content),
		},
		ProviderMetadata: a.finish.Metadata,
	}
}
