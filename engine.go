package toolstream

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs tool-calling sessions against a Model with the tools of a Registry.
// An Engine is safe for concurrent use; every Stream or Generate call is an independent session.
type Engine struct {
	model Model
	tools *Registry
	opts  engineOptions
	tel   *telemetry
}

// PrepareStepFunc may adjust the request of a step before it is sent to the model.
type PrepareStepFunc func(ctx context.Context, step int, steps []StepResult, req ModelRequest) (ModelRequest, error)

type engineOptions struct {
	stopWhen         []StopCondition
	repair           RepairFunc
	approvalResolver ApprovalResolver
	logger           *slog.Logger
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
	newID            IDGenerator
	prepareStep      PrepareStepFunc
	contextValue     any
	toolChoice       string
	modelMiddlewares []ModelMiddleware
	onStepFinish     func(StepResult)
	onFinish         func(*Session)
	onError          func(error)
	onAbort          func(*Session)
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

// WithStopWhen sets the conditions that end the tool loop. The loop stops when any of them holds.
// Without conditions the engine stops after one step (StepCountIs(1)).
func WithStopWhen(conds ...StopCondition) EngineOption {
	return func(o *engineOptions) {
		o.stopWhen = conds
	}
}

// WithRepair sets the hook that gets one chance to fix a tool call that failed to resolve.
func WithRepair(fn RepairFunc) EngineOption {
	return func(o *engineOptions) {
		o.repair = fn
	}
}

// WithApprovalResolver decides approvals in-process instead of surfacing tool-approval-request events.
func WithApprovalResolver(fn ApprovalResolver) EngineOption {
	return func(o *engineOptions) {
		o.approvalResolver = fn
	}
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithTracerProvider sets the provider of session, step and tool spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(o *engineOptions) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the provider of tool metrics. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(o *engineOptions) {
		o.meterProvider = mp
	}
}

// WithIDGenerator replaces NewID for approval ids.
func WithIDGenerator(fn IDGenerator) EngineOption {
	return func(o *engineOptions) {
		o.newID = fn
	}
}

// WithPrepareStep sets a hook called before every model round.
func WithPrepareStep(fn PrepareStepFunc) EngineOption {
	return func(o *engineOptions) {
		o.prepareStep = fn
	}
}

// WithContextValue sets an arbitrary value passed to tools (CallInfo.Value) and approval predicates.
func WithContextValue(v any) EngineOption {
	return func(o *engineOptions) {
		o.contextValue = v
	}
}

// WithToolChoice sets ModelRequest.ToolChoice ("auto", "none", "required" or a tool name).
func WithToolChoice(choice string) EngineOption {
	return func(o *engineOptions) {
		o.toolChoice = choice
	}
}

// WithModelMiddleware wraps the model; the first middleware is outermost.
func WithModelMiddleware(mw ...ModelMiddleware) EngineOption {
	return func(o *engineOptions) {
		o.modelMiddlewares = append(o.modelMiddlewares, mw...)
	}
}

// WithOnStepFinish sets a callback invoked after every finished step.
func WithOnStepFinish(fn func(StepResult)) EngineOption {
	return func(o *engineOptions) {
		o.onStepFinish = fn
	}
}

// WithOnFinish sets a callback invoked once when a session finishes, aborted sessions included.
func WithOnFinish(fn func(*Session)) EngineOption {
	return func(o *engineOptions) {
		o.onFinish = fn
	}
}

// WithOnError sets a callback invoked when a session fails.
func WithOnError(fn func(error)) EngineOption {
	return func(o *engineOptions) {
		o.onError = fn
	}
}

// WithOnAbort sets a callback invoked when a session is cancelled.
func WithOnAbort(fn func(*Session)) EngineOption {
	return func(o *engineOptions) {
		o.onAbort = fn
	}
}

// NewEngine creates an Engine. A nil tools registry means no tools.
func NewEngine(model Model, tools *Registry, opts ...EngineOption) *Engine {
	o := engineOptions{
		logger:     slog.Default(),
		newID:      NewID,
		toolChoice: "auto",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.newID == nil {
		o.newID = NewID
	}
	if len(o.stopWhen) == 0 {
		o.stopWhen = []StopCondition{StepCountIs(1)}
	}
	if tools == nil {
		tools = NewRegistry()
	}
	return &Engine{
		model: ChainModel(model, o.modelMiddlewares...),
		tools: tools,
		opts:  o,
		tel:   newTelemetry(o.tracerProvider, o.meterProvider),
	}
}

// Tools returns the registry of the engine.
func (e *Engine) Tools() *Registry { return e.tools }
