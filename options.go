package toolstream

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

type toolOptions struct {
	strict    bool
	timeout   time.Duration
	tags      []string
	version   string
	dangerous bool
	approval  Approval
	hooks     InputHooks
}

// ToolOption configures a tool built by one of the New*Tool constructors.
type ToolOption func(*toolOptions)

// WithStrict closes every object of the input schema: additional properties are rejected and
// all declared properties are required. Providers with strict structured outputs expect this.
func WithStrict() ToolOption {
	return func(o *toolOptions) { o.strict = true }
}

// WithTimeout bounds a single execution of the tool. The Registry applies it instead of its
// default timeout. Zero or negative keeps the default.
func WithTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTags attaches free-form tags, reported by ToolMetadata.Tags.
func WithTags(tags ...string) ToolOption {
	return func(o *toolOptions) { o.tags = slices.Clone(tags) }
}

// WithVersion records the tool version.
func WithVersion(version string) ToolOption {
	return func(o *toolOptions) { o.version = version }
}

// WithDangerous marks a tool whose calls need approval unless WithApproval says otherwise.
func WithDangerous() ToolOption {
	return func(o *toolOptions) { o.dangerous = true }
}

// WithApproval sets the policy the engine checks before each call of the tool runs.
func WithApproval(a Approval) ToolOption {
	return func(o *toolOptions) { o.approval = a }
}

// WithOnInputStart is called when the model opens the streamed input of a call.
func WithOnInputStart(fn func(context.Context, InputEvent)) ToolOption {
	return func(o *toolOptions) { o.hooks.OnStart = fn }
}

// WithOnInputDelta is called with every fragment of a streamed input.
func WithOnInputDelta(fn func(context.Context, InputEvent)) ToolOption {
	return func(o *toolOptions) { o.hooks.OnDelta = fn }
}

// WithOnInputAvailable is called once the input of a call is complete and resolved, before
// approval and execution.
func WithOnInputAvailable(fn func(context.Context, InputEvent)) ToolOption {
	return func(o *toolOptions) { o.hooks.OnAvailable = fn }
}

func applyToolOptions(opts []ToolOption) toolOptions {
	var o toolOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, ToolCall)
	onAfter        func(context.Context, ToolCall, ExecutionSummary, time.Duration)
	logger         *slog.Logger
}

func defaultRegistryOptions() registryOptions {
	return registryOptions{
		timeout:        5 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
		logger:         slog.Default(),
	}
}

// WithDefaultTimeout bounds executions of tools without their own WithTimeout. Default 5s.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.timeout = d }
}

// WithMaxConcurrency caps how many calls execute at once. Default 10; zero or negative removes the cap.
func WithMaxConcurrency(n int) RegistryOption {
	return func(o *registryOptions) { o.maxConcurrency = n }
}

// WithRecoverPanics turns tool panics into SystemErrors. On by default.
func WithRecoverPanics(enable bool) RegistryOption {
	return func(o *registryOptions) { o.recoverPanics = enable }
}

// WithRegistryLogger sets the logger for registration problems. Default slog.Default().
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOnBeforeExecute is called before every execution, after the concurrency slot is taken.
func WithOnBeforeExecute(fn func(context.Context, ToolCall)) RegistryOption {
	return func(o *registryOptions) { o.onBefore = fn }
}

// WithOnAfterExecute is called after every execution, including failed and timed out ones.
func WithOnAfterExecute(fn func(context.Context, ToolCall, ExecutionSummary, time.Duration)) RegistryOption {
	return func(o *registryOptions) { o.onAfter = fn }
}
