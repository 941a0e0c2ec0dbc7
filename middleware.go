package toolstream

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a Tool. Wrappers keep the metadata, approval policy, kind and input hooks of
// the tool they wrap.
type Middleware func(Tool) Tool

// WithLogging logs every execution: start, then end or error with the duration and the number
// of delivered values. Input errors meant for the model log at Warn, other failures at Error.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Tool) Tool {
		return &loggingTool{toolBase: toolBase{next: next}, logger: logger}
	}
}

// WithRecovery turns a panic of the wrapped tool into a SystemError.
func WithRecovery() Middleware {
	return func(next Tool) Tool {
		return &recoveryTool{toolBase{next: next}}
	}
}

// WithTimeoutMiddleware bounds each execution of the wrapped tool by d and reports d as the tool
// timeout. Inside a Registry the shorter of d and the registry deadline wins.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Tool) Tool {
		return &timeoutTool{toolBase: toolBase{next: next}, timeout: d}
	}
}

// toolBase forwards everything but Execute to the wrapped tool.
type toolBase struct{ next Tool }

func (b *toolBase) Name() string               { return b.next.Name() }
func (b *toolBase) Description() string        { return b.next.Description() }
func (b *toolBase) Parameters() map[string]any { return b.next.Parameters() }
func (b *toolBase) Kind() ToolKind             { return KindOf(b.next) }
func (b *toolBase) InputHooks() InputHooks     { return inputHooksOf(b.next) }
func (b *toolBase) Declared() bool             { return IsDeclared(b.next) }

func (b *toolBase) Approval() Approval {
	if a, ok := b.next.(approver); ok {
		return a.Approval()
	}
	return Approval{}
}

// meta returns the metadata of the wrapped tool, or a zero implementation.
func (b *toolBase) meta() ToolMetadata {
	if m, ok := b.next.(ToolMetadata); ok {
		return m
	}
	return noMetadata{}
}

func (b *toolBase) Timeout() time.Duration { return b.meta().Timeout() }
func (b *toolBase) Tags() []string         { return b.meta().Tags() }
func (b *toolBase) Version() string        { return b.meta().Version() }
func (b *toolBase) IsDangerous() bool      { return b.meta().IsDangerous() }

type noMetadata struct{}

func (noMetadata) Timeout() time.Duration { return 0 }
func (noMetadata) Tags() []string         { return nil }
func (noMetadata) Version() string        { return "" }
func (noMetadata) IsDangerous() bool      { return false }

type loggingTool struct {
	toolBase
	logger *slog.Logger
}

func (m *loggingTool) Execute(ctx context.Context, args []byte, yield func([]byte) error) error {
	attrs := []slog.Attr{slog.String("tool", m.next.Name())}
	if info, ok := CallInfoFromContext(ctx); ok {
		attrs = append(attrs, slog.String("call_id", info.ToolCallID))
	}
	if KindOf(m.next) == KindDynamic {
		attrs = append(attrs, slog.Bool("dynamic", true))
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "tool start", attrs...)

	start := time.Now()
	var values int
	err := m.next.Execute(ctx, args, func(b []byte) error {
		values++
		return yield(b)
	})
	attrs = append(attrs, slog.Duration("duration", time.Since(start)), slog.Int("values", values))
	switch {
	case err == nil:
		m.logger.LogAttrs(ctx, slog.LevelInfo, "tool end", attrs...)
	case IsClientError(err):
		m.logger.LogAttrs(ctx, slog.LevelWarn, "tool error", append(attrs, slog.String("error", err.Error()))...)
	default:
		m.logger.LogAttrs(ctx, slog.LevelError, "tool error", append(attrs, slog.Any("error", err))...)
	}
	return err
}

type recoveryTool struct{ toolBase }

func (r *recoveryTool) Execute(ctx context.Context, args []byte, yield func([]byte) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &SystemError{Err: &panicError{p: p}}
		}
	}()
	return r.next.Execute(ctx, args, yield)
}

type timeoutTool struct {
	toolBase
	timeout time.Duration
}

func (t *timeoutTool) Timeout() time.Duration {
	if t.timeout > 0 {
		return t.timeout
	}
	return t.toolBase.Timeout()
}

func (t *timeoutTool) Execute(ctx context.Context, args []byte, yield func([]byte) error) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.next.Execute(ctx, args, yield)
}

// Use replaces the middleware chain and rewraps every registered tool from its unwrapped form,
// so repeated calls never stack wrappers. The first middleware is the outermost. Tools
// registered later get the same chain.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, raw := range r.rawTools {
		r.tools[name] = r.wrap(raw)
	}
}

// wrap applies the middleware chain to t. Callers hold r.mu.
func (r *Registry) wrap(t Tool) Tool {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		t = r.middlewares[i](t)
	}
	return t
}

var (
	_ Tool          = (*loggingTool)(nil)
	_ ToolMetadata  = (*recoveryTool)(nil)
	_ ToolMetadata  = noMetadata{}
	_ approver      = (*timeoutTool)(nil)
	_ inputObserver = (*toolBase)(nil)
)
