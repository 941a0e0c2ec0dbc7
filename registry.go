package toolstream

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Registry holds tools, validates call input against their schemas and executes them with
// timeout, semaphore, and optional panic recovery.
type Registry struct {
	tools       map[string]Tool // wrapped with middlewares, used by Execute
	rawTools    map[string]Tool // unwrapped, used by Use() to re-apply middlewares from scratch
	validators  map[string]inputSchema
	sem         chan struct{}
	opts        registryOptions
	done        chan struct{}
	running     sync.WaitGroup
	mu          sync.Mutex
	middlewares []Middleware
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := defaultRegistryOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Registry{
		tools:      make(map[string]Tool),
		rawTools:   make(map[string]Tool),
		validators: make(map[string]inputSchema),
		sem:        sem,
		opts:       o,
		done:       make(chan struct{}),
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied to the tool before registration.
// If a tool with the same name already exists, it is replaced. The tool schema is compiled once
// here; a schema that does not compile is logged, and ValidateInput then fails with a SystemError.
// Safe for concurrent use with Execute and other Register calls.
func (r *Registry) Register(t Tool) {
	var validator inputSchema
	if params := t.Parameters(); params != nil {
		_, compiled, err := prepareSchema(params, false)
		if err != nil {
			r.opts.logger.Warn("tool input schema does not compile", "tool", t.Name(), "error", err)
			compiled = inputSchema{err: fmt.Errorf("input schema of tool %q: %w", t.Name(), err)}
		}
		validator = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	r.rawTools[name] = t
	r.validators[name] = validator
	r.tools[name] = r.wrap(t)
}

// GetAllTools returns the registered tools (after middlewares), sorted by name.
func (r *Registry) GetAllTools() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tool, 0, len(r.tools))
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// Definitions returns the model-facing description of every tool, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	tools := r.GetAllTools()
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs
}

// GetTool returns the tool with the given name (after middlewares are applied), or (nil, false) if not found.
func (r *Registry) GetTool(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schema returns the input schema of the named tool.
func (r *Registry) Schema(name string) (map[string]any, bool) {
	t, ok := r.GetTool(name)
	if !ok {
		return nil, false
	}
	return t.Parameters(), true
}

// ValidateInput parses input and checks it against the schema of the named tool.
// Returns ErrToolNotFound for unknown tools and a ClientError for malformed or invalid input.
func (r *Registry) ValidateInput(name string, input []byte) error {
	r.mu.Lock()
	_, ok := r.tools[name]
	validator := r.validators[name]
	r.mu.Unlock()
	if !ok {
		return ErrToolNotFound
	}
	return validator.check(input)
}

// Execute runs one tool call and streams its values to yield. It returns on the first yield error
// or tool error. The after-execution hook (WithOnAfterExecute) always sees the ExecutionSummary.
func (r *Registry) Execute(ctx context.Context, call ToolCall, yield func([]byte) error) error {
	tool, err := r.admit(ctx, call.ToolName)
	if err != nil {
		return err
	}
	defer r.release()

	runCtx, cancel := r.deadline(ctx, tool)
	defer cancel()

	summary := ExecutionSummary{CallID: call.ID, ToolName: call.ToolName}
	start := time.Now()
	if r.opts.onAfter != nil {
		defer func() { r.opts.onAfter(runCtx, call, summary, time.Since(start)) }()
	}
	if r.opts.onBefore != nil {
		r.opts.onBefore(runCtx, call)
	}
	summary.Error = r.run(runCtx, tool, call.Args, func(value []byte) error {
		if err := yield(value); err != nil {
			return err
		}
		summary.ValuesDelivered++
		summary.TotalBytes += int64(len(value))
		return nil
	})
	// Our own deadline fired while the caller is still waiting.
	if errors.Is(summary.Error, context.DeadlineExceeded) && ctx.Err() == nil {
		summary.Error = ErrTimeout
	}
	return summary.Error
}

// admit looks the tool up and takes a concurrency slot. On success the caller must call release.
func (r *Registry) admit(ctx context.Context, name string) (Tool, error) {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil, ErrShutdown
	default:
	}
	tool, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return nil, ErrToolNotFound
	}
	r.running.Add(1)
	r.mu.Unlock()

	if err := r.acquireSemaphore(ctx); err != nil {
		r.running.Done()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return tool, nil
}

func (r *Registry) release() {
	r.releaseSemaphore()
	r.running.Done()
}

// deadline bounds ctx by the tool timeout, falling back to the registry default.
func (r *Registry) deadline(ctx context.Context, tool Tool) (context.Context, context.CancelFunc) {
	timeout := r.opts.timeout
	if tm, ok := tool.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// run executes tool, turning a panic into a SystemError when recovery is on.
func (r *Registry) run(ctx context.Context, tool Tool, args []byte, yield func([]byte) error) (err error) {
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				err = &SystemError{Err: &panicError{p: p}}
			}
		}()
	}
	return tool.Execute(ctx, args, yield)
}

func (r *Registry) acquireSemaphore(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) releaseSemaphore() {
	if r.sem != nil {
		<-r.sem
	}
}

// Shutdown closes the registry for new calls and waits for in-flight executions or ctx to cancel.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
		close(r.done)
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
