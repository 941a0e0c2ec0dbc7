package toolstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// tool is the internal implementation of Tool built by the New*Tool constructors.
type tool struct {
	name        string
	description string
	schema      map[string]any
	kind        ToolKind
	execute     func(context.Context, []byte, func([]byte) error) error
	opts        toolOptions
}

// Outcome is the settled value of a deferred tool call.
type Outcome[R any] struct {
	Value R
	Err   error
}

// NewTool builds a Tool from a typed function. The input schema and checks come from TypedInput[T].
// The result is marshaled and delivered once. Schema generation errors (an unsupported field
// type, for example) are returned here rather than at call time.
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	return newTypedTool(name, description, opts, func(ctx context.Context, args T, yield func([]byte) error) error {
		res, err := fn(ctx, args)
		if err != nil {
			return wrapHandlerError(err)
		}
		return yieldJSON(res, yield)
	})
}

// NewDeferredTool builds a Tool whose handler returns a channel settled later. Execute waits for
// the first Outcome or for ctx to be done; a channel closed without a value is a SystemError.
func NewDeferredTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) <-chan Outcome[R],
	opts ...ToolOption,
) (Tool, error) {
	return newTypedTool(name, description, opts, func(ctx context.Context, args T, yield func([]byte) error) error {
		pending := fn(ctx, args)
		if pending == nil {
			return &SystemError{Err: errors.New("deferred handler returned nil channel")}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-pending:
			switch {
			case !ok:
				return &SystemError{Err: errors.New("deferred result channel closed without a value")}
			case out.Err != nil:
				return wrapHandlerError(out.Err)
			}
			return yieldJSON(out.Value, yield)
		}
	})
}

// NewStreamTool builds a Tool from a typed streaming function. Every value but the last is
// reported as preliminary, and a handler that yields nothing is valid. Once yield fails the
// handler must stop; its error is returned as ErrStreamAborted.
func NewStreamTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T, yield func(R) error) error,
	opts ...ToolOption,
) (Tool, error) {
	return newTypedTool(name, description, opts, func(ctx context.Context, args T, yield func([]byte) error) error {
		err := fn(ctx, args, func(v R) error { return yieldJSON(v, yield) })
		if err != nil {
			return passThroughOrWrap(err)
		}
		return nil
	})
}

// newTypedTool decodes and checks input through TypedInput[T] before handing it to run.
func newTypedTool[T any](
	name, description string,
	opts []ToolOption,
	run func(ctx context.Context, args T, yield func([]byte) error) error,
) (Tool, error) {
	o := applyToolOptions(opts)
	in, err := NewTypedInput[T](o.strict)
	if err != nil {
		return nil, err
	}
	return &tool{
		name:        name,
		description: description,
		schema:      in.doc,
		opts:        o,
		execute: func(ctx context.Context, argsJSON []byte, yield func([]byte) error) error {
			args, err := in.Decode(argsJSON)
			if err != nil {
				return err
			}
			return run(ctx, args, yield)
		},
	}, nil
}

// NewDynamicTool creates a Tool whose input is described by a schema known only at runtime, for
// tools loaded from an API catalog or a plugin. fn receives the raw input after the schema check
// and may yield any number of chunks. Calls to it resolve to dynamic calls.
// schemaMap is copied, never mutated.
func NewDynamicTool(
	name, description string,
	schemaMap map[string]any,
	fn func(ctx context.Context, argsJSON []byte, yield func(data []byte) error) error,
	opts ...ToolOption,
) (Tool, error) {
	o := applyToolOptions(opts)
	if fn == nil {
		return nil, fmt.Errorf("dynamic tool handler must not be nil")
	}
	schemaCopy, schema, err := prepareRawSchema(schemaMap, o.strict)
	if err != nil {
		return nil, err
	}
	execute := func(ctx context.Context, argsJSON []byte, yield func([]byte) error) error {
		if err := schema.check(argsJSON); err != nil {
			return err
		}
		err := fn(ctx, argsJSON, func(chunk []byte) error {
			if err := yield(chunk); err != nil {
				return wrapYieldError(err)
			}
			return nil
		})
		if err != nil {
			return passThroughOrWrap(err)
		}
		return nil
	}
	return &tool{
		name:        name,
		description: description,
		schema:      schemaCopy,
		kind:        KindDynamic,
		execute:     execute,
		opts:        o,
	}, nil
}

// NewDeclaredTool creates a Tool that only describes its input. The model may call it, but
// nothing runs locally: the caller answers such calls in a later turn. Execute returns ErrNoExecute.
func NewDeclaredTool(name, description string, schemaMap map[string]any, opts ...ToolOption) (Tool, error) {
	o := applyToolOptions(opts)
	schemaCopy, _, err := prepareRawSchema(schemaMap, o.strict)
	if err != nil {
		return nil, err
	}
	return &tool{
		name:        name,
		description: description,
		schema:      schemaCopy,
		opts:        o,
	}, nil
}

// prepareRawSchema prepares a caller-supplied schema for a dynamic or declared tool.
func prepareRawSchema(schemaMap map[string]any, strict bool) (map[string]any, inputSchema, error) {
	if schemaMap == nil {
		return nil, inputSchema{}, errors.New("dynamic schema map must not be nil")
	}
	doc, schema, err := prepareSchema(schemaMap, strict)
	if err != nil {
		return nil, inputSchema{}, fmt.Errorf("dynamic schema: %w", err)
	}
	return doc, schema, nil
}

func yieldJSON(v any, yield func([]byte) error) error {
	b, err := json.Marshal(v)
	if err != nil {
		return &SystemError{Err: err}
	}
	if err := yield(b); err != nil {
		return wrapYieldError(err)
	}
	return nil
}

func (t *tool) Name() string        { return t.name }
func (t *tool) Description() string { return t.description }

// Parameters returns a copy of the top-level schema keys. Nested maps are shared and must not be
// mutated.
func (t *tool) Parameters() map[string]any { return maps.Clone(t.schema) }

func (t *tool) Execute(ctx context.Context, argsJSON []byte, yield func([]byte) error) error {
	if t.execute == nil {
		return ErrNoExecute
	}
	return t.execute(ctx, argsJSON, yield)
}

func (t *tool) Timeout() time.Duration { return t.opts.timeout }
func (t *tool) Tags() []string         { return append([]string(nil), t.opts.tags...) }
func (t *tool) Version() string        { return t.opts.version }
func (t *tool) IsDangerous() bool      { return t.opts.dangerous }
func (t *tool) Kind() ToolKind         { return t.kind }
func (t *tool) Approval() Approval     { return t.opts.approval }
func (t *tool) InputHooks() InputHooks { return t.opts.hooks }
func (t *tool) Declared() bool         { return t.execute == nil }

// wrapHandlerError hides handler failures behind SystemError, except ClientError and context
// errors, which callers need to see.
func wrapHandlerError(err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &SystemError{Err: err}
}

func passThroughOrWrap(err error) error {
	if errors.Is(err, ErrStreamAborted) {
		return err
	}
	return wrapHandlerError(err)
}

var (
	_ Tool          = (*tool)(nil)
	_ ToolMetadata  = (*tool)(nil)
	_ kinded        = (*tool)(nil)
	_ approver      = (*tool)(nil)
	_ inputObserver = (*tool)(nil)
	_ declared      = (*tool)(nil)
)
