package toolstream

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingInput struct {
	Host string `json:"host"`
}

func pingTool(t *testing.T, opts ...ToolOption) Tool {
	t.Helper()
	tool, err := NewTool("ping", "Ping a host", func(_ context.Context, in pingInput) (string, error) {
		return "pong from " + in.Host, nil
	}, opts...)
	require.NoError(t, err)
	return tool
}

func TestToolOptions_Metadata(t *testing.T) {
	cases := []struct {
		name  string
		opts  []ToolOption
		check func(*testing.T, ToolMetadata)
	}{
		{"defaults", nil, func(t *testing.T, m ToolMetadata) {
			assert.Zero(t, m.Timeout())
			assert.Empty(t, m.Tags())
			assert.Empty(t, m.Version())
			assert.False(t, m.IsDangerous())
		}},
		{"timeout", []ToolOption{WithTimeout(time.Second)}, func(t *testing.T, m ToolMetadata) {
			assert.Equal(t, time.Second, m.Timeout())
		}},
		{"non-positive timeout keeps default", []ToolOption{WithTimeout(time.Second), WithTimeout(-1)}, func(t *testing.T, m ToolMetadata) {
			assert.Equal(t, time.Second, m.Timeout())
		}},
		{"tags", []ToolOption{WithTags("net", "readonly")}, func(t *testing.T, m ToolMetadata) {
			assert.Equal(t, []string{"net", "readonly"}, m.Tags())
		}},
		{"version", []ToolOption{WithVersion("1.4.0")}, func(t *testing.T, m ToolMetadata) {
			assert.Equal(t, "1.4.0", m.Version())
		}},
		{"dangerous", []ToolOption{WithDangerous()}, func(t *testing.T, m ToolMetadata) {
			assert.True(t, m.IsDangerous())
		}},
		{"nil option", []ToolOption{nil, WithVersion("2")}, func(t *testing.T, m ToolMetadata) {
			assert.Equal(t, "2", m.Version())
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta, ok := pingTool(t, tc.opts...).(ToolMetadata)
			require.True(t, ok)
			tc.check(t, meta)
		})
	}
}

func TestWithTags_CopiesCallerSlice(t *testing.T) {
	tags := []string{"net", "readonly"}
	tool := pingTool(t, WithTags(tags...))
	tags[0] = "changed"
	meta := tool.(ToolMetadata)
	assert.Equal(t, []string{"net", "readonly"}, meta.Tags())

	got := meta.Tags()
	got[1] = "changed"
	assert.Equal(t, []string{"net", "readonly"}, meta.Tags())
}

func TestWithStrict_RejectsUnknownFields(t *testing.T) {
	loose := pingTool(t)
	strict := pingTool(t, WithStrict())

	_, err := collect(context.Background(), loose, `{"host":"a","count":3}`)
	require.NoError(t, err)
	_, err = collect(context.Background(), strict, `{"host":"a","count":3}`)
	require.ErrorIs(t, err, ErrValidation)

	values, err := collect(context.Background(), strict, `{"host":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{`"pong from a"`}, values)
}

func TestWithApproval(t *testing.T) {
	assert.Equal(t, ApprovalNone, ApprovalOf(pingTool(t)).Mode)
	assert.Equal(t, ApprovalAlways, ApprovalOf(pingTool(t, WithDangerous())).Mode)
	assert.Equal(t, ApprovalNever, ApprovalOf(pingTool(t, WithDangerous(), WithApproval(NeverRequireApproval()))).Mode)
	assert.Equal(t, ApprovalAlways, ApprovalOf(pingTool(t, WithApproval(RequireApproval()))).Mode)
}

func TestWithInputHooks(t *testing.T) {
	var got []string
	tool := pingTool(t,
		WithOnInputStart(func(_ context.Context, ev InputEvent) { got = append(got, "start "+ev.ToolCallID) }),
		WithOnInputDelta(func(_ context.Context, ev InputEvent) { got = append(got, "delta "+ev.Delta) }),
		WithOnInputAvailable(func(_ context.Context, ev InputEvent) { got = append(got, "available "+string(ev.Input)) }),
	)
	hooks := inputHooksOf(tool)
	require.NotNil(t, hooks.OnStart)
	require.NotNil(t, hooks.OnDelta)
	require.NotNil(t, hooks.OnAvailable)

	ctx := context.Background()
	hooks.OnStart(ctx, InputEvent{ToolCallID: "c1"})
	hooks.OnDelta(ctx, InputEvent{ToolCallID: "c1", Delta: `{"host"`})
	hooks.OnAvailable(ctx, InputEvent{ToolCallID: "c1", Input: []byte(`{"host":"a"}`)})
	assert.Equal(t, []string{"start c1", `delta {"host"`, `available {"host":"a"}`}, got)

	assert.Zero(t, inputHooksOf(minTool{}))
}

func TestRegistryOptions(t *testing.T) {
	def := defaultRegistryOptions()
	assert.Equal(t, 5*time.Second, def.timeout)
	assert.Equal(t, 10, def.maxConcurrency)
	assert.True(t, def.recoverPanics)
	assert.Same(t, slog.Default(), def.logger)
	assert.Same(t, slog.Default(), NewRegistry(WithRegistryLogger(nil)).opts.logger)

	reg := NewRegistry(WithDefaultTimeout(time.Minute), WithMaxConcurrency(0), WithRecoverPanics(false))
	assert.Equal(t, time.Minute, reg.opts.timeout)
	assert.Nil(t, reg.sem)
	assert.False(t, reg.opts.recoverPanics)

	assert.Equal(t, 3, cap(NewRegistry(WithMaxConcurrency(3)).sem))
}
