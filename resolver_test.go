package toolstream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolverRegistry(t *testing.T) *Registry {
	t.Helper()
	type WeatherArgs struct {
		City string `json:"city"`
	}
	weather, err := NewTool("weather", "Weather", func(_ context.Context, _ WeatherArgs) (string, error) {
		return "sunny", nil
	})
	require.NoError(t, err)
	ping, err := NewDynamicTool("ping", "Ping", map[string]any{"type": "object"},
		func(_ context.Context, _ []byte, yield func([]byte) error) error { return yield([]byte(`"pong"`)) })
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(weather)
	reg.Register(ping)
	return reg
}

func TestResolveToolCall_Static(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{
		ToolCallID: "c1", ToolName: "weather", Input: `{"city":"Oslo"}`,
	}, reg, nil)
	assert.False(t, call.Invalid)
	assert.NoError(t, call.Err)
	assert.Equal(t, StaticCall, call.Kind)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(call.Input))
}

func TestResolveToolCall_DynamicTool(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "ping", Input: `{}`}, reg, nil)
	assert.False(t, call.Invalid)
	assert.True(t, call.IsDynamic())
}

func TestResolveToolCall_NoSuchTool(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "stocks", Input: `{"x":1}`}, reg, nil)
	assert.True(t, call.Invalid)
	assert.True(t, call.IsDynamic())
	var nst *NoSuchToolError
	require.ErrorAs(t, call.Err, &nst)
	assert.Equal(t, []string{"ping", "weather"}, nst.AvailableTools)
	assert.ErrorIs(t, call.Err, ErrToolNotFound)
	assert.JSONEq(t, `{"x":1}`, string(call.Input))
}

func TestResolveToolCall_NilRegistry(t *testing.T) {
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "x"}, nil, nil)
	assert.True(t, call.Invalid)
	var nst *NoSuchToolError
	require.ErrorAs(t, call.Err, &nst)
	assert.Contains(t, nst.Error(), "no tools are available")
}

func TestResolveToolCall_ProviderDynamicUnknownTool(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{
		ToolCallID: "c1", ToolName: "web_search", Input: `{"q":"go"}`, ProviderExecuted: true, Dynamic: true,
	}, reg, nil)
	assert.False(t, call.Invalid)
	assert.True(t, call.ProviderExecuted)
	assert.True(t, call.IsDynamic())
}

func TestResolveToolCall_InvalidInput(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "weather", Input: `{"city":`}, reg, nil)
	assert.True(t, call.Invalid)
	var iti *InvalidToolInputError
	require.ErrorAs(t, call.Err, &iti)
	assert.Equal(t, "weather", iti.ToolName)
	assert.JSONEq(t, `"{\"city\":"`, string(call.Input))
}

func TestResolveToolCall_Repair(t *testing.T) {
	reg := resolverRegistry(t)
	var seen RepairRequest
	repair := func(_ context.Context, req RepairRequest) (*RawToolCall, error) {
		seen = req
		fixed := req.Call
		fixed.ToolName = "weather"
		return &fixed, nil
	}
	ctx := context.Background()
	call := ResolveToolCall(ctx, RawToolCall{ToolCallID: "c1", ToolName: "Weather", Input: `{"city":"Rome"}`}, reg, repair)
	assert.False(t, call.Invalid)
	assert.Equal(t, "weather", call.ToolName)
	assert.Equal(t, ResolveToolCall(ctx, RawToolCall{ToolCallID: "c1", ToolName: "weather", Input: `{"city":"Rome"}`}, reg, nil), call)
	var nst *NoSuchToolError
	require.ErrorAs(t, seen.Err, &nst)
	schema, ok := seen.Schema("weather")
	require.True(t, ok)
	assert.Contains(t, schema, "properties")
}

func TestResolveToolCall_RepairedEqualsDirectProperty(t *testing.T) {
	reg := resolverRegistry(t)
	ctx := context.Background()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	properties.Property("a repaired call resolves like its replacement", prop.ForAll(
		func(name, input string) bool {
			fixed := RawToolCall{ToolCallID: "c", ToolName: name, Input: input}
			repair := func(context.Context, RepairRequest) (*RawToolCall, error) {
				replacement := fixed
				return &replacement, nil
			}
			broken := RawToolCall{ToolCallID: "c", ToolName: "no such tool", Input: `{"city":"Oslo"}`}
			return assert.ObjectsAreEqual(
				ResolveToolCall(ctx, fixed, reg, nil),
				ResolveToolCall(ctx, broken, reg, repair),
			)
		},
		gen.OneGenOf(gen.Const("weather"), gen.Const("ping"), gen.AlphaString()),
		gen.OneGenOf(gen.Const(`{"city":"Oslo"}`), gen.Const(`{}`), gen.Const(`{"city":1}`), gen.Const(``), gen.Const(`{`)),
	))
	properties.TestingRun(t)
}

func TestResolveToolCall_RepairRunsOnce(t *testing.T) {
	reg := resolverRegistry(t)
	calls := 0
	repair := func(_ context.Context, req RepairRequest) (*RawToolCall, error) {
		calls++
		fixed := req.Call
		fixed.ToolName = "still_missing"
		return &fixed, nil
	}
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "missing"}, reg, repair)
	assert.Equal(t, 1, calls)
	assert.True(t, call.Invalid)
	assert.Equal(t, "still_missing", call.ToolName)
}

func TestResolveToolCall_RepairFailure(t *testing.T) {
	reg := resolverRegistry(t)
	repairErr := errors.New("repair model offline")
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "missing"}, reg,
		func(context.Context, RepairRequest) (*RawToolCall, error) { return nil, repairErr })
	assert.True(t, call.Invalid)
	var rep *ToolCallRepairError
	require.ErrorAs(t, call.Err, &rep)
	assert.ErrorIs(t, call.Err, repairErr)
	assert.ErrorIs(t, call.Err, ErrToolNotFound)
}

func TestResolveToolCall_RepairPanics(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "missing"}, reg,
		func(context.Context, RepairRequest) (*RawToolCall, error) { panic("boom") })
	assert.True(t, call.Invalid)
	var rep *ToolCallRepairError
	require.ErrorAs(t, call.Err, &rep)
	assert.Contains(t, rep.Err.Error(), "boom")
}

func TestResolveToolCall_RepairDeclines(t *testing.T) {
	reg := resolverRegistry(t)
	call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c1", ToolName: "missing"}, reg,
		func(context.Context, RepairRequest) (*RawToolCall, error) { return nil, nil })
	assert.True(t, call.Invalid)
	var nst *NoSuchToolError
	require.ErrorAs(t, call.Err, &nst)
}

func TestResolveToolCall_BlankInputProperty(t *testing.T) {
	reg := NewRegistry()
	noArgs, err := NewDynamicTool("now", "Current time", map[string]any{"type": "object"},
		func(_ context.Context, _ []byte, yield func([]byte) error) error { return yield([]byte(`"noon"`)) })
	require.NoError(t, err)
	reg.Register(noArgs)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	whitespace := []string{" ", "\t", "\n", "\r"}
	blank := gen.SliceOf(gen.IntRange(0, len(whitespace)-1)).Map(func(idx []int) string {
		var b strings.Builder
		for _, i := range idx {
			b.WriteString(whitespace[i])
		}
		return b.String()
	})
	properties.Property("blank input resolves to an empty object", prop.ForAll(
		func(input string) bool {
			call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c", ToolName: "now", Input: input}, reg, nil)
			return !call.Invalid && string(call.Input) == "{}"
		},
		blank,
	))
	properties.TestingRun(t)
}

func TestResolveToolCall_NeverFailsProperty(t *testing.T) {
	reg := resolverRegistry(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	properties.Property("every call resolves, invalid calls are dynamic and carry a cause", prop.ForAll(
		func(name, input string) bool {
			call := ResolveToolCall(context.Background(), RawToolCall{ToolCallID: "c", ToolName: name, Input: input}, reg, nil)
			if call.ToolCallID != "c" || call.ToolName != name {
				return false
			}
			if call.Invalid {
				return call.IsDynamic() && call.Err != nil
			}
			return call.Err == nil
		},
		gen.OneGenOf(gen.Const("weather"), gen.Const("ping"), gen.AlphaString()),
		gen.OneGenOf(gen.Const(`{"city":"Oslo"}`), gen.Const(`{}`), gen.AnyString()),
	))
	properties.TestingRun(t)
}
