package toolstream

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type convertInput struct {
	Amount float64 `json:"amount"`
	From   string  `json:"from" enum:"USD,EUR,GBP"`
	To     string  `json:"to" enum:"USD,EUR,GBP"`
}

type convertResult struct {
	Amount float64 `json:"amount"`
	Rate   float64 `json:"rate"`
}

func convert(in convertInput) convertResult {
	rate := 1.0
	if in.From != in.To {
		rate = 0.9
	}
	return convertResult{Amount: in.Amount * rate, Rate: rate}
}

// typedShapes builds the same conversion tool with each typed constructor.
func typedShapes(t *testing.T, fail error) map[string]Tool {
	t.Helper()
	immediate, err := NewTool("convert", "Convert currency", func(_ context.Context, in convertInput) (convertResult, error) {
		if fail != nil {
			return convertResult{}, fail
		}
		return convert(in), nil
	})
	require.NoError(t, err)

	deferred, err := NewDeferredTool("convert", "Convert currency", func(_ context.Context, in convertInput) <-chan Outcome[convertResult] {
		ch := make(chan Outcome[convertResult], 1)
		go func() {
			ch <- Outcome[convertResult]{Value: convert(in), Err: fail}
		}()
		return ch
	})
	require.NoError(t, err)

	streaming, err := NewStreamTool("convert", "Convert currency", func(_ context.Context, in convertInput, yield func(convertResult) error) error {
		if fail != nil {
			return fail
		}
		return yield(convert(in))
	})
	require.NoError(t, err)

	return map[string]Tool{"immediate": immediate, "deferred": deferred, "streaming": streaming}
}

func TestTypedTools_Execute(t *testing.T) {
	for shape, tool := range typedShapes(t, nil) {
		t.Run(shape, func(t *testing.T) {
			assert.Equal(t, "convert", tool.Name())
			assert.Equal(t, "Convert currency", tool.Description())
			assert.Equal(t, KindFunction, KindOf(tool))

			values, err := collect(context.Background(), tool, `{"amount":100,"from":"USD","to":"EUR"}`)
			require.NoError(t, err)
			require.Len(t, values, 1)
			assert.JSONEq(t, `{"amount":90,"rate":0.9}`, values[0])
		})
	}
}

func TestTypedTools_RejectInputBeforeHandler(t *testing.T) {
	inputs := map[string]string{
		"malformed":    `{"amount":`,
		"wrong type":   `{"amount":"lots","from":"USD","to":"EUR"}`,
		"unknown code": `{"amount":1,"from":"USD","to":"JPY"}`,
		"missing code": `{"amount":1,"from":"USD"}`,
	}
	for shape, tool := range typedShapes(t, errors.New("handler must not run")) {
		for name, input := range inputs {
			t.Run(shape+"/"+name, func(t *testing.T) {
				_, err := collect(context.Background(), tool, input)
				require.Error(t, err)
				assert.True(t, IsClientError(err), "%v", err)
			})
		}
	}
}

func TestTypedTools_HandlerErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(*testing.T, error)
	}{
		{"client error passes through", &ClientError{Reason: "rate unavailable"}, func(t *testing.T, err error) {
			var ce *ClientError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "rate unavailable", ce.Reason)
		}},
		{"other errors become system errors", errors.New("feed down"), func(t *testing.T, err error) {
			assert.True(t, IsSystemError(err))
		}},
		{"cancellation is kept", context.Canceled, func(t *testing.T, err error) {
			require.ErrorIs(t, err, context.Canceled)
			assert.False(t, IsSystemError(err))
		}},
	}
	for _, tc := range cases {
		for shape, tool := range typedShapes(t, tc.err) {
			t.Run(tc.name+"/"+shape, func(t *testing.T) {
				_, err := collect(context.Background(), tool, `{"amount":1,"from":"USD","to":"USD"}`)
				require.Error(t, err)
				tc.check(t, err)
			})
		}
	}
}

func TestTypedTools_YieldErrorAborts(t *testing.T) {
	stop := errors.New("consumer gone")
	for shape, tool := range typedShapes(t, nil) {
		t.Run(shape, func(t *testing.T) {
			err := tool.Execute(context.Background(), []byte(`{"amount":1,"from":"USD","to":"GBP"}`),
				func([]byte) error { return stop })
			require.ErrorIs(t, err, ErrStreamAborted)
			require.ErrorIs(t, err, stop)
		})
	}
}

func TestNewStreamTool_EveryValueIsYielded(t *testing.T) {
	type progress struct {
		Done int `json:"done"`
	}
	tool, err := NewStreamTool("index", "Index documents", func(_ context.Context, in struct {
		Docs int `json:"docs"`
	}, yield func(progress) error) error {
		for i := 1; i <= in.Docs; i++ {
			if err := yield(progress{Done: i}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	values, err := collect(context.Background(), tool, `{"docs":3}`)
	require.NoError(t, err)
	require.Len(t, values, 3)
	for i, v := range values {
		assert.JSONEq(t, `{"done":`+strconv.Itoa(i+1)+`}`, v)
	}

	values, err = collect(context.Background(), tool, `{"docs":0}`)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestNewDeferredTool_Settlement(t *testing.T) {
	type ticket struct {
		ID string `json:"id"`
	}
	t.Run("nil channel", func(t *testing.T) {
		tool, err := NewDeferredTool("file", "File a ticket", func(context.Context, struct{}) <-chan Outcome[ticket] {
			return nil
		})
		require.NoError(t, err)
		_, err = collect(context.Background(), tool, `{}`)
		assert.True(t, IsSystemError(err))
	})
	t.Run("closed without value", func(t *testing.T) {
		tool, err := NewDeferredTool("file", "File a ticket", func(context.Context, struct{}) <-chan Outcome[ticket] {
			ch := make(chan Outcome[ticket])
			close(ch)
			return ch
		})
		require.NoError(t, err)
		_, err = collect(context.Background(), tool, `{}`)
		assert.True(t, IsSystemError(err))
	})
	t.Run("context ends first", func(t *testing.T) {
		never := make(chan Outcome[ticket])
		tool, err := NewDeferredTool("file", "File a ticket", func(context.Context, struct{}) <-chan Outcome[ticket] {
			return never
		})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = collect(ctx, tool, `{}`)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewTool_UnnamedInputTypes(t *testing.T) {
	anonymous, err := NewTool("sum", "Add", func(_ context.Context, in struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (int, error) {
		return in.A + in.B, nil
	})
	require.NoError(t, err)
	values, err := collect(context.Background(), anonymous, `{"a":2,"b":3}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, values)

	keys, err := NewTool("keys", "Count keys", func(_ context.Context, in map[string]any) (int, error) {
		return len(in), nil
	})
	require.NoError(t, err)
	values, err = collect(context.Background(), keys, `{"x":1,"y":2}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, values)

	shout, err := NewTool("shout", "Upper-case text", func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "string", shout.Parameters()["type"])
	values, err = collect(context.Background(), shout, `"hi"`)
	require.NoError(t, err)
	assert.Equal(t, []string{`"HI"`}, values)
	_, err = collect(context.Background(), shout, `42`)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTool_ParametersMatchTypedInput(t *testing.T) {
	tool, err := NewTool("convert", "Convert currency", func(_ context.Context, in convertInput) (convertResult, error) {
		return convert(in), nil
	}, WithStrict())
	require.NoError(t, err)
	in, err := NewTypedInput[convertInput](true)
	require.NoError(t, err)
	assert.Equal(t, in.Schema(), tool.Parameters())

	params := tool.Parameters()
	params["title"] = "changed"
	assert.NotContains(t, tool.Parameters(), "title")
}

func BenchmarkTypedTool_Execute(b *testing.B) {
	tool, err := NewTool("convert", "Convert currency", func(_ context.Context, in convertInput) (convertResult, error) {
		return convert(in), nil
	})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	input := []byte(`{"amount":42,"from":"EUR","to":"USD"}`)
	discard := func([]byte) error { return nil }
	for b.Loop() {
		_ = tool.Execute(ctx, input, discard)
	}
}
