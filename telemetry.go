package toolstream

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/skosovsky/toolstream"

// telemetry records spans and metrics of sessions, steps and tool calls.
type telemetry struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	steps    metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}
	// Instrument creation only fails on invalid names; a nil instrument is skipped when recording.
	t.calls, _ = meter.Int64Counter("toolstream.tool.calls",
		metric.WithDescription("Number of tool executions by tool and outcome."))
	t.duration, _ = meter.Float64Histogram("toolstream.tool.duration",
		metric.WithDescription("Tool execution duration."), metric.WithUnit("s"))
	t.steps, _ = meter.Int64Counter("toolstream.steps",
		metric.WithDescription("Number of model rounds by finish reason."))
	return t
}

func (t *telemetry) startSession(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "toolstream.session")
}

func (t *telemetry) startStep(ctx context.Context, step int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "toolstream.step", trace.WithAttributes(attribute.Int("toolstream.step", step)))
}

func (t *telemetry) endStep(ctx context.Context, span trace.Span, res StepResult) {
	span.SetAttributes(
		attribute.String("toolstream.finish_reason", string(res.FinishReason)),
		attribute.Int("toolstream.usage.input_tokens", res.Usage.InputTokens),
		attribute.Int("toolstream.usage.output_tokens", res.Usage.OutputTokens),
	)
	span.End()
	if t.steps != nil {
		t.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("finish_reason", string(res.FinishReason))))
	}
}

func (t *telemetry) startTool(ctx context.Context, call TypedToolCall) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "toolstream.tool "+call.ToolName, trace.WithAttributes(
		attribute.String("toolstream.tool.name", call.ToolName),
		attribute.String("toolstream.tool.call_id", call.ToolCallID),
		attribute.String("toolstream.tool.arguments", string(call.Input)),
	))
}

func (t *telemetry) endTool(ctx context.Context, span trace.Span, call TypedToolCall, out *ToolOutput, started time.Time) {
	outcome := "cancelled"
	switch {
	case out == nil:
		span.SetStatus(codes.Error, "cancelled")
	case out.Kind == OutputError:
		outcome = "error"
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	default:
		outcome = "ok"
		span.SetAttributes(attribute.String("toolstream.tool.result", string(out.Output)))
	}
	span.End()
	attrs := metric.WithAttributes(
		attribute.String("tool", call.ToolName),
		attribute.String("outcome", outcome),
	)
	if t.calls != nil {
		t.calls.Add(ctx, 1, attrs)
	}
	if t.duration != nil {
		t.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
