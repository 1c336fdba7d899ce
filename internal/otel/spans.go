package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for taskmaster spans and metrics.
var (
	AttrTaskID               = attribute.Key("taskmaster.task.id")
	AttrTaskTitle            = attribute.Key("taskmaster.task.title")
	AttrTaskOp               = attribute.Key("taskmaster.task.op")
	AttrOutcome              = attribute.Key("taskmaster.outcome")
	AttrRoute                = attribute.Key("http.route")
	AttrToolName             = attribute.Key("taskmaster.tool.name")
	AttrModel                = attribute.Key("taskmaster.llm.model")
	AttrTranscriptionBackend = attribute.Key("taskmaster.transcription.backend")
	AttrTraceID              = attribute.Key("taskmaster.trace_id")
)

type startFunc func(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

func startAs(kind trace.SpanKind) startFunc {
	return func(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
		return tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
	}
}

var (
	// StartSpan is for work inside the process, e.g. a task service call.
	StartSpan = startAs(trace.SpanKindInternal)
	// StartServerSpan wraps one inbound HTTP request.
	StartServerSpan = startAs(trace.SpanKindServer)
	// StartClientSpan wraps a call to a model or transcription provider.
	StartClientSpan = startAs(trace.SpanKindClient)
)

// EndSpan ends span, marking it failed when err is non-nil. A canceled
// context is the caller going away, so it is noted as an event instead.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.AddEvent("canceled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
