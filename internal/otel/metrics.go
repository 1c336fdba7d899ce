package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every taskmaster instrument. A nil *Metrics records nothing.
type Metrics struct {
	RequestDuration       metric.Float64Histogram
	TaskOperations        metric.Int64Counter
	TaskOperationDuration metric.Float64Histogram
	LLMCallDuration       metric.Float64Histogram
	GeneratedTasks        metric.Int64Counter
	ToolCallDuration      metric.Float64Histogram
	ToolCallErrors        metric.Int64Counter
	TranscriptionDuration metric.Float64Histogram
	TranscriptionErrors   metric.Int64Counter
	RateLimitRejects      metric.Int64Counter
	Backups               metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("taskmaster.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskOperations, err = meter.Int64Counter("taskmaster.task.operations",
		metric.WithDescription("Task service operations by op and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskOperationDuration, err = meter.Float64Histogram("taskmaster.task.duration",
		metric.WithDescription("Task service operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("taskmaster.llm.duration",
		metric.WithDescription("Task generation model call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GeneratedTasks, err = meter.Int64Counter("taskmaster.llm.generated_tasks",
		metric.WithDescription("Tasks returned by the generation agent"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("taskmaster.tool.duration",
		metric.WithDescription("Agent tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("taskmaster.tool.errors",
		metric.WithDescription("Agent tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.TranscriptionDuration, err = meter.Float64Histogram("taskmaster.transcription.duration",
		metric.WithDescription("Transcription duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TranscriptionErrors, err = meter.Int64Counter("taskmaster.transcription.errors",
		metric.WithDescription("Failed transcriptions"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("taskmaster.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.Backups, err = meter.Int64Counter("taskmaster.backups",
		metric.WithDescription("Database backups by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTaskOp counts one task service call and its latency.
func (m *Metrics) RecordTaskOp(ctx context.Context, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrTaskOp.String(op), AttrOutcome.String(outcome))
	m.TaskOperations.Add(ctx, 1, attrs)
	m.TaskOperationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRequest records one gateway request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		AttrRoute.String(route),
		attribute.Int("http.response.status_code", status),
	))
}

// RecordToolCall records one agent tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrToolName.String(tool))
	m.ToolCallDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.ToolCallErrors.Add(ctx, 1, attrs)
	}
}

// RecordGeneration records one model round trip and how many tasks it produced.
func (m *Metrics) RecordGeneration(ctx context.Context, model string, elapsed time.Duration, tasks int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrModel.String(model))
	m.LLMCallDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.GeneratedTasks.Add(ctx, int64(tasks), attrs)
}

// RecordTranscription records one transcription attempt.
func (m *Metrics) RecordTranscription(ctx context.Context, backend string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrTranscriptionBackend.String(backend))
	m.TranscriptionDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.TranscriptionErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordRateLimitReject(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitRejects.Add(ctx, 1)
}

func (m *Metrics) RecordBackup(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Backups.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}
