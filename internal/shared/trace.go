package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	requestIDKey
)

// NoTrace is what TraceID reports for a context that never passed through
// the gateway, such as a CLI backup or a cron run.
const NoTrace = "-"

// NewTraceID returns 32 lowercase hex characters, the same width as an
// OpenTelemetry trace id.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func TraceID(ctx context.Context) string {
	if id := stringValue(ctx, traceIDKey); id != "" {
		return id
	}
	return NoTrace
}

// WithRequestID carries the caller's X-Request-ID so log lines and task
// events can be correlated with the HTTP access log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
