package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BinderPOS/bullmq/job"
)

// tracerName is the instrumentation scope name for bullmq tracing.
const tracerName = "github.com/BinderPOS/bullmq"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. Without a globally configured TracerProvider the noop tracer is
// used and this middleware is a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer,
// for tests or setups with multiple providers.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "bullmq.job.process",
			trace.WithAttributes(
				attribute.Int64("bullmq.job.id", int64(j.ID)), //nolint:gosec // sequence IDs stay well under 2^63
				attribute.String("bullmq.job.name", j.Name),
				attribute.String("bullmq.queue", j.Queue),
				attribute.Int("bullmq.attempts_made", j.AttemptsMade),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		ret, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return ret, err
	}
}
