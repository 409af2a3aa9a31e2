// Package tracing wraps the OpenTelemetry tracer used around job
// processing and HTTP task delivery.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies the tracer in exported spans.
const TracerName = "github.com/jonesrussell/north-cloud/crawl-orchestrator/worker"

// Tracer provides the spans the worker loop and HTTP delivery path start.
type Tracer struct {
	tracer trace.Tracer
}

// New builds a Tracer against the global otel TracerProvider.
func New() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// JobSpan starts a span around one job's execution.
//
//nolint:spancheck // span is returned to the caller who manages its lifecycle
func (t *Tracer) JobSpan(ctx context.Context, jobID, mode, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "worker.run_job",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.mode", mode),
			attribute.String("job.url", url),
		),
	)
}

// TaskDeliverySpan starts a span around one HTTP-delivered task.
//
//nolint:spancheck // span is returned to the caller who manages its lifecycle
func (t *Tracer) TaskDeliverySpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "dispatcher.tasks_process",
		trace.WithAttributes(attribute.String("job.id", jobID)),
	)
}
