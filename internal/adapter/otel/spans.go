package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskforge"

// StartTaskSpan starts a span covering one task execution.
func StartTaskSpan(ctx context.Context, taskID, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.name", name),
		),
	)
}

// StartLaunchSpan starts a span covering the admission decision for a launch.
func StartLaunchSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.launch",
		trace.WithAttributes(
			attribute.String("task.name", name),
		),
	)
}
