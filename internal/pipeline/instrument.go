package pipeline

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// stageFrame tracks whether the stage currently executing called next.
type stageFrame struct {
	continued bool
}

type stageFrameKey struct{}

// instrument wraps one stage with a span, invocation counting and
// short-circuit detection.
func (r *Registry) instrument(group, name string, mw Middleware, next http.Handler) http.Handler {
	groupName := groupLabel(group)

	proceed := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if frame, ok := req.Context().Value(stageFrameKey{}).(*stageFrame); ok {
			frame.continued = true
		}
		next.ServeHTTP(w, req)
	})
	stage := mw(proceed)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, span := r.tracer.Start(req.Context(), "pipeline.stage",
			trace.WithAttributes(
				attribute.String("pipeline.group", groupName),
				attribute.String("pipeline.stage", name),
			),
		)
		defer span.End()

		frame := &stageFrame{}
		ctx = context.WithValue(ctx, stageFrameKey{}, frame)

		start := time.Now()
		stage.ServeHTTP(w, req.WithContext(ctx))

		r.metrics.stageInvocations.WithLabelValues(groupName, name).Inc()
		r.metrics.stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if !frame.continued {
			span.SetAttributes(attribute.Bool("pipeline.short_circuit", true))
			r.metrics.shortCircuits.WithLabelValues(groupName, name).Inc()
		}
	})
}
