package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// FromContext returns a zerolog.Logger enriched with trace_id/span_id from
// the context's active span, if any, plus the given operation (as "op").
func FromContext(ctx context.Context, op string) *zerolog.Logger {
	l := log.Logger
	if op != "" {
		l = l.With().Str("op", op).Logger()
	}
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}
