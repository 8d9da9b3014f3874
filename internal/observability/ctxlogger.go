package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/span_id from the context, if available.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
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

// SessionLogger returns LoggerWithTrace(ctx) further scoped to sessionID, so
// every log line emitted for a session's episode/recall/reflection
// lifecycle carries the same session_id field a reader would use to filter
// one conversation's logs out of a multi-tenant process.
func SessionLogger(ctx context.Context, sessionID string) *zerolog.Logger {
	l := LoggerWithTrace(ctx).With().Str("session_id", sessionID).Logger()
	return &l
}
