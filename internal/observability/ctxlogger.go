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

// RequestLogger returns LoggerWithTrace's logger further enriched with
// the HTTP-layer's own correlation fields (echo's per-request id and
// the bearer-token pool the request authenticated against), so a
// submit/query/vector-search access log line carries the same
// trace_id an upstream OTel collector would use to stitch it to the
// hub's internal analysis spans.
func RequestLogger(ctx context.Context, requestID, role string) *zerolog.Logger {
    l := LoggerWithTrace(ctx).With().Str("request_id", requestID).Str("role", role).Logger()
    return &l
}

