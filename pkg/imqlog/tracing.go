package imqlog

import "context"

// SpanContext is a minimal tracing context used to enrich log lines with
// trace/span identifiers supplied by the caller. It carries no clock or
// random-ID generation of its own — the caller decides how IDs are minted.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

type spanContextKey struct{}

// ContextWithSpanContext returns a context carrying sc.
func ContextWithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, spanContextKey{}, sc)
}

// SpanContextFromContext extracts a SpanContext from ctx if present.
func SpanContextFromContext(ctx context.Context) (SpanContext, bool) {
	if ctx == nil {
		return SpanContext{}, false
	}
	sc, ok := ctx.Value(spanContextKey{}).(SpanContext)
	if !ok {
		return SpanContext{}, false
	}
	if sc.TraceID == "" && sc.SpanID == "" && sc.ParentSpanID == "" {
		return SpanContext{}, false
	}
	return sc, true
}

// WithSpan returns a Logger with trace/span fields attached from ctx, or l
// unchanged if ctx carries no SpanContext.
func (l *Logger) WithSpan(ctx context.Context) *Logger {
	sc, ok := SpanContextFromContext(ctx)
	if !ok {
		return l
	}
	fields := map[string]any{"trace_id": sc.TraceID, "span_id": sc.SpanID}
	if sc.ParentSpanID != "" {
		fields["parent_span_id"] = sc.ParentSpanID
	}
	return l.With(fields)
}
