package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	engineKey ctxKey = iota
	eventKey
	tickKey
	requestKey
	loggerKey
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, f := range []struct {
		key  ctxKey
		name string
	}{
		{engineKey, "engine.id"},
		{eventKey, "event.id"},
		{tickKey, "tick.id"},
		{requestKey, "request.id"},
	} {
		if v, ok := ctx.Value(f.key).(string); ok {
			fields = append(fields, zap.String(f.name, v))
		}
	}
	return fields
}

func withID(ctx context.Context, key ctxKey, name, id string) context.Context {
	if !ValidID(id) {
		panic(fmt.Sprintf("logging: invalid %s %q", name, id))
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithEngineID tags ctx with the engine instance id. Panics on an invalid id.
func WithEngineID(ctx context.Context, id string) context.Context {
	return withID(ctx, engineKey, "engine id", id)
}

// WithEventID tags ctx with the game event being processed.
func WithEventID(ctx context.Context, id string) context.Context {
	return withID(ctx, eventKey, "event id", id)
}

// WithTickID tags ctx with the planner tick.
func WithTickID(ctx context.Context, id string) context.Context {
	return withID(ctx, tickKey, "tick id", id)
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestKey, "request id", id)
}

func EngineIDFromContext(ctx context.Context) string  { return idFrom(ctx, engineKey) }
func EventIDFromContext(ctx context.Context) string   { return idFrom(ctx, eventKey) }
func TickIDFromContext(ctx context.Context) string    { return idFrom(ctx, tickKey) }
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestKey) }

// Correlate returns dst carrying the correlation ids and span context found
// in src. Cancellation and deadline remain those of dst, so work queued by
// a request keeps its ids without dying with the request.
func Correlate(dst, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	for _, k := range []ctxKey{engineKey, eventKey, tickKey, requestKey} {
		if v, ok := src.Value(k).(string); ok {
			dst = context.WithValue(dst, k, v)
		}
	}
	if sc := trace.SpanContextFromContext(src); sc.IsValid() {
		dst = trace.ContextWithSpanContext(dst, sc)
	}
	return dst
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return wrap(zap.NewNop(), NewDefaultConfig())
}

// ValidID reports whether id is accepted by the With*ID functions.
func ValidID(id string) bool {
	return len(id) > 0 && len(id) <= maxIDLen && idPattern.MatchString(id)
}
