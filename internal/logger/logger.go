// Package logger builds the process-wide zap logger and carries a
// request-scoped correlation id through context, following the teacher
// service's zap-based composition-root logging and the pack's
// context-scoped-logger pattern (adapted here from zerolog to zap).
package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger named after the service, using JSON encoding in
// production environments and a human-readable console encoding elsewhere.
func New(env, serviceName string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.InitialFields = map[string]interface{}{"service": serviceName}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}

type ctxKey struct{}

// WithCorrelationID returns a context carrying id as the request's
// correlation identifier for that request's log lines. The id is not
// copied into saga instance data or outgoing CloudEvent envelopes.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationIDFromContext returns the correlation id carried by ctx, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// WithFields returns a *zap.Logger enriched with the context's correlation
// id (when present), so every log statement downstream of a request
// carries it without explicit plumbing at each call site.
func WithFields(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return base.With(zap.String("correlation_id", id))
	}
	return base
}
