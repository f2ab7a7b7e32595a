package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. Every entry carries service=docflow.
// An unparseable level falls back to info; an unknown format is an error.
//
// Levels:
//   - error: store failures, 5xx responses
//   - warn:  rejected transitions, version conflicts, integrity warnings
//   - info:  request end, document creation, accepted transitions, startup
//   - debug: idempotency replays, ignored role claims, CAS retries
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	var encoding string
	switch cfg.LogFormat {
	case "json", "":
		encoding = "json"
	case "console":
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("observability: unsupported log format %q", cfg.LogFormat)
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]any{"service": "docflow"},
	}.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger scoped to the authenticated caller
// and the active span. Without a caller only span_id is added.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	var fields []zap.Field
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		fields = append(fields,
			zap.String("tenant_id", rctx.TenantID),
			zap.String("subject_id", rctx.SubjectID),
			zap.Strings("roles", rctx.Roles),
			zap.String("correlation_id", rctx.CorrelationID),
		)
		if rctx.TraceID != "" {
			fields = append(fields, zap.String("trace_id", rctx.TraceID))
		}
	}
	if id := SpanIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("span_id", id))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// DocumentFields are the log fields identifying doc and where it stands.
func DocumentFields(doc model.Document) []zap.Field {
	return []zap.Field{
		zap.String("document_id", doc.ID),
		zap.String("entity_type", doc.EntityType),
		zap.String("state", doc.State),
		zap.Int("version", doc.Version),
	}
}
