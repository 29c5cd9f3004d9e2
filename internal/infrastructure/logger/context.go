package logger

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	fieldsKey contextKey = "log_fields"
)

// fields are the correlation identifiers carried in context
type fields struct {
	requestID string
	tenantID  string
	userID    string
	jobID     string
	jobType   string
}

func fieldsFrom(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey).(fields)
	return f
}

func withFields(ctx context.Context, mutate func(*fields)) context.Context {
	f := fieldsFrom(ctx)
	mutate(&f)
	return context.WithValue(ctx, fieldsKey, f)
}

// WithContext attaches logger to ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the attached logger, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID records the HTTP request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withFields(ctx, func(f *fields) { f.requestID = requestID })
}

// WithTenantID records the tenant the work belongs to
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return withFields(ctx, func(f *fields) { f.tenantID = tenantID.String() })
}

// WithUserID records the acting user
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return withFields(ctx, func(f *fields) { f.userID = userID.String() })
}

// WithJob records the queue job being processed
func WithJob(ctx context.Context, jobID, jobType string) context.Context {
	return withFields(ctx, func(f *fields) {
		f.jobID = jobID
		f.jobType = jobType
	})
}

// GetRequestID returns the request id in ctx, or ""
func GetRequestID(ctx context.Context) string {
	return fieldsFrom(ctx).requestID
}

// GetTenantID returns the tenant id in ctx, or ""
func GetTenantID(ctx context.Context) string {
	return fieldsFrom(ctx).tenantID
}

// Fields returns the correlation fields in ctx, including trace and span ids.
func Fields(ctx context.Context) []zap.Field {
	f := fieldsFrom(ctx)
	out := make([]zap.Field, 0, 7)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, kv := range [...]struct{ key, value string }{
		{"request_id", f.requestID},
		{"tenant_id", f.tenantID},
		{"user_id", f.userID},
		{"job_id", f.jobID},
		{"job_type", f.jobType},
	} {
		if kv.value != "" {
			out = append(out, zap.String(kv.key, kv.value))
		}
	}
	return out
}

// L returns the context logger enriched with every correlation field.
//
//	logger.L(ctx).Info("snapshot applied", zap.String("outcome", "updated"))
func L(ctx context.Context) *zap.Logger {
	return Enrich(ctx, FromContext(ctx))
}

// Enrich adds the correlation fields in ctx to base
func Enrich(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if f := Fields(ctx); len(f) > 0 {
		return base.With(f...)
	}
	return base
}
