package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := zap.NewExample()
	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestCorrelationFields(t *testing.T) {
	tenantID, userID := uuid.New(), uuid.New()
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenantID(ctx, tenantID)
	ctx = WithUserID(ctx, userID)
	ctx = WithJob(ctx, "job-9", "export.generate")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, tenantID.String(), GetTenantID(ctx))

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range Fields(ctx) {
		f.AddTo(enc)
	}
	assert.Equal(t, map[string]any{
		"request_id": "req-1",
		"tenant_id":  tenantID.String(),
		"user_id":    userID.String(),
		"job_id":     "job-9",
		"job_type":   "export.generate",
	}, enc.Fields)
}

func TestFields_DoNotLeakAcrossBranches(t *testing.T) {
	parent := WithRequestID(context.Background(), "req-1")
	child := WithTenantID(parent, uuid.New())

	assert.Empty(t, GetTenantID(parent))
	assert.Equal(t, "req-1", GetRequestID(child))
}

func TestL(t *testing.T) {
	t.Run("without logger is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() { L(context.Background()).Info("dropped") })
	})

	t.Run("adds trace and tenant fields", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		tp := sdktrace.NewTracerProvider()
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()
		tenantID := uuid.New()
		ctx = WithTenantID(WithContext(ctx, zap.New(core)), tenantID)

		L(ctx).Info("applied")

		require.Equal(t, 1, logs.Len())
		fields := logs.All()[0].ContextMap()
		assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
		assert.Equal(t, tenantID.String(), fields["tenant_id"])
	})

	t.Run("Enrich tolerates nil base", func(t *testing.T) {
		assert.NotNil(t, Enrich(WithRequestID(context.Background(), "x"), nil))
	})
}
