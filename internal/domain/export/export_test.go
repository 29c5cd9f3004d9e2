package export

import (
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func TestNewExport(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		tenantID := uuid.New()
		e, err := NewExport(tenantID, FormatPDF, nil, now)
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, e.Status)
		assert.Equal(t, "exports/"+tenantID.String()+"/"+e.ID.String()+".pdf", e.StorageKey())
		assert.Equal(t, "application/pdf", e.Format.ContentType())
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := NewExport(uuid.New(), "csv", nil, now)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("tenant required", func(t *testing.T) {
		_, err := NewExport(uuid.Nil, FormatJSON, nil, now)
		assert.ErrorIs(t, err, shared.ErrTenantRequired)
	})
}

func TestExport_Lifecycle(t *testing.T) {
	t.Run("queued to completed", func(t *testing.T) {
		e, err := NewExport(uuid.New(), FormatJSON, nil, now)
		require.NoError(t, err)

		require.NoError(t, e.Start(now))
		assert.Equal(t, StatusProcessing, e.Status)
		require.NotNil(t, e.StartedAt)

		require.NoError(t, e.Complete("mem://k", 3, now))
		assert.Equal(t, StatusCompleted, e.Status)
		assert.Equal(t, 3, e.ProductCount)
		assert.Equal(t, "mem://k", e.StorageHandle)
		assert.Equal(t, 3, e.Version)
	})

	t.Run("complete requires processing", func(t *testing.T) {
		e, _ := NewExport(uuid.New(), FormatJSON, nil, now)
		assert.ErrorIs(t, e.Complete("mem://k", 0, now), ErrInvalidTransition)
	})

	t.Run("start twice rejected", func(t *testing.T) {
		e, _ := NewExport(uuid.New(), FormatJSON, nil, now)
		require.NoError(t, e.Start(now))
		assert.ErrorIs(t, e.Start(now), ErrInvalidTransition)
	})

	t.Run("fail from processing", func(t *testing.T) {
		e, _ := NewExport(uuid.New(), FormatPDF, nil, now)
		require.NoError(t, e.Start(now))
		require.NoError(t, e.Fail("chrome crashed", now))
		assert.Equal(t, StatusFailed, e.Status)
		assert.Equal(t, "chrome crashed", e.FailureReason)
		assert.True(t, e.Status.IsTerminal())
	})

	t.Run("terminal cannot fail", func(t *testing.T) {
		e, _ := NewExport(uuid.New(), FormatPDF, nil, now)
		require.NoError(t, e.Fail("enqueue failed", now))
		assert.ErrorIs(t, e.Fail("again", now), ErrInvalidTransition)
	})
}
