package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	wrapped := fmt.Errorf("load product: %w", ErrNotFound.WithMessage("Product not found"))

	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrInvalidInput)
}

func TestDomainError_WithCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrTransient.WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Nil(t, ErrTransient.Unwrap())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"plain error", errors.New("boom"), KindUnknown},
		{"conflict is transient", ErrConcurrencyConflict, KindTransient},
		{"not found", fmt.Errorf("x: %w", ErrNotFound), KindNotFound},
		{"forbidden", ErrForbidden, KindAuthorization},
		{"validation", ErrInvalidInput.WithMessage("bad"), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestTransientAndPermanent(t *testing.T) {
	t.Run("wraps unknown errors", func(t *testing.T) {
		err := Transient(errors.New("timeout"))
		assert.True(t, IsTransient(err))
		assert.False(t, IsPermanent(err))

		err = Permanent(errors.New("bad json"))
		assert.True(t, IsPermanent(err))
		assert.False(t, IsTransient(err))
	})

	t.Run("keeps existing classification", func(t *testing.T) {
		assert.Same(t, ErrConcurrencyConflict, Transient(ErrConcurrencyConflict))
		assert.Same(t, ErrForbidden, Permanent(ErrForbidden))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Transient(nil))
		assert.NoError(t, Permanent(nil))
	})
}
