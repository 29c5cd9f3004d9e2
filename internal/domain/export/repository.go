package export

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists exports
type Repository interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Export, error)
	Create(ctx context.Context, e *Export) error

	// Transition writes the export only if its stored status is still from.
	// Zero affected rows yields ErrConcurrencyConflict.
	Transition(ctx context.Context, e *Export, from Status) error

	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Export, error)
}
