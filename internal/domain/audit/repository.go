package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists audit entries. Entries are append-only.
type Repository interface {
	// Append inserts a new entry
	Append(ctx context.Context, entry *Entry) error

	// History returns up to limit entries of the tenant strictly after the
	// cursor, ordered by (created_at, id) ascending
	History(ctx context.Context, tenantID uuid.UUID, entityID *uuid.UUID, after *Cursor, limit int) ([]*Entry, error)
}
