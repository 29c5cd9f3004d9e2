package identity

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user persistence.
// Every lookup is scoped by tenant id.
type UserRepository interface {
	// FindByID finds a user of the tenant by id
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*User, error)

	// FindByShopifyUserID finds a user of the tenant by platform user id
	FindByShopifyUserID(ctx context.Context, tenantID uuid.UUID, shopifyUserID int64) (*User, error)

	// ListByTenant lists all users of the tenant
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*User, error)

	// Save creates or updates a user
	Save(ctx context.Context, user *User) error
}
