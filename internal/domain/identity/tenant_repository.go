package identity

import (
	"context"

	"github.com/google/uuid"
)

// TenantRepository defines the interface for tenant persistence
type TenantRepository interface {
	// FindByID finds a tenant by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// FindByShopDomain finds a tenant by its platform shop domain
	FindByShopDomain(ctx context.Context, shopDomain string) (*Tenant, error)

	// FindByShopifyShopID finds a tenant by the platform's numeric shop id
	FindByShopifyShopID(ctx context.Context, shopID int64) (*Tenant, error)

	// ListActiveIDs returns the ids of all active tenants
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)

	// Create inserts a new tenant
	Create(ctx context.Context, tenant *Tenant) error

	// Update persists a modified tenant. The write is conditional on the
	// version the tenant was loaded with; a lost race yields ErrConcurrencyConflict.
	Update(ctx context.Context, tenant *Tenant, expectedVersion int) error
}
