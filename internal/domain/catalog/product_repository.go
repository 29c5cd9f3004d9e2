package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProductFilter narrows product listings
type ProductFilter struct {
	ComplianceStatus ComplianceStatus
	IncludeDeleted   bool
	OrderBy          string
	OrderDir         string
	Limit            int
	Offset           int
}

// ProductRepository defines the persistence contract for products.
// All methods take the tenant id explicitly and never return another
// tenant's rows.
type ProductRepository interface {
	// FindByID finds a product of the tenant by local id
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Product, error)

	// FindByRemoteID finds a product of the tenant by platform product id
	FindByRemoteID(ctx context.Context, tenantID uuid.UUID, shopifyProductID int64) (*Product, error)

	// Create inserts a new product. A duplicate (tenant, remote id) yields
	// ErrConcurrencyConflict so callers re-read and compare markers.
	Create(ctx context.Context, product *Product) error

	// Update writes the product iff its stored version still equals
	// expectedVersion. Zero affected rows yields ErrConcurrencyConflict.
	Update(ctx context.Context, product *Product, expectedVersion int) error

	// SetComplianceStatus updates the derived compliance status and bumps
	// the version so concurrent sync writers observe the change.
	SetComplianceStatus(ctx context.Context, tenantID, id uuid.UUID, status ComplianceStatus, now time.Time) error

	// ListLive returns all non-deleted products of the tenant
	ListLive(ctx context.Context, tenantID uuid.UUID) ([]*Product, error)

	// List returns products of the tenant matching filter
	List(ctx context.Context, tenantID uuid.UUID, filter ProductFilter) ([]*Product, int64, error)

	// CountByComplianceStatus counts non-deleted products per compliance status
	CountByComplianceStatus(ctx context.Context, tenantID uuid.UUID) (map[ComplianceStatus]int64, error)
}
