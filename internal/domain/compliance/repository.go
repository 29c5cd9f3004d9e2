package compliance

import (
	"context"

	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/google/uuid"
)

// ProductRecord pairs a product with its compliance record as read at one
// point in time
type ProductRecord struct {
	Product *catalog.Product
	Record  *Record
}

// RecordRepository defines the persistence contract for compliance records
type RecordRepository interface {
	// FindByProductID finds the record of a product in the tenant
	FindByProductID(ctx context.Context, tenantID, productID uuid.UUID) (*Record, error)

	// Create inserts a new record
	Create(ctx context.Context, record *Record) error

	// UpdateFields writes only the given columns of the record. Columns not
	// listed keep whatever value is stored, so concurrent edits of disjoint
	// fields do not overwrite each other.
	UpdateFields(ctx context.Context, record *Record, fields []Field) error

	// ListLiveWithProducts returns every non-deleted product of the tenant
	// joined with its record in a single statement
	ListLiveWithProducts(ctx context.Context, tenantID uuid.UUID) ([]ProductRecord, error)
}
