package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ComplianceStats feeds the per-tenant compliance gauges
type ComplianceStats struct {
	tenants  *GormTenantRepository
	products *GormProductRepository
}

// NewComplianceStats creates a new ComplianceStats
func NewComplianceStats(db *gorm.DB) *ComplianceStats {
	return &ComplianceStats{
		tenants:  NewGormTenantRepository(db),
		products: NewGormProductRepository(db),
	}
}

// ListActiveIDs returns the ids of all active tenants
func (s *ComplianceStats) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.tenants.ListActiveIDs(ctx)
}

// CountByStatus counts the tenant's live products keyed by compliance status
func (s *ComplianceStats) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[string]int64, error) {
	counts, err := s.products.CountByComplianceStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}
