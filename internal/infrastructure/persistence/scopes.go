package persistence

import (
	"errors"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// tenantScope applies tenant filtering to GORM queries
func tenantScope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// notFound maps gorm.ErrRecordNotFound to the domain not-found error
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound.WithMessage(what + " not found")
	}
	return err
}

// conflictOnDuplicate maps unique violations to a concurrency conflict
func conflictOnDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrConcurrencyConflict.WithCause(err)
	}
	return err
}
