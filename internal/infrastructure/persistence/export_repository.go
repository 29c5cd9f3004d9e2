package persistence

import (
	"context"

	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormExportRepository implements export Repository using GORM
type GormExportRepository struct {
	db *gorm.DB
}

// NewGormExportRepository creates a new GormExportRepository
func NewGormExportRepository(db *gorm.DB) *GormExportRepository {
	return &GormExportRepository{db: db}
}

// FindByID finds an export of the tenant
func (r *GormExportRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*export.Export, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var model models.ExportModel
	if err := r.db.WithContext(ctx).Scopes(tenantScope(tenantID)).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Export")
	}
	return model.ToDomain(), nil
}

// Create inserts a new export
func (r *GormExportRepository) Create(ctx context.Context, e *export.Export) error {
	if err := shared.RequireTenant(e.TenantID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(models.ExportModelFromDomain(e)).Error
}

// Transition writes the export only while its stored status is still from
func (r *GormExportRepository) Transition(ctx context.Context, e *export.Export, from export.Status) error {
	if err := shared.RequireTenant(e.TenantID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.ExportModel{}).
		Scopes(tenantScope(e.TenantID)).
		Where("id = ? AND status = ?", e.ID, from).
		Updates(map[string]any{
			"status":         e.Status,
			"storage_handle": e.StorageHandle,
			"failure_reason": e.FailureReason,
			"product_count":  e.ProductCount,
			"started_at":     e.StartedAt,
			"completed_at":   e.CompletedAt,
			"updated_at":     e.UpdatedAt,
			"version":        e.Version,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// ListRecent returns the newest exports of the tenant first
func (r *GormExportRepository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*export.Export, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []models.ExportModel
	err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	exports := make([]*export.Export, len(rows))
	for i := range rows {
		exports[i] = rows[i].ToDomain()
	}
	return exports, nil
}

var _ export.Repository = (*GormExportRepository)(nil)
