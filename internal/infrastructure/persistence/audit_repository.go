package persistence

import (
	"context"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditRepository implements the append-only audit Repository using GORM
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Append inserts a new entry
func (r *GormAuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	if err := shared.RequireTenant(entry.TenantID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(models.AuditLogModelFromDomain(entry)).Error
}

// History returns up to limit entries of the tenant after the cursor, in
// (created_at, id) order
func (r *GormAuditRepository) History(ctx context.Context, tenantID uuid.UUID, entityID *uuid.UUID, after *audit.Cursor, limit int) ([]*audit.Entry, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	query := r.db.WithContext(ctx).Scopes(tenantScope(tenantID))
	if entityID != nil {
		query = query.Where("entity_id = ?", *entityID)
	}
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}

	var rows []models.AuditLogModel
	if err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]*audit.Entry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, nil
}

var _ audit.Repository = (*GormAuditRepository)(nil)
