package persistence

import (
	"context"
	"time"

	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormProductRepository implements ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// FindByID finds a product of the tenant by local id
func (r *GormProductRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*catalog.Product, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var model models.ProductModel
	if err := r.db.WithContext(ctx).Scopes(tenantScope(tenantID)).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Product")
	}
	return model.ToDomain(), nil
}

// FindByRemoteID finds a product of the tenant by platform product id
func (r *GormProductRepository) FindByRemoteID(ctx context.Context, tenantID uuid.UUID, shopifyProductID int64) (*catalog.Product, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var model models.ProductModel
	err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Where("shopify_product_id = ?", shopifyProductID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err, "Product")
	}
	return model.ToDomain(), nil
}

// Create inserts a new product
func (r *GormProductRepository) Create(ctx context.Context, product *catalog.Product) error {
	if err := shared.RequireTenant(product.TenantID); err != nil {
		return err
	}
	return conflictOnDuplicate(r.db.WithContext(ctx).Create(models.ProductModelFromDomain(product)).Error)
}

// Update writes the product iff its stored version still equals
// expectedVersion. The stored marker never moves backwards.
func (r *GormProductRepository) Update(ctx context.Context, product *catalog.Product, expectedVersion int) error {
	if err := shared.RequireTenant(product.TenantID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Scopes(tenantScope(product.TenantID)).
		Where("id = ? AND version = ? AND remote_revision <= ?", product.ID, expectedVersion, product.RemoteRevision).
		Updates(map[string]any{
			"title":             product.Title,
			"remote_status":     product.RemoteStatus,
			"compliance_status": product.ComplianceStatus,
			"is_deleted":        product.IsDeleted,
			"deleted_at":        product.DeletedAt,
			"deletion_inferred": product.DeletionInferred,
			"last_synced_at":    product.LastSyncedAt,
			"remote_updated_at": product.RemoteUpdatedAt,
			"remote_revision":   product.RemoteRevision,
			"updated_at":        product.UpdatedAt,
			"version":           product.Version,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// SetComplianceStatus updates the derived compliance status and bumps the version
func (r *GormProductRepository) SetComplianceStatus(ctx context.Context, tenantID, id uuid.UUID, status catalog.ComplianceStatus, now time.Time) error {
	if err := shared.RequireTenant(tenantID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Scopes(tenantScope(tenantID)).
		Where("id = ?", id).
		Updates(map[string]any{
			"compliance_status": status,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        now.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound.WithMessage("Product not found")
	}
	return nil
}

// ListLive returns all non-deleted products of the tenant
func (r *GormProductRepository) ListLive(ctx context.Context, tenantID uuid.UUID) ([]*catalog.Product, error) {
	products, _, err := r.List(ctx, tenantID, catalog.ProductFilter{})
	return products, err
}

// List returns products of the tenant matching filter, by default ordered by remote id
func (r *GormProductRepository) List(ctx context.Context, tenantID uuid.UUID, filter catalog.ProductFilter) ([]*catalog.Product, int64, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, 0, err
	}

	var total int64
	countQuery := r.applyFilter(r.db.WithContext(ctx).Model(&models.ProductModel{}), tenantID, filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.ProductModel{}), tenantID, filter).
		Order(ValidateSortField(filter.OrderBy, ProductSortFields, "shopify_product_id") + " " + ValidateSortOrder(filterOrderDir(filter.OrderDir)))
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var productModels []models.ProductModel
	if err := query.Find(&productModels).Error; err != nil {
		return nil, 0, err
	}
	products := make([]*catalog.Product, len(productModels))
	for i := range productModels {
		products[i] = productModels[i].ToDomain()
	}
	return products, total, nil
}

// applyFilter applies tenant and filter conditions without pagination
func (r *GormProductRepository) applyFilter(query *gorm.DB, tenantID uuid.UUID, filter catalog.ProductFilter) *gorm.DB {
	query = query.Scopes(tenantScope(tenantID))
	if !filter.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if filter.ComplianceStatus != "" {
		query = query.Where("compliance_status = ?", filter.ComplianceStatus)
	}
	return query
}

// CountByComplianceStatus counts non-deleted products per compliance status
func (r *GormProductRepository) CountByComplianceStatus(ctx context.Context, tenantID uuid.UUID) (map[catalog.ComplianceStatus]int64, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var rows []struct {
		ComplianceStatus catalog.ComplianceStatus
		Count            int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Scopes(tenantScope(tenantID)).
		Where("is_deleted = ?", false).
		Select("compliance_status, COUNT(*) AS count").
		Group("compliance_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[catalog.ComplianceStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.ComplianceStatus] = row.Count
	}
	return counts, nil
}

var _ catalog.ProductRepository = (*GormProductRepository)(nil)
