package persistence

import (
	"context"
	"errors"

	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTenantRepository implements TenantRepository using GORM
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Tenant")
	}
	return model.ToDomain(), nil
}

// FindByShopDomain finds a tenant by its shop domain, case-insensitively
func (r *GormTenantRepository) FindByShopDomain(ctx context.Context, shopDomain string) (*identity.Tenant, error) {
	domain := identity.NormalizeShopDomain(shopDomain)
	if domain == "" {
		return nil, shared.ErrNotFound.WithMessage("Tenant not found")
	}
	var model models.TenantModel
	if err := r.db.WithContext(ctx).Where("shop_domain = ?", domain).First(&model).Error; err != nil {
		return nil, notFound(err, "Tenant")
	}
	return model.ToDomain(), nil
}

// FindByShopifyShopID finds a tenant by the platform's numeric shop id
func (r *GormTenantRepository) FindByShopifyShopID(ctx context.Context, shopID int64) (*identity.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).Where("shopify_shop_id = ?", shopID).First(&model).Error; err != nil {
		return nil, notFound(err, "Tenant")
	}
	return model.ToDomain(), nil
}

// ListActiveIDs returns the ids of all active tenants
func (r *GormTenantRepository) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.TenantModel{}).
		Where("status = ?", identity.TenantStatusActive).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Create inserts a new tenant
func (r *GormTenantRepository) Create(ctx context.Context, tenant *identity.Tenant) error {
	err := r.db.WithContext(ctx).Create(models.TenantModelFromDomain(tenant)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists.WithMessage("Tenant already exists").WithCause(err)
	}
	return err
}

// Update writes the tenant if its stored version is still expectedVersion
func (r *GormTenantRepository) Update(ctx context.Context, tenant *identity.Tenant, expectedVersion int) error {
	result := r.db.WithContext(ctx).
		Model(&models.TenantModel{}).
		Where("id = ? AND version = ?", tenant.ID, expectedVersion).
		Updates(map[string]any{
			"plan":           tenant.Plan,
			"status":         tenant.Status,
			"access_token":   tenant.AccessToken,
			"installed_at":   tenant.InstalledAt,
			"uninstalled_at": tenant.UninstalledAt,
			"updated_at":     tenant.UpdatedAt,
			"version":        tenant.Version,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

var _ identity.TenantRepository = (*GormTenantRepository)(nil)
