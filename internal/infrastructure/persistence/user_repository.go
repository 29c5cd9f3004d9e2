package persistence

import (
	"context"

	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormUserRepository implements UserRepository using GORM
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GormUserRepository
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// FindByID finds a user of the tenant by id
func (r *GormUserRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*identity.User, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var model models.UserModel
	if err := r.db.WithContext(ctx).Scopes(tenantScope(tenantID)).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "User")
	}
	return model.ToDomain(), nil
}

// FindByShopifyUserID finds a user of the tenant by platform user id
func (r *GormUserRepository) FindByShopifyUserID(ctx context.Context, tenantID uuid.UUID, shopifyUserID int64) (*identity.User, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var model models.UserModel
	err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Where("shopify_user_id = ?", shopifyUserID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err, "User")
	}
	return model.ToDomain(), nil
}

// ListByTenant lists all users of the tenant
func (r *GormUserRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*identity.User, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var userModels []models.UserModel
	if err := r.db.WithContext(ctx).Scopes(tenantScope(tenantID)).Order("created_at").Find(&userModels).Error; err != nil {
		return nil, err
	}
	users := make([]*identity.User, len(userModels))
	for i := range userModels {
		users[i] = userModels[i].ToDomain()
	}
	return users, nil
}

// Save creates or updates a user
func (r *GormUserRepository) Save(ctx context.Context, user *identity.User) error {
	if err := shared.RequireTenant(user.TenantID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "role", "version", "updated_at"}),
		}).
		Create(models.UserModelFromDomain(user)).Error
}

var _ identity.UserRepository = (*GormUserRepository)(nil)
