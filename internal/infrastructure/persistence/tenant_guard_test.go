package persistence_test

import (
	"context"
	"testing"

	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/compliancesync/backend/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantGuard(t *testing.T) {
	db := dbtest.NewSQLite(t)
	require.NoError(t, persistence.NewTenantGuard().Register(db))

	ctx := context.Background()
	tenant := dbtest.SeedTenant(t, db)
	dbtest.SeedUser(t, db, tenant.ID, identity.RoleEditor)
	products := persistence.NewGormProductRepository(db)
	p := createProduct(t, products, tenant.ID, 1001)

	t.Run("scoped repository reads pass", func(t *testing.T) {
		got, err := products.FindByID(ctx, tenant.ID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)

		counts, err := products.CountByComplianceStatus(ctx, tenant.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, counts)
	})

	t.Run("unscoped read is rejected", func(t *testing.T) {
		var out []models.ProductModel
		err := db.WithContext(ctx).Find(&out).Error
		assert.ErrorIs(t, err, persistence.ErrTenantScopeMissing)
		assert.ErrorIs(t, err, shared.ErrTenantRequired)
	})

	t.Run("read by id alone is rejected", func(t *testing.T) {
		var out models.UserModel
		err := db.WithContext(ctx).Where("email = ?", "x@example.com").First(&out).Error
		assert.ErrorIs(t, err, persistence.ErrTenantScopeMissing)
	})

	t.Run("unscoped update is rejected", func(t *testing.T) {
		err := db.WithContext(ctx).Model(&models.ProductModel{}).Where("id = ?", p.ID).Update("title", "Hijacked").Error
		assert.ErrorIs(t, err, persistence.ErrTenantScopeMissing)

		got, err := products.FindByID(ctx, tenant.ID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Title, got.Title)
	})

	t.Run("tenants table is not guarded", func(t *testing.T) {
		got, err := persistence.NewGormTenantRepository(db).FindByShopDomain(ctx, tenant.ShopDomain)
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, got.ID)
	})
}
