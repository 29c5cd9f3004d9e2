package identity

import (
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewTenant(t *testing.T) {
	t.Run("creates active tenant on free plan", func(t *testing.T) {
		tenant, err := NewTenant("Demo-Store.myshopify.com", 987654321, "shpat_token", fixedNow)

		require.NoError(t, err)
		assert.Equal(t, "demo-store.myshopify.com", tenant.ShopDomain)
		assert.Equal(t, int64(987654321), tenant.ShopifyShopID)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.Equal(t, TenantPlanFree, tenant.Plan)
		assert.Equal(t, 1, tenant.Version)
		assert.Equal(t, fixedNow, tenant.InstalledAt)
	})

	t.Run("strips scheme and path", func(t *testing.T) {
		tenant, err := NewTenant("https://shop-1.myshopify.com/admin", 1, "", fixedNow)

		require.NoError(t, err)
		assert.Equal(t, "shop-1.myshopify.com", tenant.ShopDomain)
	})

	tests := []struct {
		name   string
		domain string
		shopID int64
		code   string
	}{
		{"rejects foreign host", "example.com", 1, "INVALID_SHOP_DOMAIN"},
		{"rejects empty domain", "", 1, "INVALID_SHOP_DOMAIN"},
		{"rejects zero shop id", "a.myshopify.com", 0, "INVALID_SHOP_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant, err := NewTenant(tt.domain, tt.shopID, "", fixedNow)

			assert.Nil(t, tenant)
			var de *shared.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestTenant_Lifecycle(t *testing.T) {
	t.Run("suspend and reactivate", func(t *testing.T) {
		tenant, _ := NewTenant("a.myshopify.com", 1, "tok", fixedNow)

		change, err := tenant.Suspend(fixedNow.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, change)
		assert.Equal(t, TenantStatusActive, change.From)
		assert.Equal(t, TenantStatusSuspended, change.To)
		assert.False(t, tenant.IsActive())
		assert.Equal(t, 2, tenant.Version)

		again, err := tenant.Suspend(fixedNow.Add(2 * time.Hour))
		require.NoError(t, err)
		assert.Nil(t, again)

		change, err = tenant.Reactivate(fixedNow.Add(3 * time.Hour))
		require.NoError(t, err)
		require.NotNil(t, change)
		assert.True(t, tenant.IsActive())
	})

	t.Run("uninstall clears token and is terminal for suspend", func(t *testing.T) {
		tenant, _ := NewTenant("a.myshopify.com", 1, "tok", fixedNow)
		at := fixedNow.Add(time.Hour)

		change := tenant.Uninstall(at)
		require.NotNil(t, change)
		assert.Equal(t, TenantStatusUninstalled, tenant.Status)
		assert.Empty(t, tenant.AccessToken)
		require.NotNil(t, tenant.UninstalledAt)
		assert.Equal(t, at, *tenant.UninstalledAt)

		assert.Nil(t, tenant.Uninstall(at))

		_, err := tenant.Suspend(at)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
		_, err = tenant.Reactivate(at)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("reinstall restores active status", func(t *testing.T) {
		tenant, _ := NewTenant("a.myshopify.com", 1, "tok", fixedNow)
		tenant.Uninstall(fixedNow)

		change := tenant.Reinstall("new-token", fixedNow.Add(time.Hour))

		require.NotNil(t, change)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.Equal(t, "new-token", tenant.AccessToken)
		assert.Nil(t, tenant.UninstalledAt)
	})
}

func TestTenant_ChangePlan(t *testing.T) {
	tenant, _ := NewTenant("a.myshopify.com", 1, "tok", fixedNow)

	require.NoError(t, tenant.ChangePlan(TenantPlanEnterprise, fixedNow))
	assert.Equal(t, TenantPlanEnterprise, tenant.Plan)

	err := tenant.ChangePlan("platinum", fixedNow)
	assert.Error(t, err)
	assert.Equal(t, TenantPlanEnterprise, tenant.Plan)
}
