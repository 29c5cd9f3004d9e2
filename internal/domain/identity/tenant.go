package identity

import (
	"regexp"
	"strings"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
)

// TenantStatus represents the lifecycle status of a merchant installation
type TenantStatus string

const (
	TenantStatusActive      TenantStatus = "active"
	TenantStatusSuspended   TenantStatus = "suspended"
	TenantStatusUninstalled TenantStatus = "uninstalled"
)

// IsValid reports whether s is a known status
func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusUninstalled:
		return true
	}
	return false
}

// TenantPlan represents the subscription plan of a tenant
type TenantPlan string

const (
	TenantPlanFree       TenantPlan = "free"
	TenantPlanPro        TenantPlan = "pro"
	TenantPlanEnterprise TenantPlan = "enterprise"
)

// IsValid reports whether p is a known plan
func (p TenantPlan) IsValid() bool {
	switch p {
	case TenantPlanFree, TenantPlanPro, TenantPlanEnterprise:
		return true
	}
	return false
}

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// Tenant is one merchant installation of the app.
// Tenants are never hard-deleted; uninstall only changes Status.
type Tenant struct {
	shared.BaseAggregateRoot
	ShopDomain    string
	ShopifyShopID int64
	Plan          TenantPlan
	Status        TenantStatus
	AccessToken   string
	InstalledAt   time.Time
	UninstalledAt *time.Time
}

// NewTenant creates an active tenant on the free plan
func NewTenant(shopDomain string, shopifyShopID int64, accessToken string, now time.Time) (*Tenant, error) {
	domain := NormalizeShopDomain(shopDomain)
	if !shopDomainPattern.MatchString(domain) {
		return nil, shared.NewDomainError("INVALID_SHOP_DOMAIN", "Shop domain must be a *.myshopify.com host")
	}
	if shopifyShopID <= 0 {
		return nil, shared.NewDomainError("INVALID_SHOP_ID", "Shop ID must be positive")
	}

	return &Tenant{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(now),
		ShopDomain:        domain,
		ShopifyShopID:     shopifyShopID,
		Plan:              TenantPlanFree,
		Status:            TenantStatusActive,
		AccessToken:       accessToken,
		InstalledAt:       now,
	}, nil
}

// NormalizeShopDomain lowercases and strips scheme and path from a shop host
func NormalizeShopDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}

// IsActive returns true if the tenant accepts sync traffic
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// StatusChange describes a lifecycle transition for auditing
type StatusChange struct {
	From TenantStatus
	To   TenantStatus
}

// Suspend moves an active tenant to suspended
func (t *Tenant) Suspend(now time.Time) (*StatusChange, error) {
	switch t.Status {
	case TenantStatusSuspended:
		return nil, nil
	case TenantStatusUninstalled:
		return nil, shared.ErrInvalidState.WithMessage("Cannot suspend an uninstalled tenant")
	}
	return t.transition(TenantStatusSuspended, now), nil
}

// Reactivate moves a suspended tenant back to active
func (t *Tenant) Reactivate(now time.Time) (*StatusChange, error) {
	switch t.Status {
	case TenantStatusActive:
		return nil, nil
	case TenantStatusUninstalled:
		return nil, shared.ErrInvalidState.WithMessage("Uninstalled tenants are reactivated by reinstalling")
	}
	return t.transition(TenantStatusActive, now), nil
}

// Uninstall marks the installation removed and drops the platform token
func (t *Tenant) Uninstall(now time.Time) *StatusChange {
	if t.Status == TenantStatusUninstalled {
		return nil
	}
	change := t.transition(TenantStatusUninstalled, now)
	t.AccessToken = ""
	t.UninstalledAt = &now
	return change
}

// Reinstall restores an uninstalled tenant with a fresh platform token
func (t *Tenant) Reinstall(accessToken string, now time.Time) *StatusChange {
	var change *StatusChange
	if t.Status != TenantStatusActive {
		change = t.transition(TenantStatusActive, now)
	}
	t.AccessToken = accessToken
	t.InstalledAt = now
	t.UninstalledAt = nil
	t.Touch(now)
	return change
}

// ChangePlan sets the subscription plan
func (t *Tenant) ChangePlan(plan TenantPlan, now time.Time) error {
	if !plan.IsValid() {
		return shared.NewDomainError("INVALID_PLAN", "Unknown plan")
	}
	t.Plan = plan
	t.Touch(now)
	t.IncrementVersion()
	return nil
}

func (t *Tenant) transition(to TenantStatus, now time.Time) *StatusChange {
	change := &StatusChange{From: t.Status, To: to}
	t.Status = to
	t.Touch(now)
	t.IncrementVersion()
	return change
}
