package models

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/identity"
)

// TenantModel is the persistence model for the Tenant aggregate.
type TenantModel struct {
	AggregateModel
	ShopDomain    string                `gorm:"type:varchar(255);not null;uniqueIndex"`
	ShopifyShopID int64                 `gorm:"not null;uniqueIndex"`
	Plan          identity.TenantPlan   `gorm:"type:varchar(20);not null;default:'free'"`
	Status        identity.TenantStatus `gorm:"type:varchar(20);not null;default:'active';index"`
	AccessToken   string                `gorm:"type:text;not null"`
	InstalledAt   time.Time             `gorm:"not null"`
	UninstalledAt *time.Time
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a domain Tenant.
func (m *TenantModel) ToDomain() *identity.Tenant {
	return &identity.Tenant{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		ShopDomain:        m.ShopDomain,
		ShopifyShopID:     m.ShopifyShopID,
		Plan:              m.Plan,
		Status:            m.Status,
		AccessToken:       m.AccessToken,
		InstalledAt:       m.InstalledAt.UTC(),
		UninstalledAt:     utcPtr(m.UninstalledAt),
	}
}

// FromDomain populates the persistence model from a domain Tenant.
func (m *TenantModel) FromDomain(t *identity.Tenant) {
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	m.ShopDomain = t.ShopDomain
	m.ShopifyShopID = t.ShopifyShopID
	m.Plan = t.Plan
	m.Status = t.Status
	m.AccessToken = t.AccessToken
	m.InstalledAt = t.InstalledAt
	m.UninstalledAt = t.UninstalledAt
}

// TenantModelFromDomain creates a new persistence model from a domain Tenant.
func TenantModelFromDomain(t *identity.Tenant) *TenantModel {
	m := &TenantModel{}
	m.FromDomain(t)
	return m
}

// UserModel is the persistence model for the User entity.
type UserModel struct {
	TenantAggregateModel
	ShopifyUserID int64         `gorm:"not null"`
	Email         string        `gorm:"type:varchar(320)"`
	Role          identity.Role `gorm:"type:varchar(20);not null;default:'viewer'"`
}

// TableName returns the table name for GORM
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts the persistence model to a domain User.
func (m *UserModel) ToDomain() *identity.User {
	return &identity.User{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		ShopifyUserID:       m.ShopifyUserID,
		Email:               m.Email,
		Role:                m.Role,
	}
}

// FromDomain populates the persistence model from a domain User.
func (m *UserModel) FromDomain(u *identity.User) {
	m.FromDomainTenantAggregateRoot(u.TenantAggregateRoot)
	m.ShopifyUserID = u.ShopifyUserID
	m.Email = u.Email
	m.Role = u.Role
}

// UserModelFromDomain creates a new persistence model from a domain User.
func UserModelFromDomain(u *identity.User) *UserModel {
	m := &UserModel{}
	m.FromDomain(u)
	return m
}
