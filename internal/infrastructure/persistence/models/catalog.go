package models

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/catalog"
)

// ProductModel is the persistence model for the Product aggregate.
type ProductModel struct {
	TenantAggregateModel
	ShopifyProductID int64                    `gorm:"not null"`
	Title            string                   `gorm:"type:text;not null;default:''"`
	RemoteStatus     catalog.RemoteStatus     `gorm:"type:varchar(20);not null"`
	ComplianceStatus catalog.ComplianceStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	IsDeleted        bool                     `gorm:"not null;default:false"`
	DeletedAt        *time.Time
	DeletionInferred bool      `gorm:"not null;default:false"`
	LastSyncedAt     time.Time `gorm:"not null"`
	RemoteUpdatedAt  time.Time `gorm:"not null"`
	RemoteRevision   int64     `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product.
func (m *ProductModel) ToDomain() *catalog.Product {
	return &catalog.Product{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		ShopifyProductID:    m.ShopifyProductID,
		Title:               m.Title,
		RemoteStatus:        m.RemoteStatus,
		ComplianceStatus:    m.ComplianceStatus,
		IsDeleted:           m.IsDeleted,
		DeletedAt:           utcPtr(m.DeletedAt),
		DeletionInferred:    m.DeletionInferred,
		LastSyncedAt:        m.LastSyncedAt.UTC(),
		RemoteUpdatedAt:     m.RemoteUpdatedAt.UTC(),
		RemoteRevision:      m.RemoteRevision,
	}
}

// FromDomain populates the persistence model from a domain Product.
func (m *ProductModel) FromDomain(p *catalog.Product) {
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	m.ShopifyProductID = p.ShopifyProductID
	m.Title = p.Title
	m.RemoteStatus = p.RemoteStatus
	m.ComplianceStatus = p.ComplianceStatus
	m.IsDeleted = p.IsDeleted
	m.DeletedAt = p.DeletedAt
	m.DeletionInferred = p.DeletionInferred
	m.LastSyncedAt = p.LastSyncedAt
	m.RemoteUpdatedAt = p.RemoteUpdatedAt
	m.RemoteRevision = p.RemoteRevision
}

// ProductModelFromDomain creates a new persistence model from a domain Product.
func ProductModelFromDomain(p *catalog.Product) *ProductModel {
	m := &ProductModel{}
	m.FromDomain(p)
	return m
}
