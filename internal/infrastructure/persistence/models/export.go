package models

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/google/uuid"
)

// ExportModel is the persistence model for the Export aggregate.
type ExportModel struct {
	TenantAggregateModel
	Format        export.Format `gorm:"type:varchar(8);not null"`
	Status        export.Status `gorm:"type:varchar(16);not null;default:'queued'"`
	RequestedBy   *uuid.UUID    `gorm:"type:uuid"`
	StorageHandle string        `gorm:"type:text;not null;default:''"`
	FailureReason string        `gorm:"type:text;not null;default:''"`
	ProductCount  int           `gorm:"not null;default:0"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// TableName returns the table name for GORM
func (ExportModel) TableName() string {
	return "exports"
}

// ToDomain converts the persistence model to a domain Export.
func (m *ExportModel) ToDomain() *export.Export {
	return &export.Export{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		Format:              m.Format,
		Status:              m.Status,
		RequestedBy:         m.RequestedBy,
		StorageHandle:       m.StorageHandle,
		FailureReason:       m.FailureReason,
		ProductCount:        m.ProductCount,
		StartedAt:           utcPtr(m.StartedAt),
		CompletedAt:         utcPtr(m.CompletedAt),
	}
}

// FromDomain populates the persistence model from a domain Export.
func (m *ExportModel) FromDomain(e *export.Export) {
	m.FromDomainTenantAggregateRoot(e.TenantAggregateRoot)
	m.Format = e.Format
	m.Status = e.Status
	m.RequestedBy = e.RequestedBy
	m.StorageHandle = e.StorageHandle
	m.FailureReason = e.FailureReason
	m.ProductCount = e.ProductCount
	m.StartedAt = e.StartedAt
	m.CompletedAt = e.CompletedAt
}

// ExportModelFromDomain creates a new persistence model from a domain Export.
func ExportModelFromDomain(e *export.Export) *ExportModel {
	m := &ExportModel{}
	m.FromDomain(e)
	return m
}

// All returns every model in migration order, for AutoMigrate in tests
func All() []any {
	return []any{
		&TenantModel{},
		&UserModel{},
		&ProductModel{},
		&ComplianceRecordModel{},
		&AuditLogModel{},
		&ExportModel{},
	}
}
