package models

import (
	"encoding/json"
	"time"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/google/uuid"
)

// AuditLogModel is the persistence model for an audit entry.
// Rows are inserted once and never updated.
type AuditLogModel struct {
	ID         uuid.UUID        `gorm:"type:uuid;primary_key"`
	TenantID   uuid.UUID        `gorm:"type:uuid;not null;index:idx_audit_logs_tenant_created,priority:1"`
	EntityType audit.EntityType `gorm:"type:varchar(32);not null"`
	EntityID   uuid.UUID        `gorm:"type:uuid;not null;index:idx_audit_logs_entity_created,priority:1"`
	Action     audit.Action     `gorm:"type:varchar(16);not null"`
	ActorType  audit.ActorType  `gorm:"type:varchar(16);not null"`
	ActorID    *uuid.UUID       `gorm:"type:uuid"`
	Source     audit.Source     `gorm:"type:varchar(16);not null"`
	Diff       []byte           `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time        `gorm:"not null;index:idx_audit_logs_tenant_created,priority:2;index:idx_audit_logs_entity_created,priority:2"`
}

// TableName returns the table name for GORM
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// ToDomain converts the persistence model to a domain Entry.
func (m *AuditLogModel) ToDomain() *audit.Entry {
	return &audit.Entry{
		ID:         m.ID,
		TenantID:   m.TenantID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Action:     m.Action,
		Actor:      audit.Actor{Type: m.ActorType, ID: m.ActorID},
		Source:     m.Source,
		Diff:       json.RawMessage(m.Diff),
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

// AuditLogModelFromDomain creates a new persistence model from a domain Entry.
func AuditLogModelFromDomain(e *audit.Entry) *AuditLogModel {
	diff := []byte(e.Diff)
	if len(diff) == 0 {
		diff = []byte(`{}`)
	}
	return &AuditLogModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		ActorType:  e.Actor.Type,
		ActorID:    e.Actor.ID,
		Source:     e.Source,
		Diff:       diff,
		CreatedAt:  e.CreatedAt,
	}
}
