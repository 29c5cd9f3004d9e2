package dto

import (
	"encoding/json"
	"time"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/export"
)

// UpdateComplianceRequest is the body of PATCH /products/:id/compliance.
// Keys are attribute names; an empty string clears the attribute.
type UpdateComplianceRequest struct {
	Fields map[string]string `json:"fields" binding:"required,min=1,max=10"`
}

// ComplianceRecordResponse is a product's compliance record
type ComplianceRecordResponse struct {
	ProductID        string            `json:"product_id"`
	Title            string            `json:"title"`
	ComplianceStatus string            `json:"compliance_status"`
	Fields           map[string]string `json:"fields"`
	Changed          *bool             `json:"changed,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewComplianceRecordResponse builds the response for a product's record
func NewComplianceRecordResponse(product *catalog.Product, record *compliance.Record, status catalog.ComplianceStatus) ComplianceRecordResponse {
	fields := make(map[string]string, len(compliance.AllFields))
	for _, f := range compliance.AllFields {
		fields[string(f)] = record.Get(f)
	}
	return ComplianceRecordResponse{
		ProductID:        product.ID.String(),
		Title:            product.Title,
		ComplianceStatus: string(status),
		Fields:           fields,
		UpdatedAt:        record.UpdatedAt,
	}
}

// HistoryRequest holds the query of GET /audit
type HistoryRequest struct {
	EntityID string `form:"entity_id" binding:"omitempty,uuid"`
	After    string `form:"after"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// AuditEntryResponse is one audit log entry
type AuditEntryResponse struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	ActorType  string          `json:"actor_type"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Source     string          `json:"source"`
	Diff       json.RawMessage `json:"diff"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewAuditEntryResponses converts entries
func NewAuditEntryResponses(entries []*audit.Entry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		r := AuditEntryResponse{
			ID:         e.ID.String(),
			EntityType: string(e.EntityType),
			EntityID:   e.EntityID.String(),
			Action:     string(e.Action),
			ActorType:  string(e.Actor.Type),
			Source:     string(e.Source),
			Diff:       e.Diff,
			CreatedAt:  e.CreatedAt,
		}
		if e.Actor.ID != nil {
			id := e.Actor.ID.String()
			r.ActorID = &id
		}
		out = append(out, r)
	}
	return out
}

// CreateExportRequest is the body of POST /exports
type CreateExportRequest struct {
	Format string `json:"format" binding:"required,oneof=json pdf"`
}

// ListExportsRequest holds the query of GET /exports
type ListExportsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ExportResponse is the state of one export
type ExportResponse struct {
	ID            string     `json:"id"`
	Format        string     `json:"format"`
	Status        string     `json:"status"`
	ProductCount  int        `json:"product_count"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// NewExportResponse converts an export. The storage handle stays internal.
func NewExportResponse(e *export.Export) ExportResponse {
	return ExportResponse{
		ID:            e.ID.String(),
		Format:        string(e.Format),
		Status:        string(e.Status),
		ProductCount:  e.ProductCount,
		FailureReason: e.FailureReason,
		CreatedAt:     e.CreatedAt,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
	}
}
