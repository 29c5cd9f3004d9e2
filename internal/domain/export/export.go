package export

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Format is the artifact format of an export
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// IsValid reports whether f is a supported format
func (f Format) IsValid() bool {
	return f == FormatJSON || f == FormatPDF
}

// Extension returns the file extension of the artifact
func (f Format) Extension() string {
	return string(f)
}

// ContentType returns the MIME type of the artifact
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/json"
}

// Status is the lifecycle state of an export
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrInvalidFormat     = shared.NewDomainError("INVALID_EXPORT_FORMAT", "Export format must be json or pdf")
	ErrInvalidTransition = shared.NewDomainError("INVALID_EXPORT_TRANSITION", "Export status transition not allowed")
	ErrNotCompleted      = shared.NewDomainError("EXPORT_NOT_COMPLETED", "Export has not completed")
	ErrRenderFailed      = shared.NewDomainError("EXPORT_RENDER_FAILED", "Export rendering failed")
)

// Export is one request to produce a compliance export for a tenant
type Export struct {
	shared.TenantAggregateRoot
	Format        Format
	Status        Status
	RequestedBy   *uuid.UUID
	StorageHandle string
	FailureReason string
	ProductCount  int
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// NewExport creates a queued export
func NewExport(tenantID uuid.UUID, format Format, requestedBy *uuid.UUID, now time.Time) (*Export, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}
	return &Export{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		Format:              format,
		Status:              StatusQueued,
		RequestedBy:         requestedBy,
	}, nil
}

// StorageKey is the object key of the artifact
func (e *Export) StorageKey() string {
	return "exports/" + e.TenantID.String() + "/" + e.ID.String() + "." + e.Format.Extension()
}

// Start moves a queued export to processing
func (e *Export) Start(now time.Time) error {
	if e.Status != StatusQueued {
		return ErrInvalidTransition
	}
	e.Status = StatusProcessing
	e.StartedAt = &now
	e.Touch(now)
	e.IncrementVersion()
	return nil
}

// Complete records the stored artifact of a processing export
func (e *Export) Complete(handle string, productCount int, now time.Time) error {
	if e.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	if handle == "" {
		return shared.ErrInvalidInput.WithMessage("Storage handle is required")
	}
	e.Status = StatusCompleted
	e.StorageHandle = handle
	e.ProductCount = productCount
	e.CompletedAt = &now
	e.Touch(now)
	e.IncrementVersion()
	return nil
}

// Fail records why a non-terminal export could not be produced
func (e *Export) Fail(reason string, now time.Time) error {
	if e.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	e.Status = StatusFailed
	e.FailureReason = reason
	e.CompletedAt = &now
	e.Touch(now)
	e.IncrementVersion()
	return nil
}
