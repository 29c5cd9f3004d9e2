// Package jobs defines the units of background work exchanged between the
// producers (webhook ingest, reconciliation trigger, export requests) and
// the worker pool.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Type names a job handler
type Type string

const (
	TypeSyncSnapshot    Type = "sync.snapshot"
	TypeSyncDelete      Type = "sync.delete"
	TypeReconcileTenant Type = "reconcile.tenant"
	TypeExportGenerate  Type = "export.generate"
)

// IsValid reports whether t has a handler
func (t Type) IsValid() bool {
	switch t {
	case TypeSyncSnapshot, TypeSyncDelete, TypeReconcileTenant, TypeExportGenerate:
		return true
	}
	return false
}

// Job is one queued unit of work. Delivery is at least once, so handlers
// must be idempotent.
type Job struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// Attempt is the 1-based delivery count, set by the queue on dequeue
	Attempt int `json:"-"`
}

// New builds a job with a random id. Use WithID for deduplicating ids.
func New(t Type, tenantID uuid.UUID, payload any) (*Job, error) {
	if !t.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("Unknown job type: " + string(t))
	}
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, shared.ErrInvalidInput.WithMessage("Job payload is not serializable").WithCause(err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		Payload:    raw,
		EnqueuedAt: shared.Now(),
	}, nil
}

// WithID replaces the job id. Queues drop a job whose id is already pending.
func (j *Job) WithID(id string) *Job {
	j.ID = id
	return j
}

// Decode unmarshals the payload. A payload that does not decode can never
// succeed, so the error is permanent.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return shared.Permanent(shared.ErrInvalidInput.WithMessage("Malformed " + string(j.Type) + " payload").WithCause(err))
	}
	return nil
}

// SnapshotPayload carries one product snapshot from a webhook
type SnapshotPayload struct {
	Snapshot  catalog.Snapshot `json:"snapshot"`
	WebhookID string           `json:"webhook_id,omitempty"`
}

// DeletePayload carries a platform product deletion
type DeletePayload struct {
	RemoteProductID int64     `json:"remote_product_id"`
	DeletedAt       time.Time `json:"deleted_at"`
	WebhookID       string    `json:"webhook_id,omitempty"`
}

// ReconcilePayload asks for one full reconciliation pass
type ReconcilePayload struct {
	TriggeredBy string `json:"triggered_by"`
	Window      int64  `json:"window,omitempty"`
}

// ExportPayload points at a queued export
type ExportPayload struct {
	ExportID uuid.UUID `json:"export_id"`
}

// Enqueuer accepts jobs for durable delivery
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

// Handler processes one job. A nil return acknowledges it, a permanent
// error dead-letters it and any other error schedules a retry.
type Handler func(ctx context.Context, job *Job) error
