package catalog

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// RemoteStatus is the product status reported by the commerce platform
type RemoteStatus string

const (
	RemoteStatusActive   RemoteStatus = "active"
	RemoteStatusDraft    RemoteStatus = "draft"
	RemoteStatusArchived RemoteStatus = "archived"
)

// IsValid reports whether s is a known remote status
func (s RemoteStatus) IsValid() bool {
	switch s {
	case RemoteStatusActive, RemoteStatusDraft, RemoteStatusArchived:
		return true
	}
	return false
}

// ComplianceStatus summarizes how complete a product's compliance record is
type ComplianceStatus string

const (
	ComplianceStatusPending    ComplianceStatus = "pending"
	ComplianceStatusInProgress ComplianceStatus = "in_progress"
	ComplianceStatusComplete   ComplianceStatus = "complete"
	ComplianceStatusExported   ComplianceStatus = "exported"
)

// Product is the local mirror of one remote catalog item.
// Products are never removed; deletion only sets IsDeleted.
type Product struct {
	shared.TenantAggregateRoot
	ShopifyProductID int64
	Title            string
	RemoteStatus     RemoteStatus
	ComplianceStatus ComplianceStatus
	IsDeleted        bool
	DeletedAt        *time.Time
	// DeletionInferred is set while the product is deleted only because a
	// reconciliation pass did not list it
	DeletionInferred bool
	LastSyncedAt     time.Time
	RemoteUpdatedAt  time.Time
	RemoteRevision   int64
}

// NewProductFromSnapshot creates the local mirror of a previously unseen remote product
func NewProductFromSnapshot(tenantID uuid.UUID, snap Snapshot, now time.Time) (*Product, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	return &Product{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		ShopifyProductID:    snap.RemoteProductID,
		Title:               snap.Title,
		RemoteStatus:        snap.RemoteStatus,
		ComplianceStatus:    ComplianceStatusPending,
		LastSyncedAt:        now,
		RemoteUpdatedAt:     snap.UpdatedAt.UTC(),
		RemoteRevision:      snap.Marker(),
	}, nil
}

// IsNewer reports whether marker is strictly newer than the stored one.
// Equal markers are duplicates and older ones are stale.
func (p *Product) IsNewer(marker int64) bool {
	return marker > p.RemoteRevision
}

// ApplySnapshot copies the mirrored fields from a strictly newer snapshot and
// returns the field-level diff. The caller must have checked IsNewer.
func (p *Product) ApplySnapshot(snap Snapshot, now time.Time) FieldDiff {
	diff := FieldDiff{}
	if p.RemoteStatus != snap.RemoteStatus {
		diff.Add("remote_status", p.RemoteStatus, snap.RemoteStatus)
		p.RemoteStatus = snap.RemoteStatus
	}
	if p.Title != snap.Title {
		diff.Add("title", p.Title, snap.Title)
		p.Title = snap.Title
	}
	if p.IsDeleted {
		diff.Add("is_deleted", true, false)
		p.IsDeleted = false
		p.DeletedAt = nil
		p.DeletionInferred = false
	}
	diff.Add("remote_revision", p.RemoteRevision, snap.Marker())
	diff.Add("remote_updated_at", p.RemoteUpdatedAt, snap.UpdatedAt.UTC())

	p.RemoteRevision = snap.Marker()
	p.RemoteUpdatedAt = snap.UpdatedAt.UTC()
	p.LastSyncedAt = now
	p.Touch(now)
	p.IncrementVersion()
	return diff
}

// MarkDeleted soft-deletes the product. marker is the platform marker of
// the deletion, or zero when the deletion was inferred by reconciliation.
// A platform deletion of a product already deleted by inference confirms
// it: the marker advances and the product can no longer be restored by
// a listing.
func (p *Product) MarkDeleted(marker int64, now time.Time) (FieldDiff, bool) {
	diff := FieldDiff{}
	if p.IsDeleted {
		if !p.DeletionInferred || marker <= p.RemoteRevision {
			return nil, false
		}
		diff.Add("deletion_inferred", true, false)
		diff.Add("remote_revision", p.RemoteRevision, marker)
		p.DeletionInferred = false
		p.RemoteRevision = marker
		p.Touch(now)
		p.IncrementVersion()
		return diff, true
	}
	diff.Add("is_deleted", false, true)
	p.IsDeleted = true
	p.DeletedAt = &now
	p.DeletionInferred = marker <= 0
	if marker > p.RemoteRevision {
		diff.Add("remote_revision", p.RemoteRevision, marker)
		p.RemoteRevision = marker
	}
	p.Touch(now)
	p.IncrementVersion()
	return diff, true
}

// CanRestore reports whether a listing carrying marker proves the product
// still exists: it was deleted by inference and the listing is not older
// than the last applied snapshot.
func (p *Product) CanRestore(marker int64) bool {
	return p.IsDeleted && p.DeletionInferred && marker >= p.RemoteRevision
}

// Restore undoes an inferred deletion. The caller must have checked CanRestore.
func (p *Product) Restore(now time.Time) FieldDiff {
	diff := FieldDiff{}
	diff.Add("is_deleted", true, false)
	diff.Add("deleted_at", p.DeletedAt, nil)
	p.IsDeleted = false
	p.DeletedAt = nil
	p.DeletionInferred = false
	p.LastSyncedAt = now
	p.Touch(now)
	p.IncrementVersion()
	return diff
}

// SetComplianceStatus records a recomputed compliance status.
// It returns false when the status did not change.
func (p *Product) SetComplianceStatus(status ComplianceStatus, now time.Time) bool {
	if p.ComplianceStatus == status {
		return false
	}
	p.ComplianceStatus = status
	p.Touch(now)
	p.IncrementVersion()
	return true
}

// CreatedWithin reports whether the product was created less than window before now
func (p *Product) CreatedWithin(window time.Duration, now time.Time) bool {
	return now.Sub(p.CreatedAt) < window
}

// FieldChange is the before/after value of one field
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// FieldDiff maps field names to their change
type FieldDiff map[string]FieldChange

// Add records a change of field from before to after
func (d FieldDiff) Add(field string, before, after any) {
	d[field] = FieldChange{Before: before, After: after}
}
