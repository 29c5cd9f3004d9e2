package catalog

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
)

// Source identifies which update path delivered a snapshot
type Source string

const (
	SourceWebhook        Source = "webhook"
	SourceReconciliation Source = "reconciliation"
)

// IsValid reports whether s is a known source
func (s Source) IsValid() bool {
	return s == SourceWebhook || s == SourceReconciliation
}

// Outcome is the result of applying a snapshot
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeNoop    Outcome = "noop"
	OutcomeUpdated Outcome = "updated"
	OutcomeDeleted Outcome = "deleted"
)

// Snapshot is the platform's reported state of one product at a point in time
type Snapshot struct {
	RemoteProductID int64        `json:"remote_product_id"`
	RemoteStatus    RemoteStatus `json:"remote_status"`
	Title           string       `json:"title,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
	// Revision is an explicit monotonic counter when the platform provides one
	Revision int64 `json:"revision,omitempty"`
}

// Marker returns the monotonic last-modified marker used for ordering.
// An explicit revision wins; otherwise the timestamp in microseconds.
func (s Snapshot) Marker() int64 {
	if s.Revision > 0 {
		return s.Revision
	}
	if s.UpdatedAt.IsZero() {
		return 0
	}
	return s.UpdatedAt.UnixMicro()
}

// Validate checks the snapshot carries an identity and a marker
func (s Snapshot) Validate() error {
	if s.RemoteProductID <= 0 {
		return shared.ErrInvalidInput.WithMessage("Snapshot remote product id must be positive")
	}
	if !s.RemoteStatus.IsValid() {
		return shared.ErrInvalidInput.WithMessage("Snapshot remote status must be active, draft or archived")
	}
	if s.Marker() <= 0 {
		return shared.ErrInvalidInput.WithMessage("Snapshot must carry a last-modified marker")
	}
	return nil
}

// MarkerFromTime converts a platform timestamp to a marker
func MarkerFromTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// Page is one page of the remote catalog. An empty NextCursor marks the last page.
type Page struct {
	Snapshots  []Snapshot
	NextCursor string
}
