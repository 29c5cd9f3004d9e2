package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// RecordInput describes one change to be written to the audit log.
// Diff is marshaled to JSON; nil stores an empty object.
type RecordInput struct {
	TenantID   uuid.UUID
	EntityType audit.EntityType
	EntityID   uuid.UUID
	Action     audit.Action
	Actor      audit.Actor
	Source     audit.Source
	Diff       any
}

// Logger appends audit entries. It runs against whatever repository it is
// bound to, so a logger rebound to a transaction's repository writes in that
// transaction and fails it on error.
type Logger struct {
	repo  audit.Repository
	clock shared.Clock
	newID func() (uuid.UUID, error)
}

// Option configures a Logger
type Option func(*Logger)

// WithClock overrides the timestamp source
func WithClock(clock shared.Clock) Option {
	return func(l *Logger) {
		l.clock = clock
	}
}

// NewLogger creates a logger writing to repo
func NewLogger(repo audit.Repository, opts ...Option) *Logger {
	l := &Logger{
		repo:  repo,
		clock: shared.Now,
		newID: uuid.NewV7,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithRepository returns a copy of the logger bound to repo, typically the
// audit repository of the current transaction.
func (l *Logger) WithRepository(repo audit.Repository) *Logger {
	cp := *l
	cp.repo = repo
	return &cp
}

// Record validates and appends one entry
func (l *Logger) Record(ctx context.Context, in RecordInput) (*audit.Entry, error) {
	id, err := l.newID()
	if err != nil {
		return nil, fmt.Errorf("generate audit id: %w", err)
	}

	diff := json.RawMessage(`{}`)
	if in.Diff != nil {
		raw, err := json.Marshal(in.Diff)
		if err != nil {
			return nil, shared.ErrInvalidInput.WithMessage("Audit diff is not serializable").WithCause(err)
		}
		diff = raw
	}

	entry := &audit.Entry{
		ID:         id,
		TenantID:   in.TenantID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Action:     in.Action,
		Actor:      in.Actor,
		Source:     in.Source,
		Diff:       diff,
		CreatedAt:  l.clock().UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := l.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// History returns one page of the tenant's audit log in application order
func (l *Logger) History(ctx context.Context, tenantID uuid.UUID, q audit.HistoryQuery) (*audit.HistoryPage, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	after, err := audit.DecodeCursor(q.After)
	if err != nil {
		return nil, err
	}

	limit := q.EffectiveLimit()
	// One extra row tells whether another page exists.
	entries, err := l.repo.History(ctx, tenantID, q.EntityID, after, limit+1)
	if err != nil {
		return nil, err
	}

	page := &audit.HistoryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = audit.CursorAfter(page.Entries[limit-1]).Encode()
	}
	return page, nil
}
