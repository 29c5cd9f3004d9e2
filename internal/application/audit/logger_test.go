package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository is a mock implementation of audit.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Append(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRepository) History(ctx context.Context, tenantID uuid.UUID, entityID *uuid.UUID, after *audit.Cursor, limit int) ([]*audit.Entry, error) {
	args := m.Called(ctx, tenantID, entityID, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Entry), args.Error(1)
}

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func validInput() RecordInput {
	return RecordInput{
		TenantID:   uuid.New(),
		EntityType: audit.EntityProduct,
		EntityID:   uuid.New(),
		Action:     audit.ActionCreate,
		Actor:      audit.SystemActor(),
		Source:     audit.SourceWebhook,
		Diff:       map[string]any{"after": map[string]any{"title": "Tee"}},
	}
}

func TestLogger_Record(t *testing.T) {
	t.Run("appends a validated entry", func(t *testing.T) {
		repo := new(MockRepository)
		logger := NewLogger(repo, WithClock(func() time.Time { return fixedNow }))
		in := validInput()

		repo.On("Append", mock.Anything, mock.MatchedBy(func(e *audit.Entry) bool {
			return e.TenantID == in.TenantID && e.EntityID == in.EntityID && e.CreatedAt.Equal(fixedNow)
		})).Return(nil)

		entry, err := logger.Record(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), entry.ID.Version())
		assert.JSONEq(t, `{"after":{"title":"Tee"}}`, string(entry.Diff))
		repo.AssertExpectations(t)
	})

	t.Run("nil diff stores an empty object", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Append", mock.Anything, mock.Anything).Return(nil)
		in := validInput()
		in.Diff = nil

		entry, err := NewLogger(repo).Record(context.Background(), in)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(entry.Diff))
	})

	t.Run("invalid entry is rejected before append", func(t *testing.T) {
		repo := new(MockRepository)
		in := validInput()
		in.Action = "rename"

		_, err := NewLogger(repo).Record(context.Background(), in)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("user source requires a user actor", func(t *testing.T) {
		repo := new(MockRepository)
		in := validInput()
		in.Actor = audit.Actor{Type: audit.ActorUser}

		_, err := NewLogger(repo).Record(context.Background(), in)
		assert.Error(t, err)
		repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("append failure is returned", func(t *testing.T) {
		repo := new(MockRepository)
		boom := errors.New("insert failed")
		repo.On("Append", mock.Anything, mock.Anything).Return(boom)

		_, err := NewLogger(repo).Record(context.Background(), validInput())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("rebinding writes to the new repository", func(t *testing.T) {
		outer := new(MockRepository)
		inner := new(MockRepository)
		inner.On("Append", mock.Anything, mock.Anything).Return(nil)

		_, err := NewLogger(outer).WithRepository(inner).Record(context.Background(), validInput())
		require.NoError(t, err)
		inner.AssertExpectations(t)
		outer.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})
}

func TestLogger_History(t *testing.T) {
	tenantID := uuid.New()
	entries := make([]*audit.Entry, 3)
	for i := range entries {
		id, _ := uuid.NewV7()
		entries[i] = &audit.Entry{ID: id, TenantID: tenantID, CreatedAt: fixedNow.Add(time.Duration(i) * time.Second)}
	}

	t.Run("sets cursor when more entries exist", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("History", mock.Anything, tenantID, (*uuid.UUID)(nil), (*audit.Cursor)(nil), 3).Return(entries, nil)

		page, err := NewLogger(repo).History(context.Background(), tenantID, audit.HistoryQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Entries, 2)
		require.NotEmpty(t, page.NextCursor)

		cursor, err := audit.DecodeCursor(page.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, entries[1].ID, cursor.ID)
		assert.True(t, cursor.CreatedAt.Equal(entries[1].CreatedAt))
	})

	t.Run("last page has no cursor", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("History", mock.Anything, tenantID, (*uuid.UUID)(nil), (*audit.Cursor)(nil), 101).Return(entries, nil)

		page, err := NewLogger(repo).History(context.Background(), tenantID, audit.HistoryQuery{})
		require.NoError(t, err)
		assert.Len(t, page.Entries, 3)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("passes decoded cursor through", func(t *testing.T) {
		repo := new(MockRepository)
		cursor := audit.CursorAfter(entries[0])
		repo.On("History", mock.Anything, tenantID, (*uuid.UUID)(nil), mock.MatchedBy(func(c *audit.Cursor) bool {
			return c != nil && c.ID == cursor.ID && c.CreatedAt.Equal(cursor.CreatedAt)
		}), 11).Return(entries[1:], nil)

		page, err := NewLogger(repo).History(context.Background(), tenantID, audit.HistoryQuery{After: cursor.Encode(), Limit: 10})
		require.NoError(t, err)
		assert.Len(t, page.Entries, 2)
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		_, err := NewLogger(new(MockRepository)).History(context.Background(), tenantID, audit.HistoryQuery{After: "%%%"})
		assert.ErrorIs(t, err, audit.ErrInvalidCursor)
	})

	t.Run("rejects nil tenant", func(t *testing.T) {
		_, err := NewLogger(new(MockRepository)).History(context.Background(), uuid.Nil, audit.HistoryQuery{})
		assert.ErrorIs(t, err, shared.ErrTenantRequired)
	})
}
