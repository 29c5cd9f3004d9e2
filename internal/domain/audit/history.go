package audit

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

var ErrInvalidCursor = shared.NewDomainError("INVALID_CURSOR", "History cursor is malformed")

// HistoryQuery selects a page of history. EntityID narrows to one entity;
// After is the cursor returned by the previous page.
type HistoryQuery struct {
	EntityID *uuid.UUID
	After    string
	Limit    int
}

// EffectiveLimit clamps the requested page size
func (q HistoryQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return q.Limit
	}
}

// HistoryPage is one page of entries in (created_at, id) order.
// NextCursor is empty on the last page.
type HistoryPage struct {
	Entries    []*Entry
	NextCursor string
}

// Cursor is the keyset position after which the next page starts
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"i"`
}

// CursorAfter returns the position of entry e
func CursorAfter(e *Entry) Cursor {
	return Cursor{CreatedAt: e.CreatedAt.UTC(), ID: e.ID}
}

// Encode renders the cursor as an opaque token
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor.WithCause(err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ErrInvalidCursor.WithCause(err)
	}
	if c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}
