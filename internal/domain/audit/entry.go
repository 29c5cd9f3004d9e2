package audit

import (
	"encoding/json"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// EntityType identifies the kind of record an audit entry describes
type EntityType string

const (
	EntityComplianceRecord EntityType = "compliance_record"
	EntityProduct          EntityType = "product"
	EntityExport           EntityType = "export"
	EntityTenant           EntityType = "tenant"
)

// IsValid reports whether t is a known entity type
func (t EntityType) IsValid() bool {
	switch t {
	case EntityComplianceRecord, EntityProduct, EntityExport, EntityTenant:
		return true
	}
	return false
}

// Action is what happened to the entity
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionSync   Action = "sync"
)

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionExport, ActionSync:
		return true
	}
	return false
}

// Source is the path through which the change entered the system
type Source string

const (
	SourceWebhook        Source = "webhook"
	SourceReconciliation Source = "reconciliation"
	SourceUser           Source = "user"
	SourceSystem         Source = "system"
)

// IsValid reports whether s is a known source
func (s Source) IsValid() bool {
	switch s {
	case SourceWebhook, SourceReconciliation, SourceUser, SourceSystem:
		return true
	}
	return false
}

// ActorType distinguishes human from automated changes
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor identifies who made a change. ID is set only for users.
type Actor struct {
	Type ActorType
	ID   *uuid.UUID
}

// SystemActor is the actor of every synchronization change
func SystemActor() Actor {
	return Actor{Type: ActorSystem}
}

// UserActor returns the actor for a user-initiated change
func UserActor(userID uuid.UUID) Actor {
	id := userID
	return Actor{Type: ActorUser, ID: &id}
}

// Validate checks the actor is consistent with its type
func (a Actor) Validate() error {
	switch a.Type {
	case ActorSystem:
		if a.ID != nil {
			return shared.ErrInvalidInput.WithMessage("System actor must not carry a user id")
		}
	case ActorUser:
		if a.ID == nil || *a.ID == uuid.Nil {
			return shared.ErrInvalidInput.WithMessage("User actor requires a user id")
		}
	default:
		return shared.ErrInvalidInput.WithMessage("Unknown actor type")
	}
	return nil
}

// Entry is one immutable audit log row.
// Entries are only ever appended; nothing updates or deletes them.
type Entry struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	EntityType EntityType
	EntityID   uuid.UUID
	Action     Action
	Actor      Actor
	Source     Source
	Diff       json.RawMessage
	CreatedAt  time.Time
}

// Validate checks every field of a new entry
func (e *Entry) Validate() error {
	if err := shared.RequireTenant(e.TenantID); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		return shared.ErrInvalidInput.WithMessage("Audit entry id is required")
	}
	if !e.EntityType.IsValid() {
		return shared.ErrInvalidInput.WithMessage("Unknown audit entity type: " + string(e.EntityType))
	}
	if e.EntityID == uuid.Nil {
		return shared.ErrInvalidInput.WithMessage("Audit entity id is required")
	}
	if !e.Action.IsValid() {
		return shared.ErrInvalidInput.WithMessage("Unknown audit action: " + string(e.Action))
	}
	if !e.Source.IsValid() {
		return shared.ErrInvalidInput.WithMessage("Unknown audit source: " + string(e.Source))
	}
	if err := e.Actor.Validate(); err != nil {
		return err
	}
	if len(e.Diff) > 0 && !json.Valid(e.Diff) {
		return shared.ErrInvalidInput.WithMessage("Audit diff must be valid JSON")
	}
	if e.CreatedAt.IsZero() {
		return shared.ErrInvalidInput.WithMessage("Audit entry timestamp is required")
	}
	return nil
}
