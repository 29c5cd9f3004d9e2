package identity

import (
	"strings"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Role gates which mutations a user may perform inside a tenant
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanEditCompliance returns true for roles allowed to change compliance data
func (r Role) CanEditCompliance() bool {
	return r == RoleAdmin || r == RoleEditor
}

// CanRequestExport returns true for roles allowed to generate exports
func (r Role) CanRequestExport() bool {
	return r == RoleAdmin || r == RoleEditor
}

// CanTriggerReconcile returns true for roles allowed to start a manual reconciliation
func (r Role) CanTriggerReconcile() bool {
	return r == RoleAdmin
}

// User is a staff member of a merchant with access to one tenant
type User struct {
	shared.TenantAggregateRoot
	ShopifyUserID int64
	Email         string
	Role          Role
}

// NewUser creates a user in the given tenant
func NewUser(tenantID uuid.UUID, shopifyUserID int64, email string, role Role, now time.Time) (*User, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	if shopifyUserID <= 0 {
		return nil, shared.NewDomainError("INVALID_USER_ID", "Platform user ID must be positive")
	}
	if !role.IsValid() {
		return nil, shared.NewDomainError("INVALID_ROLE", "Role must be admin, editor or viewer")
	}

	return &User{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		ShopifyUserID:       shopifyUserID,
		Email:               strings.ToLower(strings.TrimSpace(email)),
		Role:                role,
	}, nil
}

// ChangeRole sets a new role
func (u *User) ChangeRole(role Role, now time.Time) error {
	if !role.IsValid() {
		return shared.NewDomainError("INVALID_ROLE", "Role must be admin, editor or viewer")
	}
	u.Role = role
	u.Touch(now)
	u.IncrementVersion()
	return nil
}
