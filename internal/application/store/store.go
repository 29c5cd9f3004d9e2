package store

import (
	"context"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/compliancesync/backend/internal/domain/identity"
)

// Repositories provides access to every tenant store repository.
// Repositories obtained inside Execute share the same database transaction.
type Repositories interface {
	Tenants() identity.TenantRepository
	Users() identity.UserRepository
	Products() catalog.ProductRepository
	Records() compliance.RecordRepository
	Audit() audit.Repository
	Exports() export.Repository
}

// TransactionScope runs units of work atomically.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos Repositories) error) error

	// ExecuteSnapshot runs fn in a read-only transaction that sees one
	// consistent snapshot of the database.
	ExecuteSnapshot(ctx context.Context, fn func(repos Repositories) error) error
}

// Store is the tenant store: repositories for single statements plus a
// transaction scope for multi-statement work.
type Store interface {
	Repositories
	TransactionScope
}

// NoOpStore runs transactional work directly against the given repositories.
// Useful in tests where repositories are mocks.
type NoOpStore struct {
	Repositories
}

// NewNoOpStore wraps repos as a Store without transactions
func NewNoOpStore(repos Repositories) *NoOpStore {
	return &NoOpStore{Repositories: repos}
}

// Execute runs fn without a real transaction.
func (s *NoOpStore) Execute(_ context.Context, fn func(repos Repositories) error) error {
	return fn(s.Repositories)
}

// ExecuteSnapshot runs fn without a real transaction.
func (s *NoOpStore) ExecuteSnapshot(_ context.Context, fn func(repos Repositories) error) error {
	return fn(s.Repositories)
}

var _ Store = (*NoOpStore)(nil)
