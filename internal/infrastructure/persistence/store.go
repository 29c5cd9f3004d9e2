package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormStore implements store.Store using GORM.
// Repositories returned by the store itself run outside any transaction;
// those passed to Execute share one transaction.
type GormStore struct {
	gormRepositories
}

// NewGormStore creates a new GormStore
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormRepositories{tx: db}}
}

// Execute runs fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (s *GormStore) Execute(ctx context.Context, fn func(repos store.Repositories) error) error {
	return s.tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepositories{tx: tx})
	})
}

// ExecuteSnapshot runs fn in a read-only REPEATABLE READ transaction on
// PostgreSQL. Other dialects get a plain transaction.
func (s *GormStore) ExecuteSnapshot(ctx context.Context, fn func(repos store.Repositories) error) error {
	var opts []*sql.TxOptions
	if s.tx.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepositories{tx: tx})
	}, opts...)
}

// gormRepositories provides access to all repositories on one *gorm.DB handle.
type gormRepositories struct {
	tx *gorm.DB
}

// Tenants returns the tenant repository
func (r *gormRepositories) Tenants() identity.TenantRepository {
	return NewGormTenantRepository(r.tx)
}

// Users returns the user repository
func (r *gormRepositories) Users() identity.UserRepository {
	return NewGormUserRepository(r.tx)
}

// Products returns the product repository
func (r *gormRepositories) Products() catalog.ProductRepository {
	return NewGormProductRepository(r.tx)
}

// Records returns the compliance record repository
func (r *gormRepositories) Records() compliance.RecordRepository {
	return NewGormComplianceRecordRepository(r.tx)
}

// Audit returns the append-only audit repository
func (r *gormRepositories) Audit() audit.Repository {
	return NewGormAuditRepository(r.tx)
}

// Exports returns the export repository
func (r *gormRepositories) Exports() export.Repository {
	return NewGormExportRepository(r.tx)
}

// compositeIndexes are created by AutoMigrate. Models cannot declare them
// because tenant_id lives in an embedded struct shared by all models.
var compositeIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_products_tenant_remote ON products (tenant_id, shopify_product_id)",
	"CREATE INDEX IF NOT EXISTS idx_products_tenant_compliance ON products (tenant_id, compliance_status)",
	"CREATE INDEX IF NOT EXISTS idx_products_tenant_deleted ON products (tenant_id, is_deleted)",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_shopify_user ON users (tenant_id, shopify_user_id)",
	"CREATE INDEX IF NOT EXISTS idx_exports_tenant_created ON exports (tenant_id, created_at)",
}

// AutoMigrate creates the schema from the models. Production schemas come
// from the SQL migrations; this serves tests and local development.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range compositeIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

var (
	_ store.Store        = (*GormStore)(nil)
	_ store.Repositories = (*gormRepositories)(nil)
)
