// Package dbtest opens throwaway databases for tests: SQLite in memory for
// fast unit tests and a PostgreSQL container for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormConfig mirrors the production settings that change behavior
func gormConfig() *gorm.Config {
	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                shared.Now,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	return cfg
}

// NewSQLite returns a fresh in-memory SQLite database with the schema applied.
// Every call gets its own database; one connection keeps it alive.
func NewSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, persistence.AutoMigrate(db))
	return db
}

// NewPostgres starts a PostgreSQL container, applies the SQL migrations and
// returns a connection. Skipped in -short mode.
func NewPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("compliance_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(5)
	t.Cleanup(func() { _ = sqlDB.Close() })

	runMigrations(t, sqlDB)
	return db
}

func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	path := MigrationsPath()
	require.NotEmpty(t, path, "Could not find migrations directory")

	driver, err := mpg.WithInstance(sqlDB, &mpg.Config{})
	require.NoError(t, err)
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to run migrations")
	}
}

// MigrationsPath locates the repository's migrations directory
func MigrationsPath() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(filename)
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, "migrations")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

var seq atomic.Int64

// SeedTenant inserts an active tenant
func SeedTenant(t *testing.T, db *gorm.DB) *identity.Tenant {
	t.Helper()
	n := seq.Add(1)
	tenant, err := identity.NewTenant(fmt.Sprintf("shop-%d.myshopify.com", n), n, "token", shared.Now())
	require.NoError(t, err)
	require.NoError(t, db.Create(models.TenantModelFromDomain(tenant)).Error)
	return tenant
}

// SeedUser inserts a user with role into the tenant
func SeedUser(t *testing.T, db *gorm.DB, tenantID uuid.UUID, role identity.Role) *identity.User {
	t.Helper()
	n := seq.Add(1)
	user, err := identity.NewUser(tenantID, n, fmt.Sprintf("user%d@example.com", n), role, shared.Now())
	require.NoError(t, err)
	require.NoError(t, db.Create(models.UserModelFromDomain(user)).Error)
	return user
}
