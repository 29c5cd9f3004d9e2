package catalogsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence"
	"github.com/compliancesync/backend/internal/testutil/dbtest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// tickingClock advances one millisecond per reading so audit order is strict
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db     *gorm.DB
	store  *persistence.GormStore
	clock  *tickingClock
	engine *Engine
	tenant *identity.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.NewSQLite(t)
	return newFixtureWithDB(t, db)
}

func newFixtureWithDB(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	st := persistence.NewGormStore(db)
	clock := &tickingClock{now: t0}
	auditLogger := appaudit.NewLogger(st.Audit(), appaudit.WithClock(clock.Now))
	engine := NewEngine(st, auditLogger, Config{MaxConflictRetries: 3, ConflictBackoff: time.Millisecond}, zap.NewNop(), WithEngineClock(clock.Now))
	engine.sleep = func(context.Context, time.Duration) error { return nil }

	return &fixture{
		db:     db,
		store:  st,
		clock:  clock,
		engine: engine,
		tenant: dbtest.SeedTenant(t, db),
	}
}

func snapshot(remoteID int64, title string, updatedAt time.Time) catalog.Snapshot {
	return catalog.Snapshot{
		RemoteProductID: remoteID,
		RemoteStatus:    catalog.RemoteStatusActive,
		Title:           title,
		UpdatedAt:       updatedAt,
	}
}

func (f *fixture) product(t *testing.T, remoteID int64) *catalog.Product {
	t.Helper()
	p, err := f.store.Products().FindByRemoteID(context.Background(), f.tenant.ID, remoteID)
	require.NoError(t, err)
	return p
}

func (f *fixture) history(t *testing.T, entityID uuid.UUID) []*audit.Entry {
	t.Helper()
	entries, err := f.store.Audit().History(context.Background(), f.tenant.ID, &entityID, nil, 1000)
	require.NoError(t, err)
	return entries
}

func TestEngine_ApplySnapshot_CreateDuplicateUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := t0.Add(-time.Hour)
	m2 := t0.Add(-30 * time.Minute)

	outcome, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(1001, "Linen Shirt", m1), catalog.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, catalog.OutcomeCreated, outcome)

	p := f.product(t, 1001)
	assert.Equal(t, catalog.ComplianceStatusPending, p.ComplianceStatus)
	rec, err := f.store.Records().FindByProductID(ctx, f.tenant.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.FilledCount())

	outcome, err = f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(1001, "Linen Shirt", m1), catalog.SourceReconciliation)
	require.NoError(t, err)
	assert.Equal(t, catalog.OutcomeNoop, outcome)

	outcome, err = f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(1001, "Linen Shirt v2", m2), catalog.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, catalog.OutcomeUpdated, outcome)

	p = f.product(t, 1001)
	assert.Equal(t, "Linen Shirt v2", p.Title)
	assert.Equal(t, m2.UnixMicro(), p.RemoteRevision)

	entries := f.history(t, p.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
	assert.Equal(t, audit.SourceWebhook, entries[0].Source)
	assert.Equal(t, audit.ActionSync, entries[1].Action)

	var diff map[string]catalog.FieldChange
	require.NoError(t, json.Unmarshal(entries[1].Diff, &diff))
	assert.Contains(t, diff, "title")
	assert.NotContains(t, diff, "remote_status")
}

func TestEngine_ApplySnapshot_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := snapshot(7, "Wool Scarf", t0.Add(-time.Minute))

	for i := 0; i < 5; i++ {
		_, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snap, catalog.SourceWebhook)
		require.NoError(t, err)
	}

	p := f.product(t, 7)
	assert.Equal(t, 1, p.Version)
	assert.Len(t, f.history(t, p.ID), 1)
}

func TestEngine_ApplySnapshot_OutOfOrderSafe(t *testing.T) {
	markers := []time.Time{
		t0.Add(-5 * time.Minute),
		t0.Add(-4 * time.Minute),
		t0.Add(-3 * time.Minute),
	}
	orders := map[string][]int{
		"in order":  {0, 1, 2},
		"reversed":  {2, 1, 0},
		"interleaf": {1, 2, 0},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			for _, i := range order {
				_, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(55, "title-"+markers[i].Format(time.Kitchen), markers[i]), catalog.SourceWebhook)
				require.NoError(t, err)
			}

			p := f.product(t, 55)
			assert.Equal(t, markers[2].UnixMicro(), p.RemoteRevision, "newest marker wins regardless of arrival")
			assert.Equal(t, "title-"+markers[2].Format(time.Kitchen), p.Title)
		})
	}
}

func TestEngine_ApplySnapshot_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := dbtest.SeedTenant(t, f.db)

	_, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(9, "Mine", t0), catalog.SourceWebhook)
	require.NoError(t, err)
	outcome, err := f.engine.ApplySnapshot(ctx, other.ID, snapshot(9, "Theirs", t0), catalog.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, catalog.OutcomeCreated, outcome, "same remote id in another tenant is a distinct product")

	mine := f.product(t, 9)
	theirs, err := f.store.Products().FindByRemoteID(ctx, other.ID, 9)
	require.NoError(t, err)
	assert.NotEqual(t, mine.ID, theirs.ID)
	assert.Equal(t, "Mine", mine.Title)

	_, err = f.store.Products().FindByID(ctx, other.ID, mine.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEngine_ApplySnapshot_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		tenant  uuid.UUID
		snap    catalog.Snapshot
		source  catalog.Source
		wantErr error
	}{
		{"nil tenant", uuid.Nil, snapshot(1, "x", t0), catalog.SourceWebhook, shared.ErrTenantRequired},
		{"missing marker", f.tenant.ID, snapshot(1, "x", time.Time{}), catalog.SourceWebhook, shared.ErrInvalidInput},
		{"non-positive id", f.tenant.ID, snapshot(0, "x", t0), catalog.SourceWebhook, shared.ErrInvalidInput},
		{"unknown source", f.tenant.ID, snapshot(1, "x", t0), "manual", shared.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ApplySnapshot(ctx, tt.tenant, tt.snap, tt.source)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, shared.IsPermanent(err))
		})
	}
}

// conflictingProducts loses the first n conditional writes
type conflictingProducts struct {
	catalog.ProductRepository
	mu        *sync.Mutex
	remaining *int
}

func (c conflictingProducts) Update(ctx context.Context, p *catalog.Product, expectedVersion int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *c.remaining > 0 {
		*c.remaining--
		return shared.ErrConcurrencyConflict
	}
	return c.ProductRepository.Update(ctx, p, expectedVersion)
}

type conflictRepos struct {
	store.Repositories
	products catalog.ProductRepository
}

func (r conflictRepos) Products() catalog.ProductRepository { return r.products }

type conflictStore struct {
	store.Store
	mu        sync.Mutex
	remaining int
}

func (s *conflictStore) Execute(ctx context.Context, fn func(store.Repositories) error) error {
	return s.Store.Execute(ctx, func(repos store.Repositories) error {
		return fn(conflictRepos{
			Repositories: repos,
			products:     conflictingProducts{ProductRepository: repos.Products(), mu: &s.mu, remaining: &s.remaining},
		})
	})
}

func TestEngine_ApplySnapshot_ConflictRetry(t *testing.T) {
	tests := []struct {
		name         string
		conflicts    int
		wantOutcome  catalog.Outcome
		wantAudits   int
		wantTransErr bool
	}{
		{name: "recovers after conflicts", conflicts: 2, wantOutcome: catalog.OutcomeUpdated, wantAudits: 2},
		{name: "exhausts retries", conflicts: 10, wantAudits: 1, wantTransErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(3, "v1", t0.Add(-time.Hour)), catalog.SourceWebhook)
			require.NoError(t, err)

			cs := &conflictStore{Store: f.store, remaining: tt.conflicts}
			f.engine.store = cs

			outcome, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(3, "v2", t0), catalog.SourceWebhook)
			if tt.wantTransErr {
				require.Error(t, err)
				assert.True(t, shared.IsTransient(err))
				assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
				assert.Equal(t, "v1", f.product(t, 3).Title, "lost writes leave no trace")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutcome, outcome)
				assert.Equal(t, "v2", f.product(t, 3).Title)
			}
			assert.Len(t, f.history(t, f.product(t, 3).ID), tt.wantAudits)
		})
	}
}

func TestEngine_ApplyDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := t0.Add(-time.Hour)
	_, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(11, "Tote", created), catalog.SourceWebhook)
	require.NoError(t, err)

	t.Run("stale deletion is ignored", func(t *testing.T) {
		outcome, err := f.engine.ApplyDeletion(ctx, f.tenant.ID, 11, created.Add(-time.Minute), catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeNoop, outcome)
		assert.False(t, f.product(t, 11).IsDeleted)
	})

	t.Run("newer deletion soft-deletes", func(t *testing.T) {
		outcome, err := f.engine.ApplyDeletion(ctx, f.tenant.ID, 11, t0, catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeDeleted, outcome)

		p := f.product(t, 11)
		assert.True(t, p.IsDeleted)
		entries := f.history(t, p.ID)
		assert.Equal(t, audit.ActionDelete, entries[len(entries)-1].Action)
	})

	t.Run("redelivered deletion is a noop", func(t *testing.T) {
		outcome, err := f.engine.ApplyDeletion(ctx, f.tenant.ID, 11, t0, catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeNoop, outcome)
	})

	t.Run("older update cannot resurrect", func(t *testing.T) {
		outcome, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(11, "Tote", t0.Add(-time.Minute)), catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeNoop, outcome)
		assert.True(t, f.product(t, 11).IsDeleted)
	})

	t.Run("newer update resurrects", func(t *testing.T) {
		outcome, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(11, "Tote", t0.Add(time.Minute)), catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeUpdated, outcome)
		assert.False(t, f.product(t, 11).IsDeleted)
	})

	t.Run("unknown product is a noop", func(t *testing.T) {
		outcome, err := f.engine.ApplyDeletion(ctx, f.tenant.ID, 999, t0, catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeNoop, outcome)
	})
}

func TestEngine_ConcurrentSnapshots_Postgres(t *testing.T) {
	db := dbtest.NewPostgres(t)
	f := newFixtureWithDB(t, db)
	ctx := context.Background()

	const writers = 12
	var wg sync.WaitGroup
	outcomes := make([]catalog.Outcome, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := snapshot(77, "rev", t0.Add(time.Duration(i)*time.Second))
			outcomes[i], errs[i] = f.engine.ApplySnapshot(ctx, f.tenant.ID, snap, catalog.SourceWebhook)
		}(i)
	}
	wg.Wait()

	writes := 0
	for i := range outcomes {
		if errs[i] != nil {
			require.True(t, shared.IsTransient(errs[i]), "only retry exhaustion may fail: %v", errs[i])
			continue
		}
		if outcomes[i] != catalog.OutcomeNoop {
			writes++
		}
	}

	p := f.product(t, 77)
	assert.Len(t, f.history(t, p.ID), writes, "exactly one audit entry per effective write")
	assert.LessOrEqual(t, p.RemoteRevision, t0.Add((writers-1)*time.Second).UnixMicro())
}
