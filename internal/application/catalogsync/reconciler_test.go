package catalogsync

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pagedSource serves fixed pages and optionally fails one of them
type pagedSource struct {
	pages  [][]catalog.Snapshot
	failAt int
	err    error
	calls  int
}

func (s *pagedSource) ListProducts(_ context.Context, _, _ string, cursor string) (*catalog.Page, error) {
	s.calls++
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	if s.err != nil && idx == s.failAt {
		return nil, s.err
	}
	page := &catalog.Page{Snapshots: s.pages[idx]}
	if idx+1 < len(s.pages) {
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *fixture) reconciler(source CatalogSource) *Reconciler {
	return NewReconciler(f.store, f.engine, source, ReconcilerConfig{GraceWindow: DefaultGraceWindow}, zap.NewNop())
}

// seedProducts creates products 1..n, all well outside the grace window
func (f *fixture) seedProducts(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := f.engine.ApplySnapshot(context.Background(), f.tenant.ID, snapshot(int64(i), "p", t0.Add(-2*time.Hour)), catalog.SourceWebhook)
		require.NoError(t, err)
	}
	f.clock.Advance(time.Hour)
}

func TestReconciler_DeletesUnlistedAfterCompleteEnumeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProducts(t, 3)

	marker := t0.Add(-2 * time.Hour)
	source := &pagedSource{pages: [][]catalog.Snapshot{
		{snapshot(1, "p", marker)},
		{snapshot(2, "p renamed", t0), snapshot(4, "new", t0)},
	}}

	report, err := f.reconciler(source).Reconcile(ctx, f.tenant.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Enumerated)
	assert.Equal(t, 1, report.Noop)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 2, source.calls)

	gone := f.product(t, 3)
	assert.True(t, gone.IsDeleted)
	entries := f.history(t, gone.ID)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionDelete, last.Action)
	assert.Equal(t, audit.SourceReconciliation, last.Source)
	assert.Equal(t, audit.ActorSystem, last.Actor.Type)

	assert.False(t, f.product(t, 1).IsDeleted)
}

func TestReconciler_RestoresProductListedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedProducts(t, 2)
	marker := t0.Add(-2 * time.Hour)

	// One listing misses product 2
	first := &pagedSource{pages: [][]catalog.Snapshot{{snapshot(1, "p", marker)}}}
	report, err := f.reconciler(first).Reconcile(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)
	require.True(t, f.product(t, 2).IsDeleted)

	f.clock.Advance(time.Hour)
	second := &pagedSource{pages: [][]catalog.Snapshot{{snapshot(1, "p", marker), snapshot(2, "p", marker)}}}
	report, err = f.reconciler(second).Reconcile(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Noop)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Deleted)

	restored := f.product(t, 2)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, marker.UnixMicro(), restored.RemoteRevision)
	entries := f.history(t, restored.ID)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionSync, last.Action)
	assert.Equal(t, audit.SourceReconciliation, last.Source)

	t.Run("redelivered webhook does not restore", func(t *testing.T) {
		third := &pagedSource{pages: [][]catalog.Snapshot{{snapshot(1, "p", marker)}}}
		_, err := f.reconciler(third).Reconcile(ctx, f.tenant.ID)
		require.NoError(t, err)
		require.True(t, f.product(t, 2).IsDeleted)

		outcome, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(2, "p", marker), catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeNoop, outcome)
		assert.True(t, f.product(t, 2).IsDeleted)
	})

	t.Run("confirmed deletion is not restored", func(t *testing.T) {
		outcome, err := f.engine.ApplyDeletion(ctx, f.tenant.ID, 2, t0, catalog.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, catalog.OutcomeDeleted, outcome)

		stale := &pagedSource{pages: [][]catalog.Snapshot{{snapshot(1, "p", marker), snapshot(2, "p", marker)}}}
		_, err = f.reconciler(stale).Reconcile(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.True(t, f.product(t, 2).IsDeleted)
	})
}

func TestReconciler_PartialEnumerationDeletesNothing(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"platform outage", shared.ErrPlatformUnavailable, true},
		{"unclassified failure", errors.New("connection reset"), true},
		{"revoked token", shared.ErrUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedProducts(t, 3)

			source := &pagedSource{
				pages:  [][]catalog.Snapshot{{snapshot(1, "renamed", t0)}, {}},
				failAt: 1,
				err:    tt.err,
			}
			report, err := f.reconciler(source).Reconcile(context.Background(), f.tenant.ID)
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, shared.IsTransient(err))
			assert.Zero(t, report.Deleted)

			for i := int64(1); i <= 3; i++ {
				assert.False(t, f.product(t, i).IsDeleted)
			}
			assert.Equal(t, "p", f.product(t, 1).Title, "no snapshot of an aborted pass is applied")
		})
	}
}

func TestReconciler_GraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// created just now, not listed remotely yet
	_, err := f.engine.ApplySnapshot(ctx, f.tenant.ID, snapshot(21, "fresh", t0), catalog.SourceWebhook)
	require.NoError(t, err)

	report, err := f.reconciler(&pagedSource{pages: [][]catalog.Snapshot{{}}}).Reconcile(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedGrace)
	assert.False(t, f.product(t, 21).IsDeleted)

	f.clock.Advance(DefaultGraceWindow)
	report, err = f.reconciler(&pagedSource{pages: [][]catalog.Snapshot{{}}}).Reconcile(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.True(t, f.product(t, 21).IsDeleted)
}

func TestReconciler_SkipsInactiveTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.tenant.Uninstall(t0)
	require.NoError(t, f.store.Tenants().Update(ctx, f.tenant, f.tenant.Version-1))

	source := &pagedSource{pages: [][]catalog.Snapshot{{}}}
	report, err := f.reconciler(source).Reconcile(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, source.calls)
}

func TestReconciler_CancelledContextDeletesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedProducts(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.reconciler(&pagedSource{pages: [][]catalog.Snapshot{{}}}).Reconcile(ctx, f.tenant.ID)
	require.Error(t, err)
	assert.True(t, shared.IsTransient(err))
	assert.Zero(t, report.Deleted)
	assert.False(t, f.product(t, 1).IsDeleted)
}

func TestReconciler_InvalidSnapshotDoesNotForceRetry(t *testing.T) {
	f := newFixture(t)

	bad := snapshot(31, "bad", t0)
	bad.RemoteStatus = "unknown"
	source := &pagedSource{pages: [][]catalog.Snapshot{{snapshot(30, "ok", t0), bad}}}

	report, err := f.reconciler(source).Reconcile(context.Background(), f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)
}
