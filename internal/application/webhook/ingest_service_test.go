package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence"
	"github.com/compliancesync/backend/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []*jobs.Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, job *jobs.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memIdempotency) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memIdempotency) IsProcessed(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memIdempotency) Close() error { return nil }

type ingestFixture struct {
	store    *persistence.GormStore
	tenant   *identity.Tenant
	enqueuer *recordingEnqueuer
	service  *IngestService
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	db := dbtest.NewSQLite(t)
	st := persistence.NewGormStore(db)
	enqueuer := &recordingEnqueuer{}
	return &ingestFixture{
		store:    st,
		tenant:   dbtest.SeedTenant(t, db),
		enqueuer: enqueuer,
		service: NewIngestService(st, enqueuer, &memIdempotency{}, shared.DefaultIdempotencyConfig(),
			appaudit.NewLogger(st.Audit()), zap.NewNop()),
	}
}

func (f *ingestFixture) notification(topic, webhookID, body string) Notification {
	return Notification{
		Topic:       topic,
		ShopDomain:  f.tenant.ShopDomain,
		WebhookID:   webhookID,
		TriggeredAt: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
		Body:        []byte(body),
	}
}

const productBody = `{"id": 632910392, "title": "IPod Nano", "status": "active", "updated_at": "2026-05-02T09:59:58-04:00"}`

func TestIngest_ProductUpdateEnqueuesSnapshot(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	res, err := f.service.Ingest(ctx, f.notification(TopicProductsUpdate, "wh-1", productBody))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)

	require.Len(t, f.enqueuer.jobs, 1)
	job := f.enqueuer.jobs[0]
	assert.Equal(t, jobs.TypeSyncSnapshot, job.Type)
	assert.Equal(t, f.tenant.ID, job.TenantID)
	assert.Equal(t, "webhook:wh-1", job.ID)

	var p jobs.SnapshotPayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, int64(632910392), p.Snapshot.RemoteProductID)
	assert.Equal(t, "IPod Nano", p.Snapshot.Title)
	assert.Equal(t, time.Date(2026, 5, 2, 13, 59, 58, 0, time.UTC), p.Snapshot.UpdatedAt)
}

func TestIngest_DuplicateDelivery(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, f.notification(TopicProductsCreate, "wh-dup", productBody))
	require.NoError(t, err)
	res, err := f.service.Ingest(ctx, f.notification(TopicProductsCreate, "wh-dup", productBody))
	require.NoError(t, err)

	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Len(t, f.enqueuer.jobs, 1)
}

func TestIngest_EnqueueFailureIsTransientAndRedeliverable(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	f.enqueuer.err = errors.New("redis unavailable")

	_, err := f.service.Ingest(ctx, f.notification(TopicProductsUpdate, "wh-retry", productBody))
	require.Error(t, err)
	assert.True(t, shared.IsTransient(err))

	f.enqueuer.err = nil
	res, err := f.service.Ingest(ctx, f.notification(TopicProductsUpdate, "wh-retry", productBody))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status, "a failed delivery is not remembered")
}

func TestIngest_Rejections(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		n       Notification
		wantErr error
	}{
		{
			name:    "unknown shop",
			n:       Notification{Topic: TopicProductsUpdate, ShopDomain: "nobody.myshopify.com", Body: []byte(productBody)},
			wantErr: ErrUnknownTenant,
		},
		{
			name:    "unsupported topic",
			n:       f.notification("orders/create", "wh-o", `{}`),
			wantErr: ErrUnsupportedTopic,
		},
		{
			name:    "malformed json",
			n:       f.notification(TopicProductsUpdate, "wh-m1", `{"id":`),
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "missing updated_at",
			n:       f.notification(TopicProductsUpdate, "wh-m2", `{"id": 1, "status": "active"}`),
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "unknown status",
			n:       f.notification(TopicProductsUpdate, "wh-m3", `{"id": 1, "status": "live", "updated_at": "2026-05-02T10:00:00Z"}`),
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "non-positive id",
			n:       f.notification(TopicProductsDelete, "wh-m4", `{"id": 0}`),
			wantErr: ErrMalformedPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Ingest(ctx, tt.n)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, shared.IsPermanent(err))
		})
	}
	assert.Empty(t, f.enqueuer.jobs)
}

func TestIngest_ProductDeleteUsesTriggeredAt(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.service.Ingest(context.Background(), f.notification(TopicProductsDelete, "wh-del", `{"id": 42}`))
	require.NoError(t, err)

	require.Len(t, f.enqueuer.jobs, 1)
	var p jobs.DeletePayload
	require.NoError(t, f.enqueuer.jobs[0].Decode(&p))
	assert.Equal(t, int64(42), p.RemoteProductID)
	assert.Equal(t, time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC), p.DeletedAt)
}

func TestIngest_AppUninstalled(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, f.notification(TopicAppUninstalled, "wh-u", `{"id": 1}`))
	require.NoError(t, err)

	tenant, err := f.store.Tenants().FindByID(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.TenantStatusUninstalled, tenant.Status)
	assert.Empty(t, tenant.AccessToken)

	entries, err := f.store.Audit().History(ctx, f.tenant.ID, &f.tenant.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EntityTenant, entries[0].EntityType)
	assert.Equal(t, audit.ActionUpdate, entries[0].Action)

	t.Run("product events are rejected afterwards", func(t *testing.T) {
		_, err := f.service.Ingest(ctx, f.notification(TopicProductsUpdate, "wh-after", productBody))
		assert.ErrorIs(t, err, ErrTenantInactive)
		assert.True(t, shared.IsPermanent(err))
	})
}

func TestIngest_ShopUpdate(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	steps := []struct {
		plan string
		want identity.TenantStatus
	}{
		{"frozen", identity.TenantStatusSuspended},
		{"Frozen", identity.TenantStatusSuspended},
		{"shopify_plus", identity.TenantStatusActive},
		{"basic", identity.TenantStatusActive},
	}
	for i, step := range steps {
		_, err := f.service.Ingest(ctx, f.notification(TopicShopUpdate, "wh-s"+string(rune('a'+i)), `{"plan_name": "`+step.plan+`"}`))
		require.NoError(t, err)

		tenant, err := f.store.Tenants().FindByID(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, tenant.Status, "plan %s", step.plan)
	}

	entries, err := f.store.Audit().History(ctx, f.tenant.ID, &f.tenant.ID, nil, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only actual transitions are audited")
}
