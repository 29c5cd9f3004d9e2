// Package catalogsync keeps the local product mirror consistent with the
// commerce platform. Both update paths, webhook push and reconciliation
// pull, funnel through Engine, which orders writes by the platform's
// last-modified marker instead of by arrival.
package catalogsync

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes conflict handling
type Config struct {
	// MaxConflictRetries is how often a lost conditional write is retried
	// with fresh state before giving up with a transient error.
	MaxConflictRetries int
	// ConflictBackoff is the base delay between conflict retries
	ConflictBackoff time.Duration
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: 3,
		ConflictBackoff:    20 * time.Millisecond,
	}
}

// Engine applies product snapshots and deletions to the tenant store
type Engine struct {
	store   store.Store
	audit   *appaudit.Logger
	cfg     Config
	clock   shared.Clock
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithEngineClock overrides the engine's time source
func WithEngineClock(clock shared.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine creates an engine writing through st and auditLogger
func NewEngine(st store.Store, auditLogger *appaudit.Logger, cfg Config, zl *zap.Logger, opts ...EngineOption) *Engine {
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	if zl == nil {
		zl = zap.NewNop()
	}
	e := &Engine{
		store:  st,
		audit:  auditLogger,
		cfg:    cfg,
		clock:  shared.Now,
		logger: zl,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetMetrics sets the sync metrics recorder.
// This is useful when metrics are initialized after the engine.
func (e *Engine) SetMetrics(m *telemetry.SyncMetrics) {
	e.metrics = m
}

// ApplySnapshot brings the local product in line with snap if snap is
// strictly newer than what is stored. Duplicates and stale snapshots are
// no-ops, which makes redelivery and reordering safe.
func (e *Engine) ApplySnapshot(ctx context.Context, tenantID uuid.UUID, snap catalog.Snapshot, source catalog.Source) (catalog.Outcome, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return "", err
	}
	if !source.IsValid() {
		return "", shared.ErrInvalidInput.WithMessage("Unknown sync source: " + string(source))
	}
	if err := snap.Validate(); err != nil {
		return "", err
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "catalogsync", "apply_snapshot",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrRemoteProductID, snap.RemoteProductID),
		telemetry.WithAttribute(telemetry.SpanAttrSource, string(source)),
	)
	defer span.End()

	var outcome catalog.Outcome
	err := e.withConflictRetry(ctx, source, func() error {
		return e.store.Execute(ctx, func(repos store.Repositories) error {
			var err error
			outcome, err = e.applySnapshot(ctx, repos, tenantID, snap, source)
			return err
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, string(outcome))
	telemetry.SetOK(span)
	e.recordOutcome(ctx, tenantID, source, outcome)
	logger.Enrich(ctx, e.logger).Debug("Snapshot applied",
		zap.Int64("remote_product_id", snap.RemoteProductID),
		zap.Int64("marker", snap.Marker()),
		zap.String("source", string(source)),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (e *Engine) applySnapshot(ctx context.Context, repos store.Repositories, tenantID uuid.UUID, snap catalog.Snapshot, source catalog.Source) (catalog.Outcome, error) {
	now := e.clock()
	products := repos.Products()
	auditLog := e.audit.WithRepository(repos.Audit())

	product, err := products.FindByRemoteID(ctx, tenantID, snap.RemoteProductID)
	if errors.Is(err, shared.ErrNotFound) {
		product, err = catalog.NewProductFromSnapshot(tenantID, snap, now)
		if err != nil {
			return "", err
		}
		if err := products.Create(ctx, product); err != nil {
			return "", err
		}
		if err := repos.Records().Create(ctx, compliance.NewRecord(tenantID, product.ID, now)); err != nil {
			return "", err
		}
		_, err = auditLog.Record(ctx, appaudit.RecordInput{
			TenantID:   tenantID,
			EntityType: audit.EntityProduct,
			EntityID:   product.ID,
			Action:     audit.ActionCreate,
			Actor:      audit.SystemActor(),
			Source:     auditSource(source),
			Diff:       map[string]any{"after": snap},
		})
		if err != nil {
			return "", err
		}
		return catalog.OutcomeCreated, nil
	}
	if err != nil {
		return "", err
	}

	expected := product.Version
	var diff catalog.FieldDiff
	switch {
	case product.IsNewer(snap.Marker()):
		diff = product.ApplySnapshot(snap, now)
	case source == catalog.SourceReconciliation && product.CanRestore(snap.Marker()):
		// A complete listing shows a product an earlier pass deleted by inference
		diff = product.Restore(now)
	default:
		return catalog.OutcomeNoop, nil
	}
	if err := products.Update(ctx, product, expected); err != nil {
		return "", err
	}
	_, err = auditLog.Record(ctx, appaudit.RecordInput{
		TenantID:   tenantID,
		EntityType: audit.EntityProduct,
		EntityID:   product.ID,
		Action:     audit.ActionSync,
		Actor:      audit.SystemActor(),
		Source:     auditSource(source),
		Diff:       diff,
	})
	if err != nil {
		return "", err
	}
	return catalog.OutcomeUpdated, nil
}

// ApplyDeletion soft-deletes the product when the deletion marker is
// strictly newer than the stored one. Unknown or already deleted products
// are no-ops.
func (e *Engine) ApplyDeletion(ctx context.Context, tenantID uuid.UUID, remoteProductID int64, deletedAt time.Time, source catalog.Source) (catalog.Outcome, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return "", err
	}
	if !source.IsValid() {
		return "", shared.ErrInvalidInput.WithMessage("Unknown sync source: " + string(source))
	}
	if remoteProductID <= 0 {
		return "", shared.ErrInvalidInput.WithMessage("Remote product id must be positive")
	}
	marker := catalog.MarkerFromTime(deletedAt)
	if marker <= 0 {
		return "", shared.ErrInvalidInput.WithMessage("Deletion must carry a marker")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "catalogsync", "apply_deletion",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrRemoteProductID, remoteProductID),
		telemetry.WithAttribute(telemetry.SpanAttrSource, string(source)),
	)
	defer span.End()

	outcome := catalog.OutcomeNoop
	err := e.withConflictRetry(ctx, source, func() error {
		return e.store.Execute(ctx, func(repos store.Repositories) error {
			outcome = catalog.OutcomeNoop
			product, err := repos.Products().FindByRemoteID(ctx, tenantID, remoteProductID)
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !product.IsNewer(marker) {
				return nil
			}
			deleted, err := e.markDeleted(ctx, repos, product, marker, source)
			if deleted {
				outcome = catalog.OutcomeDeleted
			}
			return err
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, string(outcome))
	telemetry.SetOK(span)
	e.recordOutcome(ctx, tenantID, source, outcome)
	return outcome, nil
}

// markDeleted writes the soft delete conditioned on the product's current
// version and audits it in the same transaction
func (e *Engine) markDeleted(ctx context.Context, repos store.Repositories, product *catalog.Product, marker int64, source catalog.Source) (bool, error) {
	now := e.clock()
	expected := product.Version
	diff, changed := product.MarkDeleted(marker, now)
	if !changed {
		return false, nil
	}
	if err := repos.Products().Update(ctx, product, expected); err != nil {
		return false, err
	}
	_, err := e.audit.WithRepository(repos.Audit()).Record(ctx, appaudit.RecordInput{
		TenantID:   product.TenantID,
		EntityType: audit.EntityProduct,
		EntityID:   product.ID,
		Action:     audit.ActionDelete,
		Actor:      audit.SystemActor(),
		Source:     auditSource(source),
		Diff:       diff,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// withConflictRetry reruns fn while it loses optimistic concurrency races.
// Every attempt starts a fresh transaction and re-reads state.
func (e *Engine) withConflictRetry(ctx context.Context, source catalog.Source, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		if attempt >= e.cfg.MaxConflictRetries {
			return shared.ErrTransient.WithMessage("Conflict retries exhausted").WithCause(err)
		}
		if e.metrics != nil {
			e.metrics.RecordConflictRetry(ctx, string(source))
		}
		logger.Enrich(ctx, e.logger).Debug("Conditional write lost, retrying",
			zap.Int("attempt", attempt+1),
			zap.String("source", string(source)),
		)
		if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
			return shared.Transient(err)
		}
	}
}

// backoff grows linearly with the attempt and adds up to one base of jitter
func (e *Engine) backoff(attempt int) time.Duration {
	base := e.cfg.ConflictBackoff
	if base <= 0 {
		return 0
	}
	return base*time.Duration(attempt+1) + rand.N(base)
}

func (e *Engine) recordOutcome(ctx context.Context, tenantID uuid.UUID, source catalog.Source, outcome catalog.Outcome) {
	if e.metrics != nil {
		e.metrics.RecordSyncOutcome(ctx, tenantID, string(source), string(outcome))
	}
}

func auditSource(source catalog.Source) audit.Source {
	if source == catalog.SourceReconciliation {
		return audit.SourceReconciliation
	}
	return audit.SourceWebhook
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
