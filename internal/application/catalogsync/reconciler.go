package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultGraceWindow protects freshly created products whose creation may
// not be visible in the remote listing yet
const DefaultGraceWindow = 15 * time.Minute

// CatalogSource enumerates the remote catalog of a shop page by page.
// An empty cursor requests the first page.
type CatalogSource interface {
	ListProducts(ctx context.Context, shopDomain, accessToken, cursor string) (*catalog.Page, error)
}

// ReconcilerConfig tunes reconciliation
type ReconcilerConfig struct {
	GraceWindow time.Duration
	// MaxPages bounds enumeration; zero means unbounded
	MaxPages int
}

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	Skipped         bool      `json:"skipped"`
	SkipReason      string    `json:"skip_reason,omitempty"`
	Enumerated      int       `json:"enumerated"`
	Created         int       `json:"created"`
	Updated         int       `json:"updated"`
	Noop            int       `json:"noop"`
	Deleted         int       `json:"deleted"`
	SkippedGrace    int       `json:"skipped_grace"`
	SkippedConflict int       `json:"skipped_conflict"`
	Failed          int       `json:"failed"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Reconciler pulls the full remote catalog of a tenant, applies every
// product through the engine and soft-deletes local products that the
// platform no longer lists.
type Reconciler struct {
	store   store.Store
	engine  *Engine
	source  CatalogSource
	cfg     ReconcilerConfig
	clock   shared.Clock
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
}

// NewReconciler creates a reconciler
func NewReconciler(st store.Store, engine *Engine, source CatalogSource, cfg ReconcilerConfig, zl *zap.Logger) *Reconciler {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Reconciler{
		store:  st,
		engine: engine,
		source: source,
		cfg:    cfg,
		clock:  engine.clock,
		logger: zl,
	}
}

// SetMetrics sets the sync metrics recorder
func (r *Reconciler) SetMetrics(m *telemetry.SyncMetrics) {
	r.metrics = m
}

// Reconcile runs one pass for the tenant. Deletion detection only runs
// after the remote catalog was enumerated completely; any enumeration error
// aborts the pass before anything is deleted.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID uuid.UUID) (*ReconcileReport, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, tenantID)
	ctx, span := telemetry.StartServiceSpan(ctx, "catalogsync", "reconcile",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()
	log := logger.Enrich(ctx, r.logger)

	report := &ReconcileReport{TenantID: tenantID, StartedAt: r.clock()}
	defer func() { report.FinishedAt = r.clock() }()

	tenant, err := r.store.Tenants().FindByID(ctx, tenantID)
	if err != nil {
		if !shared.IsPermanent(err) {
			err = shared.Transient(err)
		}
		telemetry.RecordError(span, err)
		return report, err
	}
	if !tenant.IsActive() {
		report.Skipped = true
		report.SkipReason = "tenant " + string(tenant.Status)
		log.Info("Skipping reconciliation for inactive tenant", zap.String("status", string(tenant.Status)))
		return report, nil
	}

	snapshots, err := r.enumerate(ctx, tenant.ShopDomain, tenant.AccessToken)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Warn("Catalog enumeration aborted, nothing deleted", zap.Error(err))
		return report, err
	}
	report.Enumerated = len(snapshots)

	listed := make(map[int64]struct{}, len(snapshots))
	var failures []error
	for _, snap := range snapshots {
		listed[snap.RemoteProductID] = struct{}{}
		if err := ctx.Err(); err != nil {
			return report, shared.Transient(err)
		}

		outcome, err := r.engine.ApplySnapshot(ctx, tenantID, snap, catalog.SourceReconciliation)
		if err != nil {
			report.Failed++
			log.Warn("Failed to apply reconciled snapshot",
				zap.Int64("remote_product_id", snap.RemoteProductID),
				zap.Error(err),
			)
			if !shared.IsPermanent(err) {
				failures = append(failures, fmt.Errorf("product %d: %w", snap.RemoteProductID, err))
			}
			continue
		}
		switch outcome {
		case catalog.OutcomeCreated:
			report.Created++
		case catalog.OutcomeUpdated:
			report.Updated++
		default:
			report.Noop++
		}
	}

	if err := r.deleteUnlisted(ctx, tenantID, listed, report); err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}

	if r.metrics != nil {
		r.metrics.RecordReconcileDeletions(ctx, tenantID, report.Deleted)
	}
	telemetry.SetAttributes(span,
		"reconcile.enumerated", report.Enumerated,
		"reconcile.deleted", report.Deleted,
		"reconcile.failed", report.Failed,
	)
	log.Info("Reconciliation finished",
		zap.Int("enumerated", report.Enumerated),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("noop", report.Noop),
		zap.Int("deleted", report.Deleted),
		zap.Int("skipped_grace", report.SkippedGrace),
		zap.Int("skipped_conflict", report.SkippedConflict),
		zap.Int("failed", report.Failed),
	)

	if len(failures) > 0 {
		err := shared.ErrTransient.WithMessage(fmt.Sprintf("%d products failed to reconcile", len(failures))).
			WithCause(errors.Join(failures...))
		telemetry.RecordError(span, err)
		return report, err
	}
	telemetry.SetOK(span)
	return report, nil
}

// enumerate reads every page of the remote catalog. The result is all or
// nothing: a failed page discards what was read so far.
func (r *Reconciler) enumerate(ctx context.Context, shopDomain, accessToken string) ([]catalog.Snapshot, error) {
	var snapshots []catalog.Snapshot
	cursor := ""
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, shared.Transient(err)
		}
		if r.cfg.MaxPages > 0 && page > r.cfg.MaxPages {
			return nil, shared.ErrTransient.WithMessage(fmt.Sprintf("Catalog exceeds %d pages", r.cfg.MaxPages))
		}

		result, err := r.source.ListProducts(ctx, shopDomain, accessToken, cursor)
		if err != nil {
			if shared.IsPermanent(err) {
				return nil, err
			}
			return nil, shared.Transient(fmt.Errorf("list products page %d: %w", page, err))
		}
		snapshots = append(snapshots, result.Snapshots...)

		if result.NextCursor == "" {
			return snapshots, nil
		}
		if result.NextCursor == cursor {
			return nil, shared.ErrTransient.WithMessage("Catalog pagination did not advance")
		}
		cursor = result.NextCursor
	}
}

// deleteUnlisted soft-deletes live products missing from a complete
// enumeration, except those still inside the grace window
func (r *Reconciler) deleteUnlisted(ctx context.Context, tenantID uuid.UUID, listed map[int64]struct{}, report *ReconcileReport) error {
	live, err := r.store.Products().ListLive(ctx, tenantID)
	if err != nil {
		return err
	}

	now := r.clock()
	for _, product := range live {
		if _, ok := listed[product.ShopifyProductID]; ok {
			continue
		}
		if product.CreatedWithin(r.cfg.GraceWindow, now) {
			report.SkippedGrace++
			continue
		}

		// The listed version is the expected version: a concurrent write in
		// between means the product is alive and wins.
		var deleted bool
		err := r.store.Execute(ctx, func(repos store.Repositories) error {
			var err error
			deleted, err = r.engine.markDeleted(ctx, repos, product, 0, catalog.SourceReconciliation)
			return err
		})
		switch {
		case errors.Is(err, shared.ErrConcurrencyConflict):
			report.SkippedConflict++
		case err != nil:
			return err
		case deleted:
			report.Deleted++
		}
	}
	return nil
}
