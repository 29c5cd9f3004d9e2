package export

import (
	"context"
	"errors"
	"fmt"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Renderer turns a document into the bytes of one artifact format
type Renderer interface {
	Render(ctx context.Context, doc *export.Document) ([]byte, error)
}

// Worker produces export artifacts from export.generate jobs
type Worker struct {
	store     store.Store
	audit     *appaudit.Logger
	renderers map[export.Format]Renderer
	artifacts ArtifactStore
	clock     shared.Clock
	logger    *zap.Logger
	metrics   *telemetry.SyncMetrics
}

// NewWorker creates an export worker
func NewWorker(st store.Store, auditLogger *appaudit.Logger, renderers map[export.Format]Renderer, artifacts ArtifactStore, zl *zap.Logger) *Worker {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Worker{
		store:     st,
		audit:     auditLogger,
		renderers: renderers,
		artifacts: artifacts,
		clock:     shared.Now,
		logger:    zl,
	}
}

// SetMetrics sets the metrics recorder
func (w *Worker) SetMetrics(m *telemetry.SyncMetrics) {
	w.metrics = m
}

// Handler processes export.generate jobs
func (w *Worker) Handler() jobs.Handler {
	return w.Process
}

// Process produces the artifact of the export named by job. Duplicate
// deliveries of a finished export are acknowledged without work. Render and
// storage failures are recorded on the export and not retried.
func (w *Worker) Process(ctx context.Context, job *jobs.Job) error {
	var p jobs.ExportPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	tenantID := job.TenantID

	ctx, span := telemetry.StartServiceSpan(ctx, "export", "process",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrExportID, p.ExportID.String()),
	)
	defer span.End()
	log := logger.Enrich(ctx, w.logger).With(zap.String("export_id", p.ExportID.String()))

	exp, err := w.claim(ctx, tenantID, p.ExportID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if exp == nil {
		log.Info("Dropping duplicate delivery of finished export")
		return nil
	}

	doc, err := w.snapshot(ctx, exp)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	renderer, ok := w.renderers[exp.Format]
	if !ok {
		return w.fail(ctx, exp, fmt.Sprintf("no renderer for format %s", exp.Format))
	}
	body, err := renderer.Render(ctx, doc)
	if err != nil {
		log.Error("Export rendering failed", zap.Error(err))
		return w.fail(ctx, exp, export.ErrRenderFailed.WithCause(err).Error())
	}

	handle, err := w.artifacts.Put(ctx, exp.StorageKey(), body, exp.Format.ContentType())
	if err != nil {
		log.Error("Export storage failed", zap.Error(err))
		return w.fail(ctx, exp, "storage failed: "+err.Error())
	}

	if err := w.complete(ctx, exp, handle, len(doc.Products)); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			log.Info("Export already finished by another delivery")
			return nil
		}
		telemetry.RecordError(span, err)
		return err
	}

	if w.metrics != nil {
		w.metrics.RecordExport(ctx, string(exp.Format), string(export.StatusCompleted))
	}
	telemetry.SetOK(span)
	log.Info("Export completed",
		zap.String("format", string(exp.Format)),
		zap.Int("product_count", exp.ProductCount),
		zap.Int("bytes", len(body)),
	)
	return nil
}

// claim moves a queued export to processing. It returns nil when the
// export already reached a terminal status.
func (w *Worker) claim(ctx context.Context, tenantID, exportID uuid.UUID) (*export.Export, error) {
	exports := w.store.Exports()
	exp, err := exports.FindByID(ctx, tenantID, exportID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Permanent(err)
	}
	if err != nil {
		return nil, err
	}

	switch exp.Status {
	case export.StatusCompleted, export.StatusFailed:
		return nil, nil
	case export.StatusProcessing:
		// a previous delivery died midway; resume
		return exp, nil
	}

	if err := exp.Start(w.clock()); err != nil {
		return nil, err
	}
	err = exports.Transition(ctx, exp, export.StatusQueued)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		return w.claim(ctx, tenantID, exportID)
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// snapshot reads every live product with its record from one consistent view
func (w *Worker) snapshot(ctx context.Context, exp *export.Export) (*export.Document, error) {
	doc := &export.Document{
		ExportID:    exp.ID,
		TenantID:    exp.TenantID,
		GeneratedAt: w.clock(),
	}
	err := w.store.ExecuteSnapshot(ctx, func(repos store.Repositories) error {
		tenant, err := repos.Tenants().FindByID(ctx, exp.TenantID)
		if err != nil {
			return err
		}
		doc.ShopDomain = tenant.ShopDomain

		rows, err := repos.Records().ListLiveWithProducts(ctx, exp.TenantID)
		if err != nil {
			return err
		}
		doc.Products = make([]export.DocumentProduct, 0, len(rows))
		for _, row := range rows {
			fields := make(map[string]string, len(compliance.AllFields))
			for field, value := range row.Record.Values() {
				fields[string(field)] = value
			}
			doc.Products = append(doc.Products, export.DocumentProduct{
				ProductID:        row.Product.ID,
				ShopifyProductID: row.Product.ShopifyProductID,
				Title:            row.Product.Title,
				RemoteStatus:     string(row.Product.RemoteStatus),
				ComplianceStatus: string(row.Product.ComplianceStatus),
				Fields:           fields,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (w *Worker) complete(ctx context.Context, exp *export.Export, handle string, productCount int) error {
	return w.store.Execute(ctx, func(repos store.Repositories) error {
		if err := exp.Complete(handle, productCount, w.clock()); err != nil {
			return err
		}
		if err := repos.Exports().Transition(ctx, exp, export.StatusProcessing); err != nil {
			return err
		}

		actor := audit.SystemActor()
		if exp.RequestedBy != nil {
			actor = audit.UserActor(*exp.RequestedBy)
		}
		source := audit.SourceSystem
		if exp.RequestedBy != nil {
			source = audit.SourceUser
		}
		_, err := w.audit.WithRepository(repos.Audit()).Record(ctx, appaudit.RecordInput{
			TenantID:   exp.TenantID,
			EntityType: audit.EntityExport,
			EntityID:   exp.ID,
			Action:     audit.ActionExport,
			Actor:      actor,
			Source:     source,
			Diff: map[string]any{"after": map[string]any{
				"format":         exp.Format,
				"product_count":  productCount,
				"storage_handle": handle,
			}},
		})
		return err
	})
}

// fail records reason on the export and acknowledges the job
func (w *Worker) fail(ctx context.Context, exp *export.Export, reason string) error {
	if err := exp.Fail(reason, w.clock()); err != nil {
		return nil
	}
	err := w.store.Exports().Transition(ctx, exp, export.StatusProcessing)
	if err != nil && !errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordExport(ctx, string(exp.Format), string(export.StatusFailed))
	}
	logger.Enrich(ctx, w.logger).Warn("Export failed",
		zap.String("export_id", exp.ID.String()),
		zap.String("reason", reason),
	)
	return nil
}
