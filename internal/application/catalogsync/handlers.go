package catalogsync

import (
	"context"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/catalog"
)

// SnapshotHandler processes sync.snapshot jobs
func (e *Engine) SnapshotHandler() jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		var p jobs.SnapshotPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		_, err := e.ApplySnapshot(ctx, job.TenantID, p.Snapshot, catalog.SourceWebhook)
		return err
	}
}

// DeleteHandler processes sync.delete jobs
func (e *Engine) DeleteHandler() jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		var p jobs.DeletePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		_, err := e.ApplyDeletion(ctx, job.TenantID, p.RemoteProductID, p.DeletedAt, catalog.SourceWebhook)
		return err
	}
}

// ReconcileHandler processes reconcile.tenant jobs
func (r *Reconciler) ReconcileHandler() jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		var p jobs.ReconcilePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		_, err := r.Reconcile(ctx, job.TenantID)
		return err
	}
}
