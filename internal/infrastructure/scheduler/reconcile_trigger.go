// Package scheduler enqueues periodic background work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trigger sources recorded on reconcile jobs
const (
	TriggeredBySchedule = "schedule"
	TriggeredByManual   = "manual"
)

// TenantProvider lists the tenants to reconcile
type TenantProvider interface {
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ReconcileTriggerConfig holds configuration for the reconciliation trigger
type ReconcileTriggerConfig struct {
	// Interval between full passes. Every tenant gets at most one scheduled
	// job per interval window.
	Interval time.Duration
	// Jitter adds a random delay up to this much before each tick
	Jitter time.Duration
}

// DefaultReconcileTriggerConfig returns default trigger configuration
func DefaultReconcileTriggerConfig() ReconcileTriggerConfig {
	return ReconcileTriggerConfig{
		Interval: 6 * time.Hour,
	}
}

// ReconcileTrigger enqueues reconcile.tenant jobs for every active tenant
type ReconcileTrigger struct {
	config      ReconcileTriggerConfig
	tenants     TenantProvider
	enqueuer    jobs.Enqueuer
	idempotency shared.IdempotencyStore
	logger      *zap.Logger
	clock       shared.Clock

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewReconcileTrigger creates a new trigger. idempotency may be nil, in
// which case only queue-level deduplication applies.
func NewReconcileTrigger(
	config ReconcileTriggerConfig,
	tenants TenantProvider,
	enqueuer jobs.Enqueuer,
	idempotency shared.IdempotencyStore,
	logger *zap.Logger,
) *ReconcileTrigger {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileTriggerConfig().Interval
	}
	return &ReconcileTrigger{
		config:      config,
		tenants:     tenants,
		enqueuer:    enqueuer,
		idempotency: idempotency,
		logger:      logger,
		clock:       shared.Now,
	}
}

// Start starts the trigger loop
func (r *ReconcileTrigger) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.runLoop(ctx)

	r.logger.Info("Reconciliation trigger started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("jitter", r.config.Jitter),
	)
	return nil
}

// Stop stops the trigger loop
func (r *ReconcileTrigger) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Reconciliation trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ReconcileTrigger) runLoop(ctx context.Context) {
	defer r.wg.Done()

	timer := time.NewTimer(r.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := r.TriggerAll(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Scheduled reconciliation failed", zap.Error(err))
			}
			timer.Reset(r.nextDelay())
		}
	}
}

func (r *ReconcileTrigger) nextDelay() time.Duration {
	d := r.config.Interval
	if r.config.Jitter > 0 {
		d += rand.N(r.config.Jitter)
	}
	return d
}

// window numbers the interval containing t
func (r *ReconcileTrigger) window(t time.Time) int64 {
	return t.UnixNano() / int64(r.config.Interval)
}

// TriggerAll enqueues a scheduled pass for each active tenant not yet
// reconciled in the current window. It returns the number of jobs enqueued.
func (r *ReconcileTrigger) TriggerAll(ctx context.Context) (int, error) {
	tenantIDs, err := r.tenants.ListActiveIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active tenants: %w", err)
	}

	window := r.window(r.clock())
	enqueued := 0
	var errs []error
	for _, tenantID := range tenantIDs {
		ok, err := r.enqueueWindow(ctx, tenantID, window)
		if err != nil {
			r.logger.Error("Failed to enqueue reconciliation",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			enqueued++
		}
	}

	r.logger.Info("Scheduled reconciliation",
		zap.Int("tenant_count", len(tenantIDs)),
		zap.Int("enqueued", enqueued),
		zap.Int64("window", window),
	)
	return enqueued, errors.Join(errs...)
}

func (r *ReconcileTrigger) enqueueWindow(ctx context.Context, tenantID uuid.UUID, window int64) (bool, error) {
	key := fmt.Sprintf("reconcile:%s:%d", tenantID, window)

	if r.idempotency != nil {
		done, err := r.idempotency.IsProcessed(ctx, key)
		if err != nil {
			r.logger.Warn("Idempotency check failed, enqueueing anyway", zap.String("key", key), zap.Error(err))
		} else if done {
			return false, nil
		}
	}

	job, err := jobs.New(jobs.TypeReconcileTenant, tenantID, jobs.ReconcilePayload{
		TriggeredBy: TriggeredBySchedule,
		Window:      window,
	})
	if err != nil {
		return false, err
	}
	if err := r.enqueuer.Enqueue(ctx, job.WithID(key)); err != nil {
		return false, err
	}

	if r.idempotency != nil {
		// the key outlives the window so a late tick cannot repeat it
		if _, err := r.idempotency.MarkProcessed(ctx, key, 2*r.config.Interval); err != nil {
			r.logger.Warn("Failed to record reconciliation window", zap.String("key", key), zap.Error(err))
		}
	}
	return true, nil
}

// TriggerNow enqueues a pass for one tenant outside the schedule. A manual
// pass that is still pending absorbs further requests.
func (r *ReconcileTrigger) TriggerNow(ctx context.Context, tenantID uuid.UUID) (*jobs.Job, error) {
	job, err := jobs.New(jobs.TypeReconcileTenant, tenantID, jobs.ReconcilePayload{
		TriggeredBy: TriggeredByManual,
	})
	if err != nil {
		return nil, err
	}
	job.WithID(fmt.Sprintf("reconcile:%s:manual", tenantID))
	if err := r.enqueuer.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	r.logger.Info("Manual reconciliation enqueued", zap.String("tenant_id", tenantID.String()))
	return job, nil
}
