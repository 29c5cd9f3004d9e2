package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics tracks the synchronization engine, the job pipeline and
// export generation.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	syncOutcomes     *Counter
	conflictRetries  *Counter
	reconcileDeletes *Counter
	jobResults       *Counter
	jobDuration      *Histogram
	exportResults    *Counter
	queueDepth       *Gauge
	complianceStatus *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	queueProvider      QueueDepthProvider
	complianceProvider ComplianceStatsProvider
}

// QueueDepthProvider reports job counts per queue state (ready, delayed, in_flight, dead)
type QueueDepthProvider interface {
	Depths(ctx context.Context) (map[string]int64, error)
}

// TenantProvider lists tenants for periodic collection
type TenantProvider interface {
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ComplianceStatsProvider counts a tenant's live products per compliance status
type ComplianceStatsProvider interface {
	TenantProvider
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[string]int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter              metric.Meter
	Logger             *zap.Logger
	QueueProvider      QueueDepthProvider
	ComplianceProvider ComplianceStatsProvider
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// NewSyncMetrics creates the instruments.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &SyncMetrics{
		meter:              cfg.Meter,
		logger:             logger,
		stopChan:           make(chan struct{}),
		queueProvider:      cfg.QueueProvider,
		complianceProvider: cfg.ComplianceProvider,
	}

	counters := []struct {
		dst               **Counter
		name, desc, unit string
	}{
		{&m.syncOutcomes, "csync_sync_outcomes_total", "Snapshots applied by outcome and source", "{snapshots}"},
		{&m.conflictRetries, "csync_sync_conflict_retries_total", "Conditional writes that lost a race and were retried", "{retries}"},
		{&m.reconcileDeletes, "csync_reconcile_deletions_total", "Products soft-deleted by reconciliation", "{products}"},
		{&m.jobResults, "csync_job_results_total", "Jobs finished by type and result", "{jobs}"},
		{&m.exportResults, "csync_export_results_total", "Exports finished by format and status", "{exports}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.jobDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "csync_job_duration_seconds",
		Description: "Job handler duration",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	m.queueDepth, err = NewGauge(cfg.Meter, "csync_queue_depth", "Jobs per queue state", "{jobs}")
	if err != nil {
		return nil, err
	}
	m.complianceStatus, err = NewGauge(cfg.Meter, "csync_products_by_compliance_status", "Live products per compliance status", "{products}")
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSyncOutcome counts one applied snapshot or deletion
func (m *SyncMetrics) RecordSyncOutcome(ctx context.Context, tenantID uuid.UUID, source, outcome string) {
	m.syncOutcomes.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrSource.String(source),
		AttrOutcome.String(outcome),
	)
}

// RecordConflictRetry counts one lost conditional write
func (m *SyncMetrics) RecordConflictRetry(ctx context.Context, source string) {
	m.conflictRetries.Inc(ctx, AttrSource.String(source))
}

// RecordReconcileDeletions counts products inferred deleted in one pass
func (m *SyncMetrics) RecordReconcileDeletions(ctx context.Context, tenantID uuid.UUID, n int) {
	if n <= 0 {
		return
	}
	m.reconcileDeletes.Add(ctx, int64(n), AttrTenantID.String(tenantID.String()))
}

// RecordJob records a finished job. result is ack, retry or dead.
func (m *SyncMetrics) RecordJob(ctx context.Context, jobType, result string, d time.Duration) {
	m.jobResults.Inc(ctx, AttrJobType.String(jobType), AttrJobResult.String(result))
	m.jobDuration.RecordDuration(ctx, d, AttrJobType.String(jobType))
}

// RecordExport records a finished export
func (m *SyncMetrics) RecordExport(ctx context.Context, format, status string) {
	m.exportResults.Inc(ctx, AttrFormat.String(format), AttrOutcome.String(status))
}

// StartPeriodicCollection samples queue depth and compliance status gauges
// every interval (default 1 minute). Non-blocking; Stop ends it.
func (m *SyncMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	m.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		go m.runPeriodicCollection(ctx, interval)
	})
}

func (m *SyncMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *SyncMetrics) collect(ctx context.Context) {
	if m.queueProvider != nil {
		depths, err := m.queueProvider.Depths(ctx)
		if err != nil {
			m.logger.Warn("Failed to read queue depth", zap.Error(err))
		}
		for state, n := range depths {
			m.queueDepth.Record(ctx, n, AttrQueue.String(state))
		}
	}

	if m.complianceProvider == nil {
		return
	}
	tenantIDs, err := m.complianceProvider.ListActiveIDs(ctx)
	if err != nil {
		m.logger.Error("Failed to get tenant IDs for metrics collection", zap.Error(err))
		return
	}
	for _, tenantID := range tenantIDs {
		counts, err := m.complianceProvider.CountByStatus(ctx, tenantID)
		if err != nil {
			m.logger.Warn("Failed to count compliance status",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		for status, n := range counts {
			m.complianceStatus.Record(ctx, n,
				AttrTenantID.String(tenantID.String()),
				AttrOutcome.String(status),
			)
		}
	}
}

// Stop stops the periodic collection.
func (m *SyncMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}
