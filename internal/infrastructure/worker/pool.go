// Package worker runs queued jobs on a fixed pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/queue"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrPoolRunning is returned by Register after Start
	ErrPoolRunning = errors.New("worker pool is already running")

	// ErrNoHandlers is returned by Start when nothing is registered
	ErrNoHandlers = errors.New("worker pool has no handlers")

	// ErrHandlerPanicked wraps a recovered handler panic. It is retryable.
	ErrHandlerPanicked = shared.NewKindError(shared.KindTransient, "HANDLER_PANICKED", "Job handler panicked")
)

// Job results reported to metrics
const (
	ResultAck   = "ack"
	ResultRetry = "retry"
	ResultDead  = "dead"
)

// Config holds pool configuration
type Config struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Timeouts bounds each job type's handler. Types not listed use
	// DefaultTimeout.
	Timeouts       map[jobs.Type]time.Duration
	DefaultTimeout time.Duration
	// PollInterval is the idle wait when the queue is empty
	PollInterval time.Duration
	// ReapInterval is how often expired in-flight jobs are re-queued
	ReapInterval time.Duration
}

// DefaultConfig returns default pool configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:    8,
		MaxAttempts:    5,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     10 * time.Minute,
		DefaultTimeout: 5 * time.Minute,
		PollInterval:   time.Second,
		ReapInterval:   30 * time.Second,
	}
}

// Backoff is the retry delay after the given failed attempt:
// base * 2^(attempt-1), capped at max
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxBackoff || d <= 0 {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func (c Config) timeout(t jobs.Type) time.Duration {
	if d, ok := c.Timeouts[t]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}

// Pool dequeues jobs and dispatches them to handlers by type
type Pool struct {
	config   Config
	queue    queue.Queue
	handlers map[jobs.Type]jobs.Handler
	logger   *zap.Logger
	metrics  *telemetry.SyncMetrics
	clock    shared.Clock

	cancel    context.CancelFunc
	jobCancel context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPool creates a pool reading from q
func NewPool(config Config, q queue.Queue, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = config.BaseBackoff
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = def.DefaultTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = def.ReapInterval
	}
	return &Pool{
		config:   config,
		queue:    q,
		handlers: make(map[jobs.Type]jobs.Handler),
		logger:   logger,
		clock:    shared.Now,
	}
}

// SetMetrics sets the job metrics recorder.
func (p *Pool) SetMetrics(m *telemetry.SyncMetrics) {
	p.metrics = m
}

// Register binds a handler to a job type
func (p *Pool) Register(t jobs.Type, h jobs.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return ErrPoolRunning
	}
	if !t.IsValid() {
		return fmt.Errorf("register handler: unknown job type %q", t)
	}
	p.handlers[t] = h
	return nil
}

// Start launches the workers and the reaper
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	if len(p.handlers) == 0 {
		p.mu.Unlock()
		return ErrNoHandlers
	}
	p.isRunning = true
	p.mu.Unlock()

	// handlers keep running after the loops stop until Stop gives up on them
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.jobCancel = jobCancel

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(loopCtx, jobCtx, i)
	}
	p.wg.Add(1)
	go p.reaper(loopCtx)

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.config.Concurrency),
		zap.Int("max_attempts", p.config.MaxAttempts),
		zap.Duration("reap_interval", p.config.ReapInterval),
	)
	return nil
}

// Stop stops dequeuing and waits for in-flight jobs until ctx is done.
// Jobs still running then are cancelled and left for the reaper.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.jobCancel()
		p.logger.Info("Worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.jobCancel()
		p.logger.Warn("Worker pool stop timed out, cancelling in-flight jobs")
		return ctx.Err()
	}
}

func (p *Pool) worker(loopCtx, jobCtx context.Context, workerID int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	for {
		if loopCtx.Err() != nil {
			p.logger.Debug("Worker stopping", zap.Int("worker_id", workerID))
			return
		}
		processed, err := p.dispatch(loopCtx, jobCtx)
		if err != nil && loopCtx.Err() == nil {
			p.logger.Warn("Dequeue failed", zap.Int("worker_id", workerID), zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-loopCtx.Done():
		case <-time.After(p.config.PollInterval):
		}
	}
}

func (p *Pool) reaper(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Reap(ctx)
			if err != nil {
				p.logger.Warn("Reaping in-flight jobs failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Info("Re-queued expired in-flight jobs", zap.Int("count", n))
			}
		}
	}
}

// ProcessNext dequeues and runs a single job. It reports whether a job was
// found.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	return p.dispatch(ctx, ctx)
}

func (p *Pool) dispatch(dequeueCtx, jobCtx context.Context) (bool, error) {
	d, err := p.queue.Dequeue(dequeueCtx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	p.handle(jobCtx, d)
	return true, nil
}

// handle runs the job and settles it with the queue
func (p *Pool) handle(ctx context.Context, d *queue.Delivery) {
	job := d.Job
	ctx = logger.WithJob(ctx, job.ID, string(job.Type))
	ctx = logger.WithTenantID(ctx, job.TenantID)
	log := logger.Enrich(ctx, p.logger).With(zap.Int("attempt", d.Attempt))

	start := p.clock()
	err := p.run(ctx, job)

	// settling must survive a cancelled job context
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var result string
	var settleErr error
	switch {
	case err == nil:
		result = ResultAck
		settleErr = p.queue.Ack(settleCtx, d)
		log.Debug("Job completed")
	case shared.IsPermanent(err):
		result = ResultDead
		settleErr = p.queue.DeadLetter(settleCtx, d, err.Error())
		log.Error("Job failed permanently", zap.Error(err))
	case d.Attempt >= p.config.MaxAttempts:
		result = ResultDead
		settleErr = p.queue.DeadLetter(settleCtx, d, fmt.Sprintf("attempts exhausted: %v", err))
		log.Error("Job attempts exhausted", zap.Int("max_attempts", p.config.MaxAttempts), zap.Error(err))
	default:
		result = ResultRetry
		delay := p.config.Backoff(d.Attempt)
		settleErr = p.queue.Retry(settleCtx, d, delay, err.Error())
		log.Warn("Job failed, scheduled for retry", zap.Duration("delay", delay), zap.Error(err))
	}
	if settleErr != nil {
		// the reaper hands the job out again once its deadline passes
		log.Error("Failed to settle job", zap.String("result", result), zap.Error(settleErr))
	}

	if p.metrics != nil {
		p.metrics.RecordJob(ctx, string(job.Type), result, p.clock().Sub(start))
	}
}

// run invokes the handler under the job type's timeout, turning a panic
// into a retryable error
func (p *Pool) run(ctx context.Context, job *jobs.Job) (err error) {
	h, ok := p.handlers[job.Type]
	if !ok {
		return shared.ErrInvalidInput.WithMessage("No handler for job type " + string(job.Type))
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.timeout(job.Type))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = ErrHandlerPanicked.WithCause(fmt.Errorf("%v", r))
		}
	}()

	return h(ctx, job)
}
