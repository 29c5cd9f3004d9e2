package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/catalogsync"
	appcompliance "github.com/compliancesync/backend/internal/application/compliance"
	appexport "github.com/compliancesync/backend/internal/application/export"
	"github.com/compliancesync/backend/internal/application/jobs"
	appwebhook "github.com/compliancesync/backend/internal/application/webhook"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/cache"
	"github.com/compliancesync/backend/internal/infrastructure/config"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/persistence"
	"github.com/compliancesync/backend/internal/infrastructure/queue"
	"github.com/compliancesync/backend/internal/infrastructure/render"
	"github.com/compliancesync/backend/internal/infrastructure/scheduler"
	"github.com/compliancesync/backend/internal/infrastructure/shopify"
	"github.com/compliancesync/backend/internal/infrastructure/storage"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"github.com/compliancesync/backend/internal/infrastructure/worker"
	"github.com/compliancesync/backend/internal/interfaces/http/handler"
	"github.com/compliancesync/backend/internal/interfaces/http/middleware"
	"github.com/compliancesync/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "compliance-sync:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logTimeFormat,
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	// Telemetry providers start first so the final logger can bridge into OTLP
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		return fmt.Errorf("initialize log exporter: %w", err)
	}
	log, err := logger.New(logCfg, logsProvider.ZapCore(logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting compliance sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	meters, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize meter: %w", err)
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeURL,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize profiler: %w", err)
	}
	if cfg.Telemetry.ProfilingEnabled {
		if err := tracer.EnableSpanProfiles(); err != nil {
			log.Warn("Span profiles unavailable", zap.Error(err))
		}
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:        log,
		LogLevel:      logger.MapGormLogLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		LogBindValues: cfg.Telemetry.DBLogFullSQL,
	})
	if err != nil {
		return err
	}
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		return fmt.Errorf("register database tracing: %w", err)
	}
	log.Info("Database connected successfully")

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	idempotency := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).ForClient(redisClient)
	jobQueue := queue.NewRedisQueue(redisClient,
		queue.NewConfig(cfg.Redis.KeyPrefix, cfg.Worker.JobTimeouts(), cfg.Worker.VisibilityMargin),
		queue.WithLogger(log),
	)

	artifacts, err := storage.New(ctx, cfg.Storage, cfg.Export.PresignTTL, log)
	if err != nil {
		return err
	}
	pdf := render.NewPDFRenderer(render.ChromedpConfig{
		Timeout:   cfg.Export.RenderTimeout,
		RemoteURL: cfg.Export.ChromeRemoteURL,
		NoSandbox: cfg.Export.ChromeNoSandbox,
		Logger:    log,
	})
	platform, err := shopify.NewClient(shopify.ConfigFrom(cfg.Shopify), shopify.WithLogger(log))
	if err != nil {
		return err
	}

	st := persistence.NewGormStore(db.DB)
	auditLogger := appaudit.NewLogger(st.Audit())
	engine := catalogsync.NewEngine(st, auditLogger, catalogsync.Config{
		MaxConflictRetries: cfg.Sync.MaxConflictRetries,
		ConflictBackoff:    cfg.Sync.ConflictBackoff,
	}, log)
	reconciler := catalogsync.NewReconciler(st, engine, platform, catalogsync.ReconcilerConfig{
		GraceWindow: cfg.Reconciliation.GraceWindow,
	}, log)
	ingester := appwebhook.NewIngestService(st, jobQueue, idempotency, shared.DefaultIdempotencyConfig(), auditLogger, log)
	editor := appcompliance.NewEditService(st, auditLogger, log)
	exporter := appexport.NewService(st, jobQueue, artifacts, log)
	exportWorker := appexport.NewWorker(st, auditLogger, render.Renderers(pdf), artifacts, log)

	stats := persistence.NewComplianceStats(db.DB)
	metrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:              meters.Meter("compliance-sync"),
		Logger:             log,
		QueueProvider:      jobQueue,
		ComplianceProvider: stats,
	})
	if err != nil {
		return fmt.Errorf("initialize sync metrics: %w", err)
	}
	engine.SetMetrics(metrics)
	reconciler.SetMetrics(metrics)
	exportWorker.SetMetrics(metrics)

	poolCfg := worker.DefaultConfig()
	poolCfg.Concurrency = cfg.Worker.Concurrency
	poolCfg.MaxAttempts = cfg.Worker.MaxAttempts
	poolCfg.BaseBackoff = cfg.Worker.BaseBackoff
	poolCfg.MaxBackoff = cfg.Worker.MaxBackoff
	poolCfg.PollInterval = cfg.Worker.PollTimeout
	poolCfg.ReapInterval = cfg.Worker.ReapInterval
	poolCfg.Timeouts = make(map[jobs.Type]time.Duration)
	for t, d := range cfg.Worker.JobTimeouts() {
		poolCfg.Timeouts[jobs.Type(t)] = d
	}
	pool := worker.NewPool(poolCfg, jobQueue, log)
	pool.SetMetrics(metrics)
	for t, h := range map[jobs.Type]jobs.Handler{
		jobs.TypeSyncSnapshot:    engine.SnapshotHandler(),
		jobs.TypeSyncDelete:      engine.DeleteHandler(),
		jobs.TypeReconcileTenant: reconciler.ReconcileHandler(),
		jobs.TypeExportGenerate:  exportWorker.Handler(),
	} {
		if err := pool.Register(t, h); err != nil {
			return fmt.Errorf("register %s handler: %w", t, err)
		}
	}

	trigger := scheduler.NewReconcileTrigger(scheduler.ReconcileTriggerConfig{
		Interval: cfg.Reconciliation.Interval,
		Jitter:   cfg.Reconciliation.Jitter,
	}, stats, jobQueue, idempotency, log)

	httpEngine, err := router.NewEngine(router.EngineConfig{
		Logger:         log,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		return err
	}
	router.NewRouter(httpEngine, router.WithAPIMiddleware(
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.Session(middleware.SessionConfig{
			Secret:  cfg.Shopify.APISecret,
			APIKey:  cfg.Shopify.APIKey,
			Tenants: st.Tenants(),
			Users:   st.Users(),
			Logger:  log,
		}),
		middleware.SpanAttributes(),
	)).
		RegisterPublic(handler.NewSystemHandler(map[string]handler.Pinger{
			"database": handler.PingFunc(db.Ping),
			"redis":    handler.PingFunc(jobQueue.Ping),
		})).
		RegisterPublic(handler.NewWebhookHandler(ingester, cfg.Shopify.WebhookSecret, cfg.HTTP.WebhookMaxBody)).
		Register(handler.NewComplianceHandler(editor)).
		Register(handler.NewAuditHandler(auditLogger)).
		Register(handler.NewExportHandler(exporter, cfg.Export.PresignTTL)).
		Register(handler.NewReconcileHandler(trigger)).
		Setup()

	if err := pool.Start(ctx); err != nil {
		return err
	}
	if cfg.Reconciliation.Enabled {
		if err := trigger.Start(ctx); err != nil {
			return err
		}
	}
	metrics.StartPeriodicCollection(ctx, cfg.Telemetry.MetricsInterval)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-serveErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then drain workers, then release shared resources
	var errs []error
	errs = append(errs, srv.Shutdown(shutdownCtx))
	if cfg.Reconciliation.Enabled {
		errs = append(errs, trigger.Stop(shutdownCtx))
	}
	errs = append(errs, pool.Stop(shutdownCtx))
	metrics.Stop()
	errs = append(errs,
		pdf.Close(),
		redisClient.Close(),
		db.Close(),
		profiler.Stop(),
		meters.Shutdown(shutdownCtx),
		tracer.Shutdown(shutdownCtx),
		logsProvider.Shutdown(shutdownCtx),
	)
	if err := errors.Join(errs...); err != nil {
		log.Error("Shutdown incomplete", zap.Error(err))
		return err
	}
	log.Info("Server exited gracefully")
	return nil
}
