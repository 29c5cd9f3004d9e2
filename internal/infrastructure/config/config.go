package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Shopify        ShopifyConfig
	Reconciliation ReconciliationConfig
	Worker         WorkerConfig
	Sync           SyncConfig
	Export         ExportConfig
	Storage        StorageConfig
	Telemetry      TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	MaxBodySize     int64
	WebhookMaxBody  int64
	ShutdownTimeout time.Duration
	TrustedProxies  []string
}

// ShopifyConfig holds settings for the commerce platform
type ShopifyConfig struct {
	APIVersion     string
	WebhookSecret  string        // HMAC key of webhook deliveries
	APIKey         string        // audience of session tokens
	APISecret      string        // HS256 key of session tokens
	RequestTimeout time.Duration // per Admin API call
	PageSize       int
}

// ReconciliationConfig holds the periodic full-catalog pass settings
type ReconciliationConfig struct {
	Enabled     bool
	Interval    time.Duration
	Jitter      time.Duration
	GraceWindow time.Duration // products younger than this are never inferred deleted
}

// WorkerConfig holds job queue consumer settings
type WorkerConfig struct {
	Concurrency      int
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	SyncTimeout      time.Duration
	ReconcileTimeout time.Duration
	ExportTimeout    time.Duration
	VisibilityMargin time.Duration // added to the job timeout before a job is considered lost
	ReapInterval     time.Duration
	PollTimeout      time.Duration
}

// SyncConfig holds sync engine settings
type SyncConfig struct {
	MaxConflictRetries int
	ConflictBackoff    time.Duration
}

// ExportConfig holds export generation settings
type ExportConfig struct {
	PresignTTL      time.Duration
	ChromeRemoteURL string // empty launches a local headless browser
	ChromeNoSandbox bool   // needed when the local browser runs as root in a container
	RenderTimeout   time.Duration
}

// StorageConfig holds export artifact storage settings
type StorageConfig struct {
	Driver          string // s3, memory
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// Continuous profiling
	ProfilingEnabled bool
	PyroscopeURL     string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CSYNC_ prefix (e.g., CSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:  v.GetInt("http.max_header_bytes"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			WebhookMaxBody:  v.GetInt64("http.webhook_max_body"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
		},
		Shopify: ShopifyConfig{
			APIVersion:     v.GetString("shopify.api_version"),
			WebhookSecret:  v.GetString("shopify.webhook_secret"),
			APIKey:         v.GetString("shopify.api_key"),
			APISecret:      v.GetString("shopify.api_secret"),
			RequestTimeout: v.GetDuration("shopify.request_timeout"),
			PageSize:       v.GetInt("shopify.page_size"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:     v.GetBool("reconciliation.enabled"),
			Interval:    v.GetDuration("reconciliation.interval"),
			Jitter:      v.GetDuration("reconciliation.jitter"),
			GraceWindow: v.GetDuration("reconciliation.grace_window"),
		},
		Worker: WorkerConfig{
			Concurrency:      v.GetInt("worker.concurrency"),
			MaxAttempts:      v.GetInt("worker.max_attempts"),
			BaseBackoff:      v.GetDuration("worker.base_backoff"),
			MaxBackoff:       v.GetDuration("worker.max_backoff"),
			SyncTimeout:      v.GetDuration("worker.sync_timeout"),
			ReconcileTimeout: v.GetDuration("worker.reconcile_timeout"),
			ExportTimeout:    v.GetDuration("worker.export_timeout"),
			VisibilityMargin: v.GetDuration("worker.visibility_margin"),
			ReapInterval:     v.GetDuration("worker.reap_interval"),
			PollTimeout:      v.GetDuration("worker.poll_timeout"),
		},
		Sync: SyncConfig{
			MaxConflictRetries: v.GetInt("sync.max_conflict_retries"),
			ConflictBackoff:    v.GetDuration("sync.conflict_backoff"),
		},
		Export: ExportConfig{
			PresignTTL:      v.GetDuration("export.presign_ttl"),
			ChromeRemoteURL: v.GetString("export.chrome_remote_url"),
			ChromeNoSandbox: v.GetBool("export.chrome_no_sandbox"),
			RenderTimeout:   v.GetDuration("export.render_timeout"),
		},
		Storage: StorageConfig{
			Driver:          v.GetString("storage.driver"),
			Bucket:          v.GetString("storage.bucket"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeURL:      v.GetString("telemetry.pyroscope_url"),
		},
	}

	// Reconciliation runs unless explicitly disabled
	if !v.IsSet("reconciliation.enabled") {
		cfg.Reconciliation.Enabled = true
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "compliance-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "compliance_sync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "csync"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.WebhookMaxBody == 0 {
		cfg.HTTP.WebhookMaxBody = 1 << 20 // 1MB
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2024-10"
	}
	if cfg.Shopify.RequestTimeout == 0 {
		cfg.Shopify.RequestTimeout = 30 * time.Second
	}
	if cfg.Shopify.PageSize == 0 {
		cfg.Shopify.PageSize = 250
	}
	if cfg.Reconciliation.Interval == 0 {
		cfg.Reconciliation.Interval = 6 * time.Hour
	}
	if cfg.Reconciliation.GraceWindow == 0 {
		cfg.Reconciliation.GraceWindow = 15 * time.Minute
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 8
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.BaseBackoff == 0 {
		cfg.Worker.BaseBackoff = 2 * time.Second
	}
	if cfg.Worker.MaxBackoff == 0 {
		cfg.Worker.MaxBackoff = 10 * time.Minute
	}
	if cfg.Worker.SyncTimeout == 0 {
		cfg.Worker.SyncTimeout = 10 * time.Second
	}
	if cfg.Worker.ReconcileTimeout == 0 {
		cfg.Worker.ReconcileTimeout = 30 * time.Minute
	}
	if cfg.Worker.ExportTimeout == 0 {
		cfg.Worker.ExportTimeout = 5 * time.Minute
	}
	if cfg.Worker.VisibilityMargin == 0 {
		cfg.Worker.VisibilityMargin = 30 * time.Second
	}
	if cfg.Worker.ReapInterval == 0 {
		cfg.Worker.ReapInterval = 15 * time.Second
	}
	if cfg.Worker.PollTimeout == 0 {
		cfg.Worker.PollTimeout = 2 * time.Second
	}
	if cfg.Sync.MaxConflictRetries == 0 {
		cfg.Sync.MaxConflictRetries = 3
	}
	if cfg.Sync.ConflictBackoff == 0 {
		cfg.Sync.ConflictBackoff = 20 * time.Millisecond
	}
	if cfg.Export.PresignTTL == 0 {
		cfg.Export.PresignTTL = 15 * time.Minute
	}
	if cfg.Export.RenderTimeout == 0 {
		cfg.Export.RenderTimeout = 2 * time.Minute
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "compliance-exports"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "compliance-sync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.PyroscopeURL == "" {
		cfg.Telemetry.PyroscopeURL = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.BaseBackoff > c.Worker.MaxBackoff {
		return fmt.Errorf("worker.base_backoff (%s) cannot exceed worker.max_backoff (%s)",
			c.Worker.BaseBackoff, c.Worker.MaxBackoff)
	}
	if c.Reconciliation.GraceWindow < 0 {
		return fmt.Errorf("reconciliation.grace_window cannot be negative")
	}
	if c.Shopify.PageSize > 250 {
		return fmt.Errorf("shopify.page_size cannot exceed 250, got %d", c.Shopify.PageSize)
	}
	switch c.Storage.Driver {
	case "s3", "memory":
	default:
		return fmt.Errorf("storage.driver must be s3 or memory, got %q", c.Storage.Driver)
	}

	if c.App.Env == "production" {
		if len(c.Shopify.WebhookSecret) < 32 {
			return fmt.Errorf("shopify.webhook_secret must be at least 32 characters in production")
		}
		if len(c.Shopify.APISecret) < 32 {
			return fmt.Errorf("shopify.api_secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Storage.Driver != "s3" {
			return fmt.Errorf("storage.driver must be s3 in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// JobTimeouts returns the handler timeout per job type
func (w WorkerConfig) JobTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"sync.snapshot":    w.SyncTimeout,
		"sync.delete":      w.SyncTimeout,
		"reconcile.tenant": w.ReconcileTimeout,
		"export.generate":  w.ExportTimeout,
	}
}
