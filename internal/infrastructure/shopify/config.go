package shopify

import (
	"errors"
	"time"

	"github.com/compliancesync/backend/internal/infrastructure/config"
)

const (
	// DefaultAPIVersion is the Admin REST version requested when none is configured
	DefaultAPIVersion = "2024-10"
	// MaxPageSize is the platform's page size limit
	MaxPageSize = 250
)

// Config holds Admin API client settings
type Config struct {
	APIVersion string
	PageSize   int
	Timeout    time.Duration
	// MaxRateLimitRetries bounds waits on 429 responses within one call
	MaxRateLimitRetries int
	// MaxRetryAfter caps a single Retry-After wait
	MaxRetryAfter time.Duration
}

// ErrInvalidPageSize is returned for page sizes outside 1..250
var ErrInvalidPageSize = errors.New("shopify: page size must be between 1 and 250")

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		APIVersion:          DefaultAPIVersion,
		PageSize:            MaxPageSize,
		Timeout:             30 * time.Second,
		MaxRateLimitRetries: 3,
		MaxRetryAfter:       30 * time.Second,
	}
}

// ConfigFrom maps application configuration onto client configuration
func ConfigFrom(cfg config.ShopifyConfig) Config {
	c := DefaultConfig()
	if cfg.APIVersion != "" {
		c.APIVersion = cfg.APIVersion
	}
	if cfg.PageSize > 0 {
		c.PageSize = cfg.PageSize
	}
	if cfg.RequestTimeout > 0 {
		c.Timeout = cfg.RequestTimeout
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return ErrInvalidPageSize
	}
	if c.APIVersion == "" {
		return errors.New("shopify: api version is required")
	}
	return nil
}
