package storage

import (
	"context"
	"fmt"
	"time"

	exportapp "github.com/compliancesync/backend/internal/application/export"
	"github.com/compliancesync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Storage drivers
const (
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// New builds the artifact store selected by cfg.Driver
func New(ctx context.Context, cfg config.StorageConfig, presignTTL time.Duration, logger *zap.Logger) (exportapp.ArtifactStore, error) {
	switch cfg.Driver {
	case DriverS3:
		store, err := NewS3ArtifactStore(ctx, &cfg, WithLogger(logger), WithPresignTTL(presignTTL))
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("Using S3 artifact storage", zap.String("bucket", store.Bucket()))
		return store, nil
	case DriverMemory, "":
		logger.Warn("Using in-memory artifact storage; artifacts are lost on restart")
		return NewMemoryArtifactStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
