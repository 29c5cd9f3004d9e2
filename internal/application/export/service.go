package export

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ErrPresignUnsupported is returned by DownloadURL when the artifact store
// cannot hand out direct links
var ErrPresignUnsupported = shared.NewDomainError("PRESIGN_UNSUPPORTED", "Artifact store does not support download links")

// ArtifactStore persists rendered artifacts and returns opaque handles
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
}

// URLPresigner is implemented by artifact stores that can issue
// time-limited download links
type URLPresigner interface {
	PresignURL(ctx context.Context, handle string, ttl time.Duration) (string, error)
}

// Service accepts export requests and serves their results
type Service struct {
	store     store.Store
	enqueuer  jobs.Enqueuer
	artifacts ArtifactStore
	clock     shared.Clock
	logger    *zap.Logger
}

// NewService creates a new export Service
func NewService(st store.Store, enqueuer jobs.Enqueuer, artifacts ArtifactStore, zl *zap.Logger) *Service {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Service{
		store:     st,
		enqueuer:  enqueuer,
		artifacts: artifacts,
		clock:     shared.Now,
		logger:    zl,
	}
}

// Generate records a queued export and schedules its production.
// requestedBy is nil for system-initiated exports.
func (s *Service) Generate(ctx context.Context, tenantID uuid.UUID, format export.Format, requestedBy *uuid.UUID) (uuid.UUID, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return uuid.Nil, err
	}
	if !format.IsValid() {
		return uuid.Nil, export.ErrInvalidFormat
	}
	if requestedBy != nil {
		user, err := s.store.Users().FindByID(ctx, tenantID, *requestedBy)
		if errors.Is(err, shared.ErrNotFound) {
			return uuid.Nil, shared.ErrForbidden.WithMessage("User does not belong to this shop")
		}
		if err != nil {
			return uuid.Nil, err
		}
		if !user.Role.CanRequestExport() {
			return uuid.Nil, shared.ErrPermissionDenied.WithMessage("Role " + string(user.Role) + " cannot request exports")
		}
	}

	exp, err := export.NewExport(tenantID, format, requestedBy, s.clock())
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.store.Exports().Create(ctx, exp); err != nil {
		return uuid.Nil, err
	}

	log := logger.Enrich(ctx, s.logger).With(zap.String("export_id", exp.ID.String()))
	job, err := jobs.New(jobs.TypeExportGenerate, tenantID, jobs.ExportPayload{ExportID: exp.ID})
	if err == nil {
		err = s.enqueuer.Enqueue(ctx, job.WithID("export:"+exp.ID.String()))
	}
	if err != nil {
		log.Error("Failed to enqueue export", zap.Error(err))
		if failErr := exp.Fail("enqueue failed", s.clock()); failErr == nil {
			if err := s.store.Exports().Transition(ctx, exp, export.StatusQueued); err != nil {
				log.Warn("Failed to mark export failed", zap.Error(err))
			}
		}
		return uuid.Nil, shared.Transient(err)
	}

	log.Info("Export queued", zap.String("format", string(format)))
	return exp.ID, nil
}

// Status returns the export of the tenant
func (s *Service) Status(ctx context.Context, tenantID, exportID uuid.UUID) (*export.Export, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	return s.store.Exports().FindByID(ctx, tenantID, exportID)
}

// List returns the tenant's most recent exports, newest first
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*export.Export, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.Exports().ListRecent(ctx, tenantID, limit)
}

// OpenArtifact opens the stored artifact of a completed export. The caller
// closes the reader.
func (s *Service) OpenArtifact(ctx context.Context, tenantID, exportID uuid.UUID) (io.ReadCloser, *export.Export, error) {
	exp, err := s.completed(ctx, tenantID, exportID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.artifacts.Open(ctx, exp.StorageHandle)
	if err != nil {
		return nil, nil, err
	}
	return body, exp, nil
}

// DownloadURL returns a time-limited link to the artifact of a completed export
func (s *Service) DownloadURL(ctx context.Context, tenantID, exportID uuid.UUID, ttl time.Duration) (string, error) {
	presigner, ok := s.artifacts.(URLPresigner)
	if !ok {
		return "", ErrPresignUnsupported
	}
	exp, err := s.completed(ctx, tenantID, exportID)
	if err != nil {
		return "", err
	}
	return presigner.PresignURL(ctx, exp.StorageHandle, ttl)
}

func (s *Service) completed(ctx context.Context, tenantID, exportID uuid.UUID) (*export.Export, error) {
	exp, err := s.Status(ctx, tenantID, exportID)
	if err != nil {
		return nil, err
	}
	if exp.Status != export.StatusCompleted {
		return nil, export.ErrNotCompleted
	}
	return exp, nil
}
