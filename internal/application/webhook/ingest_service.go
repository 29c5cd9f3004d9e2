// Package webhook turns platform webhook notifications into sync jobs and
// tenant lifecycle changes.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Webhook topics
const (
	TopicProductsCreate = "products/create"
	TopicProductsUpdate = "products/update"
	TopicProductsDelete = "products/delete"
	TopicAppUninstalled = "app/uninstalled"
	TopicShopUpdate     = "shop/update"
)

var (
	ErrMalformedPayload = shared.NewDomainError("MALFORMED_PAYLOAD", "Webhook payload is malformed")
	ErrUnknownTenant    = shared.NewDomainError("UNKNOWN_TENANT", "No tenant is installed for this shop")
	ErrUnsupportedTopic = shared.NewDomainError("UNSUPPORTED_TOPIC", "Webhook topic is not handled")
	ErrTenantInactive   = shared.NewDomainError("TENANT_INACTIVE", "Tenant does not accept sync traffic")
)

// suspendingPlans are shop plans under which the platform blocks the store
var suspendingPlans = map[string]bool{
	"frozen":     true,
	"fraudulent": true,
	"cancelled":  true,
	"dormant":    true,
}

// Notification is one verified webhook delivery
type Notification struct {
	Topic       string
	ShopDomain  string
	WebhookID   string
	TriggeredAt time.Time
	Body        []byte
}

// Status of an ingested notification
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

// IngestResult describes what happened to a notification
type IngestResult struct {
	Status Status `json:"status"`
	Topic  string `json:"topic"`
	JobID  string `json:"job_id,omitempty"`
}

type productPayload struct {
	ID        int64      `json:"id" validate:"required,gt=0"`
	Title     string     `json:"title" validate:"max=2000"`
	Status    string     `json:"status" validate:"required,oneof=active draft archived"`
	UpdatedAt *time.Time `json:"updated_at" validate:"required"`
}

type deletePayload struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type shopPayload struct {
	PlanName string `json:"plan_name"`
}

// IngestService validates and routes webhook notifications
type IngestService struct {
	store       store.Store
	enqueuer    jobs.Enqueuer
	idempotency shared.IdempotencyStore
	idemCfg     shared.IdempotencyConfig
	audit       *appaudit.Logger
	validate    *validator.Validate
	clock       shared.Clock
	logger      *zap.Logger
}

// NewIngestService creates a new IngestService
func NewIngestService(
	st store.Store,
	enqueuer jobs.Enqueuer,
	idempotency shared.IdempotencyStore,
	idemCfg shared.IdempotencyConfig,
	auditLogger *appaudit.Logger,
	zl *zap.Logger,
) *IngestService {
	if zl == nil {
		zl = zap.NewNop()
	}
	if idemCfg.TTL <= 0 {
		idemCfg.TTL = shared.DefaultIdempotencyConfig().TTL
	}
	return &IngestService{
		store:       st,
		enqueuer:    enqueuer,
		idempotency: idempotency,
		idemCfg:     idemCfg,
		audit:       auditLogger,
		validate:    validator.New(),
		clock:       shared.Now,
		logger:      zl,
	}
}

// Ingest handles one notification. Permanent errors mean the notification
// can never succeed and should be acknowledged; transient errors ask the
// platform to redeliver.
func (s *IngestService) Ingest(ctx context.Context, n Notification) (*IngestResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "ingest",
		telemetry.WithAttribute(telemetry.SpanAttrWebhookTopic, n.Topic),
	)
	defer span.End()

	result, err := s.ingest(ctx, n)
	if err != nil {
		telemetry.RecordError(span, err)
		log := logger.Enrich(ctx, s.logger).With(
			zap.String("topic", n.Topic),
			zap.String("shop_domain", n.ShopDomain),
			zap.String("webhook_id", n.WebhookID),
			zap.Error(err),
		)
		if shared.IsPermanent(err) {
			log.Warn("Webhook rejected")
		} else {
			log.Error("Webhook ingest failed")
		}
		return nil, err
	}
	telemetry.SetOK(span)
	return result, nil
}

func (s *IngestService) ingest(ctx context.Context, n Notification) (*IngestResult, error) {
	switch n.Topic {
	case TopicProductsCreate, TopicProductsUpdate, TopicProductsDelete, TopicAppUninstalled, TopicShopUpdate:
	default:
		return nil, ErrUnsupportedTopic.WithMessage("Webhook topic is not handled: " + n.Topic)
	}

	domain := identity.NormalizeShopDomain(n.ShopDomain)
	tenant, err := s.store.Tenants().FindByShopDomain(ctx, domain)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ErrUnknownTenant.WithMessage("No tenant is installed for shop " + domain)
	}
	if err != nil {
		return nil, shared.Transient(err)
	}
	ctx = logger.WithTenantID(ctx, tenant.ID)

	key := s.deliveryKey(tenant, n)
	if key != "" {
		seen, err := s.idempotency.IsProcessed(ctx, key)
		if err != nil {
			logger.Enrich(ctx, s.logger).Warn("Idempotency check failed, processing anyway", zap.Error(err))
		}
		if seen {
			return &IngestResult{Status: StatusDuplicate, Topic: n.Topic}, nil
		}
	}

	var result *IngestResult
	switch n.Topic {
	case TopicProductsCreate, TopicProductsUpdate:
		result, err = s.enqueueSnapshot(ctx, tenant, n)
	case TopicProductsDelete:
		result, err = s.enqueueDeletion(ctx, tenant, n)
	case TopicAppUninstalled:
		result, err = s.uninstall(ctx, tenant, n)
	case TopicShopUpdate:
		result, err = s.updateShop(ctx, tenant, n)
	}
	if err != nil {
		return nil, err
	}

	if key != "" {
		if _, err := s.idempotency.MarkProcessed(ctx, key, s.idemCfg.TTL); err != nil {
			logger.Enrich(ctx, s.logger).Warn("Failed to record webhook delivery", zap.Error(err))
		}
	}
	return result, nil
}

func (s *IngestService) deliveryKey(tenant *identity.Tenant, n Notification) string {
	if !s.idemCfg.Enabled || s.idempotency == nil || n.WebhookID == "" {
		return ""
	}
	return "webhook:" + tenant.ID.String() + ":" + n.WebhookID
}

func (s *IngestService) enqueueSnapshot(ctx context.Context, tenant *identity.Tenant, n Notification) (*IngestResult, error) {
	if !tenant.IsActive() {
		return nil, ErrTenantInactive
	}
	var p productPayload
	if err := s.decode(n.Body, &p); err != nil {
		return nil, err
	}

	snap := catalog.Snapshot{
		RemoteProductID: p.ID,
		RemoteStatus:    catalog.RemoteStatus(p.Status),
		Title:           strings.TrimSpace(p.Title),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
	if err := snap.Validate(); err != nil {
		return nil, ErrMalformedPayload.WithCause(err)
	}
	return s.enqueue(ctx, tenant, n, jobs.TypeSyncSnapshot, jobs.SnapshotPayload{Snapshot: snap, WebhookID: n.WebhookID})
}

func (s *IngestService) enqueueDeletion(ctx context.Context, tenant *identity.Tenant, n Notification) (*IngestResult, error) {
	if !tenant.IsActive() {
		return nil, ErrTenantInactive
	}
	var p deletePayload
	if err := s.decode(n.Body, &p); err != nil {
		return nil, err
	}
	if n.TriggeredAt.IsZero() {
		return nil, ErrMalformedPayload.WithMessage("Deletion requires a triggered-at timestamp")
	}
	return s.enqueue(ctx, tenant, n, jobs.TypeSyncDelete, jobs.DeletePayload{
		RemoteProductID: p.ID,
		DeletedAt:       n.TriggeredAt.UTC(),
		WebhookID:       n.WebhookID,
	})
}

func (s *IngestService) enqueue(ctx context.Context, tenant *identity.Tenant, n Notification, t jobs.Type, payload any) (*IngestResult, error) {
	job, err := jobs.New(t, tenant.ID, payload)
	if err != nil {
		return nil, err
	}
	if n.WebhookID != "" {
		job.WithID("webhook:" + n.WebhookID)
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		return nil, shared.Transient(err)
	}
	return &IngestResult{Status: StatusAccepted, Topic: n.Topic, JobID: job.ID}, nil
}

func (s *IngestService) uninstall(ctx context.Context, tenant *identity.Tenant, n Notification) (*IngestResult, error) {
	err := s.changeTenant(ctx, tenant, func(t *identity.Tenant) (*identity.StatusChange, error) {
		return t.Uninstall(s.clock()), nil
	})
	if err != nil {
		return nil, err
	}
	return &IngestResult{Status: StatusAccepted, Topic: n.Topic}, nil
}

func (s *IngestService) updateShop(ctx context.Context, tenant *identity.Tenant, n Notification) (*IngestResult, error) {
	var p shopPayload
	if err := s.decode(n.Body, &p); err != nil {
		return nil, err
	}
	plan := strings.ToLower(strings.TrimSpace(p.PlanName))

	err := s.changeTenant(ctx, tenant, func(t *identity.Tenant) (*identity.StatusChange, error) {
		if t.Status == identity.TenantStatusUninstalled {
			return nil, nil
		}
		if suspendingPlans[plan] {
			return t.Suspend(s.clock())
		}
		return t.Reactivate(s.clock())
	})
	if err != nil {
		return nil, err
	}
	return &IngestResult{Status: StatusAccepted, Topic: n.Topic}, nil
}

// changeTenant applies mutate to a fresh copy of the tenant and persists
// the status change with its audit entry in one transaction
func (s *IngestService) changeTenant(ctx context.Context, tenant *identity.Tenant, mutate func(*identity.Tenant) (*identity.StatusChange, error)) error {
	err := s.store.Execute(ctx, func(repos store.Repositories) error {
		current, err := repos.Tenants().FindByID(ctx, tenant.ID)
		if err != nil {
			return err
		}
		expected := current.Version
		change, err := mutate(current)
		if err != nil || change == nil {
			return err
		}
		if err := repos.Tenants().Update(ctx, current, expected); err != nil {
			return err
		}
		_, err = s.audit.WithRepository(repos.Audit()).Record(ctx, appaudit.RecordInput{
			TenantID:   current.ID,
			EntityType: audit.EntityTenant,
			EntityID:   current.ID,
			Action:     audit.ActionUpdate,
			Actor:      audit.SystemActor(),
			Source:     audit.SourceWebhook,
			Diff: map[string]any{"status": map[string]any{
				"before": change.From,
				"after":  change.To,
			}},
		})
		if err == nil {
			logger.Enrich(ctx, s.logger).Info("Tenant status changed",
				zap.String("from", string(change.From)),
				zap.String("to", string(change.To)),
			)
		}
		return err
	})
	if err != nil && !shared.IsPermanent(err) {
		return shared.Transient(err)
	}
	return err
}

func (s *IngestService) decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return ErrMalformedPayload.WithCause(err)
	}
	if err := s.validate.Struct(v); err != nil {
		return ErrMalformedPayload.WithCause(err)
	}
	return nil
}
