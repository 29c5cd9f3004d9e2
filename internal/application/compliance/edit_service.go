package compliance

import (
	"context"
	"errors"
	"sort"

	appaudit "github.com/compliancesync/backend/internal/application/audit"
	"github.com/compliancesync/backend/internal/application/store"
	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EditResult is the outcome of one edit
type EditResult struct {
	Record           *compliance.Record
	ComplianceStatus catalog.ComplianceStatus
	Changed          bool
	Diff             catalog.FieldDiff
}

// EditService applies user edits to compliance records
type EditService struct {
	store  store.Store
	audit  *appaudit.Logger
	clock  shared.Clock
	logger *zap.Logger
}

// NewEditService creates a new EditService
func NewEditService(st store.Store, auditLogger *appaudit.Logger, zl *zap.Logger) *EditService {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &EditService{
		store:  st,
		audit:  auditLogger,
		clock:  shared.Now,
		logger: zl,
	}
}

// ApplyEdit merges changes into the product's compliance record on behalf
// of userID. Only fields whose value changes are written, so concurrent
// edits of different fields both survive. The derived product compliance
// status is recomputed from the merged record.
func (s *EditService) ApplyEdit(ctx context.Context, tenantID, userID, productID uuid.UUID, changes compliance.FieldChanges) (*EditResult, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "compliance", "apply_edit",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrProductID, productID.String()),
	)
	defer span.End()

	user, err := s.store.Users().FindByID(ctx, tenantID, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrForbidden.WithMessage("User does not belong to this shop")
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !user.Role.CanEditCompliance() {
		return nil, shared.ErrPermissionDenied.WithMessage("Role " + string(user.Role) + " cannot edit compliance data")
	}

	normalized, err := changes.Normalize()
	if err != nil {
		return nil, err
	}

	var result *EditResult
	err = s.store.Execute(ctx, func(repos store.Repositories) error {
		var err error
		result, err = s.applyEdit(ctx, repos, tenantID, userID, productID, normalized)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span, "compliance.changed_fields", len(result.Diff))
	telemetry.SetOK(span)
	if result.Changed {
		logger.Enrich(ctx, s.logger).Info("Compliance record updated",
			zap.String("product_id", productID.String()),
			zap.Int("changed_fields", len(result.Diff)),
			zap.String("compliance_status", string(result.ComplianceStatus)),
		)
	}
	return result, nil
}

func (s *EditService) applyEdit(ctx context.Context, repos store.Repositories, tenantID, userID, productID uuid.UUID, changes compliance.FieldChanges) (*EditResult, error) {
	now := s.clock()

	product, err := repos.Products().FindByID(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	if product.IsDeleted {
		return nil, shared.ErrNotFound.WithMessage("Product was deleted")
	}

	record, err := repos.Records().FindByProductID(ctx, tenantID, productID)
	if errors.Is(err, shared.ErrNotFound) {
		record = compliance.NewRecord(tenantID, productID, now)
		err = repos.Records().Create(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	diff := record.Merge(changes, now)
	if len(diff) == 0 {
		return &EditResult{Record: record, ComplianceStatus: product.ComplianceStatus, Diff: diff}, nil
	}

	fields := make([]compliance.Field, 0, len(diff))
	for name := range diff {
		fields = append(fields, compliance.Field(name))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	if err := repos.Records().UpdateFields(ctx, record, fields); err != nil {
		return nil, err
	}

	// The record row is locked from here on. Another edit may have committed
	// other fields and a new product status since the reads above.
	merged, err := repos.Records().FindByProductID(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	current, err := repos.Products().FindByID(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	status := merged.Status()
	if status != current.ComplianceStatus {
		if err := repos.Products().SetComplianceStatus(ctx, tenantID, productID, status, now); err != nil {
			return nil, err
		}
	}

	_, err = s.audit.WithRepository(repos.Audit()).Record(ctx, appaudit.RecordInput{
		TenantID:   tenantID,
		EntityType: audit.EntityComplianceRecord,
		EntityID:   record.ID,
		Action:     audit.ActionUpdate,
		Actor:      audit.UserActor(userID),
		Source:     audit.SourceUser,
		Diff:       diff,
	})
	if err != nil {
		return nil, err
	}

	return &EditResult{
		Record:           merged,
		ComplianceStatus: status,
		Changed:          true,
		Diff:             diff,
	}, nil
}

// GetRecord returns the compliance record of a live product
func (s *EditService) GetRecord(ctx context.Context, tenantID, productID uuid.UUID) (*catalog.Product, *compliance.Record, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, nil, err
	}
	product, err := s.store.Products().FindByID(ctx, tenantID, productID)
	if err != nil {
		return nil, nil, err
	}
	if product.IsDeleted {
		return nil, nil, shared.ErrNotFound.WithMessage("Product was deleted")
	}
	record, err := s.store.Records().FindByProductID(ctx, tenantID, productID)
	if err != nil {
		return nil, nil, err
	}
	return product, record, nil
}
