package persistence

import (
	"context"

	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormComplianceRecordRepository implements RecordRepository using GORM
type GormComplianceRecordRepository struct {
	db *gorm.DB
}

// NewGormComplianceRecordRepository creates a new GormComplianceRecordRepository
func NewGormComplianceRecordRepository(db *gorm.DB) *GormComplianceRecordRepository {
	return &GormComplianceRecordRepository{db: db}
}

// FindByProductID finds the record of a product in the tenant
func (r *GormComplianceRecordRepository) FindByProductID(ctx context.Context, tenantID, productID uuid.UUID) (*compliance.Record, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var model models.ComplianceRecordModel
	err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Where("product_id = ?", productID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err, "Compliance record")
	}
	return model.ToDomain(), nil
}

// Create inserts a new record
func (r *GormComplianceRecordRepository) Create(ctx context.Context, record *compliance.Record) error {
	if err := shared.RequireTenant(record.TenantID); err != nil {
		return err
	}
	return conflictOnDuplicate(r.db.WithContext(ctx).Create(models.ComplianceRecordModelFromDomain(record)).Error)
}

// UpdateFields writes only the listed columns; other columns keep their stored value.
// updated_at is taken from the record, stamped by Merge.
func (r *GormComplianceRecordRepository) UpdateFields(ctx context.Context, record *compliance.Record, fields []compliance.Field) error {
	if err := shared.RequireTenant(record.TenantID); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	if record.UpdatedAt.IsZero() {
		return shared.ErrInvalidInput.WithMessage("Compliance record has no update time")
	}

	model := models.ComplianceRecordModelFromDomain(record)
	updates := make(map[string]any, len(fields)+2)
	for _, f := range fields {
		if !f.IsValid() {
			return compliance.ErrUnknownField
		}
		updates[string(f)] = model.ColumnValue(f)
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = record.UpdatedAt.UTC()

	result := r.db.WithContext(ctx).
		Model(&models.ComplianceRecordModel{}).
		Scopes(tenantScope(record.TenantID)).
		Where("product_id = ?", record.ProductID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound.WithMessage("Compliance record not found")
	}
	return nil
}

const productRecordColumns = `products.*,
	r.id AS rec_id,
	r.version AS rec_version,
	r.created_at AS rec_created_at,
	r.updated_at AS rec_updated_at,
	r.material_composition AS rec_material_composition,
	r.country_of_manufacture AS rec_country_of_manufacture,
	r.supplier_reference AS rec_supplier_reference,
	r.certifications AS rec_certifications,
	r.care_instructions AS rec_care_instructions,
	r.recycled_content_pct AS rec_recycled_content_pct,
	r.safety_warnings AS rec_safety_warnings,
	r.environmental_impact AS rec_environmental_impact,
	r.product_dimensions AS rec_product_dimensions,
	r.chemical_compliance AS rec_chemical_compliance`

// ListLiveWithProducts returns every non-deleted product of the tenant with
// its record, read by one statement so both sides come from the same snapshot
func (r *GormComplianceRecordRepository) ListLiveWithProducts(ctx context.Context, tenantID uuid.UUID) ([]compliance.ProductRecord, error) {
	if err := shared.RequireTenant(tenantID); err != nil {
		return nil, err
	}
	var rows []models.ProductRecordRow
	err := r.db.WithContext(ctx).
		Table("products").
		Select(productRecordColumns).
		Joins("JOIN compliance_records r ON r.product_id = products.id AND r.tenant_id = products.tenant_id").
		Where("products.tenant_id = ? AND products.is_deleted = ?", tenantID, false).
		Order("products.shopify_product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]compliance.ProductRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ compliance.RecordRepository = (*GormComplianceRecordRepository)(nil)
