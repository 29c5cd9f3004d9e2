package models

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ComplianceRecordModel is the persistence model for a compliance record.
type ComplianceRecordModel struct {
	TenantAggregateModel
	ProductID            uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex"`
	MaterialComposition  string              `gorm:"type:text;not null;default:''"`
	CountryOfManufacture string              `gorm:"type:varchar(2);not null;default:''"`
	SupplierReference    string              `gorm:"type:text;not null;default:''"`
	Certifications       string              `gorm:"type:text;not null;default:''"`
	CareInstructions     string              `gorm:"type:text;not null;default:''"`
	RecycledContentPct   decimal.NullDecimal `gorm:"type:numeric(5,2)"`
	SafetyWarnings       string              `gorm:"type:text;not null;default:''"`
	EnvironmentalImpact  string              `gorm:"type:text;not null;default:''"`
	ProductDimensions    string              `gorm:"type:text;not null;default:''"`
	ChemicalCompliance   string              `gorm:"type:text;not null;default:''"`
}

// TableName returns the table name for GORM
func (ComplianceRecordModel) TableName() string {
	return "compliance_records"
}

// ToDomain converts the persistence model to a domain Record.
func (m *ComplianceRecordModel) ToDomain() *compliance.Record {
	return &compliance.Record{
		TenantAggregateRoot:  m.ToDomainTenantAggregateRoot(),
		ProductID:            m.ProductID,
		MaterialComposition:  m.MaterialComposition,
		CountryOfManufacture: m.CountryOfManufacture,
		SupplierReference:    m.SupplierReference,
		Certifications:       m.Certifications,
		CareInstructions:     m.CareInstructions,
		RecycledContentPct:   m.RecycledContentPct,
		SafetyWarnings:       m.SafetyWarnings,
		EnvironmentalImpact:  m.EnvironmentalImpact,
		ProductDimensions:    m.ProductDimensions,
		ChemicalCompliance:   m.ChemicalCompliance,
	}
}

// FromDomain populates the persistence model from a domain Record.
func (m *ComplianceRecordModel) FromDomain(r *compliance.Record) {
	m.FromDomainTenantAggregateRoot(r.TenantAggregateRoot)
	m.ProductID = r.ProductID
	m.MaterialComposition = r.MaterialComposition
	m.CountryOfManufacture = r.CountryOfManufacture
	m.SupplierReference = r.SupplierReference
	m.Certifications = r.Certifications
	m.CareInstructions = r.CareInstructions
	m.RecycledContentPct = r.RecycledContentPct
	m.SafetyWarnings = r.SafetyWarnings
	m.EnvironmentalImpact = r.EnvironmentalImpact
	m.ProductDimensions = r.ProductDimensions
	m.ChemicalCompliance = r.ChemicalCompliance
}

// ComplianceRecordModelFromDomain creates a new persistence model from a domain Record.
func ComplianceRecordModelFromDomain(r *compliance.Record) *ComplianceRecordModel {
	m := &ComplianceRecordModel{}
	m.FromDomain(r)
	return m
}

// ColumnValue returns the model value of field as written to its column
func (m *ComplianceRecordModel) ColumnValue(field compliance.Field) any {
	switch field {
	case compliance.FieldMaterialComposition:
		return m.MaterialComposition
	case compliance.FieldCountryOfManufacture:
		return m.CountryOfManufacture
	case compliance.FieldSupplierReference:
		return m.SupplierReference
	case compliance.FieldCertifications:
		return m.Certifications
	case compliance.FieldCareInstructions:
		return m.CareInstructions
	case compliance.FieldRecycledContentPct:
		return m.RecycledContentPct
	case compliance.FieldSafetyWarnings:
		return m.SafetyWarnings
	case compliance.FieldEnvironmentalImpact:
		return m.EnvironmentalImpact
	case compliance.FieldProductDimensions:
		return m.ProductDimensions
	case compliance.FieldChemicalCompliance:
		return m.ChemicalCompliance
	}
	return nil
}

// ProductRecordRow is one row of the products to compliance_records join.
// Record columns are prefixed with rec_.
type ProductRecordRow struct {
	ProductModel
	RecID                   uuid.UUID           `gorm:"column:rec_id"`
	RecVersion              int                 `gorm:"column:rec_version"`
	RecCreatedAt            time.Time           `gorm:"column:rec_created_at"`
	RecUpdatedAt            time.Time           `gorm:"column:rec_updated_at"`
	RecMaterialComposition  string              `gorm:"column:rec_material_composition"`
	RecCountryOfManufacture string              `gorm:"column:rec_country_of_manufacture"`
	RecSupplierReference    string              `gorm:"column:rec_supplier_reference"`
	RecCertifications       string              `gorm:"column:rec_certifications"`
	RecCareInstructions     string              `gorm:"column:rec_care_instructions"`
	RecRecycledContentPct   decimal.NullDecimal `gorm:"column:rec_recycled_content_pct"`
	RecSafetyWarnings       string              `gorm:"column:rec_safety_warnings"`
	RecEnvironmentalImpact  string              `gorm:"column:rec_environmental_impact"`
	RecProductDimensions    string              `gorm:"column:rec_product_dimensions"`
	RecChemicalCompliance   string              `gorm:"column:rec_chemical_compliance"`
}

// ToDomain splits the row into its product and record
func (r *ProductRecordRow) ToDomain() compliance.ProductRecord {
	product := r.ProductModel.ToDomain()
	return compliance.ProductRecord{
		Product: product,
		Record: &compliance.Record{
			TenantAggregateRoot: shared.TenantAggregateRoot{
				BaseAggregateRoot: shared.BaseAggregateRoot{
					BaseEntity: shared.BaseEntity{
						ID:        r.RecID,
						CreatedAt: r.RecCreatedAt.UTC(),
						UpdatedAt: r.RecUpdatedAt.UTC(),
					},
					Version: r.RecVersion,
				},
				TenantID: product.TenantID,
			},
			ProductID:            product.ID,
			MaterialComposition:  r.RecMaterialComposition,
			CountryOfManufacture: r.RecCountryOfManufacture,
			SupplierReference:    r.RecSupplierReference,
			Certifications:       r.RecCertifications,
			CareInstructions:     r.RecCareInstructions,
			RecycledContentPct:   r.RecRecycledContentPct,
			SafetyWarnings:       r.RecSafetyWarnings,
			EnvironmentalImpact:  r.RecEnvironmentalImpact,
			ProductDimensions:    r.RecProductDimensions,
			ChemicalCompliance:   r.RecChemicalCompliance,
		},
	}
}
