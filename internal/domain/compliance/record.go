package compliance

import (
	"time"

	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record holds the regulatory attributes of exactly one product
type Record struct {
	shared.TenantAggregateRoot
	ProductID            uuid.UUID
	MaterialComposition  string
	CountryOfManufacture string
	SupplierReference    string
	Certifications       string
	CareInstructions     string
	RecycledContentPct   decimal.NullDecimal
	SafetyWarnings       string
	EnvironmentalImpact  string
	ProductDimensions    string
	ChemicalCompliance   string
}

// NewRecord creates the empty record that accompanies a new product
func NewRecord(tenantID, productID uuid.UUID, now time.Time) *Record {
	return &Record{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		ProductID:           productID,
	}
}

// Get returns the canonical string value of field, empty when unset
func (r *Record) Get(field Field) string {
	switch field {
	case FieldMaterialComposition:
		return r.MaterialComposition
	case FieldCountryOfManufacture:
		return r.CountryOfManufacture
	case FieldSupplierReference:
		return r.SupplierReference
	case FieldCertifications:
		return r.Certifications
	case FieldCareInstructions:
		return r.CareInstructions
	case FieldRecycledContentPct:
		if !r.RecycledContentPct.Valid {
			return ""
		}
		return r.RecycledContentPct.Decimal.Round(2).String()
	case FieldSafetyWarnings:
		return r.SafetyWarnings
	case FieldEnvironmentalImpact:
		return r.EnvironmentalImpact
	case FieldProductDimensions:
		return r.ProductDimensions
	case FieldChemicalCompliance:
		return r.ChemicalCompliance
	}
	return ""
}

// set assigns an already normalized value
func (r *Record) set(field Field, value string) {
	switch field {
	case FieldMaterialComposition:
		r.MaterialComposition = value
	case FieldCountryOfManufacture:
		r.CountryOfManufacture = value
	case FieldSupplierReference:
		r.SupplierReference = value
	case FieldCertifications:
		r.Certifications = value
	case FieldCareInstructions:
		r.CareInstructions = value
	case FieldRecycledContentPct:
		if value == "" {
			r.RecycledContentPct = decimal.NullDecimal{}
			return
		}
		r.RecycledContentPct = decimal.NewNullDecimal(decimal.RequireFromString(value))
	case FieldSafetyWarnings:
		r.SafetyWarnings = value
	case FieldEnvironmentalImpact:
		r.EnvironmentalImpact = value
	case FieldProductDimensions:
		r.ProductDimensions = value
	case FieldChemicalCompliance:
		r.ChemicalCompliance = value
	}
}

// Values returns all ten attributes keyed by field
func (r *Record) Values() map[Field]string {
	out := make(map[Field]string, len(AllFields))
	for _, f := range AllFields {
		out[f] = r.Get(f)
	}
	return out
}

// Merge applies normalized changes field by field and returns only the
// fields whose value actually changed. Untouched fields keep their value.
func (r *Record) Merge(changes FieldChanges, now time.Time) catalog.FieldDiff {
	diff := catalog.FieldDiff{}
	for _, field := range AllFields {
		next, ok := changes[field]
		if !ok {
			continue
		}
		prev := r.Get(field)
		if prev == next {
			continue
		}
		r.set(field, next)
		diff.Add(string(field), prev, next)
	}
	if len(diff) > 0 {
		r.Touch(now)
		r.IncrementVersion()
	}
	return diff
}

// FilledCount returns how many attributes are non-empty
func (r *Record) FilledCount() int {
	n := 0
	for _, f := range AllFields {
		if r.Get(f) != "" {
			n++
		}
	}
	return n
}

// Status derives the product compliance status from the record:
// pending when nothing is set, complete when all ten are set.
func (r *Record) Status() catalog.ComplianceStatus {
	switch n := r.FilledCount(); {
	case n == 0:
		return catalog.ComplianceStatusPending
	case n == len(AllFields):
		return catalog.ComplianceStatusComplete
	default:
		return catalog.ComplianceStatusInProgress
	}
}
