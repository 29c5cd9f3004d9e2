package compliance

import (
	"strings"
	"unicode/utf8"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Field names one of the ten regulatory attributes of a product
type Field string

const (
	FieldMaterialComposition  Field = "material_composition"
	FieldCountryOfManufacture Field = "country_of_manufacture"
	FieldSupplierReference    Field = "supplier_reference"
	FieldCertifications       Field = "certifications"
	FieldCareInstructions     Field = "care_instructions"
	FieldRecycledContentPct   Field = "recycled_content_pct"
	FieldSafetyWarnings       Field = "safety_warnings"
	FieldEnvironmentalImpact  Field = "environmental_impact"
	FieldProductDimensions    Field = "product_dimensions"
	FieldChemicalCompliance   Field = "chemical_compliance"
)

// AllFields lists every attribute in display order
var AllFields = []Field{
	FieldMaterialComposition,
	FieldCountryOfManufacture,
	FieldSupplierReference,
	FieldCertifications,
	FieldCareInstructions,
	FieldRecycledContentPct,
	FieldSafetyWarnings,
	FieldEnvironmentalImpact,
	FieldProductDimensions,
	FieldChemicalCompliance,
}

// MaxFieldLength bounds free-text attributes, in characters
const MaxFieldLength = 2000

var (
	ErrUnknownField   = shared.NewDomainError("UNKNOWN_FIELD", "Unknown compliance field")
	ErrFieldTooLong   = shared.NewDomainError("FIELD_TOO_LONG", "Compliance field exceeds 2000 characters")
	ErrInvalidCountry = shared.NewDomainError("INVALID_COUNTRY", "Country of manufacture must be an ISO 3166-1 alpha-2 code")
	ErrInvalidPercent = shared.NewDomainError("INVALID_PERCENT", "Recycled content must be a number between 0 and 100")
	ErrNoChanges      = shared.NewDomainError("NO_CHANGES", "At least one field change is required")
)

var validate = validator.New()

// IsValid reports whether f is one of the ten attributes
func (f Field) IsValid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// FieldChanges maps attributes to their new value. An empty value clears
// the attribute.
type FieldChanges map[Field]string

// Normalize validates every change and returns canonical values:
// trimmed text, upper-case country codes, and percentages rounded to two
// decimals.
func (c FieldChanges) Normalize() (FieldChanges, error) {
	if len(c) == 0 {
		return nil, ErrNoChanges
	}
	out := make(FieldChanges, len(c))
	for field, raw := range c {
		value, err := normalizeValue(field, raw)
		if err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, nil
}

func normalizeValue(field Field, raw string) (string, error) {
	if !field.IsValid() {
		return "", ErrUnknownField.WithMessage("Unknown compliance field: " + string(field))
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	if utf8.RuneCountInString(value) > MaxFieldLength {
		return "", ErrFieldTooLong
	}

	switch field {
	case FieldCountryOfManufacture:
		value = strings.ToUpper(value)
		if err := validate.Var(value, "iso3166_1_alpha2"); err != nil {
			return "", ErrInvalidCountry
		}
	case FieldRecycledContentPct:
		pct, err := decimal.NewFromString(value)
		if err != nil {
			return "", ErrInvalidPercent
		}
		if pct.LessThan(decimal.Zero) || pct.GreaterThan(decimal.NewFromInt(100)) {
			return "", ErrInvalidPercent
		}
		value = pct.Round(2).String()
	}
	return value, nil
}
