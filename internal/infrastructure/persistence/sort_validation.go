package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// filterOrderDir defaults product listings to ascending order
func filterOrderDir(orderDir string) string {
	if strings.TrimSpace(orderDir) == "" {
		return "ASC"
	}
	return orderDir
}

// ProductSortFields contains allowed sort fields for products
var ProductSortFields = map[string]bool{
	"shopify_product_id": true,
	"title":              true,
	"created_at":         true,
	"updated_at":         true,
	"last_synced_at":     true,
	"compliance_status":  true,
}
