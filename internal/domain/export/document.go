package export

import (
	"time"

	"github.com/google/uuid"
)

// Document is the content of an export artifact, independent of format
type Document struct {
	ExportID    uuid.UUID         `json:"export_id"`
	TenantID    uuid.UUID         `json:"tenant_id"`
	ShopDomain  string            `json:"shop_domain"`
	GeneratedAt time.Time         `json:"generated_at"`
	Products    []DocumentProduct `json:"products"`
}

// DocumentProduct is one product with its compliance attributes.
// Fields holds all ten attributes keyed by field name, empty when unset.
type DocumentProduct struct {
	ProductID        uuid.UUID         `json:"product_id"`
	ShopifyProductID int64             `json:"shopify_product_id"`
	Title            string            `json:"title"`
	RemoteStatus     string            `json:"remote_status"`
	ComplianceStatus string            `json:"compliance_status"`
	Fields           map[string]string `json:"fields"`
}
