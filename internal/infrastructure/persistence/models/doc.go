// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - base.go: shared columns (id, timestamps, version, tenant id)
//   - identity.go: tenants and users
//   - catalog.go: products
//   - compliance.go: compliance records and the product/record join row
//   - audit.go: append-only audit log
//   - export.go: export requests
package models
