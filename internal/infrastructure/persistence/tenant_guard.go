package persistence

import (
	"strings"

	"github.com/compliancesync/backend/internal/domain/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTenantScopeMissing is added to statements against tenant-owned tables
// that carry no tenant_id condition
var ErrTenantScopeMissing = shared.ErrTenantRequired.WithMessage("Query on tenant-owned table has no tenant_id condition")

// TenantOwnedTables lists the tables whose rows belong to exactly one tenant
var TenantOwnedTables = []string{"products", "compliance_records", "audit_logs", "exports", "users"}

const tenantColumn = "tenant_id"

// TenantGuard rejects reads, updates and deletes on tenant-owned tables
// unless the statement is filtered by tenant_id. Creates are not checked;
// the row itself carries its tenant.
type TenantGuard struct {
	tables map[string]struct{}
}

// NewTenantGuard creates a guard for the given tables
func NewTenantGuard(tables ...string) *TenantGuard {
	if len(tables) == 0 {
		tables = TenantOwnedTables
	}
	g := &TenantGuard{tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		g.tables[t] = struct{}{}
	}
	return g
}

// Register installs the guard callbacks on db
func (g *TenantGuard) Register(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", g.check); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", g.check); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", g.check); err != nil {
		return err
	}
	return cb.Row().Before("gorm:row").Register("tenant_guard:row", g.check)
}

func (g *TenantGuard) check(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	if _, guarded := g.tables[db.Statement.Table]; !guarded {
		return
	}
	if hasTenantCondition(db.Statement) {
		return
	}
	_ = db.AddError(ErrTenantScopeMissing)
}

// hasTenantCondition checks the WHERE clause, then any hand-built SQL
func hasTenantCondition(stmt *gorm.Statement) bool {
	if c, ok := stmt.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok {
			for _, expr := range where.Exprs {
				if exprMentionsTenant(expr) {
					return true
				}
			}
		}
	}
	return strings.Contains(stmt.SQL.String(), tenantColumn)
}

func exprMentionsTenant(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		return columnIsTenant(e.Column)
	case clause.IN:
		return columnIsTenant(e.Column)
	case clause.Expr:
		return strings.Contains(e.SQL, tenantColumn)
	case clause.NamedExpr:
		return strings.Contains(e.SQL, tenantColumn)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if exprMentionsTenant(cond) {
				return true
			}
		}
	case clause.OrConditions:
		// Every branch must be scoped or one of them can leak
		if len(e.Exprs) == 0 {
			return false
		}
		for _, cond := range e.Exprs {
			if !exprMentionsTenant(cond) {
				return false
			}
		}
		return true
	}
	return false
}

func columnIsTenant(col any) bool {
	switch c := col.(type) {
	case clause.Column:
		return c.Name == tenantColumn
	case string:
		return c == tenantColumn || strings.HasSuffix(c, "."+tenantColumn)
	}
	return false
}
