package handler

import (
	"context"
	"net/http"

	"github.com/compliancesync/backend/internal/domain/audit"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HistoryReader pages through a tenant's audit log
type HistoryReader interface {
	History(ctx context.Context, tenantID uuid.UUID, q audit.HistoryQuery) (*audit.HistoryPage, error)
}

// AuditHandler serves the audit history
type AuditHandler struct {
	BaseHandler
	history HistoryReader
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(history HistoryReader) *AuditHandler {
	return &AuditHandler{history: history}
}

// RegisterRoutes registers the audit routes
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/audit", h.List)
}

// List returns one page of audit entries, oldest first. Pass meta.next_cursor
// as after to continue.
func (h *AuditHandler) List(c *gin.Context) {
	tenantID, _, ok := h.session(c)
	if !ok {
		return
	}

	var req dto.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}
	q := audit.HistoryQuery{After: req.After, Limit: req.Limit}
	if req.EntityID != "" {
		id := uuid.MustParse(req.EntityID)
		q.EntityID = &id
	}

	page, err := h.history.History(c.Request.Context(), tenantID, q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithCursor(dto.NewAuditEntryResponses(page.Entries), len(page.Entries), page.NextCursor))
}
