package handler

import (
	"context"

	appcompliance "github.com/compliancesync/backend/internal/application/compliance"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ComplianceEditor is the compliance use case consumed by the handler
type ComplianceEditor interface {
	ApplyEdit(ctx context.Context, tenantID, userID, productID uuid.UUID, changes compliance.FieldChanges) (*appcompliance.EditResult, error)
	GetRecord(ctx context.Context, tenantID, productID uuid.UUID) (*catalog.Product, *compliance.Record, error)
}

// ComplianceHandler serves product compliance records
type ComplianceHandler struct {
	BaseHandler
	editor ComplianceEditor
}

// NewComplianceHandler creates a new ComplianceHandler
func NewComplianceHandler(editor ComplianceEditor) *ComplianceHandler {
	return &ComplianceHandler{editor: editor}
}

// RegisterRoutes registers the compliance routes
func (h *ComplianceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/products/:id/compliance", h.Get)
	rg.PATCH("/products/:id/compliance", h.Update)
}

// Get returns the product's compliance record
func (h *ComplianceHandler) Get(c *gin.Context) {
	tenantID, _, ok := h.session(c)
	if !ok {
		return
	}
	productID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	product, record, err := h.editor.GetRecord(c.Request.Context(), tenantID, productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewComplianceRecordResponse(product, record, product.ComplianceStatus))
}

// Update merges the given attributes into the product's compliance record
func (h *ComplianceHandler) Update(c *gin.Context) {
	tenantID, userID, ok := h.session(c)
	if !ok {
		return
	}
	productID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateComplianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	changes := make(compliance.FieldChanges, len(req.Fields))
	for k, v := range req.Fields {
		changes[compliance.Field(k)] = v
	}

	ctx := c.Request.Context()
	result, err := h.editor.ApplyEdit(ctx, tenantID, userID, productID, changes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	product, _, err := h.editor.GetRecord(ctx, tenantID, productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := dto.NewComplianceRecordResponse(product, result.Record, result.ComplianceStatus)
	changed := result.Changed
	resp.Changed = &changed
	h.Success(c, resp)
}
