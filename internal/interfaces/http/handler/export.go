package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appexport "github.com/compliancesync/backend/internal/application/export"
	"github.com/compliancesync/backend/internal/domain/export"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Exporter is the export use case consumed by the handler
type Exporter interface {
	Generate(ctx context.Context, tenantID uuid.UUID, format export.Format, requestedBy *uuid.UUID) (uuid.UUID, error)
	Status(ctx context.Context, tenantID, exportID uuid.UUID) (*export.Export, error)
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*export.Export, error)
	OpenArtifact(ctx context.Context, tenantID, exportID uuid.UUID) (io.ReadCloser, *export.Export, error)
	DownloadURL(ctx context.Context, tenantID, exportID uuid.UUID, ttl time.Duration) (string, error)
}

// ExportHandler requests exports and delivers their artifacts
type ExportHandler struct {
	BaseHandler
	exporter   Exporter
	presignTTL time.Duration
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(exporter Exporter, presignTTL time.Duration) *ExportHandler {
	return &ExportHandler{exporter: exporter, presignTTL: presignTTL}
}

// RegisterRoutes registers the export routes
func (h *ExportHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/exports", h.Create)
	rg.GET("/exports", h.List)
	rg.GET("/exports/:id", h.Get)
	rg.GET("/exports/:id/download", h.Download)
}

// Create queues a new export and answers 202 with its id
func (h *ExportHandler) Create(c *gin.Context) {
	tenantID, userID, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	id, err := h.exporter.Generate(c.Request.Context(), tenantID, export.Format(req.Format), &userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Header("Location", "/api/v1/exports/"+id.String())
	h.Accepted(c, gin.H{"id": id.String(), "status": export.StatusQueued})
}

// List returns the tenant's recent exports
func (h *ExportHandler) List(c *gin.Context) {
	tenantID, _, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.ListExportsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}

	exports, err := h.exporter.List(c.Request.Context(), tenantID, req.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.ExportResponse, 0, len(exports))
	for _, e := range exports {
		out = append(out, dto.NewExportResponse(e))
	}
	h.Success(c, out)
}

// Get returns the state of one export
func (h *ExportHandler) Get(c *gin.Context) {
	tenantID, _, ok := h.session(c)
	if !ok {
		return
	}
	exportID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	exp, err := h.exporter.Status(c.Request.Context(), tenantID, exportID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewExportResponse(exp))
}

// Download redirects to a presigned link when the artifact store issues
// them and streams the artifact otherwise
func (h *ExportHandler) Download(c *gin.Context) {
	tenantID, _, ok := h.session(c)
	if !ok {
		return
	}
	exportID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	link, err := h.exporter.DownloadURL(ctx, tenantID, exportID, h.presignTTL)
	if err == nil {
		c.Redirect(http.StatusFound, link)
		return
	}
	if !errors.Is(err, appexport.ErrPresignUnsupported) {
		h.HandleError(c, err)
		return
	}

	body, exp, err := h.exporter.OpenArtifact(ctx, tenantID, exportID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	defer body.Close()

	filename := fmt.Sprintf("compliance-export-%s.%s", exp.ID, exp.Format.Extension())
	logger.L(ctx).Debug("Streaming export artifact", zap.String("export_id", exp.ID.String()))
	c.DataFromReader(http.StatusOK, -1, exp.Format.ContentType(), body, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, filename),
	})
}
