package handler

import (
	"context"
	"net/http"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/compliancesync/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReconcileTrigger enqueues an out-of-schedule reconciliation pass
type ReconcileTrigger interface {
	TriggerNow(ctx context.Context, tenantID uuid.UUID) (*jobs.Job, error)
}

// ReconcileHandler lets an admin start a reconciliation for their store
type ReconcileHandler struct {
	BaseHandler
	trigger ReconcileTrigger
}

// NewReconcileHandler creates a new ReconcileHandler
func NewReconcileHandler(trigger ReconcileTrigger) *ReconcileHandler {
	return &ReconcileHandler{trigger: trigger}
}

// RegisterRoutes registers the reconcile route
func (h *ReconcileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/reconcile", h.Trigger)
}

// Trigger answers 202 with the queued job id. A pass that is already
// pending absorbs the request and the same id comes back.
func (h *ReconcileHandler) Trigger(c *gin.Context) {
	tenantID, _, ok := h.session(c)
	if !ok {
		return
	}
	if !middleware.GetRole(c).CanTriggerReconcile() {
		h.Error(c, http.StatusForbidden, dto.ErrCodePermissionDenied, "Only admins can start a reconciliation")
		return
	}

	job, err := h.trigger.TriggerNow(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, gin.H{"job_id": job.ID})
}
