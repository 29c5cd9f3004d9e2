package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/compliancesync/backend/internal/application/webhook"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/logger"
	"github.com/compliancesync/backend/internal/infrastructure/shopify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultWebhookMaxBody is the largest accepted delivery (1 MiB)
const DefaultWebhookMaxBody = 1 << 20

// Webhook delivery headers
const (
	HeaderTopic       = "X-Shopify-Topic"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
	HeaderHMAC        = "X-Shopify-Hmac-Sha256"
)

// Ingester accepts verified notifications
type Ingester interface {
	Ingest(ctx context.Context, n webhook.Notification) (*webhook.IngestResult, error)
}

// WebhookHandler receives platform webhook deliveries. Platform calls are
// authenticated by HMAC, not by session.
type WebhookHandler struct {
	BaseHandler
	ingester Ingester
	secret   string
	maxBody  int64
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingester Ingester, secret string, maxBody int64) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = DefaultWebhookMaxBody
	}
	return &WebhookHandler{
		ingester: ingester,
		secret:   secret,
		maxBody:  maxBody,
	}
}

// WebhookResponse is the body answered to the platform
type WebhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RegisterRoutes registers the receiver on the engine root
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/shopify", h.Receive)
}

// Receive verifies and ingests one delivery.
// 200 means the platform must not redeliver: accepted, duplicate, or rejected
// for good. 503 asks for redelivery.
func (h *WebhookHandler) Receive(c *gin.Context) {
	// The raw body is needed for signature verification
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Message: "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, WebhookResponse{Message: "Failed to read request body"})
		return
	}
	if int64(len(body)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Message: "Payload too large"})
		return
	}

	if !shopify.VerifyWebhook(h.secret, body, c.GetHeader(HeaderHMAC)) {
		logger.L(c.Request.Context()).Warn("Webhook signature mismatch",
			zap.String("shop_domain", c.GetHeader(HeaderShopDomain)),
			zap.String("topic", c.GetHeader(HeaderTopic)),
		)
		c.JSON(http.StatusUnauthorized, WebhookResponse{Message: "Webhook signature verification failed"})
		return
	}

	n := webhook.Notification{
		Topic:      c.GetHeader(HeaderTopic),
		ShopDomain: c.GetHeader(HeaderShopDomain),
		WebhookID:  c.GetHeader(HeaderWebhookID),
		Body:       body,
	}
	if v := c.GetHeader(HeaderTriggeredAt); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			n.TriggeredAt = t
		}
	}

	result, err := h.ingester.Ingest(c.Request.Context(), n)
	if err != nil {
		if shared.IsPermanent(err) {
			c.JSON(http.StatusOK, WebhookResponse{Received: true, Status: "rejected", Topic: n.Topic})
			return
		}
		c.JSON(http.StatusServiceUnavailable, WebhookResponse{Message: "Temporarily unable to process webhook"})
		return
	}
	c.JSON(http.StatusOK, WebhookResponse{Received: true, Status: string(result.Status), Topic: result.Topic})
}
