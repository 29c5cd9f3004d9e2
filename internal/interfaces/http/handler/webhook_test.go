package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/application/webhook"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/shopify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec-test-secret"

type fakeIngester struct {
	result *webhook.IngestResult
	err    error
	got    *webhook.Notification
}

func (f *fakeIngester) Ingest(_ context.Context, n webhook.Notification) (*webhook.IngestResult, error) {
	f.got = &n
	return f.result, f.err
}

func deliveryHeaders(body []byte) map[string]string {
	return map[string]string{
		HeaderTopic:       "products/update",
		HeaderShopDomain:  "acme.myshopify.com",
		HeaderWebhookID:   "wh-1",
		HeaderTriggeredAt: "2026-03-01T10:00:00.5Z",
		HeaderHMAC:        shopify.Sign(webhookSecret, body),
	}
}

func TestWebhookHandler_Receive(t *testing.T) {
	body := []byte(`{"id":42,"title":"Linen shirt","updated_at":"2026-03-01T10:00:00Z"}`)

	tests := []struct {
		name       string
		body       []byte
		headers    func(map[string]string)
		result     *webhook.IngestResult
		err        error
		wantStatus int
		wantBody   WebhookResponse
		ingested   bool
	}{
		{
			name:       "accepted",
			body:       body,
			result:     &webhook.IngestResult{Status: webhook.StatusAccepted, Topic: "products/update"},
			wantStatus: http.StatusOK,
			wantBody:   WebhookResponse{Received: true, Status: string(webhook.StatusAccepted), Topic: "products/update"},
			ingested:   true,
		},
		{
			name:       "duplicate",
			body:       body,
			result:     &webhook.IngestResult{Status: webhook.StatusDuplicate, Topic: "products/update"},
			wantStatus: http.StatusOK,
			wantBody:   WebhookResponse{Received: true, Status: string(webhook.StatusDuplicate), Topic: "products/update"},
			ingested:   true,
		},
		{
			name:       "bad signature",
			body:       body,
			headers:    func(h map[string]string) { h[HeaderHMAC] = shopify.Sign("other", body) },
			wantStatus: http.StatusUnauthorized,
			wantBody:   WebhookResponse{Message: "Webhook signature verification failed"},
		},
		{
			name:       "missing signature",
			body:       body,
			headers:    func(h map[string]string) { delete(h, HeaderHMAC) },
			wantStatus: http.StatusUnauthorized,
			wantBody:   WebhookResponse{Message: "Webhook signature verification failed"},
		},
		{
			name:       "permanent rejection stops redelivery",
			body:       body,
			err:        webhook.ErrUnknownTenant,
			wantStatus: http.StatusOK,
			wantBody:   WebhookResponse{Received: true, Status: "rejected", Topic: "products/update"},
			ingested:   true,
		},
		{
			name:       "transient failure asks for redelivery",
			body:       body,
			err:        shared.Transient(errors.New("redis down")),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   WebhookResponse{Message: "Temporarily unable to process webhook"},
			ingested:   true,
		},
		{
			name:       "unclassified failure asks for redelivery",
			body:       body,
			err:        errors.New("boom"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   WebhookResponse{Message: "Temporarily unable to process webhook"},
			ingested:   true,
		},
		{
			name:       "too large",
			body:       []byte(`{"title":"` + strings.Repeat("x", 64) + `"}`),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   WebhookResponse{Message: "Payload too large"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{result: tt.result, err: tt.err}
			engine := newTestEngine(NewWebhookHandler(ing, webhookSecret, 64), false)

			headers := deliveryHeaders(tt.body)
			if tt.headers != nil {
				tt.headers(headers)
			}
			w := perform(engine, http.MethodPost, "/webhooks/shopify", tt.body, headers)

			assert.Equal(t, tt.wantStatus, w.Code)
			var got WebhookResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.wantBody, got)
			assert.Equal(t, tt.ingested, ing.got != nil)
		})
	}
}

func TestWebhookHandler_ParsesDeliveryHeaders(t *testing.T) {
	body := []byte(`{"id":42}`)
	ing := &fakeIngester{result: &webhook.IngestResult{Status: webhook.StatusAccepted}}
	engine := newTestEngine(NewWebhookHandler(ing, webhookSecret, 0), false)

	w := perform(engine, http.MethodPost, "/webhooks/shopify", body, deliveryHeaders(body))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ing.got)

	assert.Equal(t, "products/update", ing.got.Topic)
	assert.Equal(t, "acme.myshopify.com", ing.got.ShopDomain)
	assert.Equal(t, "wh-1", ing.got.WebhookID)
	assert.Equal(t, body, ing.got.Body)
	assert.True(t, ing.got.TriggeredAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 5e8, time.UTC)))
}

func TestWebhookHandler_IgnoresBadTimestamp(t *testing.T) {
	body := []byte(`{"id":42}`)
	ing := &fakeIngester{result: &webhook.IngestResult{Status: webhook.StatusAccepted}}
	engine := newTestEngine(NewWebhookHandler(ing, webhookSecret, 0), false)

	headers := deliveryHeaders(body)
	headers[HeaderTriggeredAt] = "yesterday"
	w := perform(engine, http.MethodPost, "/webhooks/shopify", body, headers)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ing.got.TriggeredAt.IsZero())
}

func TestNewWebhookHandler_DefaultsMaxBody(t *testing.T) {
	h := NewWebhookHandler(&fakeIngester{}, webhookSecret, -1)
	assert.Equal(t, int64(DefaultWebhookMaxBody), h.maxBody)
}
