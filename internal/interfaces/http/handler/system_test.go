package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemHandler_Health(t *testing.T) {
	engine := newTestEngine(NewSystemHandler(nil), false)

	w := perform(engine, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got HealthResponse
	decodeData(t, w, &got)
	assert.Equal(t, "ok", got.Status)
	assert.NotEmpty(t, got.Uptime)
}

func TestSystemHandler_Ready(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	failing := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantStatus int
		want       ReadyResponse
	}{
		{
			name:       "all dependencies up",
			checks:     map[string]Pinger{"database": healthy, "redis": healthy},
			wantStatus: http.StatusOK,
			want:       ReadyResponse{Status: "ready", Checks: map[string]string{"database": "ok", "redis": "ok"}},
		},
		{
			name:       "redis down",
			checks:     map[string]Pinger{"database": healthy, "redis": failing},
			wantStatus: http.StatusServiceUnavailable,
			want:       ReadyResponse{Status: "not_ready", Checks: map[string]string{"database": "ok", "redis": "unavailable"}},
		},
		{
			name:       "no dependencies",
			checks:     map[string]Pinger{},
			wantStatus: http.StatusOK,
			want:       ReadyResponse{Status: "ready", Checks: map[string]string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(NewSystemHandler(tt.checks), false)

			w := perform(engine, http.MethodGet, "/ready", nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			var got ReadyResponse
			decodeData(t, w, &got)
			assert.Equal(t, tt.want, got)
		})
	}
}
