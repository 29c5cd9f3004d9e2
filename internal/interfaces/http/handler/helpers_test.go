package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/compliancesync/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testTenantID = uuid.MustParse("5b0f7f7e-64a3-4a3e-9d61-0d4c08b8a001")
	testUserID   = uuid.MustParse("5b0f7f7e-64a3-4a3e-9d61-0d4c08b8a002")
)

// fakeSession stands in for the Session middleware
func fakeSession(c *gin.Context) {
	c.Set(middleware.SessionTenantIDKey, testTenantID)
	c.Set(middleware.SessionUserIDKey, testUserID)
	c.Next()
}

type registrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// newTestEngine mounts h with or without an authenticated session
func newTestEngine(h registrar, authenticated bool) *gin.Engine {
	engine := gin.New()
	group := &engine.RouterGroup
	if authenticated {
		group = engine.Group("", fakeSession)
	}
	h.RegisterRoutes(group)
	return engine
}

func perform(engine *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData re-decodes the data member into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) dto.Response {
	t.Helper()
	resp := decodeResponse(t, w)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}
