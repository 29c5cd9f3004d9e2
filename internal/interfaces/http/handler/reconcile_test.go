package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/identity"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/compliancesync/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	err    error
	called []uuid.UUID
}

func (f *fakeTrigger) TriggerNow(_ context.Context, tenantID uuid.UUID) (*jobs.Job, error) {
	f.called = append(f.called, tenantID)
	if f.err != nil {
		return nil, f.err
	}
	job, err := jobs.New(jobs.TypeReconcileTenant, tenantID, jobs.ReconcilePayload{})
	if err != nil {
		return nil, err
	}
	return job.WithID(fmt.Sprintf("reconcile:%s:manual", tenantID)), nil
}

func newReconcileEngine(trigger ReconcileTrigger, role identity.Role) *gin.Engine {
	engine := gin.New()
	group := engine.Group("", fakeSession, func(c *gin.Context) {
		c.Set(middleware.SessionRoleKey, role)
		c.Next()
	})
	NewReconcileHandler(trigger).RegisterRoutes(group)
	return engine
}

func TestReconcileHandler_Trigger(t *testing.T) {
	tests := []struct {
		name       string
		role       identity.Role
		err        error
		wantStatus int
		wantCode   string
		wantCalled bool
	}{
		{name: "admin", role: identity.RoleAdmin, wantStatus: http.StatusAccepted, wantCalled: true},
		{name: "editor forbidden", role: identity.RoleEditor, wantStatus: http.StatusForbidden, wantCode: dto.ErrCodePermissionDenied},
		{name: "viewer forbidden", role: identity.RoleViewer, wantStatus: http.StatusForbidden, wantCode: dto.ErrCodePermissionDenied},
		{name: "queue unavailable", role: identity.RoleAdmin, err: shared.Transient(errors.New("redis down")), wantStatus: http.StatusServiceUnavailable, wantCalled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &fakeTrigger{err: tt.err}
			w := perform(newReconcileEngine(trigger, tt.role), http.MethodPost, "/reconcile", nil, nil)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCalled {
				require.Len(t, trigger.called, 1)
				assert.Equal(t, testTenantID, trigger.called[0])
			} else {
				assert.Empty(t, trigger.called)
			}
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
			}
			if tt.wantStatus == http.StatusAccepted {
				var data struct {
					JobID string `json:"job_id"`
				}
				decodeData(t, w, &data)
				assert.Equal(t, fmt.Sprintf("reconcile:%s:manual", testTenantID), data.JobID)
			}
		})
	}

	t.Run("requires session", func(t *testing.T) {
		trigger := &fakeTrigger{}
		w := perform(newTestEngine(NewReconcileHandler(trigger), false), http.MethodPost, "/reconcile", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, trigger.called)
	})
}
