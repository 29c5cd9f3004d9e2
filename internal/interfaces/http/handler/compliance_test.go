package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	appcompliance "github.com/compliancesync/backend/internal/application/compliance"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEditor struct {
	product *catalog.Product
	record  *compliance.Record
	editErr error
	getErr  error

	gotTenant  uuid.UUID
	gotUser    uuid.UUID
	gotChanges compliance.FieldChanges
}

func newFakeEditor() *fakeEditor {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	product := &catalog.Product{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(testTenantID, now),
		ShopifyProductID:    42,
		Title:               "Linen shirt",
		ComplianceStatus:    catalog.ComplianceStatusPending,
	}
	return &fakeEditor{
		product: product,
		record:  compliance.NewRecord(testTenantID, product.ID, now),
	}
}

func (f *fakeEditor) ApplyEdit(_ context.Context, tenantID, userID, _ uuid.UUID, changes compliance.FieldChanges) (*appcompliance.EditResult, error) {
	f.gotTenant, f.gotUser, f.gotChanges = tenantID, userID, changes
	if f.editErr != nil {
		return nil, f.editErr
	}
	diff := f.record.Merge(changes, time.Now())
	f.product.ComplianceStatus = f.record.Status()
	return &appcompliance.EditResult{
		Record:           f.record,
		ComplianceStatus: f.product.ComplianceStatus,
		Changed:          len(diff) > 0,
		Diff:             diff,
	}, nil
}

func (f *fakeEditor) GetRecord(_ context.Context, tenantID, productID uuid.UUID) (*catalog.Product, *compliance.Record, error) {
	f.gotTenant = tenantID
	if f.getErr != nil {
		return nil, nil, f.getErr
	}
	if productID != f.product.ID {
		return nil, nil, shared.ErrNotFound
	}
	return f.product, f.record, nil
}

func TestComplianceHandler_Get(t *testing.T) {
	editor := newFakeEditor()
	engine := newTestEngine(NewComplianceHandler(editor), true)

	w := perform(engine, http.MethodGet, "/products/"+editor.product.ID.String()+"/compliance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got dto.ComplianceRecordResponse
	resp := decodeData(t, w, &got)
	assert.True(t, resp.Success)
	assert.Equal(t, editor.product.ID.String(), got.ProductID)
	assert.Equal(t, "Linen shirt", got.Title)
	assert.Equal(t, string(catalog.ComplianceStatusPending), got.ComplianceStatus)
	assert.Len(t, got.Fields, len(compliance.AllFields))
	assert.Nil(t, got.Changed)
	assert.Equal(t, testTenantID, editor.gotTenant)
}

func TestComplianceHandler_GetErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		getErr     error
		wantStatus int
		wantCode   string
	}{
		{"malformed id", "/products/not-a-uuid/compliance", nil, http.StatusNotFound, dto.ErrCodeNotFound},
		{"unknown product", "/products/" + uuid.NewString() + "/compliance", nil, http.StatusNotFound, dto.ErrCodeNotFound},
		{"store unavailable", "", shared.Transient(errors.New("db down")), http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"unclassified error", "", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			editor := newFakeEditor()
			editor.getErr = tt.getErr
			engine := newTestEngine(NewComplianceHandler(editor), true)

			path := tt.path
			if path == "" {
				path = "/products/" + editor.product.ID.String() + "/compliance"
			}
			w := perform(engine, http.MethodGet, path, nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestComplianceHandler_Update(t *testing.T) {
	editor := newFakeEditor()
	engine := newTestEngine(NewComplianceHandler(editor), true)
	path := "/products/" + editor.product.ID.String() + "/compliance"

	body := []byte(`{"fields":{"material_composition":"100% linen","country_of_manufacture":"PT"}}`)
	w := perform(engine, http.MethodPatch, path, body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got dto.ComplianceRecordResponse
	decodeData(t, w, &got)
	assert.Equal(t, "100% linen", got.Fields["material_composition"])
	assert.Equal(t, "PT", got.Fields["country_of_manufacture"])
	assert.Equal(t, string(catalog.ComplianceStatusInProgress), got.ComplianceStatus)
	require.NotNil(t, got.Changed)
	assert.True(t, *got.Changed)

	assert.Equal(t, testTenantID, editor.gotTenant)
	assert.Equal(t, testUserID, editor.gotUser)
	assert.Equal(t, "100% linen", editor.gotChanges[compliance.FieldMaterialComposition])

	t.Run("repeating the edit reports no change", func(t *testing.T) {
		w := perform(engine, http.MethodPatch, path, body, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var again dto.ComplianceRecordResponse
		decodeData(t, w, &again)
		require.NotNil(t, again.Changed)
		assert.False(t, *again.Changed)
	})
}

func TestComplianceHandler_UpdateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		editErr    error
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `{"fields":`, nil, http.StatusBadRequest, dto.ErrCodeInvalidJSON},
		{"missing fields", `{}`, nil, http.StatusBadRequest, dto.ErrCodeValidation},
		{"empty fields", `{"fields":{}}`, nil, http.StatusBadRequest, dto.ErrCodeValidation},
		{"unknown field", `{"fields":{"colour":"red"}}`, compliance.ErrUnknownField, http.StatusBadRequest, dto.ErrCodeValidationFormat},
		{"bad percent", `{"fields":{"recycled_content_pct":"120"}}`, compliance.ErrInvalidPercent, http.StatusBadRequest, dto.ErrCodeValidationRange},
		{"viewer role", `{"fields":{"certifications":"GOTS"}}`, shared.ErrPermissionDenied, http.StatusForbidden, dto.ErrCodePermissionDenied},
		{"version conflict", `{"fields":{"certifications":"GOTS"}}`, shared.ErrConcurrencyConflict, http.StatusConflict, dto.ErrCodeConcurrencyConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			editor := newFakeEditor()
			editor.editErr = tt.editErr
			engine := newTestEngine(NewComplianceHandler(editor), true)

			w := perform(engine, http.MethodPatch, "/products/"+editor.product.ID.String()+"/compliance", []byte(tt.body), nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestComplianceHandler_RequiresSession(t *testing.T) {
	editor := newFakeEditor()
	engine := newTestEngine(NewComplianceHandler(editor), false)

	w := perform(engine, http.MethodGet, "/products/"+editor.product.ID.String()+"/compliance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, errorCode(t, w))
}
