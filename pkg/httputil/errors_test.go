package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/quota"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		field   string
	}{
		{"not found", apperr.NotFound("institute"), http.StatusNotFound, "institute not found", ""},
		{"denied", apperr.PermissionDenied("Unauthorised."), http.StatusForbidden, "Unauthorised.", ""},
		{"validation", apperr.Validation("coupon", "Coupon expired."), http.StatusBadRequest, "Coupon expired.", "coupon"},
		{"conflict", apperr.Conflict("User is already staff."), http.StatusConflict, "User is already staff.", ""},
		{"wrapped conflict", fmt.Errorf("invite: %w", apperr.Conflict("dup")), http.StatusConflict, "dup", ""},
		{"internal", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal server error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/x", nil)
			r = r.WithContext(observability.WithLogger(r.Context(), observability.NewNopLogger()))
			w := httptest.NewRecorder()

			WriteServiceError(w, r, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.message, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestWriteServiceError_Quota(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/materials", nil)
	w := httptest.NewRecorder()

	WriteServiceError(w, r, &quota.ExceededError{Resource: quota.ResourceStorage, Current: 4.9, Limit: 5})

	assert.Equal(t, http.StatusForbidden, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(quota.ResourceStorage), resp.Resource)
	require.NotNil(t, resp.Current)
	require.NotNil(t, resp.Limit)
	assert.Equal(t, 4.9, *resp.Current)
	assert.Equal(t, 5.0, *resp.Limit)
}
