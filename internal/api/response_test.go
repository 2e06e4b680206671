package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
)

func TestWriteErrorMapsTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "not found",
			err:        platformerrors.NotFound("projects.get", "project"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unauthenticated is generic",
			err:        platformerrors.Unauthenticated("auth.validate"),
			wantStatus: http.StatusUnauthorized,
			wantDetail: "authentication required",
		},
		{
			name:       "conflict",
			err:        platformerrors.Conflict("plugins.transition", errors.New("invalid transition installed -> installing")),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "internal hides detail",
			err:        platformerrors.Internal("storage.execute", errors.New("pq: connection refused")),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil), tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.wantDetail != "" {
				assert.Contains(t, w.Body.String(), tt.wantDetail)
			}
			if tt.wantStatus >= 500 {
				assert.NotContains(t, w.Body.String(), "connection refused")
			}
		})
	}
}

func TestWriteErrorSetsRetryAfterOn503(t *testing.T) {
	err := platformerrors.New(platformerrors.KindResourceBusy, "storage.execute", errors.New("pool exhausted"))

	w := httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil), err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/projects", strings.NewReader("{not json"))

	var dst map[string]interface{}
	err := decodeJSON(r, &dst)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, platformerrors.StatusFor(err))
}

func TestDecodeJSONIgnoresUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/projects",
		strings.NewReader(`{"name":"Alpha","unknown_field":true}`))

	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, decodeJSON(r, &dst))
	assert.Equal(t, "Alpha", dst.Name)
}
