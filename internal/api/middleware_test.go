package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

type stubValidator struct {
	user *models.User
	err  error
}

func (v stubValidator) Validate(ctx context.Context, token string) (*models.User, *models.Session, error) {
	if v.err != nil {
		return nil, nil, v.err
	}
	return v.user, &models.Session{ID: "sess-1", UserID: v.user.ID}, nil
}

func testServer(v TokenValidator) *Server {
	return &Server{
		serviceName: "taylordash",
		registry:    metrics.Get(),
		validator:   v,
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer abc123"}, "abc123"},
		{"bearer with padding", map[string]string{"Authorization": "Bearer  abc123 "}, "abc123"},
		{"session header", map[string]string{"X-Session-Token": "tok456"}, "tok456"},
		{"bearer wins over session header", map[string]string{
			"Authorization":   "Bearer abc123",
			"X-Session-Token": "tok456",
		}, "abc123"},
		{"malformed authorization falls back", map[string]string{
			"Authorization":   "Basic dXNlcg==",
			"X-Session-Token": "tok456",
		}, "tok456"},
		{"none", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractToken(r))
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/projects", "/api/v1/projects"},
		{"/api/v1/projects/550e8400-e29b-41d4-a716-446655440000", "/api/v1/projects/:id"},
		{"/api/v1/tasks/12345", "/api/v1/tasks/:id"},
		{"/api/v1/plugins/my-plugin/violations", "/api/v1/plugins/my-plugin/violations"},
		{"/health/live", "/health/live"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeEndpoint(tt.path), tt.path)
	}
}

func TestRequireRoleRejectsMissingToken(t *testing.T) {
	s := testServer(stubValidator{err: platformerrors.ErrUnauthenticated})
	h := s.requireRole(models.RoleViewer, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication required")
}

func TestRequireRoleRejectsInvalidToken(t *testing.T) {
	s := testServer(stubValidator{err: platformerrors.ErrUnauthenticated})
	h := s.requireRole(models.RoleViewer, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	r.Header.Set("Authorization", "Bearer bogus")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoleEnforcesMinimum(t *testing.T) {
	viewer := &models.User{ID: "u-1", Username: "viewer1", Role: models.RoleViewer}
	s := testServer(stubValidator{user: viewer})
	h := s.requireRole(models.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/projects/p-1", nil)
	r.Header.Set("X-Session-Token", "tok")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleAttachesUser(t *testing.T) {
	admin := &models.User{ID: "u-2", Username: "admin", Role: models.RoleAdmin}
	s := testServer(stubValidator{user: admin})

	var seen *models.User
	h := s.requireRole(models.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
		seen = currentUser(r)
		w.WriteHeader(http.StatusNoContent)
	})

	r := httptest.NewRequest(http.MethodPost, "/api/v1/plugins", nil)
	r.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "admin", seen.Username)
}

func TestRequestContextEchoesIdentifiers(t *testing.T) {
	s := testServer(nil)
	h := s.withRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	r.Header.Set("X-Request-ID", "req-given")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "req-given", w.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRequestContextGeneratesIdentifiers(t *testing.T) {
	s := testServer(nil)
	h := s.withRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRecoveryReturnsGeneric500(t *testing.T) {
	s := testServer(nil)
	h := s.withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "an unexpected error occurred")
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestTimeoutReturns504(t *testing.T) {
	s := testServer(nil)
	release := make(chan struct{})
	defer close(release)

	h := s.withTimeout(20*time.Millisecond, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "request timed out")
}

func TestTimeoutPassesThroughFastHandlers(t *testing.T) {
	s := testServer(nil)
	h := s.withTimeout(time.Second, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/projects", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Custom"))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestObservabilityDefaultsStatusTo200(t *testing.T) {
	s := testServer(nil)
	h := s.withObservability(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
