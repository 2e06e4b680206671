package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlatformErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    *PlatformError
		target error
		want   bool
	}{
		{"not_found matches ErrNotFound", NotFound("projects.get", "project"), ErrNotFound, true},
		{"not_found does not match ErrForbidden", NotFound("projects.get", "project"), ErrForbidden, false},
		{"unauthenticated matches", Unauthenticated("auth.validate"), ErrUnauthenticated, true},
		{"conflict matches", Conflict("plugins.transition", stderrors.New("invalid transition")), ErrConflict, true},
		{"validation matches ErrInvalidInput", Validation("projects.create", stderrors.New("name required")), ErrInvalidInput, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stderrors.Is(tt.err, tt.target))
		})
	}
}

func TestPlatformErrorWrapsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Upstream("bus.publish", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.ErrorContains(t, err, "bus.publish")
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusUnprocessableEntity},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindResourceBusy, http.StatusServiceUnavailable},
		{KindUpstream, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, "op", nil).HTTPStatus())
		})
	}
}

func TestStatusForUnclassified(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(stderrors.New("boom")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(ErrResourceBusy))
}

func TestPublicMessageNeverLeaksInternals(t *testing.T) {
	err := Internal("auth.login", stderrors.New("pq: duplicate key users_username_key"))
	assert.Equal(t, "an unexpected error occurred", err.PublicMessage())

	authErr := Unauthenticated("auth.login")
	assert.Equal(t, "authentication required", authErr.PublicMessage())
}

func TestWithFieldAccumulates(t *testing.T) {
	err := Validation("projects.create", stderrors.New("invalid body")).
		WithField("name", "required").
		WithField("status", "must be one of new, active, completed, archived")

	fields := FieldsFor(err)
	assert.Len(t, fields, 2)
	assert.Equal(t, "required", fields["name"])
}
