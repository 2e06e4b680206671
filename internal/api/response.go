// Package api exposes the HTTP surface: routing, middleware, and handlers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response body")
	}
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError translates a platform error to its HTTP shape. Internals are
// logged, never surfaced.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := platformerrors.StatusFor(err)

	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	writeJSON(w, status, errorBody{
		Detail: platformerrors.MessageFor(err),
		Fields: platformerrors.FieldsFor(err),
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// decodeJSON reads a JSON body into dst with a size cap and strict field
// checking relaxed (unknown fields ignored, matching the API contract).
func decodeJSON(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return platformerrors.Validation("api.decode", fmt.Errorf("invalid JSON body: %v", err))
	}
	return nil
}
