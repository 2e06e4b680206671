package api

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/logging"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// defaultHandlerTimeout bounds a request before a 504 is returned.
const defaultHandlerTimeout = 30 * time.Second

type userCtxKey struct{}

// currentUser returns the authenticated user attached by requireRole.
func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userCtxKey{}).(*models.User)
	return user
}

// TokenValidator resolves a presented token to its user and session.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*models.User, *models.Session, error)
}

// statusRecorder captures the response status for metrics and logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// withRequestContext assigns request and trace ids, honoring inbound headers,
// and echoes them on the response.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, requestID := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		ctx, traceID := logging.WithTraceID(ctx, r.Header.Get("X-Trace-ID"))

		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecovery converts panics into a generic 500. The stack goes to the logs
// only.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := string(debug.Stack())
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).
					Str("stack", stack).Msg("Handler panicked")
				s.recordLog(r, http.StatusInternalServerError, 0, logging.Record{
					Level:      "error",
					Severity:   "critical",
					Category:   "panic",
					Message:    "unhandled panic in request handler",
					StackTrace: stack,
				})
				writeDetail(w, http.StatusInternalServerError, "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withObservability emits per-request metrics and one application log record.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)

		s.registry.RecordHTTPRequest(r.Method, endpoint, rec.status, elapsed)

		level := "info"
		severity := "info"
		switch {
		case rec.status >= 500:
			level = "error"
			severity = "high"
		case rec.status >= 400:
			level = "warn"
			severity = "low"
		}
		s.recordLog(r, rec.status, elapsed, logging.Record{
			Level:    level,
			Severity: severity,
			Category: "http",
			Message:  r.Method + " " + endpoint,
		})
	})
}

func (s *Server) recordLog(r *http.Request, status int, elapsed time.Duration, rec logging.Record) {
	if s.sink == nil {
		return
	}
	rec.Service = s.serviceName
	rec.Endpoint = r.URL.Path
	rec.Method = r.Method
	rec.StatusCode = status
	rec.DurationMs = elapsed.Milliseconds()
	rec.TraceID = logging.TraceID(r.Context())
	rec.RequestID = logging.RequestID(r.Context())
	if user := currentUser(r); user != nil {
		rec.UserID = user.ID
	}
	s.sink.Record(rec)
}

// timeoutResponse buffers handler output so a late handler can never corrupt
// the 504 already sent.
type timeoutResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (t *timeoutResponse) Header() http.Header { return t.header }

func (t *timeoutResponse) WriteHeader(status int) {
	if t.status == 0 {
		t.status = status
	}
}

func (t *timeoutResponse) Write(b []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	return t.body.Write(b)
}

// withTimeout enforces the handler soft cap, returning 504 on expiry.
func (s *Server) withTimeout(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()

		buffered := &timeoutResponse{header: http.Header{}}
		done := make(chan struct{})

		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Interface("panic", rec).Str("stack", string(debug.Stack())).
						Msg("Handler panicked inside timeout boundary")
					buffered.status = http.StatusInternalServerError
					buffered.body.Reset()
					buffered.header = http.Header{"Content-Type": {"application/json"}}
					buffered.body.WriteString(`{"detail":"an unexpected error occurred"}`)
				}
				close(done)
			}()
			next.ServeHTTP(buffered, r.WithContext(ctx))
		}()

		select {
		case <-done:
			for k, vs := range buffered.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			if buffered.status == 0 {
				buffered.status = http.StatusOK
			}
			w.WriteHeader(buffered.status)
			_, _ = w.Write(buffered.body.Bytes())
		case <-ctx.Done():
			log.Warn().Str("path", r.URL.Path).Dur("timeout", d).Msg("Request exceeded handler timeout")
			writeDetail(w, http.StatusGatewayTimeout, "request timed out")
		}
	})
}

// extractToken accepts either a bearer token or the session token header.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Session-Token"))
}

// requireRole authenticates the request and enforces the minimum role.
func (s *Server) requireRole(min models.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeDetail(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, _, err := s.validator.Validate(r.Context(), token)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if !user.Role.Allows(min) {
			writeDetail(w, http.StatusForbidden, "forbidden")
			return
		}

		ctx := context.WithValue(r.Context(), userCtxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

var idSegmentPattern = regexp.MustCompile(`^([0-9a-fA-F-]{16,}|\d+)$`)

// normalizeEndpoint collapses identifier path segments so metric label
// cardinality stays bounded.
func normalizeEndpoint(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if idSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
