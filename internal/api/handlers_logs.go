package api

import (
	"net/http"
	"time"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/logging"
)

func queryTime(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	entries, total, err := s.logs.Query(r.Context(), logging.QueryFilter{
		Level:    r.URL.Query().Get("level"),
		Service:  r.URL.Query().Get("service"),
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
		Start:    queryTime(r, "start"),
		End:      queryTime(r, "end"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries, "total": total})
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.logs.QueryStats(r.Context(), queryInt(r, "hours"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
