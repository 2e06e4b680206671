package api

import (
	"net/http"
	"time"
)

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	list, err := s.pluginStore.ListPlugins(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": list})
}

type installPluginRequest struct {
	RepositoryURL        string   `json:"repository_url"`
	RequestedPermissions []string `json:"requested_permissions"`
}

func (s *Server) handleInstallPlugin(w http.ResponseWriter, r *http.Request) {
	var req installPluginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	installationID, err := s.plugins.Install(r.Context(), req.RepositoryURL, req.RequestedPermissions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"installation_id": installationID})
}

func (s *Server) handleGetInstallation(w http.ResponseWriter, r *http.Request) {
	inst, err := s.pluginStore.GetInstallation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	plugin, err := s.pluginStore.GetPlugin(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plugin)
}

type updateConfigRequest struct {
	Config map[string]interface{} `json:"config"`
	Reason string                 `json:"reason"`
}

func (s *Server) handleUpdatePluginConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Config == nil {
		writeDetail(w, http.StatusUnprocessableEntity, "config object is required")
		return
	}

	changedBy := "unknown"
	if user := currentUser(r); user != nil {
		changedBy = user.Username
	}

	plugin, err := s.plugins.UpdateConfig(r.Context(), r.PathValue("id"), req.Config, changedBy, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plugin)
}

func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	if err := s.plugins.Disable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	if err := s.plugins.Enable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUninstallPlugin(w http.ResponseWriter, r *http.Request) {
	if err := s.plugins.Uninstall(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	violations, err := s.pluginStore.ListViolations(r.Context(), r.PathValue("id"), includeResolved)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"violations": violations})
}

type resolveViolationRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleResolveViolation(w http.ResponseWriter, r *http.Request) {
	var req resolveViolationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := s.plugins.ResolveViolation(r.Context(), r.PathValue("id"), r.PathValue("vid"), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	plugin, err := s.pluginStore.GetPlugin(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plugin)
}

// handlePluginProxy dispatches a plugin-originated call back into the
// platform API after permission enforcement. Every call is recorded.
func (s *Server) handlePluginProxy(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("id")
	target := "/" + r.PathValue("rest")
	start := time.Now()

	plugin, err := s.pluginStore.GetPlugin(r.Context(), pluginID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	decision, err := s.gatekeeper.Authorize(r.Context(), plugin, r.Method, target)
	if err != nil {
		s.gatekeeper.RecordAccess(r.Context(), pluginID, r.Method, target, decision,
			http.StatusForbidden, time.Since(start), "", r.UserAgent(), clientIP(r))
		writeDetail(w, http.StatusForbidden, "plugin lacks the required permission")
		return
	}

	inner := r.Clone(r.Context())
	inner.URL.Path = target
	inner.URL.RawQuery = r.URL.RawQuery
	inner.RequestURI = ""

	rec := &timeoutResponse{header: http.Header{}}
	s.mux.ServeHTTP(rec, inner)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}

	s.gatekeeper.RecordAccess(r.Context(), pluginID, r.Method, target, decision,
		rec.status, time.Since(start), "", r.UserAgent(), clientIP(r))

	for k, vs := range rec.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.status)
	_, _ = w.Write(rec.body.Bytes())
}
