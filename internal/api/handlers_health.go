package api

import (
	"net/http"
	"time"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"service":   s.serviceName,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	status := s.db.Health(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"error":  status.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

type subCheck struct {
	Status         string      `json:"status"` // healthy | degraded | unhealthy
	ResponseTimeMs int64       `json:"response_time_ms"`
	Details        interface{} `json:"details,omitempty"`
}

// handleHealthStack reports storage, bus, and plugin subsystem health with a
// worst-of rollup. Storage and bus are critical; the plugin subsystem only
// degrades the overall status.
func (s *Server) handleHealthStack(w http.ResponseWriter, r *http.Request) {
	checks := map[string]subCheck{}

	dbStart := time.Now()
	dbStatus := s.db.Health(r.Context())
	dbCheck := subCheck{
		Status:         "healthy",
		ResponseTimeMs: time.Since(dbStart).Milliseconds(),
		Details:        dbStatus,
	}
	if !dbStatus.Healthy {
		dbCheck.Status = "unhealthy"
	}
	checks["storage"] = dbCheck

	busStart := time.Now()
	busStatus := s.bus.Health()
	busCheck := subCheck{
		Status:         "healthy",
		ResponseTimeMs: time.Since(busStart).Milliseconds(),
		Details:        busStatus,
	}
	if !busStatus.Connected {
		busCheck.Status = "unhealthy"
	}
	checks["bus"] = busCheck

	pluginStart := time.Now()
	pluginCheck := subCheck{Status: "healthy"}
	plugins, err := s.pluginStore.ListPlugins(r.Context())
	pluginCheck.ResponseTimeMs = time.Since(pluginStart).Milliseconds()
	if err != nil {
		pluginCheck.Status = "degraded"
		pluginCheck.Details = map[string]string{"error": "plugin listing unavailable"}
	} else {
		failed := 0
		disabled := 0
		for _, p := range plugins {
			switch p.Status {
			case models.PluginFailed:
				failed++
			case models.PluginDisabled:
				disabled++
			}
		}
		if failed > 0 || disabled > 0 {
			pluginCheck.Status = "degraded"
		}
		pluginCheck.Details = map[string]int{
			"total": len(plugins), "failed": failed, "disabled": disabled,
		}
	}
	checks["plugins"] = pluginCheck

	overall := "healthy"
	for name, c := range checks {
		switch c.Status {
		case "unhealthy":
			// plugin problems never make the whole stack unhealthy
			if name == "plugins" {
				overall = worstOf(overall, "degraded")
			} else {
				overall = "unhealthy"
			}
		case "degraded":
			overall = worstOf(overall, "degraded")
		}
	}

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

func worstOf(current, candidate string) string {
	if current == "unhealthy" || candidate == "unhealthy" {
		return "unhealthy"
	}
	if current == "degraded" || candidate == "degraded" {
		return "degraded"
	}
	return "healthy"
}
