package plugins

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

const (
	healthCheckSchedule = "@every 5m"
	healthProbeTimeout  = 10 * time.Second
	healthProbeParallel = 4

	// disableAfterFailures is the consecutive-failure threshold that
	// transitions a plugin to disabled.
	disableAfterFailures = 3
)

// HealthChecker probes installed plugins' declared health endpoints.
type HealthChecker struct {
	store   Store
	manager *Manager
	client  *http.Client
	cron    *cron.Cron
	now     func() time.Time
}

// NewHealthChecker wires the periodic prober.
func NewHealthChecker(store Store, manager *Manager) *HealthChecker {
	return &HealthChecker{
		store:   store,
		manager: manager,
		client:  &http.Client{Timeout: healthProbeTimeout},
		now:     time.Now,
	}
}

// Start schedules probes every five minutes until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) error {
	h.cron = cron.New()
	if _, err := h.cron.AddFunc(healthCheckSchedule, func() {
		h.CheckAll(ctx)
	}); err != nil {
		return err
	}
	h.cron.Start()

	go func() {
		<-ctx.Done()
		h.cron.Stop()
	}()
	return nil
}

// CheckAll probes every installed plugin with a declared health endpoint.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	plugins, err := h.store.ListPlugins(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Plugin health sweep failed to list plugins")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthProbeParallel)
	for i := range plugins {
		p := &plugins[i]
		if p.Status != models.PluginInstalled {
			continue
		}
		endpoint, _ := p.Manifest["health_endpoint"].(string)
		if endpoint == "" {
			continue
		}
		g.Go(func() error {
			h.checkOne(gctx, p, endpoint)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *HealthChecker) checkOne(ctx context.Context, plugin *models.Plugin, endpoint string) {
	start := h.now()
	check := models.PluginHealthCheck{
		ID:        uuid.NewString(),
		PluginID:  plugin.ID,
		CheckedAt: start.UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		check.Detail = err.Error()
	} else {
		resp, err := h.client.Do(req)
		check.ResponseTimeMs = time.Since(start).Milliseconds()
		if err != nil {
			check.Detail = err.Error()
		} else {
			resp.Body.Close()
			check.StatusCode = resp.StatusCode
			check.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
			if !check.Healthy {
				check.Detail = resp.Status
			}
		}
	}

	if err := h.store.InsertHealthCheck(ctx, check); err != nil {
		log.Error().Err(err).Str("plugin", plugin.ID).Msg("Failed to record plugin health check")
		return
	}

	if check.Healthy {
		return
	}

	failures, err := h.store.ConsecutiveHealthFailures(ctx, plugin.ID)
	if err != nil {
		log.Error().Err(err).Str("plugin", plugin.ID).Msg("Failed to count health failures")
		return
	}

	if failures >= disableAfterFailures {
		if err := h.manager.Disable(ctx, plugin.ID); err != nil {
			log.Error().Err(err).Str("plugin", plugin.ID).Msg("Failed to disable unhealthy plugin")
			return
		}
		h.manager.emit(ctx, "health_failed", "plugin.health_failed", plugin.ID, map[string]interface{}{
			"consecutive_failures": failures,
		})
		log.Warn().Str("plugin", plugin.ID).Int("failures", failures).
			Msg("Plugin disabled after consecutive health check failures")
	}
}
