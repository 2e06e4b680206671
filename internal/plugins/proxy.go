package plugins

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// endpointPermissions maps proxied endpoint prefixes to the permission a
// plugin must hold. Longest prefix wins.
var endpointPermissions = []struct {
	prefix     string
	method     string
	permission string
}{
	{"/api/v1/projects", "GET", "read:projects"},
	{"/api/v1/projects", "*", "write:projects"},
	{"/api/v1/events/publish", "*", "write:events"},
	{"/api/v1/events", "GET", "read:events"},
	{"/api/v1/dlq", "GET", "read:events"},
	{"/api/v1/logs", "GET", "read:logs"},
	{"/metrics", "GET", "read:metrics"},
	{"/health", "GET", "system:health"},
}

// RequiredPermission resolves the permission guarding an endpoint. Unmapped
// endpoints require no grant.
func RequiredPermission(method, endpoint string) string {
	for _, rule := range endpointPermissions {
		if !strings.HasPrefix(endpoint, rule.prefix) {
			continue
		}
		if rule.method == "*" || rule.method == method {
			return rule.permission
		}
	}
	return ""
}

// AccessDecision is the outcome of a proxy permission check.
type AccessDecision struct {
	Granted            bool
	PermissionRequired string
}

// Gatekeeper enforces plugin permissions on proxied calls and records every
// call to the access log.
type Gatekeeper struct {
	store   Store
	manager *Manager
	now     func() time.Time
}

// NewGatekeeper wires the runtime enforcement layer.
func NewGatekeeper(store Store, manager *Manager) *Gatekeeper {
	return &Gatekeeper{store: store, manager: manager, now: time.Now}
}

// Authorize checks the plugin's grants against the endpoint. Denials create
// a permission_denied violation and recompute the score.
func (g *Gatekeeper) Authorize(ctx context.Context, plugin *models.Plugin, method, endpoint string) (AccessDecision, error) {
	required := RequiredPermission(method, endpoint)
	if required == "" {
		return AccessDecision{Granted: true}, nil
	}

	for _, p := range plugin.Permissions {
		if p == required {
			return AccessDecision{Granted: true, PermissionRequired: required}, nil
		}
	}

	if err := g.manager.RecordRuntimeViolation(ctx, plugin.ID, "permission_denied",
		"plugin invoked an endpoint without the required permission",
		models.SeverityHigh, method+" "+endpoint); err != nil {
		log.Error().Err(err).Str("plugin", plugin.ID).Msg("Failed to record permission denial")
	}

	return AccessDecision{Granted: false, PermissionRequired: required},
		platformerrors.Forbidden("plugins.proxy")
}

// RecordAccess appends one access-log row; failures are logged, not
// propagated, so the proxied response is never blocked by bookkeeping.
func (g *Gatekeeper) RecordAccess(ctx context.Context, pluginID, method, endpoint string, decision AccessDecision, statusCode int, elapsed time.Duration, requestData, userAgent, ipAddress string) {
	access := models.PluginAPIAccess{
		ID:                 uuid.NewString(),
		PluginID:           pluginID,
		Endpoint:           endpoint,
		Method:             method,
		StatusCode:         statusCode,
		PermissionRequired: decision.PermissionRequired,
		AccessGranted:      decision.Granted,
		Timestamp:          g.now().UTC(),
		ResponseTimeMs:     elapsed.Milliseconds(),
		RequestData:        requestData,
		UserAgent:          userAgent,
		IPAddress:          ipAddress,
	}
	if err := g.store.InsertAPIAccess(ctx, access); err != nil {
		log.Error().Err(err).Str("plugin", pluginID).Msg("Failed to record plugin API access")
	}
}
