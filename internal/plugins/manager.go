package plugins

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// knownPermissions is the policy allow-list. Grants outside it are silently
// dropped at install time.
var knownPermissions = []string{
	"read:projects",
	"write:projects",
	"read:events",
	"write:events",
	"read:logs",
	"read:metrics",
	"network:http",
	"storage:local",
	"ui:embed",
	"system:health",
}

// installTimeout bounds a full install attempt including the clone.
const installTimeout = 5 * time.Minute

// EventPublisher emits lifecycle events onto the bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic, kind string, data map[string]interface{}) (string, error)
}

// Manager orchestrates the plugin lifecycle.
type Manager struct {
	store        Store
	fetcher      Fetcher
	scanner      *Scanner
	publisher    EventPublisher
	registry     *metrics.Registry
	installDir   string
	allowedHosts []string

	now func() time.Time
}

// NewManager wires the lifecycle manager.
func NewManager(store Store, fetcher Fetcher, publisher EventPublisher, registry *metrics.Registry, installDir string, allowedHosts []string) *Manager {
	return &Manager{
		store:        store,
		fetcher:      fetcher,
		scanner:      NewScanner(),
		publisher:    publisher,
		registry:     registry,
		installDir:   installDir,
		allowedHosts: allowedHosts,
		now:          time.Now,
	}
}

// Install validates the request, records a pending installation, and runs
// the install asynchronously. The returned installation id can be polled.
func (m *Manager) Install(ctx context.Context, repositoryURL string, requestedPermissions []string) (string, error) {
	if err := ValidateRepositoryURL(repositoryURL, m.allowedHosts); err != nil {
		return "", err
	}

	inst := &models.PluginInstallation{
		ID:        uuid.NewString(),
		Status:    models.PluginPending,
		Message:   "installation queued",
		StartedAt: m.now().UTC(),
	}
	if err := m.store.CreateInstallation(ctx, inst); err != nil {
		return "", err
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), installTimeout)
		defer cancel()
		m.runInstall(runCtx, inst, repositoryURL, requestedPermissions)
	}()

	return inst.ID, nil
}

func (m *Manager) runInstall(ctx context.Context, inst *models.PluginInstallation, repositoryURL string, requestedPermissions []string) {
	stagingDir := filepath.Join(m.installDir, ".staging", inst.ID)
	defer os.RemoveAll(stagingDir)

	m.advanceInstallation(ctx, inst, models.PluginInstalling, "fetching bundle", "")

	if err := m.fetcher.Fetch(ctx, repositoryURL, stagingDir); err != nil {
		m.failInstallation(ctx, inst, "", "bundle fetch failed", err)
		return
	}

	manifest, err := LoadManifest(stagingDir)
	if err != nil {
		m.failInstallation(ctx, inst, "", "manifest invalid", err)
		return
	}

	existing, err := m.store.GetPlugin(ctx, manifest.ID)
	if err != nil && !stderrors.Is(err, platformerrors.ErrNotFound) {
		m.failInstallation(ctx, inst, manifest.ID, "plugin lookup failed", err)
		return
	}

	if existing != nil {
		m.runUpdate(ctx, inst, existing, manifest, stagingDir, repositoryURL, requestedPermissions)
		return
	}

	now := m.now().UTC()
	plugin := &models.Plugin{
		ID:            manifest.ID,
		Name:          manifest.Name,
		Version:       manifest.Version,
		Description:   manifest.Description,
		Author:        manifest.Author,
		Type:          manifest.Type,
		RepositoryURL: repositoryURL,
		Manifest:      manifestMap(manifest),
		Permissions:   grantPermissions(requestedPermissions, manifest.Permissions),
		Status:        models.PluginPending,
		InstalledAt:   now,
		SecurityScore: 100,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.InsertPlugin(ctx, plugin); err != nil {
		m.failInstallation(ctx, inst, manifest.ID, "plugin record creation failed", err)
		return
	}

	if err := m.store.TransitionStatus(ctx, plugin.ID, models.PluginInstalling); err != nil {
		m.failInstallation(ctx, inst, plugin.ID, "status transition failed", err)
		return
	}

	findings, err := m.scanBundle(ctx, plugin.ID, stagingDir, manifest)
	if err != nil {
		m.transitionOrLog(ctx, plugin.ID, models.PluginFailed)
		m.failInstallation(ctx, inst, plugin.ID, "security scan failed", err)
		return
	}

	score := ScoreFindings(findings)
	if HasCritical(findings) || score < failingScore {
		// Persist the failing posture so the rejected row shows why.
		now := m.now().UTC()
		if err := m.store.SetSecurityPosture(ctx, plugin.ID, score, len(findings), &now); err != nil {
			log.Error().Err(err).Str("plugin", plugin.ID).Msg("Failed to store security posture")
		}
		m.registry.SetPluginSecurityScore(plugin.ID, score)
		m.transitionOrLog(ctx, plugin.ID, models.PluginFailed)
		m.failInstallation(ctx, inst, plugin.ID, "security policy rejection",
			fmt.Errorf("%d findings, score %d", len(findings), score))
		return
	}

	finalDir := filepath.Join(m.installDir, plugin.ID)
	if err := swapDir(stagingDir, finalDir); err != nil {
		m.transitionOrLog(ctx, plugin.ID, models.PluginFailed)
		m.failInstallation(ctx, inst, plugin.ID, "bundle placement failed", err)
		return
	}

	plugin.InstallPath = finalDir
	plugin.InstallationID = &inst.ID
	plugin.SecurityScore = score
	if err := m.store.UpdatePluginRelease(ctx, plugin); err != nil {
		m.failInstallation(ctx, inst, plugin.ID, "plugin record update failed", err)
		return
	}
	if err := m.store.SetSecurityPosture(ctx, plugin.ID, score, len(findings), nil); err != nil {
		log.Error().Err(err).Str("plugin", plugin.ID).Msg("Failed to store security posture")
	}
	m.registry.SetPluginSecurityScore(plugin.ID, score)

	if err := m.store.TransitionStatus(ctx, plugin.ID, models.PluginInstalled); err != nil {
		m.failInstallation(ctx, inst, plugin.ID, "status transition failed", err)
		return
	}

	m.advanceInstallation(ctx, inst, models.PluginInstalled, "installed", "")
	m.emit(ctx, "installed", "plugin.installed", plugin.ID, map[string]interface{}{
		"version": plugin.Version, "security_score": score,
	})
	log.Info().Str("plugin", plugin.ID).Str("version", plugin.Version).Int("security_score", score).
		Msg("Plugin installed")
}

// runUpdate handles re-install of an existing plugin id. Versions only move
// forward; failure leaves the prior release and its config untouched.
func (m *Manager) runUpdate(ctx context.Context, inst *models.PluginInstallation, existing *models.Plugin, manifest *Manifest, stagingDir, repositoryURL string, requestedPermissions []string) {
	if !manifest.NewerThan(existing.Version) {
		m.failInstallation(ctx, inst, existing.ID, "update rejected",
			fmt.Errorf("version %s is not newer than installed %s", manifest.Version, existing.Version))
		return
	}

	if err := m.store.TransitionStatus(ctx, existing.ID, models.PluginUpdating); err != nil {
		m.failInstallation(ctx, inst, existing.ID, "status transition failed", err)
		return
	}

	revert := func(stage string, cause error) {
		if err := m.store.TransitionStatus(ctx, existing.ID, models.PluginInstalled); err != nil {
			log.Error().Err(err).Str("plugin", existing.ID).Msg("Failed to revert plugin to installed")
		}
		m.failInstallation(ctx, inst, existing.ID, stage, cause)
	}

	findings, err := m.scanBundle(ctx, existing.ID, stagingDir, manifest)
	if err != nil {
		revert("security scan failed", err)
		return
	}

	score := ScoreFindings(findings)
	if HasCritical(findings) || score < failingScore {
		revert("security policy rejection", fmt.Errorf("%d findings, score %d", len(findings), score))
		return
	}

	finalDir := filepath.Join(m.installDir, existing.ID)
	if err := swapDir(stagingDir, finalDir); err != nil {
		revert("bundle placement failed", err)
		return
	}

	updated := *existing
	updated.Name = manifest.Name
	updated.Version = manifest.Version
	updated.Description = manifest.Description
	updated.Author = manifest.Author
	updated.Type = manifest.Type
	updated.Manifest = manifestMap(manifest)
	updated.Permissions = grantPermissions(requestedPermissions, manifest.Permissions)
	updated.InstallPath = finalDir
	updated.InstallationID = &inst.ID
	if err := m.store.UpdatePluginRelease(ctx, &updated); err != nil {
		revert("plugin record update failed", err)
		return
	}

	if err := m.RecomputeScore(ctx, existing.ID); err != nil {
		log.Error().Err(err).Str("plugin", existing.ID).Msg("Failed to recompute security score")
	}

	if err := m.store.TransitionStatus(ctx, existing.ID, models.PluginInstalled); err != nil {
		m.failInstallation(ctx, inst, existing.ID, "status transition failed", err)
		return
	}

	m.advanceInstallation(ctx, inst, models.PluginInstalled, "updated", "")
	m.emit(ctx, "updated", "plugin.updated", existing.ID, map[string]interface{}{
		"from_version": existing.Version, "to_version": manifest.Version,
	})
	log.Info().Str("plugin", existing.ID).Str("version", manifest.Version).Msg("Plugin updated")
}

func (m *Manager) scanBundle(ctx context.Context, pluginID, dir string, manifest *Manifest) ([]Finding, error) {
	findings, err := m.scanner.Scan(dir, manifest)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	violations := make([]models.PluginSecurityViolation, len(findings))
	for i, f := range findings {
		violations[i] = models.PluginSecurityViolation{
			ID:            uuid.NewString(),
			PluginID:      pluginID,
			ViolationType: f.Type,
			Description:   f.Description,
			Severity:      f.Severity,
			Context:       fmt.Sprintf("%s:%d %s", f.File, f.Line, f.Context),
			Timestamp:     now,
		}
		m.registry.RecordPluginViolation(pluginID, f.Type, string(f.Severity))
	}
	if err := m.store.InsertViolations(ctx, violations); err != nil {
		return nil, err
	}
	return findings, nil
}

// Disable transitions installed → disabled.
func (m *Manager) Disable(ctx context.Context, pluginID string) error {
	if err := m.store.TransitionStatus(ctx, pluginID, models.PluginDisabled); err != nil {
		return err
	}
	m.emit(ctx, "disabled", "plugin.disabled", pluginID, nil)
	return nil
}

// Enable transitions disabled → installed.
func (m *Manager) Enable(ctx context.Context, pluginID string) error {
	if err := m.store.TransitionStatus(ctx, pluginID, models.PluginInstalled); err != nil {
		return err
	}
	m.emit(ctx, "enabled", "plugin.enabled", pluginID, nil)
	return nil
}

// Uninstall removes the plugin row and its bundle.
func (m *Manager) Uninstall(ctx context.Context, pluginID string) error {
	if err := m.store.TransitionStatus(ctx, pluginID, models.PluginUninstalling); err != nil {
		return err
	}

	if err := m.store.DeletePlugin(ctx, pluginID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(m.installDir, pluginID)); err != nil {
		log.Error().Err(err).Str("plugin", pluginID).Msg("Failed to remove plugin bundle")
	}

	m.emit(ctx, "uninstalled", "plugin.uninstalled", pluginID, nil)
	log.Info().Str("plugin", pluginID).Msg("Plugin uninstalled")
	return nil
}

// UpdateConfig swaps config with history; status is untouched.
func (m *Manager) UpdateConfig(ctx context.Context, pluginID string, newConfig map[string]interface{}, changedBy, reason string) (*models.Plugin, error) {
	plugin, err := m.store.UpdateConfig(ctx, pluginID, newConfig, changedBy, reason)
	if err != nil {
		return nil, err
	}
	m.emit(ctx, "config_updated", "plugin.config_updated", pluginID, map[string]interface{}{
		"changed_by": changedBy,
	})
	return plugin, nil
}

// ResolveViolation marks a finding resolved and recomputes the score.
func (m *Manager) ResolveViolation(ctx context.Context, pluginID, violationID, notes string) error {
	if err := m.store.ResolveViolation(ctx, pluginID, violationID, notes); err != nil {
		return err
	}
	return m.RecomputeScore(ctx, pluginID)
}

// RecordRuntimeViolation appends a runtime finding and recomputes the score.
func (m *Manager) RecordRuntimeViolation(ctx context.Context, pluginID, violationType, description string, severity models.ViolationSeverity, detail string) error {
	now := m.now().UTC()
	violation := models.PluginSecurityViolation{
		ID:            uuid.NewString(),
		PluginID:      pluginID,
		ViolationType: violationType,
		Description:   description,
		Severity:      severity,
		Context:       detail,
		Timestamp:     now,
	}
	if err := m.store.InsertViolations(ctx, []models.PluginSecurityViolation{violation}); err != nil {
		return err
	}
	m.registry.RecordPluginViolation(pluginID, violationType, string(severity))
	return m.RecomputeScore(ctx, pluginID)
}

// RecomputeScore rebuilds the denormalized posture from unresolved
// violations.
func (m *Manager) RecomputeScore(ctx context.Context, pluginID string) error {
	violations, err := m.store.ListViolations(ctx, pluginID, true)
	if err != nil {
		return err
	}

	unresolved := 0
	var lastAt *time.Time
	for i := range violations {
		if !violations[i].Resolved {
			unresolved++
		}
		if lastAt == nil || violations[i].Timestamp.After(*lastAt) {
			lastAt = &violations[i].Timestamp
		}
	}

	score := ScoreViolations(violations)
	if err := m.store.SetSecurityPosture(ctx, pluginID, score, unresolved, lastAt); err != nil {
		return err
	}
	m.registry.SetPluginSecurityScore(pluginID, score)
	return nil
}

// transitionOrLog applies a status transition on a path that is already
// failing; a transition error must not mask the original cause.
func (m *Manager) transitionOrLog(ctx context.Context, pluginID string, to models.PluginStatus) {
	if err := m.store.TransitionStatus(ctx, pluginID, to); err != nil {
		log.Error().Err(err).Str("plugin", pluginID).Str("status", string(to)).
			Msg("Failed to transition plugin status")
	}
}

func (m *Manager) advanceInstallation(ctx context.Context, inst *models.PluginInstallation, status models.PluginStatus, message, errorDetails string) {
	inst.Status = status
	inst.Message = message
	inst.ErrorDetails = errorDetails
	if status == models.PluginInstalled || status == models.PluginFailed {
		now := m.now().UTC()
		inst.CompletedAt = &now
	}
	if err := m.store.UpdateInstallation(ctx, inst); err != nil {
		log.Error().Err(err).Str("installation", inst.ID).Msg("Failed to update installation record")
	}
}

func (m *Manager) failInstallation(ctx context.Context, inst *models.PluginInstallation, pluginID, stage string, cause error) {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	m.advanceInstallation(ctx, inst, models.PluginFailed, stage, details)
	m.emit(ctx, "install_failed", "plugin.install_failed", pluginID, map[string]interface{}{
		"installation_id": inst.ID, "stage": stage,
	})
	log.Warn().Str("installation", inst.ID).Str("plugin", pluginID).Str("stage", stage).Err(cause).
		Msg("Plugin installation failed")
}

func (m *Manager) emit(ctx context.Context, action, kind, pluginID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if pluginID != "" {
		data["plugin_id"] = pluginID
	}
	if _, err := m.publisher.Publish(ctx, "plugins/events/"+action, kind, data); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to publish plugin lifecycle event")
	}
}

// grantPermissions intersects the request, the manifest, and the policy
// allow-list.
func grantPermissions(requested, declared []string) []string {
	allowed := map[string]bool{}
	for _, p := range knownPermissions {
		allowed[p] = true
	}
	declaredSet := map[string]bool{}
	for _, p := range declared {
		declaredSet[p] = true
	}

	granted := []string{}
	for _, p := range requested {
		if allowed[p] && declaredSet[p] {
			granted = append(granted, p)
		}
	}
	return granted
}

func manifestMap(m *Manifest) map[string]interface{} {
	out := map[string]interface{}{
		"id":          m.ID,
		"name":        m.Name,
		"version":     m.Version,
		"author":      m.Author,
		"type":        string(m.Type),
		"permissions": m.Permissions,
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	if len(m.AllowedOrigins) > 0 {
		out["allowed_origins"] = m.AllowedOrigins
	}
	if m.HealthEndpoint != "" {
		out["health_endpoint"] = m.HealthEndpoint
	}
	if m.Entry != "" {
		out["entry"] = m.Entry
	}
	return out
}

func swapDir(staging, final string) error {
	if err := os.RemoveAll(final); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	return os.Rename(staging, final)
}
