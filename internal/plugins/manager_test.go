package plugins

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

type fakePluginStore struct {
	mu            sync.Mutex
	plugins       map[string]*models.Plugin
	installations map[string]*models.PluginInstallation
	violations    []models.PluginSecurityViolation
	accesses      []models.PluginAPIAccess
	healthChecks  []models.PluginHealthCheck
}

func newFakePluginStore() *fakePluginStore {
	return &fakePluginStore{
		plugins:       map[string]*models.Plugin{},
		installations: map[string]*models.PluginInstallation{},
	}
}

func (f *fakePluginStore) GetPlugin(_ context.Context, id string) (*models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[id]
	if !ok {
		return nil, platformerrors.NotFound("test", "plugin")
	}
	copied := *p
	return &copied, nil
}

func (f *fakePluginStore) ListPlugins(_ context.Context) ([]models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Plugin{}
	for _, p := range f.plugins {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePluginStore) InsertPlugin(_ context.Context, p *models.Plugin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plugins[p.ID]; ok {
		return platformerrors.Conflict("test", nil)
	}
	copied := *p
	f.plugins[p.ID] = &copied
	return nil
}

func (f *fakePluginStore) UpdatePluginRelease(_ context.Context, p *models.Plugin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.plugins[p.ID]
	if !ok {
		return platformerrors.NotFound("test", "plugin")
	}
	existing.Name = p.Name
	existing.Version = p.Version
	existing.Description = p.Description
	existing.Author = p.Author
	existing.Type = p.Type
	existing.Manifest = p.Manifest
	existing.Permissions = p.Permissions
	existing.InstallPath = p.InstallPath
	existing.InstallationID = p.InstallationID
	return nil
}

func (f *fakePluginStore) DeletePlugin(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plugins[id]; !ok {
		return platformerrors.NotFound("test", "plugin")
	}
	delete(f.plugins, id)
	return nil
}

func (f *fakePluginStore) TransitionStatus(_ context.Context, id string, to models.PluginStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[id]
	if !ok {
		return platformerrors.NotFound("test", "plugin")
	}
	if err := CheckTransition(p.Status, to); err != nil {
		return err
	}
	p.Status = to
	return nil
}

func (f *fakePluginStore) CreateInstallation(_ context.Context, inst *models.PluginInstallation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *inst
	f.installations[inst.ID] = &copied
	return nil
}

func (f *fakePluginStore) UpdateInstallation(_ context.Context, inst *models.PluginInstallation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *inst
	f.installations[inst.ID] = &copied
	return nil
}

func (f *fakePluginStore) GetInstallation(_ context.Context, id string) (*models.PluginInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.installations[id]
	if !ok {
		return nil, platformerrors.NotFound("test", "installation")
	}
	copied := *inst
	return &copied, nil
}

func (f *fakePluginStore) InsertViolations(_ context.Context, violations []models.PluginSecurityViolation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, violations...)
	return nil
}

func (f *fakePluginStore) ListViolations(_ context.Context, pluginID string, includeResolved bool) ([]models.PluginSecurityViolation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.PluginSecurityViolation{}
	for _, v := range f.violations {
		if v.PluginID != pluginID {
			continue
		}
		if !includeResolved && v.Resolved {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakePluginStore) ResolveViolation(_ context.Context, pluginID, violationID, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.violations {
		if f.violations[i].ID == violationID && f.violations[i].PluginID == pluginID {
			f.violations[i].Resolved = true
			f.violations[i].ResolutionNotes = notes
			return nil
		}
	}
	return platformerrors.NotFound("test", "violation")
}

func (f *fakePluginStore) SetSecurityPosture(_ context.Context, pluginID string, score, unresolved int, lastViolationAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plugins[pluginID]; ok {
		p.SecurityScore = score
		p.SecurityViolations = unresolved
		if lastViolationAt != nil {
			p.LastViolationAt = lastViolationAt
		}
	}
	return nil
}

func (f *fakePluginStore) UpdateConfig(_ context.Context, pluginID string, newConfig map[string]interface{}, changedBy, reason string) (*models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[pluginID]
	if !ok {
		return nil, platformerrors.NotFound("test", "plugin")
	}
	p.Config = newConfig
	copied := *p
	return &copied, nil
}

func (f *fakePluginStore) InsertAPIAccess(_ context.Context, a models.PluginAPIAccess) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accesses = append(f.accesses, a)
	return nil
}

func (f *fakePluginStore) InsertHealthCheck(_ context.Context, c models.PluginHealthCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthChecks = append(f.healthChecks, c)
	return nil
}

func (f *fakePluginStore) ConsecutiveHealthFailures(_ context.Context, pluginID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for i := len(f.healthChecks) - 1; i >= 0; i-- {
		if f.healthChecks[i].PluginID != pluginID {
			continue
		}
		if f.healthChecks[i].Healthy {
			break
		}
		count++
	}
	return count, nil
}

type fakeFetcher struct {
	files map[string]string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _, dir string) error {
	if f.err != nil {
		return f.err
	}
	for name, content := range f.files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	topics []string
	kinds  []string
}

func (f *fakeEventPublisher) Publish(_ context.Context, topic, kind string, _ map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.kinds = append(f.kinds, kind)
	return "trace", nil
}

func cleanBundle() map[string]string {
	return map[string]string{
		ManifestFilename: `{
			"id": "status-widget",
			"name": "Status Widget",
			"version": "1.0.0",
			"author": "acme",
			"type": "ui",
			"permissions": ["read:projects", "read:events"]
		}`,
		"index.js": `export function render() { return "ok"; }`,
	}
}

func newTestManager(t *testing.T, store Store, fetcher Fetcher, pub EventPublisher) *Manager {
	t.Helper()
	return NewManager(store, fetcher, pub, metrics.Get(), t.TempDir(), []string{"github.com"})
}

// installSync drives the install flow without the async goroutine.
func installSync(t *testing.T, m *Manager, store *fakePluginStore, repoURL string, perms []string) *models.PluginInstallation {
	t.Helper()
	inst := &models.PluginInstallation{
		ID:        "inst-1",
		Status:    models.PluginPending,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateInstallation(context.Background(), inst))
	m.runInstall(context.Background(), inst, repoURL, perms)

	final, err := store.GetInstallation(context.Background(), inst.ID)
	require.NoError(t, err)
	return final
}

func TestInstallCleanBundle(t *testing.T) {
	store := newFakePluginStore()
	pub := &fakeEventPublisher{}
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, pub)

	inst := installSync(t, m, store, "https://github.com/acme/status-widget", []string{"read:projects"})
	assert.Equal(t, models.PluginInstalled, inst.Status)

	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	assert.Equal(t, models.PluginInstalled, plugin.Status)
	assert.Equal(t, 100, plugin.SecurityScore)
	assert.Equal(t, []string{"read:projects"}, plugin.Permissions, "grants are the three-way intersection")
	assert.DirExists(t, plugin.InstallPath)

	assert.Contains(t, pub.topics, "plugins/events/installed")
}

func TestInstallRejectsCriticalFinding(t *testing.T) {
	bundle := cleanBundle()
	bundle["evil.js"] = `eval(payload);`

	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{files: bundle}, &fakeEventPublisher{})

	inst := installSync(t, m, store, "https://github.com/acme/status-widget", nil)
	assert.Equal(t, models.PluginFailed, inst.Status)

	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	assert.Equal(t, models.PluginFailed, plugin.Status)
	assert.Equal(t, 60, plugin.SecurityScore, "rejected row keeps the computed score")
	assert.Equal(t, 1, plugin.SecurityViolations)
	assert.NotNil(t, plugin.LastViolationAt)

	violations, err := store.ListViolations(context.Background(), "status-widget", true)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
	assert.Equal(t, "eval_usage", violations[0].ViolationType)
	assert.Equal(t, models.SeverityCritical, violations[0].Severity)
}

func TestInstallRejectsLowScore(t *testing.T) {
	bundle := cleanBundle()
	// four highs = 60 weight, score 40 < 50 with no critical
	bundle["a.js"] = `x.innerHTML = "<i>" + a + "</i>";`
	bundle["b.js"] = `window.parent.location = u;`
	bundle["c.js"] = `y.innerHTML = "<i>" + b + "</i>";`
	bundle["d.js"] = `window.top.name = n;`

	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{files: bundle}, &fakeEventPublisher{})

	inst := installSync(t, m, store, "https://github.com/acme/status-widget", nil)
	assert.Equal(t, models.PluginFailed, inst.Status)
	assert.Contains(t, inst.Message, "security policy rejection")

	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	assert.Equal(t, models.PluginFailed, plugin.Status)
	assert.Equal(t, 40, plugin.SecurityScore, "rejected row keeps the computed score")
	assert.Equal(t, 4, plugin.SecurityViolations)
}

func TestInstallFetchFailure(t *testing.T) {
	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{err: platformerrors.Upstream("test", assert.AnError)}, &fakeEventPublisher{})

	inst := installSync(t, m, store, "https://github.com/acme/status-widget", nil)
	assert.Equal(t, models.PluginFailed, inst.Status)
	assert.Equal(t, "bundle fetch failed", inst.Message)
}

func TestInstallRejectsDisallowedHost(t *testing.T) {
	m := newTestManager(t, newFakePluginStore(), &fakeFetcher{}, &fakeEventPublisher{})

	_, err := m.Install(context.Background(), "https://bitbucket.org/acme/widget", nil)
	assert.ErrorIs(t, err, platformerrors.ErrInvalidInput)
}

func TestUpdateRequiresNewerVersion(t *testing.T) {
	store := newFakePluginStore()
	pub := &fakeEventPublisher{}
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, pub)

	inst := installSync(t, m, store, "https://github.com/acme/status-widget", nil)
	require.Equal(t, models.PluginInstalled, inst.Status)

	// same version again
	inst2 := &models.PluginInstallation{ID: "inst-2", Status: models.PluginPending, StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateInstallation(context.Background(), inst2))
	m.runInstall(context.Background(), inst2, "https://github.com/acme/status-widget", nil)

	final, err := store.GetInstallation(context.Background(), inst2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PluginFailed, final.Status)

	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	assert.Equal(t, models.PluginInstalled, plugin.Status, "failed update leaves prior release installed")
	assert.Equal(t, "1.0.0", plugin.Version)
}

func TestUpdateAppliesNewerVersion(t *testing.T) {
	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, &fakeEventPublisher{})
	installSync(t, m, store, "https://github.com/acme/status-widget", nil)

	newer := cleanBundle()
	newer[ManifestFilename] = `{
		"id": "status-widget", "name": "Status Widget", "version": "1.1.0",
		"author": "acme", "type": "ui", "permissions": ["read:projects"]
	}`
	m.fetcher = &fakeFetcher{files: newer}

	inst2 := &models.PluginInstallation{ID: "inst-2", Status: models.PluginPending, StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateInstallation(context.Background(), inst2))
	m.runInstall(context.Background(), inst2, "https://github.com/acme/status-widget", nil)

	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", plugin.Version)
	assert.Equal(t, models.PluginInstalled, plugin.Status)
}

func TestDisableEnableCycle(t *testing.T) {
	store := newFakePluginStore()
	pub := &fakeEventPublisher{}
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, pub)
	installSync(t, m, store, "https://github.com/acme/status-widget", nil)

	require.NoError(t, m.Disable(context.Background(), "status-widget"))
	plugin, _ := store.GetPlugin(context.Background(), "status-widget")
	assert.Equal(t, models.PluginDisabled, plugin.Status)

	// disabling twice is an invalid transition
	err := m.Disable(context.Background(), "status-widget")
	assert.ErrorIs(t, err, platformerrors.ErrConflict)

	require.NoError(t, m.Enable(context.Background(), "status-widget"))
	plugin, _ = store.GetPlugin(context.Background(), "status-widget")
	assert.Equal(t, models.PluginInstalled, plugin.Status)
}

func TestUninstallRemovesRowAndBundle(t *testing.T) {
	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, &fakeEventPublisher{})
	installSync(t, m, store, "https://github.com/acme/status-widget", nil)

	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	bundleDir := plugin.InstallPath

	require.NoError(t, m.Uninstall(context.Background(), "status-widget"))

	_, err = store.GetPlugin(context.Background(), "status-widget")
	assert.ErrorIs(t, err, platformerrors.ErrNotFound)
	assert.NoDirExists(t, bundleDir)
}

func TestResolveViolationRecomputesScore(t *testing.T) {
	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, &fakeEventPublisher{})
	installSync(t, m, store, "https://github.com/acme/status-widget", nil)

	require.NoError(t, m.RecordRuntimeViolation(context.Background(), "status-widget",
		"permission_denied", "denied call", models.SeverityHigh, "GET /api/v1/logs"))

	plugin, _ := store.GetPlugin(context.Background(), "status-widget")
	assert.Equal(t, 85, plugin.SecurityScore)
	assert.Equal(t, 1, plugin.SecurityViolations)

	violations, _ := store.ListViolations(context.Background(), "status-widget", false)
	require.Len(t, violations, 1)

	require.NoError(t, m.ResolveViolation(context.Background(), "status-widget", violations[0].ID, "false positive"))

	plugin, _ = store.GetPlugin(context.Background(), "status-widget")
	assert.Equal(t, 100, plugin.SecurityScore)
	assert.Equal(t, 0, plugin.SecurityViolations)
}

func TestGatekeeperAuthorize(t *testing.T) {
	store := newFakePluginStore()
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, &fakeEventPublisher{})
	installSync(t, m, store, "https://github.com/acme/status-widget", []string{"read:projects"})

	gk := NewGatekeeper(store, m)
	plugin, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)

	decision, err := gk.Authorize(context.Background(), plugin, "GET", "/api/v1/projects")
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.Equal(t, "read:projects", decision.PermissionRequired)

	decision, err = gk.Authorize(context.Background(), plugin, "GET", "/api/v1/logs")
	assert.ErrorIs(t, err, platformerrors.ErrForbidden)
	assert.False(t, decision.Granted)
	assert.Equal(t, "read:logs", decision.PermissionRequired)

	updated, err := store.GetPlugin(context.Background(), "status-widget")
	require.NoError(t, err)
	assert.Equal(t, 85, updated.SecurityScore, "denial recorded a high violation")
}

func TestHealthCheckerDisablesAfterThreeFailures(t *testing.T) {
	store := newFakePluginStore()
	pub := &fakeEventPublisher{}
	m := newTestManager(t, store, &fakeFetcher{files: cleanBundle()}, pub)
	installSync(t, m, store, "https://github.com/acme/status-widget", nil)

	h := NewHealthChecker(store, m)
	ctx := context.Background()

	// unreachable endpoint: every probe fails
	plugin, err := store.GetPlugin(ctx, "status-widget")
	require.NoError(t, err)
	plugin.Manifest["health_endpoint"] = "http://127.0.0.1:1/health"
	store.plugins["status-widget"].Manifest = plugin.Manifest

	for i := 0; i < 3; i++ {
		h.CheckAll(ctx)
	}

	final, err := store.GetPlugin(ctx, "status-widget")
	require.NoError(t, err)
	assert.Equal(t, models.PluginDisabled, final.Status)
	assert.GreaterOrEqual(t, len(store.healthChecks), 3)
	assert.Contains(t, pub.topics, "plugins/events/health_failed")
}
