// Package plugins manages the plugin lifecycle: install, static security
// analysis, state transitions, runtime proxying, and health checks.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/coreos/go-semver/semver"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// ManifestFilename is the required manifest at the bundle root.
const ManifestFilename = "taylordash-plugin.json"

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,62}$`)

// Manifest describes a plugin bundle.
type Manifest struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Version        string            `json:"version"`
	Description    string            `json:"description,omitempty"`
	Author         string            `json:"author"`
	Type           models.PluginType `json:"type"`
	Permissions    []string          `json:"permissions"`
	AllowedOrigins []string          `json:"allowed_origins,omitempty"`
	HealthEndpoint string            `json:"health_endpoint,omitempty"`
	Entry          string            `json:"entry,omitempty"`
}

// LoadManifest reads and validates the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	const op = "plugins.manifest"

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, platformerrors.Validation(op, fmt.Errorf("manifest %s missing or unreadable: %w", ManifestFilename, err))
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, platformerrors.Validation(op, fmt.Errorf("manifest is not valid JSON: %w", err))
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the required manifest fields.
func (m *Manifest) Validate() error {
	const op = "plugins.manifest"

	if m.ID == "" || !pluginIDPattern.MatchString(m.ID) {
		return platformerrors.Validation(op, fmt.Errorf("manifest id %q is missing or malformed", m.ID))
	}
	if m.Name == "" {
		return platformerrors.Validation(op, fmt.Errorf("manifest name is required"))
	}
	if m.Author == "" {
		return platformerrors.Validation(op, fmt.Errorf("manifest author is required"))
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return platformerrors.Validation(op, fmt.Errorf("manifest version %q is not valid semver", m.Version))
	}
	if !models.ValidPluginType(m.Type) {
		return platformerrors.Validation(op, fmt.Errorf("manifest type %q is not one of ui, data, integration, system", m.Type))
	}
	if m.Permissions == nil {
		return platformerrors.Validation(op, fmt.Errorf("manifest permissions list is required (may be empty)"))
	}
	return nil
}

// NewerThan reports whether m's version is strictly greater than other.
// Both versions must already be validated.
func (m *Manifest) NewerThan(other string) bool {
	mine, err := semver.NewVersion(m.Version)
	if err != nil {
		return false
	}
	theirs, err := semver.NewVersion(other)
	if err != nil {
		return true
	}
	return theirs.LessThan(*mine)
}
