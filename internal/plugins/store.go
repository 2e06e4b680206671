package plugins

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// Store is the persistence surface the plugin services depend on.
type Store interface {
	GetPlugin(ctx context.Context, id string) (*models.Plugin, error)
	ListPlugins(ctx context.Context) ([]models.Plugin, error)
	InsertPlugin(ctx context.Context, plugin *models.Plugin) error
	UpdatePluginRelease(ctx context.Context, plugin *models.Plugin) error
	DeletePlugin(ctx context.Context, id string) error
	TransitionStatus(ctx context.Context, id string, to models.PluginStatus) error

	CreateInstallation(ctx context.Context, inst *models.PluginInstallation) error
	UpdateInstallation(ctx context.Context, inst *models.PluginInstallation) error
	GetInstallation(ctx context.Context, id string) (*models.PluginInstallation, error)

	InsertViolations(ctx context.Context, violations []models.PluginSecurityViolation) error
	ListViolations(ctx context.Context, pluginID string, includeResolved bool) ([]models.PluginSecurityViolation, error)
	ResolveViolation(ctx context.Context, pluginID, violationID, notes string) error
	SetSecurityPosture(ctx context.Context, pluginID string, score, unresolved int, lastViolationAt *time.Time) error

	UpdateConfig(ctx context.Context, pluginID string, newConfig map[string]interface{}, changedBy, reason string) (*models.Plugin, error)
	InsertAPIAccess(ctx context.Context, access models.PluginAPIAccess) error
	InsertHealthCheck(ctx context.Context, check models.PluginHealthCheck) error
	ConsecutiveHealthFailures(ctx context.Context, pluginID string) (int, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *storage.Store
}

// NewPGStore wires the plugin tables.
func NewPGStore(db *storage.Store) *PGStore {
	return &PGStore{db: db}
}

const pluginColumns = `id, name, version, description, author, type, repository_url,
	install_path, manifest, permissions, config, status, installed_at, last_updated_at,
	installation_id, security_violations, last_violation_at, security_score, created_at, updated_at`

func scanPlugin(row interface{ Scan(dest ...interface{}) error }) (*models.Plugin, error) {
	var p models.Plugin
	err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Description, &p.Author, &p.Type,
		&p.RepositoryURL, &p.InstallPath, &p.Manifest, &p.Permissions, &p.Config,
		&p.Status, &p.InstalledAt, &p.LastUpdatedAt, &p.InstallationID,
		&p.SecurityViolations, &p.LastViolationAt, &p.SecurityScore, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("plugins.store", "plugin")
		}
		return nil, platformerrors.Internal("plugins.store", err)
	}
	return &p, nil
}

// GetPlugin returns one plugin by id.
func (s *PGStore) GetPlugin(ctx context.Context, id string) (*models.Plugin, error) {
	row := s.db.FetchRow(ctx, `SELECT `+pluginColumns+` FROM plugins WHERE id = $1`, id)
	return scanPlugin(row)
}

// ListPlugins returns all plugins ordered by name.
func (s *PGStore) ListPlugins(ctx context.Context) ([]models.Plugin, error) {
	rows, err := s.db.FetchRows(ctx, `SELECT `+pluginColumns+` FROM plugins ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plugins := []models.Plugin{}
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, *p)
	}
	return plugins, rows.Err()
}

// InsertPlugin creates the plugin row.
func (s *PGStore) InsertPlugin(ctx context.Context, p *models.Plugin) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO plugins (id, name, version, description, author, type, repository_url,
			install_path, manifest, permissions, config, status, installed_at,
			installation_id, security_violations, last_violation_at, security_score,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)`,
		p.ID, p.Name, p.Version, p.Description, p.Author, p.Type, p.RepositoryURL,
		p.InstallPath, p.Manifest, p.Permissions, p.Config, p.Status, p.InstalledAt,
		p.InstallationID, p.SecurityViolations, p.LastViolationAt, p.SecurityScore,
		p.CreatedAt)
	return err
}

// UpdatePluginRelease replaces the release fields after a successful update.
// Config is deliberately untouched.
func (s *PGStore) UpdatePluginRelease(ctx context.Context, p *models.Plugin) error {
	affected, err := s.db.Execute(ctx, `
		UPDATE plugins SET name = $2, version = $3, description = $4, author = $5,
			type = $6, manifest = $7, permissions = $8, install_path = $9,
			installation_id = $10, last_updated_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Version, p.Description, p.Author, p.Type, p.Manifest,
		p.Permissions, p.InstallPath, p.InstallationID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("plugins.store.update", "plugin")
	}
	return nil
}

// DeletePlugin removes the row; violations and access logs cascade.
func (s *PGStore) DeletePlugin(ctx context.Context, id string) error {
	affected, err := s.db.Execute(ctx, `DELETE FROM plugins WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("plugins.store.delete", "plugin")
	}
	return nil
}

// TransitionStatus applies a state-machine transition under a row lock so
// concurrent transitions for the same plugin serialize.
func (s *PGStore) TransitionStatus(ctx context.Context, id string, to models.PluginStatus) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var current models.PluginStatus
		err := tx.QueryRow(ctx, `SELECT status FROM plugins WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			if storage.IsNoRows(err) {
				return platformerrors.NotFound("plugins.store.transition", "plugin")
			}
			return platformerrors.Internal("plugins.store.transition", err)
		}

		if err := CheckTransition(current, to); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE plugins SET status = $2, updated_at = NOW() WHERE id = $1`, id, to)
		if err != nil {
			return platformerrors.Internal("plugins.store.transition", err)
		}
		return nil
	})
}

// CreateInstallation records a new install attempt.
func (s *PGStore) CreateInstallation(ctx context.Context, inst *models.PluginInstallation) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO plugin_installations (id, status, message, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		inst.ID, inst.Status, inst.Message, inst.StartedAt)
	return err
}

// UpdateInstallation advances an install attempt.
func (s *PGStore) UpdateInstallation(ctx context.Context, inst *models.PluginInstallation) error {
	_, err := s.db.Execute(ctx, `
		UPDATE plugin_installations SET status = $2, message = $3, error_details = $4,
			completed_at = $5, updated_at = NOW()
		WHERE id = $1`,
		inst.ID, inst.Status, inst.Message, inst.ErrorDetails, inst.CompletedAt)
	return err
}

// GetInstallation returns one install attempt.
func (s *PGStore) GetInstallation(ctx context.Context, id string) (*models.PluginInstallation, error) {
	var inst models.PluginInstallation
	err := s.db.FetchRow(ctx, `
		SELECT id, status, message, started_at, updated_at, completed_at, COALESCE(error_details, '')
		FROM plugin_installations WHERE id = $1`, id).
		Scan(&inst.ID, &inst.Status, &inst.Message, &inst.StartedAt, &inst.UpdatedAt,
			&inst.CompletedAt, &inst.ErrorDetails)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("plugins.store.installation", "installation")
		}
		return nil, platformerrors.Internal("plugins.store.installation", err)
	}
	return &inst, nil
}

// InsertViolations appends findings for a plugin.
func (s *PGStore) InsertViolations(ctx context.Context, violations []models.PluginSecurityViolation) error {
	if len(violations) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, v := range violations {
			_, err := tx.Exec(ctx, `
				INSERT INTO plugin_security_violations
					(id, plugin_id, violation_type, description, severity, context, timestamp, resolved)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				v.ID, v.PluginID, v.ViolationType, v.Description, v.Severity,
				v.Context, v.Timestamp, v.Resolved)
			if err != nil {
				return platformerrors.Internal("plugins.store.violations", err)
			}
		}
		return nil
	})
}

// ListViolations returns a plugin's findings, newest first.
func (s *PGStore) ListViolations(ctx context.Context, pluginID string, includeResolved bool) ([]models.PluginSecurityViolation, error) {
	query := `SELECT id, plugin_id, violation_type, description, severity,
		COALESCE(context, ''), timestamp, resolved, COALESCE(resolution_notes, '')
		FROM plugin_security_violations WHERE plugin_id = $1`
	if !includeResolved {
		query += ` AND resolved = FALSE`
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := s.db.FetchRows(ctx, query, pluginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	violations := []models.PluginSecurityViolation{}
	for rows.Next() {
		var v models.PluginSecurityViolation
		if err := rows.Scan(&v.ID, &v.PluginID, &v.ViolationType, &v.Description,
			&v.Severity, &v.Context, &v.Timestamp, &v.Resolved, &v.ResolutionNotes); err != nil {
			return nil, platformerrors.Internal("plugins.store.violations", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// ResolveViolation marks one finding resolved with notes.
func (s *PGStore) ResolveViolation(ctx context.Context, pluginID, violationID, notes string) error {
	affected, err := s.db.Execute(ctx, `
		UPDATE plugin_security_violations SET resolved = TRUE, resolution_notes = $3
		WHERE id = $1 AND plugin_id = $2`, violationID, pluginID, notes)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("plugins.store.resolve", "violation")
	}
	return nil
}

// SetSecurityPosture updates the denormalized score and violation counters.
func (s *PGStore) SetSecurityPosture(ctx context.Context, pluginID string, score, unresolved int, lastViolationAt *time.Time) error {
	_, err := s.db.Execute(ctx, `
		UPDATE plugins SET security_score = $2, security_violations = $3,
			last_violation_at = COALESCE($4, last_violation_at), updated_at = NOW()
		WHERE id = $1`, pluginID, score, unresolved, lastViolationAt)
	return err
}

// UpdateConfig swaps the plugin config and appends history in one
// transaction. Status is unchanged.
func (s *PGStore) UpdateConfig(ctx context.Context, pluginID string, newConfig map[string]interface{}, changedBy, reason string) (*models.Plugin, error) {
	var updated *models.Plugin
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		plugin, err := scanPlugin(tx.QueryRow(ctx,
			`SELECT `+pluginColumns+` FROM plugins WHERE id = $1 FOR UPDATE`, pluginID))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE plugins SET config = $2, updated_at = NOW() WHERE id = $1`,
			pluginID, newConfig)
		if err != nil {
			return platformerrors.Internal("plugins.store.config", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO plugin_config_history (id, plugin_id, old_config, new_config, changed_by, change_reason, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			uuid.NewString(), pluginID, plugin.Config, newConfig, changedBy, reason)
		if err != nil {
			return platformerrors.Internal("plugins.store.config", err)
		}

		plugin.Config = newConfig
		updated = plugin
		return nil
	})
	return updated, err
}

// InsertAPIAccess records one proxied call.
func (s *PGStore) InsertAPIAccess(ctx context.Context, a models.PluginAPIAccess) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO plugin_api_access (id, plugin_id, endpoint, method, status_code,
			permission_required, access_granted, timestamp, response_time_ms,
			request_data, user_agent, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.PluginID, a.Endpoint, a.Method, a.StatusCode, a.PermissionRequired,
		a.AccessGranted, a.Timestamp, a.ResponseTimeMs, a.RequestData, a.UserAgent, a.IPAddress)
	return err
}

// InsertHealthCheck records one probe result.
func (s *PGStore) InsertHealthCheck(ctx context.Context, c models.PluginHealthCheck) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO plugin_health_checks (id, plugin_id, healthy, status_code, response_time_ms, detail, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.PluginID, c.Healthy, c.StatusCode, c.ResponseTimeMs, c.Detail, c.CheckedAt)
	return err
}

// ConsecutiveHealthFailures counts trailing failed probes for a plugin.
func (s *PGStore) ConsecutiveHealthFailures(ctx context.Context, pluginID string) (int, error) {
	rows, err := s.db.FetchRows(ctx, `
		SELECT healthy FROM plugin_health_checks
		WHERE plugin_id = $1 ORDER BY checked_at DESC LIMIT 10`, pluginID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var healthy bool
		if err := rows.Scan(&healthy); err != nil {
			return 0, platformerrors.Internal("plugins.store.health", err)
		}
		if healthy {
			break
		}
		count++
	}
	return count, rows.Err()
}
