package storage

import (
	"context"
	"fmt"
)

// migrations are applied in order on startup. Statements are idempotent so a
// restart replays them safely.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'viewer')),
		default_view TEXT,
		single_view_mode BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login_at TIMESTAMPTZ,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ip_address TEXT,
		user_agent TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		remember_me BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS auth_audit_log (
		id UUID PRIMARY KEY,
		user_id UUID REFERENCES users(id) ON DELETE SET NULL,
		event_type TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		ip_address TEXT,
		user_agent TEXT,
		details TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_auth_audit_time ON auth_audit_log(timestamp)`,

	`CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'active'
			CHECK (status IN ('new', 'active', 'completed', 'archived')),
		owner_id UUID REFERENCES users(id) ON DELETE SET NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS components (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT,
		status TEXT,
		progress INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		position JSONB NOT NULL DEFAULT '{}'::jsonb,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_components_project ON components(project_id)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		component_id UUID NOT NULL REFERENCES components(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT,
		status TEXT,
		assignee_id UUID REFERENCES users(id) ON DELETE SET NULL,
		due_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_component ON tasks(component_id)`,

	`CREATE TABLE IF NOT EXISTS component_dependencies (
		component_id UUID NOT NULL REFERENCES components(id) ON DELETE CASCADE,
		depends_on_id UUID NOT NULL REFERENCES components(id) ON DELETE CASCADE,
		PRIMARY KEY (component_id, depends_on_id)
	)`,

	`CREATE TABLE IF NOT EXISTS events_mirror (
		sequence BIGSERIAL PRIMARY KEY,
		topic TEXT NOT NULL,
		payload JSONB NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		trace_id TEXT GENERATED ALWAYS AS (payload->>'trace_id') STORED
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_mirror_topic ON events_mirror(topic)`,
	`CREATE INDEX IF NOT EXISTS idx_events_mirror_kind ON events_mirror((payload->>'kind'))`,

	`CREATE TABLE IF NOT EXISTS dlq_events (
		id UUID PRIMARY KEY,
		original_topic TEXT NOT NULL,
		failure_reason TEXT NOT NULL CHECK (failure_reason <> ''),
		payload BYTEA,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS plugins (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		description TEXT,
		author TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('ui', 'data', 'integration', 'system')),
		repository_url TEXT NOT NULL,
		install_path TEXT,
		manifest JSONB NOT NULL DEFAULT '{}'::jsonb,
		permissions JSONB NOT NULL DEFAULT '[]'::jsonb,
		config JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL CHECK (status IN
			('pending', 'installing', 'installed', 'failed', 'updating', 'uninstalling', 'disabled')),
		installed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated_at TIMESTAMPTZ,
		installation_id UUID,
		security_violations INTEGER NOT NULL DEFAULT 0 CHECK (security_violations >= 0),
		last_violation_at TIMESTAMPTZ,
		security_score INTEGER NOT NULL DEFAULT 100 CHECK (security_score BETWEEN 0 AND 100),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS plugin_installations (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		message TEXT,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		error_details TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS plugin_security_violations (
		id UUID PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		violation_type TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
		context TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolution_notes TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plugin_violations_plugin ON plugin_security_violations(plugin_id)`,

	`CREATE TABLE IF NOT EXISTS plugin_api_access (
		id UUID PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL,
		status_code INTEGER,
		permission_required TEXT,
		access_granted BOOLEAN NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		response_time_ms BIGINT,
		request_data TEXT,
		user_agent TEXT,
		ip_address TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plugin_api_access_plugin ON plugin_api_access(plugin_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS plugin_config_history (
		id UUID PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		old_config JSONB,
		new_config JSONB NOT NULL,
		changed_by TEXT NOT NULL,
		change_reason TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS plugin_health_checks (
		id UUID PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		healthy BOOLEAN NOT NULL,
		status_code INTEGER,
		response_time_ms BIGINT,
		detail TEXT,
		checked_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plugin_health_plugin ON plugin_health_checks(plugin_id, checked_at)`,

	`CREATE TABLE IF NOT EXISTS application_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		level TEXT NOT NULL CHECK (level IN ('error', 'warn', 'info', 'debug')),
		service TEXT NOT NULL,
		category TEXT,
		severity TEXT NOT NULL DEFAULT 'info'
			CHECK (severity IN ('critical', 'high', 'medium', 'low', 'info')),
		message TEXT NOT NULL,
		details TEXT,
		trace_id TEXT,
		request_id TEXT,
		user_id TEXT,
		endpoint TEXT,
		method TEXT,
		status_code INTEGER,
		duration_ms BIGINT,
		error_code TEXT,
		stack_trace TEXT,
		context JSONB NOT NULL DEFAULT '{}'::jsonb,
		environment TEXT NOT NULL,
		host TEXT,
		log_date DATE GENERATED ALWAYS AS ((timezone('UTC', timestamp))::date) STORED,
		retention_deadline TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_application_logs_time ON application_logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_application_logs_service ON application_logs(service, level, timestamp)`,

	`CREATE TABLE IF NOT EXISTS log_retention_policies (
		service TEXT NOT NULL,
		level TEXT NOT NULL,
		retention_days INTEGER NOT NULL CHECK (retention_days > 0),
		PRIMARY KEY (service, level)
	)`,

	`INSERT INTO log_retention_policies (service, level, retention_days) VALUES
		('ALL', 'error', 90),
		('ALL', 'warn', 60),
		('ALL', 'info', 30),
		('ALL', 'debug', 7)
	ON CONFLICT (service, level) DO NOTHING`,
}

// Migrate applies the schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
