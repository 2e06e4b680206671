package auth

import (
	"context"
	"time"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// PGStore implements UserStore, SessionStore, and AuditStore on PostgreSQL.
type PGStore struct {
	db *storage.Store
}

// NewPGStore wires the auth tables.
func NewPGStore(db *storage.Store) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, username, password_hash, role, default_view, single_view_mode,
	is_active, created_by, created_at, last_login_at, metadata`

func (s *PGStore) scanUser(row interface{ Scan(dest ...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.DefaultView,
		&u.SingleViewMode, &u.IsActive, &u.CreatedBy, &u.CreatedAt, &u.LastLoginAt, &u.Metadata)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("auth.store.user", "user")
		}
		return nil, platformerrors.Internal("auth.store.user", err)
	}
	return &u, nil
}

// GetUserByUsername looks up a user by exact username.
func (s *PGStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.FetchRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return s.scanUser(row)
}

// GetUserByID looks up a user by id.
func (s *PGStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.FetchRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return s.scanUser(row)
}

// ListUsers returns all accounts ordered by username.
func (s *PGStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.FetchRows(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateUser inserts a new account. Duplicate usernames surface as conflicts.
func (s *PGStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO users (id, username, password_hash, role, default_view, single_view_mode,
			is_active, created_by, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Username, user.PasswordHash, user.Role, user.DefaultView,
		user.SingleViewMode, user.IsActive, user.CreatedBy, user.CreatedAt, user.Metadata)
	return err
}

// UpdateUser persists all mutable fields.
func (s *PGStore) UpdateUser(ctx context.Context, user *models.User) error {
	affected, err := s.db.Execute(ctx, `
		UPDATE users SET password_hash = $2, role = $3, default_view = $4,
			single_view_mode = $5, is_active = $6, metadata = $7
		WHERE id = $1`,
		user.ID, user.PasswordHash, user.Role, user.DefaultView,
		user.SingleViewMode, user.IsActive, user.Metadata)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("auth.store.update_user", "user")
	}
	return nil
}

// DeleteUser removes an account. Sessions cascade at the schema level.
func (s *PGStore) DeleteUser(ctx context.Context, id string) error {
	affected, err := s.db.Execute(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return platformerrors.NotFound("auth.store.delete_user", "user")
	}
	return nil
}

// TouchLastLogin stamps a successful authentication.
func (s *PGStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Execute(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

const sessionColumns = `id, user_id, token_hash, created_at, expires_at, last_activity_at,
	ip_address, user_agent, is_active, remember_me`

func scanSession(row interface{ Scan(dest ...interface{}) error }) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.LastActivityAt, &sess.IPAddress, &sess.UserAgent, &sess.IsActive, &sess.RememberMe)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, platformerrors.NotFound("auth.store.session", "session")
		}
		return nil, platformerrors.Internal("auth.store.session", err)
	}
	return &sess, nil
}

// CreateSession inserts a session row.
func (s *PGStore) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at, last_activity_at,
			ip_address, user_agent, is_active, remember_me)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt,
		session.LastActivityAt, session.IPAddress, session.UserAgent, session.IsActive, session.RememberMe)
	return err
}

// GetSessionByTokenHash resolves the stored hash of a presented token.
func (s *PGStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	row := s.db.FetchRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)
	return scanSession(row)
}

// UpdateSessionActivity touches last activity and the sliding expiry.
func (s *PGStore) UpdateSessionActivity(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	_, err := s.db.Execute(ctx, `
		UPDATE sessions SET last_activity_at = $2, expires_at = $3 WHERE id = $1`,
		id, lastActivity, expiresAt)
	return err
}

// DeactivateSession revokes one session.
func (s *PGStore) DeactivateSession(ctx context.Context, id string) error {
	_, err := s.db.Execute(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	return err
}

// DeactivateExpiredSessions marks lapsed sessions inactive and returns them
// so expiry can be audited.
func (s *PGStore) DeactivateExpiredSessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	rows, err := s.db.FetchRows(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at <= $1
		RETURNING `+sessionColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *sess)
	}
	return expired, rows.Err()
}

// CountActiveSessions counts valid sessions.
func (s *PGStore) CountActiveSessions(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.FetchRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE is_active = TRUE AND expires_at > $1`, now).Scan(&count)
	if err != nil {
		return 0, platformerrors.Internal("auth.store.count_sessions", err)
	}
	return count, nil
}

// ListActiveSessions returns valid sessions, most recently active first.
func (s *PGStore) ListActiveSessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	rows, err := s.db.FetchRows(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_active = TRUE AND expires_at > $1
		ORDER BY last_activity_at DESC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// InsertAuthEvent appends to the audit log.
func (s *PGStore) InsertAuthEvent(ctx context.Context, event models.AuthAuditEvent) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO auth_audit_log (id, user_id, event_type, timestamp, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.UserID, event.EventType, event.Timestamp,
		event.IPAddress, event.UserAgent, event.Details)
	return err
}

// ListAuthEvents returns recent audit rows, newest first.
func (s *PGStore) ListAuthEvents(ctx context.Context, limit int) ([]models.AuthAuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.FetchRows(ctx, `
		SELECT id, user_id, event_type, timestamp, ip_address, user_agent, details
		FROM auth_audit_log ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.AuthAuditEvent{}
	for rows.Next() {
		var e models.AuthAuditEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.Timestamp,
			&e.IPAddress, &e.UserAgent, &e.Details); err != nil {
			return nil, platformerrors.Internal("auth.store.audit", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
