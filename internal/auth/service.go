// Package auth implements password verification, session issuance, and the
// append-only authentication audit log.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

const (
	// idleWindow is the sliding expiry extension for ordinary sessions.
	idleWindow = 8 * time.Hour

	// rememberWindow is the sliding expiry extension for remember-me
	// sessions.
	rememberWindow = 30 * 24 * time.Hour

	// sessionHardCap bounds any session to 30 days from creation, no matter
	// how active it is.
	sessionHardCap = 30 * 24 * time.Hour
)

// UserStore persists user accounts.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists sessions. The database is authoritative; there is no
// in-process cache, so logout and deactivation revoke immediately.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	UpdateSessionActivity(ctx context.Context, id string, lastActivity, expiresAt time.Time) error
	DeactivateSession(ctx context.Context, id string) error
	DeactivateExpiredSessions(ctx context.Context, now time.Time) ([]models.Session, error)
	CountActiveSessions(ctx context.Context, now time.Time) (int, error)
	ListActiveSessions(ctx context.Context, now time.Time) ([]models.Session, error)
}

// AuditStore appends and lists authentication audit events.
type AuditStore interface {
	InsertAuthEvent(ctx context.Context, event models.AuthAuditEvent) error
	ListAuthEvents(ctx context.Context, limit int) ([]models.AuthAuditEvent, error)
}

// Service implements login, validation, logout, and user management.
type Service struct {
	users      UserStore
	sessions   SessionStore
	audit      AuditStore
	signingKey string
	registry   *metrics.Registry

	now func() time.Time
}

// NewService wires the auth service.
func NewService(users UserStore, sessions SessionStore, audit AuditStore, signingKey string, registry *metrics.Registry) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		audit:      audit,
		signingKey: signingKey,
		registry:   registry,
		now:        time.Now,
	}
}

// RequestMeta carries caller network context for audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token   string
	Session *models.Session
	User    *models.User
}

// Login verifies credentials and issues a session. Failures are audited and
// collapse to a generic unauthenticated error so usernames cannot be
// enumerated.
func (s *Service) Login(ctx context.Context, username, password string, rememberMe bool, meta RequestMeta) (*LoginResult, error) {
	const op = "auth.login"

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil || !user.IsActive {
		s.recordAudit(ctx, models.AuthAuditEvent{
			EventType: models.AuthEventLoginFailed,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Details:   fmt.Sprintf("username=%s reason=unknown_or_inactive", username),
		})
		s.registry.RecordAuthAttempt("failure", "password")
		return nil, platformerrors.Unauthenticated(op)
	}

	if !CheckPasswordHash(password, user.PasswordHash) {
		s.recordAudit(ctx, models.AuthAuditEvent{
			UserID:    &user.ID,
			EventType: models.AuthEventLoginFailed,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Details:   "reason=bad_password",
		})
		s.registry.RecordAuthAttempt("failure", "password")
		return nil, platformerrors.Unauthenticated(op)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, platformerrors.Internal(op, err)
	}

	now := s.now().UTC()
	window := idleWindow
	if rememberMe {
		window = rememberWindow
	}

	session := &models.Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		TokenHash:      HashToken(token, s.signingKey),
		CreatedAt:      now,
		ExpiresAt:      now.Add(window),
		LastActivityAt: now,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		IsActive:       true,
		RememberMe:     rememberMe,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, platformerrors.Internal(op, err)
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		log.Error().Err(err).Str("user", user.Username).Msg("Failed to update last login")
	}

	s.recordAudit(ctx, models.AuthAuditEvent{
		UserID:    &user.ID,
		EventType: models.AuthEventLoginSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.registry.RecordAuthAttempt("success", "password")
	s.registry.IncActiveSessions()

	return &LoginResult{Token: token, Session: session, User: user}, nil
}

// Validate resolves a token to its user and session, touching activity and
// extending the sliding expiry up to the 30-day hard cap.
func (s *Service) Validate(ctx context.Context, token string) (*models.User, *models.Session, error) {
	const op = "auth.validate"

	session, err := s.sessions.GetSessionByTokenHash(ctx, HashToken(token, s.signingKey))
	if err != nil {
		return nil, nil, platformerrors.Unauthenticated(op)
	}

	now := s.now().UTC()
	if !session.IsActive || !session.ExpiresAt.After(now) {
		return nil, nil, platformerrors.Unauthenticated(op)
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, platformerrors.Unauthenticated(op)
	}
	if !user.IsActive {
		if err := s.sessions.DeactivateSession(ctx, session.ID); err != nil {
			log.Error().Err(err).Str("session", session.ID).Msg("Failed to deactivate session of inactive user")
		}
		return nil, nil, platformerrors.Unauthenticated(op)
	}

	window := idleWindow
	if session.RememberMe {
		window = rememberWindow
	}
	extended := now.Add(window)
	if cap := session.CreatedAt.Add(sessionHardCap); extended.After(cap) {
		extended = cap
	}

	if err := s.sessions.UpdateSessionActivity(ctx, session.ID, now, extended); err != nil {
		log.Error().Err(err).Str("session", session.ID).Msg("Failed to touch session activity")
	}
	session.LastActivityAt = now
	session.ExpiresAt = extended

	return user, session, nil
}

// Logout deactivates the session behind token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string, meta RequestMeta) error {
	session, err := s.sessions.GetSessionByTokenHash(ctx, HashToken(token, s.signingKey))
	if err != nil {
		return nil
	}

	if err := s.sessions.DeactivateSession(ctx, session.ID); err != nil {
		return platformerrors.Internal("auth.logout", err)
	}

	s.recordAudit(ctx, models.AuthAuditEvent{
		UserID:    &session.UserID,
		EventType: models.AuthEventLogout,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.registry.DecActiveSessions()
	return nil
}

// CreateUserInput carries the admin-supplied fields for a new account.
type CreateUserInput struct {
	Username       string
	Password       string
	Role           models.Role
	DefaultView    *string
	SingleViewMode bool
}

// CreateUser provisions an account. Admin-only; enforced at the HTTP layer.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput, actor *models.User, meta RequestMeta) (*models.User, error) {
	const op = "auth.create_user"

	if in.Username == "" {
		return nil, platformerrors.Validation(op, fmt.Errorf("username is required")).WithField("username", "required")
	}
	if err := ValidatePasswordComplexity(in.Password); err != nil {
		return nil, platformerrors.Validation(op, err).WithField("password", err.Error())
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, platformerrors.Internal(op, err)
	}

	user := &models.User{
		ID:             uuid.NewString(),
		Username:       in.Username,
		PasswordHash:   hash,
		Role:           in.Role,
		DefaultView:    in.DefaultView,
		SingleViewMode: in.SingleViewMode,
		IsActive:       true,
		CreatedAt:      s.now().UTC(),
	}
	if actor != nil {
		user.CreatedBy = &actor.ID
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, models.AuthAuditEvent{
		UserID:    &user.ID,
		EventType: models.AuthEventUserCreated,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   fmt.Sprintf("created_by=%s role=%s", actorName(actor), user.Role),
	})
	return user, nil
}

// UpdateUserInput carries optional field updates; nil means unchanged.
type UpdateUserInput struct {
	Password       *string
	Role           *models.Role
	DefaultView    *string
	SingleViewMode *bool
	IsActive       *bool
}

// UpdateUser applies a partial update. Password changes rehash with a fresh
// salt and are audited separately.
func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput, actor *models.User, meta RequestMeta) (*models.User, error) {
	const op = "auth.update_user"

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	passwordChanged := false
	if in.Password != nil {
		if err := ValidatePasswordComplexity(*in.Password); err != nil {
			return nil, platformerrors.Validation(op, err).WithField("password", err.Error())
		}
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return nil, platformerrors.Internal(op, err)
		}
		user.PasswordHash = hash
		passwordChanged = true
	}
	if in.Role != nil {
		user.Role = *in.Role
	}
	if in.DefaultView != nil {
		user.DefaultView = in.DefaultView
	}
	if in.SingleViewMode != nil {
		user.SingleViewMode = *in.SingleViewMode
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, models.AuthAuditEvent{
		UserID:    &user.ID,
		EventType: models.AuthEventUserUpdated,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   fmt.Sprintf("updated_by=%s", actorName(actor)),
	})
	if passwordChanged {
		s.recordAudit(ctx, models.AuthAuditEvent{
			UserID:    &user.ID,
			EventType: models.AuthEventPasswordChanged,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	}
	return user, nil
}

// DeleteUser removes an account. Sessions cascade; audit rows keep their
// content with user_id set to null by the schema.
func (s *Service) DeleteUser(ctx context.Context, id string, actor *models.User, meta RequestMeta) error {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}

	s.recordAudit(ctx, models.AuthAuditEvent{
		EventType: models.AuthEventUserDeleted,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   fmt.Sprintf("username=%s deleted_by=%s", user.Username, actorName(actor)),
	})
	return nil
}

// ListUsers returns all accounts.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.ListUsers(ctx)
}

// ListActiveSessions returns sessions that are active and unexpired.
func (s *Service) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	return s.sessions.ListActiveSessions(ctx, s.now().UTC())
}

// ListAuditEvents returns the most recent authentication audit events.
func (s *Service) ListAuditEvents(ctx context.Context, limit int) ([]models.AuthAuditEvent, error) {
	return s.audit.ListAuthEvents(ctx, limit)
}

// CleanupExpired marks expired sessions inactive and audits each expiry.
// Run hourly.
func (s *Service) CleanupExpired(ctx context.Context) {
	expired, err := s.sessions.DeactivateExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Session cleanup failed")
		return
	}

	for i := range expired {
		s.recordAudit(ctx, models.AuthAuditEvent{
			UserID:    &expired[i].UserID,
			EventType: models.AuthEventSessionExpired,
			Details:   fmt.Sprintf("session=%s", expired[i].ID),
		})
	}

	s.RefreshSessionGauge(ctx)

	if len(expired) > 0 {
		log.Info().Int("expired", len(expired)).Msg("Expired sessions deactivated")
	}
}

// RefreshSessionGauge resyncs the active_sessions gauge from the store.
func (s *Service) RefreshSessionGauge(ctx context.Context) {
	count, err := s.sessions.CountActiveSessions(ctx, s.now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count active sessions")
		return
	}
	s.registry.SetActiveSessions(count)
}

func (s *Service) recordAudit(ctx context.Context, event models.AuthAuditEvent) {
	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.audit.InsertAuthEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("event", string(event.EventType)).Msg("Failed to record auth audit event")
	}
}

func actorName(actor *models.User) string {
	if actor == nil {
		return "system"
	}
	return actor.Username
}
