package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// EnsureAdmin creates the initial admin account if no user named "admin"
// exists yet. The password is only read on first startup; once the account
// exists this is a no-op.
func (s *Service) EnsureAdmin(ctx context.Context, password string) error {
	const op = "auth.ensure_admin"

	_, err := s.users.GetUserByUsername(ctx, "admin")
	if err == nil {
		return nil
	}
	if !errors.Is(err, platformerrors.ErrNotFound) {
		return platformerrors.Internal(op, err)
	}

	if password == "" {
		return platformerrors.Newf(platformerrors.KindValidation, op,
			"no admin user exists and no bootstrap password is configured")
	}
	if err := ValidatePasswordComplexity(password); err != nil {
		return platformerrors.Validation(op, err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return platformerrors.Internal(op, err)
	}

	admin := &models.User{
		ID:           uuid.NewString(),
		Username:     "admin",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, admin); err != nil {
		// Another replica may have raced us here.
		if errors.Is(err, platformerrors.ErrConflict) {
			return nil
		}
		return platformerrors.Internal(op, err)
	}

	// The account creates itself; record that explicitly.
	admin.CreatedBy = &admin.ID
	if err := s.users.UpdateUser(ctx, admin); err != nil {
		log.Warn().Err(err).Msg("Failed to backfill created_by on seeded admin")
	}

	s.recordAudit(ctx, models.AuthAuditEvent{
		EventType: models.AuthEventUserCreated,
		UserID:    &admin.ID,
		Details:   "seeded initial admin account",
	})
	log.Info().Msg("Seeded initial admin account")
	return nil
}
