package services

import (
	"context"
	"regexp"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,63}$`)

// NewUser describes an account provisioned by an operator.
type NewUser struct {
	Username string
	Email    string
	Role     models.Role
	Password string
}

// CreateUser provisions an account. The password must satisfy the policy.
func (s *UserService) CreateUser(ctx context.Context, nu NewUser) (*models.Profile, error) {
	username := models.NormalizeUsername(nu.Username)
	if !usernamePattern.MatchString(username) {
		return nil, common.ErrInvalidUsername
	}
	if !nu.Role.Valid() {
		return nil, common.ErrInvalidRole
	}
	email, err := normalizeEmail(nu.Email)
	if err != nil {
		return nil, err
	}
	if err := s.Policy.Validate(nu.Password).Err(); err != nil {
		return nil, err
	}

	hash, err := s.Hasher.Hash(nu.Password)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	u := &models.User{
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		Role:         nu.Role,
		CreatedAt:    s.Now().UTC(),
	}
	if err := s.Users.Create(ctx, u); err != nil {
		return nil, s.userError(ctx, "create user", err)
	}

	s.Logger.Info(ctx, "user created", "username", username, "role", string(nu.Role))
	return u.Profile(), nil
}

// AdminSetPassword overrides a user's password without the current one.
func (s *UserService) AdminSetPassword(ctx context.Context, username, newPassword string) error {
	if err := s.Policy.Validate(newPassword).Err(); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return s.internal(ctx, "hash password", err)
	}

	u, err := s.Users.Update(ctx, models.NormalizeUsername(username), models.UserPatch{PasswordHash: &hash}.Apply)
	if err != nil {
		return s.userError(ctx, "store password", err)
	}

	s.Logger.Info(ctx, "password overridden", "username", u.Username)
	s.sendNotification(ctx, u, notify.KindPasswordChanged, notify.Data{})
	return nil
}

// AdminResetTwoFactor clears the second factor of a user who lost their
// authenticator, whether it was enabled or only pending.
func (s *UserService) AdminResetTwoFactor(ctx context.Context, username string) error {
	var wasEnabled bool
	disabled := false

	u, err := s.Users.Update(ctx, models.NormalizeUsername(username), func(x *models.User) error {
		wasEnabled = x.TwoFactorEnabled
		return models.UserPatch{TwoFactorEnabled: &disabled, ClearTwoFactorSecret: true}.Apply(x)
	})
	if err != nil {
		return s.userError(ctx, "reset 2fa", err)
	}
	if err := s.Transient.Delete(ctx, challengeKey(u.Username)); err != nil {
		s.Logger.Warn(ctx, "pending challenge not cleared", "username", u.Username, "error", err)
	}

	s.Logger.Info(ctx, "2fa reset", "username", u.Username)
	if wasEnabled {
		s.sendNotification(ctx, u, notify.KindTwoFactorDisabled, notify.Data{})
	}
	return nil
}
