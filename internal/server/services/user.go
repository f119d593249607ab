package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/authz"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
	"github.com/dmitrijs2005/pmdash/internal/server/otp"
)

// LoginResult is returned by Login and VerifySecondFactor. SessionToken is
// empty while a second factor is still required.
type LoginResult struct {
	SessionToken         string
	User                 *models.Profile
	RequiresSecondFactor bool
}

// ProfileUpdate lists the fields a user may change on their own profile.
type ProfileUpdate struct {
	Email *string
}

// UserService runs the login state machine and the operations available
// on an established session.
type UserService struct {
	Deps

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(d Deps) (*UserService, error) {
	d = d.withDefaults()
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &UserService{Deps: d}, nil
}

// Login checks username and password. Unknown users and wrong passwords
// fail identically with common.ErrInvalidCredentials. With a second factor
// enabled no token is issued; a pending challenge is stored instead.
func (s *UserService) Login(ctx context.Context, username, pw string) (*LoginResult, error) {
	u, err := s.checkPassword(ctx, username, pw)
	if err != nil {
		s.Events.AuthEvent("login", outcomeFailure)
		return nil, err
	}

	now := s.Now().UTC()
	var rehash *string
	if s.Hasher.NeedsRehash(u.PasswordHash) {
		if h, err := s.Hasher.Hash(pw); err == nil {
			rehash = &h
		} else {
			s.Logger.Warn(ctx, "password rehash failed", "username", u.Username, "error", err)
		}
	}

	u, err = s.Users.Update(ctx, u.Username, func(x *models.User) error {
		return models.UserPatch{LastLogin: &now, PasswordHash: rehash}.Apply(x)
	})
	if err != nil {
		return nil, s.internal(ctx, "record last login", err)
	}

	if u.TwoFactorEnabled {
		if err := s.Transient.Put(ctx, challengeKey(u.Username), []byte(now.Format(time.RFC3339Nano)), s.ChallengeTTL); err != nil {
			return nil, s.internal(ctx, "store 2fa challenge", err)
		}
		s.Events.AuthEvent("login", outcomeChallenge)
		return &LoginResult{User: u.Profile(), RequiresSecondFactor: true}, nil
	}

	token, err := s.Tokens.Issue(auth.ClaimsFor(u))
	if err != nil {
		return nil, s.internal(ctx, "issue session token", err)
	}
	s.Events.AuthEvent("login", outcomeSuccess)
	return &LoginResult{SessionToken: token, User: u.Profile()}, nil
}

// VerifySecondFactor completes a login that is awaiting a one-time code.
// A wrong code keeps the challenge so the user can try again.
func (s *UserService) VerifySecondFactor(ctx context.Context, username, code string) (*LoginResult, error) {
	res, err := s.verifySecondFactor(ctx, username, code)
	if err != nil {
		s.Events.AuthEvent("verify-2fa", outcomeFailure)
		return nil, err
	}
	s.Events.AuthEvent("verify-2fa", outcomeSuccess)
	return res, nil
}

func (s *UserService) verifySecondFactor(ctx context.Context, username, code string) (*LoginResult, error) {
	username = models.NormalizeUsername(username)
	key := challengeKey(username)

	if _, err := s.Transient.Get(ctx, key); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrNoPendingChallenge
		}
		return nil, s.internal(ctx, "load 2fa challenge", err)
	}

	u, err := s.Users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "load user", err)
	}
	if !u.TwoFactorEnabled || u.TwoFactorSecret == nil {
		return nil, common.ErrTwoFactorNotEnabled
	}

	ok, err := s.checkCode(ctx, code, *u.TwoFactorSecret)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidTwoFactorCode
	}

	// Only one verification may consume the challenge.
	if _, err := s.Transient.Take(ctx, key); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrNoPendingChallenge
		}
		return nil, s.internal(ctx, "consume 2fa challenge", err)
	}

	token, err := s.Tokens.Issue(auth.ClaimsFor(u))
	if err != nil {
		return nil, s.internal(ctx, "issue session token", err)
	}
	return &LoginResult{SessionToken: token, User: u.Profile()}, nil
}

// Setup2FA generates a new secret for the caller and stores it sealed,
// without enabling it. Calling it again replaces a pending secret.
func (s *UserService) Setup2FA(ctx context.Context, claims *auth.Claims) (*otp.Enrollment, error) {
	if err := s.Authorizer.Authorize(claims, authz.OpSetup2FA); err != nil {
		return nil, err
	}

	enrollment, err := s.Codes.GenerateSecret(claims.Username)
	if err != nil {
		return nil, s.internal(ctx, "generate 2fa secret", err)
	}
	sealed, err := s.Sealer.Seal(enrollment.Secret)
	if err != nil {
		return nil, s.internal(ctx, "seal 2fa secret", err)
	}

	_, err = s.Users.Update(ctx, claims.Username, func(u *models.User) error {
		if u.TwoFactorEnabled {
			return common.ErrTwoFactorAlreadyEnabled
		}
		return models.UserPatch{TwoFactorSecret: &sealed}.Apply(u)
	})
	if err != nil {
		s.Events.AuthEvent("setup-2fa", outcomeFailure)
		return nil, s.userError(ctx, "store 2fa secret", err)
	}

	s.Events.AuthEvent("setup-2fa", outcomeSuccess)
	return enrollment, nil
}

// Enable2FA turns on the second factor once the caller proves possession
// of the pending secret.
func (s *UserService) Enable2FA(ctx context.Context, claims *auth.Claims, code string) error {
	if err := s.Authorizer.Authorize(claims, authz.OpEnable2FA); err != nil {
		return err
	}

	u, err := s.Users.Get(ctx, claims.Username)
	if err != nil {
		return s.userError(ctx, "load user", err)
	}
	if u.TwoFactorEnabled {
		return common.ErrTwoFactorAlreadyEnabled
	}
	if u.TwoFactorSecret == nil {
		return common.ErrTwoFactorNotConfigured
	}
	pending := *u.TwoFactorSecret

	ok, err := s.checkCode(ctx, code, pending)
	if err != nil {
		return err
	}
	if !ok {
		s.Events.AuthEvent("enable-2fa", outcomeFailure)
		return common.ErrInvalidTwoFactorCode
	}

	enabled := true
	u, err = s.Users.Update(ctx, claims.Username, func(x *models.User) error {
		// the code was checked against this exact secret
		if x.TwoFactorSecret == nil || *x.TwoFactorSecret != pending {
			return common.ErrTwoFactorNotConfigured
		}
		return models.UserPatch{TwoFactorEnabled: &enabled}.Apply(x)
	})
	if err != nil {
		return s.userError(ctx, "enable 2fa", err)
	}

	s.Events.AuthEvent("enable-2fa", outcomeSuccess)
	s.sendNotification(ctx, u, notify.KindTwoFactorEnabled, notify.Data{})
	return nil
}

// Disable2FA turns the second factor off. A valid current code is required.
func (s *UserService) Disable2FA(ctx context.Context, claims *auth.Claims, code string) error {
	if err := s.Authorizer.Authorize(claims, authz.OpDisable2FA); err != nil {
		return err
	}

	u, err := s.Users.Get(ctx, claims.Username)
	if err != nil {
		return s.userError(ctx, "load user", err)
	}
	if !u.TwoFactorEnabled || u.TwoFactorSecret == nil {
		return common.ErrTwoFactorNotEnabled
	}

	ok, err := s.checkCode(ctx, code, *u.TwoFactorSecret)
	if err != nil {
		return err
	}
	if !ok {
		s.Events.AuthEvent("disable-2fa", outcomeFailure)
		return common.ErrInvalidTwoFactorCode
	}

	disabled := false
	u, err = s.Users.Update(ctx, claims.Username, func(x *models.User) error {
		if !x.TwoFactorEnabled {
			return common.ErrTwoFactorNotEnabled
		}
		return models.UserPatch{TwoFactorEnabled: &disabled, ClearTwoFactorSecret: true}.Apply(x)
	})
	if err != nil {
		return s.userError(ctx, "disable 2fa", err)
	}

	s.Events.AuthEvent("disable-2fa", outcomeSuccess)
	s.sendNotification(ctx, u, notify.KindTwoFactorDisabled, notify.Data{})
	return nil
}

// ChangePassword replaces the caller's password after checking the current
// one. Nothing is written when the current password is wrong or the new one
// fails the policy.
func (s *UserService) ChangePassword(ctx context.Context, claims *auth.Claims, current, newPassword string) error {
	if err := s.Authorizer.Authorize(claims, authz.OpChangePassword); err != nil {
		return err
	}

	u, err := s.Users.Get(ctx, claims.Username)
	if err != nil {
		return s.userError(ctx, "load user", err)
	}

	ok, err := s.Hasher.Verify(current, u.PasswordHash)
	if err != nil {
		return s.internal(ctx, "verify current password", err)
	}
	if !ok {
		s.Events.AuthEvent("change-password", outcomeFailure)
		return common.ErrIncorrectCurrentPassword
	}

	if err := s.Policy.Validate(newPassword).Err(); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return s.internal(ctx, "hash password", err)
	}

	verified := u.PasswordHash
	u, err = s.Users.Update(ctx, claims.Username, func(x *models.User) error {
		if x.PasswordHash != verified {
			return common.ErrIncorrectCurrentPassword
		}
		return models.UserPatch{PasswordHash: &hash}.Apply(x)
	})
	if err != nil {
		return s.userError(ctx, "store password", err)
	}

	s.Events.AuthEvent("change-password", outcomeSuccess)
	s.sendNotification(ctx, u, notify.KindPasswordChanged, notify.Data{})
	return nil
}

// UpdateProfile applies the allow-listed profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, claims *auth.Claims, upd ProfileUpdate) error {
	if err := s.Authorizer.Authorize(claims, authz.OpUpdateProfile); err != nil {
		return err
	}

	var patch models.UserPatch
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return err
		}
		patch.Email = &email
	}

	_, err := s.Users.Update(ctx, claims.Username, patch.Apply)
	if err != nil {
		return s.userError(ctx, "update profile", err)
	}
	return nil
}

// GetProfile returns the caller's account without hash or secret.
func (s *UserService) GetProfile(ctx context.Context, claims *auth.Claims) (*models.Profile, error) {
	if err := s.Authorizer.Authorize(claims, authz.OpGetProfile); err != nil {
		return nil, err
	}

	u, err := s.Users.Get(ctx, claims.Username)
	if err != nil {
		return nil, s.userError(ctx, "load user", err)
	}
	return u.Profile(), nil
}

func (s *UserService) checkPassword(ctx context.Context, username, pw string) (*models.User, error) {
	u, err := s.Users.Get(ctx, models.NormalizeUsername(username))
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, s.internal(ctx, "load user", err)
		}
		// keep unknown users as slow as wrong passwords
		_, _ = s.Hasher.Verify(pw, s.dummy())
		return nil, common.ErrInvalidCredentials
	}

	ok, err := s.Hasher.Verify(pw, u.PasswordHash)
	if err != nil {
		s.Logger.Error(ctx, "stored password hash unreadable", "username", u.Username, "error", err)
		return nil, common.ErrInvalidCredentials
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash(hex.EncodeToString(common.GenerateRandByteArray(16)))
	})
	return s.dummyHash
}

// checkCode opens the sealed secret and verifies code against it.
func (s *UserService) checkCode(ctx context.Context, code, sealed string) (bool, error) {
	secret, err := s.Sealer.Open(sealed)
	if err != nil {
		return false, s.internal(ctx, "open 2fa secret", err)
	}
	return s.Codes.Verify(code, secret), nil
}

func (d Deps) internal(ctx context.Context, op string, err error) error {
	d.Logger.Error(ctx, op+" failed", "error", err)
	return fmt.Errorf("%s: %w", op, common.ErrorInternal)
}

// userError passes domain errors through and hides storage failures.
func (d Deps) userError(ctx context.Context, op string, err error) error {
	for _, known := range []error{
		common.ErrorNotFound,
		common.ErrTwoFactorAlreadyEnabled,
		common.ErrTwoFactorNotConfigured,
		common.ErrTwoFactorNotEnabled,
		common.ErrIncorrectCurrentPassword,
		common.ErrorAlreadyExists,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return d.internal(ctx, op, err)
}

func challengeKey(username string) string {
	return common.ChallengeKeyPrefix + username
}

func normalizeEmail(email string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", common.ErrInvalidEmail
	}
	return email, nil
}
