// Package services contains the server-side business logic: the login state
// machine, second factor management, password changes and resets, and
// profile access. Transports call into UserService and ResetService.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/authz"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
	"github.com/dmitrijs2005/pmdash/internal/server/otp"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/transient"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/users"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultResetTTL     = time.Hour
)

type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(pw, hash string) (bool, error)
	NeedsRehash(hash string) bool
}

// SecretSealer encrypts second factor secrets at rest.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type TokenIssuer interface {
	Issue(c auth.Claims) (string, error)
}

type CodeGenerator interface {
	GenerateSecret(accountName string) (*otp.Enrollment, error)
	Verify(code, secret string) bool
}

type Authorizer interface {
	Authorize(claims *auth.Claims, op authz.Operation) error
}

// EventRecorder counts authentication outcomes.
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) AuthEvent(string, string) {}

const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeChallenge = "challenge"
)

// Deps wires the collaborators shared by UserService and ResetService.
type Deps struct {
	Users      users.Repository
	Transient  transient.Store
	Hasher     PasswordHasher
	Sealer     SecretSealer
	Tokens     TokenIssuer
	Codes      CodeGenerator
	Authorizer Authorizer
	Notifier   notify.Sender
	Events     EventRecorder
	Logger     logging.Logger
	Policy     password.Policy

	ChallengeTTL time.Duration
	ResetTTL     time.Duration
	FrontendURL  string
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Authorizer == nil {
		d.Authorizer = authz.DefaultPolicy()
	}
	if d.Policy == (password.Policy{}) {
		d.Policy = password.DefaultPolicy()
	}
	if d.ChallengeTTL <= 0 {
		d.ChallengeTTL = DefaultChallengeTTL
	}
	if d.ResetTTL <= 0 {
		d.ResetTTL = DefaultResetTTL
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) validate() error {
	var errs []error
	if d.Users == nil {
		errs = append(errs, errors.New("user repository is required"))
	}
	if d.Transient == nil {
		errs = append(errs, errors.New("transient store is required"))
	}
	if d.Hasher == nil {
		errs = append(errs, errors.New("password hasher is required"))
	}
	if d.Sealer == nil {
		errs = append(errs, errors.New("secret sealer is required"))
	}
	if d.Tokens == nil {
		errs = append(errs, errors.New("token issuer is required"))
	}
	if d.Codes == nil {
		errs = append(errs, errors.New("code generator is required"))
	}
	if d.Notifier == nil {
		errs = append(errs, errors.New("notifier is required"))
	}
	return errors.Join(errs...)
}

// sendNotification delivers best-effort: failures are logged and never returned.
func (d Deps) sendNotification(ctx context.Context, u *models.User, kind notify.Kind, data notify.Data) {
	if u.Email == "" {
		return
	}
	data.Username = u.Username
	if err := d.Notifier.Send(ctx, u.Email, kind, data); err != nil {
		d.Logger.Warn(ctx, "notification not sent", "kind", string(kind), "username", u.Username, "error", err)
	}
}

// Ack is the acknowledgement returned by state-changing operations.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const (
	MsgPasswordChanged   = "Password changed successfully"
	MsgTwoFactorEnabled  = "2FA enabled successfully"
	MsgTwoFactorDisabled = "2FA disabled successfully"
	MsgProfileUpdated    = "Profile updated successfully"
	MsgResetRequested    = "If the email exists, a reset link has been sent"
	MsgPasswordReset     = "Password reset successfully"
)
