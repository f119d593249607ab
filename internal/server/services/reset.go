package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
)

const resetTokenBytes = 32

// resetRecord is what the transient store keeps under reset:<token>.
type resetRecord struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ResetService issues and redeems single-use password reset tokens.
type ResetService struct {
	Deps
}

func NewResetService(d Deps) (*ResetService, error) {
	d = d.withDefaults()
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &ResetService{Deps: d}, nil
}

// RequestPasswordReset mails a reset link when email belongs to an account.
// The acknowledgement is the same whether or not it does.
func (s *ResetService) RequestPasswordReset(ctx context.Context, email string) (*Ack, error) {
	ack := &Ack{Success: true, Message: MsgResetRequested}

	u, err := s.Users.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.Events.AuthEvent("request-reset", outcomeFailure)
			return ack, nil
		}
		return nil, s.internal(ctx, "lookup email", err)
	}

	token, err := common.MakeRandHexString(resetTokenBytes)
	if err != nil {
		return nil, s.internal(ctx, "generate reset token", err)
	}

	rec, err := json.Marshal(resetRecord{Username: u.Username, ExpiresAt: s.Now().UTC().Add(s.ResetTTL)})
	if err != nil {
		return nil, s.internal(ctx, "encode reset record", err)
	}
	if err := s.Transient.Put(ctx, resetKey(token), rec, s.ResetTTL); err != nil {
		return nil, s.internal(ctx, "store reset token", err)
	}

	s.Events.AuthEvent("request-reset", outcomeSuccess)
	s.sendNotification(ctx, u, notify.KindPasswordReset, notify.Data{ResetLink: s.resetLink(token)})
	return ack, nil
}

// ResetPassword redeems token and sets the new password. A token is
// redeemed at most once; expired tokens are deleted on lookup.
func (s *ResetService) ResetPassword(ctx context.Context, token, newPassword string) (*Ack, error) {
	ack, err := s.resetPassword(ctx, token, newPassword)
	if err != nil {
		s.Events.AuthEvent("reset-password", outcomeFailure)
		return nil, err
	}
	s.Events.AuthEvent("reset-password", outcomeSuccess)
	return ack, nil
}

func (s *ResetService) resetPassword(ctx context.Context, token, newPassword string) (*Ack, error) {
	if token == "" {
		return nil, common.ErrInvalidOrExpiredResetToken
	}
	key := resetKey(token)

	raw, err := s.Transient.Get(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredResetToken
		}
		return nil, s.internal(ctx, "load reset token", err)
	}

	var rec resetRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = s.Transient.Delete(ctx, key)
		return nil, common.ErrInvalidOrExpiredResetToken
	}
	if !s.Now().Before(rec.ExpiresAt) {
		if err := s.Transient.Delete(ctx, key); err != nil {
			s.Logger.Warn(ctx, "expired reset token not deleted", "error", err)
		}
		return nil, common.ErrInvalidOrExpiredResetToken
	}

	if err := s.Policy.Validate(newPassword).Err(); err != nil {
		return nil, err
	}
	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	// Take decides which of two concurrent redemptions wins.
	if _, err := s.Transient.Take(ctx, key); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredResetToken
		}
		return nil, s.internal(ctx, "consume reset token", err)
	}

	u, err := s.Users.Update(ctx, rec.Username, models.UserPatch{PasswordHash: &hash}.Apply)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredResetToken
		}
		s.restoreToken(ctx, key, raw, rec.ExpiresAt)
		return nil, s.internal(ctx, "store password", err)
	}

	s.sendNotification(ctx, u, notify.KindPasswordChanged, notify.Data{})
	return &Ack{Success: true, Message: MsgPasswordReset}, nil
}

// restoreToken puts a consumed token back for the rest of its lifetime
// after a storage failure, so the user can retry the same link.
func (s *ResetService) restoreToken(ctx context.Context, key string, raw []byte, expiresAt time.Time) {
	ttl := expiresAt.Sub(s.Now())
	if ttl <= 0 {
		return
	}
	if err := s.Transient.Put(ctx, key, raw, ttl); err != nil {
		s.Logger.Warn(ctx, "reset token not restored", "error", err)
	}
}

func (s *ResetService) resetLink(token string) string {
	return strings.TrimRight(s.FrontendURL, "/") + "/reset-password?token=" + token
}

func resetKey(token string) string {
	return common.ResetTokenKeyPrefix + token
}
