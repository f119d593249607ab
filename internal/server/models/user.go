package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// User is a stored account. Username is the lowercase identity key.
// TwoFactorSecret holds the sealed TOTP secret, present while 2FA is
// being set up or is active.
type User struct {
	Username         string     `json:"username"`
	PasswordHash     string     `json:"passwordHash"`
	Email            string     `json:"email,omitempty"`
	Role             Role       `json:"role"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	TwoFactorSecret  *string    `json:"twoFactorSecret"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin"`
	Version          int64      `json:"version"`
}

var ErrTwoFactorWithoutSecret = errors.New("two-factor enabled without a secret")

// Validate checks the record invariants every store enforces before a write.
func (u *User) Validate() error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	if u.Username != NormalizeUsername(u.Username) {
		return fmt.Errorf("username %q is not normalized", u.Username)
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if u.TwoFactorEnabled && u.TwoFactorSecret == nil {
		return ErrTwoFactorWithoutSecret
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (u *User) Clone() *User {
	c := *u
	if u.TwoFactorSecret != nil {
		s := *u.TwoFactorSecret
		c.TwoFactorSecret = &s
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// Profile is the client-safe view of a User.
func (u *User) Profile() *Profile {
	return &Profile{
		Username:         u.Username,
		Email:            u.Email,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
		LastLogin:        u.LastLogin,
	}
}

type Profile struct {
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin"`
}

// UserPatch is a partial update. Nil fields are left unchanged.
type UserPatch struct {
	PasswordHash         *string
	Email                *string
	Role                 *Role
	TwoFactorEnabled     *bool
	TwoFactorSecret      *string
	ClearTwoFactorSecret bool
	LastLogin            *time.Time
}

// Apply merges the patch into u and re-validates the result.
func (p UserPatch) Apply(u *User) error {
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.TwoFactorEnabled != nil {
		u.TwoFactorEnabled = *p.TwoFactorEnabled
	}
	if p.ClearTwoFactorSecret {
		u.TwoFactorSecret = nil
	} else if p.TwoFactorSecret != nil {
		s := *p.TwoFactorSecret
		u.TwoFactorSecret = &s
	}
	if p.LastLogin != nil {
		t := *p.LastLogin
		u.LastLogin = &t
	}
	return u.Validate()
}

// NormalizeUsername gives the case-insensitive identity key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail gives the case-insensitive email lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
