package users

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

// AdminSeed describes the administrator created in an empty store.
type AdminSeed struct {
	Username string
	Password string
	Email    string
}

// PasswordHasher hashes the seed password before it is stored.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// EnsureDefaultAdmin creates exactly one admin account when the store is
// empty. It reports whether an account was created. Losing a creation race
// to another instance is not an error.
func EnsureDefaultAdmin(ctx context.Context, repo Repository, hasher PasswordHasher, seed AdminSeed, now time.Time) (bool, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	hash, err := hasher.Hash(seed.Password)
	if err != nil {
		return false, err
	}

	admin := &models.User{
		Username:     models.NormalizeUsername(seed.Username),
		PasswordHash: hash,
		Email:        seed.Email,
		Role:         models.RoleAdmin,
		CreatedAt:    now.UTC(),
	}
	if err := repo.Create(ctx, admin); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
