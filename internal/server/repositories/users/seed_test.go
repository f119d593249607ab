package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

type prefixHasher struct{ err error }

func (h prefixHasher) Hash(pw string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + pw, nil
}

func TestEnsureDefaultAdmin(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	seed := AdminSeed{Username: "Admin", Password: "Password1!", Email: "admin@eruptible.co.uk"}

	t.Run("seeds empty store once", func(t *testing.T) {
		repo := NewMemoryRepository()

		created, err := EnsureDefaultAdmin(ctx, repo, prefixHasher{}, seed, now)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = EnsureDefaultAdmin(ctx, repo, prefixHasher{}, seed, now)
		require.NoError(t, err)
		assert.False(t, created)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		u, err := repo.Get(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "hashed:Password1!", u.PasswordHash)
		assert.Equal(t, models.RoleAdmin, u.Role)
		assert.Equal(t, now, u.CreatedAt)
		assert.False(t, u.TwoFactorEnabled)
	})

	t.Run("non-empty store is left alone", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newUser("alice", "", models.RoleClient)))

		created, err := EnsureDefaultAdmin(ctx, repo, prefixHasher{}, seed, now)
		require.NoError(t, err)
		assert.False(t, created)
		_, err = repo.Get(ctx, "admin")
		assert.Error(t, err)
	})

	t.Run("hash failure", func(t *testing.T) {
		repo := NewMemoryRepository()
		_, err := EnsureDefaultAdmin(ctx, repo, prefixHasher{err: errors.New("no entropy")}, seed, now)
		assert.EqualError(t, err, "no entropy")
	})
}
