// Package users is the credential store: user accounts keyed by
// lowercase username, with one implementation per storage backend.
package users

import (
	"context"

	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

// MutateFunc edits a user inside Repository.Update. Returning an error
// aborts the update and leaves the stored record unchanged.
type MutateFunc func(u *models.User) error

// Repository stores user accounts. Lookups are case-insensitive and return
// common.ErrorNotFound when nothing matches.
//
// Update is an atomic read-modify-write of a single record: concurrent
// updates of the same or different users never lose each other's changes.
type Repository interface {
	Get(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, username string, mutate MutateFunc) (*models.User, error)
	Delete(ctx context.Context, username string) error
	Count(ctx context.Context) (int, error)
}

// applyMutation runs mutate on u, keeps the identity key fixed and
// validates the result.
func applyMutation(u *models.User, mutate MutateFunc) error {
	username := u.Username
	if err := mutate(u); err != nil {
		return err
	}
	u.Username = username
	return u.Validate()
}
