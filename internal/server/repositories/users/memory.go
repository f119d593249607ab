package users

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

// MemoryRepository is a mutex-guarded map. Stored users are cloned on the
// way in and out so callers never share memory with the store.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*models.User)}
}

func (r *MemoryRepository) Get(_ context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[models.NormalizeUsername(username)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, common.ErrorNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *models.User
	for _, u := range r.users {
		if models.NormalizeEmail(u.Email) != email {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			found = u
		}
	}
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.Username]; ok {
		return common.ErrorAlreadyExists
	}
	user.Version = 1
	r.users[user.Username] = user.Clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, username string, mutate MutateFunc) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[models.NormalizeUsername(username)]
	if !ok {
		return nil, common.ErrorNotFound
	}

	u := stored.Clone()
	if err := applyMutation(u, mutate); err != nil {
		return nil, err
	}
	u.Version++
	r.users[u.Username] = u
	return u.Clone(), nil
}

func (r *MemoryRepository) Delete(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.NormalizeUsername(username)
	if _, ok := r.users[key]; !ok {
		return common.ErrorNotFound
	}
	delete(r.users, key)
	return nil
}

func (r *MemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}
