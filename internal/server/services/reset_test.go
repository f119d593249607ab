package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestToken(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	_, err := env.reset.RequestPasswordReset(context.Background(), email)
	require.NoError(t, err)

	n := env.notifier.last()
	require.Equal(t, notify.KindPasswordReset, n.kind)
	return tokenFromLink(t, n.data.ResetLink)
}

func TestRequestPasswordReset_EnumerationResistant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unknown, err := env.reset.RequestPasswordReset(ctx, "unknown@example.com")
	require.NoError(t, err)
	known, err := env.reset.RequestPasswordReset(ctx, adminEmail)
	require.NoError(t, err)

	assert.Equal(t, unknown, known)
	assert.Equal(t, &Ack{Success: true, Message: MsgResetRequested}, known)
	assert.Len(t, env.notifier.kinds(), 1, "only the real account is mailed")
}

func TestRequestPasswordReset_StoresRecord(t *testing.T) {
	env := newTestEnv(t)
	token := requestToken(t, env, "ADMIN@eruptible.co.uk")

	assert.Len(t, token, 64)
	n := env.notifier.last()
	assert.Equal(t, adminEmail, n.to)
	assert.Equal(t, "admin", n.data.Username)
	assert.Equal(t, "http://localhost:3000/reset-password?token="+token, n.data.ResetLink)

	raw, err := env.store.Get(context.Background(), common.ResetTokenKeyPrefix+token)
	require.NoError(t, err)

	var rec resetRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "admin", rec.Username)
	assert.WithinDuration(t, time.Now().Add(DefaultResetTTL), rec.ExpiresAt, time.Minute)
}

func TestResetPassword_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := requestToken(t, env, adminEmail)

	ack, err := env.reset.ResetPassword(ctx, token, "Reset123!")
	require.NoError(t, err)
	assert.Equal(t, &Ack{Success: true, Message: MsgPasswordReset}, ack)

	_, err = env.svc.Login(ctx, "admin", "Reset123!")
	require.NoError(t, err)
	assert.Equal(t, notify.KindPasswordChanged, env.notifier.last().kind)

	_, err = env.reset.ResetPassword(ctx, token, "Another123!")
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredResetToken)
}

func TestResetPassword_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	for _, tok := range []string{"", "deadbeef"} {
		_, err := env.reset.ResetPassword(context.Background(), tok, "Reset123!")
		assert.ErrorIs(t, err, common.ErrInvalidOrExpiredResetToken)
	}
}

func TestResetPassword_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := requestToken(t, env, adminEmail)

	env.reset.Now = func() time.Time { return time.Now().Add(DefaultResetTTL + time.Second) }

	_, err := env.reset.ResetPassword(ctx, token, "Reset123!")
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredResetToken)

	_, err = env.store.Get(ctx, common.ResetTokenKeyPrefix+token)
	assert.ErrorIs(t, err, common.ErrorNotFound, "expired token is purged")

	_, err = env.svc.Login(ctx, "admin", adminPassword)
	assert.NoError(t, err)
}

func TestResetPassword_PolicyViolationKeepsToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := requestToken(t, env, adminEmail)

	_, err := env.reset.ResetPassword(ctx, token, "weak")
	var verr *password.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.reset.ResetPassword(ctx, token, "Reset123!")
	assert.NoError(t, err)
}

func TestResetPassword_OrphanedToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addClient(t, "carol", "Carol123!", "carol@example.com")
	token := requestToken(t, env, "carol@example.com")

	require.NoError(t, env.users.Delete(ctx, "carol"))

	_, err := env.reset.ResetPassword(ctx, token, "Reset123!")
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredResetToken)
}

func TestResetPassword_ConcurrentRedemption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := requestToken(t, env, adminEmail)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reset.ResetPassword(ctx, token, "Reset123!")
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, common.ErrInvalidOrExpiredResetToken)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

// flakyUsers fails Update with err until err is cleared.
type flakyUsers struct {
	users.Repository
	mu  sync.Mutex
	err error
}

func (r *flakyUsers) Update(ctx context.Context, username string, mutate users.MutateFunc) (*models.User, error) {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Repository.Update(ctx, username, mutate)
}

func (r *flakyUsers) heal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = nil
}

func TestResetPassword_StorageFailureKeepsToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := requestToken(t, env, adminEmail)

	flaky := &flakyUsers{Repository: env.users, err: errors.New("disk full")}
	env.reset.Users = flaky

	_, err := env.reset.ResetPassword(ctx, token, "Reset123!")
	require.ErrorIs(t, err, common.ErrorInternal)

	raw, err := env.store.Get(ctx, common.ResetTokenKeyPrefix+token)
	require.NoError(t, err, "token must survive a failed update")
	var rec resetRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "admin", rec.Username)

	flaky.heal()
	ack, err := env.reset.ResetPassword(ctx, token, "Reset123!")
	require.NoError(t, err)
	assert.True(t, ack.Success)

	u, err := env.users.Get(ctx, "admin")
	require.NoError(t, err)
	ok, err := env.hasher.Verify("Reset123!", u.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.reset.ResetPassword(ctx, token, "Reset456!")
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredResetToken)
}

func TestResetLink_TrimsTrailingSlash(t *testing.T) {
	env := newTestEnv(t)
	env.reset.FrontendURL = "https://pm.example.com/"
	assert.Equal(t, "https://pm.example.com/reset-password?token=abc", env.reset.resetLink("abc"))
}
