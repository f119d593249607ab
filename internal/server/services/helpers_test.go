package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/cryptox"
	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
	"github.com/dmitrijs2005/pmdash/internal/server/otp"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/transient"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminPassword = "Password1!"
	adminEmail    = "admin@eruptible.co.uk"
)

type sentNotification struct {
	to   string
	kind notify.Kind
	data notify.Data
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, to string, kind notify.Kind, data notify.Data) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{to: to, kind: kind, data: data})
	return n.err
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

func (n *recordingNotifier) last() sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

type countingRecorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *countingRecorder) AuthEvent(event, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string]int{}
	}
	r.events[event+"/"+outcome]++
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[key]
}

type testEnv struct {
	users    *users.MemoryRepository
	store    *transient.MemoryStore
	hasher   *password.Hasher
	codes    *otp.Generator
	issuer   *auth.Issuer
	notifier *recordingNotifier
	events   *countingRecorder
	svc      *UserService
	reset    *ResetService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hasher, err := password.NewHasher(password.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	sealer, err := cryptox.NewSealer("test-secrets-key", "pmdash")
	require.NoError(t, err)
	issuer, err := auth.NewIssuer([]byte("test-jwt-secret"), "pmdash", time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		users:    users.NewMemoryRepository(),
		store:    transient.NewMemoryStore(),
		hasher:   hasher,
		codes:    otp.NewGenerator(otp.DefaultConfig()),
		issuer:   issuer,
		notifier: &recordingNotifier{},
		events:   &countingRecorder{},
	}

	deps := Deps{
		Users:       env.users,
		Transient:   env.store,
		Hasher:      hasher,
		Sealer:      sealer,
		Tokens:      issuer,
		Codes:       env.codes,
		Notifier:    env.notifier,
		Events:      env.events,
		Logger:      logging.Nop{},
		FrontendURL: "http://localhost:3000",
	}

	env.svc, err = NewUserService(deps)
	require.NoError(t, err)
	env.reset, err = NewResetService(deps)
	require.NoError(t, err)

	created, err := users.EnsureDefaultAdmin(context.Background(), env.users, hasher,
		users.AdminSeed{Username: "admin", Password: adminPassword, Email: adminEmail}, time.Now())
	require.NoError(t, err)
	require.True(t, created)

	return env
}

func (e *testEnv) addClient(t *testing.T, username, pw, email string) {
	t.Helper()
	_, err := e.svc.CreateUser(context.Background(), NewUser{Username: username, Password: pw, Email: email, Role: models.RoleClient})
	require.NoError(t, err)
}

func (e *testEnv) claims(t *testing.T, username string) *auth.Claims {
	t.Helper()
	u, err := e.users.Get(context.Background(), username)
	require.NoError(t, err)
	c := auth.ClaimsFor(u)
	return &c
}

func (e *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := e.codes.CodeAt(secret, time.Now())
	require.NoError(t, err)
	return c
}

// enableTwoFactor runs setup and enable for username and returns the
// plaintext secret.
func (e *testEnv) enableTwoFactor(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	claims := e.claims(t, username)

	enrollment, err := e.svc.Setup2FA(ctx, claims)
	require.NoError(t, err)
	require.NoError(t, e.svc.Enable2FA(ctx, claims, e.code(t, enrollment.Secret)))
	return enrollment.Secret
}

// wrongCode returns a well-formed code that is not valid for secret now.
func (e *testEnv) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	now := time.Now()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		c, err := e.codes.CodeAt(secret, now.Add(d))
		require.NoError(t, err)
		valid[c] = true
	}
	for _, c := range []string{"000000", "111111", "123456", "999999"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no invalid code found")
	return ""
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	const marker = "/reset-password?token="
	i := strings.Index(link, marker)
	require.GreaterOrEqual(t, i, 0, "link %q", link)
	return link[i+len(marker):]
}

var errNotifierDown = errors.New("notifier down")
