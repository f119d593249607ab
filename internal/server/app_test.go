package server

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.LogLevel = "error"
	return cfg
}

func TestNewApp_RunStopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, app.health.IsReady, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop within timeout after context cancel")
	}
	assert.False(t, app.health.IsReady())
}

func TestNewApp_UnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.UserStore = "bogus"

	_, err := NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown user store")
}

func TestNewApp_NegativeOTPSkew(t *testing.T) {
	cfg := testConfig()
	cfg.OTPSkew = -1

	_, err := NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "otp skew")
}

func TestNewApp_BadSMTPFrom(t *testing.T) {
	cfg := testConfig()
	cfg.Notifier = config.NotifierSMTP
	cfg.SMTPFrom = "not an address"

	_, err := NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "notifier init error")
}

func TestNewApp_EmptyJWTSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""

	_, err := NewApp(context.Background(), cfg)
	assert.Error(t, err)
}
