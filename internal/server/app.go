// Package server wires the pmdash auth server together: storage backends,
// services, notification senders and the HTTP and gRPC transports. It
// handles graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/cryptox"
	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/authz"
	"github.com/dmitrijs2005/pmdash/internal/server/config"
	"github.com/dmitrijs2005/pmdash/internal/server/httpserver"
	"github.com/dmitrijs2005/pmdash/internal/server/metrics"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
	"github.com/dmitrijs2005/pmdash/internal/server/otp"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/transient"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/users"
	"github.com/dmitrijs2005/pmdash/internal/server/services"

	gs "github.com/dmitrijs2005/pmdash/internal/server/grpc"
)

const sweepInterval = time.Minute

type App struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	repos   *repomanager.Manager
	store   transient.Store
	health  *httpserver.Health
	http    *httpserver.Server
	grpc    *gs.GRPCServer
	closers []io.Closer
}

// NewApp opens the configured stores, seeds the default admin and builds
// both transports. On error everything opened so far is closed.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)
	app := &App{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
		repos:   repomanager.NewManager(cfg, logger),
	}

	if err := app.init(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	cfg := app.config

	repo, err := app.repos.Users(ctx)
	if err != nil {
		return fmt.Errorf("credential store init error: %w", err)
	}
	app.store, err = app.repos.Transient(ctx)
	if err != nil {
		return fmt.Errorf("transient store init error: %w", err)
	}

	hasher, err := password.NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}

	created, err := users.EnsureDefaultAdmin(ctx, repo, hasher, users.AdminSeed{
		Username: cfg.DefaultAdminUsername,
		Password: cfg.DefaultAdminPassword,
		Email:    cfg.DefaultAdminEmail,
	}, time.Now())
	if err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}
	if created {
		app.logger.Warn(ctx, "default admin account created; change its password", "username", cfg.DefaultAdminUsername)
	}

	sealer, err := cryptox.NewSealer(cfg.SecretsKey, config.SecretsSalt)
	if err != nil {
		return fmt.Errorf("secret sealer: %w", err)
	}
	if cfg.SecretsKey == "" {
		app.logger.Warn(ctx, "secrets key not set; 2FA secrets are stored unencrypted")
	}

	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.SessionTTL)
	if err != nil {
		return err
	}

	otpCfg := otp.DefaultConfig()
	otpCfg.Issuer = cfg.OTPIssuer
	otpCfg.Skew = uint(cfg.OTPSkew)

	notifier, err := app.newNotifier()
	if err != nil {
		return fmt.Errorf("notifier init error: %w", err)
	}

	policy := authz.DefaultPolicy()
	deps := services.Deps{
		Users:        repo,
		Transient:    app.store,
		Hasher:       hasher,
		Sealer:       sealer,
		Tokens:       issuer,
		Codes:        otp.NewGenerator(otpCfg),
		Authorizer:   policy,
		Notifier:     notifier,
		Events:       app.metrics,
		Logger:       app.logger.With("module", "services"),
		ChallengeTTL: cfg.ChallengeTTL,
		ResetTTL:     cfg.ResetTokenTTL,
		FrontendURL:  cfg.FrontendURL,
	}
	us, err := services.NewUserService(deps)
	if err != nil {
		return err
	}
	rs, err := services.NewResetService(deps)
	if err != nil {
		return err
	}

	app.health = httpserver.NewHealth(map[string]httpserver.Check{"storage": app.repos.Ping})
	app.http = httpserver.NewServer(
		httpserver.Config{Address: cfg.HTTPAddr, FrontendURL: cfg.FrontendURL, ShutdownTimeout: cfg.ShutdownTimeout},
		httpserver.NewHandler(us, rs, policy, app.logger),
		issuer, app.health, app.metrics, app.logger,
	)
	app.grpc = gs.NewGRPCServer(cfg.GRPCAddr, app.logger, issuer, us)
	return nil
}

// newNotifier builds the configured sender behind a bounded async queue.
func (app *App) newNotifier() (notify.Sender, error) {
	cfg := app.config
	logger := app.logger.With("module", "notify")

	var next notify.Sender
	switch cfg.Notifier {
	case config.NotifierSMTP:
		s, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, err
		}
		next = s
	case config.NotifierKafka:
		producer, err := notify.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		ks := notify.NewKafkaSender(producer, cfg.KafkaTopic)
		app.closers = append(app.closers, ks)
		next = ks
	default:
		next = notify.NewLogSender(logger)
	}

	a := notify.NewAsync(next, cfg.NotifyQueueSize, cfg.NotifyWorkers, logger, app.metrics)
	// the queue drains before the kafka producer closes
	app.closers = append([]io.Closer{a}, app.closers...)
	return a, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until a signal arrives, ctx is done or a server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if sw, ok := app.store.(transient.Sweeper); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transient.RunSweeper(ctx, sweepInterval, sw, func(err error) {
				app.logger.Warn(ctx, "transient sweep failed", "error", err)
			})
		}()
	}

	app.health.SetReady(true)
	<-ctx.Done()
	app.health.SetReady(false)

	wg.Wait()
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")

	return app.Close()
}

// Close flushes notifications and releases storage connections.
func (app *App) Close() error {
	var errs []error
	for _, c := range app.closers {
		errs = append(errs, c.Close())
	}
	app.closers = nil
	errs = append(errs, app.repos.Close())
	return errors.Join(errs...)
}
