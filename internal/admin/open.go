package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pmdash/internal/cryptox"
	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/config"
	"github.com/dmitrijs2005/pmdash/internal/server/notify"
	"github.com/dmitrijs2005/pmdash/internal/server/otp"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pmdash/internal/server/services"
)

// Open connects to the stores named in cfg and returns the account
// service together with a func releasing the connections.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger) (*services.UserService, func() error, error) {
	repos := repomanager.NewManager(cfg, logger)

	svc, err := open(ctx, cfg, repos, logger)
	if err != nil {
		return nil, nil, errors.Join(err, repos.Close())
	}
	return svc, repos.Close, nil
}

func open(ctx context.Context, cfg *config.Config, repos *repomanager.Manager, logger logging.Logger) (*services.UserService, error) {
	repo, err := repos.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	store, err := repos.Transient(ctx)
	if err != nil {
		return nil, fmt.Errorf("transient store: %w", err)
	}

	hasher, err := password.NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	sealer, err := cryptox.NewSealer(cfg.SecretsKey, config.SecretsSalt)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	return services.NewUserService(services.Deps{
		Users:     repo,
		Transient: store,
		Hasher:    hasher,
		Sealer:    sealer,
		Tokens:    issuer,
		Codes:     otp.NewGenerator(otp.DefaultConfig()),
		Notifier:  notify.NewLogSender(logger),
		Logger:    logger,
	})
}
