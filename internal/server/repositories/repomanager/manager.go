// Package repomanager opens the storage backends selected in the server
// config, runs their schema migrations and hands out the credential and
// transient stores built on top of them.
package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/config"
	"github.com/dmitrijs2005/pmdash/internal/server/migrations"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/transient"
	"github.com/dmitrijs2005/pmdash/internal/server/repositories/users"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Manager owns every connection it opens; Close releases them.
type Manager struct {
	cfg    *config.Config
	logger logging.Logger

	postgres *sql.DB
	sqlite   *sql.DB
	redis    *redis.Client
}

func NewManager(cfg *config.Config, logger logging.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger.With("module", "repomanager")}
}

// postgresDB opens (once) and migrates the shared PostgreSQL database.
func (m *Manager) postgresDB(ctx context.Context) (*sql.DB, error) {
	if m.postgres != nil {
		return m.postgres, nil
	}
	db, err := sqlOpen("pgx", m.cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := RunMigrations(ctx, db, DialectPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	m.postgres = db
	m.logger.Info(ctx, "postgres ready")
	return db, nil
}

func (m *Manager) sqliteDB(ctx context.Context) (*sql.DB, error) {
	if m.sqlite != nil {
		return m.sqlite, nil
	}
	db, err := sqlOpen("sqlite", m.cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := RunMigrations(ctx, db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	m.sqlite = db
	m.logger.Info(ctx, "sqlite ready", "path", m.cfg.SQLitePath)
	return db, nil
}

func (m *Manager) redisClient(ctx context.Context) (*redis.Client, error) {
	if m.redis != nil {
		return m.redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     m.cfg.RedisAddr,
		Password: m.cfg.RedisPassword,
		DB:       m.cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	m.redis = client
	m.logger.Info(ctx, "redis ready", "addr", m.cfg.RedisAddr)
	return client, nil
}

// Users returns the credential store selected by cfg.UserStore.
func (m *Manager) Users(ctx context.Context) (users.Repository, error) {
	switch m.cfg.UserStore {
	case config.StoreMemory:
		m.logger.Warn(ctx, "using in-memory credential store; accounts are lost on restart")
		return users.NewMemoryRepository(), nil
	case config.StorePostgres:
		db, err := m.postgresDB(ctx)
		if err != nil {
			return nil, err
		}
		return users.NewPostgresRepository(db), nil
	case config.StoreSQLite:
		db, err := m.sqliteDB(ctx)
		if err != nil {
			return nil, err
		}
		return users.NewSQLiteRepository(db), nil
	case config.StoreS3:
		client, err := newS3Client(ctx, m.cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return users.NewS3Repository(client, m.cfg.S3Bucket, m.cfg.S3Key), nil
	default:
		return nil, fmt.Errorf("unknown user store %q", m.cfg.UserStore)
	}
}

// Transient returns the expiring store selected by cfg.TransientStore.
func (m *Manager) Transient(ctx context.Context) (transient.Store, error) {
	switch m.cfg.TransientStore {
	case config.StoreMemory:
		return transient.NewMemoryStore(), nil
	case config.StoreRedis:
		client, err := m.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return transient.NewRedisStore(client, ""), nil
	case config.StorePostgres:
		db, err := m.postgresDB(ctx)
		if err != nil {
			return nil, err
		}
		return transient.NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("unknown transient store %q", m.cfg.TransientStore)
	}
}

// Ping checks every connection opened so far.
func (m *Manager) Ping(ctx context.Context) error {
	var errs []error
	if m.postgres != nil {
		errs = append(errs, m.postgres.PingContext(ctx))
	}
	if m.sqlite != nil {
		errs = append(errs, m.sqlite.PingContext(ctx))
	}
	if m.redis != nil {
		errs = append(errs, m.redis.Ping(ctx).Err())
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	var errs []error
	if m.postgres != nil {
		errs = append(errs, m.postgres.Close())
		m.postgres = nil
	}
	if m.sqlite != nil {
		errs = append(errs, m.sqlite.Close())
		m.sqlite = nil
	}
	if m.redis != nil {
		errs = append(errs, m.redis.Close())
		m.redis = nil
	}
	return errors.Join(errs...)
}

var dialectDirs = map[string]string{
	DialectPostgres: migrations.PostgresDir,
	DialectSQLite:   migrations.SQLiteDir,
}
