package transient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/dbx"
)

// PostgresStore keeps entries in the transient_entries table of the
// credential database. Take deletes and returns the row in one statement.
type PostgresStore struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query :=
		`INSERT INTO transient_entries (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	if _, err := s.db.ExecContext(ctx, query, key, value, s.now().Add(ttl)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the live value under key. An expired row is deleted before
// ErrorNotFound is returned, so readers purge what the sweeper has not yet
// reached.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query :=
		`SELECT value, expires_at FROM transient_entries
		 WHERE key = $1`

	var (
		v         []byte
		expiresAt time.Time
	)
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&v, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	now := s.now()
	if now.Before(expiresAt) {
		return v, nil
	}

	// The expiry guard keeps a concurrent Put of a fresh value intact.
	purge := `DELETE FROM transient_entries WHERE key = $1 AND expires_at <= $2`
	if _, err := s.db.ExecContext(ctx, purge, key, now); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return nil, common.ErrorNotFound
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transient_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Take removes the row whatever its expiry, so an expired entry is purged
// by the same call that rejects it.
func (s *PostgresStore) Take(ctx context.Context, key string) ([]byte, error) {
	query :=
		`DELETE FROM transient_entries
		 WHERE key = $1
		 RETURNING value, expires_at`

	var (
		v         []byte
		expiresAt time.Time
	)
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&v, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !s.now().Before(expiresAt) {
		return nil, common.ErrorNotFound
	}
	return v, nil
}

// Sweep deletes expired rows.
func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transient_entries WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}
