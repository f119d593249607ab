package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/dbx"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

const pgSelectUser = `SELECT username, password_hash, email, role, two_factor_enabled,
		two_factor_secret, created_at, last_login, version
	 FROM users`

// PostgresRepository keeps one row per user. Update locks the row with
// SELECT ... FOR UPDATE and bumps version in the same transaction.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanPostgresUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		role      string
		secret    sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Email, &role, &u.TwoFactorEnabled,
		&secret, &u.CreatedAt, &lastLogin, &u.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Role = models.Role(role)
	if secret.Valid {
		u.TwoFactorSecret = &secret.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}

func (r *PostgresRepository) Get(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, pgSelectUser+` WHERE username = $1`, models.NormalizeUsername(username))
	return scanPostgresUser(row)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, common.ErrorNotFound
	}
	row := r.db.QueryRowContext(ctx, pgSelectUser+` WHERE lower(email) = $1 ORDER BY created_at LIMIT 1`, email)
	return scanPostgresUser(row)
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	query :=
		`INSERT INTO users (username, password_hash, email, role, two_factor_enabled,
			two_factor_secret, created_at, last_login, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)`

	_, err := r.db.ExecContext(ctx, query,
		user.Username, user.PasswordHash, user.Email, string(user.Role), user.TwoFactorEnabled,
		nullString(user.TwoFactorSecret), user.CreatedAt, user.LastLogin)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	user.Version = 1
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, username string, mutate MutateFunc) (*models.User, error) {
	var updated *models.User

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := scanPostgresUser(tx.QueryRowContext(ctx,
			pgSelectUser+` WHERE username = $1 FOR UPDATE`, models.NormalizeUsername(username)))
		if err != nil {
			return err
		}

		if err := applyMutation(u, mutate); err != nil {
			return err
		}

		query :=
			`UPDATE users
			 SET password_hash = $2, email = $3, role = $4, two_factor_enabled = $5,
			     two_factor_secret = $6, last_login = $7, version = version + 1
			 WHERE username = $1 AND version = $8
			 RETURNING version`

		err = tx.QueryRowContext(ctx, query,
			u.Username, u.PasswordHash, u.Email, string(u.Role), u.TwoFactorEnabled,
			nullString(u.TwoFactorSecret), u.LastLogin, u.Version).Scan(&u.Version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrVersionConflict
			}
			return fmt.Errorf("db error: %w", err)
		}

		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, models.NormalizeUsername(username))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
