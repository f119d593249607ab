package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/dbx"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

const sqliteSelectUser = `SELECT username, password_hash, email, role, two_factor_enabled,
		two_factor_secret, created_at, last_login, version
	 FROM users`

// SQLiteRepository stores users in a single-file database. The handle must
// be limited to one open connection so that all writes go through a single
// writer; timestamps are stored as RFC 3339 text.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	db.SetMaxOpenConns(1)
	return &SQLiteRepository{db: db}
}

func scanSQLiteUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		role      string
		secret    sql.NullString
		createdAt string
		lastLogin sql.NullString
	)
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Email, &role, &u.TwoFactorEnabled,
		&secret, &createdAt, &lastLogin, &u.Version)
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
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("db error: created_at: %w", err)
	}
	if lastLogin.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("db error: last_login: %w", err)
		}
		u.LastLogin = &t
	}
	return u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func (r *SQLiteRepository) Get(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, sqliteSelectUser+` WHERE username = ?`, models.NormalizeUsername(username))
	return scanSQLiteUser(row)
}

func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, common.ErrorNotFound
	}
	row := r.db.QueryRowContext(ctx, sqliteSelectUser+` WHERE lower(email) = ? ORDER BY created_at LIMIT 1`, email)
	return scanSQLiteUser(row)
}

func (r *SQLiteRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	query :=
		`INSERT INTO users (username, password_hash, email, role, two_factor_enabled,
			two_factor_secret, created_at, last_login, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`

	_, err := r.db.ExecContext(ctx, query,
		user.Username, user.PasswordHash, user.Email, string(user.Role), user.TwoFactorEnabled,
		nullString(user.TwoFactorSecret), formatTime(user.CreatedAt), formatNullTime(user.LastLogin))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	user.Version = 1
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, username string, mutate MutateFunc) (*models.User, error) {
	var updated *models.User

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := scanSQLiteUser(tx.QueryRowContext(ctx,
			sqliteSelectUser+` WHERE username = ?`, models.NormalizeUsername(username)))
		if err != nil {
			return err
		}

		if err := applyMutation(u, mutate); err != nil {
			return err
		}

		query :=
			`UPDATE users
			 SET password_hash = ?, email = ?, role = ?, two_factor_enabled = ?,
			     two_factor_secret = ?, last_login = ?, version = version + 1
			 WHERE username = ? AND version = ?`

		res, err := tx.ExecContext(ctx, query,
			u.PasswordHash, u.Email, string(u.Role), u.TwoFactorEnabled,
			nullString(u.TwoFactorSecret), formatNullTime(u.LastLogin), u.Username, u.Version)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("db error: %w", err)
		} else if n == 0 {
			return common.ErrVersionConflict
		}

		u.Version++
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, models.NormalizeUsername(username))
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

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
