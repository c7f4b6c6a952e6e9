package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, username, first_name, last_name, avatar_url, password_hash, role,
	COALESCE(refresh_token, ''), token_epoch, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, "query user by id")
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row, "query user by username")
}

func (r *Repository) Create(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = RoleUser
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, first_name, last_name, avatar_url, password_hash, role, token_epoch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		RETURNING id
	`, u.Username, u.FirstName, u.LastName, u.AvatarURL, u.PasswordHash, string(u.Role), now).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	u.TokenEpoch = 0
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (r *Repository) SetRefreshToken(ctx context.Context, id int64, token string) error {
	var value any
	if token != "" {
		value = token
	}

	return r.exec(ctx, "set refresh token", `
		UPDATE users SET refresh_token = $2, updated_at = $3 WHERE id = $1
	`, id, value, time.Now().UTC())
}

// SwapRefreshToken replaces the stored refresh token only while it still
// equals expected. It reports whether the swap happened.
func (r *Repository) SwapRefreshToken(ctx context.Context, id int64, expected, next string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $3, updated_at = $4
		WHERE id = $1 AND refresh_token = $2
	`, id, expected, next, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("swap refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap refresh token rows affected: %w", err)
	}

	return affected == 1, nil
}

// BumpTokenEpoch increments the epoch and clears the refresh slot.
func (r *Repository) BumpTokenEpoch(ctx context.Context, id int64) (int, error) {
	var epoch int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET token_epoch = token_epoch + 1, refresh_token = NULL, updated_at = $2
		WHERE id = $1
		RETURNING token_epoch
	`, id, time.Now().UTC()).Scan(&epoch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("bump token epoch: %w", err)
	}

	return epoch, nil
}

func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.exec(ctx, "update password", `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
}

func (r *Repository) UpdateRole(ctx context.Context, id int64, role Role) error {
	return r.exec(ctx, "update role", `
		UPDATE users SET role = $2, updated_at = $3 WHERE id = $1
	`, id, string(role), time.Now().UTC())
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, "delete user", `DELETE FROM users WHERE id = $1`, id)
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanUser(row *sql.Row, op string) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.AvatarURL, &u.PasswordHash, &role,
		&u.RefreshToken, &u.TokenEpoch, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.Role = Role(strings.ToUpper(role))
	return u, nil
}
