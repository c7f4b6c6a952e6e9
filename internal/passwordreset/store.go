package passwordreset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errTokenNotFound = errors.New("reset token not found")

type Token struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

func (t Token) Valid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

type Store interface {
	Create(ctx context.Context, t Token) error
	Get(ctx context.Context, token string) (Token, error)
	// Claim marks a valid token used and returns it. Only one caller can
	// claim a given token.
	Claim(ctx context.Context, token string, now time.Time) (Token, error)
	// Release undoes a Claim whose password update did not go through.
	Release(ctx context.Context, token string) error
	InvalidateUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type PostgresStore struct {
	db        *sql.DB
	batchSize int
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, batchSize: 500}
}

func (s *PostgresStore) Create(ctx context.Context, t Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (token, user_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.Token, t.UserID, t.ExpiresAt.UTC(), t.Used, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (Token, error) {
	t := Token{Token: token}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token = $1
	`, token).Scan(&t.UserID, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, errTokenNotFound
		}
		return Token{}, fmt.Errorf("query reset token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Claim(ctx context.Context, token string, now time.Time) (Token, error) {
	t := Token{Token: token, Used: true}
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE token = $1 AND used = FALSE AND expires_at > $2
		RETURNING user_id, expires_at, created_at
	`, token, now.UTC()).Scan(&t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, errTokenNotFound
		}
		return Token{}, fmt.Errorf("claim reset token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Release(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used = FALSE
		WHERE token = $1 AND used = TRUE
	`, token)
	if err != nil {
		return fmt.Errorf("release reset token: %w", err)
	}
	return nil
}

func (s *PostgresStore) InvalidateUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE user_id = $1 AND used = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("invalidate reset tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes at most one batch of expired tokens per call.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT token
			FROM password_reset_tokens
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM password_reset_tokens t
		USING expired
		WHERE t.token = expired.token
	`, now.UTC(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired reset tokens rows affected: %w", err)
	}
	return affected, nil
}

type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (s *MemoryStore) Create(_ context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.Token]; exists {
		return fmt.Errorf("insert reset token: duplicate token")
	}
	s.tokens[t.Token] = t
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return Token{}, errTokenNotFound
	}
	return t, nil
}

func (s *MemoryStore) Claim(_ context.Context, token string, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok || !t.Valid(now) {
		return Token{}, errTokenNotFound
	}
	t.Used = true
	s.tokens[token] = t
	return t, nil
}

func (s *MemoryStore) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[token]; ok {
		t.Used = false
		s.tokens[token] = t
	}
	return nil
}

func (s *MemoryStore) InvalidateUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.tokens {
		if t.UserID == userID && !t.Used {
			t.Used = true
			s.tokens[key] = t
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed, nil
}
