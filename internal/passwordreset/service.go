package passwordreset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blog-serverless/internal/user"
)

const DefaultTTL = 60 * time.Minute

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

type UserStore interface {
	GetByUsername(ctx context.Context, username string) (user.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64) error
}

type Service struct {
	store    Store
	users    UserStore
	hasher   *user.Hasher
	sessions SessionRevoker
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, users UserStore, hasher *user.Hasher, sessions SessionRevoker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		ttl:      DefaultTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// CreateToken issues a fresh token for username and invalidates any earlier
// ones. An unknown username yields an empty token and no error so callers
// answer both cases identically.
func (s *Service) CreateToken(ctx context.Context, username string) (string, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	if err := s.store.InvalidateUser(ctx, u.ID); err != nil {
		return "", err
	}

	now := s.now().UTC()
	t := Token{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return "", err
	}

	s.logger.Info("password_reset_token_created", zap.Int64("user_id", u.ID))
	return t.Token, nil
}

func (s *Service) Validate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	t, err := s.store.Get(ctx, token)
	if err != nil {
		return false
	}
	return t.Valid(s.now())
}

// ResetPassword consumes token and replaces the owner's password. Every
// outstanding session and reset token of the owner stops working.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	claimed, err := s.store.Claim(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, errTokenNotFound) {
			s.logger.Warn("password_reset_rejected")
			return ErrInvalidResetToken
		}
		return err
	}

	// At most one caller gets past Claim. A failed update hands the token back.
	if err := s.users.UpdatePassword(ctx, claimed.UserID, hash); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrInvalidResetToken
		}
		if releaseErr := s.store.Release(ctx, token); releaseErr != nil {
			s.logger.Error("password_reset_release_failed", zap.Int64("user_id", claimed.UserID), zap.Error(releaseErr))
		}
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.sessions.RevokeAll(ctx, claimed.UserID); err != nil {
		return err
	}

	if err := s.store.InvalidateUser(ctx, claimed.UserID); err != nil {
		return err
	}

	s.logger.Info("password_reset_completed", zap.Int64("user_id", claimed.UserID))
	return nil
}

// Sweep deletes expired tokens.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}
