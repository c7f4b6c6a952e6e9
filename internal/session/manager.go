package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"blog-serverless/internal/observability"
	"blog-serverless/internal/token"
	"blog-serverless/internal/user"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken  = errors.New("invalid refresh token")
	ErrTokenMismatch = errors.New("refresh token mismatch")
)

type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// UserStore is the slice of the identity store the manager needs. The
// refresh slot holds at most one token per user.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (user.User, error)
	SetRefreshToken(ctx context.Context, id int64, token string) error
	SwapRefreshToken(ctx context.Context, id int64, expected, next string) (bool, error)
	BumpTokenEpoch(ctx context.Context, id int64) (int, error)
}

type Manager struct {
	users      UserStore
	codec      *token.Codec
	blacklist  Blacklist
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewManager(users UserStore, codec *token.Codec, blacklist Blacklist) *Manager {
	return &Manager{
		users:      users,
		codec:      codec,
		blacklist:  blacklist,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
}

func (m *Manager) WithTTL(accessTTL, refreshTTL time.Duration) *Manager {
	if accessTTL > 0 {
		m.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		m.refreshTTL = refreshTTL
	}
	return m
}

func (m *Manager) WithObservability(logger *zap.Logger, metrics *observability.Metrics) *Manager {
	if logger != nil {
		m.logger = logger
	}
	m.metrics = metrics
	return m
}

func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// IssuePair signs a fresh pair and makes its refresh token the only one
// accepted for u.
func (m *Manager) IssuePair(ctx context.Context, u user.User) (Pair, error) {
	pair, err := m.sign(u)
	if err != nil {
		return Pair{}, err
	}

	if err := m.users.SetRefreshToken(ctx, u.ID, pair.RefreshToken); err != nil {
		return Pair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return pair, nil
}

// Refresh resolves the owner of a verified refresh token and rotates it.
func (m *Manager) Refresh(ctx context.Context, oldRefresh string) (Pair, error) {
	claims, err := m.codec.Parse(oldRefresh, token.TypeRefresh)
	if err != nil {
		m.metrics.TokenRotated("invalid")
		return Pair{}, ErrInvalidToken
	}

	u, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			m.metrics.TokenRotated("invalid")
			return Pair{}, ErrInvalidToken
		}
		return Pair{}, err
	}

	return m.Rotate(ctx, oldRefresh, u)
}

// Rotate exchanges oldRefresh for a new pair. A token that verifies and
// belongs to u but is not the one currently persisted (already rotated out,
// blacklisted, or from an earlier epoch) is a replay and fails with
// ErrTokenMismatch. The stored refresh token is replaced by compare-and-swap,
// so of two concurrent rotations presenting the same token at most one
// succeeds.
func (m *Manager) Rotate(ctx context.Context, oldRefresh string, u user.User) (Pair, error) {
	claims, err := m.codec.Parse(oldRefresh, token.TypeRefresh)
	if err != nil || claims.UserID != u.ID || claims.Username != u.Username {
		m.metrics.TokenRotated("invalid")
		return Pair{}, ErrInvalidToken
	}

	blacklisted, err := m.blacklist.Contains(ctx, oldRefresh)
	if err != nil {
		return Pair{}, err
	}
	switch {
	case blacklisted:
		return Pair{}, m.mismatch(u, "blacklisted")
	case claims.Epoch != u.TokenEpoch:
		return Pair{}, m.mismatch(u, "stale_epoch")
	case u.RefreshToken != oldRefresh:
		return Pair{}, m.mismatch(u, "not_current")
	}

	pair, err := m.sign(u)
	if err != nil {
		return Pair{}, err
	}

	swapped, err := m.users.SwapRefreshToken(ctx, u.ID, oldRefresh, pair.RefreshToken)
	if err != nil {
		return Pair{}, fmt.Errorf("swap refresh token: %w", err)
	}
	if !swapped {
		return Pair{}, m.mismatch(u, "not_current")
	}

	if err := m.blacklist.Add(ctx, oldRefresh, claims.ExpiresAt.Time); err != nil {
		m.logger.Error("blacklist_rotated_token_failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}

	m.metrics.TokenRotated("ok")
	return pair, nil
}

func (m *Manager) mismatch(u user.User, reason string) error {
	m.metrics.TokenRotated("mismatch")
	m.logger.Warn("refresh_token_mismatch",
		zap.Int64("user_id", u.ID),
		zap.String("username", u.Username),
		zap.String("reason", reason),
		zap.String("signal", "possible_token_theft"),
	)
	return ErrTokenMismatch
}

// RevokeAll invalidates every token issued to the user so far by moving the
// user to a new epoch and emptying the refresh slot.
func (m *Manager) RevokeAll(ctx context.Context, userID int64) error {
	epoch, err := m.users.BumpTokenEpoch(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}

	m.logger.Info("tokens_revoked", zap.Int64("user_id", userID), zap.Int("epoch", epoch))
	return nil
}

func (m *Manager) Logout(ctx context.Context, userID int64, accessToken string) error {
	if err := m.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}

	if accessToken != "" {
		expiresAt, ok := m.codec.ExpiresAt(accessToken)
		if !ok {
			expiresAt = m.now().Add(m.refreshTTL)
		}
		if err := m.blacklist.Add(ctx, accessToken, expiresAt); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}

	m.logger.Info("user_logged_out", zap.Int64("user_id", userID))
	return nil
}

func (m *Manager) IsBlacklisted(ctx context.Context, raw string) (bool, error) {
	return m.blacklist.Contains(ctx, raw)
}

// Sweep drops blacklist entries whose tokens have expired.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	removed, err := m.blacklist.Sweep(ctx, m.now())
	return int64(removed), err
}

func (m *Manager) sign(u user.User) (Pair, error) {
	subject := token.Subject{
		UserID:   u.ID,
		Username: u.Username,
		Role:     string(u.Role),
		Epoch:    u.TokenEpoch,
	}

	access, err := m.codec.Issue(subject, token.TypeAccess, m.accessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := m.codec.Issue(subject, token.TypeRefresh, m.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}
