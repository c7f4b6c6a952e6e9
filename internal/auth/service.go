package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"blog-serverless/internal/passwordreset"
	"blog-serverless/internal/session"
	"blog-serverless/internal/user"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

const maxNameLength = 100

var ErrInvalidCredentials = errors.New("invalid username or password")

type UserStore interface {
	GetByID(ctx context.Context, id int64) (user.User, error)
	GetByUsername(ctx context.Context, username string) (user.User, error)
	Create(ctx context.Context, u *user.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateRole(ctx context.Context, id int64, role user.Role) error
}

type Service struct {
	users    UserStore
	hasher   *user.Hasher
	sessions *session.Manager
	resets   *passwordreset.Service
	logger   *zap.Logger
}

func NewService(users UserStore, hasher *user.Hasher, sessions *session.Manager, resets *passwordreset.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		resets:   resets,
		logger:   logger,
	}
}

// Login checks credentials and starts a new session. Unknown users and wrong
// passwords are indistinguishable, including in timing.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResponse{}, ErrInvalidCredentials
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.VerifyMissing(password)
			return LoginResponse{}, ErrInvalidCredentials
		}
		return LoginResponse{}, err
	}

	if !s.hasher.Verify(password, u.PasswordHash) {
		return LoginResponse{}, ErrInvalidCredentials
	}

	pair, err := s.sessions.IssuePair(ctx, u)
	if err != nil {
		return LoginResponse{}, err
	}

	s.logger.Info("user_logged_in", zap.Int64("user_id", u.ID))
	return LoginResponse{Pair: pair, User: NewUserView(u)}, nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (LoginResponse, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.AvatarURL = strings.TrimSpace(in.AvatarURL)

	if err := validateRegistration(in); err != nil {
		return LoginResponse{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return LoginResponse{}, passwordError(err)
	}

	u := user.User{
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		AvatarURL:    in.AvatarURL,
		PasswordHash: hash,
		Role:         user.RoleUser,
	}
	if err := s.users.Create(ctx, &u); err != nil {
		if errors.Is(err, user.ErrUsernameTaken) {
			return LoginResponse{}, &ValidationError{Message: "Username already exists"}
		}
		return LoginResponse{}, err
	}

	pair, err := s.sessions.IssuePair(ctx, u)
	if err != nil {
		return LoginResponse{}, err
	}

	s.logger.Info("user_registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return LoginResponse{Pair: pair, User: NewUserView(u)}, nil
}

func validateRegistration(in RegisterInput) error {
	switch {
	case in.Username == "":
		return &ValidationError{Message: "Username is required"}
	case !usernameRegex.MatchString(in.Username):
		return &ValidationError{Message: "Username must be 3-50 letters, numbers or underscores"}
	case in.Password == "":
		return &ValidationError{Message: "Password is required"}
	case in.FirstName == "":
		return &ValidationError{Message: "First name is required"}
	case utf8.RuneCountInString(in.FirstName) > maxNameLength:
		return &ValidationError{Message: "First name must not exceed 100 characters"}
	case utf8.RuneCountInString(in.LastName) > maxNameLength:
		return &ValidationError{Message: "Last name must not exceed 100 characters"}
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (session.Pair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return session.Pair{}, session.ErrInvalidToken
	}
	return s.sessions.Refresh(ctx, refreshToken)
}

func (s *Service) Logout(ctx context.Context, userID int64, accessToken string) error {
	return s.sessions.Logout(ctx, userID, accessToken)
}

func (s *Service) Me(ctx context.Context, userID int64) (UserView, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return NewUserView(u), nil
}

func (s *Service) ForgotPassword(ctx context.Context, username string) (string, error) {
	return s.resets.CreateToken(ctx, username)
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return passwordError(s.resets.ResetPassword(ctx, token, newPassword))
}

// ChangePassword replaces the password of a signed-in user who proves the
// current one, then ends all of that user's sessions.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(current, u.PasswordHash) {
		s.logger.Warn("password_change_rejected", zap.Int64("user_id", userID), zap.String("reason", "wrong_current_password"))
		return &ValidationError{Message: "Current password is incorrect"}
	}
	if current == next {
		return &ValidationError{Message: "New password must be different from current password"}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return passwordError(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("password_changed", zap.Int64("user_id", userID))
	return nil
}

// passwordError turns hasher input errors into client-facing validation
// errors.
func passwordError(err error) error {
	if errors.Is(err, user.ErrWeakPassword) || errors.Is(err, user.ErrPasswordTooLong) {
		return &ValidationError{Message: err.Error()}
	}
	return err
}

// EnsureAdmin creates or promotes the bootstrap admin account. Both values
// empty means no bootstrap is configured.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	existing, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if err := s.users.UpdatePassword(ctx, existing.ID, hash); err != nil {
			return err
		}
		if existing.Role != user.RoleAdmin {
			if err := s.users.UpdateRole(ctx, existing.ID, user.RoleAdmin); err != nil {
				return err
			}
		}
		s.logger.Info("admin_bootstrap_updated", zap.Int64("user_id", existing.ID))
		return nil
	case errors.Is(err, user.ErrNotFound):
		admin := user.User{Username: username, FirstName: username, PasswordHash: hash, Role: user.RoleAdmin}
		if err := s.users.Create(ctx, &admin); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		s.logger.Info("admin_bootstrap_created", zap.Int64("user_id", admin.ID))
		return nil
	default:
		return err
	}
}
