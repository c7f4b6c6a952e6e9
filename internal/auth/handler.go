package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"blog-serverless/internal/authn"
	"blog-serverless/internal/httpx"
	"blog-serverless/internal/identity"
	"blog-serverless/internal/observability"
	"blog-serverless/internal/passwordreset"
	"blog-serverless/internal/session"
	"blog-serverless/internal/user"
)

const forgotPasswordMessage = "If an account with that username exists, a password reset link has been generated."

type Handler struct {
	service          *Service
	logger           *zap.Logger
	exposeResetToken bool
}

func NewHandler(service *Service, logger *zap.Logger, exposeResetToken bool) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, exposeResetToken: exposeResetToken}
}

type loginRequest struct {
	Username string `json:"userName"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	Username string `json:"userName"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type forgotPasswordResponse struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	resp, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		h.internalError(w, r, "login_failed", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	resp, err := h.service.Register(r.Context(), body)
	if err != nil {
		var invalid *ValidationError
		if errors.As(err, &invalid) {
			httpx.WriteError(w, http.StatusBadRequest, invalid.Message)
			return
		}
		h.internalError(w, r, "register_failed", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	pair, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, session.ErrTokenMismatch):
			httpx.WriteError(w, http.StatusUnauthorized, "Refresh token mismatch")
		default:
			h.internalError(w, r, "refresh_failed", err)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	accessToken, _ := authn.BearerToken(r)
	if err := h.service.Logout(r.Context(), userID, accessToken); err != nil {
		h.internalError(w, r, "logout_failed", err)
		return
	}

	httpx.WriteMessage(w, http.StatusOK, "Logged out successfully")
}

func (h *Handler) Verify(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteMessage(w, http.StatusOK, "Token is valid")
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	view, err := h.service.Me(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(w, r, "me_failed", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Username is required")
		return
	}

	token, err := h.service.ForgotPassword(r.Context(), body.Username)
	if err != nil {
		h.internalError(w, r, "forgot_password_failed", err)
		return
	}

	resp := forgotPasswordResponse{Message: forgotPasswordMessage}
	if token != "" {
		if h.exposeResetToken {
			resp.Token = token
		} else {
			h.logger.Debug("password_reset_token_issued", zap.String("token", token))
		}
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	err := h.service.ResetPassword(r.Context(), body.Token, body.NewPassword)
	if err != nil {
		var invalid *ValidationError
		switch {
		case errors.Is(err, passwordreset.ErrInvalidResetToken):
			httpx.WriteStatusError(w, http.StatusBadRequest, "Invalid or expired reset token")
		case errors.As(err, &invalid):
			httpx.WriteStatusError(w, http.StatusBadRequest, invalid.Message)
		default:
			h.internalError(w, r, "reset_password_failed", err)
		}
		return
	}

	httpx.WriteMessage(w, http.StatusOK, "Password has been reset successfully. Please login with your new password.")
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var body changePasswordRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.CurrentPassword == "" || body.NewPassword == "" {
		httpx.WriteStatusError(w, http.StatusBadRequest, "Current password and new password are required")
		return
	}

	err := h.service.ChangePassword(r.Context(), userID, body.CurrentPassword, body.NewPassword)
	if err != nil {
		var invalid *ValidationError
		switch {
		case errors.As(err, &invalid):
			httpx.WriteStatusError(w, http.StatusBadRequest, invalid.Message)
		case errors.Is(err, user.ErrNotFound):
			httpx.WriteStatusError(w, http.StatusNotFound, "User not found")
		default:
			h.internalError(w, r, "change_password_failed", err)
		}
		return
	}

	httpx.WriteMessage(w, http.StatusOK, "Password changed successfully")
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, event string, err error) {
	observability.CaptureError(r, err)
	h.logger.Error(event, zap.String("path", r.URL.Path), zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
}
