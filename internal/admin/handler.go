package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"blog-serverless/internal/httpx"
	"blog-serverless/internal/identity"
	"blog-serverless/internal/observability"
	"blog-serverless/internal/user"
)

type UserStore interface {
	GetByID(ctx context.Context, id int64) (user.User, error)
	UpdateRole(ctx context.Context, id int64, role user.Role) error
	Delete(ctx context.Context, id int64) error
}

type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64) error
}

type Handler struct {
	users    UserStore
	sessions SessionRevoker
	logger   *zap.Logger
}

func NewHandler(users UserStore, sessions SessionRevoker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, sessions: sessions, logger: logger}
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"userName"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	AvatarURL string    `json:"avatarUrl"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, userResponse{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	})
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if self, _ := identity.UserID(r.Context()); self == id {
		httpx.WriteStatusError(w, http.StatusBadRequest, "Cannot change your own role")
		return
	}

	var body updateRoleRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	role, valid := user.ParseRole(body.Role)
	if !valid {
		names := make([]string, len(user.Roles))
		for i, known := range user.Roles {
			names[i] = string(known)
		}
		httpx.WriteStatusError(w, http.StatusBadRequest, fmt.Sprintf("Invalid role. Valid roles: [%s]", strings.Join(names, ", ")))
		return
	}

	if err := h.users.UpdateRole(r.Context(), id, role); err != nil {
		h.storeError(w, r, err)
		return
	}

	actor, _ := identity.FromContext(r.Context())
	h.logger.Info("user_role_updated",
		zap.Int64("user_id", id),
		zap.String("role", string(role)),
		zap.String("admin", actor.Username),
	)

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "User role updated successfully",
		"newRole": string(role),
	})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if self, _ := identity.UserID(r.Context()); self == id {
		httpx.WriteStatusError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}

	actor, _ := identity.FromContext(r.Context())
	h.logger.Info("user_deleted", zap.Int64("user_id", id), zap.String("admin", actor.Username))
	httpx.WriteMessage(w, http.StatusOK, "User deleted successfully")
}

// RevokeSessions signs the user out everywhere.
func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.sessions.RevokeAll(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}

	httpx.WriteMessage(w, http.StatusOK, "User sessions revoked")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, user.ErrNotFound) {
		httpx.WriteStatusError(w, http.StatusNotFound, "User not found")
		return
	}

	observability.CaptureError(r, err)
	h.logger.Error("admin_request_failed", zap.String("path", r.URL.Path), zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
}
