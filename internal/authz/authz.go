package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"blog-serverless/internal/httpx"
	"blog-serverless/internal/identity"
	"blog-serverless/internal/observability"
	"blog-serverless/internal/user"
)

var ErrAuthenticationRequired = errors.New("authentication required")

type InsufficientPermissionsError struct {
	Allowed []user.Role
}

func (e *InsufficientPermissionsError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, role := range e.Allowed {
		names[i] = string(role)
	}
	return fmt.Sprintf("insufficient permissions, required roles: [%s]", strings.Join(names, ", "))
}

// Check reports whether the identity bound to ctx satisfies roles. An empty
// role list only requires authentication.
func Check(ctx context.Context, roles ...user.Role) error {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return ErrAuthenticationRequired
	}
	if len(roles) == 0 {
		return nil
	}
	for _, role := range roles {
		if id.Role == role {
			return nil
		}
	}
	return &InsufficientPermissionsError{Allowed: roles}
}

type Enforcer struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewEnforcer(logger *zap.Logger, metrics *observability.Metrics) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{logger: logger, metrics: metrics}
}

func (e *Enforcer) RequireAuth(next http.Handler) http.Handler {
	return e.RequireRole()(next)
}

func (e *Enforcer) RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := Check(r.Context(), roles...); err != nil {
				e.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (e *Enforcer) deny(w http.ResponseWriter, r *http.Request, err error) {
	var forbidden *InsufficientPermissionsError
	if errors.As(err, &forbidden) {
		id, _ := identity.FromContext(r.Context())
		e.metrics.AuthRejected("insufficient_role")
		e.logger.Warn("authorization_denied",
			zap.String("username", id.Username),
			zap.String("role", string(id.Role)),
			zap.String("path", r.URL.Path),
		)
		httpx.WriteError(w, http.StatusForbidden, forbidden.Error())
		return
	}

	e.metrics.AuthRejected("authentication_required")
	e.logger.Warn("unauthenticated_access", zap.String("method", r.Method), zap.String("path", r.URL.Path))
	httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
}
