package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blog-serverless/internal/identity"
	"blog-serverless/internal/user"
)

func withIdentity(r *http.Request, role user.Role) (*http.Request, func()) {
	ctx, release := identity.Bind(r.Context(), identity.Identity{UserID: 1, Username: "ann", Role: role})
	return r.WithContext(ctx), release
}

func serve(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestCheck(t *testing.T) {
	assert.ErrorIs(t, Check(context.Background()), ErrAuthenticationRequired)
	assert.ErrorIs(t, Check(context.Background(), user.RoleAdmin), ErrAuthenticationRequired)

	ctx, release := identity.Bind(context.Background(), identity.Identity{UserID: 1, Role: user.RoleUser})
	defer release()

	assert.NoError(t, Check(ctx))
	assert.NoError(t, Check(ctx, user.RoleUser, user.RoleAdmin))

	err := Check(ctx, user.RoleAdmin)
	var forbidden *InsufficientPermissionsError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, []user.Role{user.RoleAdmin}, forbidden.Allowed)
	assert.Contains(t, err.Error(), "ADMIN")
}

func TestRequireRole(t *testing.T) {
	enforcer := NewEnforcer(nil, nil)
	calls := 0
	h := enforcer.RequireRole(user.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/admin/users/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, rec.Body.String())

	req, release := withIdentity(httptest.NewRequest(http.MethodGet, "/api/admin/users/1", nil), user.RoleUser)
	rec = serve(t, h, req)
	release()
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ADMIN")

	req, release = withIdentity(httptest.NewRequest(http.MethodGet, "/api/admin/users/1", nil), user.RoleAdmin)
	rec = serve(t, h, req)
	release()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestRequireAuth(t *testing.T) {
	h := NewEnforcer(nil, nil).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusUnauthorized, serve(t, h, httptest.NewRequest(http.MethodGet, "/api/users/me", nil)).Code)

	req, release := withIdentity(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), user.RoleUser)
	defer release()
	assert.Equal(t, http.StatusOK, serve(t, h, req).Code)
}
