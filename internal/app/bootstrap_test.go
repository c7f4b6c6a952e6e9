package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blog-serverless/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "blog-api", Env: "test"},
		Auth: config.AuthConfig{
			JWTSecret:     "0123456789abcdef0123456789abcdef",
			Issuer:        "BlogApplication",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			BcryptCost:    4,
			ResetTokenTTL: time.Hour,
			AdminUsername: "root",
			AdminPassword: "rootpass",
		},
		RateLimit: config.RateLimitConfig{
			LoginLimit: 5, LoginPeriod: time.Minute,
			RegisterLimit: 3, RegisterPeriod: time.Hour,
			GeneralLimit: 100, GeneralPeriod: time.Minute,
		},
		Maintenance: config.MaintenanceConfig{
			BlacklistInterval: time.Hour,
			RateLimitInterval: 5 * time.Minute,
			ResetInterval:     time.Hour,
		},
		Redis:   config.RedisConfig{Prefix: "test"},
		Metrics: config.MetricsConfig{Token: "scrape-token"},
	}
}

type client struct {
	t       *testing.T
	handler http.Handler
	ip      string
}

func (c *client) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", c.ip)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID   int64  `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func build(t *testing.T, opts Options) *Runtime {
	t.Helper()
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	opts.Logger = zap.NewNop()
	rt, err := Build(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestBuild_SessionLifecycle(t *testing.T) {
	rt := build(t, Options{})
	c := &client{t: t, handler: rt.Handler, ip: "198.51.100.1"}

	rec := c.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"userName": "alice", "password": "secret1", "firstName": "Alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"userName": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[tokens](t, rec)
	assert.Equal(t, "USER", session.User.Role)

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/users/me", session.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/users/me", "", nil).Code)

	rec = c.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[tokens](t, rec)

	rec = c.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/logout", rotated.AccessToken, nil).Code)
	rec = c.do(http.MethodGet, "/api/users/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Token has been invalidated"}`, rec.Body.String())
}

func TestBuild_ChangePasswordRevokesOutstandingTokens(t *testing.T) {
	rt := build(t, Options{})
	c := &client{t: t, handler: rt.Handler, ip: "198.51.100.6"}

	rec := c.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"userName": "carol", "password": "secret1", "firstName": "Carol",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	carol := decode[tokens](t, rec)

	rec = c.do(http.MethodPut, "/api/users/me/password", "", map[string]string{"currentPassword": "secret1", "newPassword": "secret2"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.do(http.MethodPut, "/api/users/me/password", carol.AccessToken, map[string]string{"currentPassword": "secret1", "newPassword": "secret2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/users/me", carol.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Token has been revoked"}`, rec.Body.String())
}

func TestBuild_RoleRestrictedRoutes(t *testing.T) {
	rt := build(t, Options{})
	c := &client{t: t, handler: rt.Handler, ip: "198.51.100.2"}

	rec := c.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"userName": "bob", "password": "secret1", "firstName": "Bob",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	bob := decode[tokens](t, rec)

	path := fmt.Sprintf("/api/admin/users/%d", bob.User.ID)
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, path, bob.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, path, "", nil).Code)

	rec = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"userName": "root", "password": "rootpass"})
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[tokens](t, rec)
	assert.Equal(t, "ADMIN", root.User.Role)

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, path, root.AccessToken, nil).Code)

	rec = c.do(http.MethodPut, path+"/role", root.AccessToken, map[string]string{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The role is read from the store on every request, so the promotion
	// applies to bob's existing token.
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, path, bob.AccessToken, nil).Code)
}

func TestBuild_LoginRateLimit(t *testing.T) {
	rt := build(t, Options{})
	c := &client{t: t, handler: rt.Handler, ip: "203.0.113.9"}

	creds := map[string]string{"userName": "nobody", "password": "wrong-password"}
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/auth/login", "", creds).Code)
	}

	rec := c.do(http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	other := &client{t: t, handler: rt.Handler, ip: "203.0.113.10"}
	assert.Equal(t, http.StatusUnauthorized, other.do(http.MethodPost, "/api/auth/login", "", creds).Code)
}

func TestBuild_InfrastructureRoutes(t *testing.T) {
	rt := build(t, Options{})
	c := &client{t: t, handler: rt.Handler, ip: "198.51.100.3"}

	rec := c.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/metrics", "", nil).Code)
	rec = c.do(http.MethodGet, "/metrics", "scrape-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/internal/maintenance/cleanup", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/nope", "", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, c.do(http.MethodGet, "/api/Posts", "", nil).Code)

	results, err := rt.Runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestBuild_ContentHandlerSeesIdentityGuard(t *testing.T) {
	var served int
	content := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusNoContent)
	})
	rt := build(t, Options{Content: content})
	c := &client{t: t, handler: rt.Handler, ip: "198.51.100.4"}

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodGet, "/api/Posts/1", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, c.do(http.MethodGet, "/api/Posts/1", "garbage", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/Posts/create", "", nil).Code)
	assert.Equal(t, 2, served)
}

func TestBuild_RedisBackedState(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rt := build(t, Options{Redis: rdb})
	c := &client{t: t, handler: rt.Handler, ip: "198.51.100.5"}

	rec := c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"userName": "root", "password": "rootpass"})
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[tokens](t, rec)

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/logout", root.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/users/me", root.AccessToken, nil).Code)

	assert.NotEmpty(t, mr.Keys())
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health", "", nil).Code)
}
