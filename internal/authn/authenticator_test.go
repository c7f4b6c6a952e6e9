package authn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blog-serverless/internal/identity"
	"blog-serverless/internal/session"
	"blog-serverless/internal/token"
	"blog-serverless/internal/user"
)

type fixture struct {
	auth     *Authenticator
	sessions *session.Manager
	users    *user.MemoryRepository
	alice    user.User
	pair     session.Pair
}

func publicPosts(r *http.Request) bool {
	return r.Method == http.MethodGet && r.URL.Path == "/api/Posts"
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	codec, err := token.NewCodec(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	users := user.NewMemoryRepository()
	alice := user.User{Username: "alice", FirstName: "Alice", LastName: "Moss", Role: user.RoleUser}
	require.NoError(t, users.Create(ctx, &alice))

	sessions := session.NewManager(users, codec, session.NewMemoryBlacklist())
	pair, err := sessions.IssuePair(ctx, alice)
	require.NoError(t, err)

	return &fixture{
		auth:     New(codec, sessions, users, publicPosts),
		sessions: sessions,
		users:    users,
		alice:    alice,
		pair:     pair,
	}
}

type observed struct {
	called bool
	id     identity.Identity
	bound  bool
	ctx    context.Context
}

func (o *observed) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.called = true
		o.ctx = r.Context()
		o.id, o.bound = identity.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func request(method, path, bearer string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestMiddleware_BindsCurrentIdentity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.users.UpdateRole(context.Background(), f.alice.ID, user.RoleAdmin))

	var o observed
	rec := httptest.NewRecorder()
	f.auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/users/me", f.pair.AccessToken))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, o.bound)
	assert.Equal(t, f.alice.ID, o.id.UserID)
	assert.Equal(t, "Alice Moss", o.id.FullName())
	assert.Equal(t, user.RoleAdmin, o.id.Role)

	assert.False(t, identity.IsAuthenticated(o.ctx), "identity must be released after the request")
}

func TestMiddleware_NoTokenContinuesAnonymously(t *testing.T) {
	f := newFixture(t)

	for _, req := range []*http.Request{
		request("GET", "/api/users/me", ""),
		func() *http.Request {
			r := request("GET", "/api/users/me", "")
			r.Header.Set("Authorization", "Basic YWxpY2U6cHc=")
			return r
		}(),
	} {
		var o observed
		rec := httptest.NewRecorder()
		f.auth.Middleware(o.handler()).ServeHTTP(rec, req)

		assert.True(t, o.called)
		assert.False(t, o.bound)
	}
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		setup   func(t *testing.T) string
		message string
	}{
		"garbage": {
			setup:   func(*testing.T) string { return "abc.def.ghi" },
			message: "Invalid or expired token",
		},
		"refresh token": {
			setup:   func(*testing.T) string { return f.pair.RefreshToken },
			message: "Invalid or expired token",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var o observed
			rec := httptest.NewRecorder()
			f.auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/users/me", tc.setup(t)))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"`+tc.message+`"}`, rec.Body.String())
			assert.False(t, o.called)
		})
	}

	t.Run("deleted user", func(t *testing.T) {
		bob := user.User{Username: "bob", Role: user.RoleUser}
		require.NoError(t, f.users.Create(ctx, &bob))
		pair, err := f.sessions.IssuePair(ctx, bob)
		require.NoError(t, err)
		require.NoError(t, f.users.Delete(ctx, bob.ID))

		rec := httptest.NewRecorder()
		f.auth.Middleware(http.NotFoundHandler()).ServeHTTP(rec, request("GET", "/api/users/me", pair.AccessToken))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid user"}`, rec.Body.String())
	})
}

func TestMiddleware_RejectsLoggedOutToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Logout(context.Background(), f.alice.ID, f.pair.AccessToken))

	rec := httptest.NewRecorder()
	f.auth.Middleware(http.NotFoundHandler()).ServeHTTP(rec, request("POST", "/api/auth/logout", f.pair.AccessToken))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Token has been invalidated"}`, rec.Body.String())
}

func TestMiddleware_RejectsTokenAfterRevokeAll(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.RevokeAll(context.Background(), f.alice.ID))

	rec := httptest.NewRecorder()
	f.auth.Middleware(http.NotFoundHandler()).ServeHTTP(rec, request("GET", "/api/auth/verify", f.pair.AccessToken))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Token has been revoked"}`, rec.Body.String())
}

func TestMiddleware_PublicRouteSwallowsFailure(t *testing.T) {
	f := newFixture(t)

	var o observed
	rec := httptest.NewRecorder()
	f.auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/Posts", "not-a-token"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, o.called)
	assert.False(t, o.bound)

	o = observed{}
	rec = httptest.NewRecorder()
	f.auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/Posts", f.pair.AccessToken))
	assert.True(t, o.bound, "valid token on a public route still binds identity")
}

func TestMiddleware_ReleasesIdentityOnPanic(t *testing.T) {
	f := newFixture(t)

	var retained context.Context
	h := f.auth.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		retained = r.Context()
		panic("handler exploded")
	}))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), request("GET", "/api/users/me", f.pair.AccessToken))
	})
	require.NotNil(t, retained)
	assert.False(t, identity.IsAuthenticated(retained))
}

type brokenBlacklist struct{}

func (brokenBlacklist) IsBlacklisted(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestMiddleware_FailsClosedWhenBlacklistUnavailable(t *testing.T) {
	f := newFixture(t)
	codec, err := token.NewCodec(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	auth := New(codec, brokenBlacklist{}, f.users, publicPosts)

	var o observed
	rec := httptest.NewRecorder()
	auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/users/me", f.pair.AccessToken))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, o.called)
}

type brokenUsers struct{}

func (brokenUsers) GetByID(context.Context, int64) (user.User, error) {
	return user.User{}, errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func TestMiddleware_FailsClosedWhenUserLookupFails(t *testing.T) {
	f := newFixture(t)
	codec, err := token.NewCodec(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	auth := New(codec, f.sessions, brokenUsers{}, publicPosts)

	var o observed
	rec := httptest.NewRecorder()
	auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/users/me", f.pair.AccessToken))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Token could not be verified"}`, rec.Body.String())
	assert.False(t, o.called)

	o = observed{}
	rec = httptest.NewRecorder()
	auth.Middleware(o.handler()).ServeHTTP(rec, request("GET", "/api/Posts", f.pair.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, o.called)
	assert.False(t, o.bound)
}

func TestMiddleware_OptionsPassesThrough(t *testing.T) {
	f := newFixture(t)

	var o observed
	rec := httptest.NewRecorder()
	f.auth.Middleware(o.handler()).ServeHTTP(rec, request("OPTIONS", "/api/users/me", "garbage"))
	assert.True(t, o.called)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, ok := BearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "bearer   abc ")
	raw, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc", raw)

	req.Header.Set("Authorization", "Bearer ")
	_, ok = BearerToken(req)
	assert.False(t, ok)
}
