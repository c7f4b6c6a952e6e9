package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"blog-serverless/internal/httpx"
	"blog-serverless/internal/identity"
	"blog-serverless/internal/observability"
	"blog-serverless/internal/token"
	"blog-serverless/internal/user"
)

type Blacklist interface {
	IsBlacklisted(ctx context.Context, raw string) (bool, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (user.User, error)
}

// PublicMatcher reports whether a request may proceed without credentials.
type PublicMatcher func(r *http.Request) bool

type rejection struct {
	status  int
	reason  string
	message string
	err     error
}

func (r *rejection) Error() string { return r.message }

var (
	rejectRevokedToken = &rejection{status: http.StatusUnauthorized, reason: "blacklisted", message: "Token has been invalidated"}
	rejectInvalidToken = &rejection{status: http.StatusUnauthorized, reason: "invalid_token", message: "Invalid or expired token"}
	rejectUnknownUser  = &rejection{status: http.StatusUnauthorized, reason: "invalid_user", message: "Invalid user"}
	rejectStaleEpoch   = &rejection{status: http.StatusUnauthorized, reason: "stale_epoch", message: "Token has been revoked"}
)

type Authenticator struct {
	codec     *token.Codec
	blacklist Blacklist
	users     UserLookup
	public    PublicMatcher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func New(codec *token.Codec, blacklist Blacklist, users UserLookup, public PublicMatcher) *Authenticator {
	if public == nil {
		public = func(*http.Request) bool { return false }
	}
	return &Authenticator{
		codec:     codec,
		blacklist: blacklist,
		users:     users,
		public:    public,
		logger:    zap.NewNop(),
	}
}

func (a *Authenticator) WithObservability(logger *zap.Logger, metrics *observability.Metrics) *Authenticator {
	if logger != nil {
		a.logger = logger
	}
	a.metrics = metrics
	return a
}

// Middleware resolves the bearer token into an identity bound for the rest of
// the request. Requests without a token continue anonymously and are left to
// the route guard. A bad token is rejected unless the route is public.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := a.resolve(r.Context(), raw)
		if err != nil {
			var rej *rejection
			if !errors.As(err, &rej) {
				rej = &rejection{status: http.StatusInternalServerError, reason: "internal", message: "internal server error", err: err}
			}

			if a.public(r) {
				a.logger.Debug("public_route_token_ignored", zap.String("path", r.URL.Path), zap.String("reason", rej.reason))
				next.ServeHTTP(w, r)
				return
			}

			a.metrics.AuthRejected(rej.reason)
			if rej.err != nil {
				observability.CaptureError(r, rej.err)
				a.logger.Error("authentication_failed", zap.String("path", r.URL.Path), zap.Error(rej.err))
			} else {
				a.logger.Warn("authentication_rejected", zap.String("path", r.URL.Path), zap.String("reason", rej.reason))
			}
			httpx.WriteError(w, rej.status, rej.message)
			return
		}

		ctx, release := identity.Bind(r.Context(), id)
		defer release()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(ctx context.Context, raw string) (identity.Identity, error) {
	blacklisted, err := a.blacklist.IsBlacklisted(ctx, raw)
	if err != nil {
		return identity.Identity{}, &rejection{
			status:  http.StatusUnauthorized,
			reason:  "blacklist_unavailable",
			message: "Token could not be verified",
			err:     err,
		}
	}
	if blacklisted {
		return identity.Identity{}, rejectRevokedToken
	}

	claims, err := a.codec.Parse(raw, token.TypeAccess)
	if err != nil {
		return identity.Identity{}, rejectInvalidToken
	}

	u, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return identity.Identity{}, rejectUnknownUser
		}
		return identity.Identity{}, &rejection{
			status:  http.StatusUnauthorized,
			reason:  "lookup_failed",
			message: "Token could not be verified",
			err:     err,
		}
	}
	if u.Username != claims.Username {
		return identity.Identity{}, rejectUnknownUser
	}
	if u.TokenEpoch != claims.Epoch {
		return identity.Identity{}, rejectStaleEpoch
	}

	return identity.Identity{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Any other scheme counts as no token.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
