// Package identity carries the authenticated caller through a request.
//
// The identity lives in a holder stored in the request context. Bind returns
// a release func that empties the holder, so a context retained past the end
// of its request (a leaked goroutine, a deferred log call) reads as anonymous.
package identity

import (
	"context"
	"strings"
	"sync"

	"blog-serverless/internal/user"
)

type Identity struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Role      user.Role
}

func (i Identity) FullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

type holder struct {
	mu  sync.RWMutex
	id  Identity
	set bool
}

type ctxKey struct{}

// Bind attaches id to ctx. The caller must invoke release once the request is
// done, typically with defer so it also runs when the handler panics.
func Bind(ctx context.Context, id Identity) (context.Context, func()) {
	h := &holder{id: id, set: true}
	release := func() {
		h.mu.Lock()
		h.id = Identity{}
		h.set = false
		h.mu.Unlock()
	}
	return context.WithValue(ctx, ctxKey{}, h), release
}

func FromContext(ctx context.Context) (Identity, bool) {
	h, ok := ctx.Value(ctxKey{}).(*holder)
	if !ok || h == nil {
		return Identity{}, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id, h.set
}

func IsAuthenticated(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

func UserID(ctx context.Context) (int64, bool) {
	id, ok := FromContext(ctx)
	return id.UserID, ok
}

func HasRole(ctx context.Context, role user.Role) bool {
	id, ok := FromContext(ctx)
	return ok && role != "" && id.Role == role
}

func IsAdmin(ctx context.Context) bool {
	return HasRole(ctx, user.RoleAdmin)
}
