package routes

import (
	"blog-serverless/internal/ratelimit"
	"blog-serverless/internal/user"
)

type Access int

const (
	Authenticated Access = iota
	Public
	RoleRestricted
)

// GroupContent marks routes served by the injected content handler.
const GroupContent = "content"

type Route struct {
	Name     string
	Method   string
	Pattern  string
	Access   Access
	Roles    []user.Role
	Category ratelimit.Category
	Group    string
}

func admin(name, method, pattern string) Route {
	return Route{Name: name, Method: method, Pattern: pattern, Access: RoleRestricted, Roles: []user.Role{user.RoleAdmin}}
}

func content(name, method, pattern string, access Access) Route {
	return Route{Name: name, Method: method, Pattern: pattern, Access: access, Group: GroupContent}
}

// API is the full route catalog. It is the only place that decides whether a
// route is public, which rate-limit category it counts against and which
// guard wraps its handler.
func API() []Route {
	return []Route{
		{Name: "auth.login", Method: "POST", Pattern: "/api/auth/login", Access: Public, Category: ratelimit.CategoryLogin},
		{Name: "auth.register", Method: "POST", Pattern: "/api/auth/register", Access: Public, Category: ratelimit.CategoryRegister},
		{Name: "auth.refresh", Method: "POST", Pattern: "/api/auth/refresh", Access: Public},
		{Name: "auth.forgot_password", Method: "POST", Pattern: "/api/auth/forgot-password", Access: Public},
		{Name: "auth.reset_password", Method: "POST", Pattern: "/api/auth/reset-password", Access: Public},
		{Name: "auth.logout", Method: "POST", Pattern: "/api/auth/logout"},
		{Name: "auth.verify", Method: "GET", Pattern: "/api/auth/verify"},
		{Name: "users.me", Method: "GET", Pattern: "/api/users/me"},
		{Name: "users.change_password", Method: "PUT", Pattern: "/api/users/me/password"},

		content("posts.list", "GET", "/api/Posts", Public),
		content("posts.search", "GET", "/api/Posts/search", Authenticated),
		content("posts.get", "GET", "/api/Posts/{id}", Public),
		content("posts.by_user", "GET", "/api/Posts/user/{id}", Public),
		content("posts.comments", "GET", "/api/Posts/{id}/comments", Public),
		content("posts.likes", "GET", "/api/Posts/{id}/likes", Public),
		content("posts.create", "POST", "/api/Posts/create", Authenticated),
		content("posts.update", "PUT", "/api/Posts/{id}", Authenticated),
		content("posts.delete", "DELETE", "/api/Posts/{id}", Authenticated),
		content("posts.like", "POST", "/api/Posts/{id}/like", Authenticated),
		content("posts.comment", "POST", "/api/Posts/{id}/comments", Authenticated),

		admin("admin.get_user", "GET", "/api/admin/users/{id}"),
		admin("admin.delete_user", "DELETE", "/api/admin/users/{id}"),
		admin("admin.update_role", "PUT", "/api/admin/users/{id}/role"),
		admin("admin.revoke_sessions", "POST", "/api/admin/users/{id}/revoke"),

		{Name: "health", Method: "GET", Pattern: "/health", Access: Public},
		{Name: "metrics", Method: "GET", Pattern: "/metrics", Access: Public},
		{Name: "maintenance.cleanup", Method: "GET", Pattern: "/internal/maintenance/cleanup", Access: Public},
		{Name: "maintenance.cleanup", Method: "POST", Pattern: "/internal/maintenance/cleanup", Access: Public},
	}
}
