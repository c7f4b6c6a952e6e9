package routes

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"blog-serverless/internal/authz"
	"blog-serverless/internal/httpx"
	"blog-serverless/internal/ratelimit"
)

type segment struct {
	literal string
	param   string
}

type entry struct {
	route    Route
	segments []segment
	handler  http.Handler
}

// Table dispatches requests over a route catalog. Placeholders such as {id}
// match exactly one all-digit path segment.
type Table struct {
	entries  []*entry
	enforcer *authz.Enforcer
}

func NewTable(catalog []Route, enforcer *authz.Enforcer) *Table {
	if enforcer == nil {
		enforcer = authz.NewEnforcer(nil, nil)
	}

	t := &Table{enforcer: enforcer}
	for _, route := range catalog {
		t.entries = append(t.entries, &entry{route: route, segments: compile(route.Pattern)})
	}
	return t
}

func compile(pattern string) []segment {
	parts := splitPath(pattern)
	segments := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			segments[i] = segment{param: part[1 : len(part)-1]}
			continue
		}
		segments[i] = segment{literal: part}
	}
	return segments
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (e *entry) match(parts []string) (map[string]string, bool) {
	if len(parts) != len(e.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range e.segments {
		if seg.param == "" {
			if parts[i] != seg.literal {
				return nil, false
			}
			continue
		}
		if !isDigits(parts[i]) {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string, 1)
		}
		params[seg.param] = parts[i]
	}
	return params, true
}

// lookup returns the entry for r, or the methods the path does accept when
// only the method differs.
func (t *Table) lookup(r *http.Request) (*entry, map[string]string, []string) {
	parts := splitPath(r.URL.Path)

	var allowed []string
	for _, e := range t.entries {
		params, ok := e.match(parts)
		if !ok {
			continue
		}
		if e.route.Method == r.Method {
			return e, params, nil
		}
		allowed = append(allowed, e.route.Method)
	}
	return nil, nil, allowed
}

// Handle registers h for every route named name, wrapped in the guard its
// access level calls for. Unknown names panic like a conflicting ServeMux
// registration would.
func (t *Table) Handle(name string, h http.Handler) {
	found := false
	for _, e := range t.entries {
		if e.route.Name != name {
			continue
		}
		e.handler = t.guard(e.route, h)
		found = true
	}
	if !found {
		panic(fmt.Sprintf("routes: no route named %q", name))
	}
}

func (t *Table) HandleFunc(name string, h http.HandlerFunc) {
	t.Handle(name, h)
}

// HandleGroup registers h for every route in group.
func (t *Table) HandleGroup(group string, h http.Handler) {
	for _, e := range t.entries {
		if e.route.Group == group {
			e.handler = t.guard(e.route, h)
		}
	}
}

func (t *Table) guard(route Route, h http.Handler) http.Handler {
	switch route.Access {
	case Public:
		return h
	case RoleRestricted:
		return t.enforcer.RequireRole(route.Roles...)(h)
	default:
		return t.enforcer.RequireAuth(h)
	}
}

func (t *Table) Route(r *http.Request) (Route, bool) {
	e, _, _ := t.lookup(r)
	if e == nil {
		return Route{}, false
	}
	return e.route, true
}

func (t *Table) IsPublic(r *http.Request) bool {
	route, ok := t.Route(r)
	return ok && route.Access == Public
}

func (t *Table) Category(r *http.Request) ratelimit.Category {
	route, _ := t.Route(r)
	return route.Category
}

// Name labels r by route name for metrics.
func (t *Table) Name(r *http.Request) string {
	if route, ok := t.Route(r); ok {
		return route.Name
	}
	return "unmatched"
}

func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e, params, allowed := t.lookup(r)
	if e == nil {
		if len(allowed) > 0 {
			sort.Strings(allowed)
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		httpx.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if e.handler == nil {
		httpx.WriteError(w, http.StatusNotImplemented, "not implemented")
		return
	}

	for name, value := range params {
		r.SetPathValue(name, value)
	}
	e.handler.ServeHTTP(w, r)
}
