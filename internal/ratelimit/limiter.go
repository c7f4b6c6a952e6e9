package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"blog-serverless/internal/httpx"
	"blog-serverless/internal/observability"
)

type Category string

const (
	CategoryLogin    Category = "login"
	CategoryRegister Category = "register"
	CategoryGeneral  Category = "general"
)

type Rule struct {
	Limit   int64
	Period  time.Duration
	Message string
}

type Rules struct {
	Login    Rule
	Register Rule
	General  Rule
}

func DefaultRules() Rules {
	return Rules{
		Login:    Rule{Limit: 5, Period: time.Minute, Message: "Too many login attempts. Please try again in a minute."},
		Register: Rule{Limit: 3, Period: time.Hour, Message: "Too many registration attempts. Please try again later."},
		General:  Rule{Limit: 100, Period: time.Minute, Message: "Too many requests. Please slow down."},
	}
}

// Classifier returns the specific category of a request, or "" when only the
// general limit applies.
type Classifier func(r *http.Request) Category

type Decision struct {
	Allowed    bool
	Category   Category
	Count      int64
	RetryAfter time.Duration
}

type Limiter struct {
	store   Store
	rules   Rules
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewLimiter(store Store, rules Rules) *Limiter {
	defaults := DefaultRules()
	rules.Login = withDefaults(rules.Login, defaults.Login)
	rules.Register = withDefaults(rules.Register, defaults.Register)
	rules.General = withDefaults(rules.General, defaults.General)

	return &Limiter{store: store, rules: rules, logger: zap.NewNop()}
}

func withDefaults(rule, fallback Rule) Rule {
	if rule.Limit <= 0 {
		rule.Limit = fallback.Limit
	}
	if rule.Period <= 0 {
		rule.Period = fallback.Period
	}
	if rule.Message == "" {
		rule.Message = fallback.Message
	}
	return rule
}

func (l *Limiter) WithObservability(logger *zap.Logger, metrics *observability.Metrics) *Limiter {
	if logger != nil {
		l.logger = logger
	}
	l.metrics = metrics
	return l
}

func (l *Limiter) rule(category Category) (Rule, bool) {
	switch category {
	case CategoryLogin:
		return l.rules.Login, true
	case CategoryRegister:
		return l.rules.Register, true
	case CategoryGeneral:
		return l.rules.General, true
	default:
		return Rule{}, false
	}
}

// Allow records one hit for clientIP in category and reports whether it is
// within the limit.
func (l *Limiter) Allow(ctx context.Context, category Category, clientIP string) (Decision, error) {
	rule, ok := l.rule(category)
	if !ok {
		return Decision{Allowed: true, Category: category}, nil
	}

	count, resetIn, err := l.store.Hit(ctx, string(category)+":"+clientIP, rule.Period)
	if err != nil {
		return Decision{Allowed: true, Category: category}, err
	}

	return Decision{
		Allowed:    count <= rule.Limit,
		Category:   category,
		Count:      count,
		RetryAfter: resetIn,
	}, nil
}

// Middleware applies the request's specific category first and then the
// general limit. A failing store lets the request through.
func (l *Limiter) Middleware(classify Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			categories := []Category{CategoryGeneral}
			if classify != nil {
				if c := classify(r); c != "" && c != CategoryGeneral {
					categories = []Category{c, CategoryGeneral}
				}
			}

			for _, category := range categories {
				decision, err := l.Allow(r.Context(), category, ip)
				if err != nil {
					l.logger.Error("ratelimit_store_failed", zap.String("category", string(category)), zap.Error(err))
					continue
				}
				if !decision.Allowed {
					l.reject(w, r, decision, ip)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) reject(w http.ResponseWriter, r *http.Request, decision Decision, ip string) {
	rule, _ := l.rule(decision.Category)

	l.metrics.RateLimited(string(decision.Category))
	l.logger.Warn("rate_limit_exceeded",
		zap.String("category", string(decision.Category)),
		zap.String("ip", ip),
		zap.String("path", r.URL.Path),
	)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
	httpx.WriteStatusError(w, http.StatusTooManyRequests, rule.Message)
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Sweep drops windows older than their period.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	removed, err := l.store.Sweep(ctx)
	return int64(removed), err
}

// ClientIP prefers the first X-Forwarded-For entry, then X-Real-IP, then the
// socket address without its port.
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
