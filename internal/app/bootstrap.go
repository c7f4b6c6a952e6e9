package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"blog-serverless/internal/admin"
	"blog-serverless/internal/auth"
	"blog-serverless/internal/authn"
	"blog-serverless/internal/authz"
	"blog-serverless/internal/config"
	"blog-serverless/internal/db"
	"blog-serverless/internal/httpx"
	"blog-serverless/internal/maintenance"
	"blog-serverless/internal/observability"
	"blog-serverless/internal/passwordreset"
	"blog-serverless/internal/ratelimit"
	"blog-serverless/internal/routes"
	"blog-serverless/internal/session"
	"blog-serverless/internal/token"
	"blog-serverless/internal/user"
)

type Options struct {
	LoadDotEnv bool
	ConfigPath string
	// Config skips loading when set.
	Config        *config.Config
	RunMigrations bool
	// Content serves the post routes. Without it they answer 501.
	Content http.Handler
	// Redis overrides the client built from the configured URL.
	Redis  redis.UniversalClient
	Logger *zap.Logger
}

type Runtime struct {
	Handler http.Handler
	Runner  *maintenance.Runner
	Config  *config.Config
	Logger  *zap.Logger
	Close   func() error
}

type userStore interface {
	session.UserStore
	auth.UserStore
	admin.UserStore
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg := options.Config
	if cfg == nil {
		loaded, err := config.Load(options.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := options.Logger
	if logger == nil {
		built, err := observability.NewLogger(observability.LogConfig{
			Level:   cfg.Log.Level,
			Pretty:  cfg.Log.Pretty,
			Service: cfg.App.Name,
			Env:     cfg.App.Env,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		logger = built
	}

	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.App.Env); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	var closers []func() error
	closeAll := func() error {
		observability.FlushSentry()
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		_ = logger.Sync()
		return errors.Join(errs...)
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	var (
		database *sql.DB
		users    userStore
		resets   passwordreset.Store
	)
	if cfg.UsesPostgres() {
		var err error
		database, err = openDatabase(ctx, cfg.DB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, database.Close)

		if options.RunMigrations || cfg.DB.RunMigrations {
			if err := db.RunMigrations(ctx, database, logger); err != nil {
				return fail(fmt.Errorf("run migrations: %w", err))
			}
		}
		users = user.NewRepository(database)
		resets = passwordreset.NewPostgresStore(database)
	} else {
		logger.Warn("storage_in_memory", zap.String("reason", "DATABASE_URL not set"))
		users = user.NewMemoryRepository()
		resets = passwordreset.NewMemoryStore()
	}

	redisClient := options.Redis
	if redisClient == nil && cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fail(fmt.Errorf("parse redis url: %w", err))
		}
		client := redis.NewClient(redisOpts)
		closers = append(closers, client.Close)
		redisClient = client
	}
	if redisClient != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	codec, err := token.NewCodec(token.Config{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return fail(fmt.Errorf("init token codec: %w", err))
	}

	hasher, err := user.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fail(fmt.Errorf("init password hasher: %w", err))
	}

	var (
		blacklist session.Blacklist
		limits    ratelimit.Store
	)
	if redisClient != nil {
		blacklist = session.NewRedisBlacklist(redisClient, cfg.Redis.Prefix+":blacklist")
		limits = ratelimit.NewRedisStore(redisClient, cfg.Redis.Prefix+":ratelimit:")
	} else {
		blacklist = session.NewMemoryBlacklist()
		limits = ratelimit.NewMemoryStore()
	}

	sessions := session.NewManager(users, codec, blacklist).
		WithTTL(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL).
		WithObservability(logger, metrics)
	resetService := passwordreset.NewService(resets, users, hasher, sessions, logger).
		WithTTL(cfg.Auth.ResetTokenTTL)
	authService := auth.NewService(users, hasher, sessions, resetService, logger)

	if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	limiter := ratelimit.NewLimiter(limits, rulesFromConfig(cfg.RateLimit)).WithObservability(logger, metrics)

	runner := maintenance.NewRunner(logger, metrics,
		maintenance.Task{Name: "token_blacklist", Interval: cfg.Maintenance.BlacklistInterval, Sweep: sessions.Sweep},
		maintenance.Task{Name: "rate_limit", Interval: cfg.Maintenance.RateLimitInterval, Sweep: limiter.Sweep},
		maintenance.Task{Name: "password_reset", Interval: cfg.Maintenance.ResetInterval, Sweep: resetService.Sweep},
	)

	authHandler := auth.NewHandler(authService, logger, cfg.Auth.ExposeResetToken)
	adminHandler := admin.NewHandler(users, sessions, logger)
	cleanupHandler := maintenance.NewCleanupHandler(runner, logger, cfg.Maintenance.CronSecret)

	table := routes.NewTable(routes.API(), authz.NewEnforcer(logger, metrics))
	table.HandleFunc("auth.login", authHandler.Login)
	table.HandleFunc("auth.register", authHandler.Register)
	table.HandleFunc("auth.refresh", authHandler.Refresh)
	table.HandleFunc("auth.forgot_password", authHandler.ForgotPassword)
	table.HandleFunc("auth.reset_password", authHandler.ResetPassword)
	table.HandleFunc("auth.logout", authHandler.Logout)
	table.HandleFunc("auth.verify", authHandler.Verify)
	table.HandleFunc("users.me", authHandler.Me)
	table.HandleFunc("users.change_password", authHandler.ChangePassword)
	table.HandleFunc("admin.get_user", adminHandler.GetUser)
	table.HandleFunc("admin.delete_user", adminHandler.DeleteUser)
	table.HandleFunc("admin.update_role", adminHandler.UpdateRole)
	table.HandleFunc("admin.revoke_sessions", adminHandler.RevokeSessions)
	table.HandleFunc("health", healthHandler(database, redisClient))
	table.Handle("metrics", metrics.ProtectedHandler(cfg.Metrics.Token))
	table.HandleFunc("maintenance.cleanup", cleanupHandler.Handle)
	if options.Content != nil {
		table.HandleGroup(routes.GroupContent, options.Content)
	}

	authenticator := authn.New(codec, sessions, users, table.IsPublic).WithObservability(logger, metrics)

	var handler http.Handler = table
	handler = authenticator.Middleware(handler)
	handler = limiter.Middleware(table.Category)(handler)
	handler = observability.RequestLoggingMiddleware(logger, metrics, table.Name, handler)
	handler = observability.RecoverMiddleware(logger, handler)

	logger.Info("app_built",
		zap.String("env", cfg.App.Env),
		zap.Bool("postgres", database != nil),
		zap.Bool("redis", redisClient != nil),
	)

	return &Runtime{
		Handler: handler,
		Runner:  runner,
		Config:  cfg,
		Logger:  logger,
		Close:   closeAll,
	}, nil
}

func openDatabase(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetMaxIdleConns(cfg.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

func rulesFromConfig(cfg config.RateLimitConfig) ratelimit.Rules {
	rules := ratelimit.DefaultRules()
	rules.Login.Limit, rules.Login.Period = cfg.LoginLimit, cfg.LoginPeriod
	rules.Register.Limit, rules.Register.Period = cfg.RegisterLimit, cfg.RegisterPeriod
	rules.General.Limit, rules.General.Period = cfg.GeneralLimit, cfg.GeneralPeriod
	return rules
}

func healthHandler(database *sql.DB, redisClient redis.UniversalClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		state := "ok"
		if database != nil {
			if err := database.PingContext(ctx); err != nil {
				status, state = http.StatusServiceUnavailable, "degraded"
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status, state = http.StatusServiceUnavailable, "degraded"
			}
		}

		httpx.WriteJSON(w, status, map[string]any{"status": state, "time": time.Now().UTC().Format(time.RFC3339)})
	}
}
