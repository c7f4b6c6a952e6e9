// Package config loads runtime settings from defaults, an optional YAML file
// and the environment. Nested keys map to env vars with "." replaced by "_"
// (auth.access_ttl -> AUTH_ACCESS_TTL); the deployment names used by the
// hosting platform (DATABASE_URL, JWT_SECRET, CRON_SECRET, ...) are bound
// explicitly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minSecretLength = 32

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DBConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	Issuer           string        `mapstructure:"issuer"`
	AccessTTL        time.Duration `mapstructure:"access_ttl"`
	RefreshTTL       time.Duration `mapstructure:"refresh_ttl"`
	Leeway           time.Duration `mapstructure:"leeway"`
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	ResetTokenTTL    time.Duration `mapstructure:"reset_token_ttl"`
	ExposeResetToken bool          `mapstructure:"expose_reset_token"`
	AdminUsername    string        `mapstructure:"admin_username"`
	AdminPassword    string        `mapstructure:"admin_password"`
}

type RateLimitConfig struct {
	LoginLimit     int64         `mapstructure:"login_limit"`
	LoginPeriod    time.Duration `mapstructure:"login_period"`
	RegisterLimit  int64         `mapstructure:"register_limit"`
	RegisterPeriod time.Duration `mapstructure:"register_period"`
	GeneralLimit   int64         `mapstructure:"general_limit"`
	GeneralPeriod  time.Duration `mapstructure:"general_period"`
}

type MaintenanceConfig struct {
	CronSecret        string        `mapstructure:"cron_secret"`
	BlacklistInterval time.Duration `mapstructure:"blacklist_interval"`
	RateLimitInterval time.Duration `mapstructure:"ratelimit_interval"`
	ResetInterval     time.Duration `mapstructure:"reset_interval"`
}

// MetricsConfig guards /metrics. With no token the endpoint answers 404.
type MetricsConfig struct {
	Token string `mapstructure:"token"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// UsesPostgres is false when no database URL is configured; the service then
// keeps users and reset tokens in memory.
func (c *Config) UsesPostgres() bool {
	return c.DB.URL != ""
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetDefault("app.name", "blog-api")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("db.url", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "10m")
	v.SetDefault("db.run_migrations", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.prefix", "blog")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "BlogApplication")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.leeway", "0s")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.reset_token_ttl", "60m")
	v.SetDefault("auth.expose_reset_token", false)
	v.SetDefault("auth.admin_username", "")
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("ratelimit.login_limit", 5)
	v.SetDefault("ratelimit.login_period", "1m")
	v.SetDefault("ratelimit.register_limit", 3)
	v.SetDefault("ratelimit.register_period", "1h")
	v.SetDefault("ratelimit.general_limit", 100)
	v.SetDefault("ratelimit.general_period", "1m")

	v.SetDefault("maintenance.cron_secret", "")
	v.SetDefault("maintenance.blacklist_interval", "1h")
	v.SetDefault("maintenance.ratelimit_interval", "5m")
	v.SetDefault("maintenance.reset_interval", "1h")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("metrics.token", "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"app.env":                 {"APP_ENV"},
		"app.port":                {"PORT", "APP_PORT"},
		"db.url":                  {"DATABASE_URL", "DB_URL"},
		"db.max_open_conns":       {"DB_MAX_OPEN_CONNS"},
		"db.max_idle_conns":       {"DB_MAX_IDLE_CONNS"},
		"db.run_migrations":       {"RUN_MIGRATIONS_ON_STARTUP", "DB_RUN_MIGRATIONS"},
		"redis.url":               {"REDIS_URL"},
		"auth.jwt_secret":         {"JWT_SECRET", "AUTH_JWT_SECRET"},
		"auth.admin_username":     {"ADMIN_USERNAME"},
		"auth.admin_password":     {"ADMIN_PASSWORD"},
		"maintenance.cron_secret": {"CRON_SECRET"},
		"sentry.dsn":              {"SENTRY_DSN"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("config: JWT_SECRET must be at least %d bytes", minSecretLength))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("config: token ttls must be positive"))
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		errs = append(errs, errors.New("config: access ttl must be shorter than refresh ttl"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("config: auth.bcrypt_cost must be between 4 and 31"))
	}
	if c.RateLimit.LoginLimit <= 0 || c.RateLimit.RegisterLimit <= 0 || c.RateLimit.GeneralLimit <= 0 {
		errs = append(errs, errors.New("config: rate limits must be positive"))
	}
	if c.IsProduction() {
		if !c.UsesPostgres() {
			errs = append(errs, errors.New("config: DATABASE_URL is required in production"))
		}
		if c.Auth.ExposeResetToken {
			errs = append(errs, errors.New("config: auth.expose_reset_token must not be enabled in production"))
		}
	}

	return errors.Join(errs...)
}
