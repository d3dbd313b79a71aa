package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-lifecycle-secret"

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Security   SecurityConfig   `mapstructure:"security"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Recurrence RecurrenceConfig `mapstructure:"recurrence"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
	ApproverRoles      []string      `mapstructure:"approver_roles"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ReconcileConfig controls the timer recovery sweep.
type ReconcileConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	SessionCap time.Duration `mapstructure:"session_cap"`
	// Schedule is a cron spec; empty disables scheduled commits.
	Schedule string        `mapstructure:"schedule"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// RecurrenceConfig controls the recurring task sweep.
type RecurrenceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timezone      string        `mapstructure:"timezone"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// NotifyConfig controls where lifecycle instructions are published.
type NotifyConfig struct {
	Channel      string `mapstructure:"channel"`
	RedisEnabled bool   `mapstructure:"redis_enabled"`
}

// Load loads configuration from the environment, an optional .env file and
// an optional config file (yaml, json or toml).
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvVars(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "lifecycle")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "lifecycle")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "30s")
	v.SetDefault("database.migrations_path", "migrations")

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// JWT defaults
	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.expires_in", "24h")
	v.SetDefault("jwt.issuer", "lifecycle-api")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.filename", "")

	// Security defaults
	v.SetDefault("security.cors_allowed_origins", "*")
	v.SetDefault("security.rate_limit_requests", 100)
	v.SetDefault("security.rate_limit_window", "1m")
	v.SetDefault("security.approver_roles", []string{"admin", "project_manager", "team_lead"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Reconcile defaults
	v.SetDefault("reconcile.batch_size", 200)
	v.SetDefault("reconcile.session_cap", "24h")
	v.SetDefault("reconcile.schedule", "")
	v.SetDefault("reconcile.lock_ttl", "10m")

	// Recurrence defaults
	v.SetDefault("recurrence.enabled", true)
	v.SetDefault("recurrence.timezone", "UTC")
	v.SetDefault("recurrence.sweep_schedule", "5 0 * * *")
	v.SetDefault("recurrence.lock_ttl", "10m")

	// Notify defaults
	v.SetDefault("notify.channel", "lifecycle.events")
	v.SetDefault("notify.redis_enabled", false)
}

func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"app.name":        "APP_NAME",
		"app.version":     "APP_VERSION",
		"app.environment": "APP_ENVIRONMENT",
		"app.debug":       "APP_DEBUG",

		"server.port":             "SERVER_PORT",
		"server.host":             "SERVER_HOST",
		"server.read_timeout":     "SERVER_READ_TIMEOUT",
		"server.write_timeout":    "SERVER_WRITE_TIMEOUT",
		"server.idle_timeout":     "SERVER_IDLE_TIMEOUT",
		"server.shutdown_timeout": "SERVER_SHUTDOWN_TIMEOUT",

		"database.host":               "DB_HOST",
		"database.port":               "DB_PORT",
		"database.name":               "DB_NAME",
		"database.user":               "DB_USER",
		"database.password":           "DB_PASSWORD",
		"database.ssl_mode":           "DB_SSL_MODE",
		"database.max_open_conns":     "DB_MAX_OPEN_CONNS",
		"database.max_idle_conns":     "DB_MAX_IDLE_CONNS",
		"database.conn_max_lifetime":  "DB_CONN_MAX_LIFETIME",
		"database.conn_max_idle_time": "DB_CONN_MAX_IDLE_TIME",
		"database.migrations_path":    "DB_MIGRATIONS_PATH",

		"redis.enabled":  "REDIS_ENABLED",
		"redis.host":     "REDIS_HOST",
		"redis.port":     "REDIS_PORT",
		"redis.password": "REDIS_PASSWORD",
		"redis.db":       "REDIS_DB",

		"jwt.secret":     "JWT_SECRET",
		"jwt.expires_in": "JWT_EXPIRES_IN",
		"jwt.issuer":     "JWT_ISSUER",

		"logger.level":    "LOG_LEVEL",
		"logger.format":   "LOG_FORMAT",
		"logger.output":   "LOG_OUTPUT",
		"logger.filename": "LOG_FILENAME",

		"security.cors_allowed_origins": "CORS_ALLOWED_ORIGINS",
		"security.rate_limit_requests":  "RATE_LIMIT_REQUESTS",
		"security.rate_limit_window":    "RATE_LIMIT_WINDOW",

		"metrics.enabled": "ENABLE_METRICS",
		"metrics.path":    "METRICS_PATH",

		"reconcile.batch_size":  "RECONCILE_BATCH_SIZE",
		"reconcile.session_cap": "RECONCILE_SESSION_CAP",
		"reconcile.schedule":    "RECONCILE_SCHEDULE",
		"reconcile.lock_ttl":    "RECONCILE_LOCK_TTL",

		"recurrence.enabled":        "RECURRENCE_ENABLED",
		"recurrence.timezone":       "RECURRENCE_TIMEZONE",
		"recurrence.sweep_schedule": "RECURRENCE_SWEEP_SCHEDULE",
		"recurrence.lock_ttl":       "RECURRENCE_LOCK_TTL",

		"notify.channel":       "NOTIFY_CHANNEL",
		"notify.redis_enabled": "NOTIFY_REDIS_ENABLED",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}

	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}

	if cfg.App.IsProduction() && (cfg.JWT.Secret == "" || cfg.JWT.Secret == defaultJWTSecret) {
		return errors.New("JWT secret must be set and should not use default value")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	if cfg.Reconcile.BatchSize <= 0 {
		return errors.New("reconcile batch size must be positive")
	}

	if cfg.Reconcile.SessionCap <= 0 || cfg.Reconcile.SessionCap > 24*time.Hour {
		return errors.New("reconcile session cap must be within (0, 24h]")
	}

	if _, err := cfg.Recurrence.Location(); err != nil {
		return fmt.Errorf("recurrence timezone: %w", err)
	}

	if cfg.Notify.RedisEnabled && !cfg.Redis.Enabled {
		return errors.New("notify.redis_enabled requires redis.enabled")
	}

	return nil
}

// GetDSN returns the database connection string
func (cfg *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// GetAddr returns the Redis address
func (cfg *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Location resolves the sweep timezone.
func (cfg *RecurrenceConfig) Location() (*time.Location, error) {
	if cfg.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(cfg.Timezone)
}

// IsDevelopment returns true if the environment is development
func (cfg *AppConfig) IsDevelopment() bool {
	return cfg.Environment == "development"
}

// IsProduction returns true if the environment is production
func (cfg *AppConfig) IsProduction() bool {
	return cfg.Environment == "production"
}
