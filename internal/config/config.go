package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Append gate backends. GateAuto uses the postgres row lock when the store is
// postgres and the in-process keyed gate otherwise.
const (
	GateAuto  = "auto"
	GateKeyed = "keyed"
	GateRedis = "redis"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store      StoreConfig
	Database   DatabaseConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Audit      AuditConfig
	Export     ExportConfig
	Log        LogConfig
	Metrics    bool
	SelfHosted bool
}

// StoreConfig selects where chains live and how appends are serialized.
type StoreConfig struct {
	Backend string
	Gate    string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis:
// no live feed and no distributed gate.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
	LockTTL  time.Duration
}

// JWTConfig holds collaborator token settings.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
	Issuer string
	TTL    time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// AuditConfig bounds the append critical section.
type AuditConfig struct {
	LockTimeout  time.Duration
	StoreTimeout time.Duration
}

type ExportConfig struct {
	Dir         string
	Environment string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("AUDITCHAIN_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("AUDITCHAIN_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("AUDITCHAIN_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockTTL, err := getEnvDuration("AUDITCHAIN_REDIS_LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tokenTTL, err := getEnvDuration("AUDITCHAIN_JWT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("AUDITCHAIN_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("AUDITCHAIN_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rps, err := getEnvFloat("AUDITCHAIN_RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("AUDITCHAIN_RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockTimeout, err := getEnvDuration("AUDITCHAIN_LOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	storeTimeout, err := getEnvDuration("AUDITCHAIN_STORE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	metrics, err := getEnvBool("AUDITCHAIN_METRICS_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("AUDITCHAIN_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("AUDITCHAIN_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("AUDITCHAIN_STORE", BackendPostgres)),
			Gate:    strings.ToLower(getEnv("AUDITCHAIN_GATE", GateAuto)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("AUDITCHAIN_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("AUDITCHAIN_DB_USER", "auditchain"),
			Password: getEnv("AUDITCHAIN_DB_PASSWORD", ""),
			DBName:   getEnv("AUDITCHAIN_DB_NAME", "auditchain_dev"),
			SSLMode:  getEnv("AUDITCHAIN_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		SQLite: SQLiteConfig{
			Path: getEnv("AUDITCHAIN_SQLITE_PATH", "auditchain.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("AUDITCHAIN_REDIS_ADDR", ""),
			Password: getEnv("AUDITCHAIN_REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  lockTTL,
		},
		JWT: JWTConfig{
			Secret: getEnv("AUDITCHAIN_JWT_SECRET", ""),
			Issuer: getEnv("AUDITCHAIN_JWT_ISSUER", "auditchain"),
			TTL:    tokenTTL,
		},
		Server: ServerConfig{
			Addr:           getEnv("AUDITCHAIN_SERVER_ADDR", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			CORSOrigins:    corsOrigins,
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Audit: AuditConfig{
			LockTimeout:  lockTimeout,
			StoreTimeout: storeTimeout,
		},
		Export: ExportConfig{
			Dir:         getEnv("AUDITCHAIN_EXPORT_DIR", "exports"),
			Environment: getEnv("AUDITCHAIN_ENVIRONMENT", "development"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("AUDITCHAIN_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("AUDITCHAIN_LOG_FORMAT", "json")),
		},
		Metrics:    metrics,
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("AUDITCHAIN_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("AUDITCHAIN_JWT_SECRET must be at least 32 characters")
	}

	switch c.Store.Backend {
	case BackendPostgres:
		// DB SSL mode warning for non-self-hosted deployments.
		if c.Database.SSLMode == "disable" && !c.SelfHosted {
			log.Warn().Msg("AUDITCHAIN_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("AUDITCHAIN_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("AUDITCHAIN_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			return errors.New("AUDITCHAIN_SQLITE_PATH is required for the sqlite store")
		}
	case BackendMemory:
		log.Warn().Msg("AUDITCHAIN_STORE=memory keeps chains in process memory only; nothing survives a restart")
	default:
		return fmt.Errorf("AUDITCHAIN_STORE must be postgres, sqlite or memory, got %q", c.Store.Backend)
	}

	switch c.Store.Gate {
	case GateAuto, GateKeyed:
	case GateRedis:
		if c.Redis.Addr == "" {
			return errors.New("AUDITCHAIN_GATE=redis requires AUDITCHAIN_REDIS_ADDR")
		}
		if c.Redis.LockTTL <= c.Audit.StoreTimeout {
			return fmt.Errorf("AUDITCHAIN_REDIS_LOCK_TTL (%s) must exceed AUDITCHAIN_STORE_TIMEOUT (%s)", c.Redis.LockTTL, c.Audit.StoreTimeout)
		}
	default:
		return fmt.Errorf("AUDITCHAIN_GATE must be auto, keyed or redis, got %q", c.Store.Gate)
	}

	// Bounds checks.
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("AUDITCHAIN_JWT_TTL must be positive, got %s", c.JWT.TTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("AUDITCHAIN_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("AUDITCHAIN_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("AUDITCHAIN_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("AUDITCHAIN_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}
	if c.Audit.LockTimeout <= 0 {
		return fmt.Errorf("AUDITCHAIN_LOCK_TIMEOUT must be positive, got %s", c.Audit.LockTimeout)
	}
	if c.Audit.StoreTimeout < 0 {
		return fmt.Errorf("AUDITCHAIN_STORE_TIMEOUT must not be negative, got %s", c.Audit.StoreTimeout)
	}
	if strings.TrimSpace(c.Export.Dir) == "" {
		return errors.New("AUDITCHAIN_EXPORT_DIR must not be empty")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("AUDITCHAIN_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("AUDITCHAIN_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
