package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Session        SessionConfig
	Agent          AgentConfig
	RateLimit      RateLimitConfig
	SessionCleaner SessionCleanerConfig
	Migrate        bool
	HTTPAddr       string
	Env            string
}

// DatabaseConfig holds PostgreSQL configuration. The pool is kept small
// on purpose: several service instances may share one database, so the
// oversubscription risk is at the database, not in-process.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnectRetries  int
	RetryIntervalMs int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	RefreshExpireDays        int
	InactivityTimeoutMinutes int
}

// AgentConfig holds agent script distribution configuration
type AgentConfig struct {
	ScriptDir string
}

// RateLimitConfig holds HTTP rate limiter configuration
type RateLimitConfig struct {
	Enabled          bool
	RequestsPerMin   int
	AgentPerMin      int
	EnrollmentPerMin int
}

// SessionCleanerConfig holds session cleanup worker configuration
type SessionCleanerConfig struct {
	Enabled     bool
	IntervalSec int
}

// IsDevelopment reports whether the server runs in development mode;
// 500 responses carry detailed messages only in development.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnectRetries:  getEnvInt("DB_CONNECT_RETRIES", 5),
			RetryIntervalMs: getEnvInt("DB_RETRY_INTERVAL_MS", 2000),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 60),
			Issuer:        getEnv("JWT_ISSUER", "patchwatch"),
		},
		Session: SessionConfig{
			RefreshExpireDays:        getEnvInt("JWT_REFRESH_EXPIRE_DAYS", 7),
			InactivityTimeoutMinutes: getEnvInt("SESSION_INACTIVITY_TIMEOUT_MINUTES", 30),
		},
		Agent: AgentConfig{
			ScriptDir: getEnv("AGENT_SCRIPT_DIR", "./agents"),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getEnv("RATE_LIMIT_ENABLED", "1") == "1",
			RequestsPerMin:   getEnvInt("RATE_LIMIT_PER_MIN", 300),
			AgentPerMin:      getEnvInt("RATE_LIMIT_AGENT_PER_MIN", 30),
			EnrollmentPerMin: getEnvInt("RATE_LIMIT_ENROLLMENT_PER_MIN", 20),
		},
		SessionCleaner: SessionCleanerConfig{
			Enabled:     getEnv("SESSION_CLEANER_ENABLED", "1") == "1",
			IntervalSec: getEnvInt("SESSION_CLEANER_INTERVAL_SEC", 86400),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Env:      getEnv("APP_ENV", "development"),
	}

	// Validate required fields
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		Database: DatabaseConfig{
			DSN:             getValue("DATABASE_DSN", "database", "dsn", ""),
			MaxOpenConns:    getValueInt("DB_MAX_OPEN_CONNS", "database", "max_open_conns", 10),
			MaxIdleConns:    getValueInt("DB_MAX_IDLE_CONNS", "database", "max_idle_conns", 5),
			ConnectRetries:  getValueInt("DB_CONNECT_RETRIES", "database", "connect_retries", 5),
			RetryIntervalMs: getValueInt("DB_RETRY_INTERVAL_MS", "database", "retry_interval_ms", 2000),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 60),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "patchwatch"),
		},
		Session: SessionConfig{
			RefreshExpireDays:        getValueInt("JWT_REFRESH_EXPIRE_DAYS", "session", "refresh_expire_days", 7),
			InactivityTimeoutMinutes: getValueInt("SESSION_INACTIVITY_TIMEOUT_MINUTES", "session", "inactivity_timeout_minutes", 30),
		},
		Agent: AgentConfig{
			ScriptDir: getValue("AGENT_SCRIPT_DIR", "agent", "script_dir", "./agents"),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getValueBool("RATE_LIMIT_ENABLED", "rate_limit", "enabled", true),
			RequestsPerMin:   getValueInt("RATE_LIMIT_PER_MIN", "rate_limit", "requests_per_min", 300),
			AgentPerMin:      getValueInt("RATE_LIMIT_AGENT_PER_MIN", "rate_limit", "agent_per_min", 30),
			EnrollmentPerMin: getValueInt("RATE_LIMIT_ENROLLMENT_PER_MIN", "rate_limit", "enrollment_per_min", 20),
		},
		SessionCleaner: SessionCleanerConfig{
			Enabled:     getValueBool("SESSION_CLEANER_ENABLED", "session_cleaner", "enabled", true),
			IntervalSec: getValueInt("SESSION_CLEANER_INTERVAL_SEC", "session_cleaner", "interval_sec", 86400),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
		Env:      getValue("APP_ENV", "app", "env", "development"),
	}

	// Validate required fields
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}
