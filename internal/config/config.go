package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "BioSync"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultUploadRate      = 60
	defaultQueueAttempts   = 5
	defaultAuditBuffer     = 256
	defaultAuditStream     = "audit:sync"
	devSessionSecret       = "dev-session-secret"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName          string
	AppEnv           string
	Port             string
	LogLevel         string
	DatabaseURL      string
	RedisURL         string
	ShutdownPeriod   time.Duration
	IdempotencyTTL   time.Duration
	SessionSecret    string
	UploadRatePerMin int
	QueueMaxAttempts int
	AuditBuffer      int
	AuditStream      string
	MigrateOnStart   bool
}

// Load reads configuration values from the environment and populates a Config instance.
// Outside development DATABASE_URL, REDIS_URL and SESSION_SECRET are mandatory; in
// development a missing datastore selects the in-memory backends.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		AuditStream:    getEnv("AUDIT_STREAM", defaultAuditStream),
	}

	var err error
	if cfg.ShutdownPeriod, err = duration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.UploadRatePerMin, err = positiveInt("UPLOAD_RATE_PER_MIN", defaultUploadRate); err != nil {
		return Config{}, err
	}
	if cfg.QueueMaxAttempts, err = positiveInt("QUEUE_MAX_ATTEMPTS", defaultQueueAttempts); err != nil {
		return Config{}, err
	}
	if cfg.AuditBuffer, err = positiveInt("AUDIT_BUFFER", defaultAuditBuffer); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIGRATE_ON_START: %w", err)
		}
		cfg.MigrateOnStart = b
	}

	if cfg.IsDevelopment() {
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = devSessionSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET must be set")
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev" || c.AppEnv == "test"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// duration reads whole seconds from secondsKey, else a Go duration from durationKey.
func duration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func positiveInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
