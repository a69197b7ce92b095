package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds process configuration resolved from the environment.
type Config struct {
	Env               string
	HTTPAddr          string
	GRPCAddr          string
	PostgresDSN       string
	RedisAddr         string
	RedisPassword     string
	AuthSecret        string
	TokenTTL          time.Duration
	APIRateLimit      int
	APIRateWindow     time.Duration
	IPRateBurst       int
	IPRatePerSecond   int
	TaskConcurrency   int64
	ComplianceCatalog string
	Version           string
}

// Production reports whether the process runs with production settings.
func (c *Config) Production() bool { return c.Env == "production" }

// Load reads configuration from the environment. Outside production a .env
// file in the working directory is loaded first when present.
func Load() (*Config, error) {
	env := strings.TrimSpace(os.Getenv("NORRUVA_ENV"))
	if env == "" {
		env = "development"
	}
	if env != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{
		Env:               env,
		HTTPAddr:          getenv("NORRUVA_HTTP_ADDR", ":8080"),
		GRPCAddr:          getenv("NORRUVA_GRPC_ADDR", ":9090"),
		PostgresDSN:       os.Getenv("NORRUVA_PG_DSN"),
		RedisAddr:         os.Getenv("NORRUVA_REDIS_ADDR"),
		RedisPassword:     os.Getenv("NORRUVA_REDIS_PASSWORD"),
		AuthSecret:        strings.TrimSpace(os.Getenv("NORRUVA_AUTH_SECRET")),
		ComplianceCatalog: os.Getenv("NORRUVA_COMPLIANCE_CATALOG"),
		Version:           getenv("NORRUVA_VERSION", "dev"),
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("NORRUVA_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.APIRateWindow, err = durationEnv("NORRUVA_API_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.APIRateLimit, err = intEnv("NORRUVA_API_RATE_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.IPRateBurst, err = intEnv("NORRUVA_IP_RATE_BURST", 50); err != nil {
		return nil, err
	}
	if cfg.IPRatePerSecond, err = intEnv("NORRUVA_IP_RATE_PER_SECOND", 20); err != nil {
		return nil, err
	}
	concurrency, err := intEnv("NORRUVA_TASK_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	cfg.TaskConcurrency = int64(concurrency)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Production() && c.AuthSecret == "" {
		return fmt.Errorf("%w: NORRUVA_AUTH_SECRET is required in production", ErrInvalid)
	}
	if c.APIRateLimit <= 0 {
		return fmt.Errorf("%w: NORRUVA_API_RATE_LIMIT must be > 0", ErrInvalid)
	}
	if c.APIRateWindow <= 0 {
		return fmt.Errorf("%w: NORRUVA_API_RATE_WINDOW must be > 0", ErrInvalid)
	}
	if c.TaskConcurrency <= 0 {
		return fmt.Errorf("%w: NORRUVA_TASK_CONCURRENCY must be > 0", ErrInvalid)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: NORRUVA_TOKEN_TTL must be > 0", ErrInvalid)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, raw)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, raw)
	}
	return v, nil
}
