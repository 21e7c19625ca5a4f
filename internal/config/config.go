package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envPrefix is prepended to every variable name in Config's tags.
const envPrefix = "SMTBRIDGE_"

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed
	// into Config.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrInvalidConfig is returned when parsed values are out of range.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string     `env:"LISTEN_ADDR" envDefault:":8080"`
	DBPath       string     `env:"DB_PATH" envDefault:"smtbridge.db"`
	LogLevelName string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level `env:"-"`

	// Workers is the bridge pool size. Zero selects GOMAXPROCS capped at 4.
	Workers int `env:"WORKERS" envDefault:"0"`

	CacheKind     string        `env:"CACHE" envDefault:"memory"`
	CacheCapacity int           `env:"CACHE_CAPACITY" envDefault:"1024"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	RedisURL            string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisRetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RedisRetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"1s"`
	RedisConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"10s"`

	// SolverProfile is an optional YAML file with default solver options.
	SolverProfile   string `env:"SOLVER_PROFILE"`
	DefaultTimeoutS int    `env:"DEFAULT_TIMEOUT_S" envDefault:"30"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// LoadEnv loads variables from the given .env files into the process
// environment. Variables that are already set keep their value.
func LoadEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads configuration from SMTBRIDGE_* environment variables with
// sensible defaults. A .env file in the working directory is applied first
// when present.
func Load() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	case c.DefaultTimeoutS <= 0:
		return fmt.Errorf("%w: default timeout must be positive", ErrInvalidConfig)
	case c.CacheCapacity <= 0:
		return fmt.Errorf("%w: cache capacity must be positive", ErrInvalidConfig)
	}
	switch c.CacheKind {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown cache kind %q", ErrInvalidConfig, c.CacheKind)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
