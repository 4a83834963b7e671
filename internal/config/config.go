package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RunMigrations          bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	HistoryCacheTTLSeconds int
	LogLevel               string
	SeedDemoCatalog        bool
	ShutdownTimeoutSeconds int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("HISTORY_CACHE_TTL_SECONDS", 60)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SEED_DEMO_CATALOG", true)
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 8)
	v.AutomaticEnv()

	ttl := v.GetInt("HISTORY_CACHE_TTL_SECONDS")
	if ttl < 1 {
		ttl = 60
	}
	shutdown := v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")
	if shutdown < 1 {
		shutdown = 8
	}

	return Config{
		Port:                   strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:          v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		HistoryCacheTTLSeconds: ttl,
		LogLevel:               strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		SeedDemoCatalog:        v.GetBool("SEED_DEMO_CATALOG"),
		ShutdownTimeoutSeconds: shutdown,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) HistoryCacheTTL() time.Duration {
	return time.Duration(c.HistoryCacheTTLSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative")
	}
	return nil
}
