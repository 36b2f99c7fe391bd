package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig is the process-level configuration loaded from the
// environment at startup.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string
	AdminSecret     string
	MaxSessions     int
	ShutdownTimeout time.Duration
	LogLevel        string
	CleanupAge      time.Duration
	StateDir        string
}

// LoadServerConfig reads the server configuration from the environment,
// optionally seeded from a .env file.
func LoadServerConfig(envFile string) (ServerConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return ServerConfig{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := ServerConfig{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		MaxSessions:     envIntOr("MAX_SESSIONS", 50),
		ShutdownTimeout: envDurationOr("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		CleanupAge:      envDurationOr("SESSION_CLEANUP_AGE", time.Hour),
		StateDir:        envOr("STATE_DIR", "data/state"),
	}

	if cfg.AdminSecret == "" {
		return ServerConfig{}, fmt.Errorf("ADMIN_SECRET is required")
	}
	if cfg.MaxSessions <= 0 {
		return ServerConfig{}, fmt.Errorf("MAX_SESSIONS must be positive, got %d", cfg.MaxSessions)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
