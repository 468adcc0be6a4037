// Package config loads server settings from .env, the environment and flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	App      AppConfig
	Batch    BatchConfig
}

type DatabaseConfig struct {
	Path string // ":memory:" for an in-memory database
}

// AppConfig holds application configuration
type AppConfig struct {
	Port        int
	LogLevel    string
	CORSOrigins []string
}

// BatchConfig holds calculation settings
type BatchConfig struct {
	Concurrency   int
	AutoCalculate bool
	// DedupInterval is how often the maintenance pass runs. Zero disables it.
	DedupInterval time.Duration
}

// Load reads .env (if present), then the environment, then applies args as
// flag overrides. Pass os.Args[1:] from main.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	config := &Config{}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	concurrency, err := strconv.Atoi(getEnv("BATCH_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_CONCURRENCY: %w", err)
	}
	autoCalc, err := strconv.ParseBool(getEnv("AUTO_CALCULATE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_CALCULATE: %w", err)
	}
	dedup, err := time.ParseDuration(getEnv("DEDUP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_INTERVAL: %w", err)
	}

	config.Database = DatabaseConfig{Path: getEnv("DB_PATH", "kpi.db")}
	config.App = AppConfig{
		Port:        port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
	}
	config.Batch = BatchConfig{
		Concurrency:   concurrency,
		AutoCalculate: autoCalc,
		DedupInterval: dedup,
	}

	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.IntVar(&config.App.Port, "port", config.App.Port, "HTTP server port")
	flags.StringVar(&config.Database.Path, "db", config.Database.Path, "SQLite database path")
	flags.IntVar(&config.Batch.Concurrency, "concurrency", config.Batch.Concurrency, "bulk calculation workers")
	flags.StringVar(&config.App.LogLevel, "log-level", config.App.LogLevel, "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.App.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.DedupInterval < 0 {
		return fmt.Errorf("DEDUP_INTERVAL must not be negative")
	}
	if _, err := ParseLevel(c.App.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}
