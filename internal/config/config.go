// Package config reads settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// StorageConfig selects and configures the durable key-value store.
type StorageConfig struct {
	Backend         string
	Path            string
	MongoURI        string
	MongoDB         string
	MongoCollection string
}

// HostConfig configures the chat mini-app host sink. An empty Broker
// disables it.
type HostConfig struct {
	Broker        string
	Topic         string
	ClientID      string
	SigningSecret string
	Timeout       time.Duration
}

// Enabled reports whether a host broker is configured.
func (h HostConfig) Enabled() bool { return h.Broker != "" }

// Config is the full process configuration.
type Config struct {
	Port            string
	LogLevel        string
	Storage         StorageConfig
	Host            HostConfig
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load reads envFile (when it exists) into the environment without
// overriding variables that are already set, then builds a Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Storage: StorageConfig{
			Backend:         strings.ToLower(getenv("STORAGE_BACKEND", BackendFile)),
			Path:            getenv("STORAGE_PATH", "data/tracker.json"),
			MongoURI:        os.Getenv("MONGO_URI"),
			MongoDB:         getenv("MONGO_DB", "fleet"),
			MongoCollection: getenv("MONGO_COLLECTION", "tracker_state"),
		},
		Host: HostConfig{
			Broker:        os.Getenv("HOST_MQTT_BROKER"),
			Topic:         getenv("HOST_MQTT_TOPIC", "tracker/records"),
			ClientID:      getenv("HOST_CLIENT_ID", "service-tracker"),
			SigningSecret: os.Getenv("HOST_SIGNING_SECRET"),
			Timeout:       5 * time.Second,
		},
		RateLimitMax:    120,
		RateLimitWindow: time.Minute,
	}

	if v := os.Getenv("HOST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("HOST_TIMEOUT: %w", err)
		}
		cfg.Host.Timeout = d
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("RATE_LIMIT_MAX must be a positive integer, got %q", v)
		}
		cfg.RateLimitMax = n
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be a positive integer, got %q", v)
		}
		cfg.RateLimitWindow = time.Duration(n) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// NewLogger builds the process logger.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
