package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads from the
// environment.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Events EventsConfig
	Assist AssistConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	st, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	ev, err := loadEventsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Store:  st,
		Events: ev,
		Assist: loadAssistConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	return ServerConfig{Addr: ":" + port}, nil
}

// Storage drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver      string
	PostgresDSN string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	RedisPrefix string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreMemory))

	cfg := StoreConfig{
		Driver:      driver,
		PostgresDSN: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:   strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		RedisPrefix: strings.TrimSpace(os.Getenv("REDIS_PREFIX")),
	}

	if db, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if db != nil {
		cfg.RedisDB = *db
	}

	switch driver {
	case StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return StoreConfig{}, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return StoreConfig{}, fmt.Errorf("STORE_DRIVER=redis requires REDIS_ADDR")
		}
	default:
		return StoreConfig{}, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
	return cfg, nil
}

// EventsConfig configures the optional RabbitMQ publisher.
type EventsConfig struct {
	URL           string
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
}

// Enabled reports whether a broker URL was provided.
func (c EventsConfig) Enabled() bool { return c.URL != "" }

func loadEventsConfig() (EventsConfig, error) {
	cfg := EventsConfig{
		URL:           strings.TrimSpace(os.Getenv("AMQP_URL")),
		Exchange:      getEnvOrDefault("AMQP_EXCHANGE", "halodesk.events"),
		RetryAttempts: 5,
		RetryDelay:    time.Second,
	}

	if attempts, err := parseOptionalIntEnv("AMQP_RETRY_ATTEMPTS"); err != nil {
		return EventsConfig{}, err
	} else if attempts != nil {
		cfg.RetryAttempts = *attempts
	}
	return cfg, nil
}

// AssistConfig configures the optional reply-suggestion model.
type AssistConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled reports whether an API key was provided.
func (c AssistConfig) Enabled() bool { return c.APIKey != "" }

func loadAssistConfig() AssistConfig {
	return AssistConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Model:   strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
