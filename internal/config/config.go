// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const defaultJWTSecret = "your-super-secret-key-change-this-in-production"

// maxReconnectAttempts bounds RECONNECT_MAX_ATTEMPTS
const maxReconnectAttempts = 30

// Config holds the settings of both binaries. The chat server reads the
// server block, the messenger client the client block.
type Config struct {
	// Server
	Port        string
	Environment string

	// Storage
	Store       string // "redis" or "memory"
	RedisURL    string
	DatabaseURL string

	// Security
	JWTSecret      string
	JWTExpiry      time.Duration
	AllowedOrigins string

	// Messages
	MessagesDefaultLimit int

	// WebSocket rate limiting (frames per second per connection)
	WSRateLimit float64
	WSRateBurst int

	// Client
	ChatAPIURL           string
	ChatWSURL            string
	UsersAPIURL          string
	ChatIdentity         string
	ChatToken            string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	UnreadPollInterval   time.Duration
	HistoryLimit         int
	ThreadDedup          bool
	RequestTimeout       time.Duration
	StatusAddr           string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8003"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Storage
		Store:       getEnv("STORE", "redis"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Security
		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiry:      getEnvDuration("JWT_EXPIRY", "24h"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),

		// Messages
		MessagesDefaultLimit: getEnvInt("MESSAGES_DEFAULT_LIMIT", 50),

		// WebSocket
		WSRateLimit: getEnvFloat("WS_RATE_LIMIT", 10),
		WSRateBurst: getEnvInt("WS_RATE_BURST", 20),

		// Client
		ChatAPIURL:           getEnv("CHAT_API_URL", "http://localhost:8003"),
		ChatWSURL:            getEnv("CHAT_WS_URL", "ws://localhost:8003"),
		UsersAPIURL:          getEnv("USERS_API_URL", "http://localhost:8001"),
		ChatIdentity:         getEnv("CHAT_IDENTITY", ""),
		ChatToken:            getEnv("CHAT_TOKEN", ""),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", "30s"),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", "1s"),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		UnreadPollInterval:   getEnvDuration("UNREAD_POLL_INTERVAL", "30s"),
		HistoryLimit:         getEnvInt("HISTORY_LIMIT", 50),
		ThreadDedup:          getEnvBool("THREAD_DEDUP", true),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", "15s"),
		StatusAddr:           getEnv("STATUS_ADDR", "127.0.0.1:9090"),
	}
}

// ValidateServer validates the chat server settings
func (c *Config) ValidateServer() error {
	if c.JWTSecret == defaultJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT secret must be changed for production")
	}

	switch c.Store {
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required when STORE=redis")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("memory store cannot be used in production")
		}
	default:
		return fmt.Errorf("invalid store: %s", c.Store)
	}

	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required in production")
	}

	if c.MessagesDefaultLimit < 1 || c.MessagesDefaultLimit > 500 {
		return fmt.Errorf("messages default limit must be between 1 and 500")
	}

	if c.WSRateLimit <= 0 || c.WSRateBurst < 1 {
		return fmt.Errorf("websocket rate limit values must be positive")
	}

	return nil
}

// ValidateClient validates the messenger client settings
func (c *Config) ValidateClient() error {
	if c.ChatIdentity == "" {
		return fmt.Errorf("CHAT_IDENTITY is required")
	}

	for name, raw := range map[string]string{
		"CHAT_API_URL":  c.ChatAPIURL,
		"CHAT_WS_URL":   c.ChatWSURL,
		"USERS_API_URL": c.UsersAPIURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", name, raw)
		}
	}

	if c.HeartbeatInterval <= 0 || c.ReconnectBaseDelay <= 0 || c.UnreadPollInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	if c.ReconnectMaxAttempts < 0 || c.ReconnectMaxAttempts > maxReconnectAttempts {
		return fmt.Errorf("reconnect max attempts must be between 0 and %d", maxReconnectAttempts)
	}

	if c.HistoryLimit < 1 {
		return fmt.Errorf("history limit must be positive")
	}

	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper functions

// getEnv gets a string value from environment with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment with a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment with a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment with a default
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		// If parsing fails, try to parse the default
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

// getEnvBool gets a boolean value from environment with a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
