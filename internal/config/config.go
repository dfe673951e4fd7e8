package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// Env is "development" or "production"
	Env string

	// SupabaseURL is the URL of the Supabase project that stores rooms and memberships
	SupabaseURL string

	// SupabaseKey is the service role key for backend operations
	// This key has elevated privileges and should never be exposed to clients
	SupabaseKey string

	// RedisURL selects the Redis channel backend. Empty means the in-process broker.
	RedisURL string

	// ChannelKey must be presented by WebSocket clients of the gateway. Empty disables the check.
	ChannelKey string

	// CORSOrigins is the list of allowed browser origins
	CORSOrigins []string

	// HistoryLimit is the size of the first history page handed to joining clients
	HistoryLimit int

	// PresenceTimeout is how long a presence member may go without a refresh before it is reaped
	PresenceTimeout time.Duration

	// ReapInterval is how often the presence reaper runs
	ReapInterval time.Duration
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using environment variables")
	}

	config := &Config{
		ServerPort:      getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		SupabaseURL:     getEnv("SUPABASE_URL", ""),
		SupabaseKey:     getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		ChannelKey:      getEnv("CHANNEL_API_KEY", ""),
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		HistoryLimit:    getEnvInt("HISTORY_LIMIT", 100),
		PresenceTimeout: getEnvDuration("PRESENCE_TIMEOUT", 2*time.Minute),
		ReapInterval:    getEnvDuration("PRESENCE_REAP_INTERVAL", 30*time.Second),
	}

	// Validate required configuration
	if config.SupabaseURL == "" {
		log.Warn().Msg("SUPABASE_URL is not set")
	}
	if config.SupabaseKey == "" {
		log.Warn().Msg("SUPABASE_SERVICE_ROLE_KEY is not set")
	}
	if config.Env == "production" && config.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return config
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

// splitList splits a comma-separated list and trims whitespace
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
