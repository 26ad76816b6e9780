// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server settings, populated from environment variables.
// A .env file is honored via godotenv autoload in main.
type Config struct {
	Port string

	// CORSOrigins are the origin patterns allowed on the websocket upgrade
	// and on HTTP responses. "*" allows any origin.
	CORSOrigins []string

	// AdminPasswords are the shared secrets that gate lobby creation and
	// catalog administration. Each entry is either a plaintext password or
	// an argon2id encoded hash (distinguished by the "$argon2id$" prefix).
	AdminPasswords []string

	// StorageDriver selects the catalog blob source: "filesystem" or "redis".
	StorageDriver string
	CatalogPath   string
	RedisAddr     string
	RedisDB       int
	RedisKey      string

	// RoundDuration is the default question round length for new lobbies.
	RoundDuration time.Duration

	// SessionTTL is the inactivity window after which a session token expires.
	SessionTTL time.Duration

	// LobbyIdleTTL closes lobbies with no activity; GameOverTTL closes
	// finished lobbies that were never explicitly closed by the host.
	LobbyIdleTTL time.Duration
	GameOverTTL  time.Duration

	LogFormat string // "text" or "json"
	LogLevel  string
}

// Load reads the configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
		AdminPasswords: splitList(os.Getenv("ADMIN_PASSWORDS")),
		StorageDriver:  getEnv("STORAGE_DRIVER", "filesystem"),
		CatalogPath:    getEnv("CATALOG_PATH", "questions.json"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKey:       getEnv("REDIS_CATALOG_KEY", "spektrum:catalog"),
		RoundDuration:  getEnvDuration("ROUND_DURATION_MS", 30*time.Second),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		LobbyIdleTTL:   getEnvDuration("LOBBY_IDLE_TTL", 2*time.Hour),
		GameOverTTL:    getEnvDuration("GAME_OVER_TTL", 10*time.Minute),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses an environment variable with time.ParseDuration,
// falling back to a bare-millisecond integer for keys like ROUND_DURATION_MS.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
