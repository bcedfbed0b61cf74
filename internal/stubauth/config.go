package stubauth

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer    string // Issuer claim for minted tokens (default: quizwell-stubauth)
	DevSecret string // Required to call the seed endpoint; empty disables seeding

	GuestTTL   time.Duration // Guest access token lifetime (default: 15m)
	AccessTTL  time.Duration // Authenticated access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 30 days)

	DatabaseFile string // Path to the SQLite database file (default: ./stubauth.db)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8081)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
	SweepInterval       time.Duration // Expired refresh token sweep interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer:    getEnvOrDefault("STUBAUTH_ISSUER", "quizwell-stubauth"),
		DevSecret: os.Getenv("STUBAUTH_DEV_SECRET"),

		GuestTTL:   getEnvDurationOrDefault("STUBAUTH_GUEST_TTL", 15*time.Minute),
		AccessTTL:  getEnvDurationOrDefault("STUBAUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL: getEnvDurationOrDefault("STUBAUTH_REFRESH_TTL", 30*24*time.Hour),

		DatabaseFile: getEnvOrDefault("STUBAUTH_DATABASE_FILE", "stubauth.db"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8081),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		SweepInterval:       getEnvDurationOrDefault("STUBAUTH_SWEEP_INTERVAL", 1*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
