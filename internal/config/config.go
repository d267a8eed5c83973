package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds daemon configuration.
type Config struct {
	// Shared state store
	StoreBackend    string // "firebase" or "memory"
	DatabaseURL     string // Realtime Database URL
	CredentialsFile string // service account JSON, empty = default creds

	// Local preference cache
	CacheType string // sqlite (default), postgres, mysql
	CachePath string
	CacheURL  string

	// Pairing policy. Zero TTL means tokens never expire until redeemed,
	// the deliberate default; there is no silent numeric fallback.
	TokenTTL time.Duration

	// Child agent
	HeartbeatInterval time.Duration

	// Guardian API
	APIPort   string
	JWTSecret string
	JWTExpiry time.Duration

	// Escalation alerts
	SESRegion    string
	SESFromEmail string
	SESFromName  string
	FCMEnabled   bool
}

// Load reads configuration from environment variables with sensible
// defaults, loading .env first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		StoreBackend:      getEnv("STORE_BACKEND", "firebase"),
		DatabaseURL:       getEnv("FIREBASE_DATABASE_URL", ""),
		CredentialsFile:   getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		CacheType:         getEnv("CACHE_TYPE", "sqlite"),
		CachePath:         getEnv("CACHE_PATH", "./nettie.db"),
		CacheURL:          getEnv("CACHE_URL", ""),
		TokenTTL:          getDuration("TOKEN_TTL", 0),
		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", time.Minute),
		APIPort:           getEnv("PORT", "8080"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTExpiry:         getDuration("JWT_EXPIRY", 24*time.Hour),
		SESRegion:         getEnv("SES_REGION", "us-east-1"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Nettie"),
		FCMEnabled:        getEnv("FCM_ENABLED", "") == "true",
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration reads a duration environment variable or returns a default
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
