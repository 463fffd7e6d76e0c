package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Env         string
	DatabaseURL string
	RedisURL    string
	SentryDSN   string
	Port        string

	// OIDC issuer, used as the `iss` claim on every signed token.
	IssuerURL string

	// HS256 internal tokens (legacy direct login, enrollment).
	JWTSecret                  string
	JWTExpirationHours         int
	RefreshTokenExpirationDays int

	// AES-256 key (base64, 32 bytes) for tenant database credentials.
	// Required whenever any tenant uses dedicated isolation.
	TenantDBEncryptionKey string

	// Tenant router cache bounds.
	RouterMaxCachedPools int
	RouterPoolTTL        time.Duration

	AllowPublicRegistration bool
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Env:                        getEnv("APP_ENV", "development"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisURL:                   os.Getenv("REDIS_URL"),
		SentryDSN:                  os.Getenv("SENTRY_DSN"),
		Port:                       getEnv("PORT", "8080"),
		IssuerURL:                  getEnv("ISSUER_URL", "http://localhost:8080"),
		JWTSecret:                  os.Getenv("JWT_SECRET"),
		JWTExpirationHours:         getEnvAsInt("JWT_EXPIRATION_HOURS", 1),
		RefreshTokenExpirationDays: getEnvAsInt("REFRESH_TOKEN_EXPIRATION_DAYS", 30),
		TenantDBEncryptionKey:      os.Getenv("TENANT_DB_ENCRYPTION_KEY"),
		RouterMaxCachedPools:       getEnvAsInt("TENANT_ROUTER_MAX_CONNECTIONS", 100),
		RouterPoolTTL:              time.Duration(getEnvAsInt("TENANT_ROUTER_CONNECTION_TTL_SECS", 3600)) * time.Second,
		AllowPublicRegistration:    getEnvAsBool("ALLOW_PUBLIC_REGISTRATION", true),
	}
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

// Helper to read boolean env vars
func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
