package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, sourced from environment variables.
// Secrets (the signing key, the shared HMAC secret) only ever come from the
// environment; flags cover the operational knobs.
type Config struct {
	SiteOrigin string // Required: issuer claim and discovery base URL

	JWTPrivateKey string // Required: RSA private key PEM (PKCS8 or PKCS1)
	JWTKeyID      string // Optional: kid published in token headers (default: authd-1)
	JWKS          string // Required: JWKS document served verbatim

	GithubClientID     string // Required: OAuth app client id
	GithubClientSecret string // Required: OAuth app client secret
	GithubCallbackURL  string // Required: OAuth callback URL on the web tier

	AuthSharedSecret string // Required: HMAC secret shared with the web tier

	DatabaseFile string // Optional: path to SQLite database file (default: ./authd.db)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expiry sweep interval (default: 1h)

	AccessTokenTTL  time.Duration // Optional: access token lifetime (default: 1h)
	RefreshTokenTTL time.Duration // Optional: refresh token lifetime (default: 720h)
	SessionTTL      time.Duration // Optional: session lifetime (default: 720h)
	ReuseInterval   time.Duration // Optional: refresh token reuse window (default: 60s)
}

// ConfigurationError names the required settings that are absent. Raised at
// startup so a misconfigured process never serves a request.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("app: missing required configuration: %s", strings.Join(e.Missing, ", "))
}

func LoadConfig() Config {
	return Config{
		SiteOrigin: os.Getenv("SITE_ORIGIN"),

		JWTPrivateKey: os.Getenv("JWT_PRIVATE_KEY"),
		JWTKeyID:      getEnvOrDefault("JWT_KEY_ID", "authd-1"),
		JWKS:          os.Getenv("JWKS"),

		GithubClientID:     os.Getenv("AUTH_GITHUB_ID"),
		GithubClientSecret: os.Getenv("AUTH_GITHUB_SECRET"),
		GithubCallbackURL:  os.Getenv("AUTH_GITHUB_CALLBACK_URL"),

		AuthSharedSecret: os.Getenv("AUTH_API_SECRET"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "authd.db"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		AccessTokenTTL:  getEnvDurationOrDefault("ACCESS_TOKEN_TTL", 0),
		RefreshTokenTTL: getEnvDurationOrDefault("REFRESH_TOKEN_TTL", 0),
		SessionTTL:      getEnvDurationOrDefault("SESSION_TTL", 0),
		ReuseInterval:   getEnvDurationOrDefault("REFRESH_REUSE_INTERVAL", 0),
	}
}

// Validate fails fast on missing required values, naming every absent key
// rather than just the first.
func (c Config) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"SITE_ORIGIN", c.SiteOrigin},
		{"JWT_PRIVATE_KEY", c.JWTPrivateKey},
		{"JWKS", c.JWKS},
		{"AUTH_GITHUB_ID", c.GithubClientID},
		{"AUTH_GITHUB_SECRET", c.GithubClientSecret},
		{"AUTH_GITHUB_CALLBACK_URL", c.GithubCallbackURL},
		{"AUTH_API_SECRET", c.AuthSharedSecret},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}

	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
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

	return defaultValue
}
