// pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinEncryptionKeyLen is the minimum accepted master key length in bytes.
// Persisted ciphertext blobs are derived from this key; running with a
// short key in production would silently weaken every stored secret.
const MinEncryptionKeyLen = 32

type Config struct {
	Env      string
	HTTPAddr string

	// Postgres & Redis
	DatabaseURL string
	RedisURL    string

	// Master key for credential encryption at rest.
	EncryptionKey string

	// Marketplace OAuth application.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	OAuthScopes       string

	// Webhook registration target and back-office UI base.
	WebhookURL      string
	FrontendBaseURL string

	// Tenant client cache tuning.
	ClientCacheSize int
	ClientCacheTTL  time.Duration

	// Admin API bearer validation (optional, dev fallback when unset).
	AdminJWKSURL     string
	AdminOIDCIssuer  string
	AdminOIDCAud     string
	AdminCORSOrigins string
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		Env:               env("AVITOLINK_ENV", "dev"),
		HTTPAddr:          env("AVITOLINK_HTTP_ADDR", ":8080"),
		DatabaseURL:       env("DATABASE_URL", ""),
		RedisURL:          env("REDIS_URL", ""),
		EncryptionKey:     env("ENCRYPTION_KEY", ""),
		OAuthClientID:     env("AVITO_OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: env("AVITO_OAUTH_CLIENT_SECRET", ""),
		OAuthRedirectURI:  env("AVITO_OAUTH_REDIRECT_URI", ""),
		OAuthScopes:       env("AVITO_OAUTH_SCOPES", "messenger:read,messenger:write,user:read,items:info"),
		WebhookURL:        env("AVITO_WEBHOOK_URL", ""),
		FrontendBaseURL:   env("FRONTEND_BASE_URL", "http://localhost:3001"),
		ClientCacheSize:   envInt("CLIENT_CACHE_SIZE", 100),
		ClientCacheTTL:    envDur("CLIENT_CACHE_TTL_SEC", 3600) * time.Second,
		AdminJWKSURL:      env("ADMIN_JWKS_URL", ""),
		AdminOIDCIssuer:   env("ADMIN_OIDC_ISSUER", ""),
		AdminOIDCAud:      env("ADMIN_OIDC_AUDIENCE", "avitolink-admin"),
		AdminCORSOrigins:  env("ADMIN_CORS_ORIGINS", ""),
	}
}

// Validate enforces startup-fatal conditions. A short or missing master
// key is only tolerated in dev; everywhere else it fails the process
// rather than degrading to a weak default.
func (c Config) Validate() error {
	if len(c.EncryptionKey) < MinEncryptionKeyLen {
		if c.Env == "dev" {
			return nil
		}
		return fmt.Errorf("ENCRYPTION_KEY must be at least %d bytes (got %d)", MinEncryptionKeyLen, len(c.EncryptionKey))
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
