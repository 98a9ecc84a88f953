package gatehouse

import (
	"log/slog"
	"time"
)

// ServerConfig holds authorization server configuration.
type ServerConfig struct {
	// Issuer namespaces the signing purposes of this deployment. Tokens
	// minted under one issuer never validate under another.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Default: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used to extract the client IP from X-Forwarded-For.
	// Default: 1.
	TrustedProxyCount int

	// EnableAuditLogging enables security audit logging. Auth events and
	// violations are logged with sensitive identifiers hashed.
	EnableAuditLogging bool
}

// RateLimitConfig holds rate limiting configuration for the HTTP layer.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// applyDefaults fills in zero-valued configuration fields.
func applyDefaults(config *ServerConfig, logger *slog.Logger) *ServerConfig {
	if config.Issuer == "" {
		config.Issuer = "gatehouse"
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 10 * time.Minute
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}

	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP extraction",
			"trusted_proxy_count", config.TrustedProxyCount)
	}

	return config
}
