package security

// Event type constants for security audit logging.
// Using constants keeps event names consistent across the codebase.
const (
	// EventCodeIssued is logged when an authorization code is granted
	EventCodeIssued = "authorization_code_issued"

	// EventTokenIssued is logged when an access token is issued via a code exchange
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is issued via a refresh grant
	EventTokenRefreshed = "token_refreshed"

	// EventLogin is logged when a first-party login succeeds
	EventLogin = "login"

	// EventAuthFailure is logged when authentication fails (wrong credentials, bad client secret, etc.)
	EventAuthFailure = "auth_failure"

	// EventInvalidRedirect is logged when an invalid redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
