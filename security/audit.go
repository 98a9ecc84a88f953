// Package security provides rate limiting, audit logging, client IP
// extraction, secret comparison, and secure header management.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	AppID     string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"app_id", event.AppID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs an authorization code grant.
func (a *Auditor) LogCodeIssued(userID, appID, ipAddress, scopes string) {
	a.LogEvent(Event{
		Type:      EventCodeIssued,
		UserID:    userID,
		AppID:     appID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenIssued logs an access token issued through a code exchange.
func (a *Auditor) LogTokenIssued(userID, appID, ipAddress, scopes string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		AppID:     appID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenRefreshed logs an access token issued through a refresh grant.
func (a *Auditor) LogTokenRefreshed(userID, appID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		AppID:     appID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogLogin logs a successful first-party login.
func (a *Auditor) LogLogin(userID, ipAddress, method string) {
	a.LogEvent(Event{
		Type:      EventLogin,
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"method": method,
		},
	})
}

// LogAuthFailure logs an authentication failure.
func (a *Auditor) LogAuthFailure(userID, appID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		AppID:     appID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidRedirect logs a rejected redirect target.
func (a *Auditor) LogInvalidRedirect(appID, ipAddress, uri string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		AppID:     appID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": uri,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
