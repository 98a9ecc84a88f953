package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never attach actual credential values (access tokens, refresh tokens,
// authorization codes, client secrets) to spans. These keys carry metadata
// only; traces are persisted and replicated far more widely than production
// secrets should ever travel.
const (
	// Authorization flow attributes
	AttrAppID        = "auth.app_id"
	AttrUserID       = "auth.user_id"
	AttrScopes       = "auth.scopes"
	AttrGrantType    = "auth.grant_type"
	AttrResponseType = "auth.response_type"
	AttrRedirectURI  = "auth.redirect_uri"
	AttrTokenType    = "auth.token_type" //nolint:gosec // attribute key, not a credential
	AttrExpiresIn    = "auth.expires_in"
	AttrError        = "auth.error"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"

	// Security attributes
	AttrClientIP       = "security.client_ip"
	AttrAuditEventType = "security.audit.event_type"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common authorization flow attributes to a span
// (nil-safe).
func AddFlowAttributes(span trace.Span, appID, userID, scopes string) {
	if appID != "" {
		SetSpanAttributes(span, attribute.String(AttrAppID, appID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scopes != "" {
		SetSpanAttributes(span, attribute.String(AttrScopes, scopes))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe). Callers
// must gate this on Instrumentation.ShouldLogClientIPs since IP addresses
// can be PII.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
