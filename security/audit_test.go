package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{
			name:    "enabled with logger",
			logger:  slog.Default(),
			enabled: true,
		},
		{
			name:    "disabled with logger",
			logger:  slog.Default(),
			enabled: false,
		},
		{
			name:    "enabled with nil logger",
			logger:  nil,
			enabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tests := []struct {
		name    string
		enabled bool
		event   Event
		wantLog bool
	}{
		{
			name:    "enabled",
			enabled: true,
			event: Event{
				Type:      "test_event",
				UserID:    "user-123",
				AppID:     "app-456",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"key": "value"},
			},
			wantLog: true,
		},
		{
			name:    "disabled",
			enabled: false,
			event: Event{
				Type:      "test_event",
				UserID:    "user-123",
				AppID:     "app-456",
				IPAddress: "192.168.1.1",
			},
			wantLog: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			auditor := NewAuditor(logger, tt.enabled)

			auditor.LogEvent(tt.event)

			hasLog := buf.Len() > 0
			if hasLog != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", hasLog, tt.wantLog)
			}
		})
	}
}

func TestAuditor_HashesUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditor := NewAuditor(logger, true)

	auditor.LogLogin("user-123", "192.168.1.1", "password")

	logOutput := buf.String()
	if strings.Contains(logOutput, "user-123") {
		t.Error("LogLogin() leaked the raw user id into the log")
	}
	if !strings.Contains(logOutput, EventLogin) {
		t.Errorf("LogLogin() output missing event type: %s", logOutput)
	}
}

func TestAuditor_EventHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditor := NewAuditor(logger, true)

	tests := []struct {
		name      string
		log       func()
		eventType string
	}{
		{
			name:      "code issued",
			log:       func() { auditor.LogCodeIssued("user-1", "app-1", "10.0.0.1", "basic email") },
			eventType: EventCodeIssued,
		},
		{
			name:      "token issued",
			log:       func() { auditor.LogTokenIssued("user-1", "app-1", "10.0.0.1", "basic") },
			eventType: EventTokenIssued,
		},
		{
			name:      "token refreshed",
			log:       func() { auditor.LogTokenRefreshed("user-1", "app-1", "10.0.0.1", true) },
			eventType: EventTokenRefreshed,
		},
		{
			name:      "auth failure",
			log:       func() { auditor.LogAuthFailure("user-1", "app-1", "10.0.0.1", "bad secret") },
			eventType: EventAuthFailure,
		},
		{
			name:      "invalid redirect",
			log:       func() { auditor.LogInvalidRedirect("app-1", "10.0.0.1", "https://evil.example.com") },
			eventType: EventInvalidRedirect,
		},
		{
			name:      "rate limit exceeded",
			log:       func() { auditor.LogRateLimitExceeded("10.0.0.1", "user-1") },
			eventType: EventRateLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if !strings.Contains(buf.String(), tt.eventType) {
				t.Errorf("output missing event type %q: %s", tt.eventType, buf.String())
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	a := hashForLogging("alice")
	b := hashForLogging("bob")
	if a == b {
		t.Error("distinct inputs hashed to the same value")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a == "alice" {
		t.Error("hash must not equal the input")
	}
}
