package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		wantHSTS  bool
	}{
		{"https server", "https://example.com", true},
		{"http server", "http://example.com", false},
		{"invalid url", "://invalid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.serverURL)

			want := map[string]string{
				"X-Frame-Options":         "DENY",
				"X-Content-Type-Options":  "nosniff",
				"X-XSS-Protection":        "1; mode=block",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
				"Referrer-Policy":         "no-referrer",
				"Cache-Control":           "no-store, no-cache, must-revalidate, private",
				"Pragma":                  "no-cache",
			}
			for header, value := range want {
				if got := w.Header().Get(header); got != value {
					t.Errorf("%s = %q, want %q", header, got, value)
				}
			}

			hsts := w.Header().Get("Strict-Transport-Security")
			if tt.wantHSTS && hsts != "max-age=31536000; includeSubDomains" {
				t.Errorf("Strict-Transport-Security = %q, want the one-year policy", hsts)
			}
			if !tt.wantHSTS && hsts != "" {
				t.Errorf("Strict-Transport-Security = %q, want unset for non-https", hsts)
			}
		})
	}
}
