package server

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		domain  string
		wantErr bool
		errMsg  string
	}{
		{"example.com", false, ""},
		{"sub.example.com", false, ""},
		{"my-site.example.com", false, ""},

		{"", true, "domain required"},

		{"localhost", true, "public domain"},
		{"LOCALHOST", true, "public domain"},

		{"127.0.0.1", true, "not an IP"},
		{"192.168.1.1", true, "not an IP"},
		{"::1", true, "not an IP"},
		{"2001:db8::1", true, "not an IP"},
		{"[::1]", true, "not an IP"},

		{"example..com", true, "invalid domain"},
		{".example.com", true, "invalid domain"},
		{"example.com.", true, "invalid domain"},
		{"-example.com", true, "invalid domain"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("ValidateDomain(%q) unexpected error: %v", tt.domain, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateDomain(%q) expected error containing %q, got nil", tt.domain, tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateDomain(%q) error = %q, want containing %q", tt.domain, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestHTTPRedirectHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://docs.example.com/v1/users/u1?x=1", nil)
	w := httptest.NewRecorder()

	HTTPRedirectHandler("docs.example.com").ServeHTTP(w, req)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://docs.example.com/v1/users/u1?x=1" {
		t.Errorf("unexpected Location %q", loc)
	}
}

func TestNewTLSConfig(t *testing.T) {
	cfg := NewTLSConfig(NewAutocertManager("docs.example.com", t.TempDir()))

	if cfg.GetCertificate == nil {
		t.Fatal("expected GetCertificate to be set")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %x", cfg.MinVersion)
	}
}

func TestListenAndServeTLSRejectsLocalDomain(t *testing.T) {
	srv := setupTestServer(t)

	if err := srv.ListenAndServeTLS(HTTPSConfig{Domain: "localhost"}); err == nil {
		t.Fatal("expected localhost to be rejected")
	}
	if srv.httpsServer != nil {
		t.Error("no listener should be created for an invalid domain")
	}
}
