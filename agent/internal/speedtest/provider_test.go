package speedtest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/speedscope/speedscope/agent/internal/config"
)

func TestNew_Types(t *testing.T) {
	tests := []struct {
		typ     string
		wantErr bool
	}{
		{"cloudflare", false},
		{"exporter", false},
		{"ookla", true},
	}
	for _, tc := range tests {
		t.Run(tc.typ, func(t *testing.T) {
			p, err := New(config.ProviderConfig{Type: tc.typ, Endpoint: "http://localhost"})
			if (err != nil) != tc.wantErr {
				t.Fatalf("New(%q) err = %v, wantErr %v", tc.typ, err, tc.wantErr)
			}
			if !tc.wantErr && p == nil {
				t.Fatal("New returned nil provider")
			}
		})
	}
}

func TestNew_SOCKS5Proxy(t *testing.T) {
	cfg := config.ProviderConfig{
		Type:     "cloudflare",
		Endpoint: "http://localhost",
		Proxy:    config.ProxyConfig{SOCKS5: "127.0.0.1:1080"},
	}
	client, err := buildHTTPClient(cfg)
	if err != nil {
		t.Fatalf("buildHTTPClient: %v", err)
	}
	rt, ok := client.Transport.(*authRoundTripper)
	if !ok {
		t.Fatalf("transport is %T, want *authRoundTripper", client.Transport)
	}
	tr := rt.base.(*http.Transport)
	if tr.DialContext == nil && tr.Dial == nil { //nolint:staticcheck
		t.Error("proxy dialer not installed")
	}
}

func TestAuthRoundTripper(t *testing.T) {
	t.Setenv("SPEED_KEY", "k-123")
	t.Setenv("SPEED_TOKEN", "tok")
	t.Setenv("SPEED_PASS", "pw")

	tests := []struct {
		name  string
		auth  config.AuthConfig
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "apikey default header",
			auth: config.AuthConfig{Mode: "apikey", KeyEnv: "SPEED_KEY"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.Header.Get("X-API-Key"); got != "k-123" {
					t.Errorf("X-API-Key = %q", got)
				}
			},
		},
		{
			name: "bearer",
			auth: config.AuthConfig{Mode: "bearer", TokenEnv: "SPEED_TOKEN"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q", got)
				}
			},
		},
		{
			name: "basic",
			auth: config.AuthConfig{Mode: "basic", Username: "u", PasswordEnv: "SPEED_PASS"},
			check: func(t *testing.T, r *http.Request) {
				u, p, ok := r.BasicAuth()
				if !ok || u != "u" || p != "pw" {
					t.Errorf("BasicAuth = %q/%q/%v", u, p, ok)
				}
			},
		},
		{
			name: "none",
			auth: config.AuthConfig{Mode: "none"},
			check: func(t *testing.T, r *http.Request) {
				if r.Header.Get("Authorization") != "" {
					t.Error("unexpected Authorization header")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := make(chan *http.Request, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got <- r
			}))
			defer srv.Close()

			client, err := buildHTTPClient(config.ProviderConfig{Auth: tc.auth})
			if err != nil {
				t.Fatal(err)
			}
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			tc.check(t, <-got)
		})
	}
}
