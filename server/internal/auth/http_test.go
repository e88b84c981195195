package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		key    string
		header string
		query  string
		want   int
	}{
		{name: "mode none", mode: "none", key: "secret", want: http.StatusOK},
		{name: "key unset", mode: "apikey", key: "", want: http.StatusOK},
		{name: "correct header", mode: "apikey", key: "secret", header: "secret", want: http.StatusOK},
		{name: "correct query", mode: "apikey", key: "secret", query: "secret", want: http.StatusOK},
		{name: "wrong header", mode: "apikey", key: "secret", header: "nope", want: http.StatusUnauthorized},
		{name: "missing", mode: "apikey", key: "secret", want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := APIKeyMiddleware(tc.mode, "X-Api-Key", tc.key, okHandler)
			target := "/api/v1/health"
			if tc.query != "" {
				target += "?api_key=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("X-Api-Key", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("status: got %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("body: got %q, want JSON error", rec.Body.String())
			}
		})
	}
}
