package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIKeyMiddleware wraps next with the same API key check as
// APIKeyInterceptor, reading the key from the HTTP header named header.
//
// Browsers cannot set headers on WebSocket upgrades, so the key is also
// accepted from the "api_key" query parameter.
func APIKeyMiddleware(mode, header, key string, next http.Handler) http.Handler {
	if !enabled(mode, key) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if got == "" {
			got = r.URL.Query().Get("api_key")
		}
		if got == "" || !validKey(got, key) {
			slog.Warn("auth: rejected http request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
