package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AgentAuth enforces the shared agent token on agent-facing routes.
// The token is accepted from the X-Agent-Token header or a token query
// parameter. Fails fast with 401 on mismatch.
func AgentAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Agent-Token")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if got == "" {
			http.Error(w, "missing agent token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "invalid agent token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth enforces an admin API key on dashboard routes. When key is
// empty the check is disabled and requests pass through. WebSocket
// handshakes cannot set headers from a browser, so the key is also
// accepted as an api_key query parameter.
func APIKeyAuth(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" {
			got = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
