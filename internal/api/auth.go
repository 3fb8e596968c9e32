package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"grimm.is/aclsync/internal/ratelimit"
)

// APIKeyHeader carries the API key on requests.
const APIKeyHeader = "X-API-Key"

// Failed key attempts a client may make per window before it is refused
// outright.
const (
	maxAuthFailures  = 10
	authFailureRetry = "60"
)

// clientIP returns the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireKey guards /api routes with the configured key. An empty key
// disables the check. A client that runs out of failures in fails is
// refused with 429 until its window ends, whatever key it presents.
func requireKey(key string, fails *ratelimit.Limiter, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if fails != nil && fails.Exhausted(ip) {
			w.Header().Set("Retry-After", authFailureRetry)
			WriteError(w, http.StatusTooManyRequests, "Too many failed attempts")
			return
		}
		got := r.Header.Get(APIKeyHeader)
		if got == "" {
			// Browsers cannot set headers on websocket upgrades.
			got = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			if fails != nil {
				fails.Allow(ip)
			}
			WriteError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
