package api

import (
	"bufio"
	"net"
	"net/http"

	"grimm.is/aclsync/internal/clock"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
)

// accessLogWriter wraps http.ResponseWriter to capture the status code
type accessLogWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *accessLogWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *accessLogWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack lets websocket upgrades through the wrapper.
func (rw *accessLogWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// AccessLogger logs every request at debug level and records it in the
// API metrics under its route pattern.
func AccessLogger(logger *logging.Logger, reg *metrics.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		rw := &accessLogWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := clock.Since(start)

		// ServeMux fills in the pattern on the way through.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"ip", getClientIP(r),
			"status", rw.status,
			"size", rw.size,
			"duration", duration.String(),
		)
		if reg != nil {
			reg.RecordAPIRequest(r.Method, route, rw.status, duration.Seconds())
		}
	})
}
