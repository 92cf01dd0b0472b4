package gateway

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// authExempt paths stay reachable without a key so probes and scrapers
// keep working.
func authExempt(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// authMiddleware enforces the configured API key. Requests may carry it
// as "Authorization: Bearer <key>", "X-API-Key: <key>", or an api_key
// query parameter for websocket clients that cannot set headers. An
// empty configured key disables the check.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" || authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		presented := bearerToken(r)
		if presented == "" {
			presented = r.Header.Get("X-API-Key")
		}
		if presented == "" {
			presented = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.config.APIKey)) != 1 {
			s.logger.Warn(r.Context(), "request rejected, bad api key",
				"path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// metricsMiddleware records request counts and latency per route. Task
// IDs are folded into the route pattern to keep label cardinality flat.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.metrics.RecordHTTPRequest(r.Method, routePattern(r.URL.Path),
			strconv.Itoa(wrapped.status), time.Since(start).Seconds())
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr)
	})
}

func routePattern(path string) string {
	if !strings.HasPrefix(path, "/v1/tasks/") {
		return path
	}
	if strings.HasSuffix(path, "/events") {
		return "/v1/tasks/{id}/events"
	}
	return "/v1/tasks/{id}"
}

// statusRecorder captures the response status for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the middleware chain.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
