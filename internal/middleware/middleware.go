package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitMiddleware limits requests per client IP over a sliding window.
type RateLimitMiddleware struct {
	requests  map[string][]time.Time // IP -> request times
	nextSweep time.Time
	mu        sync.Mutex
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(logger logrus.FieldLogger) *RateLimitMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RateLimitMiddleware{
		requests: make(map[string][]time.Time),
		now:      time.Now,
		log:      logger,
	}
}

// RateLimit rejects a client's request once it has made maxRequests within window.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.allow(getClientIP(r), maxRequests, window) {
				m.log.WithField("client_ip", getClientIP(r)).Warn("Rate limit exceeded")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) allow(clientIP string, maxRequests int, window time.Duration) bool {
	now := m.now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !now.Before(m.nextSweep) {
		m.sweep(windowStart)
		m.nextSweep = now.Add(window)
	}

	kept := m.requests[clientIP][:0]
	for _, ts := range m.requests[clientIP] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= maxRequests {
		m.requests[clientIP] = kept
		return false
	}
	m.requests[clientIP] = append(kept, now)
	return true
}

// sweep forgets clients whose last request is older than windowStart.
func (m *RateLimitMiddleware) sweep(windowStart time.Time) {
	for ip, times := range m.requests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(m.requests, ip)
		}
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check for forwarded headers first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// Fall back to remote address
	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}

// statusRecorder captures the response code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Warn("Request completed")
			} else {
				entry.Debug("Request completed")
			}
		})
	}
}
