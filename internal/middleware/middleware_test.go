package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware(quietLogger())

	t.Run("rate limit not exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/records", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.RateLimit(5, time.Minute)(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rate limit exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/records", nil)
		req.RemoteAddr = "192.168.1.2:12345"
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		rateLimitHandler := middleware.RateLimit(1, time.Minute)(handler)

		// First request should succeed
		rateLimitHandler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)

		// Second request should be rate limited
		w = httptest.NewRecorder()
		handlerCalled = false
		rateLimitHandler.ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("window expires", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		m := NewRateLimitMiddleware(quietLogger())
		m.now = func() time.Time { return now }

		h := m.RateLimit(1, time.Minute)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		req := httptest.NewRequest("GET", "/api/records", nil)
		req.RemoteAddr = "192.168.1.3:1"

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		now = now.Add(2 * time.Minute)
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("idle clients are forgotten", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		m := NewRateLimitMiddleware(quietLogger())
		m.now = func() time.Time { return now }
		h := m.RateLimit(5, time.Minute)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

		for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
			req := httptest.NewRequest("GET", "/api/records", nil)
			req.RemoteAddr = ip
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
		assert.Len(t, m.requests, 3)

		now = now.Add(2 * time.Minute)
		req := httptest.NewRequest("GET", "/api/records", nil)
		req.RemoteAddr = "10.0.0.4:1"
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.Len(t, m.requests, 1)
		assert.Contains(t, m.requests, "10.0.0.4")
	})
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:80", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.9"}, "1.1.1.1:80", "10.0.0.9"},
		{"remote addr", nil, "1.1.1.1:80", "1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/records", nil))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusInsufficientStorage, entry.Data["status"])
	assert.Equal(t, "/api/records", entry.Data["path"])
}
