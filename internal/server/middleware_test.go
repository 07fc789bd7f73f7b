package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }

func TestCORSMiddleware(t *testing.T) {
	s := &Server{corsOrigin: "https://example.org"}
	h := s.corsMiddleware(okHandler)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodOptions, "/analyze", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestRateLimitMiddleware(t *testing.T) {
	s := &Server{rateLimiter: NewRateLimiter(2)}
	h := s.rateLimitMiddleware(okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
		req.RemoteAddr = ip + ":4711"
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusTeapot, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusTeapot, send("10.0.0.1").Code)

	rec := send("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusTeapot, send("10.0.0.2").Code, "limits are per client")
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.rateLimitMiddleware(okHandler)(rec, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Allow("a"))

	now = now.Add(20 * time.Second)
	err := rl.Allow("a")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 40*time.Second, rle.RetryAfter)

	now = now.Add(40 * time.Second)
	assert.NoError(t, rl.Allow("a"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "remote without port", remote: "192.0.2.1", want: "192.0.2.1"},
		{name: "forwarded list", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:1", want: "203.0.113.5"},
		{name: "forwarded single", headers: map[string]string{"X-Forwarded-For": " 203.0.113.6 "}, want: "203.0.113.6"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:1", want: "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
