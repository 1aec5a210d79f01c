package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLimiter scripts the Allow outcome and records the keys it saw.
type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func limited(l *stubLimiter) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimit(l, 10, time.Minute)(ok)
}

func TestRateLimit_AllowsAndKeysOnClientIP(t *testing.T) {
	l := &stubLimiter{allow: true}
	req := httptest.NewRequest("GET", "/api/groups", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	limited(l).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, l.keys, 1)
	// First X-Forwarded-For hop wins over the socket address.
	assert.Equal(t, "ratelimit:api:203.0.113.9", l.keys[0])
}

func TestRateLimit_Exceeded(t *testing.T) {
	l := &stubLimiter{allow: false}
	rec := httptest.NewRecorder()
	limited(l).ServeHTTP(rec, httptest.NewRequest("GET", "/api/groups", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimit_HealthExempt(t *testing.T) {
	l := &stubLimiter{allow: false}
	rec := httptest.NewRecorder()
	limited(l).ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	// Liveness probes bypass the limiter entirely.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, l.keys)
}

func TestRateLimit_FailsOpenOnLimiterError(t *testing.T) {
	l := &stubLimiter{allow: false, err: context.DeadlineExceeded}
	rec := httptest.NewRecorder()
	limited(l).ServeHTTP(rec, httptest.NewRequest("GET", "/api/groups", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogging_DemotesHealthProbes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/groups", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var health, request map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &health))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &request))
	assert.Equal(t, "DEBUG", health["level"])
	assert.Equal(t, "INFO", request["level"])
	assert.Equal(t, "/api/groups", request["path"])
	assert.EqualValues(t, http.StatusOK, request["status"])
}

func TestLogging_CapturesWrittenStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/groups/missing", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.EqualValues(t, http.StatusNotFound, line["status"])
}
