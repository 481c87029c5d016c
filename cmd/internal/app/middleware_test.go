package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogMeta_ConsoleStatuses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		level  slog.Level
		result string
		class  string
	}{
		{name: "session snapshot", status: http.StatusOK, level: slog.LevelInfo, result: "success", class: "2xx"},
		{name: "register", status: http.StatusCreated, level: slog.LevelInfo, result: "success", class: "2xx"},
		{name: "guard redirect to login", status: http.StatusSeeOther, level: slog.LevelInfo, result: "redirect", class: "3xx"},
		{name: "session expired", status: http.StatusUnauthorized, level: slog.LevelWarn, result: "client_error", class: "4xx"},
		{name: "soft lock held", status: http.StatusConflict, level: slog.LevelWarn, result: "client_error", class: "4xx"},
		{name: "login throttled", status: http.StatusTooManyRequests, level: slog.LevelWarn, result: "client_error", class: "4xx"},
		{name: "identity unreachable", status: http.StatusServiceUnavailable, level: slog.LevelError, result: "server_error", class: "5xx"},
		{name: "out of range", status: 42, level: slog.LevelInfo, result: "success", class: "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, result := requestLogMeta(tc.status)
			assert.Equal(t, tc.level, level)
			assert.Equal(t, tc.result, result)
			assert.Equal(t, tc.class, statusClass(tc.status))
		})
	}
}

func TestWithRequestLogging_EmitsOneEventPerRequest(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{}}`))
	}), log)

	req := httptest.NewRequest(http.MethodGet, "/api/session/refresh", nil)
	req.Header.Set("X-Request-ID", "rid-from-browser")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "rid-from-browser", rr.Header().Get("X-Request-ID"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "http.request", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "rid-from-browser", entry["request_id"])
	assert.Equal(t, "/api/session/refresh", entry["path"])
	assert.Equal(t, "4xx", entry["status_class"])
	assert.EqualValues(t, len(`{"error":{}}`), entry["bytes"])
}

func TestWithRequestLogging_GeneratesRequestID(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), log)

	for _, supplied := range []string{"", strings.Repeat("x", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if supplied != "" {
			req.Header.Set("X-Request-ID", supplied)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Len(t, rr.Header().Get("X-Request-ID"), 26, "supplied %q", supplied)
	}
}

func TestWithCORS_ConsoleOrigins(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins:   []string{"https://crm.example.com", "http://127.0.0.1:*"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var reached int
	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}), cfg, log)

	t.Run("preflight for login", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/login", nil)
		req.Header.Set("Origin", "https://crm.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "https://crm.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
		assert.Zero(t, reached)
	})

	t.Run("local dev server on any port", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("Origin", "http://127.0.0.1:5173")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "http://127.0.0.1:5173", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, 1, reached)
	})

	t.Run("foreign origin", func(t *testing.T) {
		for _, origin := range []string{"https://evil.example.com", "http://127.0.0.1", "not a url"} {
			req := httptest.NewRequest(http.MethodPost, "/logout", nil)
			req.Header.Set("Origin", origin)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusForbidden, rr.Code, origin)
			assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), origin)
		}
		assert.Equal(t, 1, reached)
	})

	t.Run("same origin without header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 2, reached)
	})
}

func TestWithSecurityHeaders_OnGuardRedirect(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?next=%2Freports", http.StatusSeeOther)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports", nil))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
}
