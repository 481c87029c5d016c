package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var jsonBuf bytes.Buffer
	NewLogger(&jsonBuf, "info", "json").Info("session.logout.ok", "profile", "default")

	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not decodable: %v (%q)", err, jsonBuf.String())
	}
	if rec["msg"] != "session.logout.ok" || rec["profile"] != "default" {
		t.Fatalf("unexpected record: %v", rec)
	}

	var prettyBuf bytes.Buffer
	NewLogger(&prettyBuf, "debug", "pretty").Debug("guard.allowed")
	if !strings.Contains(prettyBuf.String(), "event=guard.allowed") {
		t.Fatalf("pretty output %q", prettyBuf.String())
	}
}
