package app

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiPattern.ReplaceAllString(s, "") }

// visualLen counts runes as printed, ignoring color escapes.
func visualLen(s string) int { return utf8.RuneCountInString(stripANSI(s)) }

func paint(s, color string, on bool) string {
	if !on {
		return s
	}
	return color + s + ansiReset
}

func colorizeHTTPMethod(m string, on bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiGreen, on)
	case "POST":
		return paint(m, ansiBlue, on)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, on)
	case "DELETE":
		return paint(m, ansiRed, on)
	default:
		return paint(m, ansiMagenta, on)
	}
}

func colorizeStatusCode(code int, on bool) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return paint(s, ansiRed, on)
	case code >= 400:
		return paint(s, ansiYellow, on)
	case code >= 300:
		return paint(s, ansiCyan, on)
	default:
		return paint(s, ansiGreen, on)
	}
}

func colorizeStatusClass(class string, on bool) string {
	switch class {
	case "5xx":
		return paint(class, ansiRed, on)
	case "4xx":
		return paint(class, ansiYellow, on)
	case "3xx":
		return paint(class, ansiCyan, on)
	default:
		return paint(class, ansiGreen, on)
	}
}

func colorizeDurationMS(ms int64, on bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, on)
	case ms >= 250:
		return paint(s, ansiYellow, on)
	default:
		return paint(s, ansiDim, on)
	}
}

func colorizeResult(result string, on bool) string {
	switch {
	case result == "success" || result == "ok" || result == "allowed":
		return paint(result, ansiGreen, on)
	case result == "redirect":
		return paint(result, ansiCyan, on)
	case strings.HasSuffix(result, "error") || result == "denied":
		return paint(result, ansiRed, on)
	default:
		return paint(result, ansiYellow, on)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	}
	return 0, false
}
