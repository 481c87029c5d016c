package identity

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrConfig is returned for invalid client configuration.
var ErrConfig = errors.New("identity: invalid config")

// Config controls the Identity Service client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com/api/". Routes are resolved below it.
	BaseURL string

	// Timeout bounds every outbound call. Expiry is reported as a timeout, not a network error.
	Timeout time.Duration

	// RPS and Burst throttle outbound calls client-side (0 RPS disables the limiter).
	RPS   float64
	Burst int

	// MaxResponseBytes caps decoded response bodies.
	MaxResponseBytes int64

	UserAgent string
}

// DefaultConfig returns defaults suitable for a local Identity Service.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:5000/api/",
		Timeout:          10 * time.Second,
		RPS:              5,
		Burst:            10,
		MaxResponseBytes: 1 << 20,
		UserAgent:        "crm-console",
	}
}

func (c Config) validate() (*url.URL, error) {
	raw := strings.TrimSpace(c.BaseURL)
	if raw == "" {
		return nil, ErrConfig
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrConfig
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if c.Timeout <= 0 {
		return nil, ErrConfig
	}
	return u, nil
}
