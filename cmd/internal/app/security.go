package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrSecurityPolicy is returned when the configuration violates the console's exposure policy.
var ErrSecurityPolicy = errors.New("security policy")

// ValidateConfig enforces the console's security policy at startup.
//
// The console holds one operator's live tokens, so it binds to loopback unless CRM_ALLOW_REMOTE
// is set, and a remotely reachable console must talk to the Identity Service over TLS.
func ValidateConfig(cfg Config) error {
	host, _, err := net.SplitHostPort(cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("%w: CRM_HTTP_ADDR %q: %v", ErrSecurityPolicy, cfg.HTTPAddr, err)
	}

	if !cfg.AllowRemote && !isLoopbackHost(host) {
		return fmt.Errorf("%w: CRM_HTTP_ADDR %q is not loopback; set CRM_ALLOW_REMOTE=true to expose the console", ErrSecurityPolicy, cfg.HTTPAddr)
	}

	if cfg.AllowRemote {
		u, err := url.Parse(cfg.Identity.BaseURL)
		if err != nil {
			return fmt.Errorf("%w: CRM_IDENTITY_BASE_URL: %v", ErrSecurityPolicy, err)
		}
		if u.Scheme != "https" && !isLoopbackHost(u.Hostname()) {
			return fmt.Errorf("%w: CRM_ALLOW_REMOTE=true requires an https CRM_IDENTITY_BASE_URL", ErrSecurityPolicy)
		}
	}

	for _, o := range cfg.CORSAllowedOrigins {
		if strings.TrimSpace(o) == "*" && cfg.CORSAllowCredentials {
			return fmt.Errorf("%w: CORS wildcard origin cannot be combined with credentials", ErrSecurityPolicy)
		}
	}

	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
