package app

import (
	"errors"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	base := func() Config {
		c := Config{HTTPAddr: "127.0.0.1:8080"}
		c.Identity.BaseURL = "http://localhost:5000/api/"
		return c
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "loopback", mutate: func(*Config) {}, ok: true},
		{name: "localhost", mutate: func(c *Config) { c.HTTPAddr = "localhost:9000" }, ok: true},
		{name: "ipv6 loopback", mutate: func(c *Config) { c.HTTPAddr = "[::1]:8080" }, ok: true},
		{name: "bind all without opt-in", mutate: func(c *Config) { c.HTTPAddr = "0.0.0.0:8080" }},
		{name: "empty host without opt-in", mutate: func(c *Config) { c.HTTPAddr = ":8080" }},
		{name: "malformed addr", mutate: func(c *Config) { c.HTTPAddr = "8080" }},
		{name: "remote with local identity", mutate: func(c *Config) {
			c.HTTPAddr = "0.0.0.0:8080"
			c.AllowRemote = true
		}, ok: true},
		{name: "remote with plaintext identity", mutate: func(c *Config) {
			c.HTTPAddr = "0.0.0.0:8080"
			c.AllowRemote = true
			c.Identity.BaseURL = "http://identity.example.com/api/"
		}},
		{name: "remote with tls identity", mutate: func(c *Config) {
			c.HTTPAddr = "0.0.0.0:8080"
			c.AllowRemote = true
			c.Identity.BaseURL = "https://identity.example.com/api/"
		}, ok: true},
		{name: "cors wildcard with credentials", mutate: func(c *Config) {
			c.CORSAllowedOrigins = []string{"*"}
			c.CORSAllowCredentials = true
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrSecurityPolicy) {
				t.Fatalf("expected ErrSecurityPolicy, got %v", err)
			}
		})
	}
}
