package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// CookieConfig controls the attributes of token cookies.
type CookieConfig struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookieConfig is site-wide, secure and strict-site.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// cookieRecord is the on-disk form of one cookie.
type cookieRecord struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"same_site"`
}

// CookieBackend is the fallback backend: a persisted cookie jar. Each token is one cookie named
// after its key; an expired cookie reads as absent.
type CookieBackend struct {
	path string
	cfg  CookieConfig
	now  func() time.Time

	mu sync.Mutex
}

// CookieOption configures a CookieBackend.
type CookieOption func(*CookieBackend)

// WithCookieClock overrides the clock used for expirations.
func WithCookieClock(now func() time.Time) CookieOption {
	return func(c *CookieBackend) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCookieConfig overrides the cookie attributes.
func WithCookieConfig(cfg CookieConfig) CookieOption {
	return func(c *CookieBackend) {
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = "/"
		}
		c.cfg = cfg
	}
}

// NewCookieBackend returns a cookie jar persisted at path.
func NewCookieBackend(path string, opts ...CookieOption) *CookieBackend {
	c := &CookieBackend{
		path: path,
		cfg:  DefaultCookieConfig(),
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

func (c *CookieBackend) Name() string { return "cookie" }

func (c *CookieBackend) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		return "", false, err
	}
	now := c.now()
	for _, rec := range jar {
		if rec.Name != key {
			continue
		}
		if !rec.Expires.IsZero() && !rec.Expires.After(now) {
			return "", false, nil
		}
		return rec.Value, rec.Value != "", nil
	}
	return "", false, nil
}

func (c *CookieBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	ck := c.cookie(key, value, ttl)
	if err := ck.Valid(); err != nil {
		return fmt.Errorf("cookie %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		return err
	}
	jar = c.withoutExpired(removeRecord(jar, key))
	jar = append(jar, toRecord(ck))
	return c.write(jar)
}

func (c *CookieBackend) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		return err
	}
	next := removeRecord(jar, key)
	if len(next) == len(jar) {
		return nil
	}
	return c.write(next)
}

// Cookies returns the live cookies in the jar, e.g. to mirror them onto an HTTP response.
func (c *CookieBackend) Cookies() ([]*http.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		return nil, err
	}
	jar = c.withoutExpired(jar)
	out := make([]*http.Cookie, 0, len(jar))
	for _, rec := range jar {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (c *CookieBackend) cookie(name, value string, ttl time.Duration) *http.Cookie {
	if ttl <= 0 {
		ttl = AccessCookieTTL
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Expires:  c.now().Add(ttl).UTC(),
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	}
}

func (c *CookieBackend) withoutExpired(jar []cookieRecord) []cookieRecord {
	now := c.now()
	out := jar[:0]
	for _, rec := range jar {
		if !rec.Expires.IsZero() && !rec.Expires.After(now) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (c *CookieBackend) read() ([]cookieRecord, error) {
	if c.path == "" {
		return nil, ErrUnavailable
	}
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var jar []cookieRecord
	if err := json.Unmarshal(b, &jar); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.path, err)
	}
	return jar, nil
}

func (c *CookieBackend) write(jar []cookieRecord) error {
	if c.path == "" {
		return ErrUnavailable
	}
	if jar == nil {
		jar = []cookieRecord{}
	}
	return writeFileAtomic(c.path, jar)
}

func removeRecord(jar []cookieRecord, name string) []cookieRecord {
	out := make([]cookieRecord, 0, len(jar))
	for _, rec := range jar {
		if rec.Name != name {
			out = append(out, rec)
		}
	}
	return out
}

func toRecord(ck *http.Cookie) cookieRecord {
	return cookieRecord{
		Name:     ck.Name,
		Value:    ck.Value,
		Path:     ck.Path,
		Domain:   ck.Domain,
		Expires:  ck.Expires,
		Secure:   ck.Secure,
		SameSite: formatSameSite(ck.SameSite),
	}
}

func fromRecord(rec cookieRecord) *http.Cookie {
	return &http.Cookie{
		Name:     rec.Name,
		Value:    rec.Value,
		Path:     rec.Path,
		Domain:   rec.Domain,
		Expires:  rec.Expires,
		Secure:   rec.Secure,
		SameSite: ParseSameSite(rec.SameSite),
	}
}

// ParseSameSite maps "strict", "lax", "none" and "default" to http.SameSite (strict otherwise).
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}

func formatSameSite(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteNoneMode:
		return "none"
	case http.SameSiteDefaultMode:
		return "default"
	default:
		return "strict"
	}
}
