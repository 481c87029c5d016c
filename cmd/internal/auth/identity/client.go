package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm/cmd/internal/auth/tokenstore"
	"crm/cmd/internal/ids"

	"golang.org/x/time/rate"
)

// Client is the Identity Service boundary consumed by the session controller.
type Client interface {
	Login(ctx context.Context, req LoginRequest) (AuthResult, error)
	Signup(ctx context.Context, req SignupRequest) (AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error)
	Me(ctx context.Context, accessToken string) (AuthResult, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) (string, error)
	ListCompanies(ctx context.Context, accessToken string, q CompanyQuery) (CompanyPage, error)
}

// envelope is the wrapper around every Identity Service response.
type envelope struct {
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Reason  string          `json:"reason,omitempty"`
	Result  json.RawMessage `json:"result"`
}

// HTTPClient implements Client over JSON/HTTP.
type HTTPClient struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying *http.Client (its Timeout is left as provided).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *HTTPClient) {
		if log != nil {
			c.log = log
		}
	}
}

// NewHTTPClient validates cfg and builds a client.
func NewHTTPClient(cfg Config, opts ...Option) (*HTTPClient, error) {
	base, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 1 << 20
	}

	c := &HTTPClient{
		cfg:  cfg,
		base: base,
		http: &http.Client{},
		log:  slog.Default(),
		now:  time.Now,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	return c.auth(ctx, "identity.Login", http.MethodPost, "auth/login", "", req)
}

func (c *HTTPClient) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	return c.auth(ctx, "identity.Signup", http.MethodPost, "auth/signup", "", req)
}

func (c *HTTPClient) Me(ctx context.Context, accessToken string) (AuthResult, error) {
	return c.auth(ctx, "identity.Me", http.MethodGet, "auth/me", accessToken, nil)
}

func (c *HTTPClient) Logout(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, "identity.Logout", http.MethodPost, "auth/logout", nil, accessToken, nil)
	return err
}

func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	const op = "identity.Refresh"
	body := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refreshToken}

	env, err := c.do(ctx, op, http.MethodPost, "auth/refresh", nil, "", body)
	if err != nil {
		return tokenstore.Pair{}, err
	}
	res, err := decodeAuthResult(env.Result)
	if err != nil || !res.Tokens.Complete() {
		return tokenstore.Pair{}, fmt.Errorf("%s: %w", op, ErrMalformedResponse)
	}
	return res.Tokens, nil
}

func (c *HTTPClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	env, err := c.do(ctx, "identity.ForgotPassword", http.MethodPost, "auth/forgot-password", nil, "", body)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *HTTPClient) ResetPassword(ctx context.Context, token, password string) (string, error) {
	body := struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}{Token: token, Password: password}
	env, err := c.do(ctx, "identity.ResetPassword", http.MethodPost, "auth/reset-password", nil, "", body)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *HTTPClient) ListCompanies(ctx context.Context, accessToken string, q CompanyQuery) (CompanyPage, error) {
	const op = "identity.ListCompanies"
	query := url.Values{}
	if s := strings.TrimSpace(q.Search); s != "" {
		query.Set("search", s)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	env, err := c.do(ctx, op, http.MethodGet, "auth/companies", query, accessToken, nil)
	if err != nil {
		return CompanyPage{}, err
	}
	var page CompanyPage
	if err := json.Unmarshal(env.Result, &page); err != nil {
		return CompanyPage{}, fmt.Errorf("%s: %w", op, ErrMalformedResponse)
	}
	return page, nil
}

func (c *HTTPClient) auth(ctx context.Context, op, method, route, token string, body any) (AuthResult, error) {
	env, err := c.do(ctx, op, method, route, nil, token, body)
	if err != nil {
		return AuthResult{}, err
	}
	res, err := decodeAuthResult(env.Result)
	if err != nil || res.User == nil {
		return AuthResult{}, fmt.Errorf("%s: %w", op, ErrMalformedResponse)
	}
	return res, nil
}

// do performs one call under the configured timeout and decodes the envelope.
func (c *HTTPClient) do(ctx context.Context, op, method, route string, query url.Values, token string, body any) (envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.limiter != nil {
		// Wait fails early when the deadline cannot accommodate the next token.
		if err := c.limiter.Wait(ctx); err != nil {
			return envelope{}, &TransportError{Op: op, Kind: ErrTimeout, Err: err}
		}
	}

	u := c.base.ResolveReference(&url.URL{Path: route})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("%s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return envelope{}, fmt.Errorf("%s: %w", op, err)
	}
	reqID := ids.NewRequestID(c.now())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		terr := c.transportError(ctx, op, err)
		c.log.Warn("identity.call.fail", "op", op, "request_id", reqID, "err", terr)
		return envelope{}, terr
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return envelope{}, c.transportError(ctx, op, err)
	}

	c.log.Debug("identity.call",
		"op", op,
		"request_id", reqID,
		"status", resp.StatusCode,
		"duration_ms", c.now().Sub(start).Milliseconds(),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(env.Message)
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return envelope{}, &APIError{Op: op, Status: resp.StatusCode, Message: msg, Reason: env.Reason}
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("%s: %w", op, ErrMalformedResponse)
	}
	if env.Error {
		return envelope{}, &APIError{Op: op, Status: resp.StatusCode, Message: env.Message, Reason: env.Reason}
	}
	return env, nil
}

func (c *HTTPClient) transportError(ctx context.Context, op string, err error) error {
	kind := ErrNetwork
	var ne net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = ErrTimeout
	}
	return &TransportError{Op: op, Kind: kind, Err: err}
}
