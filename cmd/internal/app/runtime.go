package app

import (
	"context"
	"fmt"
	"log/slog"

	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/session"
	"crm/cmd/internal/auth/tokenstore"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Runtime is the per-operator session stack shared by the console server and the CLI:
// ranked token backends, the Identity Service client and the single session controller.
type Runtime struct {
	Config   Config
	Log      *slog.Logger
	Tokens   *tokenstore.Store
	Identity identity.Client
	Session  *session.Controller

	pool *pgxpool.Pool
}

// RuntimeOption overrides a runtime dependency, mostly for tests.
type RuntimeOption func(*runtimeDeps)

type runtimeDeps struct {
	identity identity.Client
	backends []tokenstore.Backend
}

// WithIdentityClient replaces the HTTP Identity Service client.
func WithIdentityClient(c identity.Client) RuntimeOption {
	return func(d *runtimeDeps) { d.identity = c }
}

// WithTokenBackends replaces the configured backends, in priority order.
func WithTokenBackends(backends ...tokenstore.Backend) RuntimeOption {
	return func(d *runtimeDeps) { d.backends = backends }
}

// BuildRuntime wires the session stack from cfg. The primary token backend is Postgres when
// CRM_DATABASE_URL is set and the per-profile file otherwise; the cookie jar is the fallback.
func BuildRuntime(ctx context.Context, cfg Config, log *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	var deps runtimeDeps
	for _, o := range opts {
		o(&deps)
	}

	rt := &Runtime{Config: cfg, Log: log}

	backends := deps.backends
	if len(backends) == 0 {
		primary, pool, err := primaryBackend(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		cookies := tokenstore.NewCookieBackend(cfg.CookieJarFile(), tokenstore.WithCookieConfig(cfg.Cookie))
		backends = []tokenstore.Backend{primary, cookies}
	}
	rt.Tokens = tokenstore.New(log, backends...)

	rt.Identity = deps.identity
	if rt.Identity == nil {
		client, err := identity.NewHTTPClient(cfg.Identity, identity.WithLogger(log))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Identity = client
	}

	rt.Session = session.NewController(rt.Identity, rt.Tokens, session.WithLogger(log))

	log.Info("runtime.ready",
		"profile", cfg.Profile,
		"backends", rt.Tokens.Backends(),
		"identity", cfg.Identity.BaseURL,
	)
	return rt, nil
}

func primaryBackend(ctx context.Context, cfg Config, log *slog.Logger) (tokenstore.Backend, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Debug("tokenstore.primary.file", "path", cfg.TokenFile())
		return tokenstore.NewFileBackend(cfg.TokenFile()), nil, nil
	}

	pool, err := openTokenDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("token db: %w", err)
	}
	pg, err := tokenstore.NewPostgresBackend(pool, cfg.Profile)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("token db schema: %w", err)
	}
	log.Info("tokenstore.primary.postgres", "profile", cfg.Profile)
	return pg, pool, nil
}

// DB returns the token database pool, or nil when the file backend is primary.
func (rt *Runtime) DB() *pgxpool.Pool { return rt.pool }

// Close releases the database pool, if any. Safe to call more than once.
func (rt *Runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
		rt.pool = nil
	}
}
