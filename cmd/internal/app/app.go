// Package app wires the CRM console: config, logging, the session runtime, HTTP views and the
// websocket session stream.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"crm/cmd/internal/stream"
)

// App is the console server. It serves one operator's session held by a Runtime.
type App struct {
	cfg Config
	log *slog.Logger
	rt  *Runtime

	ws       *stream.Gateway
	throttle *loginThrottle

	// intent serializes mutating session requests.
	intent sync.Mutex
}

// New constructs the console on top of rt. The caller owns rt and closes it after Run returns.
func New(rt *Runtime) *App {
	log := rt.Log
	if log == nil {
		log = slog.Default()
	}
	return &App{
		cfg: rt.Config,
		log: log,
		rt:  rt,
		ws:  stream.NewGateway(log.With("component", "stream"), rt.Session, rt.Config.Stream),

		throttle: newLoginThrottle(rt.Config),
	}
}

// Handler returns the fully wrapped console handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, a.cfg, a.log)
	}
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run restores the persisted session, starts the HTTP server and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	if err := ValidateConfig(a.cfg); err != nil {
		return err
	}

	st := a.rt.Session.InitializeAuth(ctx)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"stream_url", wsBaseURL(base)+"/ws/session",
		"session_status", st.Status.String(),
		"db_enabled", a.rt.DB() != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
