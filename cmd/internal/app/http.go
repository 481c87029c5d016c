package app

import (
	"net/http"
	"time"

	"crm/cmd/internal/auth/guard"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	loginPath   = "/login"
	landingPath = "/dashboard"
)

func registerHTTP(mux *http.ServeMux, a *App) {
	cfg := a.cfg
	log := a.log

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		pool := a.rt.DB()
		if cfg.ReadinessRequireDB && pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if pool != nil {
			if err := pingTokenDB(r.Context(), pool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /login", a.handleLoginPage)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /logout", a.handleLogout)
	mux.HandleFunc("POST /register", a.handleRegister)

	mux.HandleFunc("GET /api/session", a.handleSession)
	mux.HandleFunc("POST /api/session/refresh", a.handleRefresh)
	mux.HandleFunc("GET /api/permissions/check", a.handlePermissionCheck)

	mux.Handle("GET /ws/session", a.ws)

	mux.Handle("GET /{$}", http.RedirectHandler(landingPath, http.StatusSeeOther))

	for _, v := range consoleViews {
		protect := guard.Protect(a.rt.Session, a.rt.Tokens, guard.Options{
			MinRole:      v.MinRole,
			Capabilities: v.Capabilities,
			Grace:        cfg.GuardGrace,
			LoginPath:    loginPath,
			LandingPath:  landingPath,
			Logger:       log.With("view", v.Path),
		})
		mux.Handle("GET "+v.Path, protect(a.handleView(v)))
	}
}
