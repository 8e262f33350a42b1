// Package web provides the HTTP router and handlers for the search dashboard.
package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/dashboard"
)

// StaticDir is the path to static assets, set at startup.
var StaticDir string

// TemplateDir is the path to HTML templates, set at startup.
var TemplateDir string

// Upstream is the mail-check service as used by the web layer.
// *upstream.Client implements it.
type Upstream interface {
	dashboard.Backend
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, cred *auth.Credential) error
}

// Config holds dependencies for the web layer.
type Config struct {
	Sessions   *auth.SessionStore
	Upstream   Upstream
	Workspaces *Workspaces
}

// NewRouter creates the Chi router with all routes.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	if StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(StaticDir))))
	}

	// Public routes.
	r.Group(func(r chi.Router) {
		r.Get("/login", handleLoginPage())
		r.Post("/login", handleLoginSubmit(cfg.Upstream, cfg.Sessions))
		r.Get("/health", handleHealth())
	})

	// Protected routes (require authentication).
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(cfg.Sessions))

		// Pages.
		r.Get("/", handleDashboard(cfg.Workspaces))
		r.Post("/search", handleSearchForm(cfg.Workspaces))
		r.Post("/logout", handleLogout(cfg.Upstream, cfg.Sessions, cfg.Workspaces))

		// Dashboard API.
		r.Get("/api/state", handleState(cfg.Workspaces))
		r.Post("/api/search", handleStartSearch(cfg.Workspaces))
		r.Get("/api/accounts", handleListAccounts(cfg.Workspaces))
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
