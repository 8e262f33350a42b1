package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/problems"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/rotisserie/eris"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/dashboard"
	"github.com/eslider/inboxwatch/internal/model"
	"github.com/eslider/inboxwatch/internal/upstream"
)

// flushTimeout bounds how long a handler waits for the controller to fold
// pending messages before rendering.
const flushTimeout = 2 * time.Second

// --- Auth handlers ---

func handleLoginPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		renderLogin(w, "")
	}
}

func handleLoginSubmit(client Upstream, sessions *auth.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")

		if username == "" || password == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			renderLogin(w, "Username and password are required.")
			return
		}

		token, err := client.Login(r.Context(), username, password)
		if err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if eris.Is(err, upstream.ErrLogin) {
				w.WriteHeader(http.StatusUnauthorized)
				renderLogin(w, "Invalid username or password.")
				return
			}
			slog.Error("Upstream login failed", slog.String("user", username), sloki.WrapError(err))
			w.WriteHeader(http.StatusBadGateway)
			renderLogin(w, "The mail-check service is unavailable. Try again later.")
			return
		}

		sess, err := sessions.Create(r.Context(), username, token)
		if err != nil {
			slog.Error("Failed to create session", sloki.WrapError(err))
			problems.InternalServerError("session creation failed").WriteToHTTP(w)
			return
		}

		slog.Info("Operator signed in", slog.String("user", username))
		auth.SetCookie(w, sess.Token)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func handleLogout(client Upstream, sessions *auth.SessionStore, ws *Workspaces) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := auth.SessionFromContext(r.Context())
		cred := ws.Credential(sess)
		if err := client.Logout(r.Context(), cred); err != nil {
			// The local session ends regardless.
			slog.Warn("Upstream logout failed", slog.String("user", sess.Username), sloki.WrapError(err))
		}
		sessions.Delete(r.Context(), sess.Token)
		ws.Drop(sess.Token)
		auth.ClearCookie(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

// --- Dashboard pages ---

func handleDashboard(ws *Workspaces) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := auth.SessionFromContext(r.Context())
		ctrl := ws.For(sess)

		if _, err := ctrl.LoadAccounts(r.Context()); err != nil && eris.Is(err, dashboard.ErrAuth) {
			auth.ClearCookie(w)
			auth.Unauthorized(w, r)
			return
		}
		view, ok := currentView(r.Context(), ctrl)
		if !ok || view.SignedOut {
			auth.ClearCookie(w)
			auth.Unauthorized(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderDashboard(w, dashboardPage{View: view, Username: sess.Username}); err != nil {
			slog.Error("Failed to render dashboard", sloki.WrapError(err))
		}
	}
}

func handleSearchForm(ws *Workspaces) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		sess, _ := auth.SessionFromContext(r.Context())

		_, err := ws.For(sess).StartSearch(r.Context(), r.FormValue("query"))
		switch {
		case err == nil, eris.Is(err, dashboard.ErrValidation):
			// Validation failures show up as a notice on the dashboard.
			http.Redirect(w, r, "/", http.StatusSeeOther)
		case eris.Is(err, dashboard.ErrAuth), eris.Is(err, dashboard.ErrClosed):
			auth.ClearCookie(w)
			auth.Unauthorized(w, r)
		default:
			slog.Error("Failed to start search", sloki.WrapError(err))
			problems.InternalServerError("could not start search").WriteToHTTP(w)
		}
	}
}

// --- Dashboard API ---

type searchBody struct {
	Query string `json:"query"`
}

func handleStartSearch(ws *Workspaces) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			problems.CouldNotDecodeBody().WriteToHTTP(w)
			return
		}
		sess, _ := auth.SessionFromContext(r.Context())

		round, err := ws.For(sess).StartSearch(r.Context(), body.Query)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]model.Round{"round": round})
		case eris.Is(err, dashboard.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case eris.Is(err, dashboard.ErrAuth), eris.Is(err, dashboard.ErrClosed):
			auth.ClearCookie(w)
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			slog.Error("Failed to start search", sloki.WrapError(err))
			problems.InternalServerError("could not start search").WriteToHTTP(w)
		}
	}
}

func handleState(ws *Workspaces) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := auth.SessionFromContext(r.Context())
		view, ok := currentView(r.Context(), ws.For(sess))
		if !ok {
			writeError(w, http.StatusUnauthorized, dashboard.ErrAuth.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleListAccounts(ws *Workspaces) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := auth.SessionFromContext(r.Context())

		accounts, err := ws.For(sess).LoadAccounts(r.Context())
		switch {
		case err == nil:
			if accounts == nil {
				accounts = []model.Account{}
			}
			writeJSON(w, http.StatusOK, accounts)
		case eris.Is(err, dashboard.ErrAuth):
			auth.ClearCookie(w)
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// --- Helpers ---

// currentView waits for pending updates and projects the snapshot. It
// reports false once the controller has been shut down.
func currentView(ctx context.Context, ctrl *dashboard.Controller) (dashboard.View, bool) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := ctrl.Flush(ctx); err != nil && ctx.Err() == nil {
		return dashboard.View{}, false
	}
	return dashboard.BuildView(ctrl.Snapshot(), time.Now()), true
}
