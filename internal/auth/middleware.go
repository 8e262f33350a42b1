package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/eslider/inboxwatch/internal/model"
)

type ctxKey string

const sessionKey ctxKey = "session"

// RequireAuth is middleware that checks for a valid dashboard session.
// Redirects to the login page for HTML requests, returns 401 for API requests.
func RequireAuth(sessions *SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				Unauthorized(w, r)
				return
			}

			sess := sessions.Get(token)
			if sess == nil {
				ClearCookie(w)
				Unauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, *sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (model.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(model.Session)
	return sess, ok
}

// Unauthorized answers API requests with a JSON 401 and redirects browsers
// to /login.
func Unauthorized(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "application/json" || strings.HasPrefix(r.URL.Path, "/api") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
