package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/dashboard"
	"github.com/eslider/inboxwatch/internal/model"
)

type workspace struct {
	cred *auth.Credential
	ctrl *dashboard.Controller
}

// Workspaces holds one dashboard controller per signed-in session. A
// controller is created on the session's first request and dropped, together
// with the session, when its upstream credential is invalidated.
type Workspaces struct {
	mu       sync.Mutex
	byToken  map[string]*workspace
	backend  dashboard.Backend
	sessions *auth.SessionStore
	opts     dashboard.Options
}

// NewWorkspaces creates an empty registry.
func NewWorkspaces(backend dashboard.Backend, sessions *auth.SessionStore, opts dashboard.Options) *Workspaces {
	return &Workspaces{
		byToken:  make(map[string]*workspace),
		backend:  backend,
		sessions: sessions,
		opts:     opts,
	}
}

// For returns the controller of sess, creating it on first use.
func (ws *Workspaces) For(sess model.Session) *dashboard.Controller {
	return ws.get(sess).ctrl
}

// Credential returns the upstream credential of sess.
func (ws *Workspaces) Credential(sess model.Session) *auth.Credential {
	return ws.get(sess).cred
}

func (ws *Workspaces) get(sess model.Session) *workspace {
	ws.mu.Lock()
	if w, ok := ws.byToken[sess.Token]; ok {
		ws.mu.Unlock()
		return w
	}
	cred := auth.NewCredential(sess.Upstream)
	w := &workspace{cred: cred, ctrl: dashboard.New(ws.backend, cred, ws.opts)}
	ws.byToken[sess.Token] = w
	ws.mu.Unlock()

	token := sess.Token
	cred.OnInvalidate(func(reason string) {
		slog.Info("Signing out dashboard session",
			slog.String("user", sess.Username), slog.String("reason", reason))
		ws.sessions.Delete(context.Background(), token)
		ws.Drop(token)
	})
	return w
}

// Drop stops the controller of a session, if any.
func (ws *Workspaces) Drop(token string) {
	ws.mu.Lock()
	w, ok := ws.byToken[token]
	delete(ws.byToken, token)
	ws.mu.Unlock()
	if ok {
		w.ctrl.Close()
	}
}

// Len returns the number of live workspaces.
func (ws *Workspaces) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.byToken)
}

// Close stops every controller.
func (ws *Workspaces) Close() {
	ws.mu.Lock()
	all := ws.byToken
	ws.byToken = make(map[string]*workspace)
	ws.mu.Unlock()
	for _, w := range all {
		w.ctrl.Close()
	}
}
