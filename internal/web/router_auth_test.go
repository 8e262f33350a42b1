package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/dashboard"
	"github.com/eslider/inboxwatch/internal/storage"
	"github.com/eslider/inboxwatch/internal/upstream"
)

func TestProtectedRoutesRequireAuth(t *testing.T) {
	dir := t.TempDir()
	sessions, err := auth.NewSessionStore(context.Background(), auth.NewBlobSessionBackend(storage.NewFSBlobStore(dir)))
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	client := upstream.NewClient("http://127.0.0.1:1", upstream.DefaultEndpoints(), nil)
	ws := NewWorkspaces(client, sessions, dashboard.Options{})
	t.Cleanup(ws.Close)

	handler := NewRouter(Config{Sessions: sessions, Upstream: client, Workspaces: ws})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/state"},
		{http.MethodPost, "/api/search"},
		{http.MethodGet, "/api/accounts"},
		{http.MethodPost, "/search"},
		{http.MethodPost, "/logout"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Accept", "application/json")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s without auth: status = %d, want 401", tt.method, tt.path, rec.Code)
			}
		})
	}

	if ws.Len() != 0 {
		t.Errorf("unauthenticated requests created %d workspaces", ws.Len())
	}
}

func TestDashboardRedirectsBrowsersToLogin(t *testing.T) {
	sessions, err := auth.NewSessionStore(context.Background(), auth.NewBlobSessionBackend(storage.NewFSBlobStore(t.TempDir())))
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	client := upstream.NewClient("http://127.0.0.1:1", upstream.DefaultEndpoints(), nil)
	ws := NewWorkspaces(client, sessions, dashboard.Options{})
	t.Cleanup(ws.Close)
	handler := NewRouter(Config{Sessions: sessions, Upstream: client, Workspaces: ws})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("GET / without auth: status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}
