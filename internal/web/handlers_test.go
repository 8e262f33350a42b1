package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/dashboard"
	"github.com/eslider/inboxwatch/internal/storage"
	"github.com/eslider/inboxwatch/internal/upstream"
)

// fakeMailCheck mimics the upstream mail-check service.
type fakeMailCheck struct {
	revoked   atomic.Bool
	logouts   atomic.Int32
	directory atomic.Int32
}

func (f *fakeMailCheck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/login" {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] == "ops" && body["password"] == "secret" {
			io.WriteString(w, `{"token":"up-tok"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message":"Invalid credentials"}`)
		return
	}

	if f.revoked.Load() || r.Header.Get("Authorization") != "up-tok" {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message":"Token is invalid"}`)
		return
	}

	switch r.URL.Path {
	case "/api/emails":
		f.directory.Add(1)
		io.WriteString(w, `{"status":"OK","results":[{"id":1,"email":"a@example.com"},{"id":2,"email":"b@example.com"},{"id":3,"email":"c@example.com"}]}`)
	case "/api/check":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch body["email"] {
		case "a@example.com":
			io.WriteString(w, `{"status":"OK","results":{"email":"a@example.com","results":[
				{"type":"inbox","date":"Mon, 10 Feb 2025 09:00:00 GMT","diff_time":"","text":"Invoice attached","subject":"Invoice #1","sender_email":"billing@shop.test","sender_name":"Shop"}],
				"inbox":2,"spam":0,"not_found":0,"type":"valid"}}`)
		case "b@example.com":
			io.WriteString(w, `{"status":"OK","results":{"email":"b@example.com","results":[],"inbox":0,"spam":1,"not_found":0,"type":"valid"}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"message":"mailbox offline"}`)
		}
	case "/api/logout":
		f.logouts.Add(1)
		io.WriteString(w, `{"status":"OK"}`)
	default:
		http.NotFound(w, r)
	}
}

type testApp struct {
	handler  http.Handler
	upstream *fakeMailCheck
	ws       *Workspaces
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	fake := &fakeMailCheck{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sessions, err := auth.NewSessionStore(context.Background(), auth.NewBlobSessionBackend(storage.NewFSBlobStore(t.TempDir())))
	require.NoError(t, err)
	client := upstream.NewClient(srv.URL, upstream.DefaultEndpoints(), srv.Client())
	ws := NewWorkspaces(client, sessions, dashboard.Options{RequestTimeout: 5 * time.Second})
	t.Cleanup(ws.Close)

	return &testApp{
		handler:  NewRouter(Config{Sessions: sessions, Upstream: client, Workspaces: ws}),
		upstream: fake,
		ws:       ws,
	}
}

func (a *testApp) do(method, path, body string, cookie *http.Cookie, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) login(t *testing.T) *http.Cookie {
	t.Helper()
	form := url.Values{"username": {"ops"}, "password": {"secret"}}
	rec := a.do(http.MethodPost, "/login", form.Encode(), nil, "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	for _, c := range rec.Result().Cookies() {
		if c.Value != "" {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func (a *testApp) state(t *testing.T, cookie *http.Cookie) (dashboard.View, int) {
	t.Helper()
	rec := a.do(http.MethodGet, "/api/state", "", cookie, "")
	var v dashboard.View
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	}
	return v, rec.Code
}

func TestLoginFailures(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/login", url.Values{"username": {"ops"}}.Encode(), nil, "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required")

	rec = app.do(http.MethodPost, "/login", url.Values{"username": {"ops"}, "password": {"nope"}}.Encode(), nil, "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
	assert.Empty(t, rec.Result().Cookies())
}

func TestSearchRoundOverHTTP(t *testing.T) {
	app := newTestApp(t)
	cookie := app.login(t)

	rec := app.do(http.MethodPost, "/api/search", `{"query":"invoice"}`, cookie, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started struct {
		Round struct {
			ID    string `json:"id"`
			Query string `json:"query"`
		} `json:"round"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "invoice", started.Round.Query)
	assert.NotEmpty(t, started.Round.ID)

	var view dashboard.View
	require.Eventually(t, func() bool {
		v, code := app.state(t, cookie)
		view = v
		return code == http.StatusOK && !v.Loading
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, dashboard.Percentages{Inbox: 66.67, Spam: 33.33}, view.Percentages)
	assert.Equal(t, 3, view.Completed)
	require.Len(t, view.Cards, 3)
	assert.Equal(t, "valid", view.Cards[0].Label)
	require.Len(t, view.Cards[0].Items, 1)
	assert.Equal(t, dashboard.BadgeInbox, view.Cards[0].Items[0].Badge)
	assert.NotEmpty(t, view.Cards[0].Items[0].RelativeAge)
	assert.True(t, view.Cards[2].Failed)
	require.Len(t, view.Notices, 1)
	assert.Equal(t, "c@example.com", view.Notices[0].Account)

	page := app.do(http.MethodGet, "/", "", cookie, "")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "66.67")
	assert.Contains(t, page.Body.String(), "Invoice #1")
	assert.NotContains(t, page.Body.String(), `http-equiv="refresh"`)

	accounts := app.do(http.MethodGet, "/api/accounts", "", cookie, "")
	require.Equal(t, http.StatusOK, accounts.Code)
	assert.Contains(t, accounts.Body.String(), "b@example.com")
	assert.Equal(t, int32(1), app.upstream.directory.Load())
}

func TestBlankQueryIsRejected(t *testing.T) {
	app := newTestApp(t)
	cookie := app.login(t)

	rec := app.do(http.MethodPost, "/api/search", `{"query":"   "}`, cookie, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), dashboard.ErrValidation.Error())

	rec = app.do(http.MethodPost, "/search", url.Values{"query": {""}}.Encode(), cookie, "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	view, code := app.state(t, cookie)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, view.Notices, 2)
	assert.Equal(t, "validation", string(view.Notices[0].Kind))
}

func TestMalformedSearchBody(t *testing.T) {
	app := newTestApp(t)
	cookie := app.login(t)

	rec := app.do(http.MethodPost, "/api/search", `{"query":`, cookie, "application/json")
	assert.GreaterOrEqual(t, rec.Code, 400)
	assert.Less(t, rec.Code, 500)
}

func TestRevokedTokenEndsSession(t *testing.T) {
	app := newTestApp(t)
	cookie := app.login(t)

	rec := app.do(http.MethodGet, "/api/accounts", "", cookie, "")
	require.Equal(t, http.StatusOK, rec.Code)

	app.upstream.revoked.Store(true)
	rec = app.do(http.MethodPost, "/api/search", `{"query":"invoice"}`, cookie, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		_, code := app.state(t, cookie)
		return code == http.StatusUnauthorized
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, app.ws.Len())

	page := app.do(http.MethodGet, "/", "", cookie, "")
	assert.Equal(t, http.StatusSeeOther, page.Code)
	assert.Equal(t, "/login", page.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	cookie := app.login(t)

	rec := app.do(http.MethodPost, "/logout", "", cookie, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Equal(t, int32(1), app.upstream.logouts.Load())

	_, code := app.state(t, cookie)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
