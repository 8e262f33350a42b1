// Package auth holds the operator's upstream credential and the dashboard
// sessions that carry it between browser requests.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/rotisserie/eris"

	"github.com/eslider/inboxwatch/internal/model"
	"github.com/eslider/inboxwatch/internal/storage"
)

const (
	cookieName      = "inboxwatch_session"
	sessionMaxAge   = 12 * time.Hour
	sessionsBlobKey = "sessions.json"
)

// SessionBackend persists sessions. storage.SessionDB implements it, and
// BlobSessionBackend adapts any storage.BlobStore.
type SessionBackend interface {
	LoadSessions(ctx context.Context) ([]model.Session, error)
	PutSession(ctx context.Context, sess model.Session) error
	DeleteSession(ctx context.Context, token string) error
}

// SessionStore maps dashboard tokens to operator sessions. Reads are served
// from memory; every change is written through to the backend.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session // token -> session
	backend  SessionBackend
}

// NewSessionStore loads unexpired sessions from backend.
func NewSessionStore(ctx context.Context, backend SessionBackend) (*SessionStore, error) {
	s := &SessionStore{
		sessions: make(map[string]model.Session),
		backend:  backend,
	}
	stored, err := backend.LoadSessions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load sessions")
	}
	now := time.Now()
	for _, sess := range stored {
		if now.Before(sess.ExpiresAt) {
			s.sessions[sess.Token] = sess
		}
	}
	return s, nil
}

// Create starts a session for username holding the upstream token.
func (s *SessionStore) Create(ctx context.Context, username, upstream string) (model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return model.Session{}, err
	}

	now := time.Now().UTC()
	sess := model.Session{
		ID:        model.NewID(),
		Token:     token,
		Upstream:  upstream,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionMaxAge),
	}
	if err := s.backend.PutSession(ctx, sess); err != nil {
		return model.Session{}, eris.Wrap(err, "persist session")
	}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns the session for a token, or nil if not found or expired.
func (s *SessionStore) Get(token string) *model.Session {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil
	}
	if time.Now().After(sess.ExpiresAt) {
		s.Delete(context.Background(), token)
		return nil
	}
	return &sess
}

// Delete removes a session. Backend failures are logged, not returned: the
// in-memory entry is gone either way.
func (s *SessionStore) Delete(ctx context.Context, token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()

	if err := s.backend.DeleteSession(ctx, token); err != nil {
		slog.Warn("Failed to delete persisted session", sloki.WrapError(err))
	}
}

// SetCookie writes the session cookie to the response.
func SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// TokenFromRequest extracts the session token from cookie or Authorization header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return ""
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", eris.Wrap(err, "generate token")
	}
	return hex.EncodeToString(b), nil
}

// BlobSessionBackend keeps all sessions in one JSON blob.
type BlobSessionBackend struct {
	mu    sync.Mutex
	store storage.BlobStore
}

// NewBlobSessionBackend stores sessions in store under sessions.json.
func NewBlobSessionBackend(store storage.BlobStore) *BlobSessionBackend {
	return &BlobSessionBackend{store: store}
}

// LoadSessions reads the sessions blob; a missing blob means no sessions.
func (b *BlobSessionBackend) LoadSessions(ctx context.Context) ([]model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

// PutSession inserts or replaces sess.
func (b *BlobSessionBackend) PutSession(ctx context.Context, sess model.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessions, err := b.load(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range sessions {
		if sessions[i].Token == sess.Token {
			sessions[i] = sess
			replaced = true
		}
	}
	if !replaced {
		sessions = append(sessions, sess)
	}
	return b.save(ctx, sessions)
}

// DeleteSession removes the session with token and drops expired ones.
func (b *BlobSessionBackend) DeleteSession(ctx context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessions, err := b.load(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	kept := sessions[:0]
	for _, sess := range sessions {
		if sess.Token != token && now.Before(sess.ExpiresAt) {
			kept = append(kept, sess)
		}
	}
	return b.save(ctx, kept)
}

func (b *BlobSessionBackend) load(ctx context.Context) ([]model.Session, error) {
	data, err := b.store.Read(ctx, sessionsBlobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []model.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, eris.Wrap(err, "decode sessions")
	}
	return sessions, nil
}

func (b *BlobSessionBackend) save(ctx context.Context, sessions []model.Session) error {
	if sessions == nil {
		sessions = []model.Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode sessions")
	}
	return b.store.Write(ctx, sessionsBlobKey, data)
}
