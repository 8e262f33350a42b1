package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/eslider/inboxwatch/internal/model"
)

const sessionDBFile = "sessions.sqlite"

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT NOT NULL,
	token      TEXT PRIMARY KEY,
	upstream   TEXT NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// SessionDB keeps operator sessions in a SQLite database.
type SessionDB struct {
	db *sqlx.DB
}

// OpenSessionDB opens or creates dataDir/sessions.sqlite.
func OpenSessionDB(dataDir string) (*SessionDB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "create data dir")
	}
	dbPath := filepath.Join(dataDir, sessionDBFile)

	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "open session db")
	}
	if _, err := db.Exec(createSessionsSQL); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "init session db")
	}
	return &SessionDB{db: db}, nil
}

// Close releases the database connection.
func (s *SessionDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// LoadSessions returns every stored session, expired ones included.
func (s *SessionDB) LoadSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT id, token, upstream, username, created_at, expires_at FROM sessions`)
	if err != nil {
		return nil, eris.Wrap(err, "load sessions")
	}
	return sessions, nil
}

// PutSession inserts or replaces a session keyed by its token.
func (s *SessionDB) PutSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, token, upstream, username, created_at, expires_at)
		 VALUES (:id, :token, :upstream, :username, :created_at, :expires_at)`, sess)
	return eris.Wrap(err, "put session")
}

// DeleteSession removes the session with the given token.
func (s *SessionDB) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return eris.Wrap(err, "delete session")
}

// DeleteExpired removes sessions that expired before now.
func (s *SessionDB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, eris.Wrap(err, "delete expired sessions")
	}
	return res.RowsAffected()
}
