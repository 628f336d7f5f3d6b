package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"dlshelf/internal/library"
)

// Session is one recorded play session.
type Session struct {
	ID        int64          `json:"id"`
	WorkID    library.WorkID `json:"workId"`
	StartedAt time.Time      `json:"startedAt"`
	Seconds   int64          `json:"seconds"`
}

// Sessions is an append-only sqlite ledger of play sessions. Totals for
// display live on the WorkRecord; this table keeps the per-session history
// the record cannot.
type Sessions struct {
	db *sql.DB
}

// OpenSessions opens (and migrates) the session database at dbPath.
func OpenSessions(dbPath string) (*Sessions, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Single writer; the whole app shares one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Sessions{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sessions) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		work_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		seconds INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_work ON sessions(work_id, started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one session.
func (s *Sessions) Append(workID library.WorkID, startedAt time.Time, seconds int64) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (work_id, started_at, seconds)
		VALUES (?, ?, ?)
	`, string(workID), startedAt.UTC(), seconds)
	return err
}

// History returns the sessions for one work, most recent first.
func (s *Sessions) History(workID library.WorkID, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, work_id, started_at, seconds
		FROM sessions WHERE work_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, string(workID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var id string
		if err := rows.Scan(&sess.ID, &id, &sess.StartedAt, &sess.Seconds); err != nil {
			return nil, err
		}
		sess.WorkID = library.WorkID(id)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Purge drops all sessions for a work; called when the work leaves the
// library.
func (s *Sessions) Purge(workID library.WorkID) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE work_id = ?`, string(workID))
	return err
}

func (s *Sessions) Close() error {
	return s.db.Close()
}
