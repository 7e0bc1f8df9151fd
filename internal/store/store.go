// Package store is a local SQLite-backed persistence layer for account plans
// and research session state.
//
// Notes:
// - Plan sections and their evidence are scoped by session_id.
// - WAL is enabled to support concurrent reads while writing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Section is one named research field of a plan.
type Section struct {
	Name            string     `json:"name"`
	Content         string     `json:"content"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	UpdatedAtUnixMs int64      `json:"updated_at_unix_ms"`
}

type Evidence struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Plan is the accumulated research document for one session.
type Plan struct {
	SessionID string    `json:"session_id"`
	Company   string    `json:"company"`
	Sections  []Section `json:"sections"`
}

// UpsertSection writes one named plan field, replacing any previous content
// and evidence for that field wholesale.
func (s *Store) UpsertSection(ctx context.Context, sessionID, company, section, content string, evidence []Evidence) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	section = strings.TrimSpace(section)
	if sessionID == "" || section == "" {
		return errors.New("invalid request")
	}
	company = strings.TrimSpace(company)
	content = strings.TrimSpace(content)

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO plan_sections(session_id, company, section, content, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(session_id, section) DO UPDATE SET
  company = excluded.company,
  content = excluded.content,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, sessionID, company, section, content, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM plan_evidence WHERE session_id = ? AND section = ?
`, sessionID, section); err != nil {
		return err
	}
	for _, ev := range evidence {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO plan_evidence(session_id, section, title, url, snippet)
VALUES(?, ?, ?, ?, ?)
`, sessionID, section, strings.TrimSpace(ev.Title), strings.TrimSpace(ev.URL), strings.TrimSpace(ev.Snippet)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReadPlan returns the plan for a session, sections in write order. A session
// with no sections yields an empty plan, not an error.
func (s *Store) ReadPlan(ctx context.Context, sessionID string) (*Plan, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("missing session_id")
	}

	plan := &Plan{SessionID: sessionID}

	rows, err := s.db.QueryContext(ctx, `
SELECT company, section, content, updated_at_unix_ms
FROM plan_sections
WHERE session_id = ?
ORDER BY updated_at_unix_ms ASC, section ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sec Section
		var company string
		if err := rows.Scan(&company, &sec.Name, &sec.Content, &sec.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		if plan.Company == "" {
			plan.Company = company
		}
		plan.Sections = append(plan.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range plan.Sections {
		evidence, err := s.sectionEvidence(ctx, sessionID, plan.Sections[i].Name)
		if err != nil {
			return nil, err
		}
		plan.Sections[i].Evidence = evidence
	}

	return plan, nil
}

func (s *Store) sectionEvidence(ctx context.Context, sessionID, section string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT title, url, snippet
FROM plan_evidence
WHERE session_id = ? AND section = ?
ORDER BY id ASC
`, sessionID, section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var ev Evidence
		if err := rows.Scan(&ev.Title, &ev.URL, &ev.Snippet); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ClearPlan removes every section and evidence row for a session.
func (s *Store) ClearPlan(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_evidence WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_sections WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSession checks session state back in at turn end. State is stored as an
// opaque JSON blob; the store does not interpret it.
func (s *Store) SaveSession(ctx context.Context, sessionID, stateJSON string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	stateJSON = strings.TrimSpace(stateJSON)
	if sessionID == "" || stateJSON == "" {
		return errors.New("invalid session")
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(session_id, state_json, updated_at_unix_ms)
VALUES(?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  state_json = excluded.state_json,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, sessionID, stateJSON, now)
	return err
}

// LoadSession checks session state out at turn start. Sessions idle longer
// than ttl are purged and reported as absent.
func (s *Store) LoadSession(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", false, errors.New("missing session_id")
	}

	var stateJSON string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
SELECT state_json, updated_at_unix_ms
FROM sessions
WHERE session_id = ?
`, sessionID).Scan(&stateJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	if ttl > 0 && time.Since(time.UnixMilli(updatedAt)) > ttl {
		if err := s.ClearSession(ctx, sessionID); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return stateJSON, true, nil
}

// ClearSession drops the stored session state, leaving the plan intact.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session_id")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// PurgeExpiredSessions removes every session idle longer than ttl and
// returns how many were dropped.
func (s *Store) PurgeExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at_unix_ms < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS plan_sections (
  session_id TEXT NOT NULL,
  company TEXT NOT NULL DEFAULT '',
  section TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  updated_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY(session_id, section)
);
CREATE TABLE IF NOT EXISTS plan_evidence (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  section TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  snippet TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_plan_evidence_section ON plan_evidence(session_id, section, id ASC);
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  state_json TEXT NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at_unix_ms ASC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
