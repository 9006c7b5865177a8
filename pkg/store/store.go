// Package store persists finished hunting sessions and their conversation
// logs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                   TEXT PRIMARY KEY,
	user_query           TEXT NOT NULL,
	enriched_description TEXT NOT NULL,
	candidate_sources    TEXT NOT NULL,
	current_query        TEXT NOT NULL,
	validation_status    TEXT NOT NULL,
	validation_error     TEXT NOT NULL,
	retry_count          INTEGER NOT NULL,
	max_retries          INTEGER NOT NULL,
	phase                TEXT NOT NULL,
	failure              TEXT NOT NULL,
	validation_attempts  INTEGER NOT NULL,
	created_at           TEXT NOT NULL,
	finished_at          TEXT
);

CREATE INDEX IF NOT EXISTS sessions_created_at ON sessions (created_at);

CREATE TABLE IF NOT EXISTS conversation_log (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL,
	at         TEXT,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`

var (
	ErrLoggerRequired = errors.New("logger is required")
	ErrPathRequired   = errors.New("path is required")
	ErrNotFound       = errors.New("session not found")
)

type Config struct {
	Logger *slog.Logger
	Path   string // File path, or ":memory:"
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.Path == "" {
		return ErrPathRequired
	}
	return nil
}

// SQLite stores sessions in a single database file.
type SQLite struct {
	log *slog.Logger
	db  *sql.DB
}

// New opens the database and runs migrations.
func New(cfg Config) (*SQLite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// database/sql would otherwise hand each connection its own in-memory db.
	if cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cfg.Logger.Debug("store: opened", "path", cfg.Path)
	return &SQLite{log: cfg.Logger, db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save upserts the session and appends the log entries not stored yet.
// Stored entries are never rewritten, matching the append-only log.
func (s *SQLite) Save(ctx context.Context, sess pipeline.Session) error {
	sources, err := json.Marshal(sess.CandidateSources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_query, enriched_description, candidate_sources, current_query,
			validation_status, validation_error, retry_count, max_retries, phase,
			failure, validation_attempts, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enriched_description = excluded.enriched_description,
			candidate_sources    = excluded.candidate_sources,
			current_query        = excluded.current_query,
			validation_status    = excluded.validation_status,
			validation_error     = excluded.validation_error,
			retry_count          = excluded.retry_count,
			phase                = excluded.phase,
			failure              = excluded.failure,
			validation_attempts  = excluded.validation_attempts,
			finished_at          = excluded.finished_at`,
		sess.ID, sess.UserQuery, sess.EnrichedDescription, string(sources), sess.CurrentQuery,
		string(sess.Status), sess.ValidationError, sess.RetryCount, sess.MaxRetries, string(sess.Phase),
		string(sess.Failure), sess.ValidationAttempts, formatTime(sess.CreatedAt), nullTime(sess.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_log (session_id, seq, role, kind, text, at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range sess.Log.Entries() {
		if _, err := stmt.ExecContext(ctx, sess.ID, i, string(e.Role), string(e.Kind), e.Text, nullTime(e.At)); err != nil {
			return fmt.Errorf("insert log entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_query, enriched_description, candidate_sources, current_query,
	validation_status, validation_error, retry_count, max_retries, phase,
	failure, validation_attempts, created_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (pipeline.Session, error) {
	var (
		sess                  pipeline.Session
		sources               string
		status, phase, failed string
		created               string
		finished              sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserQuery, &sess.EnrichedDescription, &sources, &sess.CurrentQuery,
		&status, &sess.ValidationError, &sess.RetryCount, &sess.MaxRetries, &phase,
		&failed, &sess.ValidationAttempts, &created, &finished)
	if err != nil {
		return pipeline.Session{}, err
	}
	if err := json.Unmarshal([]byte(sources), &sess.CandidateSources); err != nil {
		return pipeline.Session{}, fmt.Errorf("unmarshal sources: %w", err)
	}
	sess.Status = pipeline.Status(status)
	sess.Phase = pipeline.Phase(phase)
	sess.Failure = pipeline.Failure(failed)
	sess.CreatedAt = parseTime(created)
	if finished.Valid {
		sess.FinishedAt = parseTime(finished.String)
	}
	return sess, nil
}

// Get loads a session together with its conversation log.
func (s *SQLite) Get(ctx context.Context, id string) (pipeline.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return pipeline.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, kind, text, at FROM conversation_log WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return pipeline.Session{}, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	var entries []pipeline.Entry
	for rows.Next() {
		var (
			e          pipeline.Entry
			role, kind string
			at         sql.NullString
		)
		if err := rows.Scan(&role, &kind, &e.Text, &at); err != nil {
			return pipeline.Session{}, fmt.Errorf("scan log entry: %w", err)
		}
		e.Role = llm.Role(role)
		e.Kind = pipeline.EntryKind(kind)
		if at.Valid {
			e.At = parseTime(at.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return pipeline.Session{}, fmt.Errorf("iterate log: %w", err)
	}
	sess.Log = pipeline.NewLog(entries...)
	return sess, nil
}

// List returns the most recent sessions, newest first, without their logs.
func (s *SQLite) List(ctx context.Context, limit int) ([]pipeline.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
