package relaylog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite relay log: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile derives a WAL-mode DSN for a database file path.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite relay log: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relay_exchanges (
		  id TEXT PRIMARY KEY,
		  session_id TEXT NOT NULL,
		  user_id TEXT NOT NULL,
		  message TEXT NOT NULL,
		  should_respond INTEGER NOT NULL DEFAULT 0,
		  response_text TEXT NOT NULL DEFAULT '',
		  status TEXT NOT NULL,
		  error TEXT NOT NULL DEFAULT '',
		  started_at_ms INTEGER NOT NULL,
		  completed_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS relay_exchanges_by_session
		  ON relay_exchanges(session_id, started_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS relay_exchanges_by_started
		  ON relay_exchanges(started_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite relay log: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, ex Exchange) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite relay log: db is nil")
	}
	ex.SessionID = strings.TrimSpace(ex.SessionID)
	if ex.SessionID == "" {
		return errors.New("sqlite relay log: sessionID is empty")
	}
	ex = normalizeExchange(ex)
	shouldRespond := 0
	if ex.ShouldRespond {
		shouldRespond = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_exchanges (
			id, session_id, user_id, message, should_respond, response_text,
			status, error, started_at_ms, completed_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			should_respond = excluded.should_respond,
			response_text = excluded.response_text,
			status = excluded.status,
			error = excluded.error,
			completed_at_ms = excluded.completed_at_ms
	`, ex.ID, ex.SessionID, ex.UserID, ex.Message, shouldRespond, ex.ResponseText,
		string(ex.Status), ex.Error, ex.StartedAt.UnixMilli(), ex.CompletedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite relay log: insert exchange")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]Exchange, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite relay log: db is nil")
	}
	query := strings.Builder{}
	query.WriteString(`
SELECT id, session_id, user_id, message, should_respond, response_text,
       status, error, started_at_ms, completed_at_ms
FROM relay_exchanges
`)
	args := []any{}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		query.WriteString("WHERE session_id = ?\n")
		args = append(args, sessionID)
	}
	query.WriteString("ORDER BY started_at_ms DESC, id ASC\n")
	if limit > 0 {
		query.WriteString("LIMIT ?\n")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite relay log: list query")
	}
	defer func() { _ = rows.Close() }()

	var out []Exchange
	for rows.Next() {
		var (
			ex            Exchange
			shouldRespond int64
			status        string
			startedMs     int64
			completedMs   int64
		)
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.UserID, &ex.Message, &shouldRespond,
			&ex.ResponseText, &status, &ex.Error, &startedMs, &completedMs); err != nil {
			return nil, errors.Wrap(err, "sqlite relay log: scan")
		}
		ex.ShouldRespond = shouldRespond != 0
		ex.Status = Status(status)
		ex.StartedAt = time.UnixMilli(startedMs)
		ex.CompletedAt = time.UnixMilli(completedMs)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite relay log: rows")
	}
	return out, nil
}
