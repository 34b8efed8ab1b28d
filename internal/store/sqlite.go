package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store with the CGO-free modernc.org/sqlite driver.
// Path is a filesystem path; ":memory:" works for tests.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &SQLite{db: d}, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_table(
			domain TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			state TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at TIMESTAMP NULL,
			ready_at TIMESTAMP NULL,
			last_access TIMESTAMP NULL,
			stopped_at TIMESTAMP NULL,
			exit_code INTEGER NULL,
			exit_signal TEXT NULL,
			error TEXT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_table_state ON process_table(state);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) UpsertRecord(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_table(domain, pid, port, state, mode, started_at, ready_at, last_access, stopped_at, exit_code, exit_signal, error, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			pid=excluded.pid,
			port=excluded.port,
			state=excluded.state,
			mode=excluded.mode,
			started_at=excluded.started_at,
			ready_at=excluded.ready_at,
			last_access=excluded.last_access,
			stopped_at=excluded.stopped_at,
			exit_code=excluded.exit_code,
			exit_signal=excluded.exit_signal,
			error=excluded.error,
			updated_at=excluded.updated_at;`,
		rec.Domain, rec.PID, rec.Port, rec.State, rec.Mode,
		rec.StartedAt, rec.ReadyAt, rec.LastAccess, rec.StoppedAt,
		rec.ExitCode, rec.ExitSignal, rec.Error, rec.UpdatedAt)
	return err
}

func (s *SQLite) DeleteRecord(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM process_table WHERE domain=?;`, domain)
	return err
}

func (s *SQLite) GetAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, pid, port, state, mode, started_at, ready_at, last_access, stopped_at, exit_code, exit_signal, error, updated_at
		FROM process_table ORDER BY domain;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Domain, &rec.PID, &rec.Port, &rec.State, &rec.Mode,
			&rec.StartedAt, &rec.ReadyAt, &rec.LastAccess, &rec.StoppedAt,
			&rec.ExitCode, &rec.ExitSignal, &rec.Error, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
