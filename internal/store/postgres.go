package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres implements Store over a pgx stdlib connection. Useful when several
// developers share one workstation database for fleet inspection.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: d}, nil
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS process_table(
			domain TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			state TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ready_at TIMESTAMPTZ NULL,
			last_access TIMESTAMPTZ NULL,
			stopped_at TIMESTAMPTZ NULL,
			exit_code INTEGER NULL,
			exit_signal TEXT NULL,
			error TEXT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (s *Postgres) UpsertRecord(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_table(domain, pid, port, state, mode, started_at, ready_at, last_access, stopped_at, exit_code, exit_signal, error, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT(domain) DO UPDATE SET
			pid=EXCLUDED.pid,
			port=EXCLUDED.port,
			state=EXCLUDED.state,
			mode=EXCLUDED.mode,
			started_at=EXCLUDED.started_at,
			ready_at=EXCLUDED.ready_at,
			last_access=EXCLUDED.last_access,
			stopped_at=EXCLUDED.stopped_at,
			exit_code=EXCLUDED.exit_code,
			exit_signal=EXCLUDED.exit_signal,
			error=EXCLUDED.error,
			updated_at=EXCLUDED.updated_at;`,
		rec.Domain, rec.PID, rec.Port, rec.State, rec.Mode,
		rec.StartedAt, rec.ReadyAt, rec.LastAccess, rec.StoppedAt,
		rec.ExitCode, rec.ExitSignal, rec.Error, rec.UpdatedAt)
	return err
}

func (s *Postgres) DeleteRecord(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM process_table WHERE domain=$1;`, domain)
	return err
}

func (s *Postgres) GetAll(ctx context.Context) ([]Record, error) {
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

func (s *Postgres) Close() error { return s.db.Close() }
