package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Config selects and configures the persistence backend for the process
// table snapshot.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite" or "postgres"; empty disables persistence

	// SQLite
	Path string `toml:"path" mapstructure:"path"`

	// PostgreSQL
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Record is one persisted row of the live process table. It mirrors the
// supervisor's record minus the process handle, so a status CLI can inspect
// state from outside the daemon.
type Record struct {
	Domain     string
	PID        int
	Port       int
	State      string
	Mode       string
	StartedAt  sql.NullTime
	ReadyAt    sql.NullTime
	LastAccess sql.NullTime
	StoppedAt  sql.NullTime
	ExitCode   sql.NullInt64
	ExitSignal sql.NullString
	Error      sql.NullString
	UpdatedAt  time.Time
}

// Store persists process table snapshots. Writes are best-effort side
// effects; the supervisor keeps working when they fail.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertRecord(ctx context.Context, rec Record) error
	DeleteRecord(ctx context.Context, domain string) error
	GetAll(ctx context.Context) ([]Record, error)
	Close() error
}

// New builds a Store from config. A nil Store with nil error means
// persistence is disabled.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "":
		return nil, nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: sqlite requires path")
		}
		return NewSQLite(cfg.Path)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres requires dsn")
		}
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported type %q", cfg.Type)
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// FromSnapshot converts supervisor snapshot fields into a Record. Kept here
// so both backends share one mapping.
func FromSnapshot(domain string, pid, port int, state, mode string,
	startedAt, readyAt, lastAccess, stoppedAt time.Time,
	exitCode *int, exitSignal, errMsg string) Record {
	rec := Record{
		Domain:     domain,
		PID:        pid,
		Port:       port,
		State:      state,
		Mode:       mode,
		StartedAt:  nullTime(startedAt),
		ReadyAt:    nullTime(readyAt),
		LastAccess: nullTime(lastAccess),
		StoppedAt:  nullTime(stoppedAt),
		UpdatedAt:  time.Now().UTC(),
	}
	if exitCode != nil {
		rec.ExitCode = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	if exitSignal != "" {
		rec.ExitSignal = sql.NullString{String: exitSignal, Valid: true}
	}
	if errMsg != "" {
		rec.Error = sql.NullString{String: errMsg, Valid: true}
	}
	return rec
}
