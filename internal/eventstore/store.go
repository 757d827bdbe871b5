// Package eventstore journals narration sessions to SQLite for auditing.
// Nothing is read back to restore a session.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	_ "modernc.org/sqlite"
)

const retentionEphemeral = "ephemeral"

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE sessions (
		session_id     TEXT PRIMARY KEY,
		source         TEXT,
		sentence_count INTEGER NOT NULL DEFAULT 0,
		outcome        TEXT,
		created_at     INTEGER NOT NULL,
		ended_at       INTEGER
	);
	CREATE TABLE events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id     TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		event_type     TEXT NOT NULL,
		state          TEXT,
		sentence_index INTEGER,
		payload        BLOB,
		created_at     INTEGER NOT NULL
	);
	CREATE INDEX events_by_session ON events(session_id, id);`,
	`CREATE INDEX sessions_by_created ON sessions(created_at);`,
}

// Store is the SQLite session journal. With retention mode "ephemeral" it
// opens no database and every method is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	s := &Store{cfg: cfg, log: log.With(slog.String("component", "eventstore")), clock: time.Now}
	if cfg.RetentionMode == retentionEphemeral {
		return s, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL readers on the same connection are enough for a journal.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("event store prune failed", slog.String("error", err.Error()))
	}
	s.log.Debug("event store opened", slog.String("path", cfg.Path), slog.String("retention", cfg.RetentionMode))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			// PRAGMA does not take bind parameters.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) disabled() bool {
	return s == nil || s.db == nil
}

func (s *Store) Close() error {
	if s.disabled() {
		return nil
	}
	return s.db.Close()
}

// Prune drops sessions older than RetentionDays and all but the newest
// MaxSessions. Events go with their session.
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() || (s.cfg.RetentionDays <= 0 && s.cfg.MaxSessions <= 0) {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if s.cfg.RetentionDays > 0 {
			cutoff := s.clock().AddDate(0, 0, -s.cfg.RetentionDays).UTC().UnixMilli()
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
				return err
			}
		}
		if s.cfg.MaxSessions > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM sessions WHERE session_id NOT IN (
					SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT ?)`,
				s.cfg.MaxSessions); err != nil {
				return err
			}
		}
		return nil
	})
}
