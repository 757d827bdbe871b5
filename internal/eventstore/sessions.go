package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/loqalabs/loqa-reader/internal/protocol"
)

// Event is a journaled session event. Payload is the event as JSON.
type Event struct {
	ID        int64
	SessionID string
	Type      string
	State     string
	Sentence  int
	Payload   []byte
	CreatedAt time.Time
}

// Session summarizes one narration run. EndedAt is zero while it runs.
type Session struct {
	ID        string
	Source    string
	Sentences int
	Outcome   string
	CreatedAt time.Time
	EndedAt   time.Time
}

const defaultListLimit = 100

// BeginSession inserts the session row. Repeated calls update the source and
// sentence count.
func (s *Store) BeginSession(ctx context.Context, sessionID, source string, sentences int) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, source, sentence_count, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET source = excluded.source, sentence_count = excluded.sentence_count`,
		sessionID, source, sentences, s.clock().UTC().UnixMilli())
	return err
}

// Record journals a controller event, creating the session row if needed.
// An ended event also stamps the session outcome.
func (s *Store) Record(ctx context.Context, evt protocol.SessionEvent) error {
	if s.disabled() {
		return nil
	}
	if evt.SessionID == "" {
		return errors.New("session event without session id")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	at := evt.Timestamp
	if at.IsZero() {
		at = s.clock()
	}
	ms := at.UTC().UnixMilli()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions(session_id, sentence_count, created_at) VALUES(?, ?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			evt.SessionID, evt.Total, ms); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events(session_id, event_type, state, sentence_index, payload, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			evt.SessionID, string(evt.Type), evt.State, evt.Sentence, payload, ms); err != nil {
			return err
		}
		if evt.Type != protocol.EventSessionEnded {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sessions SET outcome = ?, ended_at = ? WHERE session_id = ?`,
			evt.Detail, ms, evt.SessionID)
		return err
	})
}

// ListSessionEvents returns up to limit events of a session in the order
// they were recorded.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, state, sentence_index, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			state   sql.NullString
			index   sql.NullInt64
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &state, &index, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.State, e.Sentence, e.CreatedAt = state.String, int(index.Int64), time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

const sessionColumns = `session_id, source, sentence_count, outcome, created_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess            Session
		source, outcome sql.NullString
		created         int64
		ended           sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &source, &sess.Sentences, &outcome, &created, &ended); err != nil {
		return Session{}, err
	}
	sess.Source, sess.Outcome = source.String, outcome.String
	sess.CreatedAt = time.UnixMilli(created).UTC()
	if ended.Valid {
		sess.EndedAt = time.UnixMilli(ended.Int64).UTC()
	}
	return sess, nil
}

func (s *Store) LookupSession(ctx context.Context, sessionID string) (Session, bool, error) {
	if s.disabled() {
		return Session{}, false, nil
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
