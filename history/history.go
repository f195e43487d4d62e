// Package history records tunnel sessions in a sqlite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	endpoint     TEXT NOT NULL DEFAULT '',
	interface    TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	connected_at INTEGER NOT NULL DEFAULT 0,
	ended_at     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sessions_started ON sessions (started_at);
`

// Record is one session as stored in the history.
type Record struct {
	SessionID   string
	Name        string
	Endpoint    string
	Interface   string
	State       string
	Reason      string
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// Duration returns how long the session stayed connected.
func (r Record) Duration() time.Duration {
	if r.ConnectedAt.IsZero() {
		return 0
	}
	end := r.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.ConnectedAt)
}

// Store is the session history database.
type Store struct {
	db *sql.DB
}

// OpenDefault opens the history database in the application data directory.
func OpenDefault() (*Store, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, common.HistoryFileName))
}

// Open opens (and creates if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply records one session event.
func (s *Store) Apply(ctx context.Context, ev vpn.SessionEvent) error {
	at := ev.Time.UnixNano()

	var err error
	switch ev.Kind {
	case vpn.EventConnecting:
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO sessions (session_id, name, endpoint, state, started_at) VALUES (?, ?, ?, ?, ?)`,
			ev.SessionID, ev.Name, ev.Endpoint, vpn.StateConnecting.String(), at)
	case vpn.EventConnected:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET state = ?, interface = ?, connected_at = ? WHERE session_id = ?`,
			vpn.StateConnected.String(), ev.Interface, at, ev.SessionID)
	case vpn.EventDisconnecting:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET state = ? WHERE session_id = ?`,
			vpn.StateDisconnecting.String(), ev.SessionID)
	case vpn.EventFailed:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET state = ?, reason = ? WHERE session_id = ?`,
			vpn.StateFailed.String(), ev.ReasonText(), ev.SessionID)
	case vpn.EventDisconnected:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET state = CASE state WHEN ? THEN state ELSE ? END, ended_at = ? WHERE session_id = ?`,
			vpn.StateFailed.String(), "Disconnected", at, ev.SessionID)
	}
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return nil
}

// Run records events until the channel closes or ctx is done.
func (s *Store) Run(ctx context.Context, events <-chan vpn.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.Apply(ctx, ev); err != nil {
				common.LogWarn("History: %v", err)
			}
		}
	}
}

// Recent returns the latest sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, name, endpoint, interface, state, reason, started_at, connected_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var started, connected, ended int64
		if err := rows.Scan(&r.SessionID, &r.Name, &r.Endpoint, &r.Interface, &r.State, &r.Reason,
			&started, &connected, &ended); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.StartedAt = fromUnixNano(started)
		r.ConnectedAt = fromUnixNano(connected)
		r.EndedAt = fromUnixNano(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes sessions that ended before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE ended_at != 0 AND ended_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
