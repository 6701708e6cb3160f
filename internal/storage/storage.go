package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/user/autoengage/internal/action"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS action_state (
			action_type TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			window_start DATETIME,
			blocked INTEGER NOT NULL DEFAULT 0,
			blocked_since DATETIME,
			blocked_until DATETIME,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action_type TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveState(ctx context.Context, st action.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO action_state
			(action_type, count, window_start, blocked, blocked_since, blocked_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		string(st.Type), st.Count, nullTime(st.WindowStart), st.Blocked, nullTime(st.BlockedSince), nullTime(st.BlockedUntil),
	)
	return err
}

func (s *Store) LoadStates(ctx context.Context) ([]action.State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_type, count, window_start, blocked, blocked_since, blocked_until
		FROM action_state ORDER BY action_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []action.State
	for rows.Next() {
		var (
			st                   action.State
			typ                  string
			window, since, until sql.NullTime
		)
		if err := rows.Scan(&typ, &st.Count, &window, &st.Blocked, &since, &until); err != nil {
			return nil, err
		}
		st.Type = action.Type(typ)
		st.WindowStart = window.Time
		st.BlockedSince = since.Time
		st.BlockedUntil = until.Time
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *Store) LogActivity(actionType, metadata string) error {
	_, err := s.db.Exec("INSERT INTO activity_log (action_type, metadata) VALUES (?, ?)", actionType, metadata)
	return err
}

type Activity struct {
	Kind     string
	Metadata string
	Time     time.Time
}

// RecentActivity returns the newest log entries first.
func (s *Store) RecentActivity(limit int) ([]Activity, error) {
	rows, err := s.db.Query("SELECT action_type, metadata, created_at FROM activity_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.Kind, &a.Metadata, &a.Time); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
