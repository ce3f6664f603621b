// Package history records every Plex refresh the scanner attempts.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gaby/plexscanner/internal/db"
)

type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Source    string    `json:"source"`
	Change    string    `json:"change"`
	ServerID  string    `json:"server_id"`
	SectionID string    `json:"section_id"`
	LocalPath string    `json:"local_path"`
	PlexPath  string    `json:"plex_path"`
	Files     int       `json:"files"`
	Error     *string   `json:"error,omitempty"`
}

type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store { return &Store{db: d} }

func (s *Store) DB() *db.DB { return s.db }

// Record stores e, filling in ID and Time when unset, and returns the stored entry.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Source == "" || e.Change == "" {
		return Entry{}, errors.New("history: source and change required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO scan_log(id,ts,source,change,server_id,section_id,local_path,plex_path,files,error) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Time.UnixMilli(), e.Source, e.Change, e.ServerID, e.SectionID, e.LocalPath, e.PlexPath, e.Files, e.Error)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// List returns the newest entries first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	limit = min(limit, 500)
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT id,ts,source,change,server_id,section_id,local_path,plex_path,files,error FROM scan_log ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.Change, &e.ServerID, &e.SectionID, &e.LocalPath, &e.PlexPath, &e.Files, &e.Error); err != nil {
			return nil, err
		}
		e.Time = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune drops entries older than cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.SQL.ExecContext(ctx, `DELETE FROM scan_log WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
