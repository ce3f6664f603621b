package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type DB struct {
	SQL *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Sweeps and watcher events write from different goroutines; writes serialize in sqlite.
	s.SetMaxOpenConns(4)
	s.SetMaxIdleConns(4)

	d := &DB{SQL: s}
	if err := d.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.SQL.Close() }

func (d *DB) migrate() error {
	stmts := []string{
		// Files seen by the periodic sweep, keyed by local path.
		`CREATE TABLE IF NOT EXISTS ingest_seen (
			path TEXT PRIMARY KEY,
			root TEXT NOT NULL,
			size INTEGER NOT NULL,
			mtime INTEGER NOT NULL,
			seen_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_seen_root ON ingest_seen(root);`,
		// Roots swept at least once; the first sweep only records a baseline.
		`CREATE TABLE IF NOT EXISTS sweep_roots (
			root TEXT PRIMARY KEY,
			baseline_at INTEGER NOT NULL
		);`,

		// One row per refresh request sent (or attempted) to Plex.
		`CREATE TABLE IF NOT EXISTS scan_log (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			source TEXT NOT NULL,   -- "sweep" | "watch"
			change TEXT NOT NULL,   -- "added" | "modified" | "deleted"
			server_id TEXT NOT NULL,
			section_id TEXT NOT NULL,
			local_path TEXT NOT NULL,
			plex_path TEXT NOT NULL,
			files INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scan_log_ts ON scan_log(ts);`,
	}
	for _, s := range stmts {
		if _, err := d.SQL.Exec(s); err != nil {
			es := err.Error()
			if strings.Contains(es, "duplicate") || strings.Contains(es, "already exists") {
				continue
			}
			return err
		}
	}
	return nil
}
