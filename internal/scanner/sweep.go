package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gaby/plexscanner/internal/db"
)

// Sweeper compares the watch directory against what the previous sweep saw.
type Sweeper struct {
	db  *db.DB
	now func() time.Time
}

func NewSweeper(d *db.DB) *Sweeper {
	return &Sweeper{db: d, now: time.Now}
}

type seenRow struct {
	size  int64
	mtime int64
}

// Sweep walks root and returns the files added, modified or deleted since the
// last sweep of the same root. The first sweep of a root only records a baseline.
func (s *Sweeper) Sweep(ctx context.Context, root string) ([]Change, error) {
	root = filepath.Clean(root)
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("sweep %s: not a directory", root)
	}

	known, err := s.load(ctx, root)
	if err != nil {
		return nil, err
	}

	type fileRow struct {
		path string
		seenRow
	}
	var added, modified []fileRow
	visited := make(map[string]struct{}, len(known))

	// Walk first, write after: the write transaction stays short on large trees.
	walkFn := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != root && isTempName(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		visited[p] = struct{}{}
		row := fileRow{path: p, seenRow: seenRow{size: info.Size(), mtime: info.ModTime().Unix()}}

		old, ok := known[p]
		switch {
		case !ok:
			added = append(added, row)
		case old != row.seenRow:
			modified = append(modified, row)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, err
	}

	var deleted []string
	for p := range known {
		if _, ok := visited[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	slices.Sort(deleted)

	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sweep_roots(root,baseline_at) VALUES(?,?)`, root, now)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	baseline := n == 1

	changes := make([]Change, 0, len(added)+len(modified)+len(deleted))
	for _, r := range added {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingest_seen(path,root,size,mtime,seen_at) VALUES(?,?,?,?,?)
			 ON CONFLICT(path) DO UPDATE SET root=excluded.root, size=excluded.size, mtime=excluded.mtime, seen_at=excluded.seen_at`,
			r.path, root, r.size, r.mtime, now); err != nil {
			return nil, err
		}
		if !baseline {
			changes = append(changes, Change{Path: r.path, Kind: KindAdded, Source: SourceSweep})
		}
	}
	for _, r := range modified {
		if _, err := tx.ExecContext(ctx, `UPDATE ingest_seen SET size=?, mtime=?, seen_at=? WHERE path=?`, r.size, r.mtime, now, r.path); err != nil {
			return nil, err
		}
		changes = append(changes, Change{Path: r.path, Kind: KindModified, Source: SourceSweep})
	}
	for _, p := range deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ingest_seen WHERE path=?`, p); err != nil {
			return nil, err
		}
		changes = append(changes, Change{Path: p, Kind: KindDeleted, Source: SourceSweep})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// Observe folds changes already handled elsewhere (the watcher) into the seen
// state of root, so the next sweep does not report them again. A deleted path
// also drops everything recorded below it.
func (s *Sweeper) Observe(ctx context.Context, root string, changes []Change) error {
	root = filepath.Clean(root)
	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	for _, c := range changes {
		p := filepath.Clean(c.Path)
		if !within(root, p) {
			continue
		}
		if c.Kind == KindDeleted {
			prefix := p + string(filepath.Separator)
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM ingest_seen WHERE path=? OR substr(path,1,length(?))=?`, p, prefix, prefix); err != nil {
				return err
			}
			continue
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			// Gone again or not a file; the next sweep settles it.
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingest_seen(path,root,size,mtime,seen_at) VALUES(?,?,?,?,?)
			 ON CONFLICT(path) DO UPDATE SET root=excluded.root, size=excluded.size, mtime=excluded.mtime, seen_at=excluded.seen_at`,
			p, root, info.Size(), info.ModTime().Unix(), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Forget drops everything recorded for root, so the next sweep starts a new baseline.
func (s *Sweeper) Forget(ctx context.Context, root string) error {
	root = filepath.Clean(root)
	if _, err := s.db.SQL.ExecContext(ctx, `DELETE FROM ingest_seen WHERE root=?`, root); err != nil {
		return err
	}
	_, err := s.db.SQL.ExecContext(ctx, `DELETE FROM sweep_roots WHERE root=?`, root)
	return err
}

func (s *Sweeper) load(ctx context.Context, root string) (map[string]seenRow, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT path,size,mtime FROM ingest_seen WHERE root=?`, root)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]seenRow)
	for rows.Next() {
		var (
			p string
			r seenRow
		)
		if err := rows.Scan(&p, &r.size, &r.mtime); err != nil {
			return nil, err
		}
		out[p] = r
	}
	return out, rows.Err()
}
