package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaby/plexscanner/internal/db"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "state", "scanner.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return NewStore(d)
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	msg := "plex refresh status=500"
	for i, e := range []Entry{
		{Time: base, Source: "sweep", Change: "added", ServerID: "1", SectionID: "2", LocalPath: "/w/a", PlexPath: "/p/a", Files: 2},
		{Time: base.Add(time.Minute), Source: "watch", Change: "deleted", ServerID: "1", SectionID: "2", LocalPath: "/w/b", PlexPath: "/p/b", Files: 1, Error: &msg},
	} {
		got, err := s.Record(ctx, e)
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if got.ID == "" {
			t.Errorf("Record %d: empty id", i)
		}
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].LocalPath != "/w/b" || list[0].Error == nil || *list[0].Error != msg {
		t.Errorf("newest entry = %+v", list[0])
	}
	if list[1].Files != 2 || list[1].Error != nil || !list[1].Time.Equal(base) {
		t.Errorf("oldest entry = %+v", list[1])
	}
}

func TestRecord_RequiresSourceAndChange(t *testing.T) {
	s := openStore(t)
	if _, err := s.Record(context.Background(), Entry{Source: "sweep"}); err == nil {
		t.Error("entry without change accepted")
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now()
	_, _ = s.Record(ctx, Entry{Time: now.Add(-48 * time.Hour), Source: "sweep", Change: "added"})
	_, _ = s.Record(ctx, Entry{Time: now, Source: "sweep", Change: "added"})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	list, _ := s.List(ctx, 0)
	if len(list) != 1 {
		t.Errorf("left %d entries, want 1", len(list))
	}
}
