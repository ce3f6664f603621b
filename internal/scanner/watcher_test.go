package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// waitFor reads changes until one matches or the deadline passes.
func waitFor(t *testing.T, ch <-chan Change, want Change) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-ch:
			if c == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestWatcher_FileEvents(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan Change, 64)
	go func() { _ = w.Run(ctx, ch) }()

	p := filepath.Join(root, "a.mkv")
	writeFile(t, p, "x")
	waitFor(t, ch, Change{Path: p, Kind: KindAdded, Source: SourceWatch})

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, Change{Path: p, Kind: KindDeleted, Source: SourceWatch})
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan Change, 64)
	go func() { _ = w.Run(ctx, ch) }()

	sub := filepath.Join(root, "Show", "Season 1")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to pick up the new directories.
	deadline := time.Now().Add(5 * time.Second)
	for {
		w.mu.Lock()
		_, ok := w.dirs[sub]
		w.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new subdirectory never watched")
		}
		time.Sleep(10 * time.Millisecond)
	}

	p := filepath.Join(sub, "e01.mkv")
	writeFile(t, p, "x")
	waitFor(t, ch, Change{Path: p, Kind: KindAdded, Source: SourceWatch})
}

func TestWatcher_IgnoresTempNames(t *testing.T) {
	w := &Watcher{dirs: map[string]struct{}{}}
	if got := w.translate(fsEvent("/w/movie.mkv.part")); len(got) != 0 {
		t.Errorf("temp file produced %v", got)
	}
}

func TestNewWatcher_MissingRoot(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewWatcher accepted a missing directory")
	}
}

func fsEvent(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Create}
}
