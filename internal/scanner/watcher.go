package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gaby/plexscanner/internal/logging"
)

// Watcher turns fsnotify events under one root into file changes. Directories
// created after start are watched as they appear.
type Watcher struct {
	root string
	fw   *fsnotify.Watcher

	mu   sync.Mutex
	dirs map[string]struct{}
}

func NewWatcher(root string) (*Watcher, error) {
	root = filepath.Clean(root)
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: root, fw: fw, dirs: map[string]struct{}{}}
	if _, err := w.addTree(root, false); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Run forwards changes to out until ctx ends or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, out chan<- Change) error {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			for _, c := range w.translate(ev) {
				select {
				case out <- c:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(err).Str("root", w.root).Msg("watcher error")
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) []Change {
	name := filepath.Clean(ev.Name)
	if isTempName(filepath.Base(name)) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create):
		st, err := os.Stat(name)
		if err != nil {
			return nil
		}
		if st.IsDir() {
			// Files may land in the new directory before it is watched.
			files, err := w.addTree(name, true)
			if err != nil {
				logging.Warn().Err(err).Str("dir", name).Msg("watch new directory failed")
			}
			out := make([]Change, 0, len(files))
			for _, f := range files {
				out = append(out, Change{Path: f, Kind: KindAdded, Source: SourceWatch})
			}
			return out
		}
		if !st.Mode().IsRegular() {
			return nil
		}
		return []Change{{Path: name, Kind: KindAdded, Source: SourceWatch}}

	case ev.Has(fsnotify.Write):
		st, err := os.Stat(name)
		if err != nil || !st.Mode().IsRegular() {
			return nil
		}
		return []Change{{Path: name, Kind: KindModified, Source: SourceWatch}}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A removed directory is reported by its own path as well.
		w.forgetDir(name)
		return []Change{{Path: name, Kind: KindDeleted, Source: SourceWatch}}
	}
	return nil
}

// addTree watches dir and everything below it. With collect set it also
// returns the regular files already present.
func (w *Watcher) addTree(dir string, collect bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != dir && isTempName(d.Name()) {
				return fs.SkipDir
			}
			if err := w.fw.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			w.mu.Lock()
			w.dirs[p] = struct{}{}
			w.mu.Unlock()
			return nil
		}
		if collect && d.Type().IsRegular() && !isTempName(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	return files, err
}

// forgetDir drops dir and its subdirectories from the watch set and reports
// whether dir was a watched directory.
func (w *Watcher) forgetDir(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; !ok {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
			_ = w.fw.Remove(d)
		}
	}
	return true
}
