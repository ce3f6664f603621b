// Package scanner watches the configured directory and asks Plex to rescan the
// folders that changed.
//
// Configuration lives in the host: every cycle re-reads the plugin config and
// the server list, so edits saved from the panel apply at the next tick.
package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gaby/plexscanner/internal/domain"
	"github.com/gaby/plexscanner/internal/history"
	"github.com/gaby/plexscanner/internal/logging"
	"github.com/gaby/plexscanner/internal/metrics"
	"github.com/gaby/plexscanner/internal/plex"
)

// Host is the part of the host plugin API the scanner reads.
type Host interface {
	Servers(ctx context.Context) ([]domain.ServerRef, error)
	Config(ctx context.Context) (domain.Config, error)
}

// Refresher asks one Plex server to rescan a path in a section. *plex.Client
// implements it.
type Refresher interface {
	RefreshPath(ctx context.Context, sectionID, plexPath string) error
	Identity(ctx context.Context) (string, error)
	Sections(ctx context.Context) ([]domain.Section, error)
}

type Options struct {
	// RefreshPerSecond caps refresh requests per Plex server; <= 0 means unlimited.
	RefreshPerSecond float64
	// Debounce batches watcher events before refreshing.
	Debounce time.Duration
	// Retention is how long scan history is kept; <= 0 keeps everything.
	Retention time.Duration
	// NewRefresher builds the client for a server; defaults to a plex.Client.
	NewRefresher func(ref domain.ServerRef, perSecond float64) Refresher
}

// Status is a point-in-time view for the UI.
type Status struct {
	WatchDirectory string    `json:"watch_directory"`
	Watching       bool      `json:"watching"`
	Interval       int       `json:"scan_interval"`
	LastSweep      time.Time `json:"last_sweep"`
	LastError      string    `json:"last_error,omitempty"`
}

type Scanner struct {
	host    Host
	sweeper *Sweeper
	history *history.Store
	opts    Options

	mu        sync.Mutex
	cfg       domain.Config
	servers   []domain.ServerRef
	clients   map[string]Refresher
	lastSweep time.Time
	lastErr   string
	sweptRoot string

	watchDir    string
	watchStop   context.CancelFunc
	watchDone   chan struct{}
	watchActive bool
}

func New(host Host, sw *Sweeper, hist *history.Store, opts Options) *Scanner {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.NewRefresher == nil {
		opts.NewRefresher = func(ref domain.ServerRef, perSecond float64) Refresher {
			return plex.New(ref.URL, ref.Token, perSecond)
		}
	}
	return &Scanner{host: host, sweeper: sw, history: hist, opts: opts, clients: map[string]Refresher{}}
}

func (s *Scanner) String() string { return "scanner" }

// Serve runs until ctx is cancelled.
func (s *Scanner) Serve(ctx context.Context) error {
	changes := make(chan Change, 256)
	defer s.stopWatcher()

	tick := time.NewTimer(0)
	defer tick.Stop()

	var (
		pending []Change
		flush   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-tick.C:
			s.Cycle(ctx, changes)
			tick.Reset(time.Duration(s.Status().Interval) * time.Second)

		case c := <-changes:
			metrics.ScannerChanges.WithLabelValues(string(c.Kind), string(c.Source)).Inc()
			pending = append(pending, c)
			if flush == nil {
				flush = time.After(s.opts.Debounce)
			}

		case <-flush:
			s.HandleWatch(ctx, pending)
			pending, flush = nil, nil
		}
	}
}

// Cycle reloads the host state, keeps the watcher on the configured directory
// and runs one sweep. changes receives watcher events; it may be nil in tests.
func (s *Scanner) Cycle(ctx context.Context, changes chan<- Change) {
	if err := s.reload(ctx); err != nil {
		logging.Warn().Err(err).Msg("scanner: reload from host failed, keeping previous config")
	}
	cfg := s.config()
	dir := strings.TrimSpace(cfg.WatchDirectory)
	if dir == "" {
		s.stopWatcher()
		logging.Debug().Msg("scanner: no watch directory configured")
		return
	}

	s.switchRoot(ctx, filepath.Clean(dir))
	if changes != nil {
		s.ensureWatcher(ctx, dir, changes)
	}

	found, err := s.sweeper.Sweep(ctx, dir)
	s.mu.Lock()
	s.lastSweep = time.Now()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn().Str("dir", dir).Msg("scanner: watch directory does not exist")
		} else if !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Str("dir", dir).Msg("scanner: sweep failed")
		}
		return
	}
	for _, c := range found {
		metrics.ScannerChanges.WithLabelValues(string(c.Kind), string(c.Source)).Inc()
	}
	if len(found) > 0 {
		logging.Info().Int("changes", len(found)).Str("dir", dir).Msg("scanner: sweep found changes")
		s.Process(ctx, SourceSweep, found)
	}

	if s.opts.Retention > 0 && s.history != nil {
		if n, err := s.history.Prune(ctx, time.Now().Add(-s.opts.Retention)); err != nil {
			logging.Warn().Err(err).Msg("scanner: prune history failed")
		} else if n > 0 {
			logging.Debug().Int64("removed", n).Msg("scanner: pruned history")
		}
	}
}

// Process maps the changed files to Plex paths and refreshes each affected
// directory once.
func (s *Scanner) Process(ctx context.Context, source Source, changes []Change) {
	if len(changes) == 0 {
		return
	}
	cfg := s.config()
	if cfg.PlexServerID == "" || cfg.PlexSectionID == "" {
		logging.Info().Int("changes", len(changes)).Msg("scanner: plex server or section not configured, skipping")
		return
	}
	ref, ok := s.server(cfg.PlexServerID)
	if !ok {
		logging.Warn().Stringer("server_id", cfg.PlexServerID).Msg("scanner: plex server not found, skipping")
		return
	}
	refresher := s.refresher(ctx, ref, cfg.PlexSectionID)
	mapper := NewMapper(cfg.PathMappings)
	root := filepath.Clean(cfg.WatchDirectory)

	for _, g := range groupByDir(root, changes) {
		plexPath, mapped := mapper.Map(g.dir)
		log := logging.With().Str("local", g.dir).Str("plex", plexPath).Str("change", string(g.kind)).Int("files", g.files).Logger()
		if !mapped && len(cfg.PathMappings) > 0 {
			log.Debug().Msg("scanner: no path mapping matched, using local path")
		}

		err := refresher.RefreshPath(ctx, string(cfg.PlexSectionID), plexPath)
		if err != nil {
			log.Error().Err(err).Msg("scanner: plex refresh failed")
		} else {
			log.Info().Msg("scanner: plex refresh requested")
		}
		s.record(ctx, source, cfg, g, plexPath, err)
	}
}

// HandleWatch processes a batch of watcher changes and marks them as seen,
// so the next sweep does not refresh the same files again.
func (s *Scanner) HandleWatch(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.Process(ctx, SourceWatch, changes)
	dir := strings.TrimSpace(s.config().WatchDirectory)
	if dir == "" {
		return
	}
	if err := s.sweeper.Observe(ctx, dir, changes); err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("scanner: record watched changes failed")
	}
}

// switchRoot drops the sweep state of the previous watch directory when the
// configured one changes.
func (s *Scanner) switchRoot(ctx context.Context, root string) {
	s.mu.Lock()
	old := s.sweptRoot
	s.sweptRoot = root
	s.mu.Unlock()
	if old == "" || old == root {
		return
	}
	if err := s.sweeper.Forget(ctx, old); err != nil {
		logging.Warn().Err(err).Str("dir", old).Msg("scanner: forget previous watch directory failed")
		return
	}
	logging.Info().Str("from", old).Str("to", root).Msg("scanner: watch directory changed")
}

func (s *Scanner) record(ctx context.Context, source Source, cfg domain.Config, g group, plexPath string, rerr error) {
	if s.history == nil {
		return
	}
	e := history.Entry{
		Source:    string(source),
		Change:    string(g.kind),
		ServerID:  string(cfg.PlexServerID),
		SectionID: string(cfg.PlexSectionID),
		LocalPath: g.dir,
		PlexPath:  plexPath,
		Files:     g.files,
	}
	if rerr != nil {
		msg := rerr.Error()
		e.Error = &msg
	}
	if _, err := s.history.Record(ctx, e); err != nil {
		logging.Warn().Err(err).Msg("scanner: record history failed")
	}
}

// Status reports the current config view and watcher state.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		WatchDirectory: s.cfg.WatchDirectory,
		Watching:       s.watchActive,
		Interval:       s.cfg.Interval(),
		LastSweep:      s.lastSweep,
		LastError:      s.lastErr,
	}
}

func (s *Scanner) reload(ctx context.Context) error {
	cfg, err := s.host.Config(ctx)
	if err != nil {
		return err
	}
	servers, err := s.host.Servers(ctx)
	if err != nil {
		return err
	}
	if cfg.Interval() < domain.MinScanInterval {
		cfg.ScanInterval = domain.MinScanInterval
	}
	s.mu.Lock()
	s.cfg = cfg
	s.servers = servers
	s.mu.Unlock()
	return nil
}

func (s *Scanner) config() domain.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scanner) server(id domain.ID) (domain.ServerRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.servers {
		if ref.ID == id {
			return ref, true
		}
	}
	return domain.ServerRef{}, false
}

// refresher keeps one client per server so breaker and limiter state survive
// reloads. A new client is probed once.
func (s *Scanner) refresher(ctx context.Context, ref domain.ServerRef, sectionID domain.ID) Refresher {
	key := string(ref.ID) + "\x00" + ref.URL + "\x00" + ref.Token
	s.mu.Lock()
	r, ok := s.clients[key]
	if !ok {
		r = s.opts.NewRefresher(ref, s.opts.RefreshPerSecond)
		s.clients[key] = r
	}
	s.mu.Unlock()
	if !ok {
		probe(ctx, ref, r, sectionID)
	}
	return r
}

// probe logs who answers at ref and whether the configured section exists there.
// Failures are only logged; the refresh itself reports its own error.
func probe(ctx context.Context, ref domain.ServerRef, r Refresher, sectionID domain.ID) {
	log := logging.With().Stringer("server_id", ref.ID).Str("url", ref.URL).Logger()
	machineID, err := r.Identity(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("scanner: plex server did not answer identity request")
		return
	}
	log.Info().Str("machine_id", machineID).Msg("scanner: plex server connected")

	sections, err := r.Sections(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("scanner: list plex sections failed")
		return
	}
	for _, sec := range sections {
		if sec.Key == sectionID {
			return
		}
	}
	log.Warn().Stringer("section_id", sectionID).Msg("scanner: configured section not found on plex server")
}

func (s *Scanner) ensureWatcher(ctx context.Context, dir string, changes chan<- Change) {
	dir = filepath.Clean(dir)
	s.mu.Lock()
	same := s.watchDir == dir && s.watchActive
	s.mu.Unlock()
	if same {
		return
	}
	s.stopWatcher()

	w, err := NewWatcher(dir)
	if err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("scanner: file watcher unavailable, sweeping only")
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.watchDir, s.watchStop, s.watchDone, s.watchActive = dir, cancel, done, true
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := w.Run(wctx, changes)
		s.mu.Lock()
		if s.watchDone == done {
			s.watchActive = false
		}
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Str("dir", dir).Msg("scanner: file watcher stopped")
		}
	}()
	logging.Info().Str("dir", dir).Msg("scanner: watching directory")
}

func (s *Scanner) stopWatcher() {
	s.mu.Lock()
	stop, done := s.watchStop, s.watchDone
	s.watchStop, s.watchDone, s.watchDir, s.watchActive = nil, nil, "", false
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

type group struct {
	dir   string
	kind  Kind
	files int
}

// groupByDir folds changes into one entry per parent directory, sorted by path.
// Changes outside root are dropped. Mixed kinds in one directory count as modified.
func groupByDir(root string, changes []Change) []group {
	byDir := map[string]*group{}
	for _, c := range changes {
		p := filepath.Clean(c.Path)
		if !within(root, p) {
			continue
		}
		dir := p
		if p != root {
			dir = filepath.Dir(p)
		}
		g, ok := byDir[dir]
		if !ok {
			g = &group{dir: dir, kind: c.Kind}
			byDir[dir] = g
		} else if g.kind != c.Kind {
			g.kind = KindModified
		}
		g.files++
	}
	out := make([]group, 0, len(byDir))
	for _, g := range byDir {
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b group) int { return strings.Compare(a.dir, b.dir) })
	return out
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
