// Package panel is the settings panel of the Plex scanner plugin, kept free
// of any UI toolkit. A binding (see internal/web) feeds user input through the
// setters, triggers the actions and renders Snapshot().
//
// Each action is one independent request against the host. Outcomes are
// reported to the Notifier; the returned error is for callers that need it.
package panel

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/gaby/plexscanner/internal/domain"
	"github.com/gaby/plexscanner/internal/hostapi"
	"github.com/gaby/plexscanner/internal/logging"
	"github.com/gaby/plexscanner/internal/metrics"
)

// Notification texts.
const (
	MsgSelectServerFirst = "请先选择Plex服务器"
	MsgSectionsLoaded    = "媒体库加载成功"
	MsgConnectionOK      = "连接测试成功"
	MsgSaved             = "配置保存成功"

	MsgServersFailed    = "获取Plex服务器列表失败: "
	MsgConnectionFailed = "连接测试失败: "
	MsgSectionsFailed   = "加载媒体库失败: "
	MsgConfigFailed     = "加载配置失败: "
	MsgSaveFailed       = "保存配置失败: "
	MsgUnexpected       = "发生错误: "
)

var (
	ErrBusy     = errors.New("panel: control busy")
	ErrNoServer = errors.New("panel: no server selected")
)

// Control identifies a button that shows a busy state while its request runs.
type Control string

const (
	ControlLoadSections   Control = "load_sections"
	ControlTestConnection Control = "test_connection"
)

// Host is the subset of the plugin API the panel uses. *hostapi.Plugin implements it.
type Host interface {
	Servers(ctx context.Context) ([]domain.ServerRef, error)
	Server(ctx context.Context, serverID string) (json.RawMessage, error)
	Sections(ctx context.Context, serverID string) ([]domain.Section, error)
	Config(ctx context.Context) (domain.Config, error)
	SaveConfig(ctx context.Context, cfg domain.Config) error
}

// Option is one entry of a selector.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Row is a path mapping row being edited. ID only identifies the row in the
// UI and is never sent to the host.
type Row struct {
	ID    int    `json:"id"`
	Local string `json:"local"`
	Plex  string `json:"plex"`
}

// Form is the panel's entire state.
type Form struct {
	ServerID       string `json:"plex_server_id"`
	SectionID      string `json:"plex_section_id"`
	WatchDirectory string `json:"watch_directory"`
	ScanInterval   string `json:"scan_interval"`
	Rows           []Row  `json:"path_mappings"`

	Servers         []Option         `json:"servers"`
	Sections        []Option         `json:"sections"`
	SectionsVisible bool             `json:"sections_visible"`
	Busy            map[Control]bool `json:"busy"`
}

func (f Form) clone() Form {
	out := f
	out.Rows = append([]Row(nil), f.Rows...)
	out.Servers = append([]Option(nil), f.Servers...)
	out.Sections = append([]Option(nil), f.Sections...)
	out.Busy = make(map[Control]bool, len(f.Busy))
	for k, v := range f.Busy {
		out.Busy[k] = v
	}
	return out
}

type Controller struct {
	host   Host
	notify Notifier

	mu      sync.Mutex
	form    Form
	nextRow int
}

func New(host Host, notify Notifier) *Controller {
	if notify == nil {
		notify = NotifierFunc(func(Level, string) {})
	}
	return &Controller{
		host:   host,
		notify: notify,
		form: Form{
			Servers:  []Option{placeholder()},
			Sections: []Option{placeholder()},
			Busy:     map[Control]bool{},
		},
	}
}

func placeholder() Option { return Option{Value: "", Label: "-- 请选择 --"} }

// Snapshot returns a copy of the current form.
func (c *Controller) Snapshot() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form.clone()
}

// Init does what a page load does: list servers and load the saved config,
// concurrently.
func (c *Controller) Init(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return c.ListServers(ctx) })
	g.Go(func() error { return c.LoadConfig(ctx) })
	return g.Wait()
}

func (c *Controller) ListServers(ctx context.Context) error {
	servers, err := c.host.Servers(ctx)
	if err != nil {
		c.fail("servers", MsgServersFailed, err)
		return err
	}
	opts := make([]Option, 0, len(servers)+1)
	opts = append(opts, placeholder())
	for _, s := range servers {
		opts = append(opts, Option{Value: string(s.ID), Label: s.Name + " (" + s.URL + ")"})
	}
	c.mu.Lock()
	c.form.Servers = opts
	c.mu.Unlock()
	return nil
}

func (c *Controller) TestConnection(ctx context.Context) error {
	serverID, err := c.begin(ControlTestConnection)
	if err != nil {
		return err
	}
	defer c.end(ControlTestConnection)

	if _, err := c.host.Server(ctx, serverID); err != nil {
		c.fail("test_connection", MsgConnectionFailed, err)
		return err
	}
	c.note("test_connection", LevelSuccess, MsgConnectionOK)
	return nil
}

// LoadLibraries fetches the sections of the selected server.
func (c *Controller) LoadLibraries(ctx context.Context) error {
	serverID, err := c.begin(ControlLoadSections)
	if err != nil {
		return err
	}
	defer c.end(ControlLoadSections)
	return c.loadSections(ctx, serverID)
}

func (c *Controller) loadSections(ctx context.Context, serverID string) error {
	sections, err := c.host.Sections(ctx, serverID)
	if err != nil {
		c.fail("load_sections", MsgSectionsFailed, err)
		return err
	}
	opts := []Option{placeholder()}
	for _, s := range sections {
		if !s.Selectable() {
			continue
		}
		opts = append(opts, Option{Value: string(s.Key), Label: s.Title + " (" + s.TypeLabel() + ")"})
	}
	c.mu.Lock()
	c.form.Sections = opts
	c.form.SectionsVisible = true
	c.mu.Unlock()
	c.note("load_sections", LevelSuccess, MsgSectionsLoaded)
	return nil
}

// begin marks a control busy after checking that a server is selected.
func (c *Controller) begin(ctl Control) (string, error) {
	c.mu.Lock()
	serverID := c.form.ServerID
	switch {
	case serverID == "":
		c.mu.Unlock()
		c.note(string(ctl), LevelWarning, MsgSelectServerFirst)
		return "", ErrNoServer
	case c.form.Busy[ctl]:
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.form.Busy[ctl] = true
	c.mu.Unlock()
	return serverID, nil
}

func (c *Controller) end(ctl Control) {
	c.mu.Lock()
	delete(c.form.Busy, ctl)
	c.mu.Unlock()
}

// LoadConfig replaces the form with the saved configuration.
func (c *Controller) LoadConfig(ctx context.Context) error {
	cfg, err := c.host.Config(ctx)
	if err != nil {
		c.fail("load_config", MsgConfigFailed, err)
		return err
	}

	c.mu.Lock()
	c.form.ServerID = string(cfg.PlexServerID)
	c.form.SectionID = string(cfg.PlexSectionID)
	c.form.WatchDirectory = cfg.WatchDirectory
	c.form.ScanInterval = strconv.Itoa(cfg.Interval())
	c.form.Rows = nil
	for _, m := range cfg.PathMappings {
		c.addRowLocked(m.LocalPath, m.PlexPath)
	}
	c.mu.Unlock()

	if cfg.PlexServerID == "" {
		return nil
	}
	// A failed or skipped section load is already reported; the config itself loaded fine.
	if err := c.LoadLibraries(ctx); err != nil && !errors.Is(err, ErrBusy) {
		logging.Debug().Err(err).Stringer("server_id", cfg.PlexServerID).Msg("section load after config load failed")
	}
	return nil
}

// SaveConfig validates the form and persists it.
func (c *Controller) SaveConfig(ctx context.Context) error {
	c.mu.Lock()
	cfg, err := BuildConfig(c.form)
	c.mu.Unlock()

	var verr *ValidationError
	if errors.As(err, &verr) {
		c.note("save", LevelWarning, verr.Message)
		return err
	}

	if err := c.host.SaveConfig(ctx, cfg); err != nil {
		c.fail("save", MsgSaveFailed, err)
		return err
	}
	logging.Info().
		Stringer("server_id", cfg.PlexServerID).
		Stringer("section_id", cfg.PlexSectionID).
		Str("watch_directory", cfg.WatchDirectory).
		Int("scan_interval", cfg.ScanInterval).
		Int("mappings", len(cfg.PathMappings)).
		Msg("config saved")
	c.note("save", LevelSuccess, MsgSaved)
	return nil
}

// Cancel throws away unsaved edits.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.LoadConfig(ctx)
}

func (c *Controller) SelectServer(id string) {
	c.mu.Lock()
	c.form.ServerID = id
	c.mu.Unlock()
}

func (c *Controller) SelectSection(id string) {
	c.mu.Lock()
	c.form.SectionID = id
	c.mu.Unlock()
}

func (c *Controller) SetWatchDirectory(dir string) {
	c.mu.Lock()
	c.form.WatchDirectory = dir
	c.mu.Unlock()
}

// SetScanInterval stores the interval exactly as typed; it is parsed on save.
func (c *Controller) SetScanInterval(text string) {
	c.mu.Lock()
	c.form.ScanInterval = text
	c.mu.Unlock()
}

func (c *Controller) fail(action, prefix string, err error) {
	var he *hostapi.HostError
	if errors.As(err, &he) {
		c.note(action, LevelError, prefix+he.Message)
		return
	}
	logging.Warn().Err(err).Str("action", action).Msg("host request failed")
	c.note(action, LevelError, MsgUnexpected+err.Error())
}

func (c *Controller) note(action string, level Level, msg string) {
	metrics.PanelActions.WithLabelValues(action, string(level)).Inc()
	c.notify.Notify(level, msg)
}

