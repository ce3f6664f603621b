package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/gaby/plexscanner/internal/db"
	"github.com/gaby/plexscanner/internal/domain"
	"github.com/gaby/plexscanner/internal/history"
	"github.com/gaby/plexscanner/internal/hostapi"
	"github.com/gaby/plexscanner/internal/panel"
	"github.com/gaby/plexscanner/internal/scanner"
)

type fakeHost struct {
	mu      sync.Mutex
	servers []domain.ServerRef
	cfg     domain.Config
	saved   []domain.Config
	saveErr error
}

func (h *fakeHost) Servers(context.Context) ([]domain.ServerRef, error) { return h.servers, nil }

func (h *fakeHost) Server(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (h *fakeHost) Sections(context.Context, string) ([]domain.Section, error) {
	return []domain.Section{{Key: "1", Title: "Movies", Type: domain.SectionMovie}}, nil
}

func (h *fakeHost) Config(context.Context) (domain.Config, error) { return h.cfg, nil }

func (h *fakeHost) SaveConfig(_ context.Context, cfg domain.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.saveErr != nil {
		return h.saveErr
	}
	h.saved = append(h.saved, cfg)
	return nil
}

type fakeStatus struct{ st scanner.Status }

func (f fakeStatus) Status() scanner.Status { return f.st }

type env struct {
	host   *fakeHost
	ctrl   *panel.Controller
	toasts *panel.Toasts
	srv    *httptest.Server
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	e := &env{
		host:   &fakeHost{servers: []domain.ServerRef{{ID: "s1", Name: "Home", URL: "http://plex:32400"}}},
		toasts: panel.NewToasts(),
	}
	e.ctrl = panel.New(e.host, e.toasts)
	opts.Panel, opts.Toasts = e.ctrl, e.toasts
	e.srv = httptest.NewServer(New(opts).Handler())
	t.Cleanup(e.srv.Close)
	return e
}

// noRedirect keeps the 303 visible to the test.
var noRedirect = &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

func (e *env) post(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := noRedirect.PostForm(e.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSave_AppliesFormAndRedirects(t *testing.T) {
	e := newEnv(t, Options{})
	id := e.ctrl.AddMapping("", "")
	key := panel.RowKey(id)

	resp := e.post(t, "/actions/save", url.Values{
		"plex_server_id":  {"s1"},
		"plex_section_id": {"1"},
		"watch_directory": {"/media/in"},
		"scan_interval":   {"120"},
		key + "_local":    {"/media"},
		key + "_plex":     {"/data"},
	})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("status = %d, location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if len(e.host.saved) != 1 {
		t.Fatalf("saved %d configs", len(e.host.saved))
	}
	want := domain.Config{
		PlexServerID:   "s1",
		PlexSectionID:  "1",
		WatchDirectory: "/media/in",
		ScanInterval:   120,
		PathMappings:   []domain.PathMapping{{LocalPath: "/media", PlexPath: "/data"}},
	}
	got := e.host.saved[0]
	if got.PlexServerID != want.PlexServerID || got.PlexSectionID != want.PlexSectionID ||
		got.WatchDirectory != want.WatchDirectory || got.ScanInterval != want.ScanInterval ||
		len(got.PathMappings) != 1 || got.PathMappings[0] != want.PathMappings[0] {
		t.Errorf("saved = %+v, want %+v", got, want)
	}
	if ts := e.toasts.Active(); len(ts) != 1 || ts[0].Message != panel.MsgSaved {
		t.Errorf("toasts = %+v", ts)
	}
}

func TestSave_ValidationWarningShownOnPage(t *testing.T) {
	e := newEnv(t, Options{})
	e.post(t, "/actions/save", url.Values{"plex_server_id": {""}})
	if len(e.host.saved) != 0 {
		t.Fatal("invalid config was saved")
	}

	resp, err := http.Get(e.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), panel.MsgSelectServer) {
		t.Errorf("page does not show the warning")
	}
	if !strings.Contains(body.String(), "toast-warning") {
		t.Errorf("warning toast missing its level class")
	}
}

func TestMappingRows_AddAndRemove(t *testing.T) {
	e := newEnv(t, Options{})
	e.post(t, "/actions/add-mapping", nil)
	e.post(t, "/actions/add-mapping", nil)
	rows := e.ctrl.Snapshot().Rows
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}

	resp := e.post(t, "/actions/remove-mapping?id="+strconv.Itoa(rows[0].ID), nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	left := e.ctrl.Snapshot().Rows
	if len(left) != 1 || left[0].ID != rows[1].ID {
		t.Errorf("rows after remove = %+v", left)
	}

	if resp := e.post(t, "/actions/remove-mapping?id=999", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown row status = %d", resp.StatusCode)
	}
}

func TestLoadSections_ShowsSelector(t *testing.T) {
	e := newEnv(t, Options{})
	e.post(t, "/actions/load-sections", url.Values{"plex_server_id": {"s1"}})

	resp, err := http.Get(e.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	page := body.String()
	if !strings.Contains(page, `<select id="plex_section_id"`) {
		t.Error("section selector not rendered")
	}
	if !strings.Contains(page, "Movies (电影)") {
		t.Error("section label missing")
	}
}

func TestUnknownAction(t *testing.T) {
	e := newEnv(t, Options{})
	if resp := e.post(t, "/actions/explode", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestState_JSON(t *testing.T) {
	e := newEnv(t, Options{Scanner: fakeStatus{st: scanner.Status{WatchDirectory: "/w", Interval: 300}}})
	e.ctrl.SetWatchDirectory("/w")

	resp, err := http.Get(e.srv.URL + "/api/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got struct {
		Form    panel.Form      `json:"form"`
		Scanner *scanner.Status `json:"scanner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Form.WatchDirectory != "/w" || got.Scanner == nil || got.Scanner.Interval != 300 {
		t.Errorf("state = %+v", got)
	}
}

func TestAction_JSONResponse(t *testing.T) {
	e := newEnv(t, Options{})
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/actions/servers", strings.NewReader(""))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Form.Servers) != 2 || got.Form.Servers[1].Label != "Home (http://plex:32400)" {
		t.Errorf("servers = %+v", got.Form.Servers)
	}
}

func TestScans(t *testing.T) {
	e := newEnv(t, Options{})
	resp, err := http.Get(e.srv.URL + "/api/v1/scans")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status without history = %d", resp.StatusCode)
	}

	d, err := db.Open(filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	hist := history.NewStore(d)
	_, _ = hist.Record(context.Background(), history.Entry{Time: time.Now(), Source: "watch", Change: "added", PlexPath: "/p/a", Files: 1})

	e = newEnv(t, Options{History: hist})
	resp, err = http.Get(e.srv.URL + "/api/v1/scans")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var items []history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].PlexPath != "/p/a" {
		t.Errorf("items = %+v", items)
	}
}

func TestDismissToast(t *testing.T) {
	e := newEnv(t, Options{})
	e.toasts.Notify(panel.LevelInfo, "hello")
	id := e.toasts.Active()[0].ID
	e.post(t, "/toasts/"+id+"/dismiss", nil)
	if len(e.toasts.Active()) != 0 {
		t.Error("toast not dismissed")
	}
}

func TestLive(t *testing.T) {
	e := newEnv(t, Options{})
	resp, err := http.Get(e.srv.URL + "/live")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHostRejectionBecomesErrorToast(t *testing.T) {
	e := newEnv(t, Options{})
	e.host.saveErr = &hostapi.HostError{Endpoint: hostapi.EndpointConfig, Message: "disk full"}
	e.post(t, "/actions/save", url.Values{
		"plex_server_id":  {"s1"},
		"plex_section_id": {"1"},
		"watch_directory": {"/w"},
		"scan_interval":   {"300"},
	})
	ts := e.toasts.Active()
	if len(ts) != 1 || ts[0].Level != panel.LevelError || ts[0].Message != panel.MsgSaveFailed+"disk full" {
		t.Errorf("toasts = %+v", ts)
	}
}

func TestPage_EnterSubmitsSave(t *testing.T) {
	e := newEnv(t, Options{})
	resp, err := http.Get(e.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	page := body.String()

	form := strings.Index(page, `<form id="plex-scanner-config"`)
	if form < 0 {
		t.Fatal("config form not rendered")
	}
	first := strings.Index(page[form:], `type="submit"`)
	save := strings.Index(page[form:], `formaction="/actions/save"`)
	if first < 0 || save < 0 || save-first > 64 {
		t.Errorf("first submit button in the form is not save")
	}
	if servers := strings.Index(page[form:], `formaction="/actions/servers"`); servers < save {
		t.Errorf("servers button precedes the default save button")
	}
}
