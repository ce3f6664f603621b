// Package web binds the panel controller to a server-rendered HTML page.
//
// The page is one form. Every button posts the whole form to its action
// endpoint; the handler copies the fields into the controller, runs the action
// and redirects back to the page, where the outcome shows up as a toast.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaby/plexscanner/internal/history"
	"github.com/gaby/plexscanner/internal/logging"
	"github.com/gaby/plexscanner/internal/panel"
	"github.com/gaby/plexscanner/internal/scanner"
	"github.com/gaby/plexscanner/internal/version"
)

// ScanStatus is implemented by *scanner.Scanner.
type ScanStatus interface {
	Status() scanner.Status
}

type Options struct {
	Panel  *panel.Controller
	Toasts *panel.Toasts

	// Optional.
	History *history.Store
	Scanner ScanStatus

	// ActionTimeout bounds one host round trip; default 30s.
	ActionTimeout time.Duration
}

type Server struct {
	opts   Options
	router chi.Router
}

func New(opts Options) *Server {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}
	s := &Server{opts: opts}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/live", s.handleLive)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", s.handlePage)
	r.Post("/actions/{action}", s.handleAction)
	r.Post("/toasts/{id}/dismiss", s.handleDismiss)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/scans", s.handleScans)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"time":    time.Now().Format(time.RFC3339),
		"version": version.Version,
		"commit":  version.Commit,
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Form:   s.opts.Panel.Snapshot(),
		Toasts: s.opts.Toasts.Active(),
	}
	if s.opts.Scanner != nil {
		st := s.opts.Scanner.Status()
		data.Status = &st
	}
	if s.opts.History != nil {
		scans, err := s.opts.History.List(r.Context(), 20)
		if err != nil {
			logging.Warn().Err(err).Msg("web: list scan history failed")
		}
		data.Scans = scans
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page(data).Render(w); err != nil {
		logging.Error().Err(err).Msg("web: render page failed")
	}
}

// Action names accepted by POST /actions/{action}.
const (
	ActionServers        = "servers"
	ActionTestConnection = "test-connection"
	ActionLoadSections   = "load-sections"
	ActionAddMapping     = "add-mapping"
	ActionRemoveMapping  = "remove-mapping"
	ActionSave           = "save"
	ActionCancel         = "cancel"
)

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.applyForm(r)

	// The request context is not used: a client that goes away mid-save
	// should not cancel the write to the host.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.ActionTimeout)
	defer cancel()

	c := s.opts.Panel
	var err error
	switch action {
	case ActionServers:
		err = c.ListServers(ctx)
	case ActionTestConnection:
		err = c.TestConnection(ctx)
	case ActionLoadSections:
		err = c.LoadLibraries(ctx)
	case ActionAddMapping:
		c.AddMapping("", "")
	case ActionRemoveMapping:
		id, convErr := strconv.Atoi(r.Form.Get("id"))
		if convErr != nil || !c.RemoveMapping(id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown mapping row"})
			return
		}
	case ActionSave:
		err = c.SaveConfig(ctx)
	case ActionCancel:
		err = c.Cancel(ctx)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action " + action})
		return
	}
	if err != nil {
		// Already reported to the user as a toast.
		logging.Debug().Err(err).Str("action", action).Msg("web: panel action failed")
	}

	if wantsJSON(r) {
		s.handleState(w, r)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// applyForm copies posted fields into the controller. Absent fields are left alone.
func (s *Server) applyForm(r *http.Request) {
	c := s.opts.Panel
	if v, ok := formValue(r, "plex_server_id"); ok {
		c.SelectServer(v)
	}
	if v, ok := formValue(r, "plex_section_id"); ok {
		c.SelectSection(v)
	}
	if v, ok := formValue(r, "watch_directory"); ok {
		c.SetWatchDirectory(v)
	}
	if v, ok := formValue(r, "scan_interval"); ok {
		c.SetScanInterval(v)
	}
	for _, row := range c.Snapshot().Rows {
		key := panel.RowKey(row.ID)
		local, okL := formValue(r, key+"_local")
		plex, okP := formValue(r, key+"_plex")
		if !okL && !okP {
			continue
		}
		if !okL {
			local = row.Local
		}
		if !okP {
			plex = row.Plex
		}
		c.SetMapping(row.ID, local, plex)
	}
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.opts.Toasts.Dismiss(chi.URLParam(r, "id"))
	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type stateResponse struct {
	Form    panel.Form      `json:"form"`
	Toasts  []panel.Toast   `json:"toasts"`
	Scanner *scanner.Status `json:"scanner,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{Form: s.opts.Panel.Snapshot(), Toasts: s.opts.Toasts.Active()}
	if s.opts.Scanner != nil {
		st := s.opts.Scanner.Status()
		resp.Scanner = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scan history not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.opts.History.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func formValue(r *http.Request, key string) (string, bool) {
	vs, ok := r.PostForm[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func wantsJSON(r *http.Request) bool {
	return r.Header.Get("Accept") == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
