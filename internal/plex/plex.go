package plex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/gaby/plexscanner/internal/domain"
	"github.com/gaby/plexscanner/internal/logging"
	"github.com/gaby/plexscanner/internal/metrics"
)

var (
	ErrNotConfigured = errors.New("plex not configured")
	ErrInvalidPath   = errors.New("invalid plex path")
)

type Client struct {
	BaseURL string
	Token   string

	HTTP *http.Client

	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// New returns a client for one Plex server. Refreshes are limited to perSecond
// requests (unlimited when <= 0) and go through a circuit breaker that opens
// after five consecutive failures.
func New(baseURL, token string, perSecond float64) *Client {
	c := &Client{BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), Token: strings.TrimSpace(token)}
	c.HTTP = &http.Client{Timeout: 12 * time.Second}

	limit, burst := rate.Inf, 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	c.limiter = rate.NewLimiter(limit, burst)

	name := "plex"
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		name = "plex:" + u.Host
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("plex circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.BaseURL != "" && c.Token != ""
}

// Identity pings the server and returns its machine identifier.
func (c *Client) Identity(ctx context.Context) (string, error) {
	var out struct {
		MediaContainer struct {
			MachineIdentifier string `json:"machineIdentifier"`
		} `json:"MediaContainer"`
	}
	if err := c.getJSON(ctx, "/identity", nil, &out); err != nil {
		return "", err
	}
	return out.MediaContainer.MachineIdentifier, nil
}

// Sections lists the server's library sections.
func (c *Client) Sections(ctx context.Context) ([]domain.Section, error) {
	var out struct {
		MediaContainer struct {
			Directory []domain.Section `json:"Directory"`
		} `json:"MediaContainer"`
	}
	if err := c.getJSON(ctx, "/library/sections", nil, &out); err != nil {
		return nil, err
	}
	if out.MediaContainer.Directory == nil {
		return []domain.Section{}, nil
	}
	return out.MediaContainer.Directory, nil
}

// RefreshPath asks Plex to rescan plexPath inside one library section.
// A path that looks like a file refreshes its directory instead.
func (c *Client) RefreshPath(ctx context.Context, sectionID, plexPath string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	sectionID = strings.TrimSpace(sectionID)
	if sectionID == "" {
		return fmt.Errorf("plex refresh: section id required")
	}
	target, err := RefreshTarget(plexPath)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.PlexRefreshes.WithLabelValues("error").Inc()
		return err
	}
	_, err = c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.refreshOnce(ctx, sectionID, target)
	})
	switch {
	case err == nil:
		metrics.PlexRefreshes.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.PlexRefreshes.WithLabelValues("rejected").Inc()
	default:
		metrics.PlexRefreshes.WithLabelValues("error").Inc()
	}
	return err
}

// RefreshTarget returns the directory Plex should rescan for plexPath.
func RefreshTarget(plexPath string) (string, error) {
	p := strings.TrimSpace(strings.ReplaceAll(plexPath, "\\", "/"))
	if p == "" {
		return "", ErrInvalidPath
	}
	p = path.Clean(p)
	if looksLikeFile(p) {
		p = path.Dir(p)
	}
	if p == "." || p == "/" {
		return "", ErrInvalidPath
	}
	return p, nil
}

// looksLikeFile treats a short alphanumeric extension as a file name, so
// directories such as "Mr. Robot" are left alone.
func looksLikeFile(p string) bool {
	ext := path.Ext(p)
	if len(ext) < 2 || len(ext) > 5 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (c *Client) refreshOnce(ctx context.Context, sectionID, plexPath string) error {
	q := url.Values{}
	q.Set("path", plexPath)
	resp, err := c.do(ctx, "/library/sections/"+url.PathEscape(sectionID)+"/refresh", q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("plex refresh status=%d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, p string, q url.Values, out any) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	resp, err := c.do(ctx, p, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("plex %s status=%d", p, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("plex %s: decode: %w", p, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, p string, q url.Values) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL + p)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("X-Plex-Token", c.Token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.HTTP.Do(req)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
