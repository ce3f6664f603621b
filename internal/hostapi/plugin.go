package hostapi

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/gaby/plexscanner/internal/domain"
)

// Plugin is a typed view over API for the plexscanner endpoints.
type Plugin struct {
	api API
	sf  singleflight.Group
}

func NewPlugin(api API) *Plugin { return &Plugin{api: api} }

// Servers lists the Plex servers configured in the host. Concurrent callers
// share a single request; it is not bound to any one caller's deadline, so a
// caller giving up early does not fail the others.
func (p *Plugin) Servers(ctx context.Context) ([]domain.ServerRef, error) {
	shared := context.WithoutCancel(ctx)
	ch := p.sf.DoChan(EndpointServers, func() (any, error) {
		var out []domain.ServerRef
		err := p.get(shared, EndpointServers, nil, &out)
		return out, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		servers := res.Val.([]domain.ServerRef)
		return append([]domain.ServerRef(nil), servers...), nil
	}
}

// Server asks the host to check one server. The payload is passed through untouched.
func (p *Plugin) Server(ctx context.Context, serverID string) (json.RawMessage, error) {
	return p.api.Get(ctx, EndpointServer, map[string]string{"server_id": serverID})
}

func (p *Plugin) Sections(ctx context.Context, serverID string) ([]domain.Section, error) {
	var out []domain.Section
	if err := p.get(ctx, EndpointSections, map[string]string{"server_id": serverID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Plugin) Config(ctx context.Context) (domain.Config, error) {
	var cfg domain.Config
	if err := p.get(ctx, EndpointConfig, nil, &cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// SaveConfig replaces the stored configuration.
func (p *Plugin) SaveConfig(ctx context.Context, cfg domain.Config) error {
	_, err := p.api.Post(ctx, EndpointConfig, cfg)
	return err
}

func (p *Plugin) get(ctx context.Context, endpoint string, params map[string]string, dst any) error {
	data, err := p.api.Get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
