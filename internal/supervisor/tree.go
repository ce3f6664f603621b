// Package supervisor runs the daemon's long-lived services under a suture tree,
// restarting them with backoff when they fail.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/gaby/plexscanner/internal/logging"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: background work (the scanner) and the HTTP API, so a
// crashing scanner never takes the panel down with it.
type Tree struct {
	root    *suture.Supervisor
	workers *suture.Supervisor
	api     *suture.Supervisor
}

func New(cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logging.Logger())

	t := &Tree{
		root:    suture.New("plexscanner", rootSpec),
		workers: suture.New("workers", spec),
		api:     suture.New("api", spec),
	}
	t.root.Add(t.workers)
	t.root.Add(t.api)
	return t
}

func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken { return t.workers.Add(svc) }

func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx is cancelled and every service has stopped.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// EventHook logs supervisor events through zerolog.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(ev suture.Event) {
		var e *zerolog.Event
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			e = log.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			e = log.Warn()
		default:
			e = log.Info()
		}
		e.Fields(ev.Map()).Msg("supervisor: " + ev.String())
	}
}
