package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gaby/plexscanner/internal/config"
	"github.com/gaby/plexscanner/internal/db"
	"github.com/gaby/plexscanner/internal/history"
	"github.com/gaby/plexscanner/internal/hostapi"
	"github.com/gaby/plexscanner/internal/logging"
	"github.com/gaby/plexscanner/internal/panel"
	"github.com/gaby/plexscanner/internal/scanner"
	"github.com/gaby/plexscanner/internal/supervisor"
	"github.com/gaby/plexscanner/internal/version"
	"github.com/gaby/plexscanner/internal/web"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "/config/config.yaml", "path to config file (yaml)")
	flag.Parse()

	created, err := config.EnsureConfigFile(cfgPath)
	if err != nil {
		logging.Error().Err(err).Str("path", cfgPath).Msg("config bootstrap failed")
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Error().Err(err).Msg("config load failed")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logging.Error().Err(err).Msg("config validate failed")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if created {
		logging.Info().Str("path", cfgPath).Msg("wrote default config")
	}

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := db.Open(cfg.Paths.DB)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	hist := history.NewStore(d)

	plugin := hostapi.NewPlugin(hostapi.NewClient(cfg.Host.BaseURL, cfg.Host.Plugin, cfg.Host.Token, cfg.Host.Timeout))

	toasts := panel.NewToasts()
	ctrl := panel.New(plugin, toasts)
	go func() {
		initCtx, cancel := context.WithTimeout(ctx, cfg.Host.Timeout*2)
		defer cancel()
		if err := ctrl.Init(initCtx); err != nil {
			logging.Warn().Err(err).Msg("panel init incomplete")
		}
	}()

	tree := supervisor.New(supervisor.DefaultTreeConfig())

	webOpts := web.Options{Panel: ctrl, Toasts: toasts, History: hist, ActionTimeout: cfg.Host.Timeout * 2}
	if cfg.Scanner.Enabled {
		sc := scanner.New(plugin, scanner.NewSweeper(d), hist, scanner.Options{
			RefreshPerSecond: cfg.Scanner.RefreshPerSecond,
			Debounce:         cfg.Scanner.Debounce,
			Retention:        cfg.Scanner.HistoryRetention,
		})
		tree.AddWorker(sc)
		webOpts.Scanner = sc
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.New(webOpts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPI(supervisor.NewHTTPService(srv, 10*time.Second))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("host", cfg.Host.BaseURL).
		Bool("scanner", cfg.Scanner.Enabled).
		Str("version", version.Version).
		Msg("plexscanner starting")
	return tree.Serve(ctx)
}
