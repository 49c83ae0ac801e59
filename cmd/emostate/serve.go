package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/emostate/internal/config"
	"github.com/thebtf/emostate/internal/maintenance"
	"github.com/thebtf/emostate/internal/server"
)

// gaugeInterval is how often per-state record gauges are refreshed.
const gaugeInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background schedulers and the ops server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", Version).Msg("Starting emostate")

	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := a.engine.Scheduler(cfg.Decay, log.Logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()
	defer func() {
		sched.Stop()
		wg.Wait()
	}()

	housekeeping := maintenance.NewService(a.store, cfg.Maintenance, log.Logger)
	go housekeeping.Start(ctx)
	defer func() {
		housekeeping.Stop()
		housekeeping.Wait()
	}()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		ec := next.Engine()
		a.engine.UpdateScoring(ec.Scoring)
		a.engine.UpdateState(ec.State)
		setupLogging(next.Log)
	}, log.Logger)
	if err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("Config watcher unavailable; changes need a restart")
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(server.Options{
			Engine:      a.engine,
			Decay:       sched,
			Maintenance: housekeeping,
			Records:     a.store,
			Gatherer:    a.registry,
			Version:     Version,
			Checks:      a.checks,
		}, log.Logger)
		srv.Start(cfg.Server.Addr)
	}

	refreshGauges(ctx, a)
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			refreshGauges(ctx, a)
		}
	}

	log.Info().Msg("Received shutdown signal")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func refreshGauges(ctx context.Context, a *app) {
	if err := a.engine.RefreshGauges(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh record gauges")
	}
}
