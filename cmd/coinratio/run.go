package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/coinratio/internal/display"
	httpiface "github.com/sawpanic/coinratio/internal/interfaces/http"
	"github.com/sawpanic/coinratio/internal/scheduler"
)

func runRefreshLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := httpiface.NewMetricsRegistry()
	provider := newProvider(cfg, metrics)
	engine := newEngine(cfg, provider)

	surfaces := newSurfaces(cfg)
	var hub *display.Hub
	if cfg.Monitor.Enabled {
		hub = display.NewHub(scheduler.LoadingText)
		surfaces = append(surfaces, hub)
	}

	sched := scheduler.New(engine, surfaces, scheduler.Config{
		Interval:       cfg.Interval,
		FetchTimeout:   cfg.FetchTimeout,
		RefreshOnStart: true,
	}, scheduler.WithRecorder(metrics))

	var srv *httpiface.Server
	if cfg.Monitor.Enabled {
		sc := httpiface.DefaultServerConfig()
		sc.Host = cfg.Monitor.Host
		sc.Port = cfg.Monitor.Port
		srv = httpiface.NewServer(sc, sched, provider, metrics, hub)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Monitor server failed")
			}
		}()
	}

	log.Info().
		Str("vs_currency", cfg.VsCurrency).
		Dur("interval", cfg.Interval).
		Float64("min_market_cap", cfg.Ranking.MinMarketCap).
		Int("top_n", cfg.Ranking.TopN).
		Str("display", cfg.Display.Mode).
		Bool("monitor", cfg.Monitor.Enabled).
		Msg("Starting coinratio")

	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	sched.Stop()
	sched.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Monitor shutdown incomplete")
		}
	}
	return nil
}
