// Command racegate wires the detector, clock synchronizer, and session to a
// concrete MQTT transport and a YAML config file. It is illustrative of how
// a host application assembles the core; a real device frontend (mobile app
// or embedded UI) would call internal/app directly instead of this binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/racegate/core/internal/app"
	"github.com/racegate/core/internal/clocksync"
	"github.com/racegate/core/internal/config"
	"github.com/racegate/core/internal/session"
)

const defaultConfigPath = "config/racegate.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting racegate", "config", *configPath, "broker", cfg.MQTT.Broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a := app.New(cfg, session.Callbacks{
		OnSessionState: func(st session.State) {
			slog.Info("session state changed", "state", st.String())
		},
		OnPartnerConnected: func() {
			slog.Info("partner device connected")
		},
		OnSyncStatus: func(status clocksync.Status) {
			slog.Debug("sync status", "ready", status.IsReady, "quality", status.Quality,
				"uncertainty_ms", status.UncertaintyMs)
		},
	})

	server := a.StartHealthServer(cfg.HealthAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			slog.Error("app run failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown failed", "error", err)
	}

	slog.Info("racegate stopped")
}
