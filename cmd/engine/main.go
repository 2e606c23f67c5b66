package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"marketflow-engine/internal/config"
	"marketflow-engine/internal/engine"
	"marketflow-engine/internal/feed"
	"marketflow-engine/internal/metrics"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Strs("exchanges", cfg.Exchanges).
		Strs("symbols", cfg.Symbols).
		Strs("channels", cfg.Channels).
		Str("trading_type", cfg.TradingType).
		Bool("redis", cfg.EnableRedis).
		Str("metrics", cfg.MetricsAddr).
		Msg("Starting market data engine")

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go logStatusEvents(eng)

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// Seed the initial subscriptions; the facade API owns them from here
	if len(cfg.Symbols) > 0 && len(cfg.Channels) > 0 {
		if err := eng.BatchSubscribe(ctx, cfg.Symbols, cfg.Channels); err != nil {
			log.Error().Err(err).Msg("Initial subscriptions failed")
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	eng.Stop()

	if err := metricsServer.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping metrics server")
	}
}

// logStatusEvents mirrors venue connection transitions into the log
func logStatusEvents(eng *engine.Engine) {
	for ev := range eng.Bus().SubscribeStatus() {
		evt := log.Info()
		switch ev.Status {
		case feed.StatusDisconnected:
			evt = log.Warn()
		case feed.StatusReconnectFailed:
			evt = log.Error()
		}
		evt = evt.Str("venue", string(ev.Venue)).Str("status", string(ev.Status))
		if ev.Attempt > 0 {
			evt = evt.Int("attempt", ev.Attempt)
		}
		if ev.Reason != "" {
			evt = evt.Str("reason", ev.Reason)
		}
		evt.Msg("Venue status")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
