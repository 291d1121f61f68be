package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"terraguard/internal/alert"
	"terraguard/internal/api"
	"terraguard/internal/config"
	"terraguard/internal/dataset"
	"terraguard/internal/events"
	"terraguard/internal/model"
	"terraguard/internal/monitor"
	"terraguard/internal/simulation"
	"terraguard/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	// Override port from env if set
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			log.Fatal().Str("port", port).Msg("invalid PORT")
		}
		cfg.Server.Port = p
		log.Info().Str("port", port).Msg("using port from environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open store")
	}
	defer store.Close()

	classifier, regressor, err := model.New(ctx, cfg.Models)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up predictors")
	}

	tracer := monitor.NewNoopTracer()
	if cfg.Tracing.Enabled {
		tracer = monitor.NewTracer()
	}

	hub := events.NewHub()
	go hub.Run(ctx)

	sim := simulation.NewController(simulation.Options{
		Dataset:    dataset.NewLoader(),
		Store:      store,
		Alerts:     alert.NewEngine(cfg.Alerts),
		Classifier: classifier,
		Regressor:  regressor,
		Config:     cfg.Simulation,
		Defaults:   cfg.Dataset,
		Metrics:    metrics,
		Tracer:     tracer,
		Events:     hub,
	})

	server := api.NewServer(cfg, api.Deps{
		Simulation: sim,
		Classifier: classifier,
		Regressor:  regressor,
		Store:      store,
		Hub:        hub,
		Metrics:    metrics,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// stop playback first so the last step lands before the store closes
		sim.Stop()

		// live feeds end when the hub stops
		cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("db_driver", cfg.Database.Driver).
		Str("model_backend", cfg.Models.Backend).
		Str("default_mode", cfg.Simulation.DefaultMode).
		Bool("metrics", cfg.Metrics.Enabled).
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
