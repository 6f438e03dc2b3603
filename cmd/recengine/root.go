package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantsignal/recengine/internal/config"
	"github.com/quantsignal/recengine/internal/infrastructure/db"
	"github.com/quantsignal/recengine/internal/lifecycle"
	"github.com/quantsignal/recengine/internal/provider"
)

var configPath string

// Execute runs the recengine CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "recengine",
		Short:         "Recommendation lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")

	root.AddCommand(migrateCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(serveMetricsCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		return err
	}
	return nil
}

// app bundles everything a command needs after wiring.
type app struct {
	cfg     config.Config
	manager *db.Manager
	engine  *lifecycle.Engine
	prices  *provider.HTTPProvider
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)

	manager, err := db.NewManager(cfg.DB)
	if err != nil {
		return nil, err
	}

	prices := provider.NewHTTPProvider(cfg.Provider, log.Logger)
	engine, err := lifecycle.New(manager.DB(), manager.Repository(), prices, cfg.Engine, log.Logger)
	if err != nil {
		manager.Close()
		return nil, err
	}

	return &app{cfg: cfg, manager: manager, engine: engine, prices: prices}, nil
}

func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func parseDay(raw string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", raw, err)
	}
	return d, nil
}
