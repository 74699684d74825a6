// Package main implements the docstored CLI for operating the document
// store: knowledge base administration, file storage, maintenance sweeps,
// and task inspection.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docstored/internal/config"
	"github.com/fyrsmithlabs/docstored/internal/logging"
	"github.com/fyrsmithlabs/docstored/internal/services"
	"github.com/fyrsmithlabs/docstored/internal/telemetry"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docstored",
	Short: "Document store with content-addressed storage and similarity search",
	Long: `docstored manages knowledge bases of documents: content-addressed file
storage with deduplication, chunked embeddings, and similarity search.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/docstored/config.yaml)")
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tasksCmd)
}

// app bundles everything a command needs, plus its teardown.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry services.Registry

	telemetry *telemetry.Telemetry
	cleanup   func() error
}

// setup loads config and builds the service graph. Commands call this in
// RunE so --help and flag errors never touch the database.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	registry, cleanup, err := services.Build(cfg, nil, logger.Underlying())
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		telemetry: tel,
		cleanup:   cleanup,
	}, nil
}

// close tears the app down in reverse construction order.
func (a *app) close(ctx context.Context) {
	if a.cleanup != nil {
		if err := a.cleanup(); err != nil {
			a.logger.Warn(ctx, "cleanup failed")
		}
	}
	_ = a.logger.Sync()
	_ = a.telemetry.Shutdown(ctx)
}
