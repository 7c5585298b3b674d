package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/indexoor/pkg/api"
	"github.com/ethpandaops/indexoor/pkg/store"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the history API server",
	Long:  `Serve stored benchmark sessions from the history database over HTTP.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.History.Enabled {
		return fmt.Errorf("history database is not enabled in config")
	}

	if err := cfg.History.Validate(); err != nil {
		return fmt.Errorf("validating history config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	history := store.NewStore(log, &cfg.History)
	if err := history.Start(ctx); err != nil {
		return fmt.Errorf("starting history store: %w", err)
	}

	defer func() {
		if err := history.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close history store")
		}
	}()

	srv := api.NewServer(log, &cfg.API, history)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
