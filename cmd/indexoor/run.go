package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethpandaops/indexoor/pkg/config"
	"github.com/ethpandaops/indexoor/pkg/database"
	"github.com/ethpandaops/indexoor/pkg/fsutil"
	"github.com/ethpandaops/indexoor/pkg/indexes"
	"github.com/ethpandaops/indexoor/pkg/orchestrator"
	"github.com/ethpandaops/indexoor/pkg/planparse"
	"github.com/ethpandaops/indexoor/pkg/query"
	"github.com/ethpandaops/indexoor/pkg/report"
	"github.com/ethpandaops/indexoor/pkg/store"
	"github.com/ethpandaops/indexoor/pkg/sysinfo"
	"github.com/ethpandaops/indexoor/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	runStrategies []string
	runQueries    []string
	runLabels     []string
	runSessionID  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark session",
	Long: `Reset the tracked tables to their primary keys, then measure every query under
every index strategy and print the ranked report. Results are written to the
results directory and optionally stored in the history database and uploaded.`,
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVar(&runStrategies, "strategy", nil,
		"Limit to strategies with these IDs (comma-separated or repeated flag)")
	runCmd.Flags().StringSliceVar(&runQueries, "query", nil,
		"Limit to queries with these IDs (comma-separated or repeated flag)")
	runCmd.Flags().StringSliceVar(&runLabels, "label", nil,
		"Add session label as key=value (can be repeated)")
	runCmd.Flags().StringVar(&runSessionID, "session-id", "",
		"Session ID (default: random UUID)")
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI selections win over the config file.
	if len(runStrategies) > 0 {
		cfg.Benchmark.Strategies = runStrategies
	}

	if len(runQueries) > 0 {
		cfg.Benchmark.Queries = runQueries
	}

	if err := mergeLabels(&cfg.Benchmark, runLabels); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	cat, err := loadCatalog(&cfg.Benchmark)
	if err != nil {
		return err
	}

	resultsOwner, err := fsutil.ParseOwner(cfg.Benchmark.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	// Setup context with signal handling. Cancelling stops the session after
	// the current query or index build; statements already sent to the server
	// are never cancelled, and indexes are still torn down.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal, finishing current query")
			cancel()
		case <-ctx.Done():
		}
	}()

	var uploader upload.Uploader

	if cfg.Upload.S3.Enabled {
		uploader, err = upload.NewS3Uploader(log, &cfg.Upload.S3)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight check failed: %w", err)
		}
	}

	var history store.Store

	if cfg.History.Enabled {
		history = store.NewStore(log, &cfg.History)
		if err := history.Start(ctx); err != nil {
			return fmt.Errorf("starting history store: %w", err)
		}

		defer func() {
			if err := history.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close history store")
			}
		}()
	}

	sys, err := sysinfo.Collect(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to collect system information")
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	conn, err := database.Open(connectCtx, log, &cfg.Database)

	connectCancel()

	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Warn("Failed to close database connection")
		}
	}()

	mgr := indexes.NewManager(log, conn, &indexes.Config{
		Schema:           cfg.Database.Schema,
		Tables:           cat.Tables(cfg.Database.TrackedTables...),
		StatementTimeout: cfg.Benchmark.StatementTimeout,
	})

	runner := query.NewRunner(log, conn, planparse.NewExtractor(cfg.Database.Engine), &query.Config{
		PlainRuns:        cfg.Benchmark.PlainRuns,
		StatementTimeout: cfg.Benchmark.StatementTimeout,
	})

	orch := orchestrator.NewOrchestrator(log, &orchestrator.Config{
		SessionID:      runSessionID,
		Strategies:     cat.Strategies,
		Queries:        cat.Queries,
		Labels:         cfg.Benchmark.Labels,
		System:         sys,
		CleanupTimeout: cfg.Benchmark.CleanupTimeout,
	}, conn, mgr, runner)

	res, runErr := orch.Run(ctx)
	if res == nil {
		return fmt.Errorf("running session: %w", runErr)
	}

	report.NewConsole(os.Stdout).Render(res.Report)

	// Persisting results must survive an interrupt of the session itself.
	persistCtx := context.Background()

	dir, err := report.WriteSessionDir(cfg.Benchmark.ResultsDir, res.Session, res.Report, resultsOwner)
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("writing session results: %w", err))
	}

	log.WithField("dir", dir).Info("Session results written")

	if history != nil {
		if err := history.SaveSession(persistCtx, res.Session, res.Report); err != nil {
			log.WithError(err).Warn("Failed to save session to history")
		}
	}

	if uploader != nil {
		if err := uploader.Upload(persistCtx, dir); err != nil {
			log.WithError(err).Warn("Failed to upload session results")
		}
	}

	if runErr != nil {
		return fmt.Errorf("session aborted: %w", runErr)
	}

	return nil
}

// mergeLabels adds key=value entries to the session labels. CLI wins on
// conflict.
func mergeLabels(cfg *config.BenchmarkConfig, entries []string) error {
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid label %q: must be key=value", entry)
		}

		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string, len(entries))
		}

		cfg.Labels[k] = v
	}

	return nil
}
