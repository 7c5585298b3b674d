package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/indexoor/pkg/config"
	"github.com/ethpandaops/indexoor/pkg/database"
	"github.com/ethpandaops/indexoor/pkg/indexes"
	"github.com/spf13/cobra"
)

var forceCleanup bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List secondary indexes on the tracked tables",
	Long: `List every index on the tracked tables that is neither the primary key nor
backs a foreign key. These are the indexes a session removes before it starts.`,
	RunE: runDiscover,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop secondary indexes left behind on the tracked tables",
	Long: `Drop every index on the tracked tables that is neither the primary key nor
backs a foreign key. This is useful after a session was killed before it could
tear its indexes down.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false, "Skip confirmation prompt")
}

// openManager connects to the database and returns an index manager over
// the built-in catalog's tables plus the tracked tables.
func openManager(ctx context.Context, cfg *config.Config) (database.Conn, indexes.Manager, error) {
	if err := cfg.Database.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating database config: %w", err)
	}

	cat, err := loadCatalog(&cfg.Benchmark)
	if err != nil {
		return nil, nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	conn, err := database.Open(connectCtx, log, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	mgr := indexes.NewManager(log, conn, &indexes.Config{
		Schema:           cfg.Database.Schema,
		Tables:           cat.Tables(cfg.Database.TrackedTables...),
		StatementTimeout: cfg.Benchmark.StatementTimeout,
	})

	return conn, mgr, nil
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	conn, mgr, err := openManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	refs, err := mgr.Discover(ctx)
	if err != nil {
		return err
	}

	if len(refs) == 0 {
		fmt.Println("No secondary indexes found.")

		return nil
	}

	for _, ref := range refs {
		fmt.Printf("%s.%s\n", ref.Table, ref.Name)
	}

	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	conn, mgr, err := openManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	refs, err := mgr.Discover(ctx)
	if err != nil {
		return err
	}

	if len(refs) == 0 {
		log.Info("No secondary indexes to drop")

		return nil
	}

	fmt.Printf("Indexes to drop in schema %s:\n", cfg.Database.Schema)

	for _, ref := range refs {
		fmt.Printf("  - %s.%s\n", ref.Table, ref.Name)
	}

	if !forceCleanup && !confirm("Drop these indexes?") {
		log.Info("Cleanup cancelled")

		return nil
	}

	var failed int

	for _, op := range mgr.DropAll(ctx) {
		if !op.Success {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d index operation(s) failed", failed)
	}

	log.WithField("dropped", len(refs)).Info("Cleanup completed")

	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes"
}
