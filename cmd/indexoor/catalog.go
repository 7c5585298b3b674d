package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/indexoor/pkg/catalog"
	"github.com/ethpandaops/indexoor/pkg/config"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the strategies and queries a session would run",
	Long: `Print the selected catalog as YAML. The output can be edited and passed back
with benchmark.catalog_file.`,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringSliceVar(&runStrategies, "strategy", nil,
		"Limit to strategies with these IDs")
	catalogCmd.Flags().StringSliceVar(&runQueries, "query", nil,
		"Limit to queries with these IDs")
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if len(runStrategies) > 0 {
		cfg.Benchmark.Strategies = runStrategies
	}

	if len(runQueries) > 0 {
		cfg.Benchmark.Queries = runQueries
	}

	cat, err := loadCatalog(&cfg.Benchmark)
	if err != nil {
		return err
	}

	data, err := cat.Marshal()
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)

	return err
}

// loadCatalog returns the built-in catalog, or the configured catalog file,
// narrowed to the configured strategy and query ids.
func loadCatalog(cfg *config.BenchmarkConfig) (*catalog.Catalog, error) {
	cat := catalog.Default()

	if cfg.CatalogFile != "" {
		loaded, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}

		cat = loaded

		log.WithField("file", cfg.CatalogFile).Info("Loaded catalog file")
	}

	selected, err := cat.Select(cfg.Strategies, cfg.Queries)
	if err != nil {
		return nil, fmt.Errorf("selecting catalog entries: %w", err)
	}

	return selected, nil
}
