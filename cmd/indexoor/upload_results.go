package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/indexoor/pkg/report"
	"github.com/ethpandaops/indexoor/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	uploadMethod     string
	uploadResultDir  string
	uploadResultsAll bool
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload session results to remote storage",
	Long: `Upload a local session directory to S3-compatible storage using the config file
settings. With --all, every session under the results directory that is not
uploaded yet is uploaded.`,
	RunE: runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Path to the session directory to upload")
	uploadResultsCmd.Flags().BoolVar(&uploadResultsAll, "all", false,
		"Upload every session under benchmark.results_dir that is missing remotely")
	uploadResultsCmd.MarkFlagsOneRequired("result-dir", "all")
	uploadResultsCmd.MarkFlagsMutuallyExclusive("result-dir", "all")
}

func runUploadResults(cmd *cobra.Command, _ []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	dirs := []string{uploadResultDir}

	if uploadResultsAll {
		dirs, err = sessionDirs(cfg.Benchmark.ResultsDir)
		if err != nil {
			return err
		}
	}

	var uploaded int

	for _, dir := range dirs {
		if uploadResultsAll {
			done, err := uploader.Uploaded(ctx, dir)
			if err != nil {
				return err
			}

			if done {
				log.WithField("dir", dir).Debug("Already uploaded, skipping")

				continue
			}
		}

		log.WithField("dir", dir).Info("Uploading results")

		if err := uploader.Upload(ctx, dir); err != nil {
			return fmt.Errorf("uploading %s: %w", dir, err)
		}

		uploaded++
	}

	log.WithField("sessions", uploaded).Info("Upload completed successfully")

	return nil
}

// sessionDirs lists the directories under resultsDir holding a session file.
func sessionDirs(resultsDir string) ([]string, error) {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("reading results directory: %w", err)
	}

	dirs := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		dir := filepath.Join(resultsDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, report.SessionFile)); err == nil {
			dirs = append(dirs, dir)
		}
	}

	return dirs, nil
}
