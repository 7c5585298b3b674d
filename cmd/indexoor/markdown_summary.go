package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/indexoor/pkg/report"
	"github.com/spf13/cobra"
)

var generateMarkdownSummaryCmd = &cobra.Command{
	Use:   "generate-markdown-summary",
	Short: "Generate a markdown summary from a session directory",
	Long:  `Reads session.json from a session directory, rebuilds the ranked report and writes a markdown summary.`,
	RunE:  runGenerateMarkdownSummary,
}

var (
	mdRunDir   string
	mdOutput   string
	mdMaxChars int
)

func init() {
	rootCmd.AddCommand(generateMarkdownSummaryCmd)
	generateMarkdownSummaryCmd.Flags().StringVar(&mdRunDir, "run-dir", "",
		"Path to the session directory")
	generateMarkdownSummaryCmd.Flags().StringVar(&mdOutput, "output", "",
		"Output file path (default: <run-dir>/summary.md)")
	generateMarkdownSummaryCmd.Flags().IntVar(&mdMaxChars, "max-chars", report.DefaultMarkdownMaxChars,
		"Maximum summary length; failure details are trimmed to fit")

	if err := generateMarkdownSummaryCmd.MarkFlagRequired("run-dir"); err != nil {
		panic(err)
	}
}

func runGenerateMarkdownSummary(_ *cobra.Command, _ []string) error {
	log.WithField("run_dir", mdRunDir).
		Info("Generating markdown summary")

	session, err := report.LoadSession(mdRunDir)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	md := report.GenerateMarkdown(session, report.Build(session), mdMaxChars)

	output := mdOutput
	if output == "" {
		output = filepath.Join(mdRunDir, report.SummaryFile)
	}

	if err := os.WriteFile(output, []byte(md), 0644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", output).
		Info("Markdown summary generated successfully")

	return nil
}
