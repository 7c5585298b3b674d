package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/sysinfo"
)

// GenerateMarkdown renders a markdown summary of a session and its report.
// The failures section is last and is cut once the output reaches maxChars.
// A maxChars of zero disables the cap.
func GenerateMarkdown(session *benchmark.Session, rep *Report, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	writeTitle(&sb, session.ID)
	writeOverview(&sb, session, rep)
	writeStrategies(&sb, session.Strategies)
	writeRankings(&sb, rep)
	writeIndexOperations(&sb, session.IndexOperations)
	writeSystem(&sb, session.System)
	writeLabels(&sb, session.Labels)
	writeFailures(&sb, rep, maxChars)

	return sb.String()
}

func writeTitle(sb *strings.Builder, sessionID string) {
	fmt.Fprintf(sb, "# Index Benchmark: %s\n\n", sessionID)
}

func writeOverview(sb *strings.Builder, session *benchmark.Session, rep *Report) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Status | %s |\n", session.Status)

	if !session.StartedAt.IsZero() {
		fmt.Fprintf(sb, "| Started | %s |\n", session.StartedAt.Format(time.RFC3339))
	}

	if !session.FinishedAt.IsZero() {
		fmt.Fprintf(sb, "| Finished | %s |\n", session.FinishedAt.Format(time.RFC3339))
		fmt.Fprintf(sb, "| Duration | %s |\n", session.Duration().Round(time.Millisecond))
	}

	if rep.Baseline != "" {
		fmt.Fprintf(sb, "| Baseline | `%s` |\n", rep.Baseline)
	}

	fmt.Fprintf(sb, "| Strategies | %d |\n", len(session.Strategies))
	fmt.Fprintf(sb, "| Queries | %d |\n", len(session.Queries))
	fmt.Fprintf(sb, "| Measured | %d / %d |\n", rep.Totals.Measured, rep.Totals.Cells)

	if rep.Totals.Unmeasured > 0 {
		fmt.Fprintf(sb, "| Unmeasured | %d |\n", rep.Totals.Unmeasured)
	}

	if rep.Totals.Failed > 0 {
		fmt.Fprintf(sb, "| Failed | %d |\n", rep.Totals.Failed)
	}

	if session.Warnings > 0 {
		fmt.Fprintf(sb, "| Warnings | %d |\n", session.Warnings)
	}

	sb.WriteString("\n")
}

func writeStrategies(sb *strings.Builder, strategies []benchmark.IndexStrategy) {
	if len(strategies) == 0 {
		return
	}

	sb.WriteString("## Strategies\n\n")
	sb.WriteString("| Strategy | Kind | Indexes |\n")
	sb.WriteString("|---|---|---|\n")

	for _, s := range strategies {
		defs := make([]string, 0, len(s.Indexes))
		for _, idx := range s.Indexes {
			defs = append(defs, fmt.Sprintf("`%s` on %s(%s)", idx.ID, idx.Table, strings.Join(idx.Columns, ", ")))
		}

		indexes := "-"
		if len(defs) > 0 {
			indexes = strings.Join(defs, "<br>")
		}

		fmt.Fprintf(sb, "| %s | %s | %s |\n", s.ID, s.Kind, indexes)
	}

	sb.WriteString("\n")
}

func writeRankings(sb *strings.Builder, rep *Report) {
	sb.WriteString("## Rankings\n\n")

	for _, q := range rep.Queries {
		fmt.Fprintf(sb, "### %s\n\n", q.QueryID)

		if q.QueryLabel != "" {
			fmt.Fprintf(sb, "%s\n\n", q.QueryLabel)
		}

		if len(q.Ranked) == 0 {
			sb.WriteString("No measured results.\n\n")

			continue
		}

		sb.WriteString("| # | Strategy | Elapsed | Rows Examined | Wall Clock | Speedup |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")

		for i, e := range q.Ranked {
			rows := "n/a"
			if e.RowsExamined != nil {
				rows = HumanCount(*e.RowsExamined)
			}

			fmt.Fprintf(sb, "| %d | %s | %s | %s | %s | %s |\n",
				i+1,
				e.StrategyID,
				HumanMS(e.ElapsedMS),
				rows,
				e.WallClock.Round(time.Microsecond),
				RatioLabel(e),
			)
		}

		sb.WriteString("\n")
	}
}

func writeIndexOperations(sb *strings.Builder, ops []benchmark.IndexOperation) {
	var failed []benchmark.IndexOperation

	created := 0

	for _, op := range ops {
		if !op.Success {
			failed = append(failed, op)

			continue
		}

		if op.Op == benchmark.OpCreate {
			created++
		}
	}

	if len(ops) == 0 {
		return
	}

	sb.WriteString("## Index Operations\n\n")
	fmt.Fprintf(sb, "%d operations, %d indexes created, %d failed.\n\n", len(ops), created, len(failed))

	if len(failed) == 0 {
		return
	}

	sb.WriteString("| Strategy | Op | Index | Error |\n")
	sb.WriteString("|---|---|---|---|\n")

	for _, op := range failed {
		strategy := op.StrategyID
		if strategy == "" {
			strategy = "-"
		}

		fmt.Fprintf(sb, "| %s | %s | %s | %s |\n", strategy, op.Op, indexName(op), escapeCell(op.Error))
	}

	sb.WriteString("\n")
}

func indexName(op benchmark.IndexOperation) string {
	if op.IndexID == "" {
		return "-"
	}

	if op.Table == "" {
		return op.IndexID
	}

	return op.Table + "." + op.IndexID
}

func writeSystem(sb *strings.Builder, sys *sysinfo.Info) {
	if sys == nil {
		return
	}

	sb.WriteString("## System\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Hostname | %s |\n", sys.Hostname)
	fmt.Fprintf(sb, "| OS | %s %s (%s) |\n", sys.Platform, sys.PlatformVersion, sys.OS)
	fmt.Fprintf(sb, "| Kernel | %s |\n", sys.KernelVersion)
	fmt.Fprintf(sb, "| Arch | %s |\n", sys.Arch)
	fmt.Fprintf(sb, "| CPU | %s (%d cores) |\n", sys.CPUModel, sys.CPUCores)
	fmt.Fprintf(sb, "| Memory | %.1f GB |\n", sys.MemoryTotalGB)

	if sys.Virtualization != "" {
		fmt.Fprintf(sb, "| Virtualization | %s (%s) |\n", sys.Virtualization, sys.VirtualizationRole)
	}

	sb.WriteString("\n")
}

func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	sb.WriteString("## Labels\n\n")
	sb.WriteString("| Key | Value |\n")
	sb.WriteString("|---|---|\n")

	for _, k := range keys {
		fmt.Fprintf(sb, "| %s | %s |\n", k, labels[k])
	}

	sb.WriteString("\n")
}

func writeFailures(sb *strings.Builder, rep *Report, maxChars int) {
	type row struct {
		query, strategy, status, msg string
	}

	var rows []row

	for _, q := range rep.Queries {
		for _, i := range q.Failed {
			rows = append(rows, row{q.QueryID, i.StrategyID, string(i.Status), i.Error})
		}

		for _, i := range q.Unmeasured {
			rows = append(rows, row{q.QueryID, i.StrategyID, string(i.Status), i.Error})
		}
	}

	if len(rows) == 0 {
		return
	}

	sb.WriteString("## Failed And Unmeasured\n\n")
	sb.WriteString("| Query | Strategy | Status | Detail |\n")
	sb.WriteString("|---|---|---|---|\n")

	for i, r := range rows {
		line := fmt.Sprintf("| %s | %s | %s | %s |\n", r.query, r.strategy, r.status, escapeCell(r.msg))

		if maxChars > 0 && sb.Len()+len(line) > maxChars {
			fmt.Fprintf(sb, "\n_%d more omitted._\n", len(rows)-i)

			return
		}

		sb.WriteString(line)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")

	return strings.ReplaceAll(s, "\n", " ")
}
