package planparse

import (
	"regexp"
	"strconv"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
)

// actualTimePattern matches the per-node timing annotation.
// Example: (actual time=0.015..5.230 rows=42 loops=1)
var actualTimePattern = regexp.MustCompile(`actual time=[\d.]+\.\.(\d+\.?\d*)`)

// rowsPattern matches both estimated and actual row counts.
var rowsPattern = regexp.MustCompile(`rows=(\d+)`)

// mysqlExtractor reads MySQL EXPLAIN ANALYZE tree output. MySQL emits the
// outermost node's timing last, so the last time annotation is used for
// elapsed time, while the first rows= marker belongs to the top node.
type mysqlExtractor struct{}

// NewMySQLExtractor creates a new MySQL plan extractor.
func NewMySQLExtractor() Extractor {
	return &mysqlExtractor{}
}

// Ensure interface compliance.
var _ Extractor = (*mysqlExtractor)(nil)

// Extract parses elapsed time and rows examined out of planText.
func (e *mysqlExtractor) Extract(planText string) benchmark.PlanMetrics {
	return benchmark.PlanMetrics{
		ElapsedMS:    lastElapsed(planText),
		RowsExamined: firstRows(planText),
		RawPlan:      planText,
	}
}

// Engine returns the engine name.
func (e *mysqlExtractor) Engine() string {
	return EngineMySQL
}

func lastElapsed(planText string) *float64 {
	matches := actualTimePattern.FindAllStringSubmatch(planText, -1)
	if len(matches) == 0 {
		return nil
	}

	elapsed, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return nil
	}

	return &elapsed
}

func firstRows(planText string) *int64 {
	m := rowsPattern.FindStringSubmatch(planText)
	if len(m) < 2 {
		return nil
	}

	rows, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}

	return &rows
}
