package benchmark

import (
	"fmt"
	"strings"
	"time"
)

// QueryDefinition is a single query of the benchmark battery.
type QueryDefinition struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	SQL   string `yaml:"sql" json:"sql"`
}

// IndexDefinition describes one secondary index to create.
type IndexDefinition struct {
	ID      string   `yaml:"id" json:"id"`
	Table   string   `yaml:"table" json:"table"`
	Columns []string `yaml:"columns" json:"columns"`
	Label   string   `yaml:"label,omitempty" json:"label,omitempty"`
}

// CreateStatement renders the DDL that creates the index.
func (d IndexDefinition) CreateStatement() string {
	cols := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		cols = append(cols, QuoteIdent(c))
	}

	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		QuoteIdent(d.ID), QuoteIdent(d.Table), strings.Join(cols, ", "))
}

// DropStatement renders the DDL that removes index name from table.
func DropStatement(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", QuoteIdent(name), QuoteIdent(table))
}

// QuoteIdent quotes a MySQL identifier with backticks.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// StrategyKind tags what an IndexStrategy is made of.
type StrategyKind string

// Strategy kinds.
const (
	KindBaseline     StrategyKind = "baseline"
	KindSingleColumn StrategyKind = "single_column"
	KindComposite    StrategyKind = "composite"
	KindCovering     StrategyKind = "covering"
)

// Valid reports whether k is a known strategy kind.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindBaseline, KindSingleColumn, KindComposite, KindCovering:
		return true
	default:
		return false
	}
}

// IndexStrategy is a named, ordered set of indexes measured as one
// configuration. The baseline strategy has no indexes.
type IndexStrategy struct {
	ID      string            `yaml:"id" json:"id"`
	Label   string            `yaml:"label" json:"label"`
	Kind    StrategyKind      `yaml:"kind" json:"kind"`
	Indexes []IndexDefinition `yaml:"indexes,omitempty" json:"indexes"`
}

// IsBaseline reports whether s is the no-index reference strategy.
func (s IndexStrategy) IsBaseline() bool {
	return s.Kind == KindBaseline
}

// Tables returns the distinct tables touched by the strategy in first-seen order.
func (s IndexStrategy) Tables() []string {
	seen := make(map[string]struct{}, len(s.Indexes))
	tables := make([]string, 0, len(s.Indexes))

	for _, idx := range s.Indexes {
		if _, ok := seen[idx.Table]; ok {
			continue
		}

		seen[idx.Table] = struct{}{}
		tables = append(tables, idx.Table)
	}

	return tables
}

// PlanMetrics holds the figures extracted from plan-analysis output. Nil
// pointers mean the figure could not be measured; they are never zero-filled.
type PlanMetrics struct {
	ElapsedMS    *float64 `json:"elapsed_ms"`
	RowsExamined *int64   `json:"rows_examined"`
	RawPlan      string   `json:"raw_plan"`
}

// Measured reports whether an elapsed time was extracted.
func (m PlanMetrics) Measured() bool {
	return m.ElapsedMS != nil
}

// RunStatus classifies a RunResult for reporting.
type RunStatus string

// Run statuses.
const (
	StatusMeasured   RunStatus = "measured"
	StatusUnmeasured RunStatus = "unmeasured"
	StatusFailed     RunStatus = "failed"
)

// RunResult is one execution of one query under one strategy.
type RunResult struct {
	SessionID     string        `json:"session_id"`
	StrategyID    string        `json:"strategy_id"`
	StrategyLabel string        `json:"strategy_label"`
	QueryID       string        `json:"query_id"`
	QueryLabel    string        `json:"query_label"`
	WallClock     time.Duration `json:"wall_clock_ns"`
	PlanWallClock time.Duration `json:"plan_wall_clock_ns"`
	RowsReturned  int64         `json:"rows_returned"`
	Plan          PlanMetrics   `json:"plan"`
	Timestamp     time.Time     `json:"timestamp"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	PlanError     string        `json:"plan_error,omitempty"`
	FaultKind     FaultKind     `json:"fault_kind,omitempty"`
}

// Status returns whether the run was measured, ran without a usable plan
// metric, or failed outright.
func (r RunResult) Status() RunStatus {
	switch {
	case !r.Success:
		return StatusFailed
	case r.Plan.Measured():
		return StatusMeasured
	default:
		return StatusUnmeasured
	}
}

// IndexOp is the kind of index maintenance operation.
type IndexOp string

// Index operation kinds.
const (
	OpCreate   IndexOp = "create"
	OpDrop     IndexOp = "drop"
	OpDiscover IndexOp = "discover"
)

// IndexOperation is a diagnostics record of one index create, drop or
// discovery. Failed operations are recorded here instead of being discarded.
type IndexOperation struct {
	StrategyID      string        `json:"strategy_id,omitempty"`
	Op              IndexOp       `json:"op"`
	Table           string        `json:"table,omitempty"`
	IndexID         string        `json:"index_id,omitempty"`
	Success         bool          `json:"success"`
	Error           string        `json:"error,omitempty"`
	ConnectionFault bool          `json:"connection_fault,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	Timestamp       time.Time     `json:"timestamp"`
}
