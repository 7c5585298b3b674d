// Package query executes one catalog query under one index strategy and
// collects its wall-clock timing and plan metrics.
package query

import (
	"context"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/database"
	"github.com/ethpandaops/indexoor/pkg/planparse"
	"github.com/sirupsen/logrus"
)

// Runner produces a RunResult for a (strategy, query) pair. Run never
// returns an error: failures are captured in the result. A cell that has
// started is always finished; callers check for cancellation between cells.
type Runner interface {
	Run(ctx context.Context, strategy benchmark.IndexStrategy, q benchmark.QueryDefinition) benchmark.RunResult
}

// Config configures the runner.
type Config struct {
	// PlainRuns is how many times the plain query is timed. The fastest
	// run is kept.
	PlainRuns int

	// StatementTimeout bounds each plain run and the plan analysis. Zero
	// means no limit.
	StatementTimeout time.Duration
}

type runner struct {
	log       logrus.FieldLogger
	conn      database.Conn
	extractor planparse.Extractor
	cfg       *Config
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

// NewRunner creates a runner on conn using extractor to read plan output.
func NewRunner(
	log logrus.FieldLogger,
	conn database.Conn,
	extractor planparse.Extractor,
	cfg *Config,
) Runner {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.PlainRuns < 1 {
		cfg.PlainRuns = 1
	}

	return &runner{
		log:       log.WithField("component", "query"),
		conn:      conn,
		extractor: extractor,
		cfg:       cfg,
	}
}

// Run implements Runner.
func (r *runner) Run(
	ctx context.Context,
	strategy benchmark.IndexStrategy,
	q benchmark.QueryDefinition,
) benchmark.RunResult {
	log := r.log.WithFields(logrus.Fields{
		"strategy": strategy.ID,
		"query":    q.ID,
	})

	result := benchmark.RunResult{
		StrategyID:    strategy.ID,
		StrategyLabel: strategy.Label,
		QueryID:       q.ID,
		QueryLabel:    q.Label,
		Timestamp:     time.Now().UTC(),
	}

	defer func() {
		if err := r.conn.Drain(); err != nil {
			log.WithError(err).Warn("Failed to drain pending results")
		}
	}()

	wall, rows, err := r.timePlain(ctx, q.SQL)
	if err != nil {
		fault := database.Classify(benchmark.QueryExecutionFault, "query", err)

		result.Success = false
		result.Error = fault.Error()
		result.FaultKind = fault.Kind

		log.WithError(fault).Warn("Query failed")

		return result
	}

	result.Success = true
	result.WallClock = wall
	result.RowsReturned = rows

	planText, planWall, err := r.explain(ctx, q.SQL)
	result.PlanWallClock = planWall

	if err != nil {
		fault := database.Classify(benchmark.PlanAnalysisFault, "explain", err)

		result.PlanError = fault.Error()
		result.FaultKind = fault.Kind

		log.WithError(fault).Warn("Plan analysis failed")

		return result
	}

	result.Plan = r.extractor.Extract(planText)

	fields := logrus.Fields{
		"wall_clock": result.WallClock,
		"rows":       result.RowsReturned,
	}

	if result.Plan.ElapsedMS != nil {
		fields["elapsed_ms"] = *result.Plan.ElapsedMS
	}

	if result.Plan.RowsExamined != nil {
		fields["rows_examined"] = *result.Plan.RowsExamined
	}

	log.WithFields(fields).Info("Query measured")

	return result
}

// timePlain executes stmt PlainRuns times and returns the fastest wall
// clock and the row count of the last run.
func (r *runner) timePlain(ctx context.Context, stmt string) (time.Duration, int64, error) {
	var (
		best time.Duration
		rows int64
	)

	for i := 0; i < r.cfg.PlainRuns; i++ {
		n, elapsed, err := r.query(ctx, stmt)
		if err != nil {
			return 0, 0, err
		}

		if i == 0 || elapsed < best {
			best = elapsed
		}

		rows = n
	}

	return best, rows, nil
}

func (r *runner) query(ctx context.Context, stmt string) (int64, time.Duration, error) {
	ctx, cancel := database.Detach(ctx, r.cfg.StatementTimeout)
	defer cancel()

	start := time.Now()
	n, err := r.conn.Query(ctx, stmt)

	return n, time.Since(start), err
}

func (r *runner) explain(ctx context.Context, stmt string) (string, time.Duration, error) {
	ctx, cancel := database.Detach(ctx, r.cfg.StatementTimeout)
	defer cancel()

	start := time.Now()
	plan, err := r.conn.Explain(ctx, stmt)

	return plan, time.Since(start), err
}
