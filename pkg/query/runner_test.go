package query

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/database/dbtest"
	"github.com/ethpandaops/indexoor/pkg/planparse"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSQL = "SELECT country, COUNT(*) FROM orders GROUP BY country"

const testPlan = `-> Sort: total_revenue DESC  (actual time=1.2..3.4 rows=10 loops=1)
    -> Table scan on orders  (cost=2.1 rows=42) (actual time=0.1..9.87 rows=100 loops=1)`

func newTestRunner(t *testing.T, plainRuns int) (Runner, *dbtest.Conn) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	conn := dbtest.New(map[string][]string{"orders": {"country"}})

	return NewRunner(log, conn, planparse.NewExtractor(planparse.EngineMySQL), &Config{
		PlainRuns: plainRuns,
	}), conn
}

var (
	testStrategy = benchmark.IndexStrategy{ID: "no_index", Label: "No indexes", Kind: benchmark.KindBaseline}
	testQuery    = benchmark.QueryDefinition{ID: "by_country", Label: "Orders by country", SQL: testSQL}
)

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(conn *dbtest.Conn)
		validate func(t *testing.T, r benchmark.RunResult)
	}{
		{
			name: "measured",
			setup: func(conn *dbtest.Conn) {
				conn.RowCounts[testSQL] = 7
				conn.Plans[testSQL] = testPlan
			},
			validate: func(t *testing.T, r benchmark.RunResult) {
				assert.True(t, r.Success)
				assert.Equal(t, benchmark.StatusMeasured, r.Status())
				assert.Equal(t, int64(7), r.RowsReturned)
				require.NotNil(t, r.Plan.ElapsedMS)
				assert.InDelta(t, 9.87, *r.Plan.ElapsedMS, 1e-9)
				require.NotNil(t, r.Plan.RowsExamined)
				assert.Equal(t, int64(10), *r.Plan.RowsExamined)
				assert.Equal(t, testPlan, r.Plan.RawPlan)
				assert.Empty(t, r.Error)
				assert.Empty(t, r.PlanError)
			},
		},
		{
			name: "plan without timings is unmeasured",
			setup: func(conn *dbtest.Conn) {
				conn.Plans[testSQL] = "-> Rows fetched before execution"
			},
			validate: func(t *testing.T, r benchmark.RunResult) {
				assert.True(t, r.Success)
				assert.Equal(t, benchmark.StatusUnmeasured, r.Status())
				assert.Nil(t, r.Plan.ElapsedMS)
				assert.Nil(t, r.Plan.RowsExamined)
				assert.Equal(t, "-> Rows fetched before execution", r.Plan.RawPlan)
			},
		},
		{
			name: "plain query failure",
			setup: func(conn *dbtest.Conn) {
				conn.QueryErrors[testSQL] = errors.New("Unknown column 'country'")
				conn.Plans[testSQL] = testPlan
			},
			validate: func(t *testing.T, r benchmark.RunResult) {
				assert.False(t, r.Success)
				assert.Equal(t, benchmark.StatusFailed, r.Status())
				assert.Contains(t, r.Error, "Unknown column")
				assert.Equal(t, benchmark.QueryExecutionFault, r.FaultKind)
				assert.Nil(t, r.Plan.ElapsedMS)
				assert.Nil(t, r.Plan.RowsExamined)
				assert.Empty(t, r.Plan.RawPlan)
			},
		},
		{
			name: "explain failure keeps success",
			setup: func(conn *dbtest.Conn) {
				conn.RowCounts[testSQL] = 3
				conn.ExplainErrors[testSQL] = errors.New("EXPLAIN ANALYZE not supported")
			},
			validate: func(t *testing.T, r benchmark.RunResult) {
				assert.True(t, r.Success)
				assert.Equal(t, benchmark.StatusUnmeasured, r.Status())
				assert.Equal(t, int64(3), r.RowsReturned)
				assert.Contains(t, r.PlanError, "not supported")
				assert.Equal(t, benchmark.PlanAnalysisFault, r.FaultKind)
				assert.Nil(t, r.Plan.ElapsedMS)
			},
		},
		{
			name: "lost connection is a connection fault",
			setup: func(conn *dbtest.Conn) {
				conn.Break()
			},
			validate: func(t *testing.T, r benchmark.RunResult) {
				assert.False(t, r.Success)
				assert.Equal(t, benchmark.ConnectionFault, r.FaultKind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, conn := newTestRunner(t, 1)
			tt.setup(conn)

			r := runner.Run(context.Background(), testStrategy, testQuery)

			assert.Equal(t, "no_index", r.StrategyID)
			assert.Equal(t, "by_country", r.QueryID)
			assert.Equal(t, "Orders by country", r.QueryLabel)
			assert.False(t, r.Timestamp.IsZero())
			assert.Equal(t, 1, conn.Drains, "pending results must be drained on every path")

			tt.validate(t, r)
		})
	}
}

func TestRun_RepeatsPlainQuery(t *testing.T) {
	runner, conn := newTestRunner(t, 3)
	conn.Plans[testSQL] = testPlan

	r := runner.Run(context.Background(), testStrategy, testQuery)
	require.True(t, r.Success)

	plain := 0

	for _, call := range conn.Calls {
		if call == testSQL {
			plain++
		}
	}

	assert.Equal(t, 3, plain)
}

func TestRun_CellSurvivesCancellation(t *testing.T) {
	runner, conn := newTestRunner(t, 2)
	conn.Plans[testSQL] = testPlan

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interrupt arrives while the first plain run is on the wire.
	conn.OnQuery = func(string) { cancel() }

	r := runner.Run(ctx, testStrategy, testQuery)
	assert.True(t, r.Success, r.Error)
	assert.Empty(t, r.PlanError)
	assert.Equal(t, benchmark.StatusMeasured, r.Status())
	assert.False(t, conn.Broken(), "statements must not carry the cancellation to the driver")
	assert.Equal(t, 1, conn.Drains)
}
