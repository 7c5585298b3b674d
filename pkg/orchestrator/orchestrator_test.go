package orchestrator

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/database/dbtest"
	"github.com/ethpandaops/indexoor/pkg/indexes"
	"github.com/ethpandaops/indexoor/pkg/planparse"
	"github.com/ethpandaops/indexoor/pkg/query"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sqlQ1 = "SELECT status, COUNT(*) FROM orders GROUP BY status"
	sqlQ2 = "SELECT country, COUNT(*) FROM customers GROUP BY country"
)

var (
	baseline = benchmark.IndexStrategy{ID: "no_index", Label: "No indexes", Kind: benchmark.KindBaseline}
	single   = benchmark.IndexStrategy{
		ID:   "single",
		Kind: benchmark.KindSingleColumn,
		Indexes: []benchmark.IndexDefinition{
			{ID: "idx_status", Table: "orders", Columns: []string{"status"}},
			{ID: "idx_country", Table: "customers", Columns: []string{"country"}},
		},
	}
	composite = benchmark.IndexStrategy{
		ID:   "composite",
		Kind: benchmark.KindComposite,
		Indexes: []benchmark.IndexDefinition{
			{ID: "idx_status_date", Table: "orders", Columns: []string{"status", "order_date"}},
		},
	}

	q1 = benchmark.QueryDefinition{ID: "q1", SQL: sqlQ1}
	q2 = benchmark.QueryDefinition{ID: "q2", SQL: sqlQ2}
)

type harness struct {
	conn *dbtest.Conn
	orch Orchestrator
}

func newHarness(t *testing.T, strategies []benchmark.IndexStrategy) *harness {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	conn := dbtest.New(map[string][]string{
		"orders":    {"order_id", "customer_id", "status", "order_date"},
		"customers": {"customer_id", "country"},
	})

	conn.Plans[sqlQ1] = "-> Group aggregate  (actual time=0.5..12.5 rows=4 loops=1)"
	conn.Plans[sqlQ2] = "-> Group aggregate  (actual time=0.5..3.25 rows=20 loops=1)"
	conn.RowCounts[sqlQ1] = 4
	conn.RowCounts[sqlQ2] = 20

	mgr := indexes.NewManager(log, conn, &indexes.Config{
		Schema: "explain_test",
		Tables: []string{"orders", "customers"},
	})
	runner := query.NewRunner(log, conn, planparse.NewExtractor(planparse.EngineMySQL), &query.Config{PlainRuns: 1})

	orch := NewOrchestrator(log, &Config{
		Strategies:     strategies,
		Queries:        []benchmark.QueryDefinition{q1, q2},
		CleanupTimeout: time.Second,
	}, conn, mgr, runner)

	return &harness{conn: conn, orch: orch}
}

func pairs(s *benchmark.Session) []string {
	out := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, r.StrategyID+"/"+r.QueryID)
	}

	return out
}

func TestRun_CoversCrossProductInOrder(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	s := res.Session
	assert.Equal(t, benchmark.SessionCompleted, s.Status)
	assert.Equal(t, []string{
		"no_index/q1", "no_index/q2",
		"single/q1", "single/q2",
		"composite/q1", "composite/q2",
	}, pairs(s))

	for _, r := range s.Results {
		assert.Equal(t, benchmark.StatusMeasured, r.Status(), r.StrategyID+"/"+r.QueryID)
		assert.Equal(t, s.ID, r.SessionID)
	}

	assert.Zero(t, s.Warnings)
	assert.Zero(t, h.conn.IndexCount())
	assert.Equal(t, StateDone, h.orch.State())
	assert.Equal(t, 6, res.Report.Totals.Measured)
	assert.False(t, s.FinishedAt.IsZero())
}

func TestRun_NoResidualIndexesBetweenStrategies(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	// Stale index from an earlier crashed run must be gone before baseline.
	h.conn.Indexes["orders"] = []string{"idx_stale"}

	var observed [][]string

	h.conn.OnQuery = func(string) {
		observed = append(observed, h.conn.IndexNames())
	}

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	expected := func(s benchmark.IndexStrategy) []string {
		var names []string
		for _, idx := range s.Indexes {
			names = append(names, idx.Table+"."+idx.ID)
		}

		sort.Strings(names)

		return names
	}

	require.Len(t, observed, 6)
	assert.Empty(t, observed[0])
	assert.Empty(t, observed[1])
	assert.Equal(t, expected(single), observed[2])
	assert.Equal(t, expected(single), observed[3])
	assert.Equal(t, expected(composite), observed[4])
	assert.Equal(t, expected(composite), observed[5])
	assert.Zero(t, h.conn.IndexCount())
}

func TestRun_QueryFailureContinues(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single})
	h.conn.QueryErrors[sqlQ1] = errors.New("Unknown column 'status' in 'field list'")

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	s := res.Session
	require.Len(t, s.Results, 4)
	assert.Equal(t, benchmark.SessionCompleted, s.Status)

	assert.Equal(t, benchmark.StatusFailed, s.Results[0].Status())
	assert.Nil(t, s.Results[0].Plan.ElapsedMS)
	assert.Equal(t, benchmark.StatusMeasured, s.Results[1].Status())
	assert.Equal(t, benchmark.StatusFailed, s.Results[2].Status())
	assert.Equal(t, benchmark.StatusMeasured, s.Results[3].Status())

	q1Report := res.Report.Queries[0]
	assert.Empty(t, q1Report.Ranked)
	assert.Len(t, q1Report.Failed, 2)
}

func TestRun_IndexFailureIsContained(t *testing.T) {
	broken := benchmark.IndexStrategy{
		ID:   "broken",
		Kind: benchmark.KindComposite,
		Indexes: []benchmark.IndexDefinition{
			{ID: "idx_bad", Table: "orders", Columns: []string{"nonexistent"}},
			{ID: "idx_status", Table: "orders", Columns: []string{"status"}},
		},
	}

	h := newHarness(t, []benchmark.IndexStrategy{baseline, broken})

	var during []string

	h.conn.OnQuery = func(stmt string) {
		if stmt == sqlQ1 {
			during = h.conn.IndexNames()
		}
	}

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"orders.idx_status"}, during)
	assert.Equal(t, 1, res.Session.Warnings)
	assert.Len(t, res.Session.Results, 4)

	var failed []benchmark.IndexOperation

	for _, op := range res.Session.IndexOperations {
		if !op.Success {
			failed = append(failed, op)
		}
	}

	require.Len(t, failed, 1)
	assert.Equal(t, "idx_bad", failed[0].IndexID)
	assert.Equal(t, "broken", failed[0].StrategyID)
}

func TestRun_DropFailureCountsAsWarning(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single})
	h.conn.DropErrors["idx_country"] = errors.New("lock wait timeout exceeded")

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, benchmark.SessionCompleted, res.Session.Status)
	assert.Positive(t, res.Session.Warnings)
	assert.Equal(t, res.Session.Warnings, res.Report.Warnings)
}

// assertInterrupted checks an interrupted session kept its first measured
// cells, marked the rest and left no index behind on a live connection.
func assertInterrupted(t *testing.T, h *harness, res *Result, measured int) {
	t.Helper()

	s := res.Session
	assert.Equal(t, benchmark.SessionInterrupted, s.Status)
	assert.Zero(t, h.conn.IndexCount(), "interrupted session must not leave indexes behind")
	assert.False(t, h.conn.Broken(), "interrupt must not reach a running statement")

	require.Len(t, s.Results, 6)

	for _, r := range s.Results[:measured] {
		assert.Equal(t, benchmark.StatusMeasured, r.Status(), r.StrategyID+"/"+r.QueryID)
	}

	for _, r := range s.Results[measured:] {
		assert.Equal(t, benchmark.StatusFailed, r.Status(), r.StrategyID+"/"+r.QueryID)
		assert.Equal(t, ReasonInterrupted, r.Error)
	}

	for _, op := range s.IndexOperations {
		assert.False(t, op.ConnectionFault, "%s %s", op.Op, op.IndexID)
	}

	assert.Equal(t, StateDone, h.orch.State())
}

func TestRun_InterruptStillCleansUp(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0

	h.conn.OnQuery = func(string) {
		calls++
		if calls == 3 {
			// First query under "single", with its indexes in place.
			cancel()
		}
	}

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)

	// The running cell finishes; nothing after it starts.
	assertInterrupted(t, h, res, 3)
	assert.Equal(t, 3, calls)
}

func TestRun_InterruptDuringApply(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.conn.OnExec = func(stmt string) {
		if strings.HasPrefix(stmt, "CREATE INDEX `idx_status`") {
			cancel()
		}
	}

	queries := 0
	h.conn.OnQuery = func(string) { queries++ }

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assertInterrupted(t, h, res, 2)
	assert.Equal(t, 2, queries, "no query may run under a half-applied strategy")

	var created []string

	for _, op := range res.Session.IndexOperations {
		if op.Op == benchmark.OpCreate {
			assert.True(t, op.Success, op.Error)
			created = append(created, op.IndexID)
		}
	}

	assert.Equal(t, []string{"idx_status"}, created)
}

func TestRun_InterruptDuringExplain(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.conn.OnExplain = func(string) {
		if h.conn.HasIndex("orders", "idx_status") {
			cancel()
		}
	}

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assertInterrupted(t, h, res, 3)

	cell := res.Session.Results[2]
	assert.Equal(t, "single/q1", cell.StrategyID+"/"+cell.QueryID)
	assert.Empty(t, cell.PlanError)
	require.NotNil(t, cell.Plan.ElapsedMS)
	assert.InDelta(t, 12.5, *cell.Plan.ElapsedMS, 1e-9)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assertInterrupted(t, h, res, 0)
	assert.Contains(t, h.conn.Calls, "LIST INDEXES", "reset still runs")
}

func TestRun_ConnectionLostAborts(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	calls := 0

	h.conn.OnQuery = func(string) {
		calls++
		if calls == 4 {
			h.conn.Break()
		}
	}

	res, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, benchmark.ErrConnection))

	s := res.Session
	assert.Equal(t, benchmark.SessionConnectionFailed, s.Status)
	require.Len(t, s.Results, 6)

	assert.Equal(t, benchmark.StatusMeasured, s.Results[2].Status())
	assert.Equal(t, benchmark.ConnectionFault, s.Results[3].FaultKind)

	for _, r := range s.Results[4:] {
		assert.Equal(t, ReasonConnectionLost, r.Error)
	}

	assert.Equal(t, 4, calls, "no query may run after the connection is lost")

	// Teardown pins a fresh connection and removes the "single" indexes.
	assert.Equal(t, 1, h.conn.Reconnects)
	assert.Zero(t, h.conn.IndexCount())
	assert.Positive(t, s.Warnings)
}

func TestRun_ConnectionLostDuringApplyStillCleansUp(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})

	h.conn.OnExec = func(stmt string) {
		if strings.HasPrefix(stmt, "CREATE INDEX `idx_country`") {
			h.conn.Break()
		}
	}

	res, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, benchmark.ErrConnection))

	assert.Equal(t, benchmark.SessionConnectionFailed, res.Session.Status)
	assert.Zero(t, h.conn.IndexCount(), "idx_status must be dropped on the fresh connection")
	assert.Equal(t, 1, h.conn.Reconnects)
}

func TestRun_CleanupWithoutConnection(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single, composite})
	h.conn.ReconnectErr = errors.New("dial tcp 127.0.0.1:3366: connect: connection refused")

	calls := 0

	h.conn.OnQuery = func(string) {
		calls++
		if calls == 4 {
			h.conn.Break()
		}
	}

	res, err := h.orch.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, benchmark.SessionConnectionFailed, res.Session.Status)
	assert.Equal(t, 1, h.conn.Reconnects)
	assert.Equal(t, []string{"customers.idx_country", "orders.idx_status"}, h.conn.IndexNames())
}

func TestRun_PingFailure(t *testing.T) {
	h := newHarness(t, []benchmark.IndexStrategy{baseline, single})
	h.conn.PingErr = errors.New("dial tcp 127.0.0.1:3366: connect: connection refused")

	res, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, benchmark.ErrConnection))

	assert.Equal(t, benchmark.SessionConnectionFailed, res.Session.Status)
	assert.Len(t, res.Session.Results, 4)
	assert.Equal(t, 4, res.Report.Totals.Failed)
	assert.NotContains(t, h.conn.Calls, "LIST INDEXES")
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	cfg := &Config{}
	orch := NewOrchestrator(logrus.New(), cfg, dbtest.New(nil), nil, nil)

	assert.Equal(t, StateIdle, orch.State())
	assert.NotEmpty(t, cfg.SessionID)
	assert.Equal(t, DefaultCleanupTimeout, cfg.CleanupTimeout)
}
