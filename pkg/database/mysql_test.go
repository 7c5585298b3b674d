package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/config"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) (*mysqlConn, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	c, err := newConn(context.Background(), log, db)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return c, mock
}

func TestBuildDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:           "localhost",
		Port:           3366,
		User:           "testuser",
		Password:       "testpass",
		Schema:         "explain_test",
		Charset:        "utf8mb4",
		ConnectTimeout: 5 * time.Second,
		Params:         map[string]string{"sql_mode": "'ANSI'"},
	}

	parsed, err := mysql.ParseDSN(BuildDSN(cfg))
	require.NoError(t, err)

	assert.Equal(t, "testuser", parsed.User)
	assert.Equal(t, "testpass", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "localhost:3366", parsed.Addr)
	assert.Equal(t, "explain_test", parsed.DBName)
	assert.Equal(t, 5*time.Second, parsed.Timeout)
	assert.Equal(t, "utf8mb4", parsed.Params["charset"])
	assert.Equal(t, "'ANSI'", parsed.Params["sql_mode"])
}

func TestQuery_CountsAllResultSets(t *testing.T) {
	c, mock := newTestConn(t)

	first := sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2)
	second := sqlmock.NewRows([]string{"total"}).AddRow(10)

	mock.ExpectQuery("SELECT id FROM orders").WillReturnRows(first, second)

	count, err := c.Query(context.Background(), "SELECT id FROM orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Empty(t, c.pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_Errors(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
	}{
		{
			name: "statement rejected",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT").WillReturnError(errors.New("syntax error"))
			},
		},
		{
			name: "row error mid stream",
			expect: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id"}).
					AddRow(1).
					AddRow(2).
					RowError(1, errors.New("lost row"))
				mock.ExpectQuery("SELECT").WillReturnRows(rows)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := newTestConn(t)
			tt.expect(mock)

			_, err := c.Query(context.Background(), "SELECT id FROM orders")
			require.Error(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExplain_JoinsPlanRows(t *testing.T) {
	c, mock := newTestConn(t)

	rows := sqlmock.NewRows([]string{"EXPLAIN"}).
		AddRow("-> Limit: 10 row(s)  (actual time=1.2..9.87 rows=10 loops=1)").
		AddRow("    -> Table scan on orders  (cost=2.1 rows=42)")

	mock.ExpectQuery(regexp.QuoteMeta("EXPLAIN ANALYZE SELECT * FROM orders")).WillReturnRows(rows)

	plan, err := c.Explain(context.Background(), "  SELECT * FROM orders\n")
	require.NoError(t, err)
	assert.Equal(t,
		"-> Limit: 10 row(s)  (actual time=1.2..9.87 rows=10 loops=1)\n"+
			"    -> Table scan on orders  (cost=2.1 rows=42)",
		plan)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExplain_NullPlanRow(t *testing.T) {
	c, mock := newTestConn(t)

	rows := sqlmock.NewRows([]string{"EXPLAIN"}).AddRow(nil)
	mock.ExpectQuery("EXPLAIN ANALYZE").WillReturnRows(rows)

	plan, err := c.Explain(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "", plan)
}

func TestListIndexes(t *testing.T) {
	c, mock := newTestConn(t)

	rows := sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME"}).
		AddRow("customers", "idx_customer_reg").
		AddRow("orders", "idx_optimal_1")

	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("explain_test", "orders", "customers").
		WillReturnRows(rows)

	refs, err := c.ListIndexes(context.Background(), "explain_test", []string{"orders", "customers"})
	require.NoError(t, err)
	assert.Equal(t, []IndexRef{
		{Table: "customers", Name: "idx_customer_reg"},
		{Table: "orders", Name: "idx_optimal_1"},
	}, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListIndexes_NoTables(t *testing.T) {
	c, mock := newTestConn(t)

	refs, err := c.ListIndexes(context.Background(), "explain_test", nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecAndCommit(t *testing.T) {
	c, mock := newTestConn(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX `idx_status` ON `orders` (`status`)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Exec(context.Background(), "CREATE INDEX `idx_status` ON `orders` (`status`)"))
	require.NoError(t, c.Commit(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExec_BadConnectionIsConnectionFault(t *testing.T) {
	c, mock := newTestConn(t)

	mock.ExpectExec("DROP INDEX").WillReturnError(driver.ErrBadConn)

	err := c.Exec(context.Background(), "DROP INDEX `idx_status` ON `orders`")
	require.Error(t, err)
	assert.True(t, IsConnectionFault(err))
}

func TestReconnect_PinsFreshConnection(t *testing.T) {
	c, mock := newTestConn(t)
	old := c.conn

	require.NoError(t, c.Reconnect(context.Background()))
	assert.NotSame(t, old, c.conn)

	mock.ExpectExec(regexp.QuoteMeta("DROP INDEX `idx_status` ON `orders`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Exec(context.Background(), "DROP INDEX `idx_status` ON `orders`"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetach(t *testing.T) {
	t.Run("drops cancellation", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())

		ctx, release := Detach(parent, 0)
		defer release()

		cancel()

		require.NoError(t, ctx.Err(), "statement context must outlive the interrupt")

		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
	})

	t.Run("keeps parent deadline", func(t *testing.T) {
		parent, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		want, _ := parent.Deadline()

		ctx, release := Detach(parent, time.Hour)
		defer release()

		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("timeout tightens deadline", func(t *testing.T) {
		ctx, release := Detach(context.Background(), time.Minute)
		defer release()

		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), got, 5*time.Second)
	})
}

func TestDrain_ClosesPendingRows(t *testing.T) {
	c, mock := newTestConn(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	rows, err := c.conn.QueryContext(context.Background(), "SELECT id FROM orders")
	require.NoError(t, err)

	c.track(rows)
	require.Len(t, c.pending, 1)

	require.NoError(t, c.Drain())
	assert.Empty(t, c.pending)
}

func TestIsConnectionFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("duplicate key name"), want: false},
		{name: "bad conn", err: driver.ErrBadConn, want: true},
		{name: "invalid conn", err: mysql.ErrInvalidConn, want: true},
		{
			name: "connection fault",
			err:  benchmark.NewFault(benchmark.ConnectionFault, "ping", errors.New("refused")),
			want: true,
		},
		{
			name: "index fault",
			err:  benchmark.NewFault(benchmark.IndexOperationFault, "create", errors.New("no such column")),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionFault(tt.err))
		})
	}
}

func TestClassify_UpgradesConnectionErrors(t *testing.T) {
	f := Classify(benchmark.QueryExecutionFault, "query", driver.ErrBadConn)
	assert.Equal(t, benchmark.ConnectionFault, f.Kind)

	f = Classify(benchmark.QueryExecutionFault, "query", errors.New("unknown column"))
	assert.Equal(t, benchmark.QueryExecutionFault, f.Kind)
}
