package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/config"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// explainPrefix turns a query into its plan-analysis form.
const explainPrefix = "EXPLAIN ANALYZE "

// listIndexesQuery selects secondary indexes, skipping the primary key and
// any index backing a foreign key constraint. The IN list is appended.
const listIndexesQuery = `SELECT DISTINCT s.TABLE_NAME, s.INDEX_NAME
FROM information_schema.STATISTICS s
WHERE s.TABLE_SCHEMA = ?
  AND s.INDEX_NAME <> 'PRIMARY'
  AND s.INDEX_NAME NOT IN (
    SELECT k.CONSTRAINT_NAME FROM information_schema.KEY_COLUMN_USAGE k
    WHERE k.TABLE_SCHEMA = s.TABLE_SCHEMA
      AND k.TABLE_NAME = s.TABLE_NAME
      AND k.REFERENCED_TABLE_NAME IS NOT NULL
  )
  AND s.TABLE_NAME IN (%s)
ORDER BY s.TABLE_NAME, s.INDEX_NAME`

type mysqlConn struct {
	log     logrus.FieldLogger
	db      *sql.DB
	conn    *sql.Conn
	pending map[*sql.Rows]struct{}
}

// Ensure interface compliance.
var _ Conn = (*mysqlConn)(nil)

// Open connects to the configured MySQL server and pins a single
// connection for the session. Any failure is a ConnectionFault.
func Open(ctx context.Context, log logrus.FieldLogger, cfg *config.DatabaseConfig) (Conn, error) {
	db, err := sql.Open("mysql", BuildDSN(cfg))
	if err != nil {
		return nil, benchmark.NewFault(benchmark.ConnectionFault, "open", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c, err := newConn(ctx, log, db)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"port":   cfg.Port,
		"schema": cfg.Schema,
	}).Info("Database connected")

	return c, nil
}

func newConn(ctx context.Context, log logrus.FieldLogger, db *sql.DB) (*mysqlConn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()

		return nil, benchmark.NewFault(benchmark.ConnectionFault, "connect", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()

		return nil, benchmark.NewFault(benchmark.ConnectionFault, "ping", err)
	}

	return &mysqlConn{
		log:     log.WithField("component", "database"),
		db:      db,
		conn:    conn,
		pending: make(map[*sql.Rows]struct{}, 1),
	}, nil
}

// BuildDSN renders the go-sql-driver DSN for cfg.
func BuildDSN(cfg *config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Schema
	mc.Timeout = cfg.ConnectTimeout

	params := make(map[string]string, len(cfg.Params)+1)
	if cfg.Charset != "" {
		params["charset"] = cfg.Charset
	}

	for k, v := range cfg.Params {
		params[k] = v
	}

	if len(params) > 0 {
		mc.Params = params
	}

	return mc.FormatDSN()
}

// Ping verifies the pinned connection is alive.
func (c *mysqlConn) Ping(ctx context.Context) error {
	if err := c.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	return nil
}

// Exec runs a statement that returns no rows.
func (c *mysqlConn) Exec(ctx context.Context, stmt string) error {
	if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	return nil
}

// Query runs stmt and counts the rows of every result set.
func (c *mysqlConn) Query(ctx context.Context, stmt string) (int64, error) {
	rows, err := c.conn.QueryContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	c.track(rows)
	defer c.release(rows)

	var count int64

	for {
		for rows.Next() {
			count++
		}

		if err := rows.Err(); err != nil {
			return count, fmt.Errorf("reading rows: %w", err)
		}

		if !rows.NextResultSet() {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("advancing result set: %w", err)
	}

	return count, nil
}

// Explain runs stmt under EXPLAIN ANALYZE and joins the first column of
// every returned row.
func (c *mysqlConn) Explain(ctx context.Context, stmt string) (string, error) {
	rows, err := c.conn.QueryContext(ctx, explainPrefix+strings.TrimSpace(stmt))
	if err != nil {
		return "", fmt.Errorf("running explain: %w", err)
	}

	c.track(rows)
	defer c.release(rows)

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("reading explain columns: %w", err)
	}

	lines := make([]string, 0, 1)

	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))

		for i := range values {
			dest[i] = &values[i]
		}

		if err := rows.Scan(dest...); err != nil {
			return "", fmt.Errorf("scanning explain row: %w", err)
		}

		if len(values) > 0 {
			lines = append(lines, values[0].String)
		}
	}

	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading explain rows: %w", err)
	}

	return strings.Join(lines, "\n"), nil
}

// Commit commits the current transaction, if any.
func (c *mysqlConn) Commit(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

// ListIndexes enumerates secondary indexes on tables.
func (c *mysqlConn) ListIndexes(
	ctx context.Context,
	schema string,
	tables []string,
) ([]IndexRef, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tables)), ", ")

	args := make([]any, 0, len(tables)+1)
	args = append(args, schema)

	for _, t := range tables {
		args = append(args, t)
	}

	rows, err := c.conn.QueryContext(ctx, fmt.Sprintf(listIndexesQuery, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}

	c.track(rows)
	defer c.release(rows)

	var refs []IndexRef

	for rows.Next() {
		var ref IndexRef
		if err := rows.Scan(&ref.Table, &ref.Name); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}

		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading index rows: %w", err)
	}

	return refs, nil
}

// Drain closes any result set still open on the connection.
func (c *mysqlConn) Drain() error {
	var errs []error

	for rows := range c.pending {
		if err := rows.Close(); err != nil {
			errs = append(errs, err)
		}

		delete(c.pending, rows)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("draining pending results: %w", err)
	}

	return nil
}

// Reconnect releases the pinned connection and pins a fresh one. The pool
// holds a single connection, so the old one must go back first; a connection
// the driver marked bad is discarded by database/sql instead of reused.
func (c *mysqlConn) Reconnect(ctx context.Context) error {
	if err := c.Drain(); err != nil {
		c.log.WithError(err).Debug("Failed to drain results before reconnect")
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		c.log.WithError(err).Debug("Closing stale connection failed")
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return benchmark.NewFault(benchmark.ConnectionFault, "reconnect", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()

		return benchmark.NewFault(benchmark.ConnectionFault, "reconnect", err)
	}

	c.conn = conn

	c.log.Info("Database reconnected")

	return nil
}

// Close releases the pinned connection and the pool.
func (c *mysqlConn) Close() error {
	if err := c.Drain(); err != nil {
		c.log.WithError(err).Warn("Failed to drain results before close")
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		_ = c.db.Close()

		return fmt.Errorf("closing connection: %w", err)
	}

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	return nil
}

func (c *mysqlConn) track(rows *sql.Rows) {
	c.pending[rows] = struct{}{}
}

// release closes rows, which reads and discards any result sets left over.
func (c *mysqlConn) release(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		c.log.WithError(err).Debug("Closing result set failed")

		return
	}

	delete(c.pending, rows)
}
