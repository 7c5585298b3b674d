// Package indexes applies and tears down index strategies on the session
// connection.
package indexes

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/database"
	"github.com/sirupsen/logrus"
)

// Manager creates and removes secondary indexes on the tracked tables.
// Failures never abort: they are returned as failed IndexOperation records.
type Manager interface {
	// Discover lists the secondary indexes currently present on the tracked
	// tables, excluding primary keys and foreign key indexes.
	Discover(ctx context.Context) ([]database.IndexRef, error)

	// DropAll removes every discovered index. It is idempotent and ignores
	// cancellation of ctx, so it always runs to the end.
	DropAll(ctx context.Context) []benchmark.IndexOperation

	// Apply creates the strategy's indexes in declared order, committing
	// after each one. Cancellation of ctx is honoured between indexes; an
	// index already being built is always finished.
	Apply(ctx context.Context, strategy benchmark.IndexStrategy) []benchmark.IndexOperation
}

// Config configures the manager.
type Config struct {
	// Schema is the database whose tables are inspected.
	Schema string

	// Tables are the tables whose secondary indexes are managed.
	Tables []string

	// StatementTimeout bounds each DDL statement. Zero means no limit.
	StatementTimeout time.Duration
}

type manager struct {
	log  logrus.FieldLogger
	conn database.Conn
	cfg  *Config
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// NewManager creates a manager operating on conn.
func NewManager(log logrus.FieldLogger, conn database.Conn, cfg *Config) Manager {
	return &manager{
		log:  log.WithField("component", "indexes"),
		conn: conn,
		cfg:  cfg,
	}
}

// Discover implements Manager.
func (m *manager) Discover(ctx context.Context) ([]database.IndexRef, error) {
	ctx, cancel := database.Detach(ctx, m.cfg.StatementTimeout)
	defer cancel()

	refs, err := m.conn.ListIndexes(ctx, m.cfg.Schema, m.cfg.Tables)
	if err != nil {
		return nil, database.Classify(benchmark.IndexOperationFault, "discover", err)
	}

	return refs, nil
}

// DropAll implements Manager.
func (m *manager) DropAll(ctx context.Context) []benchmark.IndexOperation {
	start := time.Now()

	refs, err := m.Discover(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to discover indexes")

		return []benchmark.IndexOperation{
			failedOp(benchmark.IndexOperation{Op: benchmark.OpDiscover}, start, err),
		}
	}

	ops := make([]benchmark.IndexOperation, 0, len(refs))

	for _, ref := range refs {
		op := benchmark.IndexOperation{
			Op:      benchmark.OpDrop,
			Table:   ref.Table,
			IndexID: ref.Name,
		}

		opStart := time.Now()

		if err := m.drop(ctx, ref); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"table": ref.Table,
				"index": ref.Name,
			}).Warn("Failed to drop index")

			ops = append(ops, failedOp(op, opStart, err))

			continue
		}

		ops = append(ops, succeededOp(op, opStart))

		m.log.WithFields(logrus.Fields{
			"table": ref.Table,
			"index": ref.Name,
		}).Debug("Dropped index")
	}

	if len(refs) > 0 {
		m.log.WithFields(logrus.Fields{
			"dropped":  countSucceeded(ops),
			"duration": time.Since(start),
		}).Info("Removed secondary indexes")
	}

	return ops
}

// Apply implements Manager.
func (m *manager) Apply(
	ctx context.Context,
	strategy benchmark.IndexStrategy,
) []benchmark.IndexOperation {
	ops := make([]benchmark.IndexOperation, 0, len(strategy.Indexes))

	for i, def := range strategy.Indexes {
		if ctx.Err() != nil {
			m.log.WithFields(logrus.Fields{
				"strategy": strategy.ID,
				"skipped":  len(strategy.Indexes) - i,
			}).Info("Stopping index creation on cancellation")

			break
		}

		op := benchmark.IndexOperation{
			StrategyID: strategy.ID,
			Op:         benchmark.OpCreate,
			Table:      def.Table,
			IndexID:    def.ID,
		}

		log := m.log.WithFields(logrus.Fields{
			"strategy": strategy.ID,
			"table":    def.Table,
			"index":    def.ID,
		})

		start := time.Now()

		if err := m.create(ctx, def); err != nil {
			log.WithError(err).Warn("Failed to create index")

			ops = append(ops, failedOp(op, start, err))

			continue
		}

		op = succeededOp(op, start)
		ops = append(ops, op)

		log.WithField("duration", op.Duration).Info("Created index")
	}

	return ops
}

func (m *manager) drop(ctx context.Context, ref database.IndexRef) error {
	ctx, cancel := database.Detach(ctx, m.cfg.StatementTimeout)
	defer cancel()

	if err := m.conn.Exec(ctx, benchmark.DropStatement(ref.Table, ref.Name)); err != nil {
		return database.Classify(benchmark.IndexOperationFault, "drop", err)
	}

	if err := m.conn.Commit(ctx); err != nil {
		m.log.WithError(err).WithField("index", ref.Name).Debug("Commit after drop failed")
	}

	return nil
}

func (m *manager) create(ctx context.Context, def benchmark.IndexDefinition) error {
	ctx, cancel := database.Detach(ctx, m.cfg.StatementTimeout)
	defer cancel()

	if err := m.conn.Exec(ctx, def.CreateStatement()); err != nil {
		return database.Classify(benchmark.IndexOperationFault, "create", err)
	}

	if err := m.conn.Commit(ctx); err != nil {
		return database.Classify(benchmark.IndexOperationFault, "commit",
			fmt.Errorf("committing index %s: %w", def.ID, err))
	}

	return nil
}

func succeededOp(op benchmark.IndexOperation, start time.Time) benchmark.IndexOperation {
	op.Success = true
	op.Duration = time.Since(start)
	op.Timestamp = time.Now().UTC()

	return op
}

func failedOp(op benchmark.IndexOperation, start time.Time, err error) benchmark.IndexOperation {
	op.Success = false
	op.Error = err.Error()
	op.ConnectionFault = database.IsConnectionFault(err)
	op.Duration = time.Since(start)
	op.Timestamp = time.Now().UTC()

	return op
}

func countSucceeded(ops []benchmark.IndexOperation) int {
	n := 0

	for _, op := range ops {
		if op.Success {
			n++
		}
	}

	return n
}

// HasConnectionFault reports whether any operation failed because the
// connection was lost.
func HasConnectionFault(ops []benchmark.IndexOperation) bool {
	for _, op := range ops {
		if op.ConnectionFault {
			return true
		}
	}

	return false
}
