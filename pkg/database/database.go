package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/go-sql-driver/mysql"
)

// IndexRef names a secondary index present on a table.
type IndexRef struct {
	Table string `json:"table"`
	Name  string `json:"name"`
}

// Conn is the single connection a benchmark session runs on. It is owned by
// the orchestrator and handed by reference to the components that need it.
// Implementations are not safe for concurrent use.
type Conn interface {
	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error

	// Exec runs a statement that returns no rows (DDL, COMMIT).
	Exec(ctx context.Context, stmt string) error

	// Query runs a statement in plain mode, reads every result set to the
	// end and returns the number of rows returned.
	Query(ctx context.Context, stmt string) (int64, error)

	// Explain runs stmt under plan-analysis mode and returns the plan text,
	// one plan row per line.
	Explain(ctx context.Context, stmt string) (string, error)

	// Commit commits any open transaction.
	Commit(ctx context.Context) error

	// ListIndexes enumerates non-primary, non-foreign-key indexes on the
	// given tables of schema.
	ListIndexes(ctx context.Context, schema string, tables []string) ([]IndexRef, error)

	// Drain discards every pending result set so the connection can be
	// reused.
	Drain() error

	// Reconnect replaces a connection the server or driver has dropped with
	// a fresh one from the same pool.
	Reconnect(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Detach returns a context for a single statement. It keeps the values and
// deadline of ctx but not its cancellation: the MySQL driver closes the
// connection when a running statement's context is cancelled, so an interrupt
// must only be observed between statements. A positive timeout tightens the
// deadline further.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	deadline, ok := ctx.Deadline()

	if timeout > 0 {
		if d := time.Now().Add(timeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}

	if !ok {
		return detached, func() {}
	}

	return context.WithDeadline(detached, deadline)
}
