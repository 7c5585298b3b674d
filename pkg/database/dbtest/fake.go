// Package dbtest provides an in-memory database.Conn for component tests.
package dbtest

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ethpandaops/indexoor/pkg/database"
)

var (
	createRe = regexp.MustCompile("^CREATE INDEX `([^`]+)` ON `([^`]+)` \\((.*)\\)$")
	dropRe   = regexp.MustCompile("^DROP INDEX `([^`]+)` ON `([^`]+)`$")
	colRe    = regexp.MustCompile("`([^`]+)`")
)

// ErrConnLost is returned by a Conn after Break. It wraps driver.ErrBadConn
// so it classifies as a connection fault.
var ErrConnLost = fmt.Errorf("fake connection lost: %w", driver.ErrBadConn)

// Conn is a fake single connection that understands the index DDL the
// harness emits and returns canned query and plan output.
type Conn struct {
	mu sync.Mutex

	// Columns lists the known columns per table. Index creation fails on
	// unknown tables or columns.
	Columns map[string][]string

	// Indexes holds the secondary indexes currently present, per table.
	Indexes map[string][]string

	// RowCounts, Plans, QueryErrors and ExplainErrors are keyed by SQL text.
	RowCounts     map[string]int64
	Plans         map[string]string
	QueryErrors   map[string]error
	ExplainErrors map[string]error

	// DropErrors is keyed by index name.
	DropErrors map[string]error

	PingErr      error
	ListErr      error
	ReconnectErr error

	// OnExec, OnQuery and OnExplain run before the matching call, outside
	// the fake's lock.
	OnExec    func(stmt string)
	OnQuery   func(stmt string)
	OnExplain func(stmt string)

	Calls      []string
	Drains     int
	Commits    int
	Reconnects int
	Closed     bool

	broken bool
}

// Ensure interface compliance.
var _ database.Conn = (*Conn)(nil)

// New returns a fake over the given table columns.
func New(columns map[string][]string) *Conn {
	return &Conn{
		Columns:       columns,
		Indexes:       make(map[string][]string, len(columns)),
		RowCounts:     make(map[string]int64),
		Plans:         make(map[string]string),
		QueryErrors:   make(map[string]error),
		ExplainErrors: make(map[string]error),
		DropErrors:    make(map[string]error),
	}
}

// Break makes every subsequent call fail with ErrConnLost.
func (c *Conn) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken = true
}

// IndexCount returns the number of secondary indexes present.
func (c *Conn) IndexCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, idx := range c.Indexes {
		n += len(idx)
	}

	return n
}

// IndexNames returns every present index as table.name, sorted.
func (c *Conn) IndexNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string

	for table, idx := range c.Indexes {
		for _, n := range idx {
			names = append(names, table+"."+n)
		}
	}

	sort.Strings(names)

	return names
}

// HasIndex reports whether name exists on table.
func (c *Conn) HasIndex(table, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.Indexes[table] {
		if n == name {
			return true
		}
	}

	return false
}

// Broken reports whether the connection has been lost.
func (c *Conn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.broken
}

func (c *Conn) Ping(ctx context.Context) error {
	c.record("PING")

	if err := c.check(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.PingErr
}

func (c *Conn) Exec(ctx context.Context, stmt string) error {
	if c.OnExec != nil {
		c.OnExec(stmt)
	}

	c.record(stmt)

	if err := c.check(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m := createRe.FindStringSubmatch(stmt); m != nil {
		return c.create(m[1], m[2], m[3])
	}

	if m := dropRe.FindStringSubmatch(stmt); m != nil {
		return c.drop(m[1], m[2])
	}

	return fmt.Errorf("unsupported statement: %s", stmt)
}

func (c *Conn) Query(ctx context.Context, stmt string) (int64, error) {
	if c.OnQuery != nil {
		c.OnQuery(stmt)
	}

	c.record(stmt)

	if err := c.check(ctx); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.QueryErrors[stmt]; ok {
		return 0, err
	}

	return c.RowCounts[stmt], nil
}

func (c *Conn) Explain(ctx context.Context, stmt string) (string, error) {
	if c.OnExplain != nil {
		c.OnExplain(stmt)
	}

	c.record("EXPLAIN ANALYZE " + stmt)

	if err := c.check(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.ExplainErrors[stmt]; ok {
		return "", err
	}

	return c.Plans[stmt], nil
}

func (c *Conn) Commit(ctx context.Context) error {
	c.record("COMMIT")

	if err := c.check(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.Commits++
	c.mu.Unlock()

	return nil
}

func (c *Conn) ListIndexes(ctx context.Context, _ string, tables []string) ([]database.IndexRef, error) {
	c.record("LIST INDEXES")

	if err := c.check(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ListErr != nil {
		return nil, c.ListErr
	}

	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	var refs []database.IndexRef

	for _, t := range sorted {
		names := append([]string(nil), c.Indexes[t]...)
		sort.Strings(names)

		for _, n := range names {
			refs = append(refs, database.IndexRef{Table: t, Name: n})
		}
	}

	return refs, nil
}

func (c *Conn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Drains++

	return nil
}

// Reconnect restores a lost connection unless ReconnectErr is set. Indexes
// survive, as they live on the server.
func (c *Conn) Reconnect(_ context.Context) error {
	c.record("RECONNECT")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Reconnects++

	if c.ReconnectErr != nil {
		return c.ReconnectErr
	}

	c.broken = false

	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Closed = true

	return nil
}

// check fails on a broken connection or a cancelled context. Like the MySQL
// driver, a statement whose context is cancelled takes the connection down
// with it: every later call fails with ErrConnLost until Reconnect.
func (c *Conn) check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return ErrConnLost
	}

	if err := ctx.Err(); err != nil {
		c.broken = true

		return fmt.Errorf("statement cancelled: %w", err)
	}

	return nil
}

func (c *Conn) record(stmt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, stmt)
}

func (c *Conn) create(name, table, colList string) error {
	known, ok := c.Columns[table]
	if !ok {
		return fmt.Errorf("table '%s' doesn't exist", table)
	}

	for _, m := range colRe.FindAllStringSubmatch(colList, -1) {
		if !contains(known, m[1]) {
			return fmt.Errorf("key column '%s' doesn't exist in table", m[1])
		}
	}

	if contains(c.Indexes[table], name) {
		return fmt.Errorf("duplicate key name '%s'", name)
	}

	c.Indexes[table] = append(c.Indexes[table], name)

	return nil
}

func (c *Conn) drop(name, table string) error {
	if err, ok := c.DropErrors[name]; ok {
		return err
	}

	existing := c.Indexes[table]
	for i, n := range existing {
		if n == name {
			c.Indexes[table] = append(existing[:i:i], existing[i+1:]...)

			return nil
		}
	}

	return errors.New("can't drop index '" + name + "'; check that it exists")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}

	return false
}
