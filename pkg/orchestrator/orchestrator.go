// Package orchestrator drives a benchmark session across the cross-product
// of index strategies and queries on a single connection.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/database"
	"github.com/ethpandaops/indexoor/pkg/indexes"
	"github.com/ethpandaops/indexoor/pkg/query"
	"github.com/ethpandaops/indexoor/pkg/report"
	"github.com/ethpandaops/indexoor/pkg/sysinfo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is a step of the session state machine.
type State string

// Session states, in the order they are entered.
const (
	StateIdle             State = "idle"
	StateResetting        State = "resetting"
	StateApplyingStrategy State = "applying_strategy"
	StateRunningQueries   State = "running_queries"
	StateCleaningUp       State = "cleaning_up"
	StateReporting        State = "reporting"
	StateDone             State = "done"
)

// Reasons recorded on cells that never ran.
const (
	ReasonInterrupted    = "interrupted"
	ReasonConnectionLost = "not run: connection lost"
)

// DefaultCleanupTimeout bounds each teardown that runs after cancellation.
const DefaultCleanupTimeout = 2 * time.Minute

// Orchestrator runs one benchmark session.
type Orchestrator interface {
	// Run executes the session. It returns an error only for a connection
	// fault; every other failure is recorded in the result. Cancelling ctx
	// stops the session at the next cell or index boundary; statements in
	// flight are never cancelled.
	Run(ctx context.Context) (*Result, error)

	// State returns the current state.
	State() State
}

// Config configures a session.
type Config struct {
	// SessionID defaults to a random UUID.
	SessionID      string
	Strategies     []benchmark.IndexStrategy
	Queries        []benchmark.QueryDefinition
	Labels         map[string]string
	System         *sysinfo.Info
	CleanupTimeout time.Duration
}

// Result is the outcome of a session.
type Result struct {
	Session *benchmark.Session
	Report  *report.Report
}

type orchestrator struct {
	log     logrus.FieldLogger
	cfg     *Config
	conn    database.Conn
	indexes indexes.Manager
	runner  query.Runner
	state   atomic.Value
}

// Ensure interface compliance.
var _ Orchestrator = (*orchestrator)(nil)

// NewOrchestrator creates an orchestrator. conn is owned by the caller and
// must be the connection mgr and runner operate on.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg *Config,
	conn database.Conn,
	mgr indexes.Manager,
	runner query.Runner,
) Orchestrator {
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	o := &orchestrator{
		log:     log.WithField("component", "orchestrator"),
		cfg:     cfg,
		conn:    conn,
		indexes: mgr,
		runner:  runner,
	}

	o.state.Store(StateIdle)

	return o
}

// State implements Orchestrator.
func (o *orchestrator) State() State {
	return o.state.Load().(State)
}

func (o *orchestrator) transition(to State, fields logrus.Fields) {
	from := o.State()
	o.state.Store(to)

	o.log.WithFields(fields).WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("State transition")
}

// Run implements Orchestrator.
func (o *orchestrator) Run(ctx context.Context) (*Result, error) {
	session := benchmark.NewSession(o.cfg.SessionID, o.cfg.Strategies, o.cfg.Queries, o.cfg.Labels)
	session.System = o.cfg.System

	log := o.log.WithField("session", session.ID)

	log.WithFields(logrus.Fields{
		"strategies": len(o.cfg.Strategies),
		"queries":    len(o.cfg.Queries),
	}).Info("Starting benchmark session")

	if err := o.ping(ctx); err != nil {
		fault := benchmark.NewFault(benchmark.ConnectionFault, "ping", err)

		log.WithError(fault).Error("No working database connection")

		return o.finish(session, benchmark.SessionConnectionFailed, ReasonConnectionLost), fault
	}

	o.transition(StateResetting, nil)

	resetOps := o.indexes.DropAll(ctx)
	session.RecordIndexOperations(resetOps)

	if indexes.HasConnectionFault(resetOps) {
		fault := benchmark.NewFault(benchmark.ConnectionFault, "reset",
			errors.New("connection lost while resetting indexes"))

		log.WithError(fault).Error("Aborting session")

		return o.finish(session, benchmark.SessionConnectionFailed, ReasonConnectionLost), fault
	}

	var fault error

	for _, strategy := range o.cfg.Strategies {
		if ctx.Err() != nil {
			break
		}

		if fault = o.runStrategy(ctx, session, strategy); fault != nil {
			break
		}
	}

	switch {
	case fault != nil:
		log.WithError(fault).Error("Connection lost, aborting session")

		return o.finish(session, benchmark.SessionConnectionFailed, ReasonConnectionLost), fault
	case ctx.Err() != nil:
		log.Warn("Session interrupted, removing indexes")

		dropped, _ := o.cleanup()
		session.RecordIndexOperations(dropped)

		return o.finish(session, benchmark.SessionInterrupted, ReasonInterrupted), nil
	default:
		return o.finish(session, benchmark.SessionCompleted, ReasonInterrupted), nil
	}
}

// runStrategy applies strategy, runs every query under it and always tears
// the strategy down. It returns a fault only when the connection is lost.
func (o *orchestrator) runStrategy(
	ctx context.Context,
	session *benchmark.Session,
	strategy benchmark.IndexStrategy,
) (fault error) {
	log := o.log.WithField("strategy", strategy.ID)

	o.transition(StateApplyingStrategy, logrus.Fields{"strategy": strategy.ID})

	applied := o.indexes.Apply(ctx, strategy)
	session.RecordIndexOperations(applied)

	defer func() {
		o.transition(StateCleaningUp, logrus.Fields{"strategy": strategy.ID})

		dropped, lost := o.cleanup()
		session.RecordIndexOperations(dropped)

		if fault == nil && lost {
			fault = benchmark.NewFault(benchmark.ConnectionFault, "cleanup",
				fmt.Errorf("connection lost while dropping %s indexes", strategy.ID))
		}
	}()

	if indexes.HasConnectionFault(applied) {
		return benchmark.NewFault(benchmark.ConnectionFault, "apply",
			fmt.Errorf("connection lost while applying %s", strategy.ID))
	}

	o.transition(StateRunningQueries, logrus.Fields{"strategy": strategy.ID})

	for _, q := range o.cfg.Queries {
		if ctx.Err() != nil {
			log.Info("Stopping query loop on cancellation")

			return nil
		}

		result := o.runner.Run(ctx, strategy, q)

		if err := session.Append(result); err != nil {
			log.WithError(err).Warn("Dropping duplicate result")
		}

		if result.FaultKind == benchmark.ConnectionFault {
			detail := result.Error
			if detail == "" {
				detail = result.PlanError
			}

			return benchmark.NewFault(benchmark.ConnectionFault, "query",
				fmt.Errorf("%s/%s: %s", strategy.ID, q.ID, detail))
		}
	}

	return nil
}

func (o *orchestrator) ping(ctx context.Context) error {
	ctx, cancel := database.Detach(ctx, o.cfg.CleanupTimeout)
	defer cancel()

	return o.conn.Ping(ctx)
}

// cleanup drops every index on a context detached from the caller's so it
// still runs after cancellation. If the connection is gone it pins a fresh
// one and tries once more. lost reports that indexes could not be dropped
// for want of a connection.
func (o *orchestrator) cleanup() (ops []benchmark.IndexOperation, lost bool) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CleanupTimeout)
	defer cancel()

	ops = o.indexes.DropAll(ctx)
	if !indexes.HasConnectionFault(ops) {
		return ops, false
	}

	if err := o.conn.Reconnect(ctx); err != nil {
		o.log.WithError(err).Error("Failed to reconnect for index cleanup")

		return ops, true
	}

	retry := o.indexes.DropAll(ctx)

	return append(ops, retry...), indexes.HasConnectionFault(retry)
}

func (o *orchestrator) finish(
	session *benchmark.Session,
	status benchmark.SessionStatus,
	missingReason string,
) *Result {
	o.transition(StateReporting, nil)

	session.FillMissing(missingReason)
	session.Finish(status)

	rep := report.Build(session)

	o.transition(StateDone, nil)

	o.log.WithFields(logrus.Fields{
		"session":    session.ID,
		"status":     status,
		"measured":   rep.Totals.Measured,
		"unmeasured": rep.Totals.Unmeasured,
		"failed":     rep.Totals.Failed,
		"warnings":   session.Warnings,
		"duration":   session.Duration(),
	}).Info("Benchmark session finished")

	return &Result{Session: session, Report: rep}
}
