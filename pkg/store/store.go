// Package store persists benchmark sessions in a history database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/config"
	"github.com/ethpandaops/indexoor/pkg/report"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps list queries when no limit is given.
const DefaultListLimit = 100

// Store provides persistence for benchmark session history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// SaveSession inserts or replaces a session with its results and index
	// operations.
	SaveSession(ctx context.Context, session *benchmark.Session, rep *report.Report) error

	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	GetReport(ctx context.Context, sessionID string) (*report.Report, error)
	ListResults(ctx context.Context, sessionID string) ([]RunResultRecord, error)
	ListIndexOperations(ctx context.Context, sessionID string) ([]IndexOperationRecord, error)

	// ListResultsForQuery returns a query's results across sessions, newest
	// first.
	ListResultsForQuery(ctx context.Context, queryID string, limit int) ([]RunResultRecord, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.HistoryConfig
	db  *gorm.DB
}

// NewStore creates a history Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.HistoryConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&SessionRecord{},
		&RunResultRecord{},
		&IndexOperationRecord{},
	); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SaveSession upserts the session row keyed by session id and replaces its
// child rows in one transaction.
func (s *store) SaveSession(
	ctx context.Context,
	session *benchmark.Session,
	rep *report.Report,
) error {
	record, err := sessionRecord(session, rep)
	if err != nil {
		return err
	}

	results := make([]*RunResultRecord, 0, len(session.Results))
	for i, r := range session.Results {
		results = append(results, runResultRecord(session.ID, i, r))
	}

	ops := make([]*IndexOperationRecord, 0, len(session.IndexOperations))
	for _, op := range session.IndexOperations {
		ops = append(ops, indexOperationRecord(session.ID, op))
	}

	const batchSize = 100

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", record.SessionID).
			Assign(record).
			FirstOrCreate(record).Error; err != nil {
			return fmt.Errorf("upserting session: %w", err)
		}

		if err := tx.Where("session_id = ?", record.SessionID).
			Delete(&RunResultRecord{}).Error; err != nil {
			return fmt.Errorf("deleting old results: %w", err)
		}

		if err := tx.Where("session_id = ?", record.SessionID).
			Delete(&IndexOperationRecord{}).Error; err != nil {
			return fmt.Errorf("deleting old index operations: %w", err)
		}

		if len(results) > 0 {
			if err := tx.CreateInBatches(results, batchSize).Error; err != nil {
				return fmt.Errorf("inserting results: %w", err)
			}
		}

		if len(ops) > 0 {
			if err := tx.CreateInBatches(ops, batchSize).Error; err != nil {
				return fmt.Errorf("inserting index operations: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"session": session.ID,
		"results": len(results),
	}).Debug("Saved session to history")

	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	var sessions []SessionRecord
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

// GetSession returns one session by id.
func (s *store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var record SessionRecord

	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	return &record, nil
}

// GetReport decodes the stored ranked report of a session.
func (s *store) GetReport(ctx context.Context, sessionID string) (*report.Report, error) {
	record, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var rep report.Report
	if err := json.Unmarshal([]byte(record.ReportJSON), &rep); err != nil {
		return nil, fmt.Errorf("decoding stored report: %w", err)
	}

	return &rep, nil
}

// ListResults returns a session's cells in strategy-major order.
func (s *store) ListResults(ctx context.Context, sessionID string) ([]RunResultRecord, error) {
	var results []RunResultRecord
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return results, nil
}

// ListIndexOperations returns a session's index operations in the order
// they happened.
func (s *store) ListIndexOperations(
	ctx context.Context,
	sessionID string,
) ([]IndexOperationRecord, error) {
	var ops []IndexOperationRecord
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("listing index operations: %w", err)
	}

	return ops, nil
}

// ListResultsForQuery implements Store.
func (s *store) ListResultsForQuery(
	ctx context.Context,
	queryID string,
	limit int,
) ([]RunResultRecord, error) {
	var results []RunResultRecord
	if err := s.db.WithContext(ctx).
		Where("query_id = ?", queryID).
		Order("timestamp DESC").
		Order("position ASC").
		Limit(normalizeLimit(limit)).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing query history: %w", err)
	}

	return results, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit*10 {
		return DefaultListLimit
	}

	return limit
}

func sessionRecord(session *benchmark.Session, rep *report.Report) (*SessionRecord, error) {
	labels, err := json.Marshal(session.Labels)
	if err != nil {
		return nil, fmt.Errorf("encoding labels: %w", err)
	}

	reportJSON, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	record := &SessionRecord{
		SessionID:  session.ID,
		StartedAt:  session.StartedAt,
		FinishedAt: session.FinishedAt,
		Status:     string(session.Status),
		Strategies: len(session.Strategies),
		Queries:    len(session.Queries),
		Measured:   rep.Totals.Measured,
		Unmeasured: rep.Totals.Unmeasured,
		Failed:     rep.Totals.Failed,
		Warnings:   session.Warnings,
		LabelsJSON: string(labels),
		ReportJSON: string(reportJSON),
		IndexedAt:  time.Now().UTC(),
	}

	if session.System != nil {
		record.Hostname = session.System.Hostname
	}

	return record, nil
}

func runResultRecord(sessionID string, position int, r benchmark.RunResult) *RunResultRecord {
	return &RunResultRecord{
		SessionID:     sessionID,
		Position:      position,
		StrategyID:    r.StrategyID,
		StrategyLabel: r.StrategyLabel,
		QueryID:       r.QueryID,
		QueryLabel:    r.QueryLabel,
		Status:        string(r.Status()),
		ElapsedMS:     r.Plan.ElapsedMS,
		RowsExamined:  r.Plan.RowsExamined,
		RawPlan:       r.Plan.RawPlan,
		WallClockNS:   int64(r.WallClock),
		PlanWallClock: int64(r.PlanWallClock),
		RowsReturned:  r.RowsReturned,
		Success:       r.Success,
		Error:         r.Error,
		PlanError:     r.PlanError,
		FaultKind:     string(r.FaultKind),
		Timestamp:     r.Timestamp,
	}
}

func indexOperationRecord(sessionID string, op benchmark.IndexOperation) *IndexOperationRecord {
	return &IndexOperationRecord{
		SessionID:       sessionID,
		StrategyID:      op.StrategyID,
		Op:              string(op.Op),
		IndexTable:      op.Table,
		IndexID:         op.IndexID,
		Success:         op.Success,
		Error:           op.Error,
		ConnectionFault: op.ConnectionFault,
		DurationNS:      int64(op.Duration),
		Timestamp:       op.Timestamp,
	}
}
