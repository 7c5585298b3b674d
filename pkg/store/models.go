package store

import (
	"time"
)

// SessionRecord is one benchmark session in the history database.
type SessionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	SessionID  string    `gorm:"not null;uniqueIndex" json:"session_id"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Hostname   string    `json:"hostname,omitempty"`

	// Denormalized totals.
	Strategies int `json:"strategies"`
	Queries    int `json:"queries"`
	Measured   int `json:"measured"`
	Unmeasured int `json:"unmeasured"`
	Failed     int `json:"failed"`
	Warnings   int `json:"warnings"`

	LabelsJSON string `gorm:"type:text" json:"-"`

	// Ranked report serialized as JSON.
	ReportJSON string `gorm:"type:text" json:"-"`

	IndexedAt time.Time `json:"indexed_at"`
}

// TableName sets the table name.
func (SessionRecord) TableName() string {
	return "sessions"
}

// RunResultRecord is one (strategy, query) cell of a stored session.
type RunResultRecord struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	SessionID     string    `gorm:"not null;index" json:"session_id"`
	Position      int       `json:"position"`
	StrategyID    string    `gorm:"index" json:"strategy_id"`
	StrategyLabel string    `json:"strategy_label,omitempty"`
	QueryID       string    `gorm:"index" json:"query_id"`
	QueryLabel    string    `json:"query_label,omitempty"`
	Status        string    `json:"status"`
	ElapsedMS     *float64  `json:"elapsed_ms"`
	RowsExamined  *int64    `json:"rows_examined"`
	RawPlan       string    `gorm:"type:text" json:"raw_plan,omitempty"`
	WallClockNS   int64     `json:"wall_clock_ns"`
	PlanWallClock int64     `json:"plan_wall_clock_ns"`
	RowsReturned  int64     `json:"rows_returned"`
	Success       bool      `json:"success"`
	Error         string    `gorm:"type:text" json:"error,omitempty"`
	PlanError     string    `gorm:"type:text" json:"plan_error,omitempty"`
	FaultKind     string    `json:"fault_kind,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TableName sets the table name.
func (RunResultRecord) TableName() string {
	return "run_results"
}

// IndexOperationRecord is one index create, drop or discovery of a stored
// session.
type IndexOperationRecord struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	SessionID       string    `gorm:"not null;index" json:"session_id"`
	StrategyID      string    `json:"strategy_id,omitempty"`
	Op              string    `json:"op"`
	IndexTable      string    `json:"table,omitempty"`
	IndexID         string    `json:"index_id,omitempty"`
	Success         bool      `json:"success"`
	Error           string    `gorm:"type:text" json:"error,omitempty"`
	ConnectionFault bool      `json:"connection_fault,omitempty"`
	DurationNS      int64     `json:"duration_ns"`
	Timestamp       time.Time `json:"timestamp"`
}

// TableName sets the table name.
func (IndexOperationRecord) TableName() string {
	return "index_operations"
}
