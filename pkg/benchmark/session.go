package benchmark

import (
	"fmt"
	"time"

	"github.com/ethpandaops/indexoor/pkg/sysinfo"
)

// SessionStatus is the terminal state of a benchmark session.
type SessionStatus string

// Session statuses.
const (
	SessionRunning          SessionStatus = "running"
	SessionCompleted        SessionStatus = "completed"
	SessionInterrupted      SessionStatus = "interrupted"
	SessionConnectionFailed SessionStatus = "connection_failed"
)

// Session owns the ordered results of one harness execution.
type Session struct {
	ID              string            `json:"id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Status          SessionStatus     `json:"status"`
	Strategies      []IndexStrategy   `json:"strategies"`
	Queries         []QueryDefinition `json:"queries"`
	Results         []RunResult       `json:"results"`
	IndexOperations []IndexOperation  `json:"index_operations"`
	Warnings        int               `json:"warnings"`
	System          *sysinfo.Info     `json:"system,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`

	seen map[pairKey]struct{}
}

type pairKey struct {
	strategy string
	query    string
}

// NewSession creates an empty running session over the declared strategies
// and queries.
func NewSession(
	id string,
	strategies []IndexStrategy,
	queries []QueryDefinition,
	labels map[string]string,
) *Session {
	return &Session{
		ID:              id,
		StartedAt:       time.Now().UTC(),
		Status:          SessionRunning,
		Strategies:      strategies,
		Queries:         queries,
		Results:         make([]RunResult, 0, len(strategies)*len(queries)),
		IndexOperations: make([]IndexOperation, 0),
		Labels:          labels,
		seen:            make(map[pairKey]struct{}, len(strategies)*len(queries)),
	}
}

// Append records a result. Each (strategy, query) pair may be recorded once.
func (s *Session) Append(r RunResult) error {
	if s.seen == nil {
		s.rebuildSeen()
	}

	key := pairKey{strategy: r.StrategyID, query: r.QueryID}
	if _, ok := s.seen[key]; ok {
		return fmt.Errorf("duplicate result for strategy %q query %q", r.StrategyID, r.QueryID)
	}

	s.seen[key] = struct{}{}
	r.SessionID = s.ID
	s.Results = append(s.Results, r)

	return nil
}

// RecordIndexOperations appends index diagnostics. Every failed operation
// counts as a session warning.
func (s *Session) RecordIndexOperations(ops []IndexOperation) {
	for _, op := range ops {
		if !op.Success {
			s.Warnings++
		}
	}

	s.IndexOperations = append(s.IndexOperations, ops...)
}

// FillMissing rebuilds Results in strategy-major, query-minor order and
// records a failed result with reason for every declared pair that never ran.
func (s *Session) FillMissing(reason string) {
	byKey := make(map[pairKey]RunResult, len(s.Results))
	for _, r := range s.Results {
		byKey[pairKey{strategy: r.StrategyID, query: r.QueryID}] = r
	}

	ordered := make([]RunResult, 0, len(s.Strategies)*len(s.Queries))
	now := time.Now().UTC()

	for _, st := range s.Strategies {
		for _, q := range s.Queries {
			if r, ok := byKey[pairKey{strategy: st.ID, query: q.ID}]; ok {
				ordered = append(ordered, r)

				continue
			}

			ordered = append(ordered, RunResult{
				SessionID:     s.ID,
				StrategyID:    st.ID,
				StrategyLabel: st.Label,
				QueryID:       q.ID,
				QueryLabel:    q.Label,
				Timestamp:     now,
				Success:       false,
				Error:         reason,
			})
		}
	}

	s.Results = ordered
	s.rebuildSeen()
}

// Finish stamps the end time and terminal status.
func (s *Session) Finish(status SessionStatus) {
	s.Status = status
	s.FinishedAt = time.Now().UTC()
}

// Duration is the wall time of the session, or zero while it is running.
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}

	return s.FinishedAt.Sub(s.StartedAt)
}

// Strategy looks up a declared strategy by id.
func (s *Session) Strategy(id string) (IndexStrategy, bool) {
	for _, st := range s.Strategies {
		if st.ID == id {
			return st, true
		}
	}

	return IndexStrategy{}, false
}

func (s *Session) rebuildSeen() {
	s.seen = make(map[pairKey]struct{}, len(s.Results))
	for _, r := range s.Results {
		s.seen[pairKey{strategy: r.StrategyID, query: r.QueryID}] = struct{}{}
	}
}
