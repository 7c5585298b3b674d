// Package report ranks the results of a benchmark session and renders them
// for the console, markdown and JSON.
package report

import (
	"sort"
	"time"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
)

// Classification labels a ranked entry relative to the baseline.
type Classification string

// Classifications.
const (
	ClassBaseline    Classification = "baseline"
	ClassImprovement Classification = "improvement"
	ClassNeutral     Classification = "neutral"
	ClassRegression  Classification = "regression"
	ClassAbsolute    Classification = "absolute"
)

// Band grades the size of an improvement.
type Band string

// Improvement bands.
const (
	BandNone        Band = ""
	BandMinor       Band = "minor"
	BandSignificant Band = "significant"
	BandMajor       Band = "major"
	BandDramatic    Band = "dramatic"
)

// Ratio thresholds.
const (
	NeutralLow       = 0.9
	NeutralHigh      = 1.1
	SignificantRatio = 2.0
	MajorRatio       = 5.0
	DramaticRatio    = 10.0
)

// Entry is one measured strategy in a query's ranking.
type Entry struct {
	StrategyID     string         `json:"strategy_id"`
	StrategyLabel  string         `json:"strategy_label"`
	ElapsedMS      float64        `json:"elapsed_ms"`
	RowsExamined   *int64         `json:"rows_examined"`
	WallClock      time.Duration  `json:"wall_clock_ns"`
	Ratio          *float64       `json:"ratio"`
	Classification Classification `json:"classification"`
	Band           Band           `json:"band,omitempty"`
}

// Issue is a strategy that produced no elapsed figure for a query.
type Issue struct {
	StrategyID    string              `json:"strategy_id"`
	StrategyLabel string              `json:"strategy_label"`
	Status        benchmark.RunStatus `json:"status"`
	FaultKind     benchmark.FaultKind `json:"fault_kind,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// QueryReport ranks every strategy for one query.
type QueryReport struct {
	QueryID    string   `json:"query_id"`
	QueryLabel string   `json:"query_label"`
	BaselineMS *float64 `json:"baseline_ms"`
	Fastest    string   `json:"fastest,omitempty"`
	Ranked     []Entry  `json:"ranked"`
	Unmeasured []Issue  `json:"unmeasured"`
	Failed     []Issue  `json:"failed"`
}

// Totals counts cells by status.
type Totals struct {
	Cells      int `json:"cells"`
	Measured   int `json:"measured"`
	Unmeasured int `json:"unmeasured"`
	Failed     int `json:"failed"`
}

// Report is the ranked comparison of a session.
type Report struct {
	SessionID  string                  `json:"session_id"`
	Status     benchmark.SessionStatus `json:"status"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Duration   time.Duration           `json:"duration_ns"`
	Baseline   string                  `json:"baseline,omitempty"`
	Queries    []QueryReport           `json:"queries"`
	Totals     Totals                  `json:"totals"`
	Warnings   int                     `json:"warnings"`
}

// SpeedupRatio returns baseline / candidate. It is undefined unless both
// figures are positive.
func SpeedupRatio(baselineMS, candidateMS float64) (float64, bool) {
	if baselineMS <= 0 || candidateMS <= 0 {
		return 0, false
	}

	return baselineMS / candidateMS, true
}

// Classify labels a speedup ratio. Ratios within [0.9, 1.1] are neutral.
func Classify(ratio float64) (Classification, Band) {
	switch {
	case ratio > DramaticRatio:
		return ClassImprovement, BandDramatic
	case ratio > MajorRatio:
		return ClassImprovement, BandMajor
	case ratio > SignificantRatio:
		return ClassImprovement, BandSignificant
	case ratio > NeutralHigh:
		return ClassImprovement, BandMinor
	case ratio >= NeutralLow:
		return ClassNeutral, BandNone
	default:
		return ClassRegression, BandNone
	}
}

// Build ranks the session's results per query, in query declaration order.
func Build(session *benchmark.Session) *Report {
	rep := &Report{
		SessionID:  session.ID,
		Status:     session.Status,
		StartedAt:  session.StartedAt,
		FinishedAt: session.FinishedAt,
		Duration:   session.Duration(),
		Queries:    make([]QueryReport, 0, len(session.Queries)),
		Warnings:   session.Warnings,
	}

	for _, s := range session.Strategies {
		if s.IsBaseline() {
			rep.Baseline = s.ID

			break
		}
	}

	byQuery := make(map[string][]benchmark.RunResult, len(session.Queries))
	for _, r := range session.Results {
		byQuery[r.QueryID] = append(byQuery[r.QueryID], r)
	}

	for _, q := range session.Queries {
		qr := buildQuery(q, rep.Baseline, byQuery[q.ID])

		rep.Totals.Measured += len(qr.Ranked)
		rep.Totals.Unmeasured += len(qr.Unmeasured)
		rep.Totals.Failed += len(qr.Failed)

		rep.Queries = append(rep.Queries, qr)
	}

	rep.Totals.Cells = rep.Totals.Measured + rep.Totals.Unmeasured + rep.Totals.Failed

	return rep
}

func buildQuery(q benchmark.QueryDefinition, baselineID string, results []benchmark.RunResult) QueryReport {
	qr := QueryReport{
		QueryID:    q.ID,
		QueryLabel: q.Label,
		Ranked:     make([]Entry, 0, len(results)),
		Unmeasured: make([]Issue, 0),
		Failed:     make([]Issue, 0),
	}

	for _, r := range results {
		switch r.Status() {
		case benchmark.StatusMeasured:
			elapsed := *r.Plan.ElapsedMS

			if r.StrategyID == baselineID {
				qr.BaselineMS = &elapsed
			}

			qr.Ranked = append(qr.Ranked, Entry{
				StrategyID:    r.StrategyID,
				StrategyLabel: r.StrategyLabel,
				ElapsedMS:     elapsed,
				RowsExamined:  r.Plan.RowsExamined,
				WallClock:     r.WallClock,
			})
		case benchmark.StatusUnmeasured:
			msg := r.PlanError
			if msg == "" {
				msg = "no elapsed time in plan output"
			}

			qr.Unmeasured = append(qr.Unmeasured, issueFor(r, msg))
		default:
			qr.Failed = append(qr.Failed, issueFor(r, r.Error))
		}
	}

	sort.SliceStable(qr.Ranked, func(i, j int) bool {
		return qr.Ranked[i].ElapsedMS < qr.Ranked[j].ElapsedMS
	})

	for i := range qr.Ranked {
		e := &qr.Ranked[i]

		switch {
		case e.StrategyID == baselineID:
			one := 1.0
			e.Ratio = &one
			e.Classification = ClassBaseline
		case qr.BaselineMS == nil:
			e.Classification = ClassAbsolute
		default:
			ratio, ok := SpeedupRatio(*qr.BaselineMS, e.ElapsedMS)
			if !ok {
				e.Classification = ClassAbsolute

				continue
			}

			e.Ratio = &ratio
			e.Classification, e.Band = Classify(ratio)
		}
	}

	if len(qr.Ranked) > 0 {
		qr.Fastest = qr.Ranked[0].StrategyID
	}

	return qr
}

func issueFor(r benchmark.RunResult, msg string) Issue {
	return Issue{
		StrategyID:    r.StrategyID,
		StrategyLabel: r.StrategyLabel,
		Status:        r.Status(),
		FaultKind:     r.FaultKind,
		Error:         msg,
	}
}
