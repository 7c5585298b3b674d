package planparse

import (
	"strings"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
)

// EngineMySQL identifies the MySQL 8 EXPLAIN ANALYZE tree format.
const EngineMySQL = "mysql"

// Extractor turns plan-analysis output into structured metrics.
type Extractor interface {
	// Extract never fails. Figures it cannot find are left absent and the
	// raw text is always preserved.
	Extract(planText string) benchmark.PlanMetrics

	// Engine returns the engine whose plan format this extractor reads.
	Engine() string
}

// NewExtractor returns the extractor for the given engine. Unknown engines
// get the MySQL extractor since it is the only supported plan format.
func NewExtractor(engine string) Extractor {
	switch strings.ToLower(engine) {
	case EngineMySQL:
		return NewMySQLExtractor()
	default:
		return NewMySQLExtractor()
	}
}
