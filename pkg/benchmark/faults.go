package benchmark

import (
	"errors"
	"fmt"
)

// FaultKind classifies failures by the step that produced them.
type FaultKind string

// Fault kinds. Only ConnectionFault ends a session.
const (
	ConnectionFault     FaultKind = "connection"
	IndexOperationFault FaultKind = "index_operation"
	QueryExecutionFault FaultKind = "query_execution"
	PlanAnalysisFault   FaultKind = "plan_analysis"
)

// Sentinels matched by errors.Is against any Fault of the same kind.
var (
	ErrConnection     = &Fault{Kind: ConnectionFault}
	ErrIndexOperation = &Fault{Kind: IndexOperationFault}
	ErrQueryExecution = &Fault{Kind: QueryExecutionFault}
	ErrPlanAnalysis   = &Fault{Kind: PlanAnalysisFault}
)

// Fault is a classified benchmark failure.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

// NewFault wraps err as a fault of the given kind raised by op.
func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Error returns a formatted error string.
func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s fault", f.Kind)
	}

	if f.Op == "" {
		return fmt.Sprintf("%s fault: %v", f.Kind, f.Err)
	}

	return fmt.Sprintf("%s fault during %s: %v", f.Kind, f.Op, f.Err)
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is reports whether target is a Fault of the same kind.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}

	return f.Kind == t.Kind
}

// IsConnectionFault reports whether err is, or wraps, a ConnectionFault.
func IsConnectionFault(err error) bool {
	return errors.Is(err, ErrConnection)
}
