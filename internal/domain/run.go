package domain

import "time"

// Lifecycle status of an optimization run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// CanTransition reports whether moving from s to next is a legal step.
// pending may start running or be cancelled, running may finish either
// way, terminal states never move again.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunSuccess || next == RunFailed
	default:
		return false
	}
}

// One end-to-end optimization attempt for a facility and service date:
// derive tasks, assemble the model, solve, reconstruct the timetable.
// Meta carries free-form audit data (skipped requests, failure reasons,
// raw solver output) persisted as JSON alongside the run row.
type OptimizationRun struct {
	RunID          int64
	FacilityID     int64
	ServiceDate    time.Time
	ScheduledStart time.Time
	Profile        string
	Status         RunStatus
	RequestedBy    string
	Meta           map[string]any
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Metadata keys used in OptimizationRun.Meta.
const (
	MetaDerivation    = "derivation"
	MetaFailureReason = "failure_reason"
	MetaSolverStatus  = "solver_status"
	MetaSolverOutput  = "solver_output"
)

// Outcome of deriving tasks for one request, kept in run metadata so a
// partially skipped batch remains auditable.
type DerivationAudit struct {
	RequestID int64  `json:"request_id"`
	UserName  string `json:"user_name"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}
