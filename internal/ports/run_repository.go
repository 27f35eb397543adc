package ports

import (
	"context"
	"time"

	"shuttle-dispatch-service/internal/domain"
)

// Port: storage for optimization runs and their status machine.
type RunRepository interface {
	// Persist a new run in pending state and return it with an id.
	Create(ctx context.Context, run domain.OptimizationRun) (domain.OptimizationRun, error)
	// Fetch one run. Returns domain.ErrRunNotFound for unknown ids.
	Get(ctx context.Context, runID int64) (domain.OptimizationRun, error)
	// Find the newest non-terminal run for a facility and service
	// date, if any.
	FindActiveForDate(ctx context.Context, facilityID int64, date time.Time) (domain.OptimizationRun, bool, error)
	// Atomically move a run from one status to another. Returns false
	// without error when the run is no longer in the from status, so
	// concurrent transitions lose cleanly instead of clobbering.
	Transition(ctx context.Context, runID int64, from, to domain.RunStatus) (bool, error)
	// Merge the patch into the run's metadata JSON.
	MergeMeta(ctx context.Context, runID int64, patch map[string]any) error
}
