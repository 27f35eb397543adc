package ports

import (
	"context"

	"shuttle-dispatch-service/internal/domain"
)

// Port: storage for reconstructed schedule events.
type ResultRepository interface {
	// Replace a run's schedule atomically with the given events.
	ReplaceForRun(ctx context.Context, runID int64, events []domain.ScheduleEvent) error
	// List a run's schedule ordered by vehicle id, then sequence.
	ListForRun(ctx context.Context, runID int64) ([]domain.ScheduleEvent, error)
}
