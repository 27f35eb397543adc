package ports

import (
	"context"

	"shuttle-dispatch-service/internal/domain"
)

// Port: storage for derived routing tasks.
type TaskRepository interface {
	// Remove all tasks previously derived for a run.
	DeleteForRun(ctx context.Context, runID int64) error
	// Store one PICK/DROP pair atomically. Either both rows land or
	// neither does; a half-written pair would poison the model.
	CreatePair(ctx context.Context, pick, drop domain.RoutingTask) (domain.RoutingTask, domain.RoutingTask, error)
	// List a run's tasks ordered by id.
	ListForRun(ctx context.Context, runID int64) ([]domain.RoutingTask, error)
	// Persist recomputed windows and window states.
	UpdateWindows(ctx context.Context, tasks []domain.RoutingTask) error
}
