package ports

import (
	"context"

	"shuttle-dispatch-service/internal/domain"
)

// Contract for the external routing optimizer.
type Solver interface {
	// Submit a model and wait for the solver's routes. Implementations
	// must honor ctx cancellation and the input's time limit.
	Solve(ctx context.Context, input *domain.OptimizerInput) (*domain.SolverOutput, error)
}
