package ports

import (
	"context"

	"shuttle-dispatch-service/internal/domain"
)

// Port: the node registry, the single source of truth for locations.
type NodeRepository interface {
	// Fetch nodes by id. Unknown ids are absent from the result.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Node, error)
	// Fetch nodes of one kind by display name. Unknown names are
	// absent from the result.
	GetByNames(ctx context.Context, names []string, kind domain.NodeKind) (map[string]domain.Node, error)
	// List every registered node ordered by id.
	ListAll(ctx context.Context) ([]domain.Node, error)
	// Write coordinates and the provider place reference back onto a
	// node after a successful geocode.
	SetCoords(ctx context.Context, nodeID int64, coords domain.Coordinates, placeRef string) error
}
